// Package probe answers cheap questions about file content: raw-byte
// hashing, magic-byte type detection and the GDV preamble parse.
package probe

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// hashBuf is the read granularity for streaming hashes.
const hashBuf = 64 * 1024

// SHA256File returns the lowercase hex SHA-256 of the file's raw bytes.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	buf := make([]byte, hashBuf)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SHA256Text returns the lowercase hex SHA-256 of a string. Used for the
// extracted-text hash attached to AI data.
func SHA256Text(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
