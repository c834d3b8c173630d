package probe

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// ContentType is the result of the magic-byte probe.
type ContentType string

const (
	TypePDF     ContentType = "pdf"
	TypeXML     ContentType = "xml"
	TypeGDV     ContentType = "gdv"
	TypeUnknown ContentType = ""
)

// probeWindow is how many leading bytes the probe inspects.
const probeWindow = 256

// DetectType classifies the first bytes of a file. Order matters: PDF wins
// over everything, XML over GDV, GDV only after text decoding succeeds.
func DetectType(head []byte) ContentType {
	if len(head) > probeWindow {
		head = head[:probeWindow]
	}
	if bytes.HasPrefix(head, []byte("%PDF")) {
		return TypePDF
	}

	trimmed := bytes.TrimLeft(head, " \t\r\n")
	if bytes.HasPrefix(trimmed, []byte("<?xml")) {
		return TypeXML
	}
	if len(trimmed) > 0 && trimmed[0] == '<' && bytes.ContainsRune(trimmed, '>') {
		return TypeXML
	}

	if line := firstLine(decodeLegacy(head)); strings.HasPrefix(line, "0001") {
		return TypeGDV
	}
	return TypeUnknown
}

// DetectFileType probes a file on disk.
func DetectFileType(path string) (ContentType, error) {
	f, err := os.Open(path)
	if err != nil {
		return TypeUnknown, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, probeWindow)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return TypeUnknown, fmt.Errorf("read %s: %w", path, err)
	}
	return DetectType(head[:n]), nil
}

// decodeLegacy decodes bytes as cp1252, falling back to latin-1 and then
// raw utf-8. GDV files are cp1252 by convention but the carriers are not
// consistent about it.
func decodeLegacy(b []byte) string {
	if s, err := charmap.Windows1252.NewDecoder().String(string(b)); err == nil && !strings.ContainsRune(s, utf8.RuneError) {
		return s
	}
	if s, err := charmap.ISO8859_1.NewDecoder().String(string(b)); err == nil {
		return s
	}
	return string(b)
}

func firstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}
