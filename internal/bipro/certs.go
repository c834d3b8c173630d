package bipro

import (
	"crypto/tls"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/pavlo-v-chernykh/keystore-go/v4"
	"golang.org/x/crypto/pkcs12"
)

// tempFile writes data with owner-only permissions into the system temp
// directory and registers the path for Shutdown cleanup.
func (c *Client) tempFile(prefix string, data []byte) (string, error) {
	f, err := os.CreateTemp("", prefix)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}

	c.mu.Lock()
	c.tempFiles = append(c.tempFiles, path)
	c.mu.Unlock()
	return path, nil
}

// convertPFX turns a PKCS#12 keystore into PEM cert and key temp files.
func (c *Client) convertPFX(path, password string) (certPath, keyPath string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("read pfx: %w", err)
	}
	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil {
		return "", "", fmt.Errorf("decode pfx: %w", err)
	}

	var certPEM, keyPEM []byte
	for _, b := range blocks {
		switch b.Type {
		case "CERTIFICATE":
			certPEM = append(certPEM, pem.EncodeToMemory(b)...)
		default:
			// pkcs12.ToPEM emits keys as "PRIVATE KEY" blocks.
			keyPEM = append(keyPEM, pem.EncodeToMemory(b)...)
		}
	}
	if len(certPEM) == 0 || len(keyPEM) == 0 {
		return "", "", fmt.Errorf("pfx %s contains no usable cert/key pair", path)
	}

	certPath, err = c.tempFile("bipro_cert_", certPEM)
	if err != nil {
		return "", "", err
	}
	keyPath, err = c.tempFile("bipro_key_", keyPEM)
	if err != nil {
		return "", "", err
	}
	return certPath, keyPath, nil
}

// convertJKS turns a Java keystore into PEM cert and key temp files. An
// empty alias selects the first private-key entry; the key password
// defaults to the store password.
func (c *Client) convertJKS(path, storePass, alias, keyPass string) (certPath, keyPath string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("open jks: %w", err)
	}
	defer func() { _ = f.Close() }()

	ks := keystore.New()
	if err := ks.Load(f, []byte(storePass)); err != nil {
		return "", "", fmt.Errorf("load jks: %w", err)
	}

	if alias == "" {
		for _, a := range ks.Aliases() {
			if ks.IsPrivateKeyEntry(a) {
				alias = a
				break
			}
		}
	}
	if alias == "" {
		return "", "", fmt.Errorf("jks %s has no private-key entry", path)
	}
	if keyPass == "" {
		keyPass = storePass
	}

	entry, err := ks.GetPrivateKeyEntry(alias, []byte(keyPass))
	if err != nil {
		return "", "", fmt.Errorf("read jks entry %q: %w", alias, err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: entry.PrivateKey})
	var certPEM []byte
	for _, cert := range entry.CertificateChain {
		certPEM = append(certPEM, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Content})...)
	}
	if len(certPEM) == 0 {
		return "", "", fmt.Errorf("jks entry %q carries no certificate chain", alias)
	}

	certPath, err = c.tempFile("bipro_jks_cert_", certPEM)
	if err != nil {
		return "", "", err
	}
	keyPath, err = c.tempFile("bipro_jks_key_", keyPEM)
	if err != nil {
		return "", "", err
	}
	return certPath, keyPath, nil
}

// clientTLS builds the mutual-TLS configuration from PEM files.
func clientTLS(certPath, keyPath string) (*tls.Config, error) {
	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{pair}}, nil
}

// Shutdown erases every temp file created by keystore conversion. Safe to
// call more than once; deferred by every constructor caller.
func (c *Client) Shutdown() {
	c.mu.Lock()
	files := c.tempFiles
	c.tempFiles = nil
	c.mu.Unlock()
	for _, f := range files {
		_ = os.Remove(f)
	}
}
