// Package pdfsvc validates, repairs, unlocks and inspects PDF files. It
// distinguishes "encrypted and no known password fits" from "truly corrupt"
// because the two land in different boxes downstream.
package pdfsvc

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrEncrypted marks a password-protected PDF none of the known passwords
// could open.
var ErrEncrypted = errors.New("pdf is encrypted and no known password fits")

// ErrCorrupt marks a PDF that fails validation and cannot be repaired.
var ErrCorrupt = errors.New("pdf is corrupt")

// Service wraps the PDF toolchain with a shared configuration.
type Service struct {
	conf *model.Configuration
}

// New creates a Service with relaxed validation, matching what carriers
// actually send.
func New() *Service {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Service{conf: conf}
}

// ValidationResult is the outcome of Validate. Path points at the file to
// use afterwards; it differs from the input when a repair pass wrote a
// cleaned copy.
type ValidationResult struct {
	Path      string
	PageCount int
	Repaired  bool
	Unlocked  bool
}

// Validate checks a PDF, unlocking it with the given password list when it
// is encrypted and attempting a repair pass when it is broken. Returns
// ErrEncrypted or ErrCorrupt as typed failures.
func (s *Service) Validate(path string, passwords []string) (ValidationResult, error) {
	res := ValidationResult{Path: path}

	if enc, err := isEncrypted(path); err != nil {
		return res, fmt.Errorf("%w: %v", ErrCorrupt, err)
	} else if enc {
		if err := s.Unlock(path, passwords); err != nil {
			return res, err
		}
		res.Unlocked = true
	}

	if err := api.ValidateFile(path, s.conf); err != nil {
		repaired, rerr := s.repair(path)
		if rerr != nil {
			return res, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		res.Path = repaired
		res.Repaired = true
	}

	n, err := api.PageCountFile(res.Path)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if n == 0 {
		return res, fmt.Errorf("%w: zero pages", ErrCorrupt)
	}
	res.PageCount = n
	return res, nil
}

// Unlock tries every known password and rewrites the file in place with the
// first one that decrypts it. Returns ErrEncrypted when none fits.
func (s *Service) Unlock(path string, passwords []string) error {
	tmp := path + ".unlocked.pdf"
	for _, pw := range passwords {
		conf := model.NewDefaultConfiguration()
		conf.ValidationMode = model.ValidationRelaxed
		conf.UserPW = pw
		conf.OwnerPW = pw
		if err := api.DecryptFile(path, tmp, conf); err != nil {
			_ = os.Remove(tmp)
			continue
		}
		if err := os.Rename(tmp, path); err != nil {
			_ = os.Remove(tmp)
			return fmt.Errorf("replace unlocked file: %w", err)
		}
		return nil
	}
	return ErrEncrypted
}

// repair reads and re-serialises the document to <path>.repaired.pdf and
// returns the repaired path if it opens with at least one page.
func (s *Service) repair(path string) (string, error) {
	repaired := path + ".repaired.pdf"
	if err := api.OptimizeFile(path, repaired, s.conf); err != nil {
		_ = os.Remove(repaired)
		return "", fmt.Errorf("repair pass: %w", err)
	}
	n, err := api.PageCountFile(repaired)
	if err != nil || n == 0 {
		_ = os.Remove(repaired)
		return "", fmt.Errorf("repaired file unusable: %v", err)
	}
	return repaired, nil
}

// ExtractText concatenates the plain text of every page. Returns the full
// text and the number of pages that produced any.
func (s *Service) ExtractText(path string) (string, int, error) {
	texts, err := pageTexts(path)
	if err != nil {
		return "", 0, err
	}
	var sb strings.Builder
	withText := 0
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			withText++
		}
		sb.WriteString(t)
		sb.WriteString("\n")
	}
	return sb.String(), withText, nil
}

// pageTexts returns the extracted text per page, 0-indexed.
func pageTexts(path string) ([]string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open for text extraction: %w", err)
	}
	defer func() { _ = f.Close() }()

	total := r.NumPage()
	texts := make([]string, total)
	for i := 1; i <= total; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		// Individual page failures degrade to an empty page rather than
		// failing the whole document.
		if t, err := p.GetPlainText(nil); err == nil {
			texts[i-1] = t
		}
	}
	return texts, nil
}

// isEncrypted checks the trailer for an /Encrypt entry. This is a byte-level
// probe on purpose: an encrypted file cannot be parsed to find out that it
// is encrypted.
func isEncrypted(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	return bytes.Contains(data, []byte("/Encrypt")), nil
}
