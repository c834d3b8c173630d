// Package container turns user-supplied paths into flat upload jobs:
// ZIP and MSG containers are unpacked recursively, images become single-page
// PDFs, and raw containers are preserved for the roh box.
package container

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/acencia/atlas/internal/archive"
)

// Job is one pending upload produced by expansion.
type Job struct {
	Path      string
	Name      string
	Placement archive.BoxType // eingang or roh
}

// UnlockFunc decrypts a password-protected PDF in place.
type UnlockFunc func(path string, passwords []string) error

// Expander unpacks containers into upload jobs. Temp directories created
// along the way are tracked and removed by Cleanup once the batch uploads
// finish, success or failure.
type Expander struct {
	unlock       UnlockFunc
	pdfPasswords []string
	convertImage func(src, dst string) error

	mu       sync.Mutex
	tempDirs []string
	seen     map[string]int
}

// NewExpander creates an expander. unlock may be nil when no password list
// is available; encrypted PDFs then pass through untouched.
func NewExpander(unlock UnlockFunc, pdfPasswords []string) *Expander {
	return &Expander{
		unlock:       unlock,
		pdfPasswords: pdfPasswords,
		convertImage: imageToPDF,
		seen:         make(map[string]int),
	}
}

// imageExts are converted to single-page PDFs.
var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".tif": true, ".tiff": true, ".bmp": true,
}

// Expand flattens the given paths into upload jobs.
func (e *Expander) Expand(paths []string) ([]Job, error) {
	var jobs []Job
	for _, p := range paths {
		expanded, err := e.expandOne(p)
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, expanded...)
	}
	return jobs, nil
}

func (e *Expander) expandOne(path string) ([]Job, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		return e.expandZip(path)
	case ".msg":
		return e.expandMsg(path)
	default:
		if imageExts[strings.ToLower(filepath.Ext(path))] {
			return e.expandImage(path)
		}
		return []Job{{Path: path, Name: e.uniqueName(filepath.Base(path)), Placement: archive.BoxEingang}}, nil
	}
}

// expandZip queues the archive itself as roh and recurses into its entries.
// Encrypted PDF entries are unlocked before queueing.
func (e *Expander) expandZip(path string) ([]Job, error) {
	jobs := []Job{{Path: path, Name: e.uniqueName(filepath.Base(path)), Placement: archive.BoxRoh}}

	r, err := zip.OpenReader(path)
	if err != nil {
		return jobs, fmt.Errorf("open zip %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = r.Close() }()

	dir, err := e.tempDir()
	if err != nil {
		return jobs, err
	}
	// Entries from different folders may share a base name; the flattened
	// extraction targets get suffixes so no entry overwrites another.
	used := map[string]int{}
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		base := filepath.Base(f.Name)
		used[base]++
		if n := used[base]; n > 1 {
			ext := filepath.Ext(base)
			base = fmt.Sprintf("%s_%d%s", strings.TrimSuffix(base, ext), n, ext)
		}
		target := filepath.Join(dir, base)
		if err := extractZipEntry(f, target); err != nil {
			return jobs, fmt.Errorf("extract %s: %w", f.Name, err)
		}
		if e.unlock != nil && strings.EqualFold(filepath.Ext(target), ".pdf") {
			// Best effort; an entry that stays locked is classified later.
			_ = e.unlock(target, e.pdfPasswords)
		}
		sub, err := e.expandOne(target)
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, sub...)
	}
	return jobs, nil
}

func extractZipEntry(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// expandImage converts the image to a one-page PDF queued for eingang and
// keeps the original as roh.
func (e *Expander) expandImage(path string) ([]Job, error) {
	dir, err := e.tempDir()
	if err != nil {
		return nil, err
	}
	base := filepath.Base(path)
	pdfName := strings.TrimSuffix(base, filepath.Ext(base)) + ".pdf"
	pdfPath := filepath.Join(dir, pdfName)
	if err := e.convertImage(path, pdfPath); err != nil {
		return nil, fmt.Errorf("convert image %s: %w", base, err)
	}
	return []Job{
		{Path: pdfPath, Name: e.uniqueName(pdfName), Placement: archive.BoxEingang},
		{Path: path, Name: e.uniqueName(base), Placement: archive.BoxRoh},
	}, nil
}

func imageToPDF(src, dst string) error {
	return api.ImportImagesFile([]string{src}, dst, nil, nil)
}

// uniqueName deduplicates filenames within one expansion pass by suffixing
// _1, _2, ... before the extension.
func (e *Expander) uniqueName(name string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := strings.ToLower(name)
	n := e.seen[key]
	e.seen[key] = n + 1
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n, ext)
}

func (e *Expander) tempDir() (string, error) {
	dir := filepath.Join(os.TempDir(), "atlas_expand_"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	e.mu.Lock()
	e.tempDirs = append(e.tempDirs, dir)
	e.mu.Unlock()
	return dir, nil
}

// Cleanup removes every temp directory created during expansion.
func (e *Expander) Cleanup() {
	e.mu.Lock()
	dirs := e.tempDirs
	e.tempDirs = nil
	e.mu.Unlock()
	for _, d := range dirs {
		_ = os.RemoveAll(d)
	}
}
