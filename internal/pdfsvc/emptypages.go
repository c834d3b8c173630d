package pdfsvc

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/acencia/atlas/internal/archive"
)

// emptyPageTextThreshold is the minimum number of non-whitespace characters
// for a page to count as non-empty.
const emptyPageTextThreshold = 10

// DetectEmptyPages returns the 0-based indices of empty pages and the total
// page count. Pure inspection, no side effects.
func (s *Service) DetectEmptyPages(path string) ([]int, int, error) {
	texts, err := pageTexts(path)
	if err != nil {
		return nil, 0, err
	}
	return partitionEmpty(texts), len(texts), nil
}

// partitionEmpty applies the text-length heuristic per page.
func partitionEmpty(texts []string) []int {
	var empty []int
	for i, t := range texts {
		compact := strings.Join(strings.Fields(t), "")
		if len(compact) < emptyPageTextThreshold {
			empty = append(empty, i)
		}
	}
	return empty
}

// DocumentFiles is the slice of the repository RemoveEmptyPages needs.
type DocumentFiles interface {
	ReplaceFile(ctx context.Context, id int64, path string) error
	Update(ctx context.Context, id int64, patch archive.Patch) (*archive.Document, error)
}

// PreviewInvalidator drops any cached preview for a document.
type PreviewInvalidator func(id int64)

// RemoveEmptyPages deletes the empty pages of a partially-empty document,
// replaces the server-side file and resets the page counters. A fully-empty
// or fully-filled document is left untouched.
func (s *Service) RemoveEmptyPages(ctx context.Context, path string, docID int64, repo DocumentFiles, invalidate PreviewInvalidator) error {
	empty, total, err := s.DetectEmptyPages(path)
	if err != nil {
		return fmt.Errorf("detect empty pages: %w", err)
	}
	if len(empty) == 0 || len(empty) == total {
		return nil
	}

	cleaned := path + ".cleaned.pdf"
	if err := api.RemovePagesFile(path, cleaned, pageSelection(empty), s.conf); err != nil {
		return fmt.Errorf("remove pages: %w", err)
	}
	if err := repo.ReplaceFile(ctx, docID, cleaned); err != nil {
		return fmt.Errorf("replace server file: %w", err)
	}
	remaining := total - len(empty)
	_, err = repo.Update(ctx, docID, archive.Patch{
		EmptyPageCount: archive.Ptr(0),
		TotalPageCount: archive.Ptr(remaining),
	})
	if err != nil {
		return fmt.Errorf("update page counters: %w", err)
	}
	if invalidate != nil {
		invalidate(docID)
	}
	return nil
}

// pageSelection converts 0-based indices into pdfcpu's 1-based selection.
func pageSelection(indices []int) []string {
	sel := make([]string, len(indices))
	for i, idx := range indices {
		sel[i] = strconv.Itoa(idx + 1)
	}
	return sel
}
