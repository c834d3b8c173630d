package archive

import (
	"context"
	"fmt"
	"net/http"

	"github.com/acencia/atlas/internal/httpcore"
)

// bulkFallback reports whether the bulk endpoint is missing on this server
// version, in which case the operation degrades to per-item calls.
func bulkFallback(err error) bool {
	return httpcore.IsStatus(err, http.StatusNotFound) || httpcore.IsStatus(err, http.StatusMethodNotAllowed)
}

// Move relocates documents to a target box in one request; the optional
// status is applied alongside. Returns the number of documents moved.
func (r *Repository) Move(ctx context.Context, ids []int64, box BoxType, status ProcessingStatus) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	in := map[string]any{"ids": ids, "target_box": box}
	if status != "" {
		in["processing_status"] = status
	}
	err := r.c.PostJSONIdem(ctx, "/documents/move", in, nil)
	if err == nil {
		return len(ids), nil
	}
	if !bulkFallback(err) {
		return 0, fmt.Errorf("bulk move: %w", err)
	}

	patch := Patch{BoxType: Ptr(box)}
	if status != "" {
		patch.ProcessingStatus = Ptr(status)
	}
	return r.perItem(ctx, ids, func(ctx context.Context, id int64) error {
		_, err := r.Update(ctx, id, patch)
		return err
	}), nil
}

// DeleteDocuments removes documents in one request, falling back to
// per-item deletes. Returns the number deleted.
func (r *Repository) DeleteDocuments(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	err := r.c.PostJSONIdem(ctx, "/documents/delete", map[string]any{"ids": ids}, nil)
	if err == nil {
		return len(ids), nil
	}
	if !bulkFallback(err) {
		return 0, fmt.Errorf("bulk delete: %w", err)
	}
	return r.perItem(ctx, ids, func(ctx context.Context, id int64) error {
		return r.c.Delete(ctx, fmt.Sprintf("/documents/%d", id), nil)
	}), nil
}

// Archive marks documents archived. Only target boxes accept this.
func (r *Repository) Archive(ctx context.Context, ids []int64) (int, error) {
	return r.bulkFlag(ctx, ids, "/documents/archive", true)
}

// Unarchive clears the archived flag.
func (r *Repository) Unarchive(ctx context.Context, ids []int64) (int, error) {
	return r.bulkFlag(ctx, ids, "/documents/unarchive", false)
}

func (r *Repository) bulkFlag(ctx context.Context, ids []int64, path string, archived bool) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	err := r.c.PostJSONIdem(ctx, path, map[string]any{"ids": ids}, nil)
	if err == nil {
		return len(ids), nil
	}
	if !bulkFallback(err) {
		return 0, fmt.Errorf("bulk %s: %w", path, err)
	}
	return r.perItem(ctx, ids, func(ctx context.Context, id int64) error {
		_, err := r.Update(ctx, id, Patch{IsArchived: Ptr(archived)})
		return err
	}), nil
}

// SetColor applies a display color to documents; a nil color clears it.
func (r *Repository) SetColor(ctx context.Context, ids []int64, color *Color) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	in := map[string]any{"ids": ids, "color": color}
	err := r.c.PostJSONIdem(ctx, "/documents/colors", in, nil)
	if err == nil {
		return len(ids), nil
	}
	if !bulkFallback(err) {
		return 0, fmt.Errorf("bulk set color: %w", err)
	}
	patch := Patch{DisplayColor: Ptr(Color(""))}
	if color != nil {
		patch.DisplayColor = Ptr(*color)
	}
	return r.perItem(ctx, ids, func(ctx context.Context, id int64) error {
		_, err := r.Update(ctx, id, patch)
		return err
	}), nil
}

// perItem applies op to every id and counts successes. Individual failures
// are skipped; the caller only learns the total.
func (r *Repository) perItem(ctx context.Context, ids []int64, op func(context.Context, int64) error) int {
	ok := 0
	for _, id := range ids {
		if err := op(ctx, id); err == nil {
			ok++
		}
	}
	return ok
}
