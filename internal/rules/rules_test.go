package rules

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/acencia/atlas/internal/archive"
)

type fakeRepo struct {
	mu      sync.Mutex
	docs    map[int64]*archive.Document
	colors  map[int64]archive.Color
	deleted map[int64]bool
}

func newFakeRepo(docs ...*archive.Document) *fakeRepo {
	r := &fakeRepo{
		docs:    map[int64]*archive.Document{},
		colors:  map[int64]archive.Color{},
		deleted: map[int64]bool{},
	}
	for _, d := range docs {
		r.docs[d.ID] = d
	}
	return r
}

func (r *fakeRepo) Get(ctx context.Context, id int64) (*archive.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %d not found", id)
	}
	copied := *d
	return &copied, nil
}

func (r *fakeRepo) Update(ctx context.Context, id int64, p archive.Patch) (*archive.Document, error) {
	return r.Get(ctx, id)
}

func (r *fakeRepo) SetColor(ctx context.Context, ids []int64, color *archive.Color) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if color == nil {
			delete(r.colors, id)
		} else {
			r.colors[id] = *color
		}
	}
	return len(ids), nil
}

func (r *fakeRepo) DeleteDocuments(ctx context.Context, ids []int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.deleted[id] = true
		delete(r.docs, id)
	}
	return len(ids), nil
}

func (r *fakeRepo) DownloadTo(ctx context.Context, id int64, dir, override string) (string, error) {
	return "", fmt.Errorf("not used")
}

func (r *fakeRepo) ReplaceFile(ctx context.Context, id int64, path string) error {
	return nil
}

func TestContentDupColorBothColorsBothDocuments(t *testing.T) {
	repo := newFakeRepo(
		&archive.Document{ID: 1, ContentDuplicates: []int64{2}},
		&archive.Document{ID: 2},
	)
	p := New(repo, nil, Settings{
		ContentDupAction: DupColorBoth,
		ContentDupColor:  archive.ColorBlue,
		FileDupAction:    DupNone,
	})

	p.Apply(context.Background(), 1)

	if repo.colors[1] != archive.ColorBlue || repo.colors[2] != archive.ColorBlue {
		t.Fatalf("colors = %v", repo.colors)
	}
}

func TestFileDupPolicyOrthogonalToContentDup(t *testing.T) {
	// file_dup_action = none must leave the version chain untouched even
	// while the content-dup policy fires.
	repo := newFakeRepo(
		&archive.Document{ID: 3, Version: 2, PreviousVersionID: 1, ContentDuplicates: []int64{2}},
		&archive.Document{ID: 1},
		&archive.Document{ID: 2},
	)
	p := New(repo, nil, Settings{
		FileDupAction:    DupNone,
		ContentDupAction: DupColorNew,
		ContentDupColor:  archive.ColorRed,
	})

	p.Apply(context.Background(), 3)

	if repo.colors[3] != archive.ColorRed {
		t.Fatal("content-dup color not applied to the new document")
	}
	if _, ok := repo.colors[1]; ok {
		t.Fatal("file-dup original must stay untouched under action none")
	}
	if repo.deleted[1] || repo.deleted[3] {
		t.Fatal("nothing may be deleted under these policies")
	}
}

func TestFileDupDeleteNew(t *testing.T) {
	repo := newFakeRepo(
		&archive.Document{ID: 5, Version: 2, PreviousVersionID: 4},
		&archive.Document{ID: 4},
	)
	p := New(repo, nil, Settings{FileDupAction: DupDeleteNew})

	p.Apply(context.Background(), 5)

	if !repo.deleted[5] || repo.deleted[4] {
		t.Fatalf("deleted = %v", repo.deleted)
	}
}

func TestFileDupDeleteOld(t *testing.T) {
	repo := newFakeRepo(
		&archive.Document{ID: 5, Version: 2, PreviousVersionID: 4},
		&archive.Document{ID: 4},
	)
	p := New(repo, nil, Settings{FileDupAction: DupDeleteOld})

	p.Apply(context.Background(), 5)

	if !repo.deleted[4] || repo.deleted[5] {
		t.Fatalf("deleted = %v", repo.deleted)
	}
}

func TestFullEmptyDelete(t *testing.T) {
	repo := newFakeRepo(&archive.Document{ID: 6, EmptyPageCount: 3, TotalPageCount: 3})
	p := New(repo, nil, Settings{FullEmptyAction: EmptyDelete})

	p.Apply(context.Background(), 6)

	if !repo.deleted[6] {
		t.Fatal("fully-empty document not deleted")
	}
}

func TestPartialEmptyColor(t *testing.T) {
	repo := newFakeRepo(&archive.Document{ID: 7, EmptyPageCount: 1, TotalPageCount: 3})
	p := New(repo, nil, Settings{
		PartialEmptyAction: EmptyColorFile,
		PartialEmptyColor:  archive.ColorOrange,
		FullEmptyAction:    EmptyDelete,
	})

	p.Apply(context.Background(), 7)

	if repo.colors[7] != archive.ColorOrange {
		t.Fatalf("colors = %v", repo.colors)
	}
	if repo.deleted[7] {
		t.Fatal("partially-empty document must not trip the full-empty policy")
	}
}

func TestMissingDocumentIsNotFatal(t *testing.T) {
	repo := newFakeRepo()
	p := New(repo, nil, Settings{FileDupAction: DupDeleteNew})
	// Must log and return, never panic.
	p.Apply(context.Background(), 99)
}

func TestVersionOneIsNoDuplicate(t *testing.T) {
	repo := newFakeRepo(&archive.Document{ID: 8, Version: 1})
	p := New(repo, nil, Settings{FileDupAction: DupDeleteNew})

	p.Apply(context.Background(), 8)

	if repo.deleted[8] {
		t.Fatal("version 1 must never be treated as a duplicate")
	}
}
