// Package rules applies the post-classification housekeeping policies:
// duplicate handling (file and content duplicates) and empty-page actions.
// Failures here are logged, never fatal; a mishandled duplicate must not
// fail the batch.
package rules

import (
	"context"
	"log"
	"os"

	"github.com/acencia/atlas/internal/archive"
	"github.com/acencia/atlas/internal/pdfsvc"
)

// DupAction is a duplicate policy action.
type DupAction string

const (
	DupNone      DupAction = "none"
	DupColorBoth DupAction = "color_both"
	DupColorNew  DupAction = "color_new"
	DupDeleteNew DupAction = "delete_new"
	DupDeleteOld DupAction = "delete_old"
)

// EmptyAction is an empty-page policy action.
type EmptyAction string

const (
	EmptyNone        EmptyAction = "none"
	EmptyDelete      EmptyAction = "delete"
	EmptyColorFile   EmptyAction = "color_file"
	EmptyRemovePages EmptyAction = "remove_pages"
)

// Settings are the rule policies, loaded once per batch from the server.
type Settings struct {
	FileDupAction    DupAction     `json:"file_dup_action"`
	FileDupColor     archive.Color `json:"file_dup_color"`
	ContentDupAction DupAction     `json:"content_dup_action"`
	ContentDupColor  archive.Color `json:"content_dup_color"`

	FullEmptyAction    EmptyAction   `json:"full_empty_action"`
	FullEmptyColor     archive.Color `json:"full_empty_color"`
	PartialEmptyAction EmptyAction   `json:"partial_empty_action"`
	PartialEmptyColor  archive.Color `json:"partial_empty_color"`
}

// DefaultSettings disable every policy; they apply when the rule settings
// API is down, so a degraded backend never deletes or recolors documents.
func DefaultSettings() Settings {
	return Settings{
		FileDupAction:      DupNone,
		ContentDupAction:   DupNone,
		FullEmptyAction:    EmptyNone,
		PartialEmptyAction: EmptyNone,
	}
}

// Repo is the repository slice the processor needs.
type Repo interface {
	Get(ctx context.Context, id int64) (*archive.Document, error)
	Update(ctx context.Context, id int64, patch archive.Patch) (*archive.Document, error)
	SetColor(ctx context.Context, ids []int64, color *archive.Color) (int, error)
	DeleteDocuments(ctx context.Context, ids []int64) (int, error)
	DownloadTo(ctx context.Context, id int64, dir, override string) (string, error)
	ReplaceFile(ctx context.Context, id int64, path string) error
}

// PageRemover deletes empty pages in place; satisfied by pdfsvc.Service
// through a thin adapter in the orchestrator.
type PageRemover interface {
	RemoveEmptyPagesFor(ctx context.Context, docID int64, repo Repo) error
}

// Processor evaluates the policies for one document. Implements the
// engine's PostProcessor.
type Processor struct {
	repo     Repo
	remover  PageRemover
	settings Settings
	logf     func(format string, args ...any)
}

func New(repo Repo, remover PageRemover, settings Settings) *Processor {
	return &Processor{repo: repo, remover: remover, settings: settings, logf: log.Printf}
}

// Apply refetches the document (content-duplicate relations are only set
// after the AI data is persisted) and runs every policy whose condition
// holds. Each policy failure is logged individually.
func (p *Processor) Apply(ctx context.Context, docID int64) {
	doc, err := p.repo.Get(ctx, docID)
	if err != nil {
		p.logf("rules: refetch %d: %v", docID, err)
		return
	}

	if doc.Version > 1 && doc.PreviousVersionID != 0 {
		p.applyDup(ctx, doc, doc.PreviousVersionID, p.settings.FileDupAction, p.settings.FileDupColor)
	}
	for _, otherID := range doc.ContentDuplicates {
		p.applyDup(ctx, doc, otherID, p.settings.ContentDupAction, p.settings.ContentDupColor)
	}
	p.applyEmptyPages(ctx, doc)
}

func (p *Processor) applyDup(ctx context.Context, doc *archive.Document, originalID int64, action DupAction, color archive.Color) {
	var err error
	switch action {
	case DupColorBoth:
		_, err = p.repo.SetColor(ctx, []int64{doc.ID, originalID}, &color)
	case DupColorNew:
		_, err = p.repo.SetColor(ctx, []int64{doc.ID}, &color)
	case DupDeleteNew:
		_, err = p.repo.DeleteDocuments(ctx, []int64{doc.ID})
	case DupDeleteOld:
		_, err = p.repo.DeleteDocuments(ctx, []int64{originalID})
	case DupNone, "":
		return
	}
	if err != nil {
		p.logf("rules: duplicate action %s on %d: %v", action, doc.ID, err)
	}
}

func (p *Processor) applyEmptyPages(ctx context.Context, doc *archive.Document) {
	switch {
	case doc.IsCompletelyEmpty():
		var err error
		switch p.settings.FullEmptyAction {
		case EmptyDelete:
			_, err = p.repo.DeleteDocuments(ctx, []int64{doc.ID})
		case EmptyColorFile:
			color := p.settings.FullEmptyColor
			_, err = p.repo.SetColor(ctx, []int64{doc.ID}, &color)
		case EmptyNone, "":
			return
		}
		if err != nil {
			p.logf("rules: full-empty action on %d: %v", doc.ID, err)
		}

	case doc.HasEmptyPages():
		var err error
		switch p.settings.PartialEmptyAction {
		case EmptyRemovePages:
			if p.remover == nil {
				return
			}
			err = p.remover.RemoveEmptyPagesFor(ctx, doc.ID, p.repo)
		case EmptyColorFile:
			color := p.settings.PartialEmptyColor
			_, err = p.repo.SetColor(ctx, []int64{doc.ID}, &color)
		case EmptyNone, "":
			return
		}
		if err != nil {
			p.logf("rules: partial-empty action on %d: %v", doc.ID, err)
		}
	}
}

// PDFRemover adapts pdfsvc.Service to the PageRemover shape: download,
// strip pages, push the cleaned file back.
type PDFRemover struct {
	PDF        *pdfsvc.Service
	Invalidate pdfsvc.PreviewInvalidator
}

func (r *PDFRemover) RemoveEmptyPagesFor(ctx context.Context, docID int64, repo Repo) error {
	dir, err := os.MkdirTemp("", "atlas_rules_")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(dir) }()

	path, err := repo.DownloadTo(ctx, docID, dir, "")
	if err != nil {
		return err
	}
	return r.PDF.RemoveEmptyPages(ctx, path, docID, repo, r.Invalidate)
}
