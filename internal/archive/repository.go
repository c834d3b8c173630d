package archive

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/acencia/atlas/internal/httpcore"
)

// Repository exposes typed document operations over the HTTP core.
type Repository struct {
	c *httpcore.Client
}

// NewRepository wraps an authenticated HTTP client.
func NewRepository(c *httpcore.Client) *Repository {
	return &Repository{c: c}
}

// Filter narrows List results. Zero values mean "not filtered".
type Filter struct {
	BoxType          BoxType
	IsArchived       *bool
	Source           SourceType
	VUID             int64
	IsGDV            *bool
	FromDate         string
	ToDate           string
	ProcessingStatus ProcessingStatus
}

func (f Filter) values() url.Values {
	q := url.Values{}
	if f.BoxType != "" {
		q.Set("box_type", string(f.BoxType))
	}
	if f.IsArchived != nil {
		q.Set("is_archived", strconv.FormatBool(*f.IsArchived))
	}
	if f.Source != "" {
		q.Set("source", string(f.Source))
	}
	if f.VUID != 0 {
		q.Set("vu_id", strconv.FormatInt(f.VUID, 10))
	}
	if f.IsGDV != nil {
		q.Set("is_gdv", strconv.FormatBool(*f.IsGDV))
	}
	if f.FromDate != "" {
		q.Set("from_date", f.FromDate)
	}
	if f.ToDate != "" {
		q.Set("to_date", f.ToDate)
	}
	if f.ProcessingStatus != "" {
		q.Set("processing_status", string(f.ProcessingStatus))
	}
	return q
}

// List returns documents matching the filter.
func (r *Repository) List(ctx context.Context, f Filter) ([]Document, error) {
	var docs []Document
	if err := r.c.Get(ctx, "/documents", f.values(), &docs); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// Get fetches a single document by id.
func (r *Repository) Get(ctx context.Context, id int64) (*Document, error) {
	var doc Document
	if err := r.c.Get(ctx, fmt.Sprintf("/documents/%d", id), nil, &doc); err != nil {
		return nil, fmt.Errorf("get document %d: %w", id, err)
	}
	return &doc, nil
}

// Search runs a server-side text search constrained by the filter.
func (r *Repository) Search(ctx context.Context, query string, f Filter) ([]Document, error) {
	q := f.values()
	q.Set("search", query)
	var docs []Document
	if err := r.c.Get(ctx, "/documents", q, &docs); err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	return docs, nil
}

// Stats returns per-box counts.
func (r *Repository) Stats(ctx context.Context) (*BoxStats, error) {
	var stats BoxStats
	if err := r.c.Get(ctx, "/documents/stats", nil, &stats); err != nil {
		return nil, fmt.Errorf("document stats: %w", err)
	}
	return &stats, nil
}

// History returns the audit trail for a document.
func (r *Repository) History(ctx context.Context, id int64) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	if err := r.c.Get(ctx, fmt.Sprintf("/documents/%d/history", id), nil, &entries); err != nil {
		return nil, fmt.Errorf("document history %d: %w", id, err)
	}
	return entries, nil
}

// AddHistory appends an audit entry for a document. Used for pipeline state
// transitions and batch bookkeeping rows.
func (r *Repository) AddHistory(ctx context.Context, id int64, action, detail string, payload map[string]any) (int64, error) {
	in := map[string]any{"action": action, "detail": detail}
	if payload != nil {
		in["payload"] = payload
	}
	var out struct {
		ID int64 `json:"id"`
	}
	if err := r.c.PostJSONIdem(ctx, fmt.Sprintf("/documents/%d/history", id), in, &out); err != nil {
		return 0, fmt.Errorf("add history for %d: %w", id, err)
	}
	return out.ID, nil
}

// AddBatchHistory appends a batch-level audit entry not tied to one
// document (batch_complete, batch_cost_update).
func (r *Repository) AddBatchHistory(ctx context.Context, action string, payload map[string]any) (int64, error) {
	in := map[string]any{"action": action, "payload": payload}
	var out struct {
		ID int64 `json:"id"`
	}
	if err := r.c.PostJSONIdem(ctx, "/history", in, &out); err != nil {
		return 0, fmt.Errorf("add batch history: %w", err)
	}
	return out.ID, nil
}

// UploadOptions carries the metadata fields of a multipart upload.
type UploadOptions struct {
	SourceType         SourceType
	BoxType            BoxType
	VUName             string
	ShipmentID         int64
	ExternalShipmentID string
	BiproDocumentID    string
	BiproCategory      string
	OriginalFilename   string
}

func (o UploadOptions) fields() map[string]string {
	fields := map[string]string{
		"source_type": string(o.SourceType),
		"box_type":    string(o.BoxType),
	}
	if o.VUName != "" {
		fields["vu_name"] = o.VUName
	}
	if o.ShipmentID != 0 {
		fields["shipment_id"] = strconv.FormatInt(o.ShipmentID, 10)
	}
	if o.ExternalShipmentID != "" {
		fields["external_shipment_id"] = o.ExternalShipmentID
	}
	if o.BiproDocumentID != "" {
		fields["bipro_document_id"] = o.BiproDocumentID
	}
	if o.BiproCategory != "" {
		fields["bipro_category"] = o.BiproCategory
	}
	if o.OriginalFilename != "" {
		fields["original_filename"] = o.OriginalFilename
	}
	return fields
}

// Upload sends a file and returns the server's view of the new document,
// including duplicate detection results (is_duplicate, version,
// previous_version_id, content_hash).
func (r *Repository) Upload(ctx context.Context, path string, opts UploadOptions) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read upload file: %w", err)
	}
	name := opts.OriginalFilename
	if name == "" {
		name = filepath.Base(path)
	}
	var doc Document
	if err := r.c.Upload(ctx, "/documents", "file", name, data, opts.fields(), &doc); err != nil {
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}
	return &doc, nil
}

// ReplaceFile swaps a document's bytes while keeping its metadata.
func (r *Repository) ReplaceFile(ctx context.Context, id int64, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read replacement file: %w", err)
	}
	if err := r.c.Upload(ctx, fmt.Sprintf("/documents/%d/replace", id), "file", filepath.Base(path), data, nil, nil); err != nil {
		return fmt.Errorf("replace file of %d: %w", id, err)
	}
	return nil
}

// DownloadTo fetches a document's bytes into dir. The filename comes from
// the override, else the document's display name, else the stored name.
// Collisions get _1, _2, ... suffixes. Returns the final path.
func (r *Repository) DownloadTo(ctx context.Context, id int64, dir, override string) (string, error) {
	name := override
	if name == "" {
		doc, err := r.Get(ctx, id)
		if err != nil {
			return "", err
		}
		name = doc.OriginalFilename
		if name == "" {
			name = doc.Filename
		}
		if name == "" {
			name = fmt.Sprintf("document_%d", id)
		}
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create target dir: %w", err)
	}
	target := uniquePath(dir, name)
	if err := r.c.Download(ctx, fmt.Sprintf("/documents/%d/download", id), target); err != nil {
		return "", fmt.Errorf("download document %d: %w", id, err)
	}
	if _, err := os.Stat(target); err != nil {
		return "", fmt.Errorf("downloaded file missing: %w", err)
	}
	return target, nil
}

// uniquePath returns dir/name, suffixing _1, _2, ... before the extension
// until the path is free.
func uniquePath(dir, name string) string {
	target := filepath.Join(dir, name)
	if _, err := os.Stat(target); os.IsNotExist(err) {
		return target
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		target = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
		if _, err := os.Stat(target); os.IsNotExist(err) {
			return target
		}
	}
}

// Patch is a partial document update. Nil fields are omitted from the
// request, so false and empty-string values can still be sent explicitly.
type Patch struct {
	OriginalFilename         *string               `json:"original_filename,omitempty"`
	BoxType                  *BoxType              `json:"box_type,omitempty"`
	ProcessingStatus         *ProcessingStatus     `json:"processing_status,omitempty"`
	AIRenamed                *bool                 `json:"ai_renamed,omitempty"`
	AIProcessingError        *string               `json:"ai_processing_error,omitempty"`
	DocumentCategory         *string               `json:"document_category,omitempty"`
	ValidationStatus         *ValidationStatus     `json:"validation_status,omitempty"`
	ClassificationSource     *ClassificationSource `json:"classification_source,omitempty"`
	ClassificationConfidence *Confidence           `json:"classification_confidence,omitempty"`
	ClassificationReason     *string               `json:"classification_reason,omitempty"`
	ClassificationTimestamp  *string               `json:"classification_timestamp,omitempty"`
	ContentHash              *string               `json:"content_hash,omitempty"`
	BiproDocumentID          *string               `json:"bipro_document_id,omitempty"`
	SourceXMLIndexID         *int64                `json:"source_xml_index_id,omitempty"`
	IsArchived               *bool                 `json:"is_archived,omitempty"`
	DisplayColor             *Color                `json:"display_color,omitempty"`
	EmptyPageCount           *int                  `json:"empty_page_count,omitempty"`
	TotalPageCount           *int                  `json:"total_page_count,omitempty"`
}

// Ptr is a small helper for building patches.
func Ptr[T any](v T) *T { return &v }

// Update applies a partial patch and returns the updated document.
func (r *Repository) Update(ctx context.Context, id int64, patch Patch) (*Document, error) {
	var doc Document
	if err := r.c.Put(ctx, fmt.Sprintf("/documents/%d", id), patch, &doc); err != nil {
		return nil, fmt.Errorf("update document %d: %w", id, err)
	}
	return &doc, nil
}

// AIData is the per-document extraction/classification payload upserted
// after the engine finishes.
type AIData struct {
	ExtractedText      string `json:"extracted_text,omitempty"`
	TextSHA256         string `json:"text_sha256,omitempty"`
	ExtractionMethod   string `json:"extraction_method,omitempty"`
	ExtractedPageCount int    `json:"extracted_page_count,omitempty"`
	AIFullResponse     string `json:"ai_full_response,omitempty"`
	AIPromptText       string `json:"ai_prompt_text,omitempty"`
	AIModel            string `json:"ai_model,omitempty"`
	AIPromptVersion    string `json:"ai_prompt_version,omitempty"`
	AIStage            int    `json:"ai_stage,omitempty"`
	TextChars          int    `json:"text_chars,omitempty"`
	PromptChars        int    `json:"prompt_chars,omitempty"`
	PromptTokens       int    `json:"prompt_tokens,omitempty"`
	CompletionTokens   int    `json:"completion_tokens,omitempty"`
	TotalTokens        int    `json:"total_tokens,omitempty"`
}

// SaveAIData upserts the AI extraction record for a document.
func (r *Repository) SaveAIData(ctx context.Context, id int64, data AIData) error {
	if err := r.c.PostJSONIdem(ctx, fmt.Sprintf("/documents/%d/ai-data", id), data, nil); err != nil {
		return fmt.Errorf("save ai data for %d: %w", id, err)
	}
	return nil
}

// PDFPasswords fetches the known unlock passwords of the given type
// ("pdf" or "zip").
func (r *Repository) Passwords(ctx context.Context, kind string) ([]string, error) {
	q := url.Values{}
	q.Set("type", kind)
	var pws []string
	if err := r.c.Get(ctx, "/passwords", q, &pws); err != nil {
		return nil, fmt.Errorf("list %s passwords: %w", kind, err)
	}
	return pws, nil
}
