// Package archive is the typed document API over the backend REST service:
// the Document model, list/search/stats, uploads and downloads, bulk
// mutations and the AI-data upsert.
package archive

import (
	"path/filepath"
	"strings"
)

// BoxType names a server-side document bucket.
type BoxType string

const (
	BoxEingang      BoxType = "eingang"
	BoxVerarbeitung BoxType = "verarbeitung"
	BoxGDV          BoxType = "gdv"
	BoxCourtage     BoxType = "courtage"
	BoxSach         BoxType = "sach"
	BoxLeben        BoxType = "leben"
	BoxKranken      BoxType = "kranken"
	BoxSonstige     BoxType = "sonstige"
	BoxRoh          BoxType = "roh"
	BoxFalsch       BoxType = "falsch"
)

// TargetBoxes are the boxes a classified document may be archived into.
var TargetBoxes = []BoxType{BoxGDV, BoxCourtage, BoxSach, BoxLeben, BoxKranken, BoxSonstige}

// Archivable reports whether documents in this box may carry is_archived.
func (b BoxType) Archivable() bool {
	for _, t := range TargetBoxes {
		if b == t {
			return true
		}
	}
	return false
}

// ProcessingStatus is the per-document state machine position.
type ProcessingStatus string

const (
	StatusPending        ProcessingStatus = "pending"
	StatusProcessing     ProcessingStatus = "processing"
	StatusClassified     ProcessingStatus = "classified"
	StatusRenamed        ProcessingStatus = "renamed"
	StatusArchived       ProcessingStatus = "archived"
	StatusCompleted      ProcessingStatus = "completed"
	StatusError          ProcessingStatus = "error"
	StatusManualExcluded ProcessingStatus = "manual_excluded"
)

// SourceType records how a document entered the system.
type SourceType string

const (
	SourceBiproAuto    SourceType = "bipro_auto"
	SourceManualUpload SourceType = "manual_upload"
	SourceSelfCreated  SourceType = "self_created"
	SourceScan         SourceType = "scan"
)

// ClassificationSource is the audit tag naming which rule decided a document.
type ClassificationSource string

const (
	SrcCacheDedup        ClassificationSource = "cache_dedup"
	SrcRulePattern       ClassificationSource = "rule_pattern"
	SrcRuleBipro         ClassificationSource = "rule_bipro"
	SrcRuleExtension     ClassificationSource = "rule_extension"
	SrcRuleValidation    ClassificationSource = "rule_validation"
	SrcRuleFilename      ClassificationSource = "rule_filename"
	SrcRuleFilenameKI    ClassificationSource = "rule_filename_ki"
	SrcKICourtageMinimal ClassificationSource = "ki_courtage_minimal"
	SrcKIMini            ClassificationSource = "ki_gpt4o_mini"
	SrcKITwoStage        ClassificationSource = "ki_gpt4o_zweistufig"
	SrcKISpreadsheet     ClassificationSource = "ki_spreadsheet"
	SrcFallback          ClassificationSource = "fallback"
)

// Confidence grades a classification.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Color is a user-visible document mark.
type Color string

const (
	ColorGreen  Color = "green"
	ColorRed    Color = "red"
	ColorBlue   Color = "blue"
	ColorOrange Color = "orange"
	ColorPurple Color = "purple"
	ColorPink   Color = "pink"
	ColorCyan   Color = "cyan"
	ColorYellow Color = "yellow"
)

// ValidationStatus describes the outcome of the PDF probe.
type ValidationStatus string

const (
	ValidationOK        ValidationStatus = "OK"
	ValidationCorrupt   ValidationStatus = "PDF_CORRUPT"
	ValidationEncrypted ValidationStatus = "PDF_ENCRYPTED"
)

// Document is the unit of work. The server's JSON is lax: absent keys decode
// to zero values and unknown keys are ignored, both deliberate.
type Document struct {
	ID               int64  `json:"id"`
	Filename         string `json:"filename"`
	OriginalFilename string `json:"original_filename"`
	MimeType         string `json:"mime_type"`
	FileSize         int64  `json:"file_size"`

	SourceType         SourceType `json:"source_type"`
	VUName             string     `json:"vu_name"`
	ShipmentID         int64      `json:"shipment_id"`
	ExternalShipmentID string     `json:"external_shipment_id"`
	SourceXMLIndexID   int64      `json:"source_xml_index_id"`
	BiproDocumentID    string     `json:"bipro_document_id"`

	BoxType    BoxType `json:"box_type"`
	IsArchived bool    `json:"is_archived"`

	ProcessingStatus ProcessingStatus `json:"processing_status"`

	IsGDV            bool             `json:"is_gdv"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	BiproCategory    string           `json:"bipro_category"`
	DocumentCategory string           `json:"document_category"`

	ContentHash       string  `json:"content_hash"`
	Version           int     `json:"version"`
	PreviousVersionID int64   `json:"previous_version_id"`
	ContentDuplicates []int64 `json:"content_duplicate_ids"`
	IsDuplicate       bool    `json:"is_duplicate"`

	EmptyPageCount int `json:"empty_page_count"`
	TotalPageCount int `json:"total_page_count"`

	ClassificationSource     ClassificationSource `json:"classification_source"`
	ClassificationConfidence Confidence           `json:"classification_confidence"`
	ClassificationReason     string               `json:"classification_reason"`
	ClassificationTimestamp  string               `json:"classification_timestamp"`

	DisplayColor      Color  `json:"display_color"`
	AIRenamed         bool   `json:"ai_renamed"`
	AIProcessingError string `json:"ai_processing_error"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// FileExtension returns the lowercase extension with dot, derived from the
// display name first and the stored name second.
func (d *Document) FileExtension() string {
	name := d.OriginalFilename
	if name == "" {
		name = d.Filename
	}
	return strings.ToLower(filepath.Ext(name))
}

// HasEmptyPages reports whether any page was detected empty.
func (d *Document) HasEmptyPages() bool { return d.EmptyPageCount > 0 }

// IsCompletelyEmpty reports whether every page is empty.
func (d *Document) IsCompletelyEmpty() bool {
	return d.TotalPageCount > 0 && d.EmptyPageCount == d.TotalPageCount
}

// BoxStats carries document counts per box, the archived companions for the
// target boxes, and the total.
type BoxStats struct {
	Eingang      int `json:"eingang"`
	Verarbeitung int `json:"verarbeitung"`
	GDV          int `json:"gdv"`
	Courtage     int `json:"courtage"`
	Sach         int `json:"sach"`
	Leben        int `json:"leben"`
	Kranken      int `json:"kranken"`
	Sonstige     int `json:"sonstige"`
	Roh          int `json:"roh"`
	Falsch       int `json:"falsch"`

	GDVArchived      int `json:"gdv_archived"`
	CourtageArchived int `json:"courtage_archived"`
	SachArchived     int `json:"sach_archived"`
	LebenArchived    int `json:"leben_archived"`
	KrankenArchived  int `json:"kranken_archived"`
	SonstigeArchived int `json:"sonstige_archived"`

	Total int `json:"total"`
}

// HistoryEntry is one row of a document's server-side audit trail.
type HistoryEntry struct {
	ID         int64          `json:"id"`
	DocumentID int64          `json:"document_id"`
	Action     string         `json:"action"`
	Detail     string         `json:"detail"`
	Payload    map[string]any `json:"payload"`
	CreatedAt  string         `json:"created_at"`
}
