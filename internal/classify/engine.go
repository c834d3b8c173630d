// Package classify drives the per-document decision ladder: dedup cache,
// raw-XML rules, GDV header rules, PDF validation, the two-stage LLM
// classifiers and the final persistence of box, status and audit fields.
package classify

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/acencia/atlas/internal/archive"
	"github.com/acencia/atlas/internal/llm"
	"github.com/acencia/atlas/internal/pdfsvc"
	"github.com/acencia/atlas/internal/probe"
)

const (
	// reasonLimit bounds audit reasons and stored processing errors.
	reasonLimit = 500
	// spreadsheetRows is how many leading rows enter the spreadsheet prompt.
	spreadsheetRows = 50
)

// Repo is the slice of the archive repository the engine needs.
type Repo interface {
	Get(ctx context.Context, id int64) (*archive.Document, error)
	Update(ctx context.Context, id int64, patch archive.Patch) (*archive.Document, error)
	AddHistory(ctx context.Context, id int64, action, detail string, payload map[string]any) (int64, error)
	DownloadTo(ctx context.Context, id int64, dir, override string) (string, error)
	SaveAIData(ctx context.Context, id int64, data archive.AIData) error
	Passwords(ctx context.Context, kind string) ([]string, error)
}

// PDFService validates and extracts; satisfied by pdfsvc.Service.
type PDFService interface {
	Validate(path string, passwords []string) (pdfsvc.ValidationResult, error)
	ExtractText(path string) (string, int, error)
}

// LLM is the classifier surface; satisfied by llm.Client.
type LLM interface {
	ClassifySparte(ctx context.Context, s llm.Settings, text string) (*llm.ClassifyOutcome, error)
	ClassifyCourtageMinimal(ctx context.Context, s llm.Settings, text string) (*llm.CourtageResult, llm.Usage, error)
	ClassifySpreadsheet(ctx context.Context, s llm.Settings, rows string) (*llm.ClassifyOutcome, error)
}

// PostProcessor runs the duplicate and empty-page rules after a document
// is archived. Failures there never fail the document.
type PostProcessor interface {
	Apply(ctx context.Context, docID int64)
}

// ProcessingResult is the per-document outcome handed to the orchestrator.
type ProcessingResult struct {
	ID               int64
	OriginalFilename string
	Success          bool
	TargetBox        archive.BoxType
	Category         string
	NewFilename      string
	Source           archive.ClassificationSource
	Err              string
	CostUSD          float64
	CacheHit         bool
}

// Options configure an Engine for one batch.
type Options struct {
	Settings       llm.Settings
	RawXMLPatterns []string
	WorkDir        string // scratch space for downloads; default os.TempDir
	Post           PostProcessor
	Invalidate     func(docID int64) // preview-cache invalidation
}

// Engine processes one document at a time; one Engine is shared by all
// workers of a batch and must stay goroutine-safe, which it is because all
// mutable state lives in the Cache.
type Engine struct {
	repo  Repo
	pdf   PDFService
	llm   LLM
	cache *Cache
	opts  Options
	logf  func(format string, args ...any)
}

func NewEngine(repo Repo, pdf PDFService, llmc LLM, cache *Cache, opts Options) *Engine {
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	return &Engine{repo: repo, pdf: pdf, llm: llmc, cache: cache, opts: opts, logf: log.Printf}
}

// decision is the outcome of one ladder branch before persistence.
type decision struct {
	box         archive.BoxType
	category    string
	newFilename string
	source      archive.ClassificationSource
	confidence  archive.Confidence
	reason      string
	validation  archive.ValidationStatus
	aiData      *archive.AIData
	cost        float64
	fromCache   bool
	failedPDF   bool // pdf_corrupt / pdf_error outcomes are never cached
}

// Process runs the full ladder for one document. It never returns an
// error: every failure is converted into a ProcessingResult with the
// document parked in sonstige and the error persisted.
func (e *Engine) Process(ctx context.Context, id int64) ProcessingResult {
	res := ProcessingResult{ID: id}

	doc, err := e.repo.Get(ctx, id)
	if err != nil {
		return e.fail(ctx, id, res, fmt.Errorf("fetch document: %w", err))
	}
	res.OriginalFilename = doc.OriginalFilename

	// Manual exclusion is a sink: report success without touching the
	// document.
	if doc.ProcessingStatus == archive.StatusManualExcluded {
		res.Success = true
		res.TargetBox = doc.BoxType
		res.Category = "manual_excluded"
		return res
	}

	if _, err := e.repo.Update(ctx, id, archive.Patch{
		ProcessingStatus: archive.Ptr(archive.StatusProcessing),
		BoxType:          archive.Ptr(archive.BoxVerarbeitung),
	}); err != nil {
		return e.fail(ctx, id, res, fmt.Errorf("start processing: %w", err))
	}
	_, _ = e.repo.AddHistory(ctx, id, "start_processing", doc.OriginalFilename, nil)

	workDir, err := os.MkdirTemp(e.opts.WorkDir, "atlas_classify_")
	if err != nil {
		return e.fail(ctx, id, res, fmt.Errorf("create work dir: %w", err))
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	dec, err := e.classifyDocument(ctx, doc, workDir)
	if err != nil {
		return e.fail(ctx, id, res, err)
	}

	if err := e.persist(ctx, doc, dec); err != nil {
		return e.fail(ctx, id, res, err)
	}

	if !dec.fromCache && !dec.failedPDF {
		e.cache.Put(doc.ContentHash, Entry{
			TargetBox:   dec.box,
			Category:    dec.category,
			NewFilename: dec.newFilename,
		})
	}
	if e.opts.Post != nil {
		e.opts.Post.Apply(ctx, id)
	}

	res.Success = true
	res.TargetBox = dec.box
	res.Category = dec.category
	res.NewFilename = dec.newFilename
	res.Source = dec.source
	res.CostUSD = dec.cost
	res.CacheHit = dec.fromCache
	return res
}

// classifyDocument walks the ordered ladder; the first matching branch
// owns the outcome.
func (e *Engine) classifyDocument(ctx context.Context, doc *archive.Document, workDir string) (*decision, error) {
	// 1. Content-hash dedup cache.
	if entry, ok := e.cache.Get(doc.ContentHash); ok {
		return &decision{
			box: entry.TargetBox, category: entry.Category, newFilename: entry.NewFilename,
			source: archive.SrcCacheDedup, confidence: archive.ConfidenceHigh,
			reason:    "Inhalt bereits klassifiziert (Hash-Treffer)",
			fromCache: true,
		}, nil
	}

	// 2. Raw XML.
	if e.isRawXML(doc) {
		return &decision{
			box: archive.BoxRoh, category: "xml_raw",
			source: archive.SrcRulePattern, confidence: archive.ConfidenceHigh,
			reason: "XML-Rohdatei nach Namensmuster",
		}, nil
	}

	// 3. BiPRO GDV code (999xxx).
	if isGDVCode(doc.BiproCategory) {
		path, err := e.repo.DownloadTo(ctx, doc.ID, workDir, "")
		if err != nil {
			return nil, fmt.Errorf("download for gdv probe: %w", err)
		}
		header, err := probe.ExtractGDVHeader(path)
		if err == nil && (header.HasVU() || header.HasSender()) {
			return gdvDecision(header, archive.SrcRuleBipro), nil
		}
		// VUs occasionally label PDFs with a GDV code; fall through to
		// the PDF ladder in that case.
		if t, terr := probe.DetectFileType(path); terr == nil && t == probe.TypePDF {
			return e.classifyPDFWithLLM(ctx, doc, path)
		}
		return &decision{
			box: archive.BoxSonstige, category: "unknown_bipro",
			source: archive.SrcRuleBipro, confidence: archive.ConfidenceLow,
			reason: "GDV-Code ohne lesbaren 0001-Satz",
		}, nil
	}

	// 4. GDV by extension or content.
	if doc.FileExtension() == ".gdv" {
		path, err := e.repo.DownloadTo(ctx, doc.ID, workDir, "")
		if err != nil {
			return nil, fmt.Errorf("download gdv: %w", err)
		}
		return gdvByFile(path), nil
	}
	if path, ok := e.gdvContentPath(ctx, doc, workDir); ok {
		return gdvByFile(path), nil
	}

	isPDF := doc.FileExtension() == ".pdf" || doc.MimeType == "application/pdf"

	// 5a. Courtage BiPRO code.
	if isPDF && isCourtageCode(doc.BiproCategory) {
		path, err := e.repo.DownloadTo(ctx, doc.ID, workDir, "")
		if err != nil {
			return nil, fmt.Errorf("download courtage pdf: %w", err)
		}
		return e.classifyCourtagePDF(ctx, doc, path, archive.SrcKICourtageMinimal)
	}

	// 5b. PDF with any other BiPRO category: the code names the shipment
	// type, so the two-stage sparte path decides. The filename rule below
	// only applies to uncoded documents.
	if isPDF && doc.BiproCategory != "" {
		path, err := e.repo.DownloadTo(ctx, doc.ID, workDir, "")
		if err != nil {
			return nil, fmt.Errorf("download pdf: %w", err)
		}
		return e.classifyPDFWithLLM(ctx, doc, path)
	}

	if isPDF {
		path, err := e.repo.DownloadTo(ctx, doc.ID, workDir, "")
		if err != nil {
			return nil, fmt.Errorf("download pdf: %w", err)
		}
		// 6. Filename rule: Vermittlerabrechnungen are always courtage.
		if strings.Contains(strings.ToLower(doc.OriginalFilename), "vermittlerabrechnung") {
			return e.classifyCourtagePDF(ctx, doc, path, archive.SrcRuleFilenameKI)
		}
		// 7. Plain PDF.
		return e.classifyPDFWithLLM(ctx, doc, path)
	}

	// 8. Spreadsheets.
	if isSpreadsheet(doc.FileExtension()) {
		path, err := e.repo.DownloadTo(ctx, doc.ID, workDir, "")
		if err != nil {
			return nil, fmt.Errorf("download spreadsheet: %w", err)
		}
		return e.classifySpreadsheet(ctx, doc, path)
	}

	// 9. Default.
	return &decision{
		box: archive.BoxSonstige, category: "unknown",
		source: archive.SrcFallback, confidence: archive.ConfidenceLow,
		reason: "kein Klassifizierungsmerkmal gefunden",
	}, nil
}

// classifyCourtagePDF handles documents already known to be courtage: the
// PDF is validated first, then the minimal prompt extracts insurer and
// date for the filename.
func (e *Engine) classifyCourtagePDF(ctx context.Context, doc *archive.Document, path string, source archive.ClassificationSource) (*decision, error) {
	vres, verr := e.validatePDF(ctx, path)
	switch {
	case vres != nil && vres.encrypted:
		return &decision{
			box: archive.BoxCourtage, category: "pdf_encrypted",
			source: archive.SrcRuleValidation, confidence: archive.ConfidenceHigh,
			reason:     "verschluesseltes PDF ohne passendes Passwort",
			validation: archive.ValidationEncrypted,
		}, nil
	case vres != nil && vres.corrupt:
		return &decision{
			box: archive.BoxCourtage, category: "pdf_corrupt",
			newFilename: "Beschaedigte_Datei_Courtage.pdf",
			source:      archive.SrcRuleValidation, confidence: archive.ConfidenceHigh,
			reason:     "beschaedigtes PDF mit Courtage-Kennung",
			validation: archive.ValidationCorrupt,
			failedPDF:  true,
		}, nil
	case verr != nil:
		return nil, verr
	}

	text, pages, err := e.pdf.ExtractText(path)
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}
	result, usage, err := e.llm.ClassifyCourtageMinimal(ctx, e.opts.Settings, text)
	if err != nil {
		return nil, fmt.Errorf("courtage classify: %w", err)
	}

	name := Slug(result.Insurer) + "_Courtage"
	if result.DocumentDateISO != "" {
		name += "_" + result.DocumentDateISO
	}
	return &decision{
		box: archive.BoxCourtage, category: "courtage",
		newFilename: name + ".pdf",
		source:      source, confidence: archive.ConfidenceHigh,
		reason: "Courtage-Dokument, Versicherer per KI ermittelt",
		cost:   usage.ServerCostUSD,
		aiData: &archive.AIData{
			ExtractedText:      text,
			TextSHA256:         probe.SHA256Text(text),
			ExtractionMethod:   "pdf_text",
			ExtractedPageCount: pages,
			AIModel:            "courtage_minimal",
			AIStage:            1,
			TextChars:          len(text),
			PromptTokens:       usage.PromptTokens,
			CompletionTokens:   usage.CompletionTokens,
			TotalTokens:        usage.TotalTokens,
		},
	}, nil
}

// classifyPDFWithLLM validates the PDF and runs the two-stage sparte
// classifier over its text.
func (e *Engine) classifyPDFWithLLM(ctx context.Context, doc *archive.Document, path string) (*decision, error) {
	vres, verr := e.validatePDF(ctx, path)
	switch {
	case vres != nil && vres.encrypted:
		return &decision{
			box: archive.BoxSonstige, category: "pdf_encrypted",
			source: archive.SrcRuleValidation, confidence: archive.ConfidenceHigh,
			reason:     "verschluesseltes PDF ohne passendes Passwort",
			validation: archive.ValidationEncrypted,
		}, nil
	case vres != nil && vres.corrupt:
		return &decision{
			box: archive.BoxSonstige, category: "pdf_corrupt",
			newFilename: "Beschaedigte_Datei.pdf",
			source:      archive.SrcRuleValidation, confidence: archive.ConfidenceHigh,
			reason:     "beschaedigtes PDF",
			validation: archive.ValidationCorrupt,
			failedPDF:  true,
		}, nil
	case verr != nil:
		return nil, verr
	}

	text, pages, err := e.pdf.ExtractText(path)
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}
	outcome, err := e.llm.ClassifySparte(ctx, e.opts.Settings, text)
	if err != nil {
		return nil, fmt.Errorf("sparte classify: %w", err)
	}

	source := archive.SrcKIMini
	if outcome.Stage == 2 {
		source = archive.SrcKITwoStage
	}
	return &decision{
		box:         archive.BoxType(outcome.Result.Sparte),
		category:    outcome.Result.Sparte,
		newFilename: sparteFilename(doc, outcome.Result),
		source:      source,
		confidence:  archive.Confidence(outcome.Result.Confidence),
		reason:      truncate(fmt.Sprintf("KI-Klassifizierung Stufe %d: %s", outcome.Stage, outcome.Result.Sparte), reasonLimit),
		cost:        outcome.Usage.ServerCostUSD,
		aiData: &archive.AIData{
			ExtractedText:      text,
			TextSHA256:         probe.SHA256Text(text),
			ExtractionMethod:   "pdf_text",
			ExtractedPageCount: pages,
			AIFullResponse:     outcome.Response,
			AIPromptText:       outcome.Prompt,
			AIModel:            outcome.Model,
			AIStage:            outcome.Stage,
			TextChars:          len(text),
			PromptChars:        len(outcome.Prompt),
			PromptTokens:       outcome.Usage.PromptTokens,
			CompletionTokens:   outcome.Usage.CompletionTokens,
			TotalTokens:        outcome.Usage.TotalTokens,
		},
	}, nil
}

func (e *Engine) classifySpreadsheet(ctx context.Context, doc *archive.Document, path string) (*decision, error) {
	var rows string
	var err error
	if doc.FileExtension() == ".xlsx" {
		rows, err = xlsxRows(path, spreadsheetRows)
	} else {
		rows, err = headRows(path, spreadsheetRows)
	}
	if err != nil {
		return nil, fmt.Errorf("read spreadsheet: %w", err)
	}
	outcome, err := e.llm.ClassifySpreadsheet(ctx, e.opts.Settings, rows)
	if err != nil {
		return nil, fmt.Errorf("spreadsheet classify: %w", err)
	}
	return &decision{
		box:        archive.BoxType(outcome.Result.Sparte),
		category:   outcome.Result.Sparte,
		source:     archive.SrcKISpreadsheet,
		confidence: archive.Confidence(outcome.Result.Confidence),
		reason:     "Tabellendokument per KI klassifiziert",
		cost:       outcome.Usage.ServerCostUSD,
		aiData: &archive.AIData{
			ExtractedText:    rows,
			TextSHA256:       probe.SHA256Text(rows),
			ExtractionMethod: "spreadsheet_head",
			AIFullResponse:   outcome.Response,
			AIModel:          outcome.Model,
			AIStage:          outcome.Stage,
			TextChars:        len(rows),
			PromptTokens:     outcome.Usage.PromptTokens,
			CompletionTokens: outcome.Usage.CompletionTokens,
			TotalTokens:      outcome.Usage.TotalTokens,
		},
	}, nil
}

// pdfCheck is the three-way validation outcome the ladder branches on.
type pdfCheck struct {
	encrypted bool
	corrupt   bool
}

func (e *Engine) validatePDF(ctx context.Context, path string) (*pdfCheck, error) {
	passwords, err := e.repo.Passwords(ctx, "pdf")
	if err != nil {
		e.logf("classify: password list unavailable: %v", err)
	}
	_, err = e.pdf.Validate(path, passwords)
	switch {
	case err == nil:
		return nil, nil
	case errors.Is(err, pdfsvc.ErrEncrypted):
		return &pdfCheck{encrypted: true}, nil
	case errors.Is(err, pdfsvc.ErrCorrupt):
		return &pdfCheck{corrupt: true}, nil
	default:
		return nil, fmt.Errorf("validate pdf: %w", err)
	}
}

// persist writes the ladder outcome in the mandated order: classify,
// optional rename, archive. History rows mirror each transition.
func (e *Engine) persist(ctx context.Context, doc *archive.Document, dec *decision) error {
	ts := time.Now().UTC().Format(time.RFC3339)
	patch0 := archive.Patch{
		BoxType:                  archive.Ptr(dec.box),
		ProcessingStatus:         archive.Ptr(archive.StatusClassified),
		DocumentCategory:         archive.Ptr(dec.category),
		ClassificationSource:     archive.Ptr(dec.source),
		ClassificationConfidence: archive.Ptr(dec.confidence),
		ClassificationReason:     archive.Ptr(truncate(dec.reason, reasonLimit)),
		ClassificationTimestamp:  archive.Ptr(ts),
	}
	if dec.validation != "" {
		patch0.ValidationStatus = archive.Ptr(dec.validation)
	}
	if _, err := e.repo.Update(ctx, doc.ID, patch0); err != nil {
		return fmt.Errorf("persist classification: %w", err)
	}
	_, _ = e.repo.AddHistory(ctx, doc.ID, "classify", dec.category, map[string]any{
		"box": string(dec.box), "source": string(dec.source),
	})

	if dec.newFilename != "" && dec.newFilename != doc.OriginalFilename {
		if _, err := e.repo.Update(ctx, doc.ID, archive.Patch{
			OriginalFilename: archive.Ptr(dec.newFilename),
			AIRenamed:        archive.Ptr(true),
			ProcessingStatus: archive.Ptr(archive.StatusRenamed),
		}); err != nil {
			return fmt.Errorf("persist rename: %w", err)
		}
		_, _ = e.repo.AddHistory(ctx, doc.ID, "rename", dec.newFilename, nil)
	}

	patch := archive.Patch{ProcessingStatus: archive.Ptr(archive.StatusArchived)}
	if dec.box.Archivable() {
		patch.IsArchived = archive.Ptr(true)
	}
	if _, err := e.repo.Update(ctx, doc.ID, patch); err != nil {
		return fmt.Errorf("persist archive: %w", err)
	}
	_, _ = e.repo.AddHistory(ctx, doc.ID, "archive", string(dec.box), nil)

	if dec.aiData != nil {
		if err := e.repo.SaveAIData(ctx, doc.ID, *dec.aiData); err != nil {
			e.logf("classify: ai data for %d not saved: %v", doc.ID, err)
		}
	}
	if e.opts.Invalidate != nil && dec.newFilename != "" {
		e.opts.Invalidate(doc.ID)
	}
	return nil
}

// fail parks the document in sonstige with the error recorded. Persistence
// errors during failure handling are logged and dropped; the worker always
// gets a result back.
func (e *Engine) fail(ctx context.Context, id int64, res ProcessingResult, cause error) ProcessingResult {
	e.logf("classify: document %d failed: %v", id, cause)
	msg := truncate(cause.Error(), reasonLimit)
	if _, err := e.repo.Update(ctx, id, archive.Patch{
		BoxType:           archive.Ptr(archive.BoxSonstige),
		ProcessingStatus:  archive.Ptr(archive.StatusError),
		AIProcessingError: archive.Ptr(msg),
	}); err != nil {
		e.logf("classify: error state for %d not persisted: %v", id, err)
	}
	_, _ = e.repo.AddHistory(ctx, id, "error", msg, nil)

	res.Success = false
	res.TargetBox = archive.BoxSonstige
	res.Category = "error"
	res.Err = msg
	return res
}

func (e *Engine) isRawXML(doc *archive.Document) bool {
	lower := strings.ToLower(doc.OriginalFilename)
	for _, pat := range e.opts.RawXMLPatterns {
		if ok, _ := filepath.Match(strings.ToLower(pat), lower); ok {
			return true
		}
	}
	return doc.FileExtension() == ".xml" && strings.Contains(lower, "roh")
}

// gdvContentPath probes the magic bytes, but only for files that are not
// already decided by extension and only after ruling out PDF. The
// downloaded path is returned so the caller does not fetch twice.
func (e *Engine) gdvContentPath(ctx context.Context, doc *archive.Document, workDir string) (string, bool) {
	ext := doc.FileExtension()
	if ext == ".pdf" || ext == ".xml" || isSpreadsheet(ext) {
		return "", false
	}
	path, err := e.repo.DownloadTo(ctx, doc.ID, workDir, "")
	if err != nil {
		return "", false
	}
	t, err := probe.DetectFileType(path)
	return path, err == nil && t == probe.TypeGDV
}

// gdvByFile extracts the header and derives the filename; an unreadable
// preamble still lands in the gdv box, just without a rename.
func gdvByFile(path string) *decision {
	header, err := probe.ExtractGDVHeader(path)
	if err != nil {
		return &decision{
			box: archive.BoxGDV, category: "gdv",
			source: archive.SrcRuleExtension, confidence: archive.ConfidenceMedium,
			reason: "GDV-Datei ohne lesbaren Vorsatz",
		}
	}
	return gdvDecision(header, archive.SrcRuleExtension)
}

func gdvDecision(h probe.GDVHeader, source archive.ClassificationSource) *decision {
	return &decision{
		box: archive.BoxGDV, category: "gdv",
		newFilename: gdvFilename(h),
		source:      source, confidence: archive.ConfidenceHigh,
		reason: "GDV-Vorsatz gelesen: " + h.Sender,
	}
}

// gdvFilename assembles <sender>_<date>_VU<vu>.gdv, omitting components
// the header does not carry.
func gdvFilename(h probe.GDVHeader) string {
	var parts []string
	if h.HasSender() {
		parts = append(parts, Slug(h.Sender))
	}
	if h.Date != probe.FallbackDate && h.Date != "" {
		parts = append(parts, h.Date)
	}
	if h.HasVU() {
		parts = append(parts, "VU"+h.VUNumber)
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "_") + ".gdv"
}

// sparteFilename assembles <vu>_<sparte-or-docname>[_<date>].pdf. The date
// only appears on courtage documents.
func sparteFilename(doc *archive.Document, r llm.SparteResult) string {
	vu := r.VUName
	if vu == "" {
		vu = doc.VUName
	}
	label := r.DocumentName
	if label == "" {
		label = r.Sparte
	}
	name := Slug(vu) + "_" + Slug(label)
	if r.Sparte == "courtage" && r.DocumentDateISO != "" {
		name += "_" + r.DocumentDateISO
	}
	return name + ".pdf"
}

func isGDVCode(code string) bool {
	return strings.HasPrefix(code, "999")
}

func isCourtageCode(code string) bool {
	return strings.HasPrefix(code, "300")
}

func isSpreadsheet(ext string) bool {
	switch ext {
	case ".csv", ".tsv", ".xlsx", ".xls":
		return true
	}
	return false
}

// headRows reads the first n lines of a text spreadsheet (CSV/TSV). XLSX
// containers go through xlsxRows instead.
func headRows(path string, n int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	var b strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for i := 0; i < n && scanner.Scan(); i++ {
		b.WriteString(scanner.Text())
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
