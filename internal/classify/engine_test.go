package classify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/acencia/atlas/internal/archive"
	"github.com/acencia/atlas/internal/llm"
	"github.com/acencia/atlas/internal/pdfsvc"
)

type fakeRepo struct {
	mu      sync.Mutex
	docs    map[int64]*archive.Document
	files   map[int64][]byte
	history map[int64][]string
	aiData  map[int64]archive.AIData
	failDL  bool
}

func newFakeRepo(docs ...*archive.Document) *fakeRepo {
	r := &fakeRepo{
		docs:    map[int64]*archive.Document{},
		files:   map[int64][]byte{},
		history: map[int64][]string{},
		aiData:  map[int64]archive.AIData{},
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
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.docs[id]
	if p.BoxType != nil {
		d.BoxType = *p.BoxType
	}
	if p.ProcessingStatus != nil {
		d.ProcessingStatus = *p.ProcessingStatus
	}
	if p.OriginalFilename != nil {
		d.OriginalFilename = *p.OriginalFilename
	}
	if p.AIRenamed != nil {
		d.AIRenamed = *p.AIRenamed
	}
	if p.DocumentCategory != nil {
		d.DocumentCategory = *p.DocumentCategory
	}
	if p.ClassificationSource != nil {
		d.ClassificationSource = *p.ClassificationSource
	}
	if p.AIProcessingError != nil {
		d.AIProcessingError = *p.AIProcessingError
	}
	if p.IsArchived != nil {
		d.IsArchived = *p.IsArchived
	}
	copied := *d
	return &copied, nil
}

func (r *fakeRepo) AddHistory(ctx context.Context, id int64, action, detail string, payload map[string]any) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history[id] = append(r.history[id], action)
	return int64(len(r.history[id])), nil
}

func (r *fakeRepo) DownloadTo(ctx context.Context, id int64, dir, override string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failDL {
		return "", fmt.Errorf("download failed")
	}
	data, ok := r.files[id]
	if !ok {
		return "", fmt.Errorf("no file for %d", id)
	}
	path := filepath.Join(dir, fmt.Sprintf("doc_%d", id))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (r *fakeRepo) SaveAIData(ctx context.Context, id int64, data archive.AIData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aiData[id] = data
	return nil
}

func (r *fakeRepo) Passwords(ctx context.Context, kind string) ([]string, error) {
	return nil, nil
}

type fakePDF struct {
	validateErr error
	text        string
}

func (f *fakePDF) Validate(path string, passwords []string) (pdfsvc.ValidationResult, error) {
	if f.validateErr != nil {
		return pdfsvc.ValidationResult{}, f.validateErr
	}
	return pdfsvc.ValidationResult{Path: path, PageCount: 1}, nil
}

func (f *fakePDF) ExtractText(path string) (string, int, error) {
	return f.text, 1, nil
}

type fakeLLM struct {
	mu       sync.Mutex
	calls    int
	sparte   llm.SparteResult
	stage    int
	courtage llm.CourtageResult
	rows     string
}

func (f *fakeLLM) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeLLM) ClassifySparte(ctx context.Context, s llm.Settings, text string) (*llm.ClassifyOutcome, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	stage := f.stage
	if stage == 0 {
		stage = 1
	}
	return &llm.ClassifyOutcome{Result: f.sparte, Stage: stage, Model: "fake", Usage: llm.Usage{ServerCostUSD: 0.001}}, nil
}

func (f *fakeLLM) ClassifyCourtageMinimal(ctx context.Context, s llm.Settings, text string) (*llm.CourtageResult, llm.Usage, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return &f.courtage, llm.Usage{ServerCostUSD: 0.0004}, nil
}

func (f *fakeLLM) ClassifySpreadsheet(ctx context.Context, s llm.Settings, rows string) (*llm.ClassifyOutcome, error) {
	f.mu.Lock()
	f.calls++
	f.rows = rows
	f.mu.Unlock()
	return &llm.ClassifyOutcome{Result: f.sparte, Stage: 1, Model: "fake"}, nil
}

func newEngine(t *testing.T, repo *fakeRepo, pdf *fakePDF, llmc *fakeLLM) *Engine {
	t.Helper()
	return NewEngine(repo, pdf, llmc, NewCache(nil), Options{WorkDir: t.TempDir()})
}

func TestSlug(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Münchener Rück", "Muenchener_Rueck"},
		{"Straße & Co. GmbH", "Strasse_Co_GmbH"},
		{"  ---  ", "unbekannt"},
		{"", "unbekannt"},
		{"Hanse Versicherung", "Hanse_Versicherung"},
		{"ÄÖÜ äöü ß", "AeOeUe_aeoeue_ss"},
	}
	for _, tc := range cases {
		if got := Slug(tc.in); got != tc.want {
			t.Errorf("Slug(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestManualExcludedShortCircuits(t *testing.T) {
	repo := newFakeRepo(&archive.Document{
		ID: 1, OriginalFilename: "a.pdf",
		BoxType: archive.BoxEingang, ProcessingStatus: archive.StatusManualExcluded,
	})
	e := newEngine(t, repo, &fakePDF{}, &fakeLLM{})

	res := e.Process(context.Background(), 1)
	if !res.Success || res.Category != "manual_excluded" || res.TargetBox != archive.BoxEingang {
		t.Fatalf("got %+v", res)
	}
	if len(repo.history[1]) != 0 {
		t.Fatal("excluded document must not be touched")
	}
}

// gdvFixture builds a 0001 preamble line with the fixed column layout.
func gdvFixture(vu, sender, date string) []byte {
	line := []rune(strings.Repeat(" ", 100))
	copy(line[0:], []rune("0001"))
	copy(line[4:], []rune(vu))
	copy(line[9:], []rune(sender))
	copy(line[69:], []rune(date))
	return []byte(string(line) + "\n")
}

func TestGDVByBiproCode(t *testing.T) {
	repo := newFakeRepo(&archive.Document{
		ID: 2, OriginalFilename: "lieferung.dat", BiproCategory: "999001",
		BoxType: archive.BoxEingang, ProcessingStatus: archive.StatusPending,
		ContentHash: "h2",
	})
	repo.files[2] = gdvFixture("12345", "Hanse Versicherung", "30042025")
	llmc := &fakeLLM{}
	e := newEngine(t, repo, &fakePDF{}, llmc)

	res := e.Process(context.Background(), 2)
	if !res.Success || res.TargetBox != archive.BoxGDV {
		t.Fatalf("got %+v", res)
	}
	if res.NewFilename != "Hanse_Versicherung_2025-04-30_VU12345.gdv" {
		t.Fatalf("filename = %q", res.NewFilename)
	}
	if res.Source != archive.SrcRuleBipro {
		t.Fatalf("source = %s", res.Source)
	}
	if llmc.count() != 0 {
		t.Fatal("gdv rule must not call the llm")
	}
}

func TestGDVCodeButActuallyPDF(t *testing.T) {
	repo := newFakeRepo(&archive.Document{
		ID: 3, OriginalFilename: "falsch.dat", BiproCategory: "999001",
		BoxType: archive.BoxEingang, ProcessingStatus: archive.StatusPending,
		ContentHash: "h3",
	})
	repo.files[3] = []byte("%PDF-1.7 not a gdv at all")
	llmc := &fakeLLM{sparte: llm.SparteResult{Sparte: "sach", Confidence: "high"}}
	e := newEngine(t, repo, &fakePDF{text: "Gebaeudeversicherung"}, llmc)

	res := e.Process(context.Background(), 3)
	if !res.Success || res.TargetBox != archive.BoxSach {
		t.Fatalf("got %+v", res)
	}
	if res.Source == archive.SrcRuleBipro {
		t.Fatal("mislabelled pdf must not carry the gdv rule source")
	}
	if res.Source != archive.SrcKIMini {
		t.Fatalf("source = %s", res.Source)
	}
}

func TestCourtageCodePDF(t *testing.T) {
	repo := newFakeRepo(&archive.Document{
		ID: 4, OriginalFilename: "abrechnung.pdf", BiproCategory: "300001",
		MimeType: "application/pdf",
		BoxType:  archive.BoxEingang, ProcessingStatus: archive.StatusPending,
		ContentHash: "h4",
	})
	repo.files[4] = []byte("%PDF-1.7")
	llmc := &fakeLLM{courtage: llm.CourtageResult{Insurer: "Hanse Merkur", DocumentDateISO: "2026-01-31"}}
	e := newEngine(t, repo, &fakePDF{text: "Courtageabrechnung"}, llmc)

	res := e.Process(context.Background(), 4)
	if !res.Success || res.TargetBox != archive.BoxCourtage {
		t.Fatalf("got %+v", res)
	}
	if res.NewFilename != "Hanse_Merkur_Courtage_2026-01-31.pdf" {
		t.Fatalf("filename = %q", res.NewFilename)
	}
	if res.Source != archive.SrcKICourtageMinimal {
		t.Fatalf("source = %s", res.Source)
	}
	if res.CostUSD == 0 {
		t.Fatal("cost not threaded through")
	}
}

func TestCorruptPDFLandsInSonstige(t *testing.T) {
	repo := newFakeRepo(&archive.Document{
		ID: 5, OriginalFilename: "leer.pdf", MimeType: "application/pdf",
		BoxType: archive.BoxEingang, ProcessingStatus: archive.StatusPending,
		ContentHash: "h5",
	})
	repo.files[5] = []byte{}
	llmc := &fakeLLM{}
	e := newEngine(t, repo, &fakePDF{validateErr: pdfsvc.ErrCorrupt}, llmc)

	res := e.Process(context.Background(), 5)
	if !res.Success || res.TargetBox != archive.BoxSonstige || res.Category != "pdf_corrupt" {
		t.Fatalf("got %+v", res)
	}
	if res.NewFilename != "Beschaedigte_Datei.pdf" {
		t.Fatalf("filename = %q", res.NewFilename)
	}
	if llmc.count() != 0 {
		t.Fatal("corrupt pdf must not reach the llm")
	}
	if e.cache.Len() != 0 {
		t.Fatal("failed pdf outcomes must not be cached")
	}
}

func TestEncryptedPDFKeepsOriginalName(t *testing.T) {
	repo := newFakeRepo(&archive.Document{
		ID: 6, OriginalFilename: "geheim.pdf", MimeType: "application/pdf",
		BoxType: archive.BoxEingang, ProcessingStatus: archive.StatusPending,
	})
	repo.files[6] = []byte("%PDF-1.7")
	llmc := &fakeLLM{}
	e := newEngine(t, repo, &fakePDF{validateErr: pdfsvc.ErrEncrypted}, llmc)

	res := e.Process(context.Background(), 6)
	if !res.Success || res.Category != "pdf_encrypted" {
		t.Fatalf("got %+v", res)
	}
	if res.NewFilename != "" {
		t.Fatal("encrypted pdf must keep its original filename")
	}
	if llmc.count() != 0 {
		t.Fatal("encrypted pdf must not reach the llm")
	}
	if repo.docs[6].OriginalFilename != "geheim.pdf" {
		t.Fatalf("original filename changed to %q", repo.docs[6].OriginalFilename)
	}
}

func TestVermittlerabrechnungFilenameRule(t *testing.T) {
	repo := newFakeRepo(&archive.Document{
		ID: 7, OriginalFilename: "Vermittlerabrechnung_Q1.pdf", MimeType: "application/pdf",
		BoxType: archive.BoxEingang, ProcessingStatus: archive.StatusPending,
	})
	repo.files[7] = []byte("%PDF-1.7")
	llmc := &fakeLLM{courtage: llm.CourtageResult{Insurer: "Allianz"}}
	e := newEngine(t, repo, &fakePDF{text: "Abrechnung"}, llmc)

	res := e.Process(context.Background(), 7)
	if res.TargetBox != archive.BoxCourtage || res.Source != archive.SrcRuleFilenameKI {
		t.Fatalf("got %+v", res)
	}
	if res.NewFilename != "Allianz_Courtage.pdf" {
		t.Fatalf("filename = %q", res.NewFilename)
	}
}

func TestBiproCodedPDFSkipsFilenameRule(t *testing.T) {
	// A non-courtage BiPRO code marks the shipment type; the
	// Vermittlerabrechnung filename must not override it.
	repo := newFakeRepo(&archive.Document{
		ID: 21, OriginalFilename: "Vermittlerabrechnung_2026.pdf", MimeType: "application/pdf",
		BiproCategory: "100022",
		BoxType:       archive.BoxEingang, ProcessingStatus: archive.StatusPending,
	})
	repo.files[21] = []byte("%PDF-1.7")
	llmc := &fakeLLM{sparte: llm.SparteResult{Sparte: "sach", Confidence: "high"}}
	e := newEngine(t, repo, &fakePDF{text: "Nachtrag zur Gebaeudeversicherung"}, llmc)

	res := e.Process(context.Background(), 21)
	if res.TargetBox != archive.BoxSach {
		t.Fatalf("box = %s, want sach from the two-stage path", res.TargetBox)
	}
	if res.Source != archive.SrcKIMini {
		t.Fatalf("source = %s", res.Source)
	}
}

func TestXMLRawRule(t *testing.T) {
	repo := newFakeRepo(&archive.Document{
		ID: 8, OriginalFilename: "index_roh.xml",
		BoxType: archive.BoxEingang, ProcessingStatus: archive.StatusPending,
	})
	e := newEngine(t, repo, &fakePDF{}, &fakeLLM{})

	res := e.Process(context.Background(), 8)
	if res.TargetBox != archive.BoxRoh || res.Category != "xml_raw" {
		t.Fatalf("got %+v", res)
	}
}

func TestDefaultFallback(t *testing.T) {
	repo := newFakeRepo(&archive.Document{
		ID: 9, OriginalFilename: "notiz.txt",
		BoxType: archive.BoxEingang, ProcessingStatus: archive.StatusPending,
	})
	repo.files[9] = []byte("kein erkennbares format")
	e := newEngine(t, repo, &fakePDF{}, &fakeLLM{})

	res := e.Process(context.Background(), 9)
	if res.TargetBox != archive.BoxSonstige || res.Category != "unknown" || res.Source != archive.SrcFallback {
		t.Fatalf("got %+v", res)
	}
}

func TestHistoryOrdering(t *testing.T) {
	repo := newFakeRepo(&archive.Document{
		ID: 10, OriginalFilename: "doc.pdf", MimeType: "application/pdf",
		BoxType: archive.BoxEingang, ProcessingStatus: archive.StatusPending,
		ContentHash: "h10",
	})
	repo.files[10] = []byte("%PDF-1.7")
	llmc := &fakeLLM{sparte: llm.SparteResult{Sparte: "leben", Confidence: "high", DocumentName: "Nachtrag", VUName: "Allianz"}}
	e := newEngine(t, repo, &fakePDF{text: "Lebensversicherung"}, llmc)

	res := e.Process(context.Background(), 10)
	if !res.Success {
		t.Fatalf("got %+v", res)
	}
	want := []string{"start_processing", "classify", "rename", "archive"}
	got := repo.history[10]
	if len(got) != len(want) {
		t.Fatalf("history = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("history = %v, want %v", got, want)
		}
	}
	if repo.docs[10].ProcessingStatus != archive.StatusArchived || !repo.docs[10].IsArchived {
		t.Fatalf("final doc state: %+v", repo.docs[10])
	}
	if _, ok := repo.aiData[10]; !ok {
		t.Fatal("ai data not persisted")
	}
}

func TestCacheDedupSkipsSecondLLMCall(t *testing.T) {
	mk := func(id int64) *archive.Document {
		return &archive.Document{
			ID: id, OriginalFilename: fmt.Sprintf("doc_%d.pdf", id), MimeType: "application/pdf",
			BoxType: archive.BoxEingang, ProcessingStatus: archive.StatusPending,
			ContentHash: "abc123",
		}
	}
	repo := newFakeRepo(mk(11), mk(12))
	repo.files[11] = []byte("%PDF-1.7")
	repo.files[12] = []byte("%PDF-1.7")
	llmc := &fakeLLM{sparte: llm.SparteResult{Sparte: "kranken", Confidence: "high", VUName: "DKV", DocumentName: "Rechnung"}}
	e := newEngine(t, repo, &fakePDF{text: "Krankenversicherung"}, llmc)

	first := e.Process(context.Background(), 11)
	second := e.Process(context.Background(), 12)

	if llmc.count() != 1 {
		t.Fatalf("llm called %d times, want 1", llmc.count())
	}
	if second.Source != archive.SrcCacheDedup || !second.CacheHit {
		t.Fatalf("second result: %+v", second)
	}
	// Identical hashes yield the identical outcome triple.
	if first.TargetBox != second.TargetBox || first.Category != second.Category || first.NewFilename != second.NewFilename {
		t.Fatalf("outcomes diverge: %+v vs %+v", first, second)
	}
}

func TestFailureParksDocumentInSonstige(t *testing.T) {
	repo := newFakeRepo(&archive.Document{
		ID: 13, OriginalFilename: "doc.pdf", MimeType: "application/pdf",
		BoxType: archive.BoxEingang, ProcessingStatus: archive.StatusPending,
	})
	repo.failDL = true
	e := newEngine(t, repo, &fakePDF{}, &fakeLLM{})

	res := e.Process(context.Background(), 13)
	if res.Success {
		t.Fatal("download failure must yield a failed result")
	}
	if res.TargetBox != archive.BoxSonstige || res.Err == "" {
		t.Fatalf("got %+v", res)
	}
	d := repo.docs[13]
	if d.ProcessingStatus != archive.StatusError || d.AIProcessingError == "" {
		t.Fatalf("doc state: %+v", d)
	}
	last := repo.history[13][len(repo.history[13])-1]
	if last != "error" {
		t.Fatalf("last history action = %s", last)
	}
}

func TestSpreadsheetClassification(t *testing.T) {
	repo := newFakeRepo(&archive.Document{
		ID: 14, OriginalFilename: "liste.csv",
		BoxType: archive.BoxEingang, ProcessingStatus: archive.StatusPending,
	})
	repo.files[14] = []byte("VN;Vertrag;Provision\n1;A;10,00\n")
	llmc := &fakeLLM{sparte: llm.SparteResult{Sparte: "courtage", Confidence: "medium"}}
	e := newEngine(t, repo, &fakePDF{}, llmc)

	res := e.Process(context.Background(), 14)
	if res.TargetBox != archive.BoxCourtage || res.Source != archive.SrcKISpreadsheet {
		t.Fatalf("got %+v", res)
	}
}

func TestGDVFilenameOmitsMissingComponents(t *testing.T) {
	repo := newFakeRepo(&archive.Document{
		ID: 15, OriginalFilename: "daten.gdv",
		BoxType: archive.BoxEingang, ProcessingStatus: archive.StatusPending,
	})
	// No VU number, no date: only the sender survives.
	repo.files[15] = gdvFixture("     ", "Muster Makler", "        ")
	e := newEngine(t, repo, &fakePDF{}, &fakeLLM{})

	res := e.Process(context.Background(), 15)
	if res.TargetBox != archive.BoxGDV {
		t.Fatalf("got %+v", res)
	}
	if res.NewFilename != "Muster_Makler.gdv" {
		t.Fatalf("filename = %q", res.NewFilename)
	}
}
