package llm

import (
	"context"
	"fmt"
	"strings"
)

// Settings are the batch-scoped classification parameters. They are loaded
// once per batch from the server's admin settings; zero values fall back to
// the built-in prompts and the configured models.
type Settings struct {
	Stage1Prompt  string
	Stage2Prompt  string
	Stage1Model   string
	Stage2Model   string
	Stage2Enabled bool
	Stage2Trigger string // "low_confidence" (default) or "always"
	MaxTextLength int
}

// SparteResult is the constrained JSON both sparte stages return.
type SparteResult struct {
	Sparte          string `json:"sparte"`
	Confidence      string `json:"confidence"`
	DocumentDateISO string `json:"document_date_iso,omitempty"`
	VUName          string `json:"vu_name,omitempty"`
	DocumentName    string `json:"document_name,omitempty"`
}

// CourtageResult is the compact answer of the courtage-minimal prompt.
type CourtageResult struct {
	Insurer         string `json:"insurer"`
	DocumentDateISO string `json:"document_date_iso,omitempty"`
}

// ClassifyOutcome bundles the final result with its provenance: which
// stage answered and what the whole exchange cost.
type ClassifyOutcome struct {
	Result   SparteResult
	Stage    int // 1 or 2
	Model    string
	Prompt   string
	Response string
	Usage    Usage
}

var validSparten = map[string]bool{
	"courtage": true,
	"sach":     true,
	"leben":    true,
	"kranken":  true,
	"sonstige": true,
}

const stage1Prompt = `Du bist ein Klassifizierer fuer Versicherungsdokumente eines deutschen Maklerbueros.
Du erhaeltst den extrahierten Text eines Dokuments und ordnest es einer Sparte zu.

Gueltige Sparten:
- courtage: Courtageabrechnungen, Provisionsabrechnungen, Vermittlerabrechnungen
- sach: Sachversicherung (Gebaeude, Hausrat, Haftpflicht, KFZ, Gewerbe)
- leben: Lebensversicherung, Rentenversicherung, Berufsunfaehigkeit
- kranken: Krankenversicherung, Pflegeversicherung
- sonstige: alles andere oder nicht erkennbar

Antworte NUR mit gueltigem JSON, ohne Markdown, ohne Kommentar:
{"sparte":"<sparte>","confidence":"high|medium|low","document_date_iso":"YYYY-MM-DD oder leer","vu_name":"<Versicherer oder leer>","document_name":"<kurzer Dokumentname oder leer>"}`

const stage2Prompt = `Du bist ein erfahrener Sachbearbeiter eines deutschen Versicherungsmaklers.
Ein Vorklassifizierer war sich bei diesem Dokument unsicher. Pruefe den Text sorgfaeltig
und ordne das Dokument endgueltig einer Sparte zu. Leite zusaetzlich einen praezisen,
kurzen Dokumentnamen ab (z.B. "Beitragsrechnung", "Nachtrag", "Kuendigungsbestaetigung").

Gueltige Sparten: courtage, sach, leben, kranken, sonstige.

Antworte NUR mit gueltigem JSON, ohne Markdown, ohne Kommentar:
{"sparte":"<sparte>","confidence":"high|medium|low","document_date_iso":"YYYY-MM-DD oder leer","vu_name":"<Versicherer oder leer>","document_name":"<Dokumentname>"}`

const courtageMinimalPrompt = `Das folgende Dokument ist bereits als Courtageabrechnung identifiziert.
Extrahiere nur den Versicherer und das Abrechnungsdatum.

Antworte NUR mit gueltigem JSON:
{"insurer":"<Versicherer>","document_date_iso":"YYYY-MM-DD oder leer"}`

const spreadsheetPrompt = `Du erhaeltst die ersten Zeilen einer Tabelle (CSV/TSV/XLSX) aus dem Posteingang
eines deutschen Versicherungsmaklers. Ordne die Tabelle einer Sparte zu.

Gueltige Sparten: courtage, sach, leben, kranken, sonstige.
Courtage-Indizien: Spalten wie Provision, Courtage, VN, Vertragsnummer mit Geldbetraegen.

Antworte NUR mit gueltigem JSON, ohne Markdown, ohne Kommentar:
{"sparte":"<sparte>","confidence":"high|medium|low","document_date_iso":"YYYY-MM-DD oder leer","vu_name":"<Versicherer oder leer>","document_name":"<kurzer Name oder leer>"}`

// defaultMaxTextLength bounds how much extracted text enters a prompt.
const defaultMaxTextLength = 8000

// DefaultSettings are the built-in prompts and models with stage 2 armed
// on low confidence. They apply when the admin settings API is down.
func DefaultSettings() Settings {
	return Settings{Stage2Enabled: true}
}

func (s Settings) stage1() (prompt, model string) {
	prompt, model = stage1Prompt, s.Stage1Model
	if s.Stage1Prompt != "" {
		prompt = s.Stage1Prompt
	}
	return prompt, model
}

func (s Settings) stage2() (prompt, model string) {
	prompt, model = stage2Prompt, s.Stage2Model
	if s.Stage2Prompt != "" {
		prompt = s.Stage2Prompt
	}
	return prompt, model
}

// stage2Triggered decides whether the detail model gets a second look.
func (s Settings) stage2Triggered(r SparteResult) bool {
	if !s.Stage2Enabled {
		return false
	}
	if s.Stage2Trigger == "always" {
		return true
	}
	return r.Confidence != "high" || r.Sparte == "sonstige"
}

func (s Settings) truncate(text string) string {
	max := s.MaxTextLength
	if max <= 0 {
		max = defaultMaxTextLength
	}
	if len(text) <= max {
		return text
	}
	return text[:max]
}

// ClassifySparte runs the two-stage sparte classification over extracted
// document text. Stage 2 only runs when the settings' trigger matches the
// stage-1 answer; its usage is folded into the outcome either way.
func (c *Client) ClassifySparte(ctx context.Context, settings Settings, text string) (*ClassifyOutcome, error) {
	text = settings.truncate(text)

	prompt, model := settings.stage1()
	if model == "" {
		model = c.cfg.MiniModel
	}
	raw, usage, err := c.complete(ctx, model, prompt, text)
	if err != nil {
		return nil, fmt.Errorf("stage 1: %w", err)
	}
	var r1 SparteResult
	if err := decodeJSON(raw, &r1); err != nil {
		return nil, fmt.Errorf("stage 1: %w", err)
	}
	r1 = normalizeSparte(r1)

	out := &ClassifyOutcome{Result: r1, Stage: 1, Model: model, Prompt: prompt, Response: raw, Usage: usage}
	if !settings.stage2Triggered(r1) {
		return out, nil
	}

	prompt2, model2 := settings.stage2()
	if model2 == "" {
		model2 = c.cfg.Model
	}
	raw2, usage2, err := c.complete(ctx, model2, prompt2, text)
	if err != nil {
		// Stage-1 already produced a usable answer; keep it.
		return out, nil
	}
	var r2 SparteResult
	if err := decodeJSON(raw2, &r2); err != nil {
		return out, nil
	}
	out.Result = normalizeSparte(r2)
	out.Stage = 2
	out.Model = model2
	out.Prompt = prompt2
	out.Response = raw2
	out.Usage.add(usage2)
	return out, nil
}

// ClassifyCourtageMinimal extracts insurer and date from a document already
// known to be courtage.
func (c *Client) ClassifyCourtageMinimal(ctx context.Context, settings Settings, text string) (*CourtageResult, Usage, error) {
	model := c.cfg.MiniModel
	raw, usage, err := c.complete(ctx, model, courtageMinimalPrompt, settings.truncate(text))
	if err != nil {
		return nil, usage, err
	}
	var r CourtageResult
	if err := decodeJSON(raw, &r); err != nil {
		return nil, usage, err
	}
	return &r, usage, nil
}

// ClassifySpreadsheet classifies tabular text (first ~50 rows).
func (c *Client) ClassifySpreadsheet(ctx context.Context, settings Settings, rows string) (*ClassifyOutcome, error) {
	model := c.cfg.MiniModel
	raw, usage, err := c.complete(ctx, model, spreadsheetPrompt, settings.truncate(rows))
	if err != nil {
		return nil, err
	}
	var r SparteResult
	if err := decodeJSON(raw, &r); err != nil {
		return nil, err
	}
	return &ClassifyOutcome{
		Result: normalizeSparte(r), Stage: 1, Model: model,
		Prompt: spreadsheetPrompt, Response: raw, Usage: usage,
	}, nil
}

// normalizeSparte lowercases and clamps the model's answer to the valid
// sparten; anything else becomes sonstige with low confidence.
func normalizeSparte(r SparteResult) SparteResult {
	r.Sparte = strings.ToLower(strings.TrimSpace(r.Sparte))
	if !validSparten[r.Sparte] {
		r.Sparte = "sonstige"
		r.Confidence = "low"
	}
	switch r.Confidence {
	case "high", "medium", "low":
	default:
		r.Confidence = "low"
	}
	return r
}
