package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeCompletion builds a chat-completions handler that answers with the
// given assistant content and usage.
func fakeCompletion(t *testing.T, answer func(model, user string) string) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			Model    string    `json:"model"`
			Messages []message `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected messages shape: %+v", req.Messages)
		}
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": answer(req.Model, req.Messages[1].Content)}},
			},
			"usage": map[string]interface{}{
				"prompt_tokens": 100, "completion_tokens": 20, "total_tokens": 120, "cost": 0.0005,
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestClassifySparteStage1Only(t *testing.T) {
	srv, calls := fakeCompletion(t, func(model, user string) string {
		return `{"sparte":"sach","confidence":"high","vu_name":"Allianz","document_name":"Beitragsrechnung"}`
	})
	c := New(Config{APIURL: srv.URL, Model: "big", MiniModel: "mini"})

	out, err := c.ClassifySparte(context.Background(), Settings{Stage2Enabled: true}, "Rechnung ...")
	if err != nil {
		t.Fatal(err)
	}
	if out.Stage != 1 || out.Result.Sparte != "sach" {
		t.Fatalf("outcome = stage %d sparte %s", out.Stage, out.Result.Sparte)
	}
	if calls.Load() != 1 {
		t.Fatalf("high-confidence stage 1 should not trigger stage 2, got %d calls", calls.Load())
	}
	if out.Usage.TotalTokens != 120 || out.Usage.ServerCostUSD != 0.0005 {
		t.Fatalf("usage not threaded: %+v", out.Usage)
	}
}

func TestClassifySparteStage2OnLowConfidence(t *testing.T) {
	srv, calls := fakeCompletion(t, func(model, user string) string {
		if model == "mini" {
			return `{"sparte":"sonstige","confidence":"low"}`
		}
		return `{"sparte":"leben","confidence":"high","document_name":"Nachtrag"}`
	})
	c := New(Config{APIURL: srv.URL, Model: "big", MiniModel: "mini"})

	out, err := c.ClassifySparte(context.Background(), Settings{Stage2Enabled: true}, "text")
	if err != nil {
		t.Fatal(err)
	}
	if out.Stage != 2 || out.Result.Sparte != "leben" || out.Model != "big" {
		t.Fatalf("stage 2 not applied: %+v", out)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
	// Usage of both stages is aggregated.
	if out.Usage.TotalTokens != 240 {
		t.Fatalf("aggregated tokens = %d", out.Usage.TotalTokens)
	}
}

func TestClassifySparteStage2Disabled(t *testing.T) {
	srv, calls := fakeCompletion(t, func(model, user string) string {
		return `{"sparte":"sonstige","confidence":"low"}`
	})
	c := New(Config{APIURL: srv.URL, Model: "big", MiniModel: "mini"})

	out, err := c.ClassifySparte(context.Background(), Settings{}, "text")
	if err != nil {
		t.Fatal(err)
	}
	if out.Stage != 1 || calls.Load() != 1 {
		t.Fatal("disabled stage 2 must not run")
	}
}

func TestClassifySparteStripsMarkdownFences(t *testing.T) {
	srv, _ := fakeCompletion(t, func(model, user string) string {
		return "```json\n{\"sparte\":\"kranken\",\"confidence\":\"high\"}\n```"
	})
	c := New(Config{APIURL: srv.URL, Model: "m"})
	out, err := c.ClassifySparte(context.Background(), Settings{}, "text")
	if err != nil {
		t.Fatal(err)
	}
	if out.Result.Sparte != "kranken" {
		t.Fatalf("sparte = %s", out.Result.Sparte)
	}
}

func TestNormalizeSparteClampsInvalid(t *testing.T) {
	r := normalizeSparte(SparteResult{Sparte: "KFZ", Confidence: "very sure"})
	if r.Sparte != "sonstige" || r.Confidence != "low" {
		t.Fatalf("got %+v", r)
	}
	r = normalizeSparte(SparteResult{Sparte: " Sach ", Confidence: "medium"})
	if r.Sparte != "sach" || r.Confidence != "medium" {
		t.Fatalf("got %+v", r)
	}
}

func TestClassifyCourtageMinimal(t *testing.T) {
	srv, _ := fakeCompletion(t, func(model, user string) string {
		return `{"insurer":"Hanse Merkur","document_date_iso":"2026-01-31"}`
	})
	c := New(Config{APIURL: srv.URL, Model: "m"})
	r, usage, err := c.ClassifyCourtageMinimal(context.Background(), Settings{}, "Courtageabrechnung ...")
	if err != nil {
		t.Fatal(err)
	}
	if r.Insurer != "Hanse Merkur" || r.DocumentDateISO != "2026-01-31" {
		t.Fatalf("got %+v", r)
	}
	if usage.TotalTokens == 0 {
		t.Fatal("usage missing")
	}
}

func TestSemaphoreBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int64
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		fmt.Fprint(w, `{"choices":[{"message":{"content":"{\"sparte\":\"sach\",\"confidence\":\"high\"}"}}],"usage":{}}`)
	}))
	defer srv.Close()

	c := New(Config{APIURL: srv.URL, Model: "m"})
	const burst = 12
	var wg sync.WaitGroup
	for i := 0; i < burst; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.ClassifySparte(context.Background(), Settings{}, "text")
		}()
	}

	// Let the burst queue up, then drain.
	for inFlight.Load() < maxConcurrentCalls {
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	if got := peak.Load(); got > maxConcurrentCalls {
		t.Fatalf("peak concurrency %d exceeds semaphore capacity %d", got, maxConcurrentCalls)
	}
}

func TestTruncateBoundsPromptInput(t *testing.T) {
	s := Settings{MaxTextLength: 10}
	if got := s.truncate("0123456789abcdef"); got != "0123456789" {
		t.Fatalf("truncate = %q", got)
	}
	if got := s.truncate("short"); got != "short" {
		t.Fatalf("truncate = %q", got)
	}
}
