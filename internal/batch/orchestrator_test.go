package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/acencia/atlas/internal/archive"
	"github.com/acencia/atlas/internal/classify"
)

type fakeRepo struct {
	mu      sync.Mutex
	docs    []archive.Document
	history []map[string]any
	actions []string
}

func (f *fakeRepo) List(ctx context.Context, _ archive.Filter) ([]archive.Document, error) {
	return f.docs, nil
}

func (f *fakeRepo) AddBatchHistory(ctx context.Context, action string, payload map[string]any) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	f.history = append(f.history, payload)
	return int64(len(f.history)), nil
}

type fakeEngine struct {
	mu       sync.Mutex
	inFlight int
	peak     int
	results  map[int64]classify.ProcessingResult
	delay    time.Duration
}

func (f *fakeEngine) Process(ctx context.Context, id int64) classify.ProcessingResult {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.inFlight--
	r, ok := f.results[id]
	f.mu.Unlock()
	if !ok {
		r = classify.ProcessingResult{ID: id, Success: true, TargetBox: archive.BoxSach}
	}
	return r
}

type fakeCache struct {
	paused  atomic.Int64
	resumed atomic.Int64
}

func (f *fakeCache) Pause()  { f.paused.Add(1) }
func (f *fakeCache) Resume() { f.resumed.Add(1) }

type fakeCredits struct {
	balances []float64
	calls    atomic.Int64
}

func (f *fakeCredits) Provider() string { return "openrouter" }

func (f *fakeCredits) Balance(ctx context.Context) (float64, error) {
	n := f.calls.Add(1)
	return f.balances[int(n)-1], nil
}

func docs(ids ...int64) []archive.Document {
	var out []archive.Document
	for _, id := range ids {
		out = append(out, archive.Document{ID: id, BoxType: archive.BoxEingang, ProcessingStatus: archive.StatusPending})
	}
	return out
}

func TestProcessInboxAggregates(t *testing.T) {
	repo := &fakeRepo{docs: docs(1, 2, 3)}
	engine := &fakeEngine{results: map[int64]classify.ProcessingResult{
		1: {ID: 1, Success: true, TargetBox: archive.BoxCourtage, CostUSD: 0.002},
		2: {ID: 2, Success: true, TargetBox: archive.BoxSach, CostUSD: 0.001},
		3: {ID: 3, Success: true, TargetBox: archive.BoxSonstige},
	}}
	o := New(repo, engine)
	o.sleep = func(time.Duration) {}

	res, done, err := o.ProcessInbox(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	<-done

	if res.Total != 3 || res.SuccessCount != 2 || res.FailureCount != 1 {
		t.Fatalf("aggregates: %+v", res)
	}
	if diff := res.TotalCostUSD - 0.003; diff < -1e-9 || diff > 1e-9 {
		t.Fatalf("total cost = %f", res.TotalCostUSD)
	}
	if diff := res.CostPerDocumentUSD - 0.001; diff < -1e-9 || diff > 1e-9 {
		t.Fatalf("cost per document = %f", res.CostPerDocumentUSD)
	}
	if len(repo.actions) != 2 || repo.actions[0] != "batch_complete" || repo.actions[1] != "batch_cost_update" {
		t.Fatalf("history actions = %v", repo.actions)
	}
	if repo.history[0]["cost_pending"] != true {
		t.Fatal("batch_complete must carry cost_pending")
	}
	if id, _ := repo.history[0]["batch_id"].(string); id == "" {
		t.Fatal("batch_complete must carry a batch id")
	}
	if repo.history[1]["batch_history_id"] != int64(1) {
		t.Fatalf("cost update does not reference the batch row: %v", repo.history[1])
	}
}

func TestManualExcludedFilteredOut(t *testing.T) {
	repo := &fakeRepo{docs: []archive.Document{
		{ID: 1, BoxType: archive.BoxEingang, ProcessingStatus: archive.StatusPending},
		{ID: 2, BoxType: archive.BoxEingang, ProcessingStatus: archive.StatusManualExcluded},
	}}
	engine := &fakeEngine{results: map[int64]classify.ProcessingResult{}}
	o := New(repo, engine)
	o.sleep = func(time.Duration) {}

	res, done, err := o.ProcessInbox(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	<-done

	if res.Total != 1 || len(res.Results) != 1 || res.Results[0].ID != 1 {
		t.Fatalf("excluded document was scheduled: %+v", res)
	}
}

func TestWorkerPoolBounded(t *testing.T) {
	repo := &fakeRepo{docs: docs(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)}
	engine := &fakeEngine{delay: 10 * time.Millisecond, results: map[int64]classify.ProcessingResult{}}
	o := New(repo, engine, WithMaxWorkers(3))
	o.sleep = func(time.Duration) {}

	_, done, err := o.ProcessInbox(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	<-done

	if engine.peak > 3 {
		t.Fatalf("peak concurrency %d exceeds pool size 3", engine.peak)
	}
}

func TestProgressCounterMonotonic(t *testing.T) {
	repo := &fakeRepo{docs: docs(1, 2, 3, 4, 5)}
	engine := &fakeEngine{results: map[int64]classify.ProcessingResult{}}
	o := New(repo, engine, WithMaxWorkers(4))
	o.sleep = func(time.Duration) {}

	var mu sync.Mutex
	var seen []int
	_, done, err := o.ProcessInbox(context.Background(), func(completed, total int, _ string) {
		mu.Lock()
		seen = append(seen, completed)
		mu.Unlock()
		if total != 5 {
			t.Errorf("total = %d", total)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	<-done

	if len(seen) != 5 {
		t.Fatalf("progress fired %d times", len(seen))
	}
	counts := map[int]bool{}
	for _, c := range seen {
		if c < 1 || c > 5 || counts[c] {
			t.Fatalf("progress values not a permutation of 1..5: %v", seen)
		}
		counts[c] = true
	}
}

func TestCachePausedForBatch(t *testing.T) {
	repo := &fakeRepo{docs: docs(1)}
	engine := &fakeEngine{results: map[int64]classify.ProcessingResult{}}
	cache := &fakeCache{}
	o := New(repo, engine, WithCache(cache))
	o.sleep = func(time.Duration) {}

	_, done, err := o.ProcessInbox(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	<-done

	if cache.paused.Load() != 1 || cache.resumed.Load() != 1 {
		t.Fatalf("pause=%d resume=%d", cache.paused.Load(), cache.resumed.Load())
	}
}

func TestReconciliationUsesBalanceDiffWithoutAccumulatedCost(t *testing.T) {
	repo := &fakeRepo{docs: docs(1)}
	engine := &fakeEngine{results: map[int64]classify.ProcessingResult{
		1: {ID: 1, Success: true, TargetBox: archive.BoxSach}, // no inline cost
	}}
	credits := &fakeCredits{balances: []float64{10.0, 9.4}}
	o := New(repo, engine, WithCredits(credits))
	var slept time.Duration
	o.sleep = func(d time.Duration) { slept = d }

	res, done, err := o.ProcessInbox(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	<-done

	if res.CreditsBefore == nil || *res.CreditsBefore != 10.0 {
		t.Fatalf("credits before: %v", res.CreditsBefore)
	}
	if slept != reconcileDelayBalance {
		t.Fatalf("delay = %v, want %v", slept, reconcileDelayBalance)
	}
	upd := repo.history[len(repo.history)-1]
	if upd["cost_source"] != "balance_diff" {
		t.Fatalf("cost source = %v", upd["cost_source"])
	}
	if cost := upd["total_cost_usd"].(float64); cost < 0.59 || cost > 0.61 {
		t.Fatalf("reconciled cost = %v", cost)
	}
}

func TestReconciliationPrefersAccumulatedCost(t *testing.T) {
	repo := &fakeRepo{docs: docs(1)}
	engine := &fakeEngine{results: map[int64]classify.ProcessingResult{
		1: {ID: 1, Success: true, TargetBox: archive.BoxSach, CostUSD: 0.01},
	}}
	credits := &fakeCredits{balances: []float64{10.0, 9.0}}
	o := New(repo, engine, WithCredits(credits))
	var slept time.Duration
	o.sleep = func(d time.Duration) { slept = d }

	_, done, err := o.ProcessInbox(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	<-done

	if slept != reconcileDelayKnownCost {
		t.Fatalf("delay = %v, want %v", slept, reconcileDelayKnownCost)
	}
	upd := repo.history[len(repo.history)-1]
	if upd["cost_source"] != "accumulated" || upd["total_cost_usd"].(float64) != 0.01 {
		t.Fatalf("cost update = %v", upd)
	}
	// Balance was only needed once, before the batch.
	if credits.calls.Load() != 1 {
		t.Fatalf("balance fetched %d times", credits.calls.Load())
	}
}

func TestCancelSkipsRemainingDocuments(t *testing.T) {
	repo := &fakeRepo{docs: docs(1, 2, 3, 4, 5, 6, 7, 8)}
	engine := &fakeEngine{delay: 5 * time.Millisecond, results: map[int64]classify.ProcessingResult{}}
	o := New(repo, engine, WithMaxWorkers(1))
	o.sleep = func(time.Duration) {}

	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	res, done, err := o.ProcessInbox(ctx, func(completed, total int, _ string) {
		once.Do(cancel)
	})
	if err != nil {
		t.Fatal(err)
	}
	<-done

	if len(res.Results) >= 8 {
		t.Fatalf("cancellation ignored, %d documents processed", len(res.Results))
	}
}
