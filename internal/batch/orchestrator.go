// Package batch drives inbox processing: a fixed worker pool over the
// pending documents, thread-safe progress reporting, credit bookkeeping
// and the delayed cost reconciliation that follows every batch.
package batch

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acencia/atlas/internal/archive"
	"github.com/acencia/atlas/internal/classify"
)

// DefaultMaxWorkers is the worker-pool size unless configured otherwise.
const DefaultMaxWorkers = 8

const (
	// reconcileDelayKnownCost applies when per-call costs were reported
	// inline and only need a settling window.
	reconcileDelayKnownCost = 5 * time.Second
	// reconcileDelayBalance applies when cost must be derived from the
	// provider balance, which lags behind usage.
	reconcileDelayBalance = 90 * time.Second
)

// Processor classifies one document; satisfied by classify.Engine.
type Processor interface {
	Process(ctx context.Context, id int64) classify.ProcessingResult
}

// Repo is the repository slice the orchestrator needs.
type Repo interface {
	List(ctx context.Context, f archive.Filter) ([]archive.Document, error)
	AddBatchHistory(ctx context.Context, action string, payload map[string]any) (int64, error)
}

// Pausable is the auto-refresh cache surface; the orchestrator suspends
// refreshes for the batch duration.
type Pausable interface {
	Pause()
	Resume()
}

// Progress is invoked after every finished document with a monotonic
// counter. Callbacks must be quick; they run on worker goroutines.
type Progress func(completed, total int, message string)

// Result is the immutable batch outcome.
type Result struct {
	BatchID            string
	Results            []classify.ProcessingResult
	Total              int
	SuccessCount       int
	FailureCount       int
	CreditsBefore      *float64
	TotalCostUSD       float64
	CostPerDocumentUSD float64
	DurationSeconds    float64
	Provider           string
}

// Orchestrator runs one batch at a time.
type Orchestrator struct {
	repo       Repo
	engine     Processor
	cache      Pausable      // optional
	credits    CreditsSource // optional
	maxWorkers int
	logf       func(format string, args ...any)
	sleep      func(time.Duration)
}

type Option func(*Orchestrator)

func WithMaxWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxWorkers = n
		}
	}
}

func WithCache(c Pausable) Option {
	return func(o *Orchestrator) { o.cache = c }
}

func WithCredits(c CreditsSource) Option {
	return func(o *Orchestrator) { o.credits = c }
}

func New(repo Repo, engine Processor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		repo:       repo,
		engine:     engine,
		maxWorkers: DefaultMaxWorkers,
		logf:       log.Printf,
		sleep:      time.Sleep,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ProcessInbox classifies every pending document in eingang. Cancellation
// is cooperative: workers finish their current document, remaining queue
// entries are dropped. The returned channel closes when the delayed cost
// reconciliation has run (immediately when there is nothing to reconcile).
func (o *Orchestrator) ProcessInbox(ctx context.Context, progress Progress) (*Result, <-chan struct{}, error) {
	start := time.Now()

	docs, err := o.repo.List(ctx, archive.Filter{BoxType: archive.BoxEingang})
	if err != nil {
		return nil, nil, err
	}
	var pending []int64
	for _, d := range docs {
		if d.ProcessingStatus == archive.StatusManualExcluded {
			continue
		}
		pending = append(pending, d.ID)
	}

	res := &Result{BatchID: uuid.NewString(), Total: len(pending)}
	if o.credits != nil {
		res.Provider = o.credits.Provider()
		if bal, err := o.credits.Balance(ctx); err == nil {
			res.CreditsBefore = &bal
		} else if !errors.Is(err, ErrNoBalance) {
			o.logf("batch: credits before: %v", err)
		}
	}

	if o.cache != nil {
		o.cache.Pause()
		defer o.cache.Resume()
	}

	o.runPool(ctx, pending, res, progress)

	res.DurationSeconds = time.Since(start).Seconds()
	if res.Total > 0 {
		res.CostPerDocumentUSD = res.TotalCostUSD / float64(res.Total)
	}

	historyID, err := o.repo.AddBatchHistory(ctx, "batch_complete", map[string]any{
		"batch_id":         res.BatchID,
		"total":            res.Total,
		"success_count":    res.SuccessCount,
		"failure_count":    res.FailureCount,
		"total_cost_usd":   res.TotalCostUSD,
		"duration_seconds": res.DurationSeconds,
		"provider":         res.Provider,
		"cost_pending":     true,
	})
	if err != nil {
		o.logf("batch: history entry: %v", err)
	}

	done := o.scheduleReconciliation(historyID, res)
	return res, done, nil
}

// runPool fans the pending ids out over maxWorkers workers. The progress
// counter is shared and atomic with respect to the callback.
func (o *Orchestrator) runPool(ctx context.Context, pending []int64, res *Result, progress Progress) {
	ids := make(chan int64)
	var mu sync.Mutex
	completed := 0

	var wg sync.WaitGroup
	for w := 0; w < o.maxWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range ids {
				// Cancellation is checked between documents only; a
				// started classification always runs to completion.
				if ctx.Err() != nil {
					continue
				}
				r := o.engine.Process(ctx, id)

				mu.Lock()
				res.Results = append(res.Results, r)
				res.TotalCostUSD += r.CostUSD
				if r.Success && r.TargetBox != archive.BoxSonstige {
					res.SuccessCount++
				} else {
					res.FailureCount++
				}
				completed++
				c := completed
				mu.Unlock()
				if progress != nil {
					progress(c, len(pending), r.OriginalFilename)
				}
			}
		}()
	}
	for _, id := range pending {
		ids <- id
	}
	close(ids)
	wg.Wait()
}

// scheduleReconciliation writes the batch_cost_update row after the
// provider-dependent delay. Accumulated server cost wins over the balance
// diff when both are available.
func (o *Orchestrator) scheduleReconciliation(historyID int64, res *Result) <-chan struct{} {
	done := make(chan struct{})
	if o.credits == nil && res.TotalCostUSD == 0 {
		close(done)
		return done
	}

	delay := reconcileDelayBalance
	if res.TotalCostUSD > 0 {
		delay = reconcileDelayKnownCost
	}
	creditsBefore := res.CreditsBefore
	accumulated := res.TotalCostUSD
	provider := res.Provider

	go func() {
		defer close(done)
		o.sleep(delay)

		// Reconciliation survives the batch context; bound it on its own.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		cost := accumulated
		source := "accumulated"
		if cost == 0 && o.credits != nil && creditsBefore != nil {
			if after, err := o.credits.Balance(ctx); err == nil {
				cost = *creditsBefore - after
				source = "balance_diff"
			} else {
				o.logf("batch: credits after: %v", err)
			}
		}

		if _, err := o.repo.AddBatchHistory(ctx, "batch_cost_update", map[string]any{
			"batch_history_id": historyID,
			"total_cost_usd":   cost,
			"cost_source":      source,
			"provider":         provider,
		}); err != nil {
			o.logf("batch: cost update: %v", err)
		}
	}()
	return done
}
