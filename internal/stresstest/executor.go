package stresstest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/studiowebux/asynchttp/internal/client"
	"github.com/studiowebux/asynchttp/internal/engine"
	"github.com/studiowebux/asynchttp/internal/obs"
	"github.com/studiowebux/asynchttp/internal/types"
)

// Executor handles concurrent stress test execution
type Executor struct {
	client *client.Client
	def    types.RequestDefinition
	config *Config
	logger obs.Logger

	// OnResult, when set, receives a stats snapshot after every request. It
	// may be called from several goroutines at once.
	OnResult func(Stats)

	mu    sync.Mutex
	stats *Stats
	run   *Run
}

// NewExecutor creates a new stress test executor. def is built once per
// request so every submission gets a fresh body.
func NewExecutor(c *client.Client, def types.RequestDefinition, config *Config, logger obs.Logger) (*Executor, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	req, err := def.Build()
	if err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	stats := NewStats()
	stats.TotalRequests = config.TotalRequests

	return &Executor{
		client: c,
		def:    def,
		config: config,
		logger: obs.OrNop(logger),
		stats:  stats,
		run: &Run{
			Name:          config.Name,
			Method:        req.Method,
			URL:           req.URL.String(),
			Status:        StatusRunning,
			Concurrency:   config.Concurrency,
			TotalRequests: config.TotalRequests,
		},
	}, nil
}

// Run sends the requests and blocks until every scheduled request has
// finished. Cancelling ctx stops scheduling and abandons requests in flight.
func (e *Executor) Run(ctx context.Context) (*Run, error) {
	start := time.Now()
	e.mu.Lock()
	e.run.StartedAt = start
	e.mu.Unlock()

	schedCtx := ctx
	if e.config.Duration > 0 {
		var cancel context.CancelFunc
		schedCtx, cancel = context.WithTimeout(ctx, e.config.Duration)
		defer cancel()
	}

	var g errgroup.Group
	g.SetLimit(e.config.Concurrency)

schedule:
	for i := 0; i < e.config.TotalRequests; i++ {
		if schedCtx.Err() != nil {
			break
		}
		if wait := e.config.startOffset(i) - time.Since(start); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-schedCtx.Done():
				t.Stop()
				break schedule
			}
		}
		g.Go(func() error {
			e.execute(ctx)
			return nil
		})
	}
	g.Wait()

	status := StatusCompleted
	if ctx.Err() != nil {
		status = StatusCancelled
	}
	run := e.finalize(status)
	e.logger.Logf(obs.Info, "stress run %q %s: %d/%d requests, %d errors, p95 %dms",
		run.Name, run.Status, run.CompletedRequests, run.TotalRequests, run.TotalErrors, run.P95DurationMs)
	return run, ctx.Err()
}

func (e *Executor) execute(ctx context.Context) {
	e.mu.Lock()
	e.stats.ActiveWorkers++
	e.mu.Unlock()

	kind := ""
	var durationMs int64
	req, err := e.def.Build()
	if err != nil {
		kind = engine.KindName(engine.ErrInvalidRequest)
	} else {
		result, err := e.client.Exchange(ctx, req, types.RequestOptions{})
		durationMs = result.Duration
		switch {
		case err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()):
			// abandoned on cancellation, not a sample
			e.mu.Lock()
			e.stats.ActiveWorkers--
			e.mu.Unlock()
			return
		case err != nil:
			kind = engine.KindName(err)
			e.logger.Logf(obs.Debug, "stress request failed: %v", err)
		default:
			if reason := e.config.validate(result.Status, result.Body); reason != "" {
				kind = KindValidation
				e.logger.Logf(obs.Debug, "stress response rejected: %s", reason)
			}
		}
	}

	e.mu.Lock()
	e.stats.AddResult(durationMs, kind)
	e.stats.ActiveWorkers--
	var snapshot Stats
	if e.OnResult != nil {
		snapshot = e.stats.clone()
	}
	e.mu.Unlock()

	if e.OnResult != nil {
		e.OnResult(snapshot)
	}
}

// finalize copies the statistics into the run record
func (e *Executor) finalize(status string) *Run {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	r := e.run
	r.Status = status
	r.CompletedAt = &now
	r.CompletedRequests = e.stats.CompletedRequests
	r.TotalErrors = e.stats.ErrorCount
	r.ValidationErrors = e.stats.ValidationErrorCount
	lat := e.stats.Latency()
	r.AvgDurationMs = lat.Avg
	r.MinDurationMs, r.MaxDurationMs = lat.Min, lat.Max
	r.P50DurationMs, r.P95DurationMs, r.P99DurationMs = lat.P50, lat.P95, lat.P99
	r.Errors = maps.Clone(e.stats.ErrorKinds)

	out := *r
	return &out
}

// Stats returns a copy of the current statistics
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats.clone()
}
