package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/studiowebux/asynchttp/internal/connection"
	"github.com/studiowebux/asynchttp/internal/obs"
	"github.com/studiowebux/asynchttp/internal/types"
)

// Metric names
const (
	MetricRequests        = "asynchttp_requests_total"
	MetricErrors          = "asynchttp_requests_error"
	MetricConnectFailover = "asynchttp_connect_failover_total"
	MetricDuration        = "asynchttp_request_duration_ms"
)

const taskQueueSize = 256

// Config wires an engine to its capabilities
type Config struct {
	Resolver    connection.Resolver
	Connections connection.Factory
	// Timeout bounds each request from submission to completion. Zero
	// disables the timer.
	Timeout time.Duration
	Logger  obs.Logger
	Meter   obs.Meter
}

// Engine runs requests on one event loop goroutine
type Engine struct {
	cfg   Config
	log   obs.Logger
	meter obs.Meter

	tasks    chan func()
	abort    chan struct{}
	loopDone chan struct{}
	nextID   atomic.Uint64

	mu        sync.Mutex
	closed    bool
	pending   sync.WaitGroup
	abortOnce sync.Once
	stopOnce  sync.Once

	// loop only
	active  map[*requestContext]struct{}
	aborted bool
}

// New starts an engine. Resolver and Connections default to the TCP
// implementations when nil.
func New(cfg Config) *Engine {
	if cfg.Resolver == nil {
		cfg.Resolver = connection.NewTCPResolver(0)
	}
	if cfg.Connections == nil {
		cfg.Connections = connection.DefaultFactory(nil)
	}
	e := &Engine{
		cfg:      cfg,
		log:      obs.OrNop(cfg.Logger),
		meter:    obs.OrNopMeter(cfg.Meter),
		tasks:    make(chan func(), taskQueueSize),
		abort:    make(chan struct{}),
		loopDone: make(chan struct{}),
		active:   make(map[*requestContext]struct{}),
	}
	go e.loop()
	return e
}

func (e *Engine) loop() {
	defer close(e.loopDone)
	abort := e.abort
	for {
		select {
		case task, ok := <-e.tasks:
			if !ok {
				return
			}
			task()
		case <-abort:
			abort = nil
			e.abortAll()
		}
	}
}

// post queues fn on the loop. Callers must hold a pending count.
func (e *Engine) post(fn func()) {
	e.tasks <- fn
}

// Submit starts req and returns its Future. It does not block on I/O. The
// engine owns req until the Future resolves.
func (e *Engine) Submit(req *types.Request, opts types.RequestOptions) *Future {
	if req == nil || req.URL == nil {
		return failed(&Error{Stage: StageResolving, Kind: ErrInvalidRequest, Err: fmt.Errorf("nil request or url")})
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return failed(&Error{Stage: StageResolving, Kind: ErrEngineClosed})
	}
	e.pending.Add(1)
	e.mu.Unlock()

	rc := newRequestContext(e.nextID.Add(1), req, opts)
	e.meter.Counter(MetricRequests, 1)
	e.post(func() { e.start(rc) })
	return &Future{p: rc.promise}
}

// Close rejects new requests and waits for in-flight ones to finish
func (e *Engine) Close() error {
	return e.Shutdown(context.Background())
}

// Shutdown rejects new requests and waits for in-flight ones to finish. When
// ctx is done first, the remaining requests fail with ErrEngineClosed and
// Shutdown returns ctx.Err() once the loop has stopped.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		e.pending.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = ctx.Err()
		e.abortOnce.Do(func() { close(e.abort) })
		<-drained
	}
	e.stopOnce.Do(func() { close(e.tasks) })
	<-e.loopDone
	return err
}

func (e *Engine) abortAll() {
	e.aborted = true
	for rc := range e.active {
		e.log.Logf(obs.Warn, "request %d aborted by shutdown during %s", rc.id, rc.stage)
		e.fail(rc, ErrEngineClosed, nil)
	}
}

// async runs op on its own goroutine and posts the continuation it returns
// back to the loop. Continuations of finished requests are dropped.
func (e *Engine) async(rc *requestContext, op func(ctx context.Context) func()) {
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		next := op(rc.ctx)
		e.post(func() {
			if e.stale(rc) {
				return
			}
			next()
		})
	}()
}

// stale reports whether a completion for rc must be discarded
func (e *Engine) stale(rc *requestContext) bool {
	if rc.timedOut {
		e.fail(rc, ErrTimeout, nil)
		return true
	}
	if rc.finished {
		e.log.Logf(obs.Debug, "request %d: dropping completion after finish", rc.id)
		return true
	}
	return false
}

func (e *Engine) enter(rc *requestContext, s Stage) {
	rc.stage = s
	e.log.Logf(obs.Debug, "request %d: %s", rc.id, s)
}

func (e *Engine) start(rc *requestContext) {
	e.active[rc] = struct{}{}
	if e.aborted {
		e.fail(rc, ErrEngineClosed, nil)
		return
	}
	if e.cfg.Timeout > 0 {
		e.pending.Add(1)
		rc.timer = time.AfterFunc(e.cfg.Timeout, func() {
			e.post(func() { e.onTimeout(rc) })
			e.pending.Done()
		})
	}
	e.resolve(rc)
}

func (e *Engine) onTimeout(rc *requestContext) {
	if rc.finished {
		return
	}
	rc.timedOut = true
	e.log.Logf(obs.Warn, "request %d timed out during %s", rc.id, rc.stage)
	if err := rc.disconnect(); err != nil {
		e.log.Logf(obs.Debug, "request %d: disconnect: %v", rc.id, err)
	}
	e.fail(rc, ErrTimeout, fmt.Errorf("no response within %s", e.cfg.Timeout))
}

func (e *Engine) fail(rc *requestContext, kind, err error) {
	e.finish(rc, nil, &Error{Stage: rc.stage, Kind: kind, Err: err})
}

// finish resolves the future and releases everything the request holds.
// Only the first call for a request has any effect.
func (e *Engine) finish(rc *requestContext, resp *types.Response, err error) {
	if rc.finished {
		return
	}
	rc.finished = true
	if rc.timer != nil && rc.timer.Stop() {
		e.pending.Done()
	}
	if derr := rc.disconnect(); derr != nil {
		e.log.Logf(obs.Debug, "request %d: disconnect: %v", rc.id, derr)
	}
	rc.cancel()
	delete(e.active, rc)

	if !rc.promise.fulfil(resp, err) {
		e.log.Logf(obs.Warn, "request %d: result already delivered", rc.id)
	}

	elapsed := time.Since(rc.started)
	e.meter.Histogram(MetricDuration, float64(elapsed.Milliseconds()))
	if err != nil {
		e.meter.Counter(MetricErrors, 1, obs.Label{Key: "kind", Value: KindName(err)})
		e.log.Logf(obs.Error, "request %d %s %s failed: %v", rc.id, rc.req.Method, rc.req.URL, err)
	} else {
		rc.stage = StageDone
		e.log.Logf(obs.Info, "request %d %s %s -> %d in %s", rc.id, rc.req.Method, rc.req.URL, resp.StatusCode, elapsed)
	}
	e.pending.Done()
}
