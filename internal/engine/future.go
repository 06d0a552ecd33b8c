package engine

import (
	"context"
	"sync"

	"github.com/studiowebux/asynchttp/internal/types"
)

// promise is the write side of a Future. The first fulfil wins.
type promise struct {
	mu       sync.Mutex
	done     chan struct{}
	resp     *types.Response
	err      error
	set      bool
	rejected int
}

func newPromise() *promise {
	return &promise{done: make(chan struct{})}
}

// fulfil stores the outcome and reports whether this call was the first
func (p *promise) fulfil(resp *types.Response, err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.set {
		p.rejected++
		return false
	}
	p.resp, p.err, p.set = resp, err, true
	close(p.done)
	return true
}

func (p *promise) rejectedWrites() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rejected
}

// Future is the read side of a submitted request
type Future struct {
	p *promise
}

// Done is closed once the outcome is available
func (f *Future) Done() <-chan struct{} { return f.p.done }

// Wait blocks until the outcome is available or ctx is done. Giving up on
// ctx does not cancel the request.
func (f *Future) Wait(ctx context.Context) (*types.Response, error) {
	select {
	case <-f.p.done:
		return f.p.resp, f.p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get blocks until the outcome is available
func (f *Future) Get() (*types.Response, error) {
	<-f.p.done
	return f.p.resp, f.p.err
}

// failed returns a Future already resolved with err
func failed(err error) *Future {
	p := newPromise()
	p.fulfil(nil, err)
	return &Future{p: p}
}
