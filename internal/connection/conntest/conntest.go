// Package conntest provides scripted Resolver and Connection implementations
// for driving the engine without a network.
package conntest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"sync"

	"github.com/studiowebux/asynchttp/internal/connection"
	"github.com/studiowebux/asynchttp/internal/types"
)

// ErrRefused is the default failure for endpoints marked with FailConnect
var ErrRefused = errors.New("conntest: connection refused")

// Resolver returns Endpoints, or Err when set
type Resolver struct {
	Endpoints []types.Endpoint
	Err       error

	mu    sync.Mutex
	calls []string
}

// NewResolver returns a resolver yielding eps in order
func NewResolver(eps ...types.Endpoint) *Resolver {
	return &Resolver{Endpoints: eps}
}

func (r *Resolver) Resolve(ctx context.Context, host string, port uint16) ([]types.Endpoint, error) {
	r.mu.Lock()
	r.calls = append(r.calls, net.JoinHostPort(host, strconv.Itoa(int(port))))
	r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	out := make([]types.Endpoint, len(r.Endpoints))
	copy(out, r.Endpoints)
	return out, nil
}

// Calls returns every host:port passed to Resolve
func (r *Resolver) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// Conn is a scripted Connection. Reads are served from Reads in order, one
// chunk per underlying read; an empty chunk or running out of chunks means
// the peer closed the stream.
type Conn struct {
	mu          sync.Mutex
	failConnect map[types.Endpoint]error
	reads       [][]byte
	writeErr    error
	readErr     error
	blockWrites bool

	connects    []types.Endpoint
	writes      [][]byte
	disconnects int
	calls       []string
	unblock     chan struct{}
}

// NewConn returns a connection that will serve reads in order
func NewConn(reads ...string) *Conn {
	c := &Conn{
		failConnect: make(map[types.Endpoint]error),
		unblock:     make(chan struct{}),
	}
	for _, r := range reads {
		c.reads = append(c.reads, []byte(r))
	}
	return c
}

// FailConnect makes Connect to ep fail with err, or ErrRefused when err is nil
func (c *Conn) FailConnect(ep types.Endpoint, err error) *Conn {
	if err == nil {
		err = ErrRefused
	}
	c.mu.Lock()
	c.failConnect[ep] = err
	c.mu.Unlock()
	return c
}

// BlockWrites makes every Write wait until ctx is done or Disconnect is called
func (c *Conn) BlockWrites() *Conn {
	c.mu.Lock()
	c.blockWrites = true
	c.mu.Unlock()
	return c
}

// FailWrites makes every Write return err
func (c *Conn) FailWrites(err error) *Conn {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
	return c
}

// FailReads makes every read return err once the script is exhausted
func (c *Conn) FailReads(err error) *Conn {
	c.mu.Lock()
	c.readErr = err
	c.mu.Unlock()
	return c
}

func (c *Conn) record(call string) {
	c.calls = append(c.calls, call)
}

func (c *Conn) Connect(ctx context.Context, ep types.Endpoint, host string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("connect " + ep.String())
	c.connects = append(c.connects, ep)
	if err, ok := c.failConnect[ep]; ok {
		return err
	}
	return nil
}

func (c *Conn) Write(ctx context.Context, p []byte) (int, error) {
	c.mu.Lock()
	c.record(fmt.Sprintf("write %d", len(p)))
	if c.blockWrites {
		unblock := c.unblock
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-unblock:
			return 0, connection.ErrClosed
		}
	}
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	return len(p), nil
}

// next pops one scripted chunk. ok is false when the peer has closed.
func (c *Conn) next() (chunk []byte, ok bool, err error) {
	if len(c.reads) == 0 {
		if c.readErr != nil {
			return nil, false, c.readErr
		}
		return nil, false, nil
	}
	chunk = c.reads[0]
	c.reads = c.reads[1:]
	return chunk, len(chunk) > 0, nil
}

func (c *Conn) ReadUntil(ctx context.Context, buf *bytes.Buffer, delim []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("read_until " + strconv.Quote(string(delim)))
	total := 0
	for !bytes.Contains(buf.Bytes(), delim) {
		chunk, ok, err := c.next()
		if err != nil {
			return total, err
		}
		if !ok {
			return total, fmt.Errorf("conntest: stream closed before %q", delim)
		}
		buf.Write(chunk)
		total += len(chunk)
	}
	return total, nil
}

func (c *Conn) Read(ctx context.Context, buf *bytes.Buffer, max int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("read")
	chunk, ok, err := c.next()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	if max > 0 && len(chunk) > max {
		c.reads = append([][]byte{chunk[max:]}, c.reads...)
		chunk = chunk[:max]
	}
	buf.Write(chunk)
	return len(chunk), nil
}

func (c *Conn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("disconnect")
	c.disconnects++
	if c.disconnects == 1 {
		close(c.unblock)
	}
	return nil
}

// Connects returns the endpoints passed to Connect, in order
func (c *Conn) Connects() []types.Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Endpoint(nil), c.connects...)
}

// Written returns every successfully written byte, concatenated
func (c *Conn) Written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var b bytes.Buffer
	for _, w := range c.writes {
		b.Write(w)
	}
	return b.Bytes()
}

// Writes returns each successful Write payload
func (c *Conn) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	for i, w := range c.writes {
		out[i] = append([]byte(nil), w...)
	}
	return out
}

// Disconnects returns how many times Disconnect was called
func (c *Conn) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

// Calls returns the operation log, e.g. "connect 10.0.0.1:80", "write 42"
func (c *Conn) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// Factory returns a connection.Factory that always hands out c
func Factory(c *Conn) connection.Factory {
	return func(*url.URL) (connection.Connection, error) {
		return c, nil
	}
}

// FactoryFunc returns a connection.Factory that builds a new Conn per request
func FactoryFunc(build func() *Conn) connection.Factory {
	return func(*url.URL) (connection.Connection, error) {
		return build(), nil
	}
}

// Endpoint parses "ip:port", panicking on malformed input
func Endpoint(s string) types.Endpoint {
	return netip.MustParseAddrPort(s)
}
