// Package client is the public face of the engine: it fills in default
// headers and offers one method per HTTP verb.
package client

import (
	"context"
	"crypto/tls"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/studiowebux/asynchttp/internal/connection"
	"github.com/studiowebux/asynchttp/internal/engine"
	"github.com/studiowebux/asynchttp/internal/obs"
	"github.com/studiowebux/asynchttp/internal/types"
)

// Client submits requests to an engine it owns
type Client struct {
	opts   types.ClientOptions
	engine *engine.Engine
}

type settings struct {
	logger    obs.Logger
	meter     obs.Meter
	tlsConfig *tls.Config
	resolver  connection.Resolver
	factory   connection.Factory
}

// Option customizes a Client
type Option func(*settings)

// WithLogger sets the logger used by the engine
func WithLogger(l obs.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithMeter sets the meter used by the engine
func WithMeter(m obs.Meter) Option {
	return func(s *settings) { s.meter = m }
}

// WithTLSConfig sets the TLS configuration for https requests
func WithTLSConfig(cfg *tls.Config) Option {
	return func(s *settings) { s.tlsConfig = cfg }
}

// WithResolver replaces the system resolver
func WithResolver(r connection.Resolver) Option {
	return func(s *settings) { s.resolver = r }
}

// WithConnectionFactory replaces the TCP/TLS connection factory
func WithConnectionFactory(f connection.Factory) Option {
	return func(s *settings) { s.factory = f }
}

// New returns a client backed by the system resolver and real sockets
func New(opts types.ClientOptions, options ...Option) *Client {
	var s settings
	for _, o := range options {
		o(&s)
	}
	if s.resolver == nil {
		s.resolver = connection.NewTCPResolver(resolverTTL(opts))
	}
	if s.factory == nil {
		s.factory = connection.DefaultFactory(s.tlsConfig)
	}
	if opts.UserAgent == "" {
		opts.UserAgent = types.DefaultUserAgent
	}
	return &Client{
		opts: opts,
		engine: engine.New(engine.Config{
			Resolver:    s.resolver,
			Connections: s.factory,
			Timeout:     opts.Timeout,
			Logger:      s.logger,
			Meter:       s.meter,
		}),
	}
}

// resolverTTL is the cache lifetime for the system resolver. CacheResolved
// without a positive TTL falls back to the default TTL.
func resolverTTL(opts types.ClientOptions) time.Duration {
	if !opts.CacheResolved {
		return 0
	}
	if opts.ResolverCacheTTL <= 0 {
		return types.DefaultClientOptions().ResolverCacheTTL
	}
	return opts.ResolverCacheTTL
}

// NewWithMocks returns a client whose requests all go through resolver and
// conn. It is meant for tests.
func NewWithMocks(resolver connection.Resolver, conn connection.Connection, opts types.ClientOptions, options ...Option) *Client {
	options = append(options,
		WithResolver(resolver),
		WithConnectionFactory(func(*url.URL) (connection.Connection, error) { return conn, nil }),
	)
	return New(opts, options...)
}

// ClientOptions returns the options the client was built with
func (c *Client) ClientOptions() types.ClientOptions {
	return c.opts
}

// Execute submits req as is, adding a User-Agent header when it has none.
// req is not modified.
func (c *Client) Execute(req *types.Request, ropts types.RequestOptions) *engine.Future {
	if req != nil && !req.Headers.Has("User-Agent") {
		req = req.Clone()
		req.Headers.Add("User-Agent", c.opts.UserAgent)
	}
	return c.engine.Submit(req, ropts)
}

func (c *Client) do(method string, req *types.Request, ropts types.RequestOptions) *engine.Future {
	if req != nil {
		req = req.Clone()
		req.Method = method
	}
	return c.Execute(req, ropts)
}

// Get sends req with the GET method
func (c *Client) Get(req *types.Request, ropts types.RequestOptions) *engine.Future {
	return c.do(types.MethodGet, req, ropts)
}

// Post sends req with the POST method
func (c *Client) Post(req *types.Request, ropts types.RequestOptions) *engine.Future {
	return c.do(types.MethodPost, req, ropts)
}

// Put sends req with the PUT method
func (c *Client) Put(req *types.Request, ropts types.RequestOptions) *engine.Future {
	return c.do(types.MethodPut, req, ropts)
}

// Delete sends req with the DELETE method
func (c *Client) Delete(req *types.Request, ropts types.RequestOptions) *engine.Future {
	return c.do(types.MethodDelete, req, ropts)
}

// Head sends req with the HEAD method
func (c *Client) Head(req *types.Request, ropts types.RequestOptions) *engine.Future {
	return c.do(types.MethodHead, req, ropts)
}

// Options sends req with the OPTIONS method
func (c *Client) Options(req *types.Request, ropts types.RequestOptions) *engine.Future {
	return c.do(types.MethodOptions, req, ropts)
}

// Close waits for in-flight requests and stops the engine
func (c *Client) Close() error {
	return c.engine.Close()
}

// Shutdown is Close bounded by ctx
func (c *Client) Shutdown(ctx context.Context) error {
	return c.engine.Shutdown(ctx)
}

// Exchange executes req, waits for the outcome and flattens it into a
// RequestResult. The result is always non-nil; on failure its Error field
// carries the message and the error is returned as well.
func (c *Client) Exchange(ctx context.Context, req *types.Request, ropts types.RequestOptions) (*types.RequestResult, error) {
	result := &types.RequestResult{}
	if req != nil {
		result.Method = req.Method
		if req.URL != nil {
			result.URL = req.URL.String()
		}
	}

	var sent atomic.Uint64
	user := ropts.Progress
	ropts.Progress = func(dir types.Direction, total uint64) {
		if dir == types.Sent {
			sent.Store(total)
		}
		if user != nil {
			user(dir, total)
		}
	}

	start := time.Now()
	resp, err := c.Execute(req, ropts).Wait(ctx)
	result.Duration = time.Since(start).Milliseconds()
	result.RequestSize = sent.Load()
	if err != nil {
		result.Error = err.Error()
		return result, err
	}

	result.Version = resp.Version
	result.Status = resp.StatusCode
	result.StatusText = resp.StatusMessage
	result.Headers = resp.Headers
	result.Body = string(resp.Body)
	result.ResponseSize = uint64(len(resp.Body))
	return result, nil
}
