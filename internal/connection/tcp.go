package connection

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/studiowebux/asynchttp/internal/types"
)

// DialTimeout bounds a single connect attempt when ctx has no deadline
const DialTimeout = 10 * time.Second

// NetConn is a Connection over a net.Conn, optionally wrapped in TLS
type NetConn struct {
	tlsConfig *tls.Config
	useTLS    bool

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

// NewTCP returns an unconnected plain TCP connection
func NewTCP() *NetConn {
	return &NetConn{}
}

// NewTLS returns an unconnected TLS connection. A nil config uses defaults.
func NewTLS(cfg *tls.Config) *NetConn {
	return &NetConn{tlsConfig: cfg, useTLS: true}
}

func (c *NetConn) Connect(ctx context.Context, ep types.Endpoint, host string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	d := net.Dialer{Timeout: DialTimeout}
	raw, err := d.DialContext(ctx, "tcp", ep.String())
	if err != nil {
		return err
	}
	conn := raw
	if c.useTLS {
		cfg := &tls.Config{}
		if c.tlsConfig != nil {
			cfg = c.tlsConfig.Clone()
		}
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
		if len(cfg.NextProtos) == 0 {
			cfg.NextProtos = []string{"http/1.1"}
		}
		tc := tls.Client(raw, cfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			_ = raw.Close()
			return fmt.Errorf("tls handshake: %w", err)
		}
		conn = tc
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = conn.Close()
		return ErrClosed
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	return nil
}

func (c *NetConn) current() (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

// watch forces an immediate deadline on conn once ctx is done
func watch(ctx context.Context, conn net.Conn) func() bool {
	return context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
}

// ctxErr prefers the context error over the deadline error it caused
func ctxErr(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *NetConn) Write(ctx context.Context, p []byte) (int, error) {
	conn, err := c.current()
	if err != nil {
		return 0, err
	}
	stop := watch(ctx, conn)
	defer stop()
	n, err := conn.Write(p)
	return n, ctxErr(ctx, err)
}

func (c *NetConn) ReadUntil(ctx context.Context, buf *bytes.Buffer, delim []byte) (int, error) {
	if bytes.Contains(buf.Bytes(), delim) {
		return 0, nil
	}
	conn, err := c.current()
	if err != nil {
		return 0, err
	}
	stop := watch(ctx, conn)
	defer stop()
	n, err := readUntil(conn, buf, delim)
	return n, ctxErr(ctx, err)
}

func (c *NetConn) Read(ctx context.Context, buf *bytes.Buffer, max int) (int, error) {
	conn, err := c.current()
	if err != nil {
		return 0, err
	}
	stop := watch(ctx, conn)
	defer stop()
	n, err := readSome(conn, buf, max)
	return n, ctxErr(ctx, err)
}

func (c *NetConn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
