package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/studiowebux/asynchttp/internal/connection/conntest"
	"github.com/studiowebux/asynchttp/internal/engine"
	"github.com/studiowebux/asynchttp/internal/types"
)

const okResponse = "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"

func newMockClient(t *testing.T, opts types.ClientOptions, reads ...string) (*Client, *conntest.Conn) {
	t.Helper()
	conn := conntest.NewConn(reads...)
	c := NewWithMocks(conntest.NewResolver(conntest.Endpoint("10.0.0.1:80")), conn, opts)
	t.Cleanup(func() { c.Close() })
	return c, conn
}

func sentRequest(t *testing.T, conn *conntest.Conn) *http.Request {
	t.Helper()
	r, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(conn.Written())))
	if err != nil {
		t.Fatalf("written request does not parse: %v", err)
	}
	return r
}

func TestClient_DefaultUserAgent(t *testing.T) {
	c, conn := newMockClient(t, types.ClientOptions{}, okResponse)
	req, _ := types.NewRequest("GET", "http://example.com/", nil)

	resp, err := c.Execute(req, types.RequestOptions{}).Get()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Body) != "ok" {
		t.Errorf("body = %q", resp.Body)
	}
	if ua := sentRequest(t, conn).UserAgent(); ua != types.DefaultUserAgent {
		t.Errorf("User-Agent = %q, want %q", ua, types.DefaultUserAgent)
	}
	if req.Headers.Has("User-Agent") {
		t.Errorf("caller's request was modified")
	}
}

func TestClient_CustomUserAgent(t *testing.T) {
	c, conn := newMockClient(t, types.ClientOptions{UserAgent: "tester/1.0"}, okResponse)
	req, _ := types.NewRequest("GET", "http://example.com/", nil)
	if _, err := c.Execute(req, types.RequestOptions{}).Get(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ua := sentRequest(t, conn).UserAgent(); ua != "tester/1.0" {
		t.Errorf("User-Agent = %q", ua)
	}
}

func TestClient_KeepsCallerUserAgent(t *testing.T) {
	c, conn := newMockClient(t, types.ClientOptions{}, okResponse)
	req, _ := types.NewRequest("GET", "http://example.com/", nil)
	req.Headers.Add("user-agent", "mine")
	if _, err := c.Execute(req, types.RequestOptions{}).Get(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := sentRequest(t, conn)
	if got := sent.Header.Values("User-Agent"); len(got) != 1 || got[0] != "mine" {
		t.Errorf("User-Agent values = %v", got)
	}
}

func TestClient_Verbs(t *testing.T) {
	tests := []struct {
		name string
		call func(*Client, *types.Request) *engine.Future
		want string
	}{
		{"get", func(c *Client, r *types.Request) *engine.Future { return c.Get(r, types.RequestOptions{}) }, "GET"},
		{"post", func(c *Client, r *types.Request) *engine.Future { return c.Post(r, types.RequestOptions{}) }, "POST"},
		{"put", func(c *Client, r *types.Request) *engine.Future { return c.Put(r, types.RequestOptions{}) }, "PUT"},
		{"delete", func(c *Client, r *types.Request) *engine.Future { return c.Delete(r, types.RequestOptions{}) }, "DELETE"},
		{"head", func(c *Client, r *types.Request) *engine.Future { return c.Head(r, types.RequestOptions{}) }, "HEAD"},
		{"options", func(c *Client, r *types.Request) *engine.Future { return c.Options(r, types.RequestOptions{}) }, "OPTIONS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, conn := newMockClient(t, types.ClientOptions{}, "HTTP/1.1 204 No Content\r\n\r\n")
			req, _ := types.NewRequest("PATCH", "http://example.com/thing", nil)
			if _, err := tt.call(c, req).Get(); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := sentRequest(t, conn).Method; got != tt.want {
				t.Errorf("method = %q, want %q", got, tt.want)
			}
			if req.Method != "PATCH" {
				t.Errorf("caller's method changed to %q", req.Method)
			}
		})
	}
}

func TestClient_Timeout(t *testing.T) {
	conn := conntest.NewConn().BlockWrites()
	c := NewWithMocks(conntest.NewResolver(conntest.Endpoint("10.0.0.1:80")), conn,
		types.ClientOptions{Timeout: 50 * time.Millisecond})
	req, _ := types.NewRequest("GET", "http://example.com/", nil)
	_, err := c.Get(req, types.RequestOptions{}).Get()
	if !errors.Is(err, engine.ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if conn.Disconnects() != 1 {
		t.Errorf("Disconnects = %d", conn.Disconnects())
	}
}

func TestClient_RealServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s %s", r.Method, r.UserAgent())
	}))
	defer srv.Close()

	c := New(types.DefaultClientOptions())
	defer c.Close()
	req, err := types.NewRequest("GET", srv.URL, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.Put(req, types.RequestOptions{}).Wait(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "PUT " + types.DefaultUserAgent; string(resp.Body) != want {
		t.Errorf("body = %q, want %q", resp.Body, want)
	}
}

func TestClient_ClosedRejects(t *testing.T) {
	c, _ := newMockClient(t, types.ClientOptions{})
	c.Close()
	req, _ := types.NewRequest("GET", "http://example.com/", nil)
	if _, err := c.Get(req, types.RequestOptions{}).Get(); !errors.Is(err, engine.ErrEngineClosed) {
		t.Errorf("err = %v, want ErrEngineClosed", err)
	}
}

func TestClient_Exchange(t *testing.T) {
	c, conn := newMockClient(t, types.ClientOptions{},
		"HTTP/1.1 201 Created\r\nContent-Type: text/plain\r\n\r\n", "done", "")
	req, _ := types.NewRequest("POST", "http://example.com/items", []byte("abc"))

	var received []uint64
	result, err := c.Exchange(context.Background(), req, types.RequestOptions{
		Progress: func(dir types.Direction, total uint64) {
			if dir == types.Received {
				received = append(received, total)
			}
		},
	})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if result.Status != 201 || result.StatusText != "Created" || result.Version != "HTTP/1.1" {
		t.Errorf("status = %d %q %q", result.Status, result.StatusText, result.Version)
	}
	if result.Body != "done" || result.ResponseSize != 4 {
		t.Errorf("body = %q size %d", result.Body, result.ResponseSize)
	}
	if got := uint64(len(conn.Written())); result.RequestSize != got {
		t.Errorf("RequestSize = %d, want %d", result.RequestSize, got)
	}
	if result.Method != "POST" || result.URL != "http://example.com/items" {
		t.Errorf("method/url = %s %s", result.Method, result.URL)
	}
	if len(received) != 1 || received[0] != 4 {
		t.Errorf("caller progress = %v, want [4]", received)
	}
}

func TestClient_ExchangeFailure(t *testing.T) {
	conn := conntest.NewConn()
	conn.FailConnect(conntest.Endpoint("10.0.0.1:80"), conntest.ErrRefused)
	c := NewWithMocks(conntest.NewResolver(conntest.Endpoint("10.0.0.1:80")), conn, types.ClientOptions{})
	defer c.Close()

	req, _ := types.NewRequest("GET", "http://example.com/", nil)
	result, err := c.Exchange(context.Background(), req, types.RequestOptions{})
	if !errors.Is(err, engine.ErrConnectionExhausted) {
		t.Fatalf("Exchange() error = %v, want ErrConnectionExhausted", err)
	}
	if result == nil || result.Error == "" || result.Status != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestResolverTTL(t *testing.T) {
	def := types.DefaultClientOptions().ResolverCacheTTL
	tests := []struct {
		name string
		opts types.ClientOptions
		want time.Duration
	}{
		{"cache off", types.ClientOptions{ResolverCacheTTL: time.Minute}, 0},
		{"cache on", types.ClientOptions{CacheResolved: true, ResolverCacheTTL: time.Minute}, time.Minute},
		{"cache on without ttl", types.ClientOptions{CacheResolved: true}, def},
		{"cache on with negative ttl", types.ClientOptions{CacheResolved: true, ResolverCacheTTL: -time.Second}, def},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolverTTL(tt.opts); got != tt.want {
				t.Errorf("resolverTTL = %v, want %v", got, tt.want)
			}
		})
	}
}
