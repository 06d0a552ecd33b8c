package connection

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/studiowebux/asynchttp/internal/types"
)

func TestPort(t *testing.T) {
	tests := []struct {
		raw     string
		want    uint16
		wantErr bool
	}{
		{"http://example.com/", 80, false},
		{"https://example.com/", 443, false},
		{"http://example.com:8080/", 8080, false},
		{"https://example.com:8443/", 8443, false},
		{"http://example.com:0/", 0, true},
		{"http://example.com:70000/", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			u, err := url.Parse(tt.raw)
			if err != nil {
				t.Fatalf("url.Parse: %v", err)
			}
			got, err := Port(u)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got port %d", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Port = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDefaultFactory(t *testing.T) {
	f := DefaultFactory(nil)
	for _, scheme := range []string{"http", "https"} {
		c, err := f(&url.URL{Scheme: scheme, Host: "example.com"})
		if err != nil {
			t.Fatalf("%s: %v", scheme, err)
		}
		nc, ok := c.(*NetConn)
		if !ok {
			t.Fatalf("%s: got %T", scheme, c)
		}
		if nc.useTLS != (scheme == "https") {
			t.Errorf("%s: useTLS = %v", scheme, nc.useTLS)
		}
	}
	if _, err := f(&url.URL{Scheme: "ftp", Host: "example.com"}); !errors.Is(err, ErrUnsupportedScheme) {
		t.Errorf("ftp: err = %v, want ErrUnsupportedScheme", err)
	}
}

func TestTCPResolver_IPLiteral(t *testing.T) {
	r := NewTCPResolver(0)
	r.lookup = func(ctx context.Context, network, host string) ([]netip.Addr, error) {
		t.Fatalf("lookup called for literal %q", host)
		return nil, nil
	}
	eps, err := r.Resolve(context.Background(), "127.0.0.1", 8080)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := []types.Endpoint{netip.MustParseAddrPort("127.0.0.1:8080")}
	if diff := cmp.Diff(want, eps, cmp.Comparer(func(a, b netip.AddrPort) bool { return a == b })); diff != "" {
		t.Errorf("endpoints mismatch (-want +got):\n%s", diff)
	}
}

func TestTCPResolver_Cache(t *testing.T) {
	var calls int
	now := time.Unix(1000, 0)
	r := NewTCPResolver(time.Minute)
	r.now = func() time.Time { return now }
	r.lookup = func(ctx context.Context, network, host string) ([]netip.Addr, error) {
		calls++
		return []netip.Addr{netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("::ffff:10.0.0.2")}, nil
	}

	first, err := r.Resolve(context.Background(), "example.com", 80)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(first) != 2 || first[1] != netip.MustParseAddrPort("10.0.0.2:80") {
		t.Fatalf("unexpected endpoints %v", first)
	}
	first[0] = netip.AddrPort{}

	second, err := r.Resolve(context.Background(), "example.com", 80)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if calls != 1 {
		t.Errorf("lookup calls = %d, want 1", calls)
	}
	if second[0] != netip.MustParseAddrPort("10.0.0.1:80") {
		t.Errorf("cached result was mutated by caller: %v", second)
	}

	if _, err := r.Resolve(context.Background(), "example.com", 443); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if calls != 2 {
		t.Errorf("different port should miss the cache, calls = %d", calls)
	}

	now = now.Add(2 * time.Minute)
	if _, err := r.Resolve(context.Background(), "example.com", 80); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if calls != 3 {
		t.Errorf("expired entry should be refreshed, calls = %d", calls)
	}
}

func TestTCPResolver_Errors(t *testing.T) {
	r := NewTCPResolver(0)
	boom := errors.New("no such host")
	r.lookup = func(ctx context.Context, network, host string) ([]netip.Addr, error) {
		if host == "empty.test" {
			return nil, nil
		}
		return nil, boom
	}
	if _, err := r.Resolve(context.Background(), "missing.test", 80); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped lookup error", err)
	}
	if _, err := r.Resolve(context.Background(), "empty.test", 80); !errors.Is(err, ErrNoAddresses) {
		t.Errorf("err = %v, want ErrNoAddresses", err)
	}
	if _, err := r.Resolve(context.Background(), "", 80); err == nil {
		t.Errorf("expected error for empty host")
	}
}

// serveOnce accepts one connection, reads the request head and replies
func serveOnce(t *testing.T, reply string) (types.Endpoint, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	got := make(chan string, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		br := bufio.NewReader(c)
		var head strings.Builder
		for {
			line, err := br.ReadString('\n')
			head.WriteString(line)
			if err != nil || line == "\r\n" {
				break
			}
		}
		got <- head.String()
		io.WriteString(c, reply)
	}()
	return netip.MustParseAddrPort(ln.Addr().String()), got
}

func TestNetConn_Exchange(t *testing.T) {
	ep, got := serveOnce(t, "HTTP/1.1 200 OK\r\nX-A: 1\r\n\r\nhello")
	ctx := context.Background()
	c := NewTCP()
	if err := c.Connect(ctx, ep, "127.0.0.1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	req := "GET / HTTP/1.1\r\nHost: x\r\n\r\n"
	n, err := c.Write(ctx, []byte(req))
	if err != nil || n != len(req) {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if head := <-got; head != req {
		t.Errorf("server got %q", head)
	}

	var buf bytes.Buffer
	if _, err := c.ReadUntil(ctx, &buf, []byte("\r\n\r\n")); err != nil {
		t.Fatalf("ReadUntil: %v", err)
	}
	if n, err := c.ReadUntil(ctx, &buf, []byte("\r\n")); n != 0 || err != nil {
		t.Errorf("ReadUntil with delimiter buffered = %d, %v; want no read", n, err)
	}
	for {
		n, err := c.Read(ctx, &buf, 2)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if n == 0 {
			break
		}
		if n > 2 {
			t.Errorf("Read returned %d bytes, max 2", n)
		}
	}
	if !strings.HasSuffix(buf.String(), "\r\n\r\nhello") {
		t.Errorf("buffer = %q", buf.String())
	}
}

func TestNetConn_ReadUntilEOF(t *testing.T) {
	ep, _ := serveOnce(t, "HTTP/1.1 200")
	ctx := context.Background()
	c := NewTCP()
	if err := c.Connect(ctx, ep, ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()
	if _, err := c.Write(ctx, []byte("GET / HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	var buf bytes.Buffer
	_, err := c.ReadUntil(ctx, &buf, []byte("\r\n"))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("err = %v, want ErrUnexpectedEOF", err)
	}
	if buf.String() != "HTTP/1.1 200" {
		t.Errorf("partial data lost: %q", buf.String())
	}
}

func TestNetConn_CancelUnblocksRead(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c, err := ln.Accept()
		if err == nil {
			io.Copy(io.Discard, c)
			c.Close()
		}
	}()

	c := NewTCP()
	if err := c.Connect(context.Background(), netip.MustParseAddrPort(ln.Addr().String()), ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	var buf bytes.Buffer
	_, err = c.Read(ctx, &buf, 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("read blocked for %v", elapsed)
	}
	if err := c.Disconnect(); err != nil {
		t.Errorf("Disconnect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Errorf("second Disconnect: %v", err)
	}
	if _, err := c.Write(context.Background(), []byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Write after Disconnect = %v, want ErrClosed", err)
	}
	wg.Wait()
}

func TestNetConn_NotConnected(t *testing.T) {
	c := NewTCP()
	if _, err := c.Write(context.Background(), []byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestNetConn_ConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ep := netip.MustParseAddrPort(ln.Addr().String())
	ln.Close()
	if err := NewTCP().Connect(context.Background(), ep, ""); err == nil {
		t.Errorf("expected connect to a closed port to fail")
	}
}

func TestNetConn_TLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "secure")
	}))
	defer srv.Close()
	cfg := srv.Client().Transport.(*http.Transport).TLSClientConfig

	u, _ := url.Parse(srv.URL)
	c := NewTLS(cfg)
	ctx := context.Background()
	if err := c.Connect(ctx, netip.MustParseAddrPort(u.Host), "127.0.0.1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()
	if _, err := c.Write(ctx, []byte("GET / HTTP/1.1\r\nHost: "+u.Host+"\r\nConnection: close\r\n\r\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	var buf bytes.Buffer
	if _, err := c.ReadUntil(ctx, &buf, []byte("\r\n\r\n")); err != nil {
		t.Fatalf("ReadUntil: %v", err)
	}
	for {
		n, err := c.Read(ctx, &buf, 0)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if n == 0 {
			break
		}
	}
	if !strings.HasPrefix(buf.String(), "HTTP/1.1 200") || !strings.HasSuffix(buf.String(), "secure") {
		t.Errorf("unexpected response %q", buf.String())
	}
}
