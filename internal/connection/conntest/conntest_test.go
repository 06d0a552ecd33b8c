package conntest

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/studiowebux/asynchttp/internal/connection"
)

var _ connection.Connection = (*Conn)(nil)
var _ connection.Resolver = (*Resolver)(nil)

func TestConn_ScriptedReads(t *testing.T) {
	c := NewConn("HTTP/1.1 200 OK\r\n", "A: b\r\n\r\nxy", "z", "")
	ctx := context.Background()
	var buf bytes.Buffer
	if _, err := c.ReadUntil(ctx, &buf, []byte("\r\n\r\n")); err != nil {
		t.Fatalf("ReadUntil: %v", err)
	}
	if n, _ := c.Read(ctx, &buf, 0); n != 1 {
		t.Errorf("Read = %d, want 1", n)
	}
	if n, err := c.Read(ctx, &buf, 0); n != 0 || err != nil {
		t.Errorf("Read at end = %d, %v", n, err)
	}
	if buf.String() != "HTTP/1.1 200 OK\r\nA: b\r\n\r\nxyz" {
		t.Errorf("buffer = %q", buf.String())
	}
}

func TestConn_ReadUntilClosed(t *testing.T) {
	c := NewConn("partial")
	var buf bytes.Buffer
	if _, err := c.ReadUntil(context.Background(), &buf, []byte("\r\n")); err == nil {
		t.Errorf("expected error when stream ends before delimiter")
	}
}

func TestConn_FailConnectAndCalls(t *testing.T) {
	bad, good := Endpoint("10.0.0.1:80"), Endpoint("10.0.0.2:80")
	c := NewConn().FailConnect(bad, nil)
	ctx := context.Background()
	if err := c.Connect(ctx, bad, "h"); !errors.Is(err, ErrRefused) {
		t.Errorf("bad endpoint err = %v", err)
	}
	if err := c.Connect(ctx, good, "h"); err != nil {
		t.Errorf("good endpoint err = %v", err)
	}
	c.Write(ctx, []byte("abc"))
	c.Disconnect()
	want := []string{"connect 10.0.0.1:80", "connect 10.0.0.2:80", "write 3", "disconnect"}
	if diff := cmp.Diff(want, c.Calls()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	if string(c.Written()) != "abc" {
		t.Errorf("Written = %q", c.Written())
	}
}

func TestConn_BlockedWriteReleasedByDisconnect(t *testing.T) {
	c := NewConn().BlockWrites()
	done := make(chan error, 1)
	go func() {
		_, err := c.Write(context.Background(), []byte("x"))
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	c.Disconnect()
	select {
	case err := <-done:
		if !errors.Is(err, connection.ErrClosed) {
			t.Errorf("err = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("write still blocked after Disconnect")
	}
	c.Disconnect()
	if c.Disconnects() != 2 {
		t.Errorf("Disconnects = %d", c.Disconnects())
	}
}

func TestResolver(t *testing.T) {
	r := NewResolver(Endpoint("10.0.0.1:80"))
	eps, err := r.Resolve(context.Background(), "example.com", 80)
	if err != nil || len(eps) != 1 {
		t.Fatalf("Resolve = %v, %v", eps, err)
	}
	r.Err = errors.New("nxdomain")
	if _, err := r.Resolve(context.Background(), "example.com", 80); err == nil {
		t.Errorf("expected configured error")
	}
	if diff := cmp.Diff([]string{"example.com:80", "example.com:80"}, r.Calls()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}
