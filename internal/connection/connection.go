// Package connection defines the resolver and connection capabilities the
// engine drives, and provides TCP and TLS implementations of them.
package connection

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/studiowebux/asynchttp/internal/types"
)

// Default ports by scheme
const (
	DefaultHTTPPort  = 80
	DefaultHTTPSPort = 443
)

// ReadChunkSize is the largest single read issued by ReadUntil
const ReadChunkSize = 4096

var (
	ErrUnsupportedScheme = errors.New("connection: unsupported scheme")
	ErrNotConnected      = errors.New("connection: not connected")
	ErrClosed            = errors.New("connection: closed")
	ErrNoAddresses       = errors.New("connection: host has no addresses")
)

// Resolver turns a host and port into an ordered candidate list
type Resolver interface {
	Resolve(ctx context.Context, host string, port uint16) ([]types.Endpoint, error)
}

// Connection is one byte stream to one endpoint. A Connection carries exactly
// one request; it is never reused.
//
// Blocking methods return early when ctx is done. Disconnect may be called at
// any time and from any goroutine; it unblocks pending operations and is
// safe to call more than once.
type Connection interface {
	// Connect opens the stream to ep. host is the name used for TLS
	// verification. A failed Connect may be retried with another endpoint.
	Connect(ctx context.Context, ep types.Endpoint, host string) error
	// Write writes all of p or returns an error.
	Write(ctx context.Context, p []byte) (int, error)
	// ReadUntil appends to buf until buf contains delim and returns the
	// number of bytes appended. It does not read when buf already holds
	// delim. End of stream before delim is an error.
	ReadUntil(ctx context.Context, buf *bytes.Buffer, delim []byte) (int, error)
	// Read appends at most max bytes to buf. A return of 0 with a nil
	// error means the peer closed the stream.
	Read(ctx context.Context, buf *bytes.Buffer, max int) (int, error)
	Disconnect() error
}

// Factory creates a fresh Connection for a request URL
type Factory func(u *url.URL) (Connection, error)

// DefaultFactory returns plain TCP connections for http URLs and TLS
// connections for https URLs. tlsConfig may be nil.
func DefaultFactory(tlsConfig *tls.Config) Factory {
	return func(u *url.URL) (Connection, error) {
		switch u.Scheme {
		case "", "http":
			return NewTCP(), nil
		case "https":
			return NewTLS(tlsConfig), nil
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
		}
	}
}

// Port returns the explicit port of u, or the scheme default
func Port(u *url.URL) (uint16, error) {
	if p := u.Port(); p != "" {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil || n == 0 {
			return 0, fmt.Errorf("invalid port %q", p)
		}
		return uint16(n), nil
	}
	if u.Scheme == "https" {
		return DefaultHTTPSPort, nil
	}
	return DefaultHTTPPort, nil
}

// readUntil implements ReadUntil over a plain reader
func readUntil(r io.Reader, buf *bytes.Buffer, delim []byte) (int, error) {
	if bytes.Contains(buf.Bytes(), delim) {
		return 0, nil
	}
	total := 0
	chunk := make([]byte, ReadChunkSize)
	for {
		from := buf.Len() - len(delim) + 1
		if from < 0 {
			from = 0
		}
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			total += n
			if bytes.Contains(buf.Bytes()[from:], delim) {
				return total, nil
			}
		}
		if err == io.EOF {
			return total, fmt.Errorf("%w before %q", io.ErrUnexpectedEOF, delim)
		}
		if err != nil {
			return total, err
		}
	}
}

// readSome implements Read over a plain reader
func readSome(r io.Reader, buf *bytes.Buffer, max int) (int, error) {
	if max <= 0 {
		max = ReadChunkSize
	}
	chunk := make([]byte, max)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			return n, nil
		}
		if err == io.EOF {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
	}
}
