// Package wire serializes HTTP/1.1 request heads and parses response status
// lines and header blocks. It performs no I/O.
package wire

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/studiowebux/asynchttp/internal/types"
)

// Proto is the only protocol version this package writes
const Proto = "HTTP/1.1"

var (
	ErrInvalidRequest  = errors.New("wire: invalid request")
	ErrMalformedStatus = errors.New("wire: malformed status line")
	ErrMalformedHeader = errors.New("wire: malformed header line")
)

// RequestTarget returns the origin-form target for r: path plus query, or "/"
func RequestTarget(r *types.Request) string {
	if r.URL == nil {
		return "/"
	}
	if r.URL.Opaque != "" {
		return r.URL.Opaque
	}
	t := r.URL.RequestURI()
	if t == "" {
		return "/"
	}
	return t
}

// WriteRequestHead appends the request line, headers and the terminating blank
// line to buf. bodyLen is the number of body bytes that will follow, or -1 when
// the request has no body.
//
// User headers are written first, in order. Host, Connection and
// Content-Length are appended afterwards when the caller did not set them.
// Nothing is appended to buf when validation fails.
func WriteRequestHead(buf *bytes.Buffer, r *types.Request, bodyLen int64) error {
	if r == nil || r.URL == nil {
		return fmt.Errorf("%w: nil request or url", ErrInvalidRequest)
	}
	if !isToken(r.Method) {
		return fmt.Errorf("%w: bad method %q", ErrInvalidRequest, r.Method)
	}
	for _, f := range r.Headers {
		if !isToken(f.Key) {
			return fmt.Errorf("%w: bad header name %q", ErrInvalidRequest, f.Key)
		}
		if strings.ContainsAny(f.Value, "\r\n\x00") {
			return fmt.Errorf("%w: bad value for header %q", ErrInvalidRequest, f.Key)
		}
	}
	host := r.URL.Host
	if host == "" && !r.Headers.Has("Host") {
		return fmt.Errorf("%w: missing host", ErrInvalidRequest)
	}

	var b bytes.Buffer
	b.WriteString(r.Method)
	b.WriteByte(' ')
	b.WriteString(RequestTarget(r))
	b.WriteByte(' ')
	b.WriteString(Proto)
	b.WriteString("\r\n")
	for _, f := range r.Headers {
		writeField(&b, f.Key, f.Value)
	}
	if !r.Headers.Has("Host") {
		writeField(&b, "Host", host)
	}
	if !r.Headers.Has("Connection") {
		writeField(&b, "Connection", "close")
	}
	if bodyLen >= 0 && !r.Headers.Has("Content-Length") && !r.Headers.Has("Transfer-Encoding") {
		writeField(&b, "Content-Length", strconv.FormatInt(bodyLen, 10))
	}
	b.WriteString("\r\n")

	buf.Write(b.Bytes())
	return nil
}

func writeField(b *bytes.Buffer, key, value string) {
	b.WriteString(key)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\r\n")
}

// isToken reports whether s is a non-empty RFC 9110 token
func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isTokenChar(s[i]) {
			return false
		}
	}
	return true
}

func isTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0
}
