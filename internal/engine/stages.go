package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/studiowebux/asynchttp/internal/connection"
	"github.com/studiowebux/asynchttp/internal/obs"
	"github.com/studiowebux/asynchttp/internal/types"
	"github.com/studiowebux/asynchttp/internal/wire"
)

var (
	crlf     = []byte("\r\n")
	crlfcrlf = []byte("\r\n\r\n")
)

func (e *Engine) resolve(rc *requestContext) {
	e.enter(rc, StageResolving)
	conn, err := e.cfg.Connections(rc.req.URL)
	if err != nil {
		e.fail(rc, ErrInvalidRequest, err)
		return
	}
	rc.conn = conn
	rc.host = rc.req.URL.Hostname()
	if rc.host == "" {
		e.fail(rc, ErrResolution, fmt.Errorf("url %q has no host", rc.req.URL))
		return
	}
	port, err := connection.Port(rc.req.URL)
	if err != nil {
		e.fail(rc, ErrResolution, err)
		return
	}

	resolver := e.cfg.Resolver
	host := rc.host
	e.async(rc, func(ctx context.Context) func() {
		eps, err := resolver.Resolve(ctx, host, port)
		return func() {
			if err != nil {
				e.fail(rc, ErrResolution, err)
				return
			}
			rc.endpoints = eps
			e.enter(rc, StageConnecting)
			e.connectNext(rc)
		}
	})
}

// connectNext tries the next untried endpoint
func (e *Engine) connectNext(rc *requestContext) {
	if rc.next >= len(rc.endpoints) {
		err := errors.Join(rc.connErrs...)
		if len(rc.endpoints) == 0 {
			err = fmt.Errorf("no endpoints for %s", rc.host)
		}
		e.fail(rc, ErrConnectionExhausted, err)
		return
	}
	ep := rc.endpoints[rc.next]
	rc.next++

	conn, host := rc.conn, rc.host
	e.async(rc, func(ctx context.Context) func() {
		err := conn.Connect(ctx, ep, host)
		return func() {
			if err != nil {
				e.log.Logf(obs.Warn, "request %d: connect to %s failed: %v", rc.id, ep, err)
				e.meter.Counter(MetricConnectFailover, 1)
				rc.connErrs = append(rc.connErrs, fmt.Errorf("%w: %s: %w", ErrConnect, ep, err))
				e.connectNext(rc)
				return
			}
			e.log.Logf(obs.Debug, "request %d: connected to %s", rc.id, ep)
			e.writeHeaders(rc)
		}
	})
}

func (e *Engine) writeHeaders(rc *requestContext) {
	e.enter(rc, StageWritingHeaders)
	req := rc.req
	switch {
	case req.Body == nil:
		rc.bodyLen = -1
	case req.ContentLength > 0:
		rc.bodyLen = req.ContentLength
	case rc.body == nil:
		// Zero or unknown length: buffer the body so Content-Length can be sent.
		e.async(rc, func(ctx context.Context) func() {
			data, err := io.ReadAll(req.Body)
			return func() {
				if err != nil {
					e.fail(rc, ErrInvalidRequest, fmt.Errorf("failed to read body: %w", err))
					return
				}
				if data == nil {
					data = []byte{}
				}
				rc.body = data
				rc.bodyLen = int64(len(data))
				e.sendHeaders(rc)
			}
		})
		return
	}
	e.sendHeaders(rc)
}

func (e *Engine) sendHeaders(rc *requestContext) {
	rc.writeBuf.Reset()
	if err := wire.WriteRequestHead(&rc.writeBuf, rc.req, rc.bodyLen); err != nil {
		e.fail(rc, ErrInvalidRequest, err)
		return
	}
	e.write(rc, e.writeBody)
}

// write sends the write buffer and continues with next
func (e *Engine) write(rc *requestContext, next func(*requestContext)) {
	conn, p := rc.conn, rc.writeBuf.Bytes()
	e.async(rc, func(ctx context.Context) func() {
		n, err := conn.Write(ctx, p)
		return func() {
			if n > 0 {
				rc.sent += uint64(n)
				rc.progress(types.Sent, rc.sent)
			}
			if err != nil {
				e.fail(rc, ErrTransport, err)
				return
			}
			if n < len(p) {
				e.fail(rc, ErrTransport, io.ErrShortWrite)
				return
			}
			next(rc)
		}
	})
}

func (e *Engine) writeBody(rc *requestContext) {
	e.enter(rc, StageWritingBody)
	rc.writeBuf.Reset()
	switch {
	case rc.body != nil:
		if len(rc.body) == 0 {
			e.readStatus(rc)
			return
		}
		rc.writeBuf.Write(rc.body)
		e.write(rc, e.readStatus)
	case rc.bodyLen > 0:
		body, size := rc.req.Body, rc.bodyLen
		buf := &rc.writeBuf
		e.async(rc, func(ctx context.Context) func() {
			n, err := io.CopyN(buf, body, size)
			return func() {
				if err != nil {
					e.fail(rc, ErrInvalidRequest, fmt.Errorf("body has %d of %d bytes: %w", n, size, err))
					return
				}
				e.write(rc, e.readStatus)
			}
		})
	default:
		e.readStatus(rc)
	}
}

func (e *Engine) readStatus(rc *requestContext) {
	e.enter(rc, StageReadingStatus)
	conn, buf := rc.conn, &rc.readBuf
	e.async(rc, func(ctx context.Context) func() {
		_, err := conn.ReadUntil(ctx, buf, crlf)
		return func() {
			if err != nil {
				e.fail(rc, ErrTransport, err)
				return
			}
			idx := bytes.Index(buf.Bytes(), crlf)
			version, code, message, err := wire.ParseStatusLine(string(buf.Bytes()[:idx]))
			if err != nil {
				e.fail(rc, ErrProtocol, err)
				return
			}
			rc.resp.setStatus(version, code, message)
			// The line's CRLF stays buffered so an empty header block still
			// ends in CRLFCRLF.
			buf.Next(idx)
			e.readHeaders(rc)
		}
	})
}

func (e *Engine) readHeaders(rc *requestContext) {
	e.enter(rc, StageReadingHeaders)
	conn, buf := rc.conn, &rc.readBuf
	e.async(rc, func(ctx context.Context) func() {
		_, err := conn.ReadUntil(ctx, buf, crlfcrlf)
		return func() {
			if err != nil {
				e.fail(rc, ErrTransport, err)
				return
			}
			idx := bytes.Index(buf.Bytes(), crlfcrlf)
			headers, err := wire.ParseHeaderBlock(string(buf.Bytes()[:idx]))
			if err != nil {
				e.fail(rc, ErrProtocol, err)
				return
			}
			rc.resp.addHeaders(headers)
			buf.Next(idx + len(crlfcrlf))

			e.enter(rc, StageReadingBody)
			if buf.Len() > 0 {
				e.receive(rc, buf.Bytes())
				buf.Reset()
			}
			e.readBody(rc)
		}
	})
}

func (e *Engine) receive(rc *requestContext, p []byte) {
	rc.resp.appendBody(p)
	rc.received += uint64(len(p))
	rc.progress(types.Received, rc.received)
}

func (e *Engine) readBody(rc *requestContext) {
	conn, buf := rc.conn, &rc.readBuf
	e.async(rc, func(ctx context.Context) func() {
		n, err := conn.Read(ctx, buf, connection.ReadChunkSize)
		return func() {
			if err != nil {
				e.fail(rc, ErrTransport, err)
				return
			}
			if n == 0 {
				e.finish(rc, rc.resp.build(), nil)
				return
			}
			e.receive(rc, buf.Bytes())
			buf.Reset()
			e.readBody(rc)
		}
	})
}
