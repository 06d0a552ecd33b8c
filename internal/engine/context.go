package engine

import (
	"bytes"
	"context"
	"time"

	"github.com/studiowebux/asynchttp/internal/connection"
	"github.com/studiowebux/asynchttp/internal/types"
)

// requestContext is the state of one in-flight request. Outside of the
// single I/O operation it may have running, it is only touched on the loop.
type requestContext struct {
	id      uint64
	req     *types.Request
	opts    types.RequestOptions
	promise *promise
	started time.Time

	ctx    context.Context
	cancel context.CancelFunc
	timer  *time.Timer

	stage     Stage
	conn      connection.Connection
	host      string
	endpoints []types.Endpoint
	next      int
	connErrs  []error

	writeBuf bytes.Buffer
	readBuf  bytes.Buffer
	body     []byte
	bodyLen  int64

	resp     builder
	sent     uint64
	received uint64

	timedOut     bool
	finished     bool
	disconnected bool
}

func newRequestContext(id uint64, req *types.Request, opts types.RequestOptions) *requestContext {
	ctx, cancel := context.WithCancel(context.Background())
	return &requestContext{
		id:      id,
		req:     req,
		opts:    opts,
		promise: newPromise(),
		started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
		bodyLen: -1,
	}
}

func (rc *requestContext) progress(dir types.Direction, total uint64) {
	if rc.opts.Progress != nil {
		rc.opts.Progress(dir, total)
	}
}

// disconnect closes the connection at most once
func (rc *requestContext) disconnect() error {
	if rc.disconnected || rc.conn == nil {
		return nil
	}
	rc.disconnected = true
	return rc.conn.Disconnect()
}
