package engine

import (
	"bytes"

	"github.com/studiowebux/asynchttp/internal/types"
)

// builder accumulates a response as its parts arrive
type builder struct {
	version string
	code    int
	message string
	headers types.Headers
	body    bytes.Buffer
}

func (b *builder) setStatus(version string, code int, message string) {
	b.version, b.code, b.message = version, code, message
}

func (b *builder) addHeaders(h types.Headers) {
	b.headers = append(b.headers, h...)
}

func (b *builder) appendBody(p []byte) {
	b.body.Write(p)
}

// build returns a response that shares no memory with the builder
func (b *builder) build() *types.Response {
	body := make([]byte, b.body.Len())
	copy(body, b.body.Bytes())
	return &types.Response{
		Version:       b.version,
		StatusCode:    b.code,
		StatusMessage: b.message,
		Headers:       b.headers.Clone(),
		Body:          body,
	}
}
