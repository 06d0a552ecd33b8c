package types

import (
	"bytes"
	"fmt"
	"io"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

// DefaultUserAgent is sent when a request carries no User-Agent header
const DefaultUserAgent = "asynchttp/0.1.0"

// HTTP methods used by the client facade
const (
	MethodGet     = "GET"
	MethodPost    = "POST"
	MethodPut     = "PUT"
	MethodDelete  = "DELETE"
	MethodHead    = "HEAD"
	MethodOptions = "OPTIONS"
	MethodPatch   = "PATCH"
)

// ClientOptions configures a client and the engine behind it
type ClientOptions struct {
	UserAgent        string        `json:"userAgent" yaml:"user_agent"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout"` // zero disables the request timer
	CacheResolved    bool          `json:"cacheResolved" yaml:"cache_resolved"`
	// ResolverCacheTTL applies when CacheResolved is set; zero means the default.
	ResolverCacheTTL time.Duration `json:"resolverCacheTTL" yaml:"resolver_cache_ttl"`
}

// DefaultClientOptions returns options with the default user agent and no timeout
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		UserAgent:        DefaultUserAgent,
		ResolverCacheTTL: 5 * time.Minute,
	}
}

// Direction tells a progress callback which counter moved
type Direction int

const (
	// Sent counts request bytes written to the connection
	Sent Direction = iota
	// Received counts response body bytes read from the connection
	Received
)

func (d Direction) String() string {
	switch d {
	case Sent:
		return "sent"
	case Received:
		return "received"
	default:
		return "unknown"
	}
}

// ProgressFunc receives the cumulative byte count for one direction
type ProgressFunc func(dir Direction, total uint64)

// RequestOptions are per-call settings
type RequestOptions struct {
	Progress ProgressFunc
}

// HeaderField is a single header line
type HeaderField struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// Headers is an ordered header list. Keys may repeat.
type Headers []HeaderField

// Add appends a field, keeping any existing field with the same key
func (h *Headers) Add(key, value string) {
	*h = append(*h, HeaderField{Key: key, Value: value})
}

// Get returns the value of the first field matching key, case-insensitively
func (h Headers) Get(key string) string {
	for _, f := range h {
		if strings.EqualFold(f.Key, key) {
			return f.Value
		}
	}
	return ""
}

// Has reports whether at least one field matches key
func (h Headers) Has(key string) bool {
	for _, f := range h {
		if strings.EqualFold(f.Key, key) {
			return true
		}
	}
	return false
}

// Values returns every value for key in arrival order
func (h Headers) Values(key string) []string {
	var out []string
	for _, f := range h {
		if strings.EqualFold(f.Key, key) {
			out = append(out, f.Value)
		}
	}
	return out
}

// Clone returns a copy that can be appended to without touching h
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	copy(out, h)
	return out
}

// Request is an outbound HTTP request
type Request struct {
	Method  string
	URL     *url.URL
	Headers Headers
	// Body is read once, during the write-body stage. Nil means no body.
	Body io.Reader
	// ContentLength is the body size in bytes. With a non-nil Body, 0 and
	// -1 both mean unknown and the body is read fully before sending.
	ContentLength int64
}

// NewRequest parses rawURL and builds a request with an in-memory body
func NewRequest(method, rawURL string, body []byte) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("url %q has no host", rawURL)
	}
	req := &Request{
		Method:        method,
		URL:           u,
		ContentLength: 0,
	}
	if body != nil {
		req.Body = bytes.NewReader(body)
		req.ContentLength = int64(len(body))
	}
	return req, nil
}

// Clone returns a shallow copy of r with its own header list
func (r *Request) Clone() *Request {
	r2 := *r
	r2.Headers = r.Headers.Clone()
	return &r2
}

// Response is a completed HTTP response. It is not modified after delivery.
type Response struct {
	Version       string
	StatusCode    int
	StatusMessage string
	Headers       Headers
	Body          []byte
}

// Status returns "<code> <message>"
func (r *Response) Status() string {
	if r.StatusMessage == "" {
		return fmt.Sprintf("%d", r.StatusCode)
	}
	return fmt.Sprintf("%d %s", r.StatusCode, r.StatusMessage)
}

// Endpoint is a resolved connection candidate
type Endpoint = netip.AddrPort

// RequestResult contains the flattened outcome of one exchange
type RequestResult struct {
	Method       string  `json:"method" yaml:"method"`
	URL          string  `json:"url" yaml:"url"`
	Status       int     `json:"status" yaml:"status"`
	StatusText   string  `json:"statusText" yaml:"statusText"`
	Version      string  `json:"version,omitempty" yaml:"version,omitempty"`
	Headers      Headers `json:"headers" yaml:"headers"`
	Body         string  `json:"body" yaml:"body"`
	Duration     int64   `json:"duration" yaml:"duration"`         // milliseconds
	RequestSize  uint64  `json:"requestSize" yaml:"requestSize"`   // bytes
	ResponseSize uint64  `json:"responseSize" yaml:"responseSize"` // bytes
	Error        string  `json:"error,omitempty" yaml:"error,omitempty"`
}

// HistoryEntry represents a saved request/response pair
type HistoryEntry struct {
	ID                 int64     `json:"id"`
	Timestamp          time.Time `json:"timestamp"`
	RequestFile        string    `json:"requestFile"`
	RequestName        string    `json:"requestName,omitempty"`
	Method             string    `json:"method"`
	URL                string    `json:"url"`
	Headers            Headers   `json:"headers"`
	Body               string    `json:"body,omitempty"`
	ResponseStatus     int       `json:"responseStatus"`
	ResponseStatusText string    `json:"responseStatusText"`
	ResponseHeaders    Headers   `json:"responseHeaders"`
	ResponseBody       string    `json:"responseBody"`
	Duration           int64     `json:"duration"`
	RequestSize        uint64    `json:"requestSize,omitempty"`
	ResponseSize       uint64    `json:"responseSize,omitempty"`
	Error              string    `json:"error,omitempty"`
}

// RequestDefinition is a request as written in a request file, before
// variables are substituted and the URL is parsed
type RequestDefinition struct {
	Name    string  `json:"name,omitempty" yaml:"name,omitempty"`
	Method  string  `json:"method" yaml:"method"`
	URL     string  `json:"url" yaml:"url"`
	Headers Headers `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    string  `json:"body,omitempty" yaml:"body,omitempty"`
	Filter  string  `json:"filter,omitempty" yaml:"filter,omitempty"`
	Query   string  `json:"query,omitempty" yaml:"query,omitempty"`
}

// Build parses the definition into a Request
func (d *RequestDefinition) Build() (*Request, error) {
	method := strings.ToUpper(strings.TrimSpace(d.Method))
	if method == "" {
		method = MethodGet
	}
	var body []byte
	if d.Body != "" {
		body = []byte(d.Body)
	}
	req, err := NewRequest(method, d.URL, body)
	if err != nil {
		return nil, err
	}
	req.Headers = d.Headers.Clone()
	return req, nil
}

// RequestFile represents a parsed request file
type RequestFile struct {
	Path     string
	Requests []RequestDefinition
}
