package connection

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/studiowebux/asynchttp/internal/types"
)

// LookupFunc matches net.Resolver.LookupNetIP
type LookupFunc func(ctx context.Context, network, host string) ([]netip.Addr, error)

type cacheEntry struct {
	endpoints []types.Endpoint
	expires   time.Time
}

// TCPResolver resolves host names through the system resolver. IP literals
// are returned without a lookup. With a positive TTL, results are cached per
// host and port.
type TCPResolver struct {
	lookup LookupFunc
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewTCPResolver returns a resolver backed by net.DefaultResolver. A ttl of
// zero disables caching.
func NewTCPResolver(ttl time.Duration) *TCPResolver {
	return &TCPResolver{
		lookup: net.DefaultResolver.LookupNetIP,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[string]cacheEntry),
	}
}

func (r *TCPResolver) Resolve(ctx context.Context, host string, port uint16) ([]types.Endpoint, error) {
	if host == "" {
		return nil, fmt.Errorf("empty host")
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return []types.Endpoint{netip.AddrPortFrom(addr.Unmap(), port)}, nil
	}

	key := net.JoinHostPort(host, strconv.Itoa(int(port)))
	if r.ttl > 0 {
		r.mu.Lock()
		e, ok := r.cache[key]
		if ok && r.now().Before(e.expires) {
			r.mu.Unlock()
			return cloneEndpoints(e.endpoints), nil
		}
		r.mu.Unlock()
	}

	addrs, err := r.lookup(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoAddresses, host)
	}
	eps := make([]types.Endpoint, 0, len(addrs))
	for _, a := range addrs {
		eps = append(eps, netip.AddrPortFrom(a.Unmap(), port))
	}

	if r.ttl > 0 {
		r.mu.Lock()
		r.cache[key] = cacheEntry{endpoints: eps, expires: r.now().Add(r.ttl)}
		r.mu.Unlock()
	}
	return cloneEndpoints(eps), nil
}

func cloneEndpoints(eps []types.Endpoint) []types.Endpoint {
	out := make([]types.Endpoint, len(eps))
	copy(out, eps)
	return out
}
