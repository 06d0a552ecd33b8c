// Package analytics aggregates journaled exchanges per endpoint.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/studiowebux/asynchttp/internal/migrations"
)

// Stats summarizes the exchanges of one method and normalized path
type Stats struct {
	Method         string
	NormalizedPath string
	TotalCalls     int
	SuccessCount   int
	ErrorCount     int // 4xx and 5xx responses
	NetworkErrors  int // no response at all (resolution, connect, timeout)
	AvgDurationMs  float64
	MinDurationMs  int64
	MaxDurationMs  int64
	TotalReqSize   int64
	TotalRespSize  int64
	StatusCodes    map[int]int
	LastCalled     time.Time
}

// SuccessRate returns the share of 2xx/3xx responses as a percentage
func (s Stats) SuccessRate() float64 {
	if s.TotalCalls == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.TotalCalls) * 100
}

// NormalizePath reduces a URL to host and path so that query strings and
// fragments do not split an endpoint
func NormalizePath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return u.Host + path
}

// Collect reads the history table and returns per-endpoint stats, most
// called first. since limits the window when non-zero.
func Collect(ctx context.Context, db *sql.DB, d migrations.Dialect, since time.Time) ([]Stats, error) {
	query := `SELECT method, url, response_status, duration_ms, COALESCE(request_size, 0),
		COALESCE(response_size, 0), COALESCE(error, ''), timestamp FROM history`
	var args []any
	if !since.IsZero() {
		query += " WHERE timestamp >= ?"
		args = append(args, since.UTC())
	}

	rows, err := db.QueryContext(ctx, d.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	byKey := map[string]*Stats{}
	for rows.Next() {
		var (
			method, rawURL, errMsg string
			status                 int
			duration               int64
			reqSize, respSize      int64
			ts                     time.Time
		)
		if err := rows.Scan(&method, &rawURL, &status, &duration, &reqSize, &respSize, &errMsg, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}

		path := NormalizePath(rawURL)
		key := method + " " + path
		s, ok := byKey[key]
		if !ok {
			s = &Stats{Method: method, NormalizedPath: path, StatusCodes: map[int]int{}, MinDurationMs: -1}
			byKey[key] = s
		}
		add(s, status, duration, reqSize, respSize, errMsg, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Stats, 0, len(byKey))
	for _, s := range byKey {
		s.AvgDurationMs /= float64(s.TotalCalls)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalCalls != out[j].TotalCalls {
			return out[i].TotalCalls > out[j].TotalCalls
		}
		if out[i].NormalizedPath != out[j].NormalizedPath {
			return out[i].NormalizedPath < out[j].NormalizedPath
		}
		return out[i].Method < out[j].Method
	})
	return out, nil
}

// add folds one exchange into s. AvgDurationMs holds the running sum until
// Collect divides it.
func add(s *Stats, status int, duration, reqSize, respSize int64, errMsg string, ts time.Time) {
	s.TotalCalls++
	switch {
	case errMsg != "" || status == 0:
		s.NetworkErrors++
	case status >= 400:
		s.ErrorCount++
		s.StatusCodes[status]++
	default:
		s.SuccessCount++
		s.StatusCodes[status]++
	}

	s.AvgDurationMs += float64(duration)
	if s.MinDurationMs == -1 || duration < s.MinDurationMs {
		s.MinDurationMs = duration
	}
	if duration > s.MaxDurationMs {
		s.MaxDurationMs = duration
	}
	s.TotalReqSize += reqSize
	s.TotalRespSize += respSize
	if ts.After(s.LastCalled) {
		s.LastCalled = ts
	}
}
