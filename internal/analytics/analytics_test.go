package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/studiowebux/asynchttp/internal/history"
	"github.com/studiowebux/asynchttp/internal/types"
)

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"http://api.test/users?page=2":   "api.test/users",
		"https://api.test:8443/a/b#frag": "api.test:8443/a/b",
		"http://api.test":                "api.test/",
		"not a url":                      "not a url",
	}
	for in, want := range tests {
		if got := NormalizePath(in); got != want {
			t.Errorf("NormalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCollect(t *testing.T) {
	h, err := history.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []types.HistoryEntry{
		{Timestamp: base, Method: "GET", URL: "http://api.test/users?page=1", ResponseStatus: 200, Duration: 10, ResponseSize: 100},
		{Timestamp: base.Add(time.Minute), Method: "GET", URL: "http://api.test/users?page=2", ResponseStatus: 500, Duration: 30, ResponseSize: 10},
		{Timestamp: base.Add(2 * time.Minute), Method: "GET", URL: "http://api.test/users", Duration: 50, Error: "timeout"},
		{Timestamp: base.Add(3 * time.Minute), Method: "POST", URL: "http://api.test/users", ResponseStatus: 201, Duration: 5, RequestSize: 42},
	}
	for _, e := range entries {
		if _, err := h.Save(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := Collect(ctx, h.DB(), h.Dialect(), time.Time{})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	want := []Stats{
		{
			Method: "GET", NormalizedPath: "api.test/users",
			TotalCalls: 3, SuccessCount: 1, ErrorCount: 1, NetworkErrors: 1,
			AvgDurationMs: 30, MinDurationMs: 10, MaxDurationMs: 50,
			TotalRespSize: 110, StatusCodes: map[int]int{200: 1, 500: 1},
			LastCalled: base.Add(2 * time.Minute),
		},
		{
			Method: "POST", NormalizedPath: "api.test/users",
			TotalCalls: 1, SuccessCount: 1, AvgDurationMs: 5, MinDurationMs: 5, MaxDurationMs: 5,
			TotalReqSize: 42, StatusCodes: map[int]int{201: 1},
			LastCalled: base.Add(3 * time.Minute),
		},
	}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("Collect() mismatch (-want +got):\n%s", diff)
	}

	recent, err := Collect(ctx, h.DB(), h.Dialect(), base.Add(90*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].TotalCalls != 1 || recent[1].TotalCalls != 1 {
		t.Errorf("windowed Collect() = %+v", recent)
	}
}
