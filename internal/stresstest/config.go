package stresstest

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Run statuses
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Config represents a stress test configuration
type Config struct {
	Name          string
	Concurrency   int
	TotalRequests int
	// RampUp spreads request start times evenly over this window
	RampUp time.Duration
	// Duration stops scheduling new requests once elapsed. Zero is unlimited.
	Duration time.Duration
	// ExpectedStatus lists accepted status codes. Empty accepts any 2xx.
	ExpectedStatus []int
	// BodyContains must appear in every response body when set
	BodyContains string
}

// Run represents a stress test run record
type Run struct {
	ID                int64
	Name              string
	Method            string
	URL               string
	StartedAt         time.Time
	CompletedAt       *time.Time
	Status            string
	Concurrency       int
	TotalRequests     int
	CompletedRequests int
	TotalErrors       int
	ValidationErrors  int
	AvgDurationMs     float64
	MinDurationMs     int64
	MaxDurationMs     int64
	P50DurationMs     int64
	P95DurationMs     int64
	P99DurationMs     int64
	// Errors counts failures by kind, validation failures under "validation"
	Errors map[string]int
}

// Validate validates the stress test configuration
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config name is required")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be greater than 0")
	}
	if c.Concurrency > 1000 {
		return fmt.Errorf("concurrency cannot exceed 1000")
	}
	if c.TotalRequests <= 0 {
		return fmt.Errorf("total requests must be greater than 0")
	}
	if c.TotalRequests > 1000000 {
		return fmt.Errorf("total requests cannot exceed 1,000,000")
	}
	if c.RampUp < 0 {
		return fmt.Errorf("ramp-up duration cannot be negative")
	}
	if c.Duration < 0 {
		return fmt.Errorf("test duration cannot be negative")
	}
	for _, code := range c.ExpectedStatus {
		if code < 100 || code > 599 {
			return fmt.Errorf("expected status %d is out of range", code)
		}
	}
	return nil
}

// startOffset returns when the i-th request should start
func (c *Config) startOffset(i int) time.Duration {
	if c.RampUp <= 0 || c.TotalRequests <= 1 {
		return 0
	}
	return time.Duration(int64(c.RampUp) * int64(i) / int64(c.TotalRequests))
}

// validate returns a non-empty reason when a response misses expectations
func (c *Config) validate(status int, body string) string {
	if len(c.ExpectedStatus) > 0 {
		if !slices.Contains(c.ExpectedStatus, status) {
			return fmt.Sprintf("unexpected status %d", status)
		}
	} else if status < 200 || status >= 300 {
		return fmt.Sprintf("unexpected status %d", status)
	}
	if c.BodyContains != "" && !strings.Contains(body, c.BodyContains) {
		return fmt.Sprintf("body does not contain %q", c.BodyContains)
	}
	return ""
}

// IsRunning returns true if the run is currently in progress
func (r *Run) IsRunning() bool {
	return r.Status == StatusRunning
}

// IsCompleted returns true if the run has finished
func (r *Run) IsCompleted() bool {
	return r.Status == StatusCompleted || r.Status == StatusCancelled
}

// Elapsed returns how long the run took, or zero while it is running
func (r *Run) Elapsed() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}
