package stresstest

import (
	"maps"
	"slices"
)

// KindValidation labels responses that missed the configured expectations
const KindValidation = "validation"

// Stats holds runtime statistics for a stress test
type Stats struct {
	TotalRequests        int
	CompletedRequests    int
	ErrorCount           int // transport failures, by engine error kind
	ValidationErrorCount int // unexpected status or body
	SuccessCount         int
	ActiveWorkers        int            // requests in flight
	ErrorKinds           map[string]int // failures by kind, validation included

	durations []int64
	totalMs   int64
	minMs     int64
	maxMs     int64
}

// Latency summarizes the recorded durations in milliseconds
type Latency struct {
	Avg           float64
	Min, Max      int64
	P50, P95, P99 int64
}

// NewStats creates an empty Stats
func NewStats() *Stats {
	return &Stats{
		durations:  make([]int64, 0, 1000),
		ErrorKinds: make(map[string]int),
	}
}

// AddResult records one finished request. kind is empty for a success,
// KindValidation for an unexpected response, and the engine error kind
// otherwise.
func (s *Stats) AddResult(durationMs int64, kind string) {
	if s.CompletedRequests == 0 || durationMs < s.minMs {
		s.minMs = durationMs
	}
	if s.CompletedRequests == 0 || durationMs > s.maxMs {
		s.maxMs = durationMs
	}
	s.CompletedRequests++
	s.totalMs += durationMs
	s.durations = append(s.durations, durationMs)

	switch kind {
	case "":
		s.SuccessCount++
		return
	case KindValidation:
		s.ValidationErrorCount++
	default:
		s.ErrorCount++
	}
	s.ErrorKinds[kind]++
}

// AvgDurationMs returns the mean duration, or 0 with no results
func (s *Stats) AvgDurationMs() float64 {
	if s.CompletedRequests == 0 {
		return 0
	}
	return float64(s.totalMs) / float64(s.CompletedRequests)
}

// Min returns the shortest duration, or 0 with no results
func (s *Stats) Min() int64 { return s.minMs }

// Max returns the longest duration, or 0 with no results
func (s *Stats) Max() int64 { return s.maxMs }

// Latency sorts the durations once and reports every summary value
func (s *Stats) Latency() Latency {
	sorted := s.sorted()
	return Latency{
		Avg: s.AvgDurationMs(),
		Min: s.minMs,
		Max: s.maxMs,
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

// Percentile returns the p-th percentile (0-100) of the durations
func (s *Stats) Percentile(p float64) int64 {
	return percentile(s.sorted(), p)
}

func (s *Stats) P50() int64 { return s.Percentile(50) }
func (s *Stats) P95() int64 { return s.Percentile(95) }
func (s *Stats) P99() int64 { return s.Percentile(99) }

func (s *Stats) sorted() []int64 {
	sorted := slices.Clone(s.durations)
	slices.Sort(sorted)
	return sorted
}

// percentile interpolates linearly between the two closest ranks of sorted
func percentile(sorted []int64, p float64) int64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := p / 100 * float64(n-1)
	i := int(rank)
	if i >= n-1 {
		return sorted[n-1]
	}
	frac := rank - float64(i)
	return sorted[i] + int64(frac*float64(sorted[i+1]-sorted[i]))
}

func share(n, of int) float64 {
	if of == 0 {
		return 0
	}
	return float64(n) / float64(of) * 100
}

// SuccessRate returns the share of successful requests as a percentage
func (s *Stats) SuccessRate() float64 { return share(s.SuccessCount, s.CompletedRequests) }

// ErrorRate returns the share of transport failures as a percentage
func (s *Stats) ErrorRate() float64 { return share(s.ErrorCount, s.CompletedRequests) }

// ValidationErrorRate returns the share of validation failures as a percentage
func (s *Stats) ValidationErrorRate() float64 {
	return share(s.ValidationErrorCount, s.CompletedRequests)
}

// Progress returns completed over total requests as a percentage
func (s *Stats) Progress() float64 { return share(s.CompletedRequests, s.TotalRequests) }

func (s *Stats) clone() Stats {
	out := *s
	out.durations = slices.Clone(s.durations)
	out.ErrorKinds = maps.Clone(s.ErrorKinds)
	return out
}
