package obs

import (
	"sort"
	"strings"
	"sync"
)

// Label is a key/value pair attached to measurements.
type Label struct {
	Key   string
	Value string
}

// Meter is a very small interface for emitting counters/histograms.
// Implementations may no-op or bridge to a metrics system.
type Meter interface {
	Counter(name string, value float64, labels ...Label)
	Histogram(name string, value float64, labels ...Label)
}

// NopMeter is a Meter that discards all measurements.
type NopMeter struct{}

func (NopMeter) Counter(name string, value float64, labels ...Label)   {}
func (NopMeter) Histogram(name string, value float64, labels ...Label) {}

// OrNopMeter returns m, or a NopMeter when m is nil
func OrNopMeter(m Meter) Meter {
	if m == nil {
		return NopMeter{}
	}
	return m
}

// Recorder keeps measurements in memory. Safe for concurrent use.
type Recorder struct {
	mu         sync.Mutex
	counters   map[string]float64
	histograms map[string][]float64
}

// NewRecorder returns an empty Recorder
func NewRecorder() *Recorder {
	return &Recorder{
		counters:   make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

func (r *Recorder) Counter(name string, value float64, labels ...Label) {
	r.mu.Lock()
	r.counters[seriesKey(name, labels)] += value
	r.mu.Unlock()
}

func (r *Recorder) Histogram(name string, value float64, labels ...Label) {
	key := seriesKey(name, labels)
	r.mu.Lock()
	r.histograms[key] = append(r.histograms[key], value)
	r.mu.Unlock()
}

// CounterValue returns the accumulated value for name with exactly labels
func (r *Recorder) CounterValue(name string, labels ...Label) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[seriesKey(name, labels)]
}

// Observations returns a copy of the values recorded for a histogram series
func (r *Recorder) Observations(name string, labels ...Label) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	vv := r.histograms[seriesKey(name, labels)]
	out := make([]float64, len(vv))
	copy(out, vv)
	return out
}

// seriesKey renders name{k=v,...} with labels sorted by key
func seriesKey(name string, labels []Label) string {
	if len(labels) == 0 {
		return name
	}
	ls := make([]Label, len(labels))
	copy(ls, labels)
	sort.Slice(ls, func(i, j int) bool { return ls[i].Key < ls[j].Key })
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, l := range ls {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(l.Key)
		b.WriteByte('=')
		b.WriteString(l.Value)
	}
	b.WriteByte('}')
	return b.String()
}
