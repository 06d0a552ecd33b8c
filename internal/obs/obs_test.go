package obs

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", Debug},
		{"INFO", Info},
		{"warning", Warn},
		{" error ", Error},
		{"", Info},
		{"verbose", Info},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSlogLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogLogger(&buf, Warn)
	l.Logf(Info, "dropped %d", 1)
	l.Logf(Error, "kept %d", 2)

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info record should be filtered: %q", out)
	}
	if !strings.Contains(out, "kept 2") {
		t.Errorf("error record missing: %q", out)
	}
}

func TestSlogLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	base := NewSlogLogger(&buf, Debug)
	base.With("component", "engine").Logf(Info, "connected")
	base.Logf(Info, "plain")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d records: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "component=engine") {
		t.Errorf("attr missing: %q", lines[0])
	}
	if strings.Contains(lines[1], "component=") {
		t.Errorf("attr leaked to the parent logger: %q", lines[1])
	}

	var zero SlogLogger
	zero.With("k", "v").Logf(Error, "discarded")
}

func TestRecorderSeriesKeyIgnoresLabelOrder(t *testing.T) {
	r := NewRecorder()
	r.Counter("reqs", 1, Label{"a", "1"}, Label{"b", "2"})
	r.Counter("reqs", 2, Label{"b", "2"}, Label{"a", "1"})
	if got := r.CounterValue("reqs", Label{"a", "1"}, Label{"b", "2"}); got != 3 {
		t.Errorf("CounterValue = %v, want 3", got)
	}
	r.Histogram("dur", 5)
	r.Histogram("dur", 7)
	if got := r.Observations("dur"); len(got) != 2 || got[0] != 5 || got[1] != 7 {
		t.Errorf("Observations = %v", got)
	}
}
