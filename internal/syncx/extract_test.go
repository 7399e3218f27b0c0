package syncx

import (
	"encoding/json"
	"testing"
)

func TestToInt64(t *testing.T) {
	tests := []struct {
		name  string
		in    any
		want  int64
		valid bool
	}{
		{"float64 integral", float64(42), 42, true},
		{"float64 fractional", 4.5, 0, false},
		{"json number", json.Number("1699999999"), 1699999999, true},
		{"json number exponent", json.Number("1e3"), 1000, true},
		{"int", 7, 7, true},
		{"numeric string", "-12", -12, true},
		{"garbage string", "abc", 0, false},
		{"bool", true, 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToInt64(tt.in)
			if ok != tt.valid {
				t.Fatalf("ToInt64(%v) ok = %v, want %v", tt.in, ok, tt.valid)
			}
			if got != tt.want {
				t.Errorf("ToInt64(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtractID(t *testing.T) {
	if id, ok := ExtractID(map[string]any{"id": float64(101)}); !ok || id != 101 {
		t.Errorf("ExtractID = %d, %v; want 101, true", id, ok)
	}
	if _, ok := ExtractID(map[string]any{"id": float64(-5)}); ok {
		t.Error("negative id must not be accepted as a server id")
	}
	if _, ok := ExtractID(map[string]any{"name": "x"}); ok {
		t.Error("missing id must not be accepted")
	}
}

func TestParseTimeToMs(t *testing.T) {
	ms, ok := ParseTimeToMs("2025-11-03T10:00:00Z")
	if !ok {
		t.Fatal("expected RFC3339 to parse")
	}
	if got := RFC3339(ms); got != "2025-11-03T10:00:00Z" {
		t.Errorf("round trip = %s", got)
	}

	if ms, ok := ParseTimeToMs("1730628000000"); !ok || ms != 1730628000000 {
		t.Errorf("numeric ms = %d, %v", ms, ok)
	}

	if _, ok := ParseTimeToMs(""); ok {
		t.Error("empty string should not parse")
	}
}
