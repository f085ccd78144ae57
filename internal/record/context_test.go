package record

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/zerofinancial/relay/pkg/id"
)

func TestNormalizedContext(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
		want map[string]any
	}{
		{"empty", map[string]any{}, nil},
		{"int becomes int64", map[string]any{"attempt": 3}, map[string]any{"attempt": int64(3)}},
		{"large int64 keeps precision", map[string]any{"n": int64(math.MaxInt64)}, map[string]any{"n": int64(math.MaxInt64)}},
		{"uint32", map[string]any{"n": uint32(7)}, map[string]any{"n": int64(7)}},
		{"float", map[string]any{"ratio": 0.25}, map[string]any{"ratio": 0.25}},
		{"bool and nil", map[string]any{"ok": true, "none": nil}, map[string]any{"ok": true, "none": nil}},
		{"nested", map[string]any{
			"req":  map[string]any{"status": 201, "path": "/x"},
			"tags": []string{"a", "b"},
			"ids":  []int{1, 2},
		}, map[string]any{
			"req":  map[string]any{"status": int64(201), "path": "/x"},
			"tags": []any{"a", "b"},
			"ids":  []any{int64(1), int64(2)},
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Payload{Message: "m", Context: tc.in}.Normalized()
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if diff := cmp.Diff(tc.want, p.Context); diff != "" {
				t.Fatalf("context (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalizedRejectsUnencodable(t *testing.T) {
	if _, err := (Payload{Context: map[string]any{"ch": make(chan int)}}).Normalized(); err == nil {
		t.Fatalf("expected an error for a channel value")
	}
}

func TestNormalizedSurvivesEncoding(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p, err := Payload{
		Message:   "retrying",
		Level:     "warn",
		Timestamp: ts,
		Context: map[string]any{
			"attempt": 3,
			"ok":      false,
			"offset":  int64(1<<53 + 1),
			"latency": 1.5,
		},
	}.Normalized()
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	r := New(id.NewGenerator().NextAt(ts.UnixMilli()), p, ts)
	b, err := Encode(r)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(r, got); diff != "" {
		t.Fatalf("round trip (-want +got):\n%s", diff)
	}
}
