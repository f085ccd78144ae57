// Package storetest holds a behavioural suite shared by every store backend.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/zerofinancial/relay/internal/record"
	"github.com/zerofinancial/relay/internal/store"
	"github.com/zerofinancial/relay/pkg/id"
)

// Factory opens a fresh, empty store rooted at dir.
type Factory func(t *testing.T, dir string) store.Store

// Run exercises the store.Store contract.
func Run(t *testing.T, open Factory) {
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, open) })
	t.Run("DuplicateInsert", func(t *testing.T) { testDuplicateInsert(t, open) })
	t.Run("TaskLifecycle", func(t *testing.T) { testTaskLifecycle(t, open) })
	t.Run("PendingAndSubmitted", func(t *testing.T) { testPartition(t, open) })
	t.Run("OldestTieBreak", func(t *testing.T) { testOldest(t, open) })
	t.Run("DeleteAndCount", func(t *testing.T) { testDeleteAndCount(t, open) })
	t.Run("Reopen", func(t *testing.T) { testReopen(t, open) })
}

type fixture struct {
	gen  *id.Generator
	base time.Time
}

func newFixture() *fixture {
	return &fixture{gen: id.NewGenerator(), base: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (f *fixture) record(offset time.Duration, msg string) record.LogRecord {
	at := f.base.Add(offset)
	return record.New(f.gen.NextAt(at.UnixMilli()), record.Payload{
		Message:   msg,
		Level:     "info",
		Logger:    "storetest",
		Timestamp: at,
		Context:   map[string]any{"k": "v"},
	}, at)
}

func mustInsert(t *testing.T, s store.Store, recs ...record.LogRecord) {
	t.Helper()
	for _, r := range recs {
		if err := s.Insert(context.Background(), r); err != nil {
			t.Fatalf("insert %s: %v", r.ID, err)
		}
	}
}

func ids(recs []record.LogRecord) []id.ID {
	out := make([]id.ID, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func testRoundTrip(t *testing.T, open Factory) {
	s := open(t, t.TempDir())
	f := newFixture()
	r := f.record(0, "hello")
	r.Payload.Context = map[string]any{
		"k":       "v",
		"attempt": int64(3),
		"offset":  int64(1<<53 + 1),
		"ok":      true,
		"ratio":   0.25,
		"none":    nil,
		"req":     map[string]any{"status": int64(201)},
		"ids":     []any{int64(1), "two"},
	}
	mustInsert(t, s, r)

	got, err := s.Get(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(r, got); diff != "" {
		t.Fatalf("round trip (-want +got):\n%s", diff)
	}
	if got.RetryCount != 0 || got.TaskID != "" {
		t.Fatalf("new record must be pending with zero retries: %+v", got)
	}
	if _, err := s.Get(context.Background(), f.gen.Next()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testDuplicateInsert(t *testing.T, open Factory) {
	s := open(t, t.TempDir())
	r := newFixture().record(0, "dup")
	mustInsert(t, s, r)
	if err := s.Insert(context.Background(), r); !errors.Is(err, store.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if n, _ := s.Count(context.Background()); n != 1 {
		t.Fatalf("count = %d after duplicate insert", n)
	}
}

func testTaskLifecycle(t *testing.T, open Factory) {
	ctx := context.Background()
	s := open(t, t.TempDir())
	f := newFixture()
	r := f.record(0, "task")
	mustInsert(t, s, r)

	got, err := s.SetTask(ctx, r.ID, "task-1")
	if err != nil {
		t.Fatalf("set task: %v", err)
	}
	if got.TaskID != "task-1" || got.RetryCount != 0 {
		t.Fatalf("after SetTask: %+v", got)
	}

	got, err = s.RecordFailure(ctx, r.ID)
	if err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if got.TaskID != "" || got.RetryCount != 1 {
		t.Fatalf("after RecordFailure: %+v", got)
	}

	if _, err := s.SetTask(ctx, r.ID, "task-2"); err != nil {
		t.Fatalf("set task: %v", err)
	}
	got, err = s.SetTask(ctx, r.ID, "")
	if err != nil {
		t.Fatalf("clear task: %v", err)
	}
	if got.TaskID != "" || got.RetryCount != 1 {
		t.Fatalf("clearing a task must not touch retries: %+v", got)
	}

	stored, err := s.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(got, stored); diff != "" {
		t.Fatalf("returned record differs from stored (-ret +stored):\n%s", diff)
	}

	missing := f.gen.Next()
	if _, err := s.SetTask(ctx, missing, "x"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("SetTask on missing: %v", err)
	}
	if _, err := s.RecordFailure(ctx, missing); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("RecordFailure on missing: %v", err)
	}
}

func testPartition(t *testing.T, open Factory) {
	ctx := context.Background()
	s := open(t, t.TempDir())
	f := newFixture()
	a, b, c := f.record(0, "a"), f.record(time.Second, "b"), f.record(2*time.Second, "c")
	mustInsert(t, s, c, a, b)
	if _, err := s.SetTask(ctx, b.ID, "tb"); err != nil {
		t.Fatalf("set task: %v", err)
	}

	pending, err := s.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if diff := cmp.Diff([]id.ID{a.ID, c.ID}, ids(pending)); diff != "" {
		t.Fatalf("pending (-want +got):\n%s", diff)
	}
	submitted, err := s.Submitted(ctx)
	if err != nil {
		t.Fatalf("submitted: %v", err)
	}
	if len(submitted) != 1 || submitted[0].ID != b.ID || submitted[0].TaskID != "tb" {
		t.Fatalf("submitted = %+v", submitted)
	}
}

func testOldest(t *testing.T, open Factory) {
	ctx := context.Background()
	s := open(t, t.TempDir())
	if _, err := s.Oldest(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Oldest on empty store: %v", err)
	}

	f := newFixture()
	late := f.record(time.Minute, "late")
	tieA := f.record(0, "tie-a")
	tieB := f.record(0, "tie-b")
	mustInsert(t, s, late, tieB, tieA)

	got, err := s.Oldest(ctx)
	if err != nil {
		t.Fatalf("oldest: %v", err)
	}
	if got.ID != tieA.ID {
		t.Fatalf("oldest = %q, want %q", got.Payload.Message, tieA.Payload.Message)
	}
}

func testDeleteAndCount(t *testing.T, open Factory) {
	ctx := context.Background()
	s := open(t, t.TempDir())
	f := newFixture()
	a, b := f.record(0, "a"), f.record(time.Second, "b")
	mustInsert(t, s, a, b)
	if _, err := s.SetTask(ctx, b.ID, "tb"); err != nil {
		t.Fatalf("set task: %v", err)
	}

	if err := s.Delete(ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, a.ID); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
	if n, err := s.Count(ctx); err != nil || n != 1 {
		t.Fatalf("count = %d, %v", n, err)
	}

	if err := s.DeleteAll(ctx); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if n, err := s.Count(ctx); err != nil || n != 0 {
		t.Fatalf("count after DeleteAll = %d, %v", n, err)
	}
	if sub, _ := s.Submitted(ctx); len(sub) != 0 {
		t.Fatalf("submitted after DeleteAll = %d", len(sub))
	}
	mustInsert(t, s, f.record(2*time.Second, "after reset"))
	if n, _ := s.Count(ctx); n != 1 {
		t.Fatalf("count after reinsertion = %d", n)
	}
}

func testReopen(t *testing.T, open Factory) {
	ctx := context.Background()
	dir := t.TempDir()
	f := newFixture()
	r := f.record(0, "durable")

	s := open(t, dir)
	mustInsert(t, s, r)
	if _, err := s.SetTask(ctx, r.ID, "t1"); err != nil {
		t.Fatalf("set task: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s = open(t, dir)
	got, err := s.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.TaskID != "t1" {
		t.Fatalf("task lost across reopen: %+v", got)
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Fatalf("count after reopen = %d", n)
	}
}
