package transfertest

import (
	"context"
	"errors"
	"testing"

	"github.com/zerofinancial/relay/internal/transfer"
)

func TestFakeHoldsOutcomesUntilHandlerSet(t *testing.T) {
	ctx := context.Background()
	s := New("q")
	task, err := s.Submit(ctx, transfer.Request{Target: "https://x"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !s.Complete(task.ID, transfer.Succeeded, 200) {
		t.Fatalf("complete reported task not live")
	}

	var got []transfer.Outcome
	s.SetHandler(func(o transfer.Outcome) { got = append(got, o) })
	if len(got) != 1 || got[0].Task.ID != task.ID || got[0].Kind != transfer.Succeeded {
		t.Fatalf("held outcome not delivered: %+v", got)
	}
	if s.Complete(task.ID, transfer.Succeeded, 200) {
		t.Fatalf("completing twice should fail")
	}
}

func TestFakeCancel(t *testing.T) {
	ctx := context.Background()
	s := New("q")
	var got []transfer.Outcome
	s.SetHandler(func(o transfer.Outcome) { got = append(got, o) })

	task, _ := s.Submit(ctx, transfer.Request{Target: "https://x"})
	s.SetDeferCancel(true)
	if err := s.Cancel(ctx, task.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(got) != 0 || len(s.Live()) != 1 {
		t.Fatalf("deferred cancel must not finish the task yet")
	}
	s.ResolveCancels()
	if len(got) != 1 || got[0].Kind != transfer.Cancelled {
		t.Fatalf("cancel outcome = %+v", got)
	}
	if err := s.Cancel(ctx, task.ID); !errors.Is(err, transfer.ErrUnknownTask) {
		t.Fatalf("cancel of finished task: %v", err)
	}
}

func TestFakeFailNextSubmit(t *testing.T) {
	ctx := context.Background()
	s := New("q")
	boom := errors.New("boom")
	s.FailNextSubmit(boom)
	if _, err := s.Submit(ctx, transfer.Request{Target: "https://x"}); !errors.Is(err, boom) {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := s.Submit(ctx, transfer.Request{Target: "https://x"}); err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if n := len(s.Submissions()); n != 1 {
		t.Fatalf("submissions = %d, want 1", n)
	}
}
