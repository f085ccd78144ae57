// Package transfertest provides an in-memory transfer.Subsystem whose tasks
// only finish when a test says so.
package transfertest

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/zerofinancial/relay/internal/transfer"
)

// Subsystem is a deterministic fake. The zero value is not usable; call New.
type Subsystem struct {
	identity string

	mu          sync.Mutex
	seq         int
	live        map[transfer.TaskID]transfer.Task
	order       []transfer.TaskID
	submissions []transfer.Request
	cancels     []transfer.TaskID
	deferred    []transfer.TaskID
	held        []transfer.Outcome
	handler     transfer.Handler

	deferCancel bool
	submitErr   error
	submitOnce  error
	tasksErr    error
	cancelErr   error
}

var _ transfer.Subsystem = (*Subsystem)(nil)

// New returns a fake with the given identity.
func New(identity string) *Subsystem {
	return &Subsystem{identity: identity, live: make(map[transfer.TaskID]transfer.Task)}
}

// SetDeferCancel makes Cancel hold its outcome until ResolveCancels.
func (s *Subsystem) SetDeferCancel(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deferCancel = v
}

// FailSubmit makes Submit return err until called again with nil.
func (s *Subsystem) FailSubmit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitErr = err
}

// FailNextSubmit makes only the next Submit return err.
func (s *Subsystem) FailNextSubmit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitOnce = err
}

// FailTasks makes Tasks return err until called again with nil.
func (s *Subsystem) FailTasks(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasksErr = err
}

// FailCancel makes Cancel return err until called again with nil.
func (s *Subsystem) FailCancel(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelErr = err
}

func (s *Subsystem) Identity() string { return s.identity }

func (s *Subsystem) Tasks(ctx context.Context) ([]transfer.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasksErr != nil {
		return nil, s.tasksErr
	}
	out := make([]transfer.Task, 0, len(s.order))
	for _, tid := range s.order {
		if t, ok := s.live[tid]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Subsystem) Submit(ctx context.Context, req transfer.Request) (transfer.Task, error) {
	if err := ctx.Err(); err != nil {
		return transfer.Task{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return transfer.Task{}, s.submitErr
	}
	if err := s.submitOnce; err != nil {
		s.submitOnce = nil
		return transfer.Task{}, err
	}
	s.seq++
	req.Headers = maps.Clone(req.Headers)
	t := transfer.Task{ID: transfer.TaskID(fmt.Sprintf("t%d", s.seq)), Request: req}
	s.live[t.ID] = t
	s.order = append(s.order, t.ID)
	s.submissions = append(s.submissions, req)
	return t, nil
}

func (s *Subsystem) Cancel(ctx context.Context, taskID transfer.TaskID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.cancelErr != nil {
		s.mu.Unlock()
		return s.cancelErr
	}
	if _, ok := s.live[taskID]; !ok {
		s.mu.Unlock()
		return transfer.ErrUnknownTask
	}
	s.cancels = append(s.cancels, taskID)
	if s.deferCancel {
		s.deferred = append(s.deferred, taskID)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	s.Complete(taskID, transfer.Cancelled, 0)
	return nil
}

func (s *Subsystem) SetHandler(h transfer.Handler) {
	s.mu.Lock()
	s.handler = h
	held := s.held
	s.held = nil
	s.mu.Unlock()
	for _, o := range held {
		h(o)
	}
}

// Complete ends a live task with the given kind and delivers the outcome.
// It returns false when the task is not live.
func (s *Subsystem) Complete(taskID transfer.TaskID, kind transfer.OutcomeKind, status int) bool {
	s.mu.Lock()
	t, ok := s.live[taskID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.live, taskID)
	o := transfer.Outcome{Task: t, Kind: kind, StatusCode: status}
	if kind == transfer.Failed && status == 0 {
		o.Err = fmt.Errorf("transfertest: task %s failed", taskID)
	}
	h := s.handler
	if h == nil {
		s.held = append(s.held, o)
	}
	s.mu.Unlock()
	if h != nil {
		h(o)
	}
	return true
}

// ResolveCancels delivers outcomes for cancellations held by DeferCancel.
func (s *Subsystem) ResolveCancels() {
	s.mu.Lock()
	pending := s.deferred
	s.deferred = nil
	s.mu.Unlock()
	for _, tid := range pending {
		s.Complete(tid, transfer.Cancelled, 0)
	}
}

// AddLive registers a task as if an earlier process had submitted it.
func (s *Subsystem) AddLive(t transfer.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live[t.ID] = t
	s.order = append(s.order, t.ID)
}

// Drop forgets a live task without delivering an outcome, as if the
// subsystem lost it while the process was down.
func (s *Subsystem) Drop(taskID transfer.TaskID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, taskID)
}

// Live returns the ids of live tasks in submission order.
func (s *Subsystem) Live() []transfer.TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []transfer.TaskID
	for _, tid := range s.order {
		if _, ok := s.live[tid]; ok {
			out = append(out, tid)
		}
	}
	return out
}

// Submissions returns every request submitted so far.
func (s *Subsystem) Submissions() []transfer.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.submissions)
}

// Cancels returns every task id Cancel was called with.
func (s *Subsystem) Cancels() []transfer.TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.cancels)
}
