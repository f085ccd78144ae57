package relay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/zerofinancial/relay/internal/record"
	"github.com/zerofinancial/relay/internal/staging"
	pebblestore "github.com/zerofinancial/relay/internal/storage/pebble"
	"github.com/zerofinancial/relay/internal/store"
	"github.com/zerofinancial/relay/internal/store/kv"
	"github.com/zerofinancial/relay/internal/transfer"
	"github.com/zerofinancial/relay/internal/transfer/transfertest"
	"github.com/zerofinancial/relay/pkg/id"
)

const testEndpoint = "https://logs.example.com/v1/ingest"

type recorder struct {
	mu        sync.Mutex
	delivered []record.Payload
	failed    []transfer.Outcome
}

func (o *recorder) Delivered(p record.Payload) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delivered = append(o.delivered, p)
}

func (o *recorder) Failed(p record.Payload, err error, out transfer.Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, out)
}

func (o *recorder) counts() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.delivered), len(o.failed)
}

type harness struct {
	t     *testing.T
	dir   string
	store *kv.Store
	area  *staging.Area
	fake  *transfertest.Subsystem
	obs   *recorder
	r     *Relay
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	dir := t.TempDir()
	st, err := kv.Open(filepath.Join(dir, "db"), "main", pebblestore.FsyncModeNever)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	area, err := staging.Open(filepath.Join(dir, "staging"), false)
	if err != nil {
		t.Fatalf("open staging: %v", err)
	}
	h := &harness{t: t, dir: dir, store: st, area: area, fake: transfertest.New("queue-1"), obs: &recorder{}}
	t.Cleanup(func() { _ = st.Close() })
	h.start(mutate)
	return h
}

func (h *harness) options() Options {
	return Options{
		Store:         h.store,
		Transfer:      h.fake,
		Staging:       h.area,
		Config:        Configuration{Endpoint: testEndpoint},
		UploadRetries: Retries(3),
		Observer:      h.obs,
	}
}

func (h *harness) start(mutate func(*Options)) {
	h.t.Helper()
	opts := h.options()
	if mutate != nil {
		mutate(&opts)
	}
	r, err := New(context.Background(), opts)
	if err != nil {
		h.t.Fatalf("new relay: %v", err)
	}
	h.r = r
	h.t.Cleanup(func() { _ = r.Close() })
}

func (h *harness) append(msg string) {
	h.t.Helper()
	if err := h.r.Append(context.Background(), record.Payload{Message: msg, Level: "info", Timestamp: time.Now()}); err != nil {
		h.t.Fatalf("append %q: %v", msg, err)
	}
}

func (h *harness) flush() {
	h.t.Helper()
	if err := h.r.Flush(context.Background()); err != nil {
		h.t.Fatalf("flush: %v", err)
	}
}

// settle waits until every closure queued so far has run on the access point.
func (h *harness) settle() {
	h.t.Helper()
	if _, err := h.r.Stats(context.Background()); err != nil {
		h.t.Fatalf("stats: %v", err)
	}
}

func (h *harness) records() []record.LogRecord {
	h.t.Helper()
	ctx := context.Background()
	pending, err := h.store.Pending(ctx)
	if err != nil {
		h.t.Fatalf("pending: %v", err)
	}
	submitted, err := h.store.Submitted(ctx)
	if err != nil {
		h.t.Fatalf("submitted: %v", err)
	}
	return append(pending, submitted...)
}

func (h *harness) only() record.LogRecord {
	h.t.Helper()
	recs := h.records()
	if len(recs) != 1 {
		h.t.Fatalf("want exactly one record, have %d", len(recs))
	}
	return recs[0]
}

func (h *harness) complete(taskID string, kind transfer.OutcomeKind, status int) {
	h.t.Helper()
	if !h.fake.Complete(transfer.TaskID(taskID), kind, status) {
		h.t.Fatalf("task %s is not live", taskID)
	}
	h.settle()
}

// partition maps every stored record to its task id.
func (h *harness) partition() map[id.ID]string {
	out := make(map[id.ID]string)
	for _, rec := range h.records() {
		out[rec.ID] = rec.TaskID
	}
	return out
}

func noEndpoint(o *Options) { o.Config = Configuration{} }

func queued(a *actor) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

func TestAppendRoundTrip(t *testing.T) {
	h := newHarness(t, noEndpoint)
	p := record.Payload{
		Message:   "user signed in",
		Level:     "info",
		Logger:    "auth",
		File:      "login.go",
		Function:  "Login",
		Line:      17,
		Timestamp: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
		Context: map[string]any{
			"user":    "u_1",
			"attempt": int64(3),
			"seq":     int64(1<<53 + 1),
			"ok":      true,
			"latency": 0.5,
			"req":     map[string]any{"status": int64(200)},
		},
	}
	if err := h.r.Append(context.Background(), p); err != nil {
		t.Fatalf("append: %v", err)
	}
	got := h.only()
	if diff := cmp.Diff(p, got.Payload); diff != "" {
		t.Fatalf("payload (-want +got):\n%s", diff)
	}
	if got.RetryCount != 0 || got.TaskID != "" {
		t.Fatalf("fresh record = %+v", got)
	}
}

func TestAppendStoresIntsAsInt64(t *testing.T) {
	h := newHarness(t, noEndpoint)
	p := record.Payload{Message: "m", Level: "info", Context: map[string]any{"attempt": 3, "ok": true}}
	if err := h.r.Append(context.Background(), p); err != nil {
		t.Fatalf("append: %v", err)
	}
	want := map[string]any{"attempt": int64(3), "ok": true}
	if diff := cmp.Diff(want, h.only().Payload.Context); diff != "" {
		t.Fatalf("context (-want +got):\n%s", diff)
	}
}

func TestAppendRejectsUnencodableContext(t *testing.T) {
	h := newHarness(t, noEndpoint)
	p := record.Payload{Message: "m", Context: map[string]any{"fn": func() {}}}
	if err := h.r.Append(context.Background(), p); err == nil {
		t.Fatalf("expected an error")
	}
	if n := len(h.records()); n != 0 {
		t.Fatalf("stored %d records", n)
	}
}

func TestCancelledAppendStoresNothing(t *testing.T) {
	h := newHarness(t, noEndpoint)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 50; i++ {
		err := h.r.Append(ctx, record.Payload{Message: fmt.Sprint(i), Level: "info"})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if n := len(h.records()); n != 0 {
		t.Fatalf("cancelled appends stored %d records", n)
	}
}

func TestAppendCancelledWhileQueued(t *testing.T) {
	h := newHarness(t, noEndpoint)
	started, release := make(chan struct{}), make(chan struct{})
	if !h.r.act.async(func() { close(started); <-release }) {
		t.Fatalf("actor closed")
	}
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.r.Append(ctx, record.Payload{Message: "late", Level: "info"}) }()
	for queued(h.r.act) == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	close(release)

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("append: %v", err)
	}
	h.settle()
	if n := len(h.records()); n != 0 {
		t.Fatalf("cancelled append stored %d records", n)
	}
}

func TestEmptyEndpointQueuesRecords(t *testing.T) {
	h := newHarness(t, noEndpoint)
	h.append("a")
	h.append("b")
	h.flush()
	if n := len(h.fake.Submissions()); n != 0 {
		t.Fatalf("submitted %d records without an endpoint", n)
	}

	if err := h.r.SetConfiguration(context.Background(), Configuration{Endpoint: testEndpoint}); err != nil {
		t.Fatalf("set configuration: %v", err)
	}
	h.flush()
	if n := len(h.fake.Submissions()); n != 2 {
		t.Fatalf("submissions after endpoint set = %d, want 2", n)
	}
}

func TestRetentionKeepsNewest(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		noEndpoint(o)
		o.MaxNumberOfLogs = 2
	})
	h.append("first")
	h.append("second")
	h.append("third")

	recs := h.records()
	if len(recs) != 2 {
		t.Fatalf("store holds %d records, want 2", len(recs))
	}
	for _, rec := range recs {
		if rec.Payload.Message == "first" {
			t.Fatalf("oldest record survived eviction")
		}
	}
}

func TestRetentionNeverExceedsMax(t *testing.T) {
	const limit = 5
	h := newHarness(t, func(o *Options) {
		noEndpoint(o)
		o.MaxNumberOfLogs = limit
	})
	for i := 0; i < 3*limit; i++ {
		h.append(fmt.Sprintf("m%02d", i))
		if n, _ := h.store.Count(context.Background()); n > limit {
			t.Fatalf("after %d appends store holds %d > %d", i+1, n, limit)
		}
	}
	var got []string
	pending, _ := h.store.Pending(context.Background())
	for _, rec := range pending {
		got = append(got, rec.Payload.Message)
	}
	want := []string{"m10", "m11", "m12", "m13", "m14"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("survivors (-want +got):\n%s", diff)
	}
	st, err := h.r.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Evicted != 2*limit {
		t.Fatalf("evicted = %d", st.Evicted)
	}
}

func TestSuccessDeletesRecordAndNotifiesOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.append("ok")
	h.flush()

	rec := h.only()
	if rec.TaskID == "" {
		t.Fatalf("record was not submitted")
	}
	staged := h.area.Path(rec.ID)
	if _, err := os.Stat(staged); err != nil {
		t.Fatalf("staged body missing: %v", err)
	}
	sub := h.fake.Submissions()
	if len(sub) != 1 || sub[0].Target != testEndpoint || sub[0].RecordID != rec.ID || sub[0].BodyPath != staged {
		t.Fatalf("submission = %+v", sub)
	}

	h.complete(rec.TaskID, transfer.Succeeded, 200)
	if n := len(h.records()); n != 0 {
		t.Fatalf("delivered record still stored")
	}
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Fatalf("staged body not removed: %v", err)
	}
	if d, f := h.obs.counts(); d != 1 || f != 0 {
		t.Fatalf("observer delivered=%d failed=%d", d, f)
	}
}

func TestFailureRetriesImmediately(t *testing.T) {
	h := newHarness(t, nil)
	h.append("flaky")
	h.flush()
	first := h.only()

	h.complete(first.TaskID, transfer.Failed, 500)
	rec := h.only()
	if rec.RetryCount != 1 {
		t.Fatalf("retryCount = %d, want 1", rec.RetryCount)
	}
	if rec.TaskID == "" || rec.TaskID == first.TaskID {
		t.Fatalf("record not resubmitted: %+v", rec)
	}
	if n := len(h.fake.Submissions()); n != 2 {
		t.Fatalf("submissions = %d, want 2", n)
	}
}

func TestRetryExhaustionDropsRecord(t *testing.T) {
	h := newHarness(t, nil)
	h.append("doomed")
	h.flush()

	for i := 0; i < 3; i++ {
		h.complete(h.only().TaskID, transfer.Failed, 500)
	}
	if n := len(h.records()); n != 0 {
		t.Fatalf("record survived exhaustion")
	}
	if n := len(h.fake.Submissions()); n != 3 {
		t.Fatalf("submissions = %d, want 3", n)
	}
	if len(h.fake.Live()) != 0 {
		t.Fatalf("exhausted record was resubmitted")
	}
	d, f := h.obs.counts()
	if d != 0 || f != 1 {
		t.Fatalf("observer delivered=%d failed=%d", d, f)
	}
	if h.obs.failed[0].StatusCode != 500 {
		t.Fatalf("failure outcome = %+v", h.obs.failed[0])
	}
}

func TestZeroRetriesDropsOnFirstFailure(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.UploadRetries = Retries(0) })
	h.append("once")
	h.flush()
	h.complete(h.only().TaskID, transfer.Failed, 0)
	if n := len(h.records()); n != 0 {
		t.Fatalf("record kept with zero retries")
	}
}

func TestUnboundedRetriesNeverGiveUp(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.UploadRetries = nil })
	h.append("stubborn")
	h.flush()
	for i := 0; i < 25; i++ {
		h.complete(h.only().TaskID, transfer.Failed, 503)
	}
	rec := h.only()
	if rec.RetryCount != 25 || rec.TaskID == "" {
		t.Fatalf("record = %+v", rec)
	}
	if _, f := h.obs.counts(); f != 0 {
		t.Fatalf("observer told about failure with unbounded retries")
	}
}

func TestNegativeRetriesMeanForever(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.UploadRetries = Retries(-1) })
	h.append("x")
	h.flush()
	for i := 0; i < 5; i++ {
		h.complete(h.only().TaskID, transfer.Failed, 500)
	}
	if h.only().RetryCount != 5 {
		t.Fatalf("negative retries should not cap attempts")
	}
}

func TestStaleOutcomeIsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.append("x")
	h.flush()
	rec := h.only()

	h.r.handleOutcome(transfer.Outcome{
		Task: transfer.Task{ID: "not-" + transfer.TaskID(rec.TaskID), Request: transfer.Request{RecordID: rec.ID}},
		Kind: transfer.Failed,
	})
	h.settle()
	got := h.only()
	if got.RetryCount != 0 || got.TaskID != rec.TaskID {
		t.Fatalf("stale outcome changed the record: %+v", got)
	}
}

func TestReconcileResubmitsOrphans(t *testing.T) {
	h := newHarness(t, nil)
	h.append("lost")
	h.flush()
	before := h.only()

	h.fake.Drop(transfer.TaskID(before.TaskID))
	if err := h.r.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	after := h.only()
	if after.TaskID == "" || after.TaskID == before.TaskID {
		t.Fatalf("orphan not resubmitted: %+v", after)
	}
	if after.RetryCount != 0 {
		t.Fatalf("orphan recovery must not count as a retry")
	}
}

func TestRestartRecoversRecords(t *testing.T) {
	h := newHarness(t, nil)
	h.append("kept")
	h.append("lost")
	h.flush()
	recs := h.records()
	kept, lost := recs[0], recs[1]
	if kept.Payload.Message != "kept" {
		kept, lost = lost, kept
	}
	liveKept := transfer.Task{ID: transfer.TaskID(kept.TaskID), Request: h.fake.Submissions()[0]}
	for _, req := range h.fake.Submissions() {
		if req.RecordID == kept.ID {
			liveKept.Request = req
		}
	}
	if err := h.r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// The subsystem resumed one upload and lost the other.
	h.fake = transfertest.New("queue-1")
	h.fake.AddLive(liveKept)
	h.start(nil)

	if got, err := h.store.Get(context.Background(), kept.ID); err != nil || got.TaskID != kept.TaskID {
		t.Fatalf("resumed record = %+v, %v", got, err)
	}
	got, err := h.store.Get(context.Background(), lost.ID)
	if err != nil {
		t.Fatalf("get lost: %v", err)
	}
	if got.TaskID == "" || got.TaskID == lost.TaskID {
		t.Fatalf("lost record not resubmitted on startup: %+v", got)
	}
	if n := len(h.fake.Submissions()); n != 1 {
		t.Fatalf("startup submissions = %d, want 1", n)
	}
}

func TestConfigurationChangeCancelsAndResubmits(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Config = Configuration{Endpoint: testEndpoint, Headers: map[string]string{"X-Api-Key": "old"}}
	})
	h.append("rotate")
	h.flush()
	first := h.only()

	// Same value: nothing happens.
	if err := h.r.SetConfiguration(context.Background(), Configuration{Endpoint: testEndpoint, Headers: map[string]string{"X-Api-Key": "old"}}); err != nil {
		t.Fatalf("set configuration: %v", err)
	}
	if len(h.fake.Cancels()) != 0 {
		t.Fatalf("equal configuration cancelled tasks")
	}

	next := Configuration{Endpoint: testEndpoint, Headers: map[string]string{"X-Api-Key": "new"}}
	if err := h.r.SetConfiguration(context.Background(), next); err != nil {
		t.Fatalf("set configuration: %v", err)
	}
	if diff := cmp.Diff([]transfer.TaskID{transfer.TaskID(first.TaskID)}, h.fake.Cancels()); diff != "" {
		t.Fatalf("cancels (-want +got):\n%s", diff)
	}
	h.settle()
	h.flush()

	rec := h.only()
	if rec.TaskID == "" || rec.TaskID == first.TaskID || rec.RetryCount != 0 {
		t.Fatalf("record after config change = %+v", rec)
	}
	sub := h.fake.Submissions()
	last := sub[len(sub)-1]
	if last.RecordID != rec.ID || last.Headers["X-Api-Key"] != "new" {
		t.Fatalf("resubmitted with %+v", last)
	}
	cfg, err := h.r.Configuration(context.Background())
	if err != nil || !cfg.Equal(next) {
		t.Fatalf("configuration = %+v, %v", cfg, err)
	}
}

func TestHeaderAsymmetryIsAMismatch(t *testing.T) {
	h := newHarness(t, nil)
	h.append("x")
	h.flush()
	if err := h.r.SetConfiguration(context.Background(), Configuration{Endpoint: testEndpoint, Headers: map[string]string{"X": "1"}}); err != nil {
		t.Fatalf("set configuration: %v", err)
	}
	if len(h.fake.Cancels()) != 1 {
		t.Fatalf("adding a header must invalidate in-flight tasks")
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.SetDeferCancel(true)
	h.append("a")
	h.append("b")
	h.append("c")
	h.flush()
	recs := h.records()
	h.fake.Drop(transfer.TaskID(recs[0].TaskID))

	if err := h.r.SetConfiguration(context.Background(), Configuration{Endpoint: testEndpoint + "?v=2"}); err != nil {
		t.Fatalf("set configuration: %v", err)
	}
	first := h.partition()
	cancels := len(h.fake.Cancels())
	if cancels != 2 {
		t.Fatalf("cancels = %d, want 2", cancels)
	}

	if err := h.r.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if diff := cmp.Diff(first, h.partition()); diff != "" {
		t.Fatalf("second reconciliation changed state (-first +second):\n%s", diff)
	}
	if n := len(h.fake.Cancels()); n != cancels {
		t.Fatalf("second reconciliation cancelled again: %d", n)
	}

	h.fake.ResolveCancels()
	h.settle()
	h.flush()
	for _, rec := range h.records() {
		if rec.TaskID == "" {
			t.Fatalf("record %s left pending", rec.ID)
		}
	}
	for _, req := range h.fake.Submissions()[3:] {
		if req.Target != testEndpoint+"?v=2" {
			t.Fatalf("resubmitted to %s", req.Target)
		}
	}
}

func TestForeignTasksAreIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.AddLive(transfer.Task{ID: "other", Request: transfer.Request{
		RecordID: id.NewGenerator().Next(),
		Target:   "https://elsewhere.example.com",
	}})
	if err := h.r.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(h.fake.Cancels()) != 0 {
		t.Fatalf("task without a record was cancelled")
	}
}

func TestResetLeavesTasksRunning(t *testing.T) {
	h := newHarness(t, nil)
	h.append("x")
	h.flush()
	rec := h.only()

	if err := h.r.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n := len(h.records()); n != 0 {
		t.Fatalf("records after reset = %d", n)
	}
	if _, err := os.Stat(h.area.Path(rec.ID)); !os.IsNotExist(err) {
		t.Fatalf("staged body survived reset")
	}
	if len(h.fake.Cancels()) != 0 || len(h.fake.Live()) != 1 {
		t.Fatalf("reset must not cancel tasks")
	}
	h.complete(rec.TaskID, transfer.Succeeded, 200)
	if d, _ := h.obs.counts(); d != 0 {
		t.Fatalf("outcome for a reset record reached the observer")
	}
}

func TestEvictedInFlightOutcomeIsNoop(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.MaxNumberOfLogs = 1 })
	h.append("old")
	h.flush()
	old := h.only()
	h.append("new")
	if h.only().Payload.Message != "new" {
		t.Fatalf("oldest record not evicted")
	}
	h.complete(old.TaskID, transfer.Succeeded, 200)
	if d, _ := h.obs.counts(); d != 0 {
		t.Fatalf("evicted record reported as delivered")
	}
}

func TestSubmitErrorLeavesRecordPending(t *testing.T) {
	h := newHarness(t, noEndpoint)
	h.append("x")
	h.fake.FailSubmit(errors.New("subsystem unavailable"))
	if err := h.r.SetConfiguration(context.Background(), Configuration{Endpoint: testEndpoint}); err != nil {
		t.Fatalf("set configuration: %v", err)
	}
	if err := h.r.Flush(context.Background()); err == nil {
		t.Fatalf("flush should report that nothing was submitted")
	}
	rec := h.only()
	if rec.TaskID != "" {
		t.Fatalf("record marked submitted after failed submit")
	}
	if _, err := os.Stat(h.area.Path(rec.ID)); !os.IsNotExist(err) {
		t.Fatalf("staged body left behind after failed submit")
	}

	h.fake.FailSubmit(nil)
	h.flush()
	if h.only().TaskID == "" {
		t.Fatalf("record not submitted once the subsystem recovered")
	}
}

func TestHandleBackgroundEvents(t *testing.T) {
	h := newHarness(t, nil)
	if h.r.HandleBackgroundEvents("someone-else", func() { t.Fatalf("foreign completion called") }) {
		t.Fatalf("foreign identifier accepted")
	}

	h.append("x")
	h.flush()
	var calls int
	var mu sync.Mutex
	done := func() { mu.Lock(); calls++; mu.Unlock() }
	if !h.r.HandleBackgroundEvents(h.r.Identity(), done) {
		t.Fatalf("own identifier rejected")
	}
	h.settle()
	mu.Lock()
	if calls != 0 {
		t.Fatalf("completion called before any outcome")
	}
	mu.Unlock()

	h.complete(h.only().TaskID, transfer.Succeeded, 200)
	mu.Lock()
	if calls != 1 {
		t.Fatalf("completion calls = %d, want 1", calls)
	}
	mu.Unlock()

	// Nothing in flight: called straight away.
	if !h.r.HandleBackgroundEvents(h.r.Identity(), done) {
		t.Fatalf("own identifier rejected")
	}
	h.settle()
	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("idle completion calls = %d, want 2", calls)
	}
}

type panickyObserver struct{}

func (panickyObserver) Delivered(record.Payload) { panic("observer bug") }
func (panickyObserver) Failed(record.Payload, error, transfer.Outcome) {
	panic("observer bug")
}

func TestObserverPanicDoesNotCorruptQueue(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Observer = panickyObserver{} })
	h.append("a")
	h.flush()
	h.complete(h.only().TaskID, transfer.Succeeded, 200)
	if n := len(h.records()); n != 0 {
		t.Fatalf("record kept after panicking observer")
	}
	h.append("b")
	h.flush()
	if h.only().TaskID == "" {
		t.Fatalf("queue stopped working after observer panic")
	}
}

type failingStore struct {
	store.Store
	insertErr error
}

func (s *failingStore) Insert(ctx context.Context, rec record.LogRecord) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	return s.Store.Insert(ctx, rec)
}

func TestStorageErrorsSurfaceToProducer(t *testing.T) {
	var fs *failingStore
	h := newHarness(t, func(o *Options) {
		fs = &failingStore{Store: o.Store, insertErr: errors.New("disk full")}
		o.Store = fs
	})
	err := h.r.Append(context.Background(), record.Payload{Message: "x"})
	var se *StorageError
	if !errors.As(err, &se) || se.Op != "insert" {
		t.Fatalf("append error = %v", err)
	}
	if n := len(h.records()); n != 0 {
		t.Fatalf("failed insert left %d records", n)
	}

	fs.insertErr = nil
	h.append("recovered")
	if n := len(h.records()); n != 1 {
		t.Fatalf("records after recovery = %d", n)
	}
}

func TestClosedRelayRejectsWork(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := h.r.Append(context.Background(), record.Payload{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("append after close = %v", err)
	}
	if err := h.r.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestBackgroundFlushAfterAppend(t *testing.T) {
	h := newHarness(t, nil)
	h.append("auto")
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(h.fake.Submissions()) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("append did not trigger a background flush")
}

func TestFailedResubmitTriggersFlush(t *testing.T) {
	h := newHarness(t, nil)
	h.append("flaky")
	h.flush()
	first := h.only()

	h.fake.FailNextSubmit(errors.New("subsystem busy"))
	h.complete(first.TaskID, transfer.Failed, 500)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		h.settle()
		if rec := h.only(); rec.TaskID != "" {
			if rec.RetryCount != 1 {
				t.Fatalf("retryCount = %d, want 1", rec.RetryCount)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("record left pending after a failed resubmission")
}
