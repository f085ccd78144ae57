package background

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	pebblestore "github.com/zerofinancial/relay/internal/storage/pebble"
	"github.com/zerofinancial/relay/internal/transfer"
	"github.com/zerofinancial/relay/pkg/log"
)

// maxResponseBody bounds how much of a failed response is kept.
const maxResponseBody = 1 << 10

// ErrClosed is returned once the manager has been closed.
var ErrClosed = errors.New("background: manager closed")

// Options configures a Manager.
type Options struct {
	DB       *pebblestore.DB
	Identity string
	// Client performs uploads. Defaults to a client with a 60s timeout.
	Client *http.Client
	// RatePerSecond paces upload starts; zero disables pacing.
	RatePerSecond float64
	Burst         int
	Logger        log.Logger
}

// journalEntry is the persisted form of a task.
type journalEntry struct {
	Seq         uint64           `json:"seq"`
	Request     transfer.Request `json:"request"`
	SubmittedAt int64            `json:"submittedAt"`
}

type task struct {
	seq       uint64
	t         transfer.Task
	cancel    context.CancelFunc
	cancelled bool
}

// Manager runs uploads on goroutines and journals them in Pebble.
type Manager struct {
	db       *pebblestore.DB
	identity string
	client   *http.Client
	limiter  *rate.Limiter
	logger   log.Logger

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	seq    uint64
	tasks  map[transfer.TaskID]*task
	held   []transfer.Outcome
	closed bool

	handler transfer.Handler
}

var _ transfer.Subsystem = (*Manager)(nil)

// Open loads the journal for opts.Identity and resumes every task in it.
// Outcomes of resumed tasks are held until SetHandler is called.
func Open(ctx context.Context, opts Options) (*Manager, error) {
	if opts.DB == nil {
		return nil, errors.New("background: Options.DB is required")
	}
	if strings.TrimSpace(opts.Identity) == "" {
		return nil, errors.New("background: Options.Identity is required")
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	runCtx, stop := context.WithCancel(context.Background())
	m := &Manager{
		db:       opts.DB,
		identity: opts.Identity,
		client:   client,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger.With(log.Component("transfer"), log.Str("identity", opts.Identity)),
		ctx:      runCtx,
		stop:     stop,
		tasks:    make(map[transfer.TaskID]*task),
	}

	if err := m.loadSeq(); err != nil {
		stop()
		return nil, err
	}
	entries, err := m.loadJournal(ctx)
	if err != nil {
		stop()
		return nil, err
	}
	m.mu.Lock()
	for _, e := range entries {
		m.startLocked(e)
	}
	m.mu.Unlock()
	if len(entries) > 0 {
		m.logger.Info("resumed transfers", log.Int("count", len(entries)))
	}
	return m, nil
}

// Identity returns the journal identity.
func (m *Manager) Identity() string { return m.identity }

// Tasks lists live tasks in submission order.
func (m *Manager) Tasks(ctx context.Context) ([]transfer.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	live := make([]*task, 0, len(m.tasks))
	for _, t := range m.tasks {
		live = append(live, t)
	}
	sort.Slice(live, func(i, j int) bool { return live[i].seq < live[j].seq })
	out := make([]transfer.Task, len(live))
	for i, t := range live {
		out[i] = t.t
	}
	return out, nil
}

// Submit journals req and starts uploading it.
func (m *Manager) Submit(ctx context.Context, req transfer.Request) (transfer.Task, error) {
	if req.Target == "" {
		return transfer.Task{}, errors.New("background: request target is required")
	}
	if req.BodyPath == "" {
		return transfer.Task{}, errors.New("background: request body path is required")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return transfer.Task{}, ErrClosed
	}
	m.seq++
	entry := journalEntry{Seq: m.seq, Request: req, SubmittedAt: time.Now().UnixMilli()}
	err := m.journal(ctx, entry)
	if err != nil {
		m.seq--
		m.mu.Unlock()
		return transfer.Task{}, fmt.Errorf("background: journal task: %w", err)
	}
	t := m.startLocked(entry)
	m.mu.Unlock()
	return t, nil
}

// Cancel stops a live upload. The task ends with a Cancelled outcome once
// its goroutine observes the cancellation.
func (m *Manager) Cancel(_ context.Context, taskID transfer.TaskID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", transfer.ErrUnknownTask, taskID)
	}
	t.cancelled = true
	t.cancel()
	return nil
}

// SetHandler registers h and delivers any outcomes held so far.
func (m *Manager) SetHandler(h transfer.Handler) {
	m.mu.Lock()
	m.handler = h
	held := m.held
	m.held = nil
	m.mu.Unlock()
	for _, o := range held {
		h(o)
	}
}

// Close stops all uploads and waits for their goroutines. Interrupted tasks
// stay journaled and resume on the next Open.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	m.stop()
	m.wg.Wait()
	return nil
}

// startLocked registers the task and launches its upload. m.mu must be held.
func (m *Manager) startLocked(e journalEntry) transfer.Task {
	tctx, cancel := context.WithCancel(m.ctx)
	t := &task{
		seq:    e.Seq,
		t:      transfer.Task{ID: taskIDFor(e.Seq), Request: e.Request},
		cancel: cancel,
	}
	m.tasks[t.t.ID] = t
	m.wg.Add(1)
	go m.run(tctx, t)
	return t.t
}

func (m *Manager) run(ctx context.Context, t *task) {
	defer m.wg.Done()
	defer t.cancel()

	var o transfer.Outcome
	if err := m.limiter.Wait(ctx); err != nil {
		o = transfer.Outcome{Task: t.t, Kind: transfer.Failed, Err: err}
	} else {
		o = m.upload(ctx, t.t)
	}

	m.mu.Lock()
	cancelled := t.cancelled
	m.mu.Unlock()
	switch {
	case o.Kind == transfer.Succeeded:
	case cancelled:
		o = transfer.Outcome{Task: t.t, Kind: transfer.Cancelled}
	case m.ctx.Err() != nil:
		// Shutdown interrupted the upload; it resumes on the next Open.
		m.mu.Lock()
		delete(m.tasks, t.t.ID)
		m.mu.Unlock()
		return
	}
	m.finish(t, o)
}

func (m *Manager) upload(ctx context.Context, t transfer.Task) transfer.Outcome {
	fail := func(status int, err error, body []byte) transfer.Outcome {
		return transfer.Outcome{Task: t, Kind: transfer.Failed, StatusCode: status, Err: err, Body: body}
	}

	f, err := os.Open(t.Request.BodyPath)
	if err != nil {
		return fail(0, fmt.Errorf("open body: %w", err), nil)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Request.Target, f)
	if err != nil {
		return fail(0, err, nil)
	}
	if info, err := f.Stat(); err == nil {
		req.ContentLength = info.Size()
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.HasSuffix(t.Request.BodyPath, ".gz") {
		req.Header.Set("Content-Encoding", "gzip")
	}
	for k, v := range t.Request.Headers {
		req.Header.Set(k, v)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fail(0, err, nil)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return transfer.Outcome{Task: t, Kind: transfer.Succeeded, StatusCode: resp.StatusCode}
	}
	return fail(resp.StatusCode, nil, body)
}

// finish drops the journal entry, then hands the outcome to the handler.
func (m *Manager) finish(t *task, o transfer.Outcome) {
	if err := m.db.Delete(context.Background(), taskKey(m.identity, t.seq)); err != nil {
		m.logger.Error("failed to remove journal entry", log.Str("task", string(t.t.ID)), log.Err(err))
	}

	m.mu.Lock()
	delete(m.tasks, t.t.ID)
	h := m.handler
	if h == nil {
		m.held = append(m.held, o)
	}
	m.mu.Unlock()

	m.logger.Debug("transfer finished",
		log.Str("task", string(t.t.ID)),
		log.Str("outcome", o.Kind.String()),
		log.Int("status", o.StatusCode))
	if h != nil {
		h(o)
	}
}

func (m *Manager) journal(ctx context.Context, e journalEntry) error {
	v, err := json.Marshal(e)
	if err != nil {
		return err
	}
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], e.Seq)

	b := m.db.NewBatch()
	defer b.Close()
	if err := b.Set(taskKey(m.identity, e.Seq), v, nil); err != nil {
		return err
	}
	if err := b.Set(seqKey(m.identity), seqBuf[:], nil); err != nil {
		return err
	}
	return m.db.CommitBatch(ctx, b)
}

func (m *Manager) loadSeq() error {
	v, err := m.db.Get(seqKey(m.identity))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("background: load sequence: %w", err)
	}
	if len(v) != 8 {
		return fmt.Errorf("background: malformed sequence for %s", m.identity)
	}
	m.seq = binary.BigEndian.Uint64(v)
	return nil
}

func (m *Manager) loadJournal(ctx context.Context) ([]journalEntry, error) {
	var entries []journalEntry
	err := m.db.ScanPrefix(taskPrefix(m.identity), func(k, v []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var e journalEntry
		if err := json.Unmarshal(v, &e); err != nil {
			m.logger.Warn("dropping unreadable journal entry", log.Str("key", string(k)), log.Err(err))
			return nil
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("background: load journal: %w", err)
	}
	return entries, nil
}

func taskIDFor(seq uint64) transfer.TaskID {
	return transfer.TaskID(strconv.FormatUint(seq, 10))
}
