package sink

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/zerofinancial/relay/internal/record"
	logpkg "github.com/zerofinancial/relay/pkg/log"
)

// DefaultForwarderBuffer is the number of entries a Forwarder holds before
// it starts dropping.
const DefaultForwarderBuffer = 1024

// ForwarderOptions configures a Forwarder.
type ForwarderOptions struct {
	// Level is the minimum level forwarded.
	Level  logpkg.Level
	Filter Filter
	// Skip lists components whose entries are never forwarded. The queue's
	// own components belong here, otherwise every append would log and
	// feed itself.
	Skip   []string
	Buffer int
}

// Forwarder is a log.Output that ships a logger's entries to a LogSink.
// Write never blocks: entries go through a bounded buffer drained by a
// single goroutine, and are dropped when the buffer is full or no sink has
// been bound yet.
type Forwarder struct {
	opts ForwarderOptions
	skip map[string]struct{}

	sink    atomic.Value // sinkBox
	ch      chan record.Payload
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
	failed  atomic.Uint64
}

type sinkBox struct{ LogSink }

var _ logpkg.Output = (*Forwarder)(nil)

// NewForwarder starts a forwarder. Bind a sink before entries can flow.
func NewForwarder(opts ForwarderOptions) *Forwarder {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultForwarderBuffer
	}
	f := &Forwarder{
		opts: opts,
		skip: make(map[string]struct{}, len(opts.Skip)),
		ch:   make(chan record.Payload, opts.Buffer),
		done: make(chan struct{}),
	}
	for _, c := range opts.Skip {
		f.skip[c] = struct{}{}
	}
	f.wg.Add(1)
	go f.loop()
	return f
}

// Bind sets the destination. Entries written before the first Bind are
// dropped.
func (f *Forwarder) Bind(s LogSink) { f.sink.Store(sinkBox{s}) }

// Dropped counts entries lost to a full buffer or a missing sink.
func (f *Forwarder) Dropped() uint64 { return f.dropped.Load() }

// Failed counts entries the sink refused.
func (f *Forwarder) Failed() uint64 { return f.failed.Load() }

func (f *Forwarder) Write(entry *logpkg.Entry, _ []byte) error {
	if entry == nil || entry.Level < f.opts.Level {
		return nil
	}
	if c, ok := entry.Fields[logpkg.ComponentKey].(string); ok {
		if _, skip := f.skip[c]; skip {
			return nil
		}
	}
	select {
	case <-f.done:
		return nil
	default:
	}
	p := PayloadFromEntry(entry)
	if !f.opts.Filter.Match(p) {
		return nil
	}
	select {
	case f.ch <- p:
	default:
		f.dropped.Add(1)
	}
	return nil
}

// Close delivers what is buffered and stops the drain goroutine.
func (f *Forwarder) Close() error {
	f.once.Do(func() { close(f.done) })
	f.wg.Wait()
	return nil
}

func (f *Forwarder) loop() {
	defer f.wg.Done()
	for {
		select {
		case p := <-f.ch:
			f.deliver(p)
		case <-f.done:
			for {
				select {
				case p := <-f.ch:
					f.deliver(p)
				default:
					return
				}
			}
		}
	}
}

func (f *Forwarder) deliver(p record.Payload) {
	box, _ := f.sink.Load().(sinkBox)
	if box.LogSink == nil {
		f.dropped.Add(1)
		return
	}
	// Errors cannot be logged here without feeding the logger back into
	// itself; they are only counted.
	if err := box.Accept(context.Background(), p); err != nil {
		f.failed.Add(1)
	}
}

// PayloadFromEntry converts a log entry. The component field becomes the
// logger name and the caller is split into file and line.
func PayloadFromEntry(entry *logpkg.Entry) record.Payload {
	p := record.Payload{
		Message:   entry.Message,
		Level:     strings.ToLower(entry.Level.String()),
		Timestamp: entry.Timestamp,
	}
	if entry.Caller != "" {
		p.File = entry.Caller
		if i := strings.LastIndexByte(entry.Caller, ':'); i > 0 {
			if n, err := strconv.Atoi(entry.Caller[i+1:]); err == nil {
				p.File = entry.Caller[:i]
				p.Line = n
			}
		}
	}
	ctx := make(map[string]any, len(entry.Fields))
	for k, v := range entry.Fields {
		if k == logpkg.ComponentKey {
			if s, ok := v.(string); ok {
				p.Logger = s
				continue
			}
		}
		ctx[k] = jsonSafe(v)
	}
	if len(ctx) > 0 {
		p.Context = ctx
	}
	return p
}

// jsonSafe turns values that do not encode usefully into strings.
func jsonSafe(v any) any {
	switch x := v.(type) {
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	default:
		return v
	}
}

