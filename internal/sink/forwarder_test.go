package sink

import (
	"testing"
	"time"

	logpkg "github.com/zerofinancial/relay/pkg/log"
)

func newForwardingLogger(f *Forwarder) logpkg.Logger {
	return logpkg.NewLogger(logpkg.WithLevel(logpkg.DebugLevel), logpkg.WithOutput(f))
}

func TestForwarderDeliversEntries(t *testing.T) {
	ms := &memSink{}
	f := NewForwarder(ForwarderOptions{Level: logpkg.InfoLevel})
	f.Bind(ms)
	l := newForwardingLogger(f)

	l.WithComponent("api").Info("started", logpkg.Int("port", 8080))
	l.Debug("below level")
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got := ms.payloads()
	if len(got) != 1 {
		t.Fatalf("got %d payloads: %+v", len(got), got)
	}
	p := got[0]
	if p.Message != "started" || p.Level != "info" || p.Logger != "api" {
		t.Fatalf("unexpected payload: %+v", p)
	}
	if p.Context["port"] != int64(8080) {
		t.Fatalf("context: %v", p.Context)
	}
	if _, ok := p.Context[logpkg.ComponentKey]; ok {
		t.Fatalf("component should move to logger: %v", p.Context)
	}
	if p.Line == 0 || p.File == "" {
		t.Fatalf("caller not split: %q:%d", p.File, p.Line)
	}
}

func TestForwarderSkipsComponentsAndFiltered(t *testing.T) {
	filter, err := NewFilter(`level != "warn"`)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	ms := &memSink{}
	f := NewForwarder(ForwarderOptions{Skip: []string{"relay"}, Filter: filter})
	f.Bind(ms)
	l := newForwardingLogger(f)

	l.WithComponent("relay").Info("appended")
	l.Warn("filtered out")
	l.Info("kept")
	_ = f.Close()

	got := ms.payloads()
	if len(got) != 1 || got[0].Message != "kept" {
		t.Fatalf("unexpected payloads: %+v", got)
	}
}

func TestForwarderDropsWithoutSink(t *testing.T) {
	f := NewForwarder(ForwarderOptions{})
	newForwardingLogger(f).Info("early")
	_ = f.Close()
	if f.Dropped() != 1 {
		t.Fatalf("dropped = %d", f.Dropped())
	}
}

func TestForwarderCountsFailures(t *testing.T) {
	f := NewForwarder(ForwarderOptions{})
	f.Bind(&memSink{err: errRefused})
	newForwardingLogger(f).Error("lost")
	_ = f.Close()
	if f.Failed() != 1 {
		t.Fatalf("failed = %d", f.Failed())
	}
}

func TestForwarderWriteAfterClose(t *testing.T) {
	ms := &memSink{}
	f := NewForwarder(ForwarderOptions{})
	f.Bind(ms)
	_ = f.Close()
	_ = f.Close()
	if err := f.Write(&logpkg.Entry{Level: logpkg.InfoLevel, Message: "late", Timestamp: time.Now()}, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	if n := len(ms.payloads()); n != 0 {
		t.Fatalf("late entry delivered")
	}
}

func TestPayloadFromEntry(t *testing.T) {
	ts := time.UnixMilli(1700000000000)
	p := PayloadFromEntry(&logpkg.Entry{
		Level:     logpkg.ErrorLevel,
		Message:   "upload failed",
		Timestamp: ts,
		Caller:    "/src/relay/flush.go:88",
		Fields:    logpkg.Fields{"component": "transfer", "status": 500, "took": 2 * time.Second},
	})
	if p.Level != "error" || p.Logger != "transfer" || p.File != "/src/relay/flush.go" || p.Line != 88 {
		t.Fatalf("unexpected payload: %+v", p)
	}
	if !p.Timestamp.Equal(ts) {
		t.Fatalf("timestamp: %v", p.Timestamp)
	}
	if p.Context["status"] != 500 || p.Context["took"] != "2s" {
		t.Fatalf("context: %v", p.Context)
	}

	odd := PayloadFromEntry(&logpkg.Entry{Caller: "no-line"})
	if odd.File != "no-line" || odd.Line != 0 || odd.Context != nil {
		t.Fatalf("unexpected payload: %+v", odd)
	}
}
