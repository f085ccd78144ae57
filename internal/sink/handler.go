package sink

import (
	"context"
	"log/slog"
	"runtime"

	"github.com/zerofinancial/relay/internal/record"
)

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	// Logger names the producer; it ends up in Payload.Logger.
	Logger string
	// Level is the minimum level handled. Defaults to slog.LevelInfo.
	Level  slog.Leveler
	Filter Filter
}

// Handler is a slog.Handler that appends every record to a LogSink.
// Handle returns once the record is durable; it never waits on the network.
// It must not back the relay's own logger: use a Forwarder for that.
type Handler struct {
	sink   LogSink
	opts   HandlerOptions
	attrs  []scopedAttr
	groups []string
}

// scopedAttr remembers the groups that were open when an attribute was added.
type scopedAttr struct {
	groups []string
	attr   slog.Attr
}

var _ slog.Handler = (*Handler)(nil)

// NewHandler returns a handler writing to s.
func NewHandler(s LogSink, opts HandlerOptions) *Handler {
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}
	return &Handler{sink: s, opts: opts}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	p := record.Payload{
		Message:   r.Message,
		Level:     levelName(r.Level),
		Logger:    h.opts.Logger,
		Timestamp: r.Time,
	}
	if r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := frames.Next()
		p.File = f.File
		p.Function = f.Function
		p.Line = f.Line
	}

	ctxMap := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, sa := range h.attrs {
		addAttr(descend(ctxMap, sa.groups), sa.attr)
	}
	target := descend(ctxMap, h.groups)
	r.Attrs(func(a slog.Attr) bool {
		addAttr(target, a)
		return true
	})
	pruneEmpty(ctxMap)
	if len(ctxMap) > 0 {
		p.Context = ctxMap
	}

	if !h.opts.Filter.Match(p) {
		return nil
	}
	return h.sink.Accept(ctx, p)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	h2.attrs = append([]scopedAttr(nil), h.attrs...)
	for _, a := range attrs {
		h2.attrs = append(h2.attrs, scopedAttr{groups: h.groups, attr: a})
	}
	return &h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.groups = append(append([]string(nil), h.groups...), name)
	return &h2
}

// descend returns the map nested under path, creating levels as needed.
func descend(m map[string]any, path []string) map[string]any {
	for _, g := range path {
		sub, _ := m[g].(map[string]any)
		if sub == nil {
			sub = make(map[string]any)
			m[g] = sub
		}
		m = sub
	}
	return m
}

func addAttr(m map[string]any, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		if len(group) == 0 {
			return
		}
		target := m
		if a.Key != "" {
			target = descend(m, []string{a.Key})
		}
		for _, ga := range group {
			addAttr(target, ga)
		}
		return
	}
	switch a.Value.Kind() {
	case slog.KindTime:
		m[a.Key] = a.Value.Time()
	case slog.KindDuration:
		m[a.Key] = a.Value.Duration().String()
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			m[a.Key] = err.Error()
			return
		}
		m[a.Key] = a.Value.Any()
	default:
		m[a.Key] = a.Value.Any()
	}
}

// pruneEmpty drops group maps that ended up without attributes.
func pruneEmpty(m map[string]any) {
	for k, v := range m {
		sub, ok := v.(map[string]any)
		if !ok {
			continue
		}
		pruneEmpty(sub)
		if len(sub) == 0 {
			delete(m, k)
		}
	}
}

func levelName(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return "debug"
	case l < slog.LevelWarn:
		return "info"
	case l < slog.LevelError:
		return "warn"
	default:
		return "error"
	}
}
