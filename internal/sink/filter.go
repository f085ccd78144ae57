package sink

import (
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/zerofinancial/relay/internal/record"
)

// Filter wraps a compiled CEL program. The zero value lets everything through.
//
// Variables: level, message, logger, file (strings), line, ts_ms (ints) and
// attrs (map). Example: level != "debug" && !message.startsWith("health").
type Filter struct {
	prog    cel.Program
	enabled bool
}

// NewFilter compiles expr. An empty expression yields a pass-through filter.
func NewFilter(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("level", cel.StringType),
		cel.Variable("message", cel.StringType),
		cel.Variable("logger", cel.StringType),
		cel.Variable("file", cel.StringType),
		cel.Variable("line", cel.IntType),
		cel.Variable("ts_ms", cel.IntType),
		cel.Variable("attrs", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return Filter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, iss.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return Filter{}, &filterTypeError{expr: expr, got: ast.OutputType().String()}
	}
	prog, err := env.Program(ast)
	if err != nil {
		return Filter{}, err
	}
	return Filter{prog: prog, enabled: true}, nil
}

type filterTypeError struct {
	expr string
	got  string
}

func (e *filterTypeError) Error() string {
	return "sink: filter " + e.expr + " must return bool, returns " + e.got
}

// Enabled reports whether an expression was compiled.
func (f Filter) Enabled() bool { return f.enabled }

// Match evaluates the expression against p. Evaluation errors reject the
// entry.
func (f Filter) Match(p record.Payload) bool {
	if !f.enabled {
		return true
	}
	attrs := p.Context
	if attrs == nil {
		attrs = map[string]any{}
	}
	out, _, err := f.prog.Eval(map[string]any{
		"level":   p.Level,
		"message": p.Message,
		"logger":  p.Logger,
		"file":    p.File,
		"line":    int64(p.Line),
		"ts_ms":   p.Timestamp.UnixMilli(),
		"attrs":   attrs,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
