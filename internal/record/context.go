package record

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Context values are stored as JSON. Decoding yields string, bool, nil,
// int64 for integral numbers that fit, float64 for other numbers,
// []any and map[string]any.

// Normalized returns p with its context converted to the stored form, so a
// record read back from any store equals the payload that was appended.
func (p Payload) Normalized() (Payload, error) {
	if len(p.Context) == 0 {
		p.Context = nil
		return p, nil
	}
	b, err := json.Marshal(p.Context)
	if err != nil {
		return Payload{}, fmt.Errorf("record: marshal context: %w", err)
	}
	ctx, err := DecodeContext(b)
	if err != nil {
		return Payload{}, err
	}
	p.Context = ctx
	return p, nil
}

// DecodeContext parses a JSON object into the stored context form.
func DecodeContext(b []byte) (map[string]any, error) {
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("record: unmarshal context: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	for k, v := range m {
		m[k] = canonical(v)
	}
	return m, nil
}

func canonical(v any) any {
	switch v := v.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		f, err := v.Float64()
		if err != nil {
			return v.String()
		}
		return f
	case map[string]any:
		for k, e := range v {
			v[k] = canonical(e)
		}
		return v
	case []any:
		for i, e := range v {
			v[i] = canonical(e)
		}
		return v
	default:
		return v
	}
}
