package sink

import (
	"context"
	"errors"
	"sync"

	"github.com/zerofinancial/relay/internal/record"
)

type memSink struct {
	mu  sync.Mutex
	got []record.Payload
	err error
}

func (m *memSink) Accept(_ context.Context, p record.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.got = append(m.got, p)
	return nil
}

func (m *memSink) payloads() []record.Payload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]record.Payload(nil), m.got...)
}

var errRefused = errors.New("refused")
