// Package retention bounds the record store.
package retention

import (
	"context"
	"errors"
	"fmt"

	"github.com/zerofinancial/relay/internal/record"
	"github.com/zerofinancial/relay/internal/store"
	"github.com/zerofinancial/relay/pkg/id"
)

// Remover releases whatever a record staged outside the store.
type Remover interface {
	Remove(recID id.ID) error
}

// Policy evicts the oldest record when the store is full.
type Policy struct {
	Max int
}

// Apply makes room for one more record. When the store holds Max or more
// records it deletes exactly one, the oldest, and returns it. Otherwise it
// returns false. Staged payload cleanup failures are reported after the
// row is gone.
func (p Policy) Apply(ctx context.Context, s store.Store, staged Remover) (record.LogRecord, bool, error) {
	if p.Max <= 0 {
		return record.LogRecord{}, false, fmt.Errorf("retention: max must be positive, got %d", p.Max)
	}
	n, err := s.Count(ctx)
	if err != nil {
		return record.LogRecord{}, false, err
	}
	if n < p.Max {
		return record.LogRecord{}, false, nil
	}
	oldest, err := s.Oldest(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return record.LogRecord{}, false, nil
	}
	if err != nil {
		return record.LogRecord{}, false, err
	}
	if err := s.Delete(ctx, oldest.ID); err != nil {
		return record.LogRecord{}, false, err
	}
	if staged != nil {
		if err := staged.Remove(oldest.ID); err != nil {
			return oldest, true, fmt.Errorf("retention: remove staged body: %w", err)
		}
	}
	return oldest, true, nil
}
