package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store for tests and single-node development.
type Memory struct {
	mu      sync.Mutex
	entries map[string][]Entry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]Entry)}
}

func (m *Memory) Append(ctx context.Context, transactionID string, entries []Entry) error {
	if err := ValidateBalanced(entries); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	batch := make([]Entry, len(entries))
	for i, e := range entries {
		e.ID = uuid.NewString()
		e.TransactionID = transactionID
		e.CreatedAt = now
		batch[i] = e
	}

	m.mu.Lock()
	m.entries[transactionID] = append(m.entries[transactionID], batch...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) EntriesFor(ctx context.Context, transactionID string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.entries[transactionID]
	out := make([]Entry, len(stored))
	copy(out, stored)
	return out, nil
}
