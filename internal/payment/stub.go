package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// StubBackend simulates a payment gateway for local development and tests.
// By default every call succeeds with a fresh external reference; individual
// calls can be overridden with ChargeFunc/TransferFunc. It records calls per
// idempotency key so tests can assert exactly-once behavior.
type StubBackend struct {
	mu    sync.Mutex
	calls map[string]int

	ChargeFunc   func(ctx context.Context, amount int64, token, idempotencyKey string) (string, error)
	TransferFunc func(ctx context.Context, amount int64, walletAddress, asset, idempotencyKey string) (string, error)
}

func NewStubBackend() *StubBackend {
	return &StubBackend{calls: make(map[string]int)}
}

func (s *StubBackend) Charge(ctx context.Context, amount int64, token, idempotencyKey string) (string, error) {
	s.record(idempotencyKey)
	if s.ChargeFunc != nil {
		return s.ChargeFunc(ctx, amount, token, idempotencyKey)
	}
	return "ch_" + uuid.NewString(), nil
}

func (s *StubBackend) Transfer(ctx context.Context, amount int64, walletAddress, asset, idempotencyKey string) (string, error) {
	s.record(idempotencyKey)
	if s.TransferFunc != nil {
		return s.TransferFunc(ctx, amount, walletAddress, asset, idempotencyKey)
	}
	return fmt.Sprintf("tr_%s_%s", asset, uuid.NewString()), nil
}

func (s *StubBackend) record(key string) {
	s.mu.Lock()
	s.calls[key]++
	s.mu.Unlock()
}

// Calls reports how many times the backend was invoked for a key.
func (s *StubBackend) Calls(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}
