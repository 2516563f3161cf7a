package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sapliy/auction-settlement/internal/ledger"
)

// MemoryStore is an in-process Store for tests and single-node development.
// It shares a ledger.Memory so a transaction and its ledger batch appear
// together or not at all.
type MemoryStore struct {
	mu        sync.Mutex
	byID      map[string]*Transaction
	byAuction map[string]string
	entries   *ledger.Memory
}

func NewMemoryStore(entries *ledger.Memory) *MemoryStore {
	return &MemoryStore{
		byID:      make(map[string]*Transaction),
		byAuction: make(map[string]string),
		entries:   entries,
	}
}

func (s *MemoryStore) CreateTransaction(ctx context.Context, txn *Transaction, entries []ledger.Entry) error {
	// Validate before taking the lock so a rejected batch leaves no trace.
	if err := ledger.ValidateBalanced(entries); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byAuction[txn.AuctionID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTransaction, txn.AuctionID)
	}

	now := time.Now().UTC()
	stored := cloneTransaction(txn)
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.byID[stored.ID] = stored
	s.byAuction[stored.AuctionID] = stored.ID
	txn.CreatedAt = now
	txn.UpdatedAt = now

	// Cannot fail after validation above.
	return s.entries.Append(ctx, txn.ID, entries)
}

func (s *MemoryStore) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, id)
	}
	return cloneTransaction(txn), nil
}

func (s *MemoryStore) GetByAuctionID(ctx context.Context, auctionID string) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byAuction[auctionID]
	if !ok {
		return nil, fmt.Errorf("%w: auction %s", ErrNotFound, auctionID)
	}
	return cloneTransaction(s.byID[id]), nil
}

func (s *MemoryStore) UpdatePayoutStatus(ctx context.Context, txID, payeeID string, status PayoutStatus, ref, failReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.byID[txID]
	if !ok {
		return fmt.Errorf("%w: transaction %s", ErrNotFound, txID)
	}
	payout := txn.Payout(payeeID)
	if payout == nil {
		return fmt.Errorf("%w: payee %s", ErrUnknownPayout, payeeID)
	}
	if payout.Status == PayoutCompleted {
		return fmt.Errorf("%w: payout to %s", ErrTerminalState, payeeID)
	}

	payout.Status = status
	payout.PayoutRef = ref
	payout.FailReason = failReason
	txn.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UpdateTransactionStatus(ctx context.Context, txID string, status TransactionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.byID[txID]
	if !ok {
		return fmt.Errorf("%w: transaction %s", ErrNotFound, txID)
	}
	if err := checkStatusTransition(txn.Status, status); err != nil {
		return err
	}

	txn.Status = status
	txn.UpdatedAt = time.Now().UTC()
	return nil
}

// checkStatusTransition enforces terminality: SETTLED never changes, and a
// FAILED transaction can only be reopened to PENDING_SETTLEMENT by a re-drive.
func checkStatusTransition(from, to TransactionStatus) error {
	if from == StatusSettled {
		return fmt.Errorf("%w: transaction is settled", ErrTerminalState)
	}
	if from == StatusFailed && to != StatusPendingSettlement {
		return fmt.Errorf("%w: transaction is failed", ErrTerminalState)
	}
	return nil
}

func cloneTransaction(t *Transaction) *Transaction {
	out := *t
	out.Payouts = make([]Payout, len(t.Payouts))
	copy(out.Payouts, t.Payouts)
	return &out
}

// MemoryAuctions is an in-process AuctionSource for tests and development.
type MemoryAuctions struct {
	mu       sync.Mutex
	auctions map[string]*Auction
}

func NewMemoryAuctions() *MemoryAuctions {
	return &MemoryAuctions{auctions: make(map[string]*Auction)}
}

func (m *MemoryAuctions) Put(a *Auction) {
	m.mu.Lock()
	m.auctions[a.ID] = a
	m.mu.Unlock()
}

func (m *MemoryAuctions) Auction(ctx context.Context, id string) (*Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.auctions[id]
	if !ok {
		return nil, fmt.Errorf("%w: auction %s", ErrNotFound, id)
	}
	out := *a
	out.Bids = append([]Bid(nil), a.Bids...)
	return &out, nil
}
