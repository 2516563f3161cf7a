package settlement

import (
	"context"
	"errors"

	"github.com/sapliy/auction-settlement/internal/ledger"
	"github.com/sapliy/auction-settlement/internal/payment"
)

var (
	// ErrNotFound is returned when a transaction or auction does not exist.
	ErrNotFound = errors.New("settlement: not found")

	// ErrDuplicateTransaction is returned when a transaction already exists
	// for the auction. Finalize uses it to serialize concurrent calls.
	ErrDuplicateTransaction = errors.New("settlement: transaction already exists for auction")

	// ErrUnknownPayout is returned when a payout update references a payee
	// the transaction has no payout for.
	ErrUnknownPayout = errors.New("settlement: unknown payout")

	// ErrTerminalState is returned when an update would mutate a COMPLETED
	// payout or a SETTLED/FAILED transaction.
	ErrTerminalState = errors.New("settlement: record is in a terminal state")
)

// Store persists transactions and their payout projections. CreateTransaction
// also writes the ledger batch: either both are visible or neither is.
type Store interface {
	CreateTransaction(ctx context.Context, txn *Transaction, entries []ledger.Entry) error
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	GetByAuctionID(ctx context.Context, auctionID string) (*Transaction, error)

	// UpdatePayoutStatus moves one payout to a new status. A COMPLETED payout
	// is immutable; the update returns ErrTerminalState.
	UpdatePayoutStatus(ctx context.Context, txID, payeeID string, status PayoutStatus, ref, failReason string) error

	// UpdateTransactionStatus moves a transaction to a new status. A terminal
	// transaction is immutable; the update returns ErrTerminalState.
	UpdateTransactionStatus(ctx context.Context, txID string, status TransactionStatus) error
}

// AuctionSource is the read-only view of the auction subsystem this core
// consumes. Closing auctions is someone else's job.
type AuctionSource interface {
	Auction(ctx context.Context, id string) (*Auction, error)
}

// MethodResolver maps a payee to the payment method their payout should use.
type MethodResolver interface {
	PayoutMethod(ctx context.Context, payeeID string) (payment.Method, error)
}

// StaticResolver resolves payout methods from a fixed map with an optional
// fallback, enough for development and tests. Production wiring would back
// this with the payee onboarding store.
type StaticResolver struct {
	Methods map[string]payment.Method
	Default payment.Method
}

func (r StaticResolver) PayoutMethod(ctx context.Context, payeeID string) (payment.Method, error) {
	if m, ok := r.Methods[payeeID]; ok {
		return m, nil
	}
	if r.Default != nil {
		return r.Default, nil
	}
	return nil, ErrMissingPayee
}
