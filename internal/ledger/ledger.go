// Package ledger is an append-only, balanced double-entry store. Entries are
// written in atomic batches and never updated or deleted; corrections are new
// offsetting entries. Per transaction, debits always equal credits.
package ledger

import (
	"context"
	"errors"
	"fmt"
)

type EntryType string

const (
	Debit  EntryType = "DEBIT"
	Credit EntryType = "CREDIT"
)

// AccountEscrow is the holding account funds move through between a buyer's
// payment and the resulting payouts.
const AccountEscrow = "ESCROW"

var (
	// ErrUnbalanced rejects an append whose debits and credits do not match.
	// Nothing from the batch is persisted.
	ErrUnbalanced = errors.New("ledger: debits and credits do not balance")

	// ErrEmptyBatch rejects an append with no entries.
	ErrEmptyBatch = errors.New("ledger: empty entry batch")

	// ErrInvalidEntry rejects an entry with a non-positive amount, a missing
	// account, or an unknown entry type.
	ErrInvalidEntry = errors.New("ledger: invalid entry")
)

// Entry is an immutable fact about money movement.
type Entry struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	EntryType     EntryType `json:"entry_type"`
	Account       string    `json:"account"`
	Amount        int64     `json:"amount"` // cents, always positive
	Memo          string    `json:"memo,omitempty"`
	CreatedAt     string    `json:"created_at,omitempty"`
}

// Store persists balanced entry batches.
type Store interface {
	// Append writes the batch all-or-nothing for one transaction. The batch
	// must balance on its own; an unbalanced batch is rejected before any
	// entry is persisted.
	Append(ctx context.Context, transactionID string, entries []Entry) error

	// EntriesFor returns every entry for a transaction, oldest first.
	EntriesFor(ctx context.Context, transactionID string) ([]Entry, error)
}

// ValidateBalanced checks that a batch is well formed and that its debits
// equal its credits.
func ValidateBalanced(entries []Entry) error {
	if len(entries) == 0 {
		return ErrEmptyBatch
	}

	var debits, credits int64
	for i, e := range entries {
		if e.Amount <= 0 {
			return fmt.Errorf("%w: entry %d has non-positive amount %d", ErrInvalidEntry, i, e.Amount)
		}
		if e.Account == "" {
			return fmt.Errorf("%w: entry %d has no account", ErrInvalidEntry, i)
		}
		switch e.EntryType {
		case Debit:
			debits += e.Amount
		case Credit:
			credits += e.Amount
		default:
			return fmt.Errorf("%w: entry %d has unknown type %q", ErrInvalidEntry, i, e.EntryType)
		}
	}

	if debits != credits {
		return fmt.Errorf("%w: debits=%d credits=%d", ErrUnbalanced, debits, credits)
	}
	return nil
}
