package ledger

import (
	"context"
	"errors"
	"math/rand"
	"testing"
)

func TestValidateBalanced(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry
		wantErr error
	}{
		{
			name: "Balanced Pair",
			entries: []Entry{
				{EntryType: Debit, Account: AccountEscrow, Amount: 1000},
				{EntryType: Credit, Account: "PAYOUT:seller", Amount: 1000},
			},
			wantErr: nil,
		},
		{
			name: "Balanced Split",
			entries: []Entry{
				{EntryType: Debit, Account: AccountEscrow, Amount: 51000},
				{EntryType: Credit, Account: "PAYOUT:seller", Amount: 47500},
				{EntryType: Credit, Account: "PAYOUT:provider", Amount: 1000},
				{EntryType: Credit, Account: "COMMISSION", Amount: 2500},
			},
			wantErr: nil,
		},
		{
			name:    "Empty Batch",
			entries: nil,
			wantErr: ErrEmptyBatch,
		},
		{
			name: "Unbalanced",
			entries: []Entry{
				{EntryType: Debit, Account: AccountEscrow, Amount: 1000},
				{EntryType: Credit, Account: "PAYOUT:seller", Amount: 999},
			},
			wantErr: ErrUnbalanced,
		},
		{
			name: "Zero Amount",
			entries: []Entry{
				{EntryType: Debit, Account: AccountEscrow, Amount: 0},
				{EntryType: Credit, Account: "PAYOUT:seller", Amount: 0},
			},
			wantErr: ErrInvalidEntry,
		},
		{
			name: "Negative Amount",
			entries: []Entry{
				{EntryType: Debit, Account: AccountEscrow, Amount: -5},
				{EntryType: Credit, Account: "PAYOUT:seller", Amount: -5},
			},
			wantErr: ErrInvalidEntry,
		},
		{
			name: "Missing Account",
			entries: []Entry{
				{EntryType: Debit, Account: "", Amount: 100},
				{EntryType: Credit, Account: "PAYOUT:seller", Amount: 100},
			},
			wantErr: ErrInvalidEntry,
		},
		{
			name: "Unknown Entry Type",
			entries: []Entry{
				{EntryType: "TRANSFER", Account: AccountEscrow, Amount: 100},
				{EntryType: Credit, Account: "PAYOUT:seller", Amount: 100},
			},
			wantErr: ErrInvalidEntry,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBalanced(tt.entries)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateBalanced() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMemory_AppendRejectsUnbalancedAtomically(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	err := store.Append(ctx, "txn_1", []Entry{
		{EntryType: Debit, Account: AccountEscrow, Amount: 500},
		{EntryType: Credit, Account: "PAYOUT:seller", Amount: 400},
	})
	if !errors.Is(err, ErrUnbalanced) {
		t.Fatalf("Append of unbalanced batch = %v, want ErrUnbalanced", err)
	}

	entries, _ := store.EntriesFor(ctx, "txn_1")
	if len(entries) != 0 {
		t.Errorf("rejected batch left %d entries behind, want 0", len(entries))
	}
}

func TestMemory_AppendAssignsIdentity(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	err := store.Append(ctx, "txn_1", []Entry{
		{EntryType: Debit, Account: AccountEscrow, Amount: 500, Memo: "escrow release"},
		{EntryType: Credit, Account: "PAYOUT:seller", Amount: 500},
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	entries, err := store.EntriesFor(ctx, "txn_1")
	if err != nil {
		t.Fatalf("EntriesFor failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	for i, e := range entries {
		if e.ID == "" {
			t.Errorf("entry %d has no id", i)
		}
		if e.TransactionID != "txn_1" {
			t.Errorf("entry %d transaction id = %s, want txn_1", i, e.TransactionID)
		}
		if e.CreatedAt == "" {
			t.Errorf("entry %d has no timestamp", i)
		}
	}
	if entries[0].Memo != "escrow release" {
		t.Errorf("memo = %q, want %q", entries[0].Memo, "escrow release")
	}
}

func TestMemory_CorrectionsAreNewEntries(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	first := []Entry{
		{EntryType: Debit, Account: AccountEscrow, Amount: 500},
		{EntryType: Credit, Account: "PAYOUT:seller", Amount: 500},
	}
	if err := store.Append(ctx, "txn_1", first); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// A correction reverses the original batch rather than editing it.
	correction := []Entry{
		{EntryType: Debit, Account: "PAYOUT:seller", Amount: 500, Memo: "reversal"},
		{EntryType: Credit, Account: AccountEscrow, Amount: 500, Memo: "reversal"},
	}
	if err := store.Append(ctx, "txn_1", correction); err != nil {
		t.Fatalf("Append of correction failed: %v", err)
	}

	entries, _ := store.EntriesFor(ctx, "txn_1")
	if len(entries) != 4 {
		t.Fatalf("got %d entries after correction, want 4", len(entries))
	}
	if err := ValidateBalanced(entries); err != nil {
		t.Errorf("full history does not balance: %v", err)
	}
}

func TestValidateBalanced_RandomBatches(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		n := 1 + rng.Intn(6)
		entries := make([]Entry, 0, 2*n)
		var total int64
		for j := 0; j < n; j++ {
			amt := int64(1 + rng.Intn(100000))
			total += amt
			entries = append(entries, Entry{EntryType: Credit, Account: "PAYOUT:x", Amount: amt})
		}
		entries = append(entries, Entry{EntryType: Debit, Account: AccountEscrow, Amount: total})

		if err := ValidateBalanced(entries); err != nil {
			t.Fatalf("constructed balanced batch rejected: %v", err)
		}

		entries[0].Amount++
		if !errors.Is(ValidateBalanced(entries), ErrUnbalanced) {
			t.Fatal("off-by-one batch accepted")
		}
	}
}
