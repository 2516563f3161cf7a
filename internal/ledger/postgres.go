package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Postgres is the durable Store. Batches are written inside a single SQL
// transaction so a partial batch is never visible.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Append(ctx context.Context, transactionID string, entries []Entry) error {
	if err := ValidateBalanced(entries); err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning ledger append: %w", err)
	}
	defer tx.Rollback()

	if err := AppendTx(ctx, tx, transactionID, entries); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing ledger append: %w", err)
	}
	return nil
}

// AppendTx writes a validated batch using the caller's SQL transaction. The
// settlement store uses it to create a transaction record and its ledger
// batch atomically.
func AppendTx(ctx context.Context, tx *sql.Tx, transactionID string, entries []Entry) error {
	if err := ValidateBalanced(entries); err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ledger_entries (id, transaction_id, entry_type, account, amount, memo, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.NewString(), transactionID, string(e.EntryType), e.Account, e.Amount, e.Memo, now,
		); err != nil {
			return fmt.Errorf("inserting ledger entry: %w", err)
		}
	}
	return nil
}

func (p *Postgres) EntriesFor(ctx context.Context, transactionID string) ([]Entry, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, transaction_id, entry_type, account, amount, memo, created_at
		 FROM ledger_entries WHERE transaction_id = $1 ORDER BY created_at ASC, id ASC`,
		transactionID)
	if err != nil {
		return nil, fmt.Errorf("querying ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var createdAt time.Time
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.EntryType, &e.Account, &e.Amount, &e.Memo, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning ledger entry: %w", err)
		}
		e.CreatedAt = createdAt.Format(time.RFC3339Nano)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading ledger entries: %w", err)
	}
	return entries, nil
}
