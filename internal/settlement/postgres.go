package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/sapliy/auction-settlement/internal/ledger"
)

const pgUniqueViolation = "23505"

// PostgresStore is the durable Store. A transaction row, its payout rows and
// its ledger batch are written in one SQL transaction; the unique constraint
// on auction_id serializes concurrent Finalize calls for the same auction.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateTransaction(ctx context.Context, txn *Transaction, entries []ledger.Entry) error {
	if err := ledger.ValidateBalanced(entries); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO transactions (id, auction_id, status, total_sale_price, total_service_fees, platform_commission, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		txn.ID, txn.AuctionID, string(txn.Status), txn.TotalSalePrice, txn.TotalServiceFees, txn.PlatformCommission, now)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateTransaction, txn.AuctionID)
		}
		return fmt.Errorf("inserting transaction: %w", err)
	}

	for i, p := range txn.Payouts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO payouts (transaction_id, payee_id, amount, status, ord)
			 VALUES ($1, $2, $3, $4, $5)`,
			txn.ID, p.PayeeID, p.Amount, string(p.Status), i); err != nil {
			return fmt.Errorf("inserting payout for %s: %w", p.PayeeID, err)
		}
	}

	if err := ledger.AppendTx(ctx, tx, txn.ID, entries); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	txn.CreatedAt = now
	txn.UpdatedAt = now
	return nil
}

func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	return s.get(ctx, "id", id)
}

func (s *PostgresStore) GetByAuctionID(ctx context.Context, auctionID string) (*Transaction, error) {
	return s.get(ctx, "auction_id", auctionID)
}

func (s *PostgresStore) get(ctx context.Context, column, value string) (*Transaction, error) {
	var txn Transaction
	err := s.db.QueryRowContext(ctx,
		`SELECT id, auction_id, status, total_sale_price, total_service_fees, platform_commission, created_at, updated_at
		 FROM transactions WHERE `+column+` = $1`, value).
		Scan(&txn.ID, &txn.AuctionID, &txn.Status, &txn.TotalSalePrice, &txn.TotalServiceFees, &txn.PlatformCommission, &txn.CreatedAt, &txn.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: transaction with %s=%s", ErrNotFound, column, value)
	}
	if err != nil {
		return nil, fmt.Errorf("querying transaction: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT payee_id, amount, status, COALESCE(payout_ref, ''), COALESCE(fail_reason, '')
		 FROM payouts WHERE transaction_id = $1 ORDER BY ord ASC`, txn.ID)
	if err != nil {
		return nil, fmt.Errorf("querying payouts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p Payout
		if err := rows.Scan(&p.PayeeID, &p.Amount, &p.Status, &p.PayoutRef, &p.FailReason); err != nil {
			return nil, fmt.Errorf("scanning payout: %w", err)
		}
		txn.Payouts = append(txn.Payouts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading payouts: %w", err)
	}
	return &txn, nil
}

func (s *PostgresStore) UpdatePayoutStatus(ctx context.Context, txID, payeeID string, status PayoutStatus, ref, failReason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE payouts SET status = $3, payout_ref = NULLIF($4, ''), fail_reason = NULLIF($5, '')
		 WHERE transaction_id = $1 AND payee_id = $2 AND status <> 'COMPLETED'`,
		txID, payeeID, string(status), ref, failReason)
	if err != nil {
		return fmt.Errorf("updating payout: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking payout update: %w", err)
	}
	if affected == 0 {
		var current string
		err := s.db.QueryRowContext(ctx,
			`SELECT status FROM payouts WHERE transaction_id = $1 AND payee_id = $2`, txID, payeeID).Scan(&current)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: payee %s", ErrUnknownPayout, payeeID)
		}
		if err != nil {
			return fmt.Errorf("checking payout state: %w", err)
		}
		return fmt.Errorf("%w: payout to %s is %s", ErrTerminalState, payeeID, current)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE transactions SET updated_at = $2 WHERE id = $1`, txID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("touching transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateTransactionStatus(ctx context.Context, txID string, status TransactionStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning status update: %w", err)
	}
	defer tx.Rollback()

	var current TransactionStatus
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM transactions WHERE id = $1 FOR UPDATE`, txID).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: transaction %s", ErrNotFound, txID)
	}
	if err != nil {
		return fmt.Errorf("locking transaction: %w", err)
	}

	if err := checkStatusTransition(current, status); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE transactions SET status = $2, updated_at = $3 WHERE id = $1`,
		txID, string(status), time.Now().UTC()); err != nil {
		return fmt.Errorf("updating transaction status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing status update: %w", err)
	}
	return nil
}

// PostgresAuctions reads auctions and their bids from the marketplace tables.
type PostgresAuctions struct {
	db *sql.DB
}

func NewPostgresAuctions(db *sql.DB) *PostgresAuctions {
	return &PostgresAuctions{db: db}
}

func (s *PostgresAuctions) Auction(ctx context.Context, id string) (*Auction, error) {
	var a Auction
	err := s.db.QueryRowContext(ctx,
		`SELECT id, seller_id, status FROM auctions WHERE id = $1`, id).
		Scan(&a.ID, &a.SellerID, &a.Status)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: auction %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying auction: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, bidder_id, bid_type, amount, status FROM bids WHERE auction_id = $1 ORDER BY id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("querying bids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var b Bid
		if err := rows.Scan(&b.ID, &b.BidderID, &b.Type, &b.Amount, &b.Status); err != nil {
			return nil, fmt.Errorf("scanning bid: %w", err)
		}
		a.Bids = append(a.Bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading bids: %w", err)
	}
	return &a, nil
}
