// Package settlement turns a closed auction into recorded, executed money
// movement: it computes the financial split, writes the transaction and its
// balanced ledger batch atomically, enqueues one payout job per payee, and
// reconciles payment outcomes back into transaction state.
package settlement

import (
	"encoding/json"
	"time"
)

// Auction is external, read-only input. Only CLOSED auctions can be finalized.
type AuctionStatus string

const (
	AuctionActive AuctionStatus = "ACTIVE"
	AuctionClosed AuctionStatus = "CLOSED"
)

type BidType string

const (
	BidSalePrice    BidType = "SALE_PRICE"
	BidServiceOffer BidType = "SERVICE_OFFER"
)

type BidStatus string

const (
	BidAccepted BidStatus = "ACCEPTED"
	BidRejected BidStatus = "REJECTED"
)

type Bid struct {
	ID       string    `json:"id"`
	BidderID string    `json:"bidder_id"`
	Type     BidType   `json:"type"`
	Amount   int64     `json:"amount"` // cents
	Status   BidStatus `json:"status"`
}

type Auction struct {
	ID       string        `json:"id"`
	SellerID string        `json:"seller_id"`
	Status   AuctionStatus `json:"status"`
	Bids     []Bid         `json:"bids"`
}

// Transaction state machine: PENDING_SETTLEMENT until every payout is
// terminal, then SETTLED (all completed) or FAILED. Terminal states are
// never mutated again.
type TransactionStatus string

const (
	StatusPendingSettlement TransactionStatus = "PENDING_SETTLEMENT"
	StatusSettled           TransactionStatus = "SETTLED"
	StatusFailed            TransactionStatus = "FAILED"
)

func (s TransactionStatus) Terminal() bool {
	return s == StatusSettled || s == StatusFailed
}

type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "PENDING"
	PayoutCompleted PayoutStatus = "COMPLETED"
	PayoutFailed    PayoutStatus = "FAILED"
)

func (s PayoutStatus) Terminal() bool {
	return s == PayoutCompleted || s == PayoutFailed
}

// Payout is a projection of ledger state kept on the transaction for
// convenience. The ledger remains the source of truth.
type Payout struct {
	PayeeID    string       `json:"payee_id"`
	Amount     int64        `json:"amount"` // cents
	Status     PayoutStatus `json:"status"`
	PayoutRef  string       `json:"payout_ref,omitempty"`
	FailReason string       `json:"fail_reason,omitempty"`
}

// Transaction is the settlement record for one auction, unique per auction.
type Transaction struct {
	ID                 string            `json:"id"`
	AuctionID          string            `json:"auction_id"`
	Status             TransactionStatus `json:"status"`
	TotalSalePrice     int64             `json:"total_sale_price"`
	TotalServiceFees   int64             `json:"total_service_fees"`
	PlatformCommission int64             `json:"platform_commission"`
	Payouts            []Payout          `json:"payouts"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// Payout returns the payout for a payee, or nil.
func (t *Transaction) Payout(payeeID string) *Payout {
	for i := range t.Payouts {
		if t.Payouts[i].PayeeID == payeeID {
			return &t.Payouts[i]
		}
	}
	return nil
}

// PayoutJob is the payload of one queued payout obligation. Nonce is empty on
// the job enqueued by Finalize and on a re-drive of a still-pending payout, so
// such jobs share one idempotency key and at most one charge happens. Only a
// re-drive of a failed payout carries a fresh nonce, giving it a new key that
// is not short-circuited by the cached terminal result.
type PayoutJob struct {
	TransactionID string          `json:"transaction_id"`
	PayeeID       string          `json:"payee_id"`
	Amount        int64           `json:"amount"`
	Method        json.RawMessage `json:"method"`
	Nonce         string          `json:"nonce,omitempty"`
}
