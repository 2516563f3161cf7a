package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sapliy/auction-settlement/internal/ledger"
	"github.com/sapliy/auction-settlement/internal/payment"
	"github.com/sapliy/auction-settlement/internal/queue"
	"github.com/sapliy/auction-settlement/pkg/observability"
)

// Validation errors, rejected synchronously with no side effects.
var (
	ErrAuctionNotClosed = errors.New("settlement: auction is not closed")
	ErrNoAcceptedBids   = errors.New("settlement: auction has no accepted bids")
	ErrMissingPayee     = errors.New("settlement: payout has no payee")
	ErrBadJobPayload    = errors.New("settlement: cannot parse payout job")

	// ErrCommissionRate rejects a commission above 100% of the sale price.
	ErrCommissionRate = errors.New("settlement: commission rate above 10000 basis points")
)

// Config carries the settlement policy knobs. The commission rate is a
// configuration input, not a constant.
type Config struct {
	// CommissionBps is the platform commission on the sale price in basis
	// points. 500 = 5%.
	CommissionBps int64

	// MaxAttempts bounds redelivery of a payout job before a transient
	// failure is promoted to a terminal one.
	MaxAttempts int
}

func (c Config) withDefaults() Config {
	if c.CommissionBps <= 0 {
		c.CommissionBps = 500
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	return c
}

// Orchestrator is the only component that knows about auctions. It owns all
// retry policy and is the only writer of transaction and ledger state.
type Orchestrator struct {
	store    Store
	auctions AuctionSource
	entries  ledger.Store
	jobs     queue.Queue
	pay      *payment.Dispatcher
	methods  MethodResolver
	events   Publisher
	cfg      Config
	log      *observability.Logger
}

func NewOrchestrator(store Store, auctions AuctionSource, entries ledger.Store, jobs queue.Queue, pay *payment.Dispatcher, methods MethodResolver, events Publisher, cfg Config, log *observability.Logger) (*Orchestrator, error) {
	cfg = cfg.withDefaults()
	if cfg.CommissionBps > 10000 {
		return nil, fmt.Errorf("%w: %d", ErrCommissionRate, cfg.CommissionBps)
	}
	if events == nil {
		events = NopPublisher{}
	}
	return &Orchestrator{
		store:    store,
		auctions: auctions,
		entries:  entries,
		jobs:     jobs,
		pay:      pay,
		methods:  methods,
		events:   events,
		cfg:      cfg,
		log:      log,
	}, nil
}

// Finalize computes the financial split of a closed auction, records the
// transaction and its balanced ledger batch atomically, and enqueues one
// payout job per payee. Calling it twice for the same auction returns the
// existing transaction unchanged.
func (o *Orchestrator) Finalize(ctx context.Context, auctionID string) (*Transaction, error) {
	if existing, err := o.store.GetByAuctionID(ctx, auctionID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("checking for existing transaction: %w", err)
	}

	auction, err := o.auctions.Auction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("loading auction %s: %w", auctionID, err)
	}
	if auction.Status != AuctionClosed {
		return nil, fmt.Errorf("%w: auction %s is %s", ErrAuctionNotClosed, auctionID, auction.Status)
	}

	txn, entries, err := o.computeSplit(auction)
	if err != nil {
		return nil, err
	}

	// Resolve methods before any write so a missing payee rejects with no
	// side effects.
	methods := make(map[string]payment.Method, len(txn.Payouts))
	for _, p := range txn.Payouts {
		m, err := o.methods.PayoutMethod(ctx, p.PayeeID)
		if err != nil {
			return nil, fmt.Errorf("resolving payout method for %s: %w", p.PayeeID, err)
		}
		methods[p.PayeeID] = m
	}

	if err := o.store.CreateTransaction(ctx, txn, entries); err != nil {
		if errors.Is(err, ErrDuplicateTransaction) {
			// Lost the race with a concurrent Finalize; the winner's
			// transaction is the transaction.
			return o.store.GetByAuctionID(ctx, auctionID)
		}
		return nil, fmt.Errorf("creating transaction for auction %s: %w", auctionID, err)
	}

	finalizedTotal.Inc()
	o.log.Info("auction finalized",
		"auction_id", auctionID,
		"transaction_id", txn.ID,
		"sale_price", txn.TotalSalePrice,
		"service_fees", txn.TotalServiceFees,
		"commission", txn.PlatformCommission,
		"payouts", len(txn.Payouts),
	)

	for _, p := range txn.Payouts {
		if err := o.enqueuePayout(ctx, txn.ID, p, methods[p.PayeeID], ""); err != nil {
			// The transaction and ledger are already durable. Surface the
			// enqueue failure so the caller can re-drive the payout.
			return txn, fmt.Errorf("enqueueing payout for %s: %w", p.PayeeID, err)
		}
	}

	o.events.SettlementFinalized(ctx, txn)
	return txn, nil
}

func (o *Orchestrator) computeSplit(auction *Auction) (*Transaction, []ledger.Entry, error) {
	var salePriceBid *Bid
	var serviceBids []Bid
	for i, bid := range auction.Bids {
		if bid.Status != BidAccepted {
			continue
		}
		switch bid.Type {
		case BidSalePrice:
			if salePriceBid == nil || bid.Amount > salePriceBid.Amount {
				salePriceBid = &auction.Bids[i]
			}
		case BidServiceOffer:
			serviceBids = append(serviceBids, bid)
		}
	}
	if salePriceBid == nil && len(serviceBids) == 0 {
		return nil, nil, fmt.Errorf("%w: auction %s", ErrNoAcceptedBids, auction.ID)
	}

	var totalSalePrice, totalServiceFees int64
	if salePriceBid != nil {
		totalSalePrice = salePriceBid.Amount
	}
	for _, b := range serviceBids {
		totalServiceFees += b.Amount
	}
	commission := totalSalePrice * o.cfg.CommissionBps / 10000
	sellerPayout := totalSalePrice - commission

	txn := &Transaction{
		ID:                 uuid.NewString(),
		AuctionID:          auction.ID,
		Status:             StatusPendingSettlement,
		TotalSalePrice:     totalSalePrice,
		TotalServiceFees:   totalServiceFees,
		PlatformCommission: commission,
	}
	if sellerPayout > 0 {
		if auction.SellerID == "" {
			return nil, nil, fmt.Errorf("%w: auction %s has no seller", ErrMissingPayee, auction.ID)
		}
		txn.Payouts = append(txn.Payouts, Payout{PayeeID: auction.SellerID, Amount: sellerPayout, Status: PayoutPending})
	}
	for _, b := range serviceBids {
		if b.BidderID == "" {
			return nil, nil, fmt.Errorf("%w: service bid %s has no bidder", ErrMissingPayee, b.ID)
		}
		txn.Payouts = append(txn.Payouts, Payout{PayeeID: b.BidderID, Amount: b.Amount, Status: PayoutPending})
	}

	entries := []ledger.Entry{{
		EntryType: ledger.Debit,
		Account:   ledger.AccountEscrow,
		Amount:    totalSalePrice + totalServiceFees,
		Memo:      "Buyer payment received into escrow",
	}}
	if sellerPayout > 0 {
		entries = append(entries, ledger.Entry{
			EntryType: ledger.Credit,
			Account:   ledger.AccountEscrow,
			Amount:    sellerPayout,
			Memo:      fmt.Sprintf("Seller payout for auction %s", auction.ID),
		})
	}
	for _, b := range serviceBids {
		entries = append(entries, ledger.Entry{
			EntryType: ledger.Credit,
			Account:   ledger.AccountEscrow,
			Amount:    b.Amount,
			Memo:      fmt.Sprintf("Service payout to %s", b.BidderID),
		})
	}
	if commission > 0 {
		entries = append(entries, ledger.Entry{
			EntryType: ledger.Credit,
			Account:   ledger.AccountEscrow,
			Amount:    commission,
			Memo:      "Platform commission",
		})
	}

	if err := ledger.ValidateBalanced(entries); err != nil {
		// A split that does not balance is a bug in this function, not input.
		return nil, nil, fmt.Errorf("computed split for auction %s is unbalanced: %w", auction.ID, err)
	}
	return txn, entries, nil
}

func (o *Orchestrator) enqueuePayout(ctx context.Context, txID string, p Payout, method payment.Method, nonce string) error {
	rawMethod, err := payment.MarshalMethod(method)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(PayoutJob{
		TransactionID: txID,
		PayeeID:       p.PayeeID,
		Amount:        p.Amount,
		Method:        rawMethod,
		Nonce:         nonce,
	})
	if err != nil {
		return fmt.Errorf("encoding payout job: %w", err)
	}
	if _, err := o.jobs.Enqueue(ctx, payload); err != nil {
		return err
	}
	return nil
}

// Reconcile processes one dequeued payout job. It is safe under redelivery:
// the payment dispatcher deduplicates on transactionID:payeeID and completed
// payouts are never touched again.
func (o *Orchestrator) Reconcile(ctx context.Context, job *queue.Job) error {
	timer := prometheus.NewTimer(reconcileLatency)
	defer timer.ObserveDuration()

	var pj PayoutJob
	if err := json.Unmarshal(job.Payload, &pj); err != nil {
		return o.poison(ctx, job, fmt.Errorf("%w: %v", ErrBadJobPayload, err))
	}
	if pj.TransactionID == "" || pj.PayeeID == "" || pj.Amount <= 0 {
		return o.poison(ctx, job, fmt.Errorf("%w: missing fields", ErrBadJobPayload))
	}

	txn, err := o.store.GetTransaction(ctx, pj.TransactionID)
	if errors.Is(err, ErrNotFound) {
		return o.poison(ctx, job, fmt.Errorf("payout job references unknown transaction %s", pj.TransactionID))
	}
	if err != nil {
		return o.transient(ctx, job, fmt.Errorf("loading transaction %s: %w", pj.TransactionID, err))
	}

	payout := txn.Payout(pj.PayeeID)
	if payout == nil {
		return o.poison(ctx, job, fmt.Errorf("%w: transaction %s has no payout for %s", ErrUnknownPayout, pj.TransactionID, pj.PayeeID))
	}
	if payout.Status == PayoutCompleted {
		// Redelivered after completion; nothing left to do.
		return o.jobs.Ack(ctx, job.ID)
	}

	method, err := payment.UnmarshalMethod(pj.Method)
	if err != nil {
		return o.poison(ctx, job, fmt.Errorf("%w: %v", ErrBadJobPayload, err))
	}

	idemKey := pj.TransactionID + ":" + pj.PayeeID
	if pj.Nonce != "" {
		idemKey += ":" + pj.Nonce
	}
	res, err := o.pay.Pay(ctx, pj.Amount, method, idemKey)
	if err != nil {
		return o.transient(ctx, job, err)
	}

	switch res.Outcome {
	case payment.OutcomeCompleted:
		err := o.store.UpdatePayoutStatus(ctx, txn.ID, pj.PayeeID, PayoutCompleted, res.ExternalRef, "")
		switch {
		case errors.Is(err, ErrTerminalState):
			// Another worker already recorded this outcome; counting or
			// announcing it again would double-report the payout.
		case err != nil:
			return o.transient(ctx, job, fmt.Errorf("recording completed payout: %w", err))
		default:
			payoutsTotal.WithLabelValues("completed").Inc()
			o.log.Info("payout settled", "transaction_id", txn.ID, "payee_id", pj.PayeeID, "amount", pj.Amount, "external_ref", res.ExternalRef)
			o.events.PayoutSettled(ctx, txn.ID, pj.PayeeID, pj.Amount, res.ExternalRef)
		}
	default:
		err := o.store.UpdatePayoutStatus(ctx, txn.ID, pj.PayeeID, PayoutFailed, "", res.Reason)
		switch {
		case errors.Is(err, ErrTerminalState):
		case err != nil:
			return o.transient(ctx, job, fmt.Errorf("recording failed payout: %w", err))
		default:
			payoutsTotal.WithLabelValues("failed").Inc()
			o.log.Warn("payout failed permanently", "transaction_id", txn.ID, "payee_id", pj.PayeeID, "amount", pj.Amount, "reason", res.Reason)
			o.events.PayoutFailed(ctx, txn.ID, pj.PayeeID, pj.Amount, res.Reason)
		}
	}

	if err := o.jobs.Ack(ctx, job.ID); err != nil {
		return fmt.Errorf("acking payout job %s: %w", job.ID, err)
	}

	return o.recomputeStatus(ctx, txn.ID)
}

// RedrivePayout transitions a PENDING or FAILED payout back to PENDING and
// enqueues a fresh job for it. This is the operator remediation path; a
// SETTLED transaction or a COMPLETED payout is never re-driven.
func (o *Orchestrator) RedrivePayout(ctx context.Context, txID, payeeID string) (*Transaction, error) {
	txn, err := o.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if txn.Status == StatusSettled {
		return nil, fmt.Errorf("%w: transaction %s is settled", ErrTerminalState, txID)
	}
	payout := txn.Payout(payeeID)
	if payout == nil {
		return nil, fmt.Errorf("%w: transaction %s has no payout for %s", ErrUnknownPayout, txID, payeeID)
	}
	if payout.Status == PayoutCompleted {
		return nil, fmt.Errorf("%w: payout to %s already completed", ErrTerminalState, payeeID)
	}

	method, err := o.methods.PayoutMethod(ctx, payeeID)
	if err != nil {
		return nil, fmt.Errorf("resolving payout method for %s: %w", payeeID, err)
	}

	// A pending payout may still have its original job in flight, so the
	// re-driven job must share its idempotency key and dedupe against it.
	// Only a failed payout gets a fresh nonce to get past the cached decline.
	nonce := ""
	if payout.Status == PayoutFailed {
		nonce = uuid.NewString()
	}

	if err := o.store.UpdatePayoutStatus(ctx, txID, payeeID, PayoutPending, "", ""); err != nil {
		return nil, fmt.Errorf("resetting payout for %s: %w", payeeID, err)
	}
	if txn.Status == StatusFailed {
		if err := o.store.UpdateTransactionStatus(ctx, txID, StatusPendingSettlement); err != nil {
			return nil, fmt.Errorf("reopening transaction %s: %w", txID, err)
		}
	}
	if err := o.enqueuePayout(ctx, txID, Payout{PayeeID: payeeID, Amount: payout.Amount}, method, nonce); err != nil {
		return nil, err
	}

	redrivesTotal.Inc()
	o.log.Info("payout re-driven", "transaction_id", txID, "payee_id", payeeID, "amount", payout.Amount)
	return o.store.GetTransaction(ctx, txID)
}

// poison permanently fails an unprocessable job. The job is recorded, never
// retried, and the error is surfaced for visibility.
func (o *Orchestrator) poison(ctx context.Context, job *queue.Job, cause error) error {
	poisonJobs.Inc()
	o.log.Error("poison payout job", "job_id", job.ID, "attempts", job.Attempts, "error", cause.Error())
	if err := o.jobs.Fail(ctx, job.ID, cause.Error()); err != nil {
		return fmt.Errorf("failing poison job %s: %w", job.ID, err)
	}
	return cause
}

// transient handles a retryable failure. Below the attempt budget the job is
// left in processing for the visibility-timeout sweeper to redeliver; at the
// budget it becomes a terminal failure requiring operator action.
func (o *Orchestrator) transient(ctx context.Context, job *queue.Job, cause error) error {
	if job.Attempts < o.cfg.MaxAttempts {
		retriesTotal.Inc()
		o.log.Warn("payout attempt failed, awaiting redelivery", "job_id", job.ID, "attempts", job.Attempts, "max_attempts", o.cfg.MaxAttempts, "error", cause.Error())
		return cause
	}

	reason := fmt.Sprintf("exhausted %d attempts: %v", job.Attempts, cause)
	o.log.Error("payout job exhausted retries", "job_id", job.ID, "error", cause.Error())
	if err := o.jobs.Fail(ctx, job.ID, reason); err != nil {
		return fmt.Errorf("failing exhausted job %s: %w", job.ID, err)
	}

	var pj PayoutJob
	if err := json.Unmarshal(job.Payload, &pj); err == nil && pj.TransactionID != "" && pj.PayeeID != "" {
		switch err := o.store.UpdatePayoutStatus(ctx, pj.TransactionID, pj.PayeeID, PayoutFailed, "", reason); {
		case errors.Is(err, ErrTerminalState):
		case err != nil:
			return fmt.Errorf("recording exhausted payout: %w", err)
		default:
			payoutsTotal.WithLabelValues("failed").Inc()
			o.events.PayoutFailed(ctx, pj.TransactionID, pj.PayeeID, pj.Amount, reason)
		}
		if err := o.recomputeStatus(ctx, pj.TransactionID); err != nil {
			return err
		}
	}
	return cause
}

// recomputeStatus persists the transaction's overall status once every payout
// is terminal. Terminal transactions are left untouched.
func (o *Orchestrator) recomputeStatus(ctx context.Context, txID string) error {
	txn, err := o.store.GetTransaction(ctx, txID)
	if err != nil {
		return fmt.Errorf("reloading transaction %s: %w", txID, err)
	}
	if txn.Status.Terminal() {
		return nil
	}

	allCompleted := true
	for _, p := range txn.Payouts {
		if !p.Status.Terminal() {
			return nil
		}
		if p.Status != PayoutCompleted {
			allCompleted = false
		}
	}

	status := StatusFailed
	if allCompleted {
		status = StatusSettled
	}
	if err := o.store.UpdateTransactionStatus(ctx, txID, status); err != nil {
		if errors.Is(err, ErrTerminalState) {
			return nil
		}
		return fmt.Errorf("updating transaction %s status: %w", txID, err)
	}

	transactionsClosed.WithLabelValues(string(status)).Inc()
	o.log.Info("transaction reached terminal state", "transaction_id", txID, "status", string(status))

	txn.Status = status
	o.events.TransactionClosed(ctx, txn)
	return nil
}
