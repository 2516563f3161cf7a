// Package payment executes individual payouts against external payment
// backends. The dispatcher is stateless apart from an idempotency result
// cache: a repeated call with the same idempotency key returns the prior
// result instead of charging again, which is what makes the at-least-once
// job queue safe to pair with real money movement.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Outcome of a payout attempt. A terminal failure is a first-class result,
// not an error; transient infrastructure failures are errors wrapping
// ErrTransient so the caller knows a retry may succeed.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

var (
	// ErrTransient marks a failure that may succeed on retry: backend
	// timeout, gateway unavailable. A timeout is never treated as completed.
	ErrTransient = errors.New("payment: transient backend failure")

	// ErrDeclined marks a terminal refusal by the backend.
	ErrDeclined = errors.New("payment: declined")

	// ErrInvalidDestination marks a terminal failure to resolve the payee's
	// destination (bad token, unknown wallet).
	ErrInvalidDestination = errors.New("payment: invalid destination")
)

// Result is the settled outcome of a payout attempt.
type Result struct {
	ExternalRef string  `json:"external_ref,omitempty"`
	Outcome     Outcome `json:"outcome"`
	Reason      string  `json:"reason,omitempty"`
}

// CardBackend charges tokenized cards.
type CardBackend interface {
	Charge(ctx context.Context, amount int64, token, idempotencyKey string) (string, error)
}

// WalletBackend transfers assets to external wallets.
type WalletBackend interface {
	Transfer(ctx context.Context, amount int64, walletAddress, asset, idempotencyKey string) (string, error)
}

// ResultCache stores settled results keyed by idempotency key.
type ResultCache interface {
	Get(ctx context.Context, key string) (Result, bool, error)
	Put(ctx context.Context, key string, res Result) error
}

// Dispatcher routes a payout to the backend matching its method.
type Dispatcher struct {
	cards   CardBackend
	wallets WalletBackend
	cache   ResultCache
	timeout time.Duration
}

func NewDispatcher(cards CardBackend, wallets WalletBackend, cache ResultCache, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{cards: cards, wallets: wallets, cache: cache, timeout: timeout}
}

// Pay executes one payout. Two calls with the same idempotency key produce at
// most one external charge; the second call returns the cached result.
// Transient failures return a non-nil error wrapping ErrTransient and are
// never cached; terminal failures return (Result{Outcome: OutcomeFailed}, nil)
// and are cached like successes.
func (d *Dispatcher) Pay(ctx context.Context, amount int64, method Method, idempotencyKey string) (Result, error) {
	if amount <= 0 {
		return Result{}, fmt.Errorf("payment: non-positive amount %d", amount)
	}
	if idempotencyKey == "" {
		return Result{}, fmt.Errorf("payment: idempotency key required")
	}

	if cached, ok, err := d.cache.Get(ctx, idempotencyKey); err != nil {
		return Result{}, fmt.Errorf("%w: reading idempotency cache: %v", ErrTransient, err)
	} else if ok {
		paymentsDeduped.Inc()
		return cached, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var ref string
	var err error
	switch m := method.(type) {
	case CardToken:
		ref, err = d.cards.Charge(callCtx, amount, m.Token, idempotencyKey)
	case WalletTransfer:
		ref, err = d.wallets.Transfer(callCtx, amount, m.WalletAddress, m.Asset, idempotencyKey)
	default:
		return Result{}, fmt.Errorf("%w: %T", ErrUnknownMethod, method)
	}

	if err != nil {
		// Cancellation covers caller shutdown as well as the per-call timeout;
		// neither is a verdict from the backend, so neither may be cached.
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, ErrTransient) {
			paymentsTotal.WithLabelValues("transient").Inc()
			return Result{}, fmt.Errorf("%w: %v", ErrTransient, err)
		}

		res := Result{Outcome: OutcomeFailed, Reason: err.Error()}
		d.store(ctx, idempotencyKey, res)
		paymentsTotal.WithLabelValues("failed").Inc()
		return res, nil
	}

	res := Result{ExternalRef: ref, Outcome: OutcomeCompleted}
	d.store(ctx, idempotencyKey, res)
	paymentsTotal.WithLabelValues("completed").Inc()
	return res, nil
}

func (d *Dispatcher) store(ctx context.Context, key string, res Result) {
	// The backend-side idempotency key covers a lost cache write; the payout
	// itself has already settled.
	if err := d.cache.Put(ctx, key, res); err != nil {
		cacheWriteFailures.Inc()
	}
}
