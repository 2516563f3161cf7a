package payment

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDispatcher_IdempotentPay(t *testing.T) {
	ctx := context.Background()
	stub := NewStubBackend()
	d := NewDispatcher(stub, stub, NewMemoryCache(), time.Second)

	first, err := d.Pay(ctx, 47500, CardToken{Token: "tok_seller"}, "txn_1:seller_1")
	if err != nil {
		t.Fatalf("first Pay failed: %v", err)
	}
	if first.Outcome != OutcomeCompleted || first.ExternalRef == "" {
		t.Fatalf("first Pay = %+v, want completed with external ref", first)
	}

	second, err := d.Pay(ctx, 47500, CardToken{Token: "tok_seller"}, "txn_1:seller_1")
	if err != nil {
		t.Fatalf("second Pay failed: %v", err)
	}
	if second != first {
		t.Errorf("second Pay = %+v, want cached %+v", second, first)
	}
	if n := stub.Calls("txn_1:seller_1"); n != 1 {
		t.Errorf("backend called %d times for one key, want 1", n)
	}
}

func TestDispatcher_TerminalFailureCached(t *testing.T) {
	ctx := context.Background()
	stub := NewStubBackend()
	stub.ChargeFunc = func(ctx context.Context, amount int64, token, key string) (string, error) {
		return "", ErrDeclined
	}
	d := NewDispatcher(stub, stub, NewMemoryCache(), time.Second)

	res, err := d.Pay(ctx, 1000, CardToken{Token: "tok_bad"}, "txn_1:seller_1")
	if err != nil {
		t.Fatalf("terminal decline surfaced as error: %v", err)
	}
	if res.Outcome != OutcomeFailed || res.Reason == "" {
		t.Fatalf("Pay = %+v, want failed outcome with reason", res)
	}

	// The decline is a settled result: the retry must not reach the backend.
	again, err := d.Pay(ctx, 1000, CardToken{Token: "tok_bad"}, "txn_1:seller_1")
	if err != nil {
		t.Fatalf("cached Pay failed: %v", err)
	}
	if again != res {
		t.Errorf("cached Pay = %+v, want %+v", again, res)
	}
	if n := stub.Calls("txn_1:seller_1"); n != 1 {
		t.Errorf("backend called %d times after terminal failure, want 1", n)
	}
}

func TestDispatcher_TransientFailureNotCached(t *testing.T) {
	ctx := context.Background()
	stub := NewStubBackend()
	failures := 1
	stub.TransferFunc = func(ctx context.Context, amount int64, addr, asset, key string) (string, error) {
		if failures > 0 {
			failures--
			return "", ErrTransient
		}
		return "tr_ok", nil
	}
	d := NewDispatcher(stub, stub, NewMemoryCache(), time.Second)

	method := WalletTransfer{WalletAddress: "0xabc", Asset: "USDC"}
	_, err := d.Pay(ctx, 1000, method, "txn_1:provider_1")
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("Pay = %v, want ErrTransient", err)
	}

	// A transient error leaves no cached result, so the retry goes through.
	res, err := d.Pay(ctx, 1000, method, "txn_1:provider_1")
	if err != nil {
		t.Fatalf("retry after transient failure: %v", err)
	}
	if res.Outcome != OutcomeCompleted || res.ExternalRef != "tr_ok" {
		t.Errorf("retry Pay = %+v, want completed tr_ok", res)
	}
	if n := stub.Calls("txn_1:provider_1"); n != 2 {
		t.Errorf("backend called %d times, want 2", n)
	}
}

func TestDispatcher_TimeoutIsTransient(t *testing.T) {
	ctx := context.Background()
	stub := NewStubBackend()
	stub.ChargeFunc = func(ctx context.Context, amount int64, token, key string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	d := NewDispatcher(stub, stub, NewMemoryCache(), 10*time.Millisecond)

	_, err := d.Pay(ctx, 1000, CardToken{Token: "tok_slow"}, "txn_1:seller_1")
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("Pay on timeout = %v, want ErrTransient; a timeout must never settle", err)
	}
}

func TestDispatcher_CancellationIsTransient(t *testing.T) {
	stub := NewStubBackend()
	stub.ChargeFunc = func(ctx context.Context, amount int64, token, key string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	d := NewDispatcher(stub, stub, NewMemoryCache(), time.Second)

	// The worker shuts down while the charge is in flight.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := d.Pay(ctx, 47500, CardToken{Token: "tok_seller"}, "txn_1:seller_1")
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("Pay on cancellation = %v, want ErrTransient; shutdown must not settle a payout", err)
	}

	// Nothing was cached, so the redelivered job reaches the backend and
	// completes on the next worker's attempt.
	stub.ChargeFunc = nil
	res, err := d.Pay(context.Background(), 47500, CardToken{Token: "tok_seller"}, "txn_1:seller_1")
	if err != nil {
		t.Fatalf("retry after cancellation failed: %v", err)
	}
	if res.Outcome != OutcomeCompleted {
		t.Errorf("retry Pay = %+v, want completed", res)
	}
	if n := stub.Calls("txn_1:seller_1"); n != 2 {
		t.Errorf("backend called %d times, want 2", n)
	}
}

func TestDispatcher_Validation(t *testing.T) {
	ctx := context.Background()
	stub := NewStubBackend()
	d := NewDispatcher(stub, stub, NewMemoryCache(), time.Second)

	if _, err := d.Pay(ctx, 0, CardToken{Token: "tok"}, "k"); err == nil {
		t.Error("Pay accepted zero amount")
	}
	if _, err := d.Pay(ctx, -100, CardToken{Token: "tok"}, "k"); err == nil {
		t.Error("Pay accepted negative amount")
	}
	if _, err := d.Pay(ctx, 100, CardToken{Token: "tok"}, ""); err == nil {
		t.Error("Pay accepted empty idempotency key")
	}
	if _, err := d.Pay(ctx, 100, nil, "k"); !errors.Is(err, ErrUnknownMethod) {
		t.Errorf("Pay with nil method = %v, want ErrUnknownMethod", err)
	}
	if n := stub.Calls("k"); n != 0 {
		t.Errorf("backend reached on invalid input %d times, want 0", n)
	}
}

func TestMethodCodec(t *testing.T) {
	tests := []struct {
		name   string
		method Method
	}{
		{"Card Token", CardToken{Token: "tok_123"}},
		{"Wallet Transfer", WalletTransfer{WalletAddress: "0xabc", Asset: "USDC"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := MarshalMethod(tt.method)
			if err != nil {
				t.Fatalf("MarshalMethod failed: %v", err)
			}
			got, err := UnmarshalMethod(raw)
			if err != nil {
				t.Fatalf("UnmarshalMethod failed: %v", err)
			}
			if got != tt.method {
				t.Errorf("round trip = %+v, want %+v", got, tt.method)
			}
		})
	}
}

func TestMethodCodec_Unknown(t *testing.T) {
	if _, err := UnmarshalMethod([]byte(`{"type":"carrier_pigeon"}`)); !errors.Is(err, ErrUnknownMethod) {
		t.Errorf("UnmarshalMethod of unknown type = %v, want ErrUnknownMethod", err)
	}
	if _, err := MarshalMethod(nil); !errors.Is(err, ErrUnknownMethod) {
		t.Errorf("MarshalMethod of nil = %v, want ErrUnknownMethod", err)
	}
}
