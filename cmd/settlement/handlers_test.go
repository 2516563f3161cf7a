package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/sapliy/auction-settlement/internal/ledger"
	"github.com/sapliy/auction-settlement/internal/payment"
	"github.com/sapliy/auction-settlement/internal/queue"
	"github.com/sapliy/auction-settlement/internal/settlement"
	"github.com/sapliy/auction-settlement/pkg/observability"
)

type handlerEnv struct {
	handler  *SettlementHandler
	router   *mux.Router
	auctions *settlement.MemoryAuctions
	store    settlement.Store
	jobs     queue.Queue
	orch     *settlement.Orchestrator
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()

	entries := ledger.NewMemory()
	store := settlement.NewMemoryStore(entries)
	auctions := settlement.NewMemoryAuctions()
	jobs := queue.NewMemory()
	stub := payment.NewStubBackend()
	dispatcher := payment.NewDispatcher(stub, stub, payment.NewMemoryCache(), time.Second)
	resolver := settlement.StaticResolver{Default: payment.CardToken{Token: "tok_default"}}
	logger := observability.NewLogger("test")

	orch, err := settlement.NewOrchestrator(store, auctions, entries, jobs, dispatcher, resolver, nil, settlement.Config{}, logger)
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}

	h := &SettlementHandler{orch: orch, store: store, entries: entries, jobs: jobs}
	r := mux.NewRouter()
	r.HandleFunc("/transactions/finalize", h.Finalize).Methods(http.MethodPost)
	r.HandleFunc("/transactions/{id}", h.GetTransaction).Methods(http.MethodGet)
	r.HandleFunc("/transactions/{id}/ledger", h.GetLedgerEntries).Methods(http.MethodGet)
	r.HandleFunc("/transactions/{id}/payouts/{payeeID}/pay", h.RedrivePayout).Methods(http.MethodPost)
	r.HandleFunc("/queue/stats", h.QueueStats).Methods(http.MethodGet)

	return &handlerEnv{handler: h, router: r, auctions: auctions, store: store, jobs: jobs, orch: orch}
}

func (e *handlerEnv) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func closedTestAuction() *settlement.Auction {
	return &settlement.Auction{
		ID:       "auc_1",
		SellerID: "seller_1",
		Status:   settlement.AuctionClosed,
		Bids: []settlement.Bid{
			{ID: "bid_1", BidderID: "buyer_1", Type: settlement.BidSalePrice, Amount: 50000, Status: settlement.BidAccepted},
			{ID: "bid_2", BidderID: "provider_1", Type: settlement.BidServiceOffer, Amount: 1000, Status: settlement.BidAccepted},
		},
	}
}

func TestHandler_Finalize(t *testing.T) {
	tests := []struct {
		name           string
		reqBody        string
		setup          func(*handlerEnv)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:    "Valid Request",
			reqBody: `{"auction_id":"auc_1"}`,
			setup: func(e *handlerEnv) {
				e.auctions.Put(closedTestAuction())
			},
			expectedStatus: http.StatusCreated,
			expectedBody:   `"auction_id":"auc_1"`,
		},
		{
			name:           "Invalid Body",
			reqBody:        `{broken`,
			setup:          func(e *handlerEnv) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "Invalid request body",
		},
		{
			name:           "Missing Auction ID",
			reqBody:        `{}`,
			setup:          func(e *handlerEnv) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "auction_id is required",
		},
		{
			name:           "Unknown Auction",
			reqBody:        `{"auction_id":"auc_ghost"}`,
			setup:          func(e *handlerEnv) {},
			expectedStatus: http.StatusNotFound,
			expectedBody:   "not found",
		},
		{
			name:    "Auction Still Open",
			reqBody: `{"auction_id":"auc_open"}`,
			setup: func(e *handlerEnv) {
				e.auctions.Put(&settlement.Auction{
					ID: "auc_open", SellerID: "s", Status: settlement.AuctionActive,
					Bids: []settlement.Bid{{ID: "b", BidderID: "x", Type: settlement.BidSalePrice, Amount: 100, Status: settlement.BidAccepted}},
				})
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "not closed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newHandlerEnv(t)
			tt.setup(env)

			w := env.do(http.MethodPost, "/transactions/finalize", tt.reqBody)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if !strings.Contains(w.Body.String(), tt.expectedBody) {
				t.Errorf("Expected body to contain '%s', got '%s'", tt.expectedBody, w.Body.String())
			}
		})
	}
}

func TestHandler_FinalizeIdempotent(t *testing.T) {
	env := newHandlerEnv(t)
	env.auctions.Put(closedTestAuction())

	first := env.do(http.MethodPost, "/transactions/finalize", `{"auction_id":"auc_1"}`)
	second := env.do(http.MethodPost, "/transactions/finalize", `{"auction_id":"auc_1"}`)

	var a, b settlement.Transaction
	if err := json.Unmarshal(first.Body.Bytes(), &a); err != nil {
		t.Fatalf("decoding first response: %v", err)
	}
	if err := json.Unmarshal(second.Body.Bytes(), &b); err != nil {
		t.Fatalf("decoding second response: %v", err)
	}
	if a.ID != b.ID {
		t.Errorf("repeated finalize returned transaction %s, want %s", b.ID, a.ID)
	}
}

func TestHandler_GetTransaction(t *testing.T) {
	env := newHandlerEnv(t)
	env.auctions.Put(closedTestAuction())
	txn, err := env.orch.Finalize(context.Background(), "auc_1")
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	// Lookup works by transaction id and by auction id.
	for _, id := range []string{txn.ID, "auc_1"} {
		w := env.do(http.MethodGet, "/transactions/"+id, "")
		if w.Code != http.StatusOK {
			t.Errorf("GET /transactions/%s = %d, want 200", id, w.Code)
		}
		if !strings.Contains(w.Body.String(), txn.ID) {
			t.Errorf("response for %s missing transaction id", id)
		}
	}

	w := env.do(http.MethodGet, "/transactions/ghost", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("GET unknown transaction = %d, want 404", w.Code)
	}
}

func TestHandler_GetLedgerEntries(t *testing.T) {
	env := newHandlerEnv(t)
	env.auctions.Put(closedTestAuction())
	txn, err := env.orch.Finalize(context.Background(), "auc_1")
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	w := env.do(http.MethodGet, "/transactions/"+txn.ID+"/ledger", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET ledger = %d, want 200", w.Code)
	}

	var entries []ledger.Entry
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decoding ledger response: %v", err)
	}
	if len(entries) != 4 {
		t.Errorf("got %d entries, want 4", len(entries))
	}
	if err := ledger.ValidateBalanced(entries); err != nil {
		t.Errorf("served entries do not balance: %v", err)
	}
}

func TestHandler_RedrivePayout(t *testing.T) {
	env := newHandlerEnv(t)
	env.auctions.Put(closedTestAuction())
	txn, err := env.orch.Finalize(context.Background(), "auc_1")
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	w := env.do(http.MethodPost, "/transactions/"+txn.ID+"/payouts/seller_1/pay", "")
	if w.Code != http.StatusAccepted {
		t.Errorf("redrive pending payout = %d, want 202; body %s", w.Code, w.Body.String())
	}

	w = env.do(http.MethodPost, "/transactions/ghost/payouts/seller_1/pay", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("redrive unknown transaction = %d, want 404", w.Code)
	}

	w = env.do(http.MethodPost, "/transactions/"+txn.ID+"/payouts/nobody/pay", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("redrive unknown payee = %d, want 404", w.Code)
	}
}

func TestHandler_QueueStats(t *testing.T) {
	env := newHandlerEnv(t)
	env.auctions.Put(closedTestAuction())
	if _, err := env.orch.Finalize(context.Background(), "auc_1"); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	w := env.do(http.MethodGet, "/queue/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /queue/stats = %d, want 200", w.Code)
	}

	var stats queue.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if stats.Queued != 2 {
		t.Errorf("queued = %d, want 2 payout jobs", stats.Queued)
	}
}
