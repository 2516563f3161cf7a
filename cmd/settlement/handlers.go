package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sapliy/auction-settlement/internal/ledger"
	"github.com/sapliy/auction-settlement/internal/queue"
	"github.com/sapliy/auction-settlement/internal/settlement"
	"github.com/sapliy/auction-settlement/pkg/jsonutil"
)

type SettlementHandler struct {
	orch    *settlement.Orchestrator
	store   settlement.Store
	entries ledger.Store
	jobs    queue.Queue
}

// Finalize settles a closed auction. The response is the transaction in
// PENDING_SETTLEMENT; settlement progress is observed asynchronously through
// its status, never by blocking here.
func (h *SettlementHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AuctionID string `json:"auction_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonutil.WriteErrorJSON(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.AuctionID == "" {
		jsonutil.WriteErrorJSON(w, http.StatusBadRequest, "auction_id is required")
		return
	}

	txn, err := h.orch.Finalize(r.Context(), req.AuctionID)
	switch {
	case err == nil:
		jsonutil.WriteJSON(w, http.StatusCreated, txn)
	case errors.Is(err, settlement.ErrNotFound):
		jsonutil.WriteErrorJSON(w, http.StatusNotFound, err.Error())
	case errors.Is(err, settlement.ErrAuctionNotClosed),
		errors.Is(err, settlement.ErrNoAcceptedBids),
		errors.Is(err, settlement.ErrMissingPayee):
		jsonutil.WriteErrorJSON(w, http.StatusBadRequest, err.Error())
	case txn != nil:
		// The transaction is durable but at least one payout job was not
		// enqueued; the operator re-drives it through the payout endpoint.
		jsonutil.WriteJSON(w, http.StatusAccepted, map[string]any{
			"transaction": txn,
			"warning":     err.Error(),
		})
	default:
		jsonutil.WriteErrorJSON(w, http.StatusInternalServerError, "Failed to finalize auction")
	}
}

// GetTransaction looks up a transaction by its id, falling back to auction id.
func (h *SettlementHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	txn, err := h.lookup(r, id)
	if err != nil {
		jsonutil.WriteErrorJSON(w, http.StatusNotFound, "Transaction not found")
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, txn)
}

// GetLedgerEntries returns the audit trail for a transaction, oldest first.
func (h *SettlementHandler) GetLedgerEntries(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	txn, err := h.lookup(r, id)
	if err != nil {
		jsonutil.WriteErrorJSON(w, http.StatusNotFound, "Transaction not found")
		return
	}

	entries, err := h.entries.EntriesFor(r.Context(), txn.ID)
	if err != nil {
		jsonutil.WriteErrorJSON(w, http.StatusInternalServerError, "Failed to read ledger entries")
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	jsonutil.WriteJSON(w, http.StatusOK, entries)
}

// RedrivePayout re-queues a pending or permanently failed payout. This is the
// operator remediation seam; completed payouts and settled transactions are
// immutable.
func (h *SettlementHandler) RedrivePayout(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	txn, err := h.orch.RedrivePayout(r.Context(), vars["id"], vars["payeeID"])
	switch {
	case err == nil:
		jsonutil.WriteJSON(w, http.StatusAccepted, map[string]any{
			"message":     "Payout processing has been initiated",
			"transaction": txn,
		})
	case errors.Is(err, settlement.ErrNotFound), errors.Is(err, settlement.ErrUnknownPayout):
		jsonutil.WriteErrorJSON(w, http.StatusNotFound, err.Error())
	case errors.Is(err, settlement.ErrTerminalState):
		jsonutil.WriteErrorJSON(w, http.StatusConflict, err.Error())
	default:
		jsonutil.WriteErrorJSON(w, http.StatusInternalServerError, "Failed to re-drive payout")
	}
}

// QueueStats exposes queue depths and counters for dashboards and
// backpressure decisions.
func (h *SettlementHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobs.Stats(r.Context())
	if err != nil {
		jsonutil.WriteErrorJSON(w, http.StatusInternalServerError, "Failed to read queue stats")
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, stats)
}

func (h *SettlementHandler) lookup(r *http.Request, id string) (*settlement.Transaction, error) {
	txn, err := h.store.GetTransaction(r.Context(), id)
	if errors.Is(err, settlement.ErrNotFound) {
		return h.store.GetByAuctionID(r.Context(), id)
	}
	return txn, err
}
