package settlement

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sapliy/auction-settlement/pkg/observability"
)

// Publisher receives settlement lifecycle events. Publishing is best effort:
// a failed publish is logged and never affects settlement state.
type Publisher interface {
	SettlementFinalized(ctx context.Context, txn *Transaction)
	PayoutSettled(ctx context.Context, txID, payeeID string, amount int64, externalRef string)
	PayoutFailed(ctx context.Context, txID, payeeID string, amount int64, reason string)
	TransactionClosed(ctx context.Context, txn *Transaction)
}

// NopPublisher discards all events.
type NopPublisher struct{}

func (NopPublisher) SettlementFinalized(context.Context, *Transaction)            {}
func (NopPublisher) PayoutSettled(context.Context, string, string, int64, string) {}
func (NopPublisher) PayoutFailed(context.Context, string, string, int64, string)  {}
func (NopPublisher) TransactionClosed(context.Context, *Transaction)              {}

// AuditProducer is the Kafka seam: every lifecycle event is appended to the
// settlement audit stream for downstream consumers.
type AuditProducer interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// NotificationSink is the RabbitMQ seam: payout outcomes are handed to the
// notifications queue; delivery to users is out of scope here.
type NotificationSink interface {
	Publish(ctx context.Context, queueName string, body []byte) error
}

// EventPublisher fans lifecycle events out to the audit stream and the
// notifications queue. Either sink may be nil.
type EventPublisher struct {
	audit         AuditProducer
	notifications NotificationSink
	queueName     string
	log           *observability.Logger
}

func NewEventPublisher(audit AuditProducer, notifications NotificationSink, log *observability.Logger) *EventPublisher {
	return &EventPublisher{
		audit:         audit,
		notifications: notifications,
		queueName:     "notifications",
		log:           log,
	}
}

type auditEvent struct {
	Type          string `json:"type"`
	TransactionID string `json:"transaction_id"`
	AuctionID     string `json:"auction_id,omitempty"`
	PayeeID       string `json:"payee_id,omitempty"`
	Amount        int64  `json:"amount,omitempty"`
	ExternalRef   string `json:"external_ref,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Status        string `json:"status,omitempty"`
	OccurredAt    string `json:"occurred_at"`
}

type notificationTask struct {
	Type          string `json:"type"`
	Recipient     string `json:"recipient"`
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	Reason        string `json:"reason,omitempty"`
}

func (p *EventPublisher) SettlementFinalized(ctx context.Context, txn *Transaction) {
	p.emit(ctx, auditEvent{
		Type:          "settlement.finalized",
		TransactionID: txn.ID,
		AuctionID:     txn.AuctionID,
		Amount:        txn.TotalSalePrice + txn.TotalServiceFees,
	})
}

func (p *EventPublisher) PayoutSettled(ctx context.Context, txID, payeeID string, amount int64, externalRef string) {
	p.emit(ctx, auditEvent{
		Type:          "payout.settled",
		TransactionID: txID,
		PayeeID:       payeeID,
		Amount:        amount,
		ExternalRef:   externalRef,
	})
	p.notify(ctx, notificationTask{
		Type:          "payout.completed",
		Recipient:     payeeID,
		TransactionID: txID,
		Amount:        amount,
	})
}

func (p *EventPublisher) PayoutFailed(ctx context.Context, txID, payeeID string, amount int64, reason string) {
	p.emit(ctx, auditEvent{
		Type:          "payout.failed",
		TransactionID: txID,
		PayeeID:       payeeID,
		Amount:        amount,
		Reason:        reason,
	})
	p.notify(ctx, notificationTask{
		Type:          "payout.failed",
		Recipient:     payeeID,
		TransactionID: txID,
		Amount:        amount,
		Reason:        reason,
	})
}

func (p *EventPublisher) TransactionClosed(ctx context.Context, txn *Transaction) {
	p.emit(ctx, auditEvent{
		Type:          "transaction.closed",
		TransactionID: txn.ID,
		AuctionID:     txn.AuctionID,
		Status:        string(txn.Status),
	})
}

func (p *EventPublisher) emit(ctx context.Context, ev auditEvent) {
	if p.audit == nil {
		return
	}
	ev.OccurredAt = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("encoding audit event", "type", ev.Type, "error", err.Error())
		return
	}
	if err := p.audit.Publish(ctx, ev.TransactionID, data); err != nil {
		p.log.Error("publishing audit event", "type", ev.Type, "transaction_id", ev.TransactionID, "error", err.Error())
	}
}

func (p *EventPublisher) notify(ctx context.Context, task notificationTask) {
	if p.notifications == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		p.log.Error("encoding notification task", "type", task.Type, "error", err.Error())
		return
	}
	if err := p.notifications.Publish(ctx, p.queueName, data); err != nil {
		p.log.Error("publishing notification task", "type", task.Type, "recipient", task.Recipient, "error", err.Error())
	}
}
