package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"budgetwatch/internal/core"
)

// EventKind names what happened to the ledger.
type EventKind string

const (
	EventEnvelopeCreated       EventKind = "envelope_created"
	EventTransactionReconciled EventKind = "transaction_reconciled"
	EventTransactionUnmatched  EventKind = "transaction_unmatched"
	EventEnvelopeRebuilt       EventKind = "envelope_rebuilt"
)

// LedgerEvent is a lightweight notification. It carries identifiers only;
// consumers read current figures back from the ledger store.
type LedgerEvent struct {
	Kind          EventKind   `json:"kind"`
	Period        core.Period `json:"period"`
	EnvelopeID    string      `json:"envelope_id,omitempty"`
	TransactionID string      `json:"transaction_id,omitempty"`
	Category      string      `json:"category,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
}

func NewEnvelopeEvent(kind EventKind, env core.Envelope) *LedgerEvent {
	return &LedgerEvent{
		Kind:       kind,
		Period:     env.Period,
		EnvelopeID: env.ID,
		Category:   env.Category,
		Timestamp:  time.Now().UTC(),
	}
}

// NewTransactionEvent describes a stored transaction. An empty envelopeID
// marks it unmatched.
func NewTransactionEvent(tx core.Transaction, envelopeID string) *LedgerEvent {
	kind := EventTransactionReconciled
	if envelopeID == "" {
		kind = EventTransactionUnmatched
	}
	return &LedgerEvent{
		Kind:          kind,
		Period:        tx.Period,
		EnvelopeID:    envelopeID,
		TransactionID: tx.ID,
		Category:      tx.Category,
		Timestamp:     time.Now().UTC(),
	}
}

func (m *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEventFromJSON decodes and checks a message body.
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var msg LedgerEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Kind {
	case EventEnvelopeCreated, EventTransactionReconciled, EventTransactionUnmatched, EventEnvelopeRebuilt:
	default:
		return nil, fmt.Errorf("unknown event kind %q", msg.Kind)
	}
	if err := msg.Period.Validate(); err != nil {
		return nil, fmt.Errorf("event period: %w", err)
	}
	return &msg, nil
}
