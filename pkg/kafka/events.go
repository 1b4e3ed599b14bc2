package kafka

import (
	"time"
)

// Ledger event types published on every balance-affecting transaction.
const (
	EventFuelPurchase   = "fuel_purchase"
	EventRepayment      = "repayment"
	EventInterestCharge = "interest_charge"
	EventPenalty        = "penalty"
	EventCycleClosed    = "cycle_closed"
)

// LedgerEvent is the wire format for credit-ledger events consumed by
// downstream reporting services.
type LedgerEvent struct {
	EventID        string    `json:"event_id"`
	EventType      string    `json:"event_type"`
	Source         string    `json:"source"`
	UserID         string    `json:"user_id"`
	TransactionID  string    `json:"transaction_id,omitempty"`
	BillingCycleID string    `json:"billing_cycle_id,omitempty"`
	Amount         float64   `json:"amount"`
	Timestamp      time.Time `json:"timestamp"`
}
