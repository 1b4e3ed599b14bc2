package handlers

import (
	"time"

	"github.com/google/uuid"

	"github.com/Laudkyle/fuel-me/pkg/kafka"
	"github.com/Laudkyle/fuel-me/pkg/logging"
)

// publishLedgerEvent emits a ledger event for downstream consumers.
// Publishing is best-effort; the ledger write has already committed.
func publishLedgerEvent(eventType, userID, transactionID, cycleID string, amount float64) {
	if events == nil {
		return
	}

	event := &kafka.LedgerEvent{
		EventID:        uuid.NewString(),
		EventType:      eventType,
		Source:         "bursar",
		UserID:         userID,
		TransactionID:  transactionID,
		BillingCycleID: cycleID,
		Amount:         amount,
		Timestamp:      time.Now().UTC(),
	}

	if err := events.PublishLedgerEvent(event); err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"event_type": eventType,
			"user_id":    userID,
		}).Warn("Failed to publish ledger event")
	}
}
