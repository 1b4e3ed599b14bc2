package handlers

import (
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	bursarapi "github.com/Laudkyle/fuel-me/pkg/api/bursar"
	"github.com/Laudkyle/fuel-me/pkg/kafka"
	"github.com/Laudkyle/fuel-me/pkg/logging"
	"github.com/Laudkyle/fuel-me/pkg/middleware"
	"github.com/Laudkyle/fuel-me/pkg/models"
)

// LedgerEngine owns the credit ledger: fuel purchases, repayments and the
// due-amount aggregation both lean on. Every balance mutation runs inside
// a transaction holding the profile row lock.
type LedgerEngine struct {
	db     *sql.DB
	logger logging.Logger
	cycles *CycleManager
}

func NewLedgerEngine(db *sql.DB, logger logging.Logger, cycles *CycleManager) *LedgerEngine {
	return &LedgerEngine{db: db, logger: logger, cycles: cycles}
}

// RecordFuelPurchase disburses fuel against the user's credit line.
// Overdraft kicks in when the amount exceeds available credit, bounded by
// the overdraft headroom; otherwise the purchase is rejected with the
// figures the caller needs.
func (e *LedgerEngine) RecordFuelPurchase(req *bursarapi.FuelPurchaseRequest) (*bursarapi.FuelPurchaseResponse, error) {
	amount := req.FuelLiters * req.CostPerLiter
	if req.TotalAmount != nil {
		amount = *req.TotalAmount
	}
	if amount <= 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if req.UserID == "" {
		return nil, &ValidationError{Field: "user_id", Reason: "is required"}
	}

	tx, err := e.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	profile, err := lockProfile(tx, req.UserID)
	if err != nil {
		return nil, err
	}

	available := profile.AvailableCredit
	isOverdraft := false
	overdraftAmount := 0.0

	if amount > available {
		headroom := 0.0
		if profile.OverdraftEnabled {
			headroom = profile.OverdraftLimit - profile.OverdraftUsed
		}
		if !profile.OverdraftEnabled || amount-available > headroom {
			return nil, &InsufficientCreditError{
				AvailableCredit:    available,
				RequiredAmount:     amount,
				OverdraftAvailable: headroom,
			}
		}
		isOverdraft = true
		overdraftAmount = amount - available
	}

	cycle, err := e.cycles.getOrCreateForProfile(tx, profile)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	interestStart := now.AddDate(0, 0, profile.GracePeriodDays)

	usedBefore := profile.CreditUtilized
	availableBefore := profile.AvailableCredit

	if isOverdraft {
		profile.CreditUtilized = profile.CreditLimit
		profile.OverdraftUsed += overdraftAmount
		profile.AvailableCredit = 0
	} else {
		profile.CreditUtilized += amount
		profile.AvailableCredit -= amount
	}
	profile.OutstandingBalance += amount

	_, err = tx.Exec(`
		UPDATE bursar.account_profiles
		SET credit_utilized = $1, available_credit = $2, overdraft_used = $3,
		    outstanding_balance = $4, updated_at = NOW()
		WHERE id = $5
	`, profile.CreditUtilized, profile.AvailableCredit, profile.OverdraftUsed,
		profile.OutstandingBalance, profile.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE bursar.billing_cycles
		SET total_purchases = total_purchases + $1, overdraft_used = overdraft_used + $2, updated_at = NOW()
		WHERE id = $3
	`, amount, overdraftAmount, cycle.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update billing cycle: %w", err)
	}

	txID := uuid.NewString()
	_, err = tx.Exec(`
		INSERT INTO bursar.credit_transactions (
			id, user_id, billing_cycle_id, request_id, station_id, agent_id, car_id, type,
			fuel_liters, fuel_type, fuel_cost_per_liter, principal_amount, total_amount,
			credit_used_before, credit_used_after, available_credit_before, available_credit_after,
			is_overdraft, grace_period_applies, interest_start_date, transaction_date, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 'fuel_purchase',
		          $8, $9, $10, $11, $11, $12, $13, $14, $15, $16, TRUE, $17, $18, 'completed')
	`, txID, req.UserID, cycle.ID, req.RequestID, req.StationID, req.AgentID, req.CarID,
		req.FuelLiters, req.FuelType, req.CostPerLiter, amount,
		usedBefore, profile.CreditUtilized, availableBefore, profile.AvailableCredit,
		isOverdraft, interestStart, now)
	if err != nil {
		return nil, fmt.Errorf("failed to record fuel purchase: %w", err)
	}

	if req.RequestID != nil {
		_, err = tx.Exec(`
			UPDATE bursar.fuel_requests
			SET status = 'completed', credit_transaction_id = $1, updated_at = NOW()
			WHERE id = $2
		`, txID, *req.RequestID)
		if err != nil {
			return nil, fmt.Errorf("failed to complete fuel request: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	cycle.TotalPurchases += amount
	cycle.OverdraftUsed += overdraftAmount

	e.logger.WithFields(logging.Fields{
		"user_id":      req.UserID,
		"amount":       amount,
		"is_overdraft": isOverdraft,
		"cycle_id":     cycle.ID,
	}).Info("Fuel purchase recorded")

	transaction := &models.CreditTransaction{
		ID:                    txID,
		UserID:                req.UserID,
		BillingCycleID:        &cycle.ID,
		RequestID:             req.RequestID,
		StationID:             req.StationID,
		AgentID:               req.AgentID,
		CarID:                 req.CarID,
		Type:                  models.TxFuelPurchase,
		FuelLiters:            &req.FuelLiters,
		FuelType:              &req.FuelType,
		FuelCostPerLiter:      &req.CostPerLiter,
		PrincipalAmount:       amount,
		TotalAmount:           amount,
		CreditUsedBefore:      &usedBefore,
		CreditUsedAfter:       &profile.CreditUtilized,
		AvailableCreditBefore: &availableBefore,
		AvailableCreditAfter:  &profile.AvailableCredit,
		IsOverdraft:           isOverdraft,
		GracePeriodApplies:    true,
		InterestStartDate:     &interestStart,
		TransactionDate:       now,
		Status:                models.TxStatusCompleted,
	}

	return &bursarapi.FuelPurchaseResponse{
		Transaction: transaction,
		Profile:     profile,
		Cycle:       cycle,
	}, nil
}

// ListTransactions returns a user's ledger, newest first, optionally
// filtered by type and date range.
func (e *LedgerEngine) ListTransactions(userID, txType string, from, to *time.Time) ([]*models.CreditTransaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM bursar.credit_transactions
		WHERE user_id = $1
	`
	args := []interface{}{userID}

	if txType != "" {
		args = append(args, txType)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if from != nil {
		args = append(args, *from)
		query += fmt.Sprintf(" AND transaction_date >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += fmt.Sprintf(" AND transaction_date <= $%d", len(args))
	}
	query += " ORDER BY transaction_date DESC"

	rows, err := e.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var result []*models.CreditTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// HTTP handlers

// RecordFuelPurchase creates a fuel purchase transaction against credit
func RecordFuelPurchase(c middleware.Context) {
	var req bursarapi.FuelPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid request body"})
		return
	}

	resp, err := ledger.RecordFuelPurchase(&req)
	if err != nil {
		if metrics != nil {
			metrics.FuelPurchases.WithLabelValues("rejected").Inc()
		}
		respondError(c, err)
		return
	}

	if metrics != nil {
		metrics.FuelPurchases.WithLabelValues("completed").Inc()
	}
	publishLedgerEvent(kafka.EventFuelPurchase, req.UserID, resp.Transaction.ID, resp.Cycle.ID, resp.Transaction.TotalAmount)
	c.JSON(http.StatusCreated, resp)
}

// GetUserTransactions lists a user's credit transactions with filters
func GetUserTransactions(c middleware.Context) {
	userID := c.Param("user_id")
	txType := c.DefaultQuery("type", "")

	var from, to *time.Time
	if v := c.DefaultQuery("start_date", ""); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "start_date must be RFC3339"})
			return
		}
		from = &t
	}
	if v := c.DefaultQuery("end_date", ""); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "end_date must be RFC3339"})
			return
		}
		to = &t
	}

	transactions, err := ledger.ListTransactions(userID, txType, from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bursarapi.TransactionListResponse{Transactions: transactions, Count: len(transactions)})
}
