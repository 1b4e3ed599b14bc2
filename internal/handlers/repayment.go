package handlers

import (
	"database/sql"
	"errors"
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

// totalDue aggregates principal and interest over the completed fuel
// purchases of one billing cycle. Pure read, no side effects.
func totalDue(q querier, userID, cycleID string) (principal, interest, total float64, err error) {
	err = q.QueryRow(`
		SELECT COALESCE(SUM(principal_amount), 0), COALESCE(SUM(interest_amount), 0)
		FROM bursar.credit_transactions
		WHERE user_id = $1 AND billing_cycle_id = $2 AND type = 'fuel_purchase' AND status = 'completed'
	`, userID, cycleID).Scan(&principal, &interest)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to aggregate total due: %w", err)
	}
	return principal, interest, principal + interest, nil
}

// ProcessRepayment pays down a user's open cycle. Payments below the 10%
// minimum are rejected unless they settle the full amount; a payment
// covering the total settles the cycle.
func (e *LedgerEngine) ProcessRepayment(req *bursarapi.RepaymentRequest) (*bursarapi.RepaymentResponse, error) {
	if req.Amount <= 0 {
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

	cycle, err := lockOpenCycle(tx, req.UserID, req.BillingCycleID)
	if err != nil {
		return nil, err
	}

	_, _, total, err := totalDue(tx, req.UserID, cycle.ID)
	if err != nil {
		return nil, err
	}
	minimumDue := total * models.MinimumDueFraction

	if req.Amount < minimumDue && req.Amount < total {
		return nil, &InsufficientPaymentError{MinimumDue: minimumDue, TotalDue: total}
	}

	usedBefore := profile.CreditUtilized
	availableBefore := profile.AvailableCredit

	creditToReplenish := req.Amount
	if profile.CreditUtilized < creditToReplenish {
		creditToReplenish = profile.CreditUtilized
	}
	profile.CreditUtilized -= creditToReplenish
	profile.AvailableCredit += creditToReplenish
	profile.OutstandingBalance -= req.Amount

	overdraftRepayment := req.Amount - creditToReplenish
	if profile.OverdraftUsed < overdraftRepayment {
		overdraftRepayment = profile.OverdraftUsed
	}
	if overdraftRepayment > 0 {
		profile.OverdraftUsed -= overdraftRepayment
	}

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

	now := time.Now()
	settled := req.Amount >= total

	if settled {
		zero := 0.0
		_, err = tx.Exec(`
			UPDATE bursar.billing_cycles
			SET total_repayments = total_repayments + $1, status = 'settled',
			    closing_balance = 0, closed_date = $2, updated_at = NOW()
			WHERE id = $3
		`, req.Amount, now, cycle.ID)
		cycle.Status = models.CycleSettled
		cycle.ClosingBalance = &zero
		cycle.ClosedDate = &now
	} else if cycle.DueDate.Before(now) {
		_, err = tx.Exec(`
			UPDATE bursar.billing_cycles
			SET total_repayments = total_repayments + $1, status = 'overdue', updated_at = NOW()
			WHERE id = $2
		`, req.Amount, cycle.ID)
		cycle.Status = models.CycleOverdue
	} else {
		_, err = tx.Exec(`
			UPDATE bursar.billing_cycles
			SET total_repayments = total_repayments + $1, updated_at = NOW()
			WHERE id = $2
		`, req.Amount, cycle.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update billing cycle: %w", err)
	}
	cycle.TotalRepayments += req.Amount

	txID := uuid.NewString()
	_, err = tx.Exec(`
		INSERT INTO bursar.credit_transactions (
			id, user_id, billing_cycle_id, type, principal_amount, total_amount,
			credit_used_before, credit_used_after, available_credit_before, available_credit_after,
			repayment_for_period, transaction_date, status
		) VALUES ($1, $2, $3, 'repayment', $4, $4, $5, $6, $7, $8, $9, $10, 'completed')
	`, txID, req.UserID, cycle.ID, req.Amount,
		usedBefore, profile.CreditUtilized, availableBefore, profile.AvailableCredit,
		cycle.CyclePeriod, now)
	if err != nil {
		return nil, fmt.Errorf("failed to record repayment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	e.logger.WithFields(logging.Fields{
		"user_id":  req.UserID,
		"amount":   req.Amount,
		"cycle_id": cycle.ID,
		"settled":  settled,
	}).Info("Repayment processed")

	transaction := &models.CreditTransaction{
		ID:                    txID,
		UserID:                req.UserID,
		BillingCycleID:        &cycle.ID,
		Type:                  models.TxRepayment,
		PrincipalAmount:       req.Amount,
		TotalAmount:           req.Amount,
		CreditUsedBefore:      &usedBefore,
		CreditUsedAfter:       &profile.CreditUtilized,
		AvailableCreditBefore: &availableBefore,
		AvailableCreditAfter:  &profile.AvailableCredit,
		RepaymentForPeriod:    &cycle.CyclePeriod,
		TransactionDate:       now,
		Status:                models.TxStatusCompleted,
	}

	return &bursarapi.RepaymentResponse{
		Transaction: transaction,
		Profile:     profile,
		Cycle:       cycle,
	}, nil
}

// lockOpenCycle locks the user's open cycle, optionally pinned to an
// explicit cycle id.
func lockOpenCycle(q querier, userID string, cycleID *string) (*models.BillingCycle, error) {
	query := `
		SELECT ` + cycleColumns + `
		FROM bursar.billing_cycles
		WHERE user_id = $1 AND status = 'open'
	`
	args := []interface{}{userID}
	if cycleID != nil {
		query += " AND id = $2"
		args = append(args, *cycleID)
	}
	query += " FOR UPDATE"

	cycle, err := scanCycle(q.QueryRow(query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoOpenCycle
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock open cycle: %w", err)
	}
	return cycle, nil
}

// ProcessRepayment applies a repayment to the user's open billing cycle
func ProcessRepayment(c middleware.Context) {
	var req bursarapi.RepaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid request body"})
		return
	}

	resp, err := ledger.ProcessRepayment(&req)
	if err != nil {
		if metrics != nil {
			metrics.Repayments.WithLabelValues("rejected").Inc()
		}
		respondError(c, err)
		return
	}

	if metrics != nil {
		metrics.Repayments.WithLabelValues("completed").Inc()
	}
	publishLedgerEvent(kafka.EventRepayment, req.UserID, resp.Transaction.ID, resp.Cycle.ID, req.Amount)
	if resp.Cycle.Status == models.CycleSettled {
		emailService.SendSettlementNotice(req.UserID, resp.Cycle.CyclePeriod, req.Amount)
	}
	c.JSON(http.StatusOK, resp)
}
