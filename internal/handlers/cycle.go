package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	bursarapi "github.com/Laudkyle/fuel-me/pkg/api/bursar"
	"github.com/Laudkyle/fuel-me/pkg/kafka"
	"github.com/Laudkyle/fuel-me/pkg/logging"
	"github.com/Laudkyle/fuel-me/pkg/middleware"
	"github.com/Laudkyle/fuel-me/pkg/models"
)

// CycleManager owns billing cycle lifecycle: get-or-create, close,
// successor creation, late penalties and history queries.
type CycleManager struct {
	db     *sql.DB
	logger logging.Logger
}

func NewCycleManager(db *sql.DB, logger logging.Logger) *CycleManager {
	return &CycleManager{db: db, logger: logger}
}

// cycleBoundaries derives the cycle window for a profile. Monthly cycles
// always end on the 20th; commercial drivers run weekly or biweekly
// windows from today.
func cycleBoundaries(category, frequency string, now time.Time) (cycleType string, start, end, due time.Time) {
	start = now

	if category == models.CategoryCommercialDriver {
		if frequency == models.FrequencyWeekly {
			cycleType = models.FrequencyWeekly
			end = now.AddDate(0, 0, 7)
		} else {
			cycleType = models.FrequencyBiweekly
			end = now.AddDate(0, 0, 14)
		}
		due = end
		return
	}

	cycleType = models.FrequencyMonthly
	end = time.Date(now.Year(), now.Month(), 20, 0, 0, 0, 0, now.Location())
	if now.Day() > 20 {
		end = end.AddDate(0, 1, 0)
	}
	due = end.AddDate(0, 0, 7)
	return
}

// successorBoundaries derives the window of the cycle that follows prev.
func successorBoundaries(prev *models.BillingCycle) (start, end, due time.Time) {
	start = prev.EndDate

	switch prev.CycleType {
	case models.FrequencyWeekly:
		end = start.AddDate(0, 0, 7)
		due = end
	case models.FrequencyBiweekly:
		end = start.AddDate(0, 0, 14)
		due = end
	default:
		// The previous cycle ended on a 20th, so the candidate end equals
		// the start; always advance to the next month's 20th.
		end = time.Date(start.Year(), start.Month(), 20, 0, 0, 0, 0, start.Location())
		if !end.After(start) {
			end = end.AddDate(0, 1, 0)
		}
		due = end.AddDate(0, 0, 7)
	}
	return
}

func cyclePeriod(end time.Time) string {
	return fmt.Sprintf("%s-%d", end.Month(), end.Year())
}

func openCycleFor(q querier, userID string) (*models.BillingCycle, error) {
	row := q.QueryRow(`
		SELECT `+cycleColumns+`
		FROM bursar.billing_cycles
		WHERE user_id = $1 AND status = 'open'
	`, userID)
	return scanCycle(row)
}

// insertOpenCycle inserts a new open cycle. The partial unique index on
// (user_id) WHERE status = 'open' turns a concurrent create into
// sql.ErrNoRows, which callers resolve by re-reading.
func insertOpenCycle(q querier, cycle *models.BillingCycle) (*models.BillingCycle, error) {
	row := q.QueryRow(`
		INSERT INTO bursar.billing_cycles (
			id, user_id, cycle_period, cycle_type, start_date, end_date, due_date,
			opening_balance, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'open')
		ON CONFLICT (user_id) WHERE status = 'open' DO NOTHING
		RETURNING `+cycleColumns+`
	`, cycle.ID, cycle.UserID, cycle.CyclePeriod, cycle.CycleType,
		cycle.StartDate, cycle.EndDate, cycle.DueDate, cycle.OpeningBalance)
	return scanCycle(row)
}

// getOrCreateForProfile returns the user's open cycle, creating one from
// the profile's category and repayment frequency if none exists. Safe to
// call concurrently: losing an insert race returns the winner's cycle.
func (m *CycleManager) getOrCreateForProfile(q querier, profile *models.AccountProfile) (*models.BillingCycle, error) {
	cycle, err := openCycleFor(q, profile.UserID)
	if err == nil {
		return cycle, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up open cycle: %w", err)
	}

	cycleType, start, end, due := cycleBoundaries(profile.Category, profile.RepaymentFrequency, time.Now())

	created, err := insertOpenCycle(q, &models.BillingCycle{
		ID:             uuid.NewString(),
		UserID:         profile.UserID,
		CyclePeriod:    cyclePeriod(end),
		CycleType:      cycleType,
		StartDate:      start,
		EndDate:        end,
		DueDate:        due,
		OpeningBalance: profile.OutstandingBalance,
	})
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the race; someone else opened the cycle first.
		cycle, err = openCycleFor(q, profile.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to re-read open cycle after conflict: %w", err)
		}
		return cycle, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create billing cycle: %w", err)
	}
	return created, nil
}

// GetOrCreate returns the open billing cycle for a user, creating it if
// absent.
func (m *CycleManager) GetOrCreate(userID string) (*models.BillingCycle, error) {
	profile, err := getProfile(m.db, userID)
	if err != nil {
		return nil, err
	}
	return m.getOrCreateForProfile(m.db, profile)
}

// Close closes a cycle still accumulating: stamps the closing balance
// and, for monthly cycles, opens the successor carrying the closing
// balance forward. Overdue cycles close like open ones; only a cycle
// that was already closed or settled is rejected. The two steps commit
// together but are observable as two cycles.
func (m *CycleManager) Close(cycleID string) (*bursarapi.CloseCycleResponse, error) {
	tx, err := m.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	cycle, err := lockCycle(tx, cycleID)
	if err != nil {
		return nil, err
	}
	switch {
	case cycle.Status == models.CycleClosed, cycle.Status == models.CycleSettled:
		return nil, &TerminalStateError{Entity: "billing cycle", State: cycle.Status}
	case cycle.ClosedDate != nil:
		// Went overdue after closing; the close itself already happened.
		return nil, &TerminalStateError{Entity: "billing cycle", State: models.CycleClosed}
	}

	closingBalance := cycle.OpeningBalance + cycle.TotalPurchases - cycle.TotalRepayments +
		cycle.TotalInterestCharged + cycle.TotalPenalties
	now := time.Now()

	_, err = tx.Exec(`
		UPDATE bursar.billing_cycles
		SET status = 'closed', closing_balance = $1, closed_date = $2, updated_at = NOW()
		WHERE id = $3
	`, closingBalance, now, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to close billing cycle: %w", err)
	}

	cycle.Status = models.CycleClosed
	cycle.ClosingBalance = &closingBalance
	cycle.ClosedDate = &now

	resp := &bursarapi.CloseCycleResponse{Cycle: cycle}

	if cycle.CycleType == models.FrequencyMonthly {
		next, err := m.openSuccessor(tx, cycle, closingBalance)
		if err != nil {
			return nil, err
		}
		resp.NextCycle = next
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	m.logger.WithFields(logging.Fields{
		"cycle_id":        cycleID,
		"user_id":         cycle.UserID,
		"closing_balance": closingBalance,
	}).Info("Billing cycle closed")

	return resp, nil
}

// OpenNext explicitly opens the successor of a closed cycle. Returns the
// existing open cycle if one was already created.
func (m *CycleManager) OpenNext(cycleID string) (*models.BillingCycle, error) {
	tx, err := m.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	cycle, err := lockCycle(tx, cycleID)
	if err != nil {
		return nil, err
	}
	if cycle.Status == models.CycleOpen {
		return nil, &ValidationError{Field: "cycle", Reason: "must be closed before opening a successor"}
	}

	openingBalance := cycle.OpeningBalance + cycle.TotalPurchases - cycle.TotalRepayments +
		cycle.TotalInterestCharged + cycle.TotalPenalties
	if cycle.ClosingBalance != nil {
		openingBalance = *cycle.ClosingBalance
	}

	next, err := m.openSuccessor(tx, cycle, openingBalance)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return next, nil
}

func (m *CycleManager) openSuccessor(q querier, prev *models.BillingCycle, openingBalance float64) (*models.BillingCycle, error) {
	start, end, due := successorBoundaries(prev)

	next, err := insertOpenCycle(q, &models.BillingCycle{
		ID:             uuid.NewString(),
		UserID:         prev.UserID,
		CyclePeriod:    cyclePeriod(end),
		CycleType:      prev.CycleType,
		StartDate:      start,
		EndDate:        end,
		DueDate:        due,
		OpeningBalance: openingBalance,
	})
	if errors.Is(err, sql.ErrNoRows) {
		existing, err := openCycleFor(q, prev.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to re-read open cycle after conflict: %w", err)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open successor cycle: %w", err)
	}
	return next, nil
}

// ApplyLatePenalty charges 2% of the outstanding balance on a cycle past
// its due date and marks it overdue. The penalty is charged at most
// once per cycle: a non-zero total_penalties means it already happened
// and the call fails without touching state. The overdue status alone
// is not the marker, since a late partial repayment also sets it.
func (m *CycleManager) ApplyLatePenalty(cycleID string) (*bursarapi.PenaltyResponse, error) {
	tx, err := m.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	cycle, err := lockCycle(tx, cycleID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if cycle.Status == models.CycleSettled {
		return nil, &TerminalStateError{Entity: "billing cycle", State: cycle.Status}
	}
	if cycle.TotalPenalties > 0 {
		return nil, &TerminalStateError{Entity: "billing cycle penalty", State: "applied"}
	}
	if !cycle.DueDate.Before(now) {
		return nil, ErrCycleNotOverdue
	}

	outstanding := cycle.OpeningBalance + cycle.TotalPurchases - cycle.TotalRepayments +
		cycle.TotalInterestCharged
	if cycle.ClosingBalance != nil {
		outstanding = *cycle.ClosingBalance
	}
	penalty := outstanding * models.LatePenaltyRate

	txID := uuid.NewString()
	_, err = tx.Exec(`
		INSERT INTO bursar.credit_transactions (
			id, user_id, billing_cycle_id, type, principal_amount, penalty_amount, total_amount, status
		) VALUES ($1, $2, $3, 'penalty', $4, $4, $4, 'completed')
	`, txID, cycle.UserID, cycle.ID, penalty)
	if err != nil {
		return nil, fmt.Errorf("failed to record penalty transaction: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE bursar.billing_cycles
		SET total_penalties = total_penalties + $1, status = 'overdue', updated_at = NOW()
		WHERE id = $2
	`, penalty, cycle.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update billing cycle: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE bursar.account_profiles
		SET outstanding_balance = outstanding_balance + $1, updated_at = NOW()
		WHERE user_id = $2 AND deleted_at IS NULL
	`, penalty, cycle.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to update profile balance: %w", err)
	}

	// Carry the penalty onto the schedule if one was generated already.
	_, err = tx.Exec(`
		UPDATE bursar.repayment_schedules
		SET penalty_due = penalty_due + $1,
		    total_amount_due = total_amount_due + $1,
		    minimum_amount_due = (total_amount_due + $1) * $2,
		    status = CASE WHEN amount_paid >= minimum_amount_due THEN status ELSE 'overdue' END,
		    updated_at = NOW()
		WHERE billing_cycle_id = $3
	`, penalty, models.MinimumDueFraction, cycle.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update repayment schedule: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	cycle.TotalPenalties += penalty
	cycle.Status = models.CycleOverdue

	m.logger.WithFields(logging.Fields{
		"cycle_id": cycle.ID,
		"user_id":  cycle.UserID,
		"penalty":  penalty,
	}).Info("Late payment penalty applied")

	return &bursarapi.PenaltyResponse{
		Cycle:   cycle,
		Penalty: penalty,
		Transaction: &models.CreditTransaction{
			ID:              txID,
			UserID:          cycle.UserID,
			BillingCycleID:  &cycle.ID,
			Type:            models.TxPenalty,
			PrincipalAmount: penalty,
			PenaltyAmount:   penalty,
			TotalAmount:     penalty,
			Status:          models.TxStatusCompleted,
		},
	}, nil
}

// History lists past cycles for a user, newest first.
func (m *CycleManager) History(userID, status string, limit int) ([]*models.BillingCycle, error) {
	query := `
		SELECT ` + cycleColumns + `
		FROM bursar.billing_cycles
		WHERE user_id = $1
	`
	args := []interface{}{userID}
	if status != "" {
		query += " AND status = $2"
		args = append(args, status)
	}
	query += fmt.Sprintf(" ORDER BY start_date DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := m.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query billing cycles: %w", err)
	}
	defer rows.Close()

	var result []*models.BillingCycle
	for rows.Next() {
		cycle, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan billing cycle: %w", err)
		}
		result = append(result, cycle)
	}
	return result, rows.Err()
}

func lockCycle(q querier, cycleID string) (*models.BillingCycle, error) {
	row := q.QueryRow(`
		SELECT `+cycleColumns+`
		FROM bursar.billing_cycles
		WHERE id = $1
		FOR UPDATE
	`, cycleID)

	cycle, err := scanCycle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCycleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock billing cycle: %w", err)
	}
	return cycle, nil
}

// HTTP handlers

// GetOrCreateBillingCycle returns the user's open cycle, creating it if needed
func GetOrCreateBillingCycle(c middleware.Context) {
	var req bursarapi.GetOrCreateCycleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "user_id is required"})
		return
	}

	cycle, err := cycles.GetOrCreate(req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	if metrics != nil {
		metrics.CycleOperations.WithLabelValues("get_or_create", "success").Inc()
	}
	c.JSON(http.StatusOK, cycle)
}

// CloseBillingCycle closes a cycle and opens the monthly successor
func CloseBillingCycle(c middleware.Context) {
	resp, err := cycles.Close(c.Param("cycle_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if metrics != nil {
		metrics.CycleOperations.WithLabelValues("close", "success").Inc()
	}
	closing := 0.0
	if resp.Cycle.ClosingBalance != nil {
		closing = *resp.Cycle.ClosingBalance
	}
	publishLedgerEvent(kafka.EventCycleClosed, resp.Cycle.UserID, "", resp.Cycle.ID, closing)
	c.JSON(http.StatusOK, resp)
}

// OpenNextBillingCycle explicitly opens the successor of a closed cycle
func OpenNextBillingCycle(c middleware.Context) {
	next, err := cycles.OpenNext(c.Param("cycle_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if metrics != nil {
		metrics.CycleOperations.WithLabelValues("open_next", "success").Inc()
	}
	c.JSON(http.StatusOK, next)
}

// ApplyLatePenalty charges the late payment penalty on an overdue cycle
func ApplyLatePenalty(c middleware.Context) {
	resp, err := cycles.ApplyLatePenalty(c.Param("cycle_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if metrics != nil {
		metrics.Penalties.WithLabelValues("late_payment").Inc()
	}
	publishLedgerEvent(kafka.EventPenalty, resp.Cycle.UserID, resp.Transaction.ID, resp.Cycle.ID, resp.Penalty)
	emailService.SendPenaltyNotice(resp.Cycle.UserID, resp.Cycle.CyclePeriod, resp.Penalty)
	c.JSON(http.StatusOK, resp)
}

// GetBillingCycleHistory lists past billing cycles for a user
func GetBillingCycleHistory(c middleware.Context) {
	userID := c.Param("user_id")
	status := c.DefaultQuery("status", "")
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit <= 0 {
		limit = 10
	}

	history, err := cycles.History(userID, status, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bursarapi.CycleHistoryResponse{Cycles: history, Count: len(history)})
}

// GetCurrentBillingCycle returns the open cycle plus live due figures
func GetCurrentBillingCycle(c middleware.Context) {
	userID := c.Param("user_id")

	cycle, err := openCycleFor(db, userID)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(c, ErrNoOpenCycle)
		return
	}
	if err != nil {
		respondError(c, fmt.Errorf("failed to look up open cycle: %w", err))
		return
	}

	_, _, total, err := totalDue(db, userID, cycle.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	daysLeft := int(time.Until(cycle.EndDate).Hours() / 24)
	if daysLeft < 0 {
		daysLeft = 0
	}

	c.JSON(http.StatusOK, bursarapi.CycleSummaryResponse{
		Cycle:      cycle,
		TotalDue:   total,
		MinimumDue: total * models.MinimumDueFraction,
		DaysLeft:   daysLeft,
	})
}
