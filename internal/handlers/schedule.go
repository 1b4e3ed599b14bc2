package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	bursarapi "github.com/Laudkyle/fuel-me/pkg/api/bursar"
	"github.com/Laudkyle/fuel-me/pkg/logging"
	"github.com/Laudkyle/fuel-me/pkg/middleware"
	"github.com/Laudkyle/fuel-me/pkg/models"
)

// ScheduleManager generates repayment schedules from closed cycles and
// applies payments against them.
type ScheduleManager struct {
	db     *sql.DB
	logger logging.Logger
}

func NewScheduleManager(db *sql.DB, logger logging.Logger) *ScheduleManager {
	return &ScheduleManager{db: db, logger: logger}
}

// CreateFromCycle generates the schedule for a cycle. One schedule per
// cycle; a second call returns the existing schedule unchanged, even if
// the cycle mutated afterward.
func (m *ScheduleManager) CreateFromCycle(cycleID string) (*models.RepaymentSchedule, error) {
	tx, err := m.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	cycle, err := lockCycle(tx, cycleID)
	if err != nil {
		return nil, err
	}

	if _, err := getProfile(tx, cycle.UserID); err != nil {
		return nil, err
	}

	total := cycle.TotalPurchases + cycle.TotalInterestCharged + cycle.TotalPenalties - cycle.TotalRepayments
	minimum := total * models.MinimumDueFraction

	principalDue := cycle.TotalPurchases - cycle.TotalRepayments
	if principalDue < 0 {
		principalDue = 0
	}

	status := models.SchedulePending
	if total <= 0 {
		status = models.SchedulePaid
	}

	row := tx.QueryRow(`
		INSERT INTO bursar.repayment_schedules (
			id, user_id, billing_cycle_id, due_date, total_amount_due, minimum_amount_due,
			principal_due, interest_due, penalty_due, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (billing_cycle_id) DO NOTHING
		RETURNING `+scheduleColumns+`
	`, uuid.NewString(), cycle.UserID, cycle.ID, cycle.DueDate, total, minimum,
		principalDue, cycle.TotalInterestCharged, cycle.TotalPenalties, status)

	schedule, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		schedule, err = scheduleForCycle(tx, cycle.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load existing schedule: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to create repayment schedule: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	m.logger.WithFields(logging.Fields{
		"cycle_id":    cycleID,
		"schedule_id": schedule.ID,
		"total_due":   schedule.TotalAmountDue,
	}).Info("Repayment schedule ready")

	return schedule, nil
}

// ApplyPayment records a payment against a schedule and derives the new
// status from the amounts: paid at the full total, partially paid at the
// minimum, overdue past the due date below the minimum.
func (m *ScheduleManager) ApplyPayment(scheduleID string, amountPaid float64, when time.Time) (*models.RepaymentSchedule, error) {
	if amountPaid <= 0 {
		return nil, &ValidationError{Field: "amount_paid", Reason: "must be positive"}
	}

	tx, err := m.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	row := tx.QueryRow(`
		SELECT `+scheduleColumns+`
		FROM bursar.repayment_schedules
		WHERE id = $1
		FOR UPDATE
	`, scheduleID)

	schedule, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock schedule: %w", err)
	}

	schedule.AmountPaid += amountPaid
	schedule.LastPaymentDate = &when
	schedule.Status = deriveScheduleStatus(schedule, when)

	_, err = tx.Exec(`
		UPDATE bursar.repayment_schedules
		SET amount_paid = $1, last_payment_date = $2, status = $3, updated_at = NOW()
		WHERE id = $4
	`, schedule.AmountPaid, when, schedule.Status, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to update schedule: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return schedule, nil
}

// deriveScheduleStatus maps paid amounts to a schedule status. The status
// never regresses from the thresholds; below both thresholds it only
// moves to overdue once the due date passes.
func deriveScheduleStatus(s *models.RepaymentSchedule, now time.Time) string {
	switch {
	case s.AmountPaid >= s.TotalAmountDue:
		return models.SchedulePaid
	case s.AmountPaid >= s.MinimumAmountDue:
		return models.SchedulePartiallyPaid
	case now.After(s.DueDate):
		return models.ScheduleOverdue
	default:
		return s.Status
	}
}

// ListByUser returns a user's schedules, newest due date first.
func (m *ScheduleManager) ListByUser(userID string) ([]*models.RepaymentSchedule, error) {
	rows, err := m.db.Query(`
		SELECT `+scheduleColumns+`
		FROM bursar.repayment_schedules
		WHERE user_id = $1
		ORDER BY due_date DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	var result []*models.RepaymentSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// Get returns one schedule by id.
func (m *ScheduleManager) Get(scheduleID string) (*models.RepaymentSchedule, error) {
	row := m.db.QueryRow(`
		SELECT `+scheduleColumns+`
		FROM bursar.repayment_schedules
		WHERE id = $1
	`, scheduleID)

	schedule, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule: %w", err)
	}
	return schedule, nil
}

func scheduleForCycle(q querier, cycleID string) (*models.RepaymentSchedule, error) {
	row := q.QueryRow(`
		SELECT `+scheduleColumns+`
		FROM bursar.repayment_schedules
		WHERE billing_cycle_id = $1
	`, cycleID)
	return scanSchedule(row)
}

// HTTP handlers

// CreateScheduleFromCycle generates the repayment schedule for a cycle
func CreateScheduleFromCycle(c middleware.Context) {
	var req bursarapi.ScheduleFromCycleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.BillingCycleID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "billing_cycle_id is required"})
		return
	}

	schedule, err := schedules.CreateFromCycle(req.BillingCycleID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, schedule)
}

// UpdateScheduleStatus applies a payment to a schedule
func UpdateScheduleStatus(c middleware.Context) {
	var req bursarapi.ScheduleStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid request body"})
		return
	}

	when := time.Now()
	if req.PaymentDate != nil {
		when = *req.PaymentDate
	}

	schedule, err := schedules.ApplyPayment(c.Param("schedule_id"), req.AmountPaid, when)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, schedule)
}

// GetUserSchedules lists a user's repayment schedules
func GetUserSchedules(c middleware.Context) {
	result, err := schedules.ListByUser(c.Param("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetSchedule returns a single repayment schedule
func GetSchedule(c middleware.Context) {
	schedule, err := schedules.Get(c.Param("schedule_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, schedule)
}
