package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"

	bursarapi "github.com/Laudkyle/fuel-me/pkg/api/bursar"
	"github.com/Laudkyle/fuel-me/pkg/kafka"
	"github.com/Laudkyle/fuel-me/pkg/logging"
	"github.com/Laudkyle/fuel-me/pkg/middleware"
	"github.com/Laudkyle/fuel-me/pkg/models"
)

// daysPerMonth converts a monthly rate to a daily one. Deliberately not a
// calendar-accurate day count; downstream figures depend on the /30
// convention.
const daysPerMonth = 30

// InterestEngine charges interest on the fuel purchases of a billing
// cycle. Idempotent per (purchase, cycle): purchases that already have a
// calculation row for the cycle are skipped, and the cycle total is the
// sum over calculation rows, so re-runs converge instead of compounding.
type InterestEngine struct {
	db     *sql.DB
	logger logging.Logger
}

func NewInterestEngine(db *sql.DB, logger logging.Logger) *InterestEngine {
	return &InterestEngine{db: db, logger: logger}
}

type pendingPurchase struct {
	id              string
	principal       float64
	isOverdraft     bool
	transactionDate time.Time
	interestStart   time.Time
}

// Calculate runs one interest pass over a cycle.
func (e *InterestEngine) Calculate(cycleID string) (*bursarapi.InterestRunResponse, error) {
	tx, err := e.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	cycle, err := lockCycle(tx, cycleID)
	if err != nil {
		return nil, err
	}

	var standardRate, overdraftRate float64
	err = tx.QueryRow(`
		SELECT interest_rate, overdraft_interest_rate
		FROM bursar.account_profiles
		WHERE user_id = $1 AND deleted_at IS NULL
	`, cycle.UserID).Scan(&standardRate, &overdraftRate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile rates: %w", err)
	}

	var alreadyCharged int
	err = tx.QueryRow(`
		SELECT COUNT(*) FROM bursar.interest_calculations WHERE billing_cycle_id = $1
	`, cycleID).Scan(&alreadyCharged)
	if err != nil {
		return nil, fmt.Errorf("failed to count existing calculations: %w", err)
	}

	pending, err := uncalculatedPurchases(tx, cycleID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var calculations []*models.InterestCalculation
	var inGrace int

	for _, p := range pending {
		if p.interestStart.After(now) {
			// Still inside the grace period.
			inGrace++
			continue
		}

		start := p.interestStart
		if p.transactionDate.After(start) {
			start = p.transactionDate
		}
		days := int(math.Ceil(cycle.EndDate.Sub(start).Hours() / 24))
		if days <= 0 {
			// Accrual starts after the cycle window ends.
			inGrace++
			continue
		}

		rate := standardRate
		if p.isOverdraft {
			rate = overdraftRate
		}
		dailyRate := rate / daysPerMonth
		interest := p.principal * dailyRate * float64(days)

		calc := &models.InterestCalculation{
			ID:                  uuid.NewString(),
			UserID:              cycle.UserID,
			TransactionID:       p.id,
			BillingCycleID:      cycleID,
			PrincipalAmount:     p.principal,
			DailyInterestRate:   dailyRate,
			DaysOutstanding:     days,
			CalculatedInterest:  interest,
			TransactionDate:     p.transactionDate,
			InterestStartDate:   p.interestStart,
			IsOverdraftInterest: p.isOverdraft,
			GracePeriodApplied:  true,
		}

		_, err = tx.Exec(`
			INSERT INTO bursar.interest_calculations (
				id, user_id, transaction_id, billing_cycle_id, principal_amount,
				daily_interest_rate, days_outstanding, calculated_interest,
				transaction_date, interest_start_date, is_overdraft_interest, grace_period_applied
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, TRUE)
			ON CONFLICT (transaction_id, billing_cycle_id) DO NOTHING
		`, calc.ID, calc.UserID, calc.TransactionID, calc.BillingCycleID, calc.PrincipalAmount,
			calc.DailyInterestRate, calc.DaysOutstanding, calc.CalculatedInterest,
			calc.TransactionDate, calc.InterestStartDate, calc.IsOverdraftInterest)
		if err != nil {
			return nil, fmt.Errorf("failed to record interest calculation: %w", err)
		}

		_, err = tx.Exec(`
			UPDATE bursar.credit_transactions
			SET interest_amount = $1, total_amount = principal_amount + $1
			WHERE id = $2
		`, interest, p.id)
		if err != nil {
			return nil, fmt.Errorf("failed to back-fill purchase interest: %w", err)
		}

		calculations = append(calculations, calc)
	}

	var totalInterest float64
	err = tx.QueryRow(`
		SELECT COALESCE(SUM(calculated_interest), 0)
		FROM bursar.interest_calculations
		WHERE billing_cycle_id = $1
	`, cycleID).Scan(&totalInterest)
	if err != nil {
		return nil, fmt.Errorf("failed to total interest: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE bursar.billing_cycles
		SET total_interest_charged = $1, updated_at = NOW()
		WHERE id = $2
	`, totalInterest, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to update cycle interest: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	e.logger.WithFields(logging.Fields{
		"cycle_id":       cycleID,
		"total_interest": totalInterest,
		"charged":        len(calculations),
		"skipped":        alreadyCharged,
		"in_grace":       inGrace,
	}).Info("Interest calculated")

	return &bursarapi.InterestRunResponse{
		BillingCycleID:   cycleID,
		UserID:           cycle.UserID,
		TotalInterest:    totalInterest,
		PurchasesCharged: len(calculations),
		PurchasesSkipped: alreadyCharged,
		PurchasesInGrace: inGrace,
		Calculations:     calculations,
	}, nil
}

// uncalculatedPurchases lists the cycle's completed fuel purchases that
// have no interest calculation row for the cycle yet.
func uncalculatedPurchases(q querier, cycleID string) ([]pendingPurchase, error) {
	rows, err := q.Query(`
		SELECT t.id, t.principal_amount, t.is_overdraft, t.transaction_date,
		       COALESCE(t.interest_start_date, t.transaction_date)
		FROM bursar.credit_transactions t
		WHERE t.billing_cycle_id = $1 AND t.type = 'fuel_purchase' AND t.status = 'completed'
		  AND NOT EXISTS (
			SELECT 1 FROM bursar.interest_calculations ic
			WHERE ic.transaction_id = t.id AND ic.billing_cycle_id = $1
		  )
		ORDER BY t.transaction_date
	`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchases: %w", err)
	}
	defer rows.Close()

	var pending []pendingPurchase
	for rows.Next() {
		var p pendingPurchase
		if err := rows.Scan(&p.id, &p.principal, &p.isOverdraft, &p.transactionDate, &p.interestStart); err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// CalculateInterest runs interest accrual for a billing cycle
func CalculateInterest(c middleware.Context) {
	resp, err := interestEng.Calculate(c.Param("cycle_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if metrics != nil {
		metrics.InterestRuns.WithLabelValues("success").Inc()
	}
	publishLedgerEvent(kafka.EventInterestCharge, resp.UserID, "", resp.BillingCycleID, resp.TotalInterest)
	c.JSON(http.StatusOK, resp)
}
