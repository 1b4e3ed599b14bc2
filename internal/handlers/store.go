package handlers

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/Laudkyle/fuel-me/pkg/models"
)

// Column lists shared between scan helpers and the queries that feed them.
const (
	profileColumns = `id, user_id, name, category, repayment_frequency, credit_limit, available_credit,
		credit_utilized, outstanding_balance, overdraft_enabled, overdraft_limit, overdraft_used,
		interest_rate, overdraft_interest_rate, penalty_interest_rate, grace_period_days, hard_limit,
		created_at, updated_at`

	cycleColumns = `id, user_id, cycle_period, cycle_type, start_date, end_date, due_date, closed_date,
		opening_balance, total_purchases, total_repayments, total_interest_charged, total_penalties,
		overdraft_used, closing_balance, status, created_at, updated_at`

	transactionColumns = `id, user_id, billing_cycle_id, request_id, station_id, agent_id, car_id, type,
		fuel_liters, fuel_type, fuel_cost_per_liter, principal_amount, interest_amount, penalty_amount,
		total_amount, credit_used_before, credit_used_after, available_credit_before, available_credit_after,
		is_overdraft, grace_period_applies, interest_start_date, repayment_for_period, transaction_date, status`

	scheduleColumns = `id, user_id, billing_cycle_id, due_date, total_amount_due, minimum_amount_due,
		principal_due, interest_due, penalty_due, amount_paid, last_payment_date, status, created_at, updated_at`

	requestColumns = `id, user_id, station_id, agent_id, car_id, fuel_liters, fuel_type, amount, status,
		decline_reason, credit_transaction_id, requested_at, updated_at`
)

func scanProfile(s rowScanner) (*models.AccountProfile, error) {
	var p models.AccountProfile
	var hardLimit sql.NullFloat64

	err := s.Scan(&p.ID, &p.UserID, &p.Name, &p.Category, &p.RepaymentFrequency, &p.CreditLimit,
		&p.AvailableCredit, &p.CreditUtilized, &p.OutstandingBalance, &p.OverdraftEnabled,
		&p.OverdraftLimit, &p.OverdraftUsed, &p.InterestRate, &p.OverdraftInterestRate,
		&p.PenaltyInterestRate, &p.GracePeriodDays, &hardLimit, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if hardLimit.Valid {
		p.HardLimit = &hardLimit.Float64
	}
	return &p, nil
}

func scanCycle(s rowScanner) (*models.BillingCycle, error) {
	var c models.BillingCycle
	var closedDate sql.NullTime
	var closingBalance sql.NullFloat64

	err := s.Scan(&c.ID, &c.UserID, &c.CyclePeriod, &c.CycleType, &c.StartDate, &c.EndDate, &c.DueDate,
		&closedDate, &c.OpeningBalance, &c.TotalPurchases, &c.TotalRepayments, &c.TotalInterestCharged,
		&c.TotalPenalties, &c.OverdraftUsed, &closingBalance, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if closedDate.Valid {
		c.ClosedDate = &closedDate.Time
	}
	if closingBalance.Valid {
		c.ClosingBalance = &closingBalance.Float64
	}
	return &c, nil
}

func scanTransaction(s rowScanner) (*models.CreditTransaction, error) {
	var t models.CreditTransaction
	var cycleID, requestID, stationID, agentID, carID, fuelType, forPeriod sql.NullString
	var liters, costPerLiter, usedBefore, usedAfter, availBefore, availAfter sql.NullFloat64
	var interestStart sql.NullTime

	err := s.Scan(&t.ID, &t.UserID, &cycleID, &requestID, &stationID, &agentID, &carID, &t.Type,
		&liters, &fuelType, &costPerLiter, &t.PrincipalAmount, &t.InterestAmount, &t.PenaltyAmount,
		&t.TotalAmount, &usedBefore, &usedAfter, &availBefore, &availAfter, &t.IsOverdraft,
		&t.GracePeriodApplies, &interestStart, &forPeriod, &t.TransactionDate, &t.Status)
	if err != nil {
		return nil, err
	}

	t.BillingCycleID = nullString(cycleID)
	t.RequestID = nullString(requestID)
	t.StationID = nullString(stationID)
	t.AgentID = nullString(agentID)
	t.CarID = nullString(carID)
	t.FuelType = nullString(fuelType)
	t.RepaymentForPeriod = nullString(forPeriod)
	t.FuelLiters = nullFloat(liters)
	t.FuelCostPerLiter = nullFloat(costPerLiter)
	t.CreditUsedBefore = nullFloat(usedBefore)
	t.CreditUsedAfter = nullFloat(usedAfter)
	t.AvailableCreditBefore = nullFloat(availBefore)
	t.AvailableCreditAfter = nullFloat(availAfter)
	if interestStart.Valid {
		t.InterestStartDate = &interestStart.Time
	}
	return &t, nil
}

func scanSchedule(s rowScanner) (*models.RepaymentSchedule, error) {
	var sc models.RepaymentSchedule
	var lastPayment sql.NullTime

	err := s.Scan(&sc.ID, &sc.UserID, &sc.BillingCycleID, &sc.DueDate, &sc.TotalAmountDue,
		&sc.MinimumAmountDue, &sc.PrincipalDue, &sc.InterestDue, &sc.PenaltyDue, &sc.AmountPaid,
		&lastPayment, &sc.Status, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastPayment.Valid {
		sc.LastPaymentDate = &lastPayment.Time
	}
	return &sc, nil
}

func scanRequest(s rowScanner) (*models.FuelRequest, error) {
	var r models.FuelRequest
	var stationID, agentID, carID, reason, txID sql.NullString

	err := s.Scan(&r.ID, &r.UserID, &stationID, &agentID, &carID, &r.FuelLiters, &r.FuelType,
		&r.Amount, &r.Status, &reason, &txID, &r.RequestedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.StationID = nullString(stationID)
	r.AgentID = nullString(agentID)
	r.CarID = nullString(carID)
	r.DeclineReason = nullString(reason)
	r.CreditTransactionID = nullString(txID)
	return &r, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

// lockProfile reads a profile row FOR UPDATE so balance mutations in the
// same transaction cannot race.
func lockProfile(q querier, userID string) (*models.AccountProfile, error) {
	row := q.QueryRow(`
		SELECT `+profileColumns+`
		FROM bursar.account_profiles
		WHERE user_id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, userID)

	profile, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock profile: %w", err)
	}
	return profile, nil
}

func getProfile(q querier, userID string) (*models.AccountProfile, error) {
	row := q.QueryRow(`
		SELECT `+profileColumns+`
		FROM bursar.account_profiles
		WHERE user_id = $1 AND deleted_at IS NULL
	`, userID)

	profile, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return profile, nil
}
