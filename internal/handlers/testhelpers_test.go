package handlers

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/Laudkyle/fuel-me/pkg/logging"
	"github.com/Laudkyle/fuel-me/pkg/models"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return db, mock
}

func testLogger() logging.Logger {
	return logging.NewLogger()
}

var profileCols = []string{
	"id", "user_id", "name", "category", "repayment_frequency", "credit_limit", "available_credit",
	"credit_utilized", "outstanding_balance", "overdraft_enabled", "overdraft_limit", "overdraft_used",
	"interest_rate", "overdraft_interest_rate", "penalty_interest_rate", "grace_period_days", "hard_limit",
	"created_at", "updated_at",
}

var cycleCols = []string{
	"id", "user_id", "cycle_period", "cycle_type", "start_date", "end_date", "due_date", "closed_date",
	"opening_balance", "total_purchases", "total_repayments", "total_interest_charged", "total_penalties",
	"overdraft_used", "closing_balance", "status", "created_at", "updated_at",
}

var scheduleCols = []string{
	"id", "user_id", "billing_cycle_id", "due_date", "total_amount_due", "minimum_amount_due",
	"principal_due", "interest_due", "penalty_due", "amount_paid", "last_payment_date", "status",
	"created_at", "updated_at",
}

var requestCols = []string{
	"id", "user_id", "station_id", "agent_id", "car_id", "fuel_liters", "fuel_type", "amount", "status",
	"decline_reason", "credit_transaction_id", "requested_at", "updated_at",
}

func profileRow(p *models.AccountProfile) *sqlmock.Rows {
	var hardLimit interface{}
	if p.HardLimit != nil {
		hardLimit = *p.HardLimit
	}
	return sqlmock.NewRows(profileCols).AddRow(
		p.ID, p.UserID, p.Name, p.Category, p.RepaymentFrequency, p.CreditLimit, p.AvailableCredit,
		p.CreditUtilized, p.OutstandingBalance, p.OverdraftEnabled, p.OverdraftLimit, p.OverdraftUsed,
		p.InterestRate, p.OverdraftInterestRate, p.PenaltyInterestRate, p.GracePeriodDays, hardLimit,
		time.Now(), time.Now(),
	)
}

func cycleRow(c *models.BillingCycle) *sqlmock.Rows {
	var closedDate, closingBalance interface{}
	if c.ClosedDate != nil {
		closedDate = *c.ClosedDate
	}
	if c.ClosingBalance != nil {
		closingBalance = *c.ClosingBalance
	}
	return sqlmock.NewRows(cycleCols).AddRow(
		c.ID, c.UserID, c.CyclePeriod, c.CycleType, c.StartDate, c.EndDate, c.DueDate, closedDate,
		c.OpeningBalance, c.TotalPurchases, c.TotalRepayments, c.TotalInterestCharged, c.TotalPenalties,
		c.OverdraftUsed, closingBalance, c.Status, time.Now(), time.Now(),
	)
}

func scheduleRow(s *models.RepaymentSchedule) *sqlmock.Rows {
	var lastPayment interface{}
	if s.LastPaymentDate != nil {
		lastPayment = *s.LastPaymentDate
	}
	return sqlmock.NewRows(scheduleCols).AddRow(
		s.ID, s.UserID, s.BillingCycleID, s.DueDate, s.TotalAmountDue, s.MinimumAmountDue,
		s.PrincipalDue, s.InterestDue, s.PenaltyDue, s.AmountPaid, lastPayment, s.Status,
		time.Now(), time.Now(),
	)
}

func requestRow(r *models.FuelRequest) *sqlmock.Rows {
	var stationID, agentID, carID, reason, txID interface{}
	if r.StationID != nil {
		stationID = *r.StationID
	}
	if r.AgentID != nil {
		agentID = *r.AgentID
	}
	if r.CarID != nil {
		carID = *r.CarID
	}
	if r.DeclineReason != nil {
		reason = *r.DeclineReason
	}
	if r.CreditTransactionID != nil {
		txID = *r.CreditTransactionID
	}
	return sqlmock.NewRows(requestCols).AddRow(
		r.ID, r.UserID, stationID, agentID, carID, r.FuelLiters, r.FuelType, r.Amount, r.Status,
		reason, txID, time.Now(), time.Now(),
	)
}

// standardProfile is the 1500-limit profile most scenarios start from.
func standardProfile() *models.AccountProfile {
	return &models.AccountProfile{
		ID:                    "profile-1",
		UserID:                "user-1",
		Name:                  "Kwame Mensah",
		Category:              models.CategoryCivilWorker,
		RepaymentFrequency:    models.FrequencyMonthly,
		CreditLimit:           1500,
		AvailableCredit:       1500,
		CreditUtilized:        0,
		OutstandingBalance:    0,
		OverdraftEnabled:      false,
		InterestRate:          0.05,
		OverdraftInterestRate: 0.07,
		PenaltyInterestRate:   0.02,
	}
}

func openCycle() *models.BillingCycle {
	start := time.Date(2026, time.July, 21, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, time.August, 20, 0, 0, 0, 0, time.UTC)
	return &models.BillingCycle{
		ID:          "cycle-1",
		UserID:      "user-1",
		CyclePeriod: "August-2026",
		CycleType:   models.FrequencyMonthly,
		StartDate:   start,
		EndDate:     end,
		DueDate:     end.AddDate(0, 0, 7),
		Status:      models.CycleOpen,
	}
}

func expectMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
