package models

import (
	"time"
)

// Billing cycle statuses
const (
	CycleOpen    = "open"
	CycleClosed  = "closed"
	CycleOverdue = "overdue"
	CycleSettled = "settled"
)

// Repayment schedule statuses
const (
	SchedulePending       = "pending"
	SchedulePartiallyPaid = "partially_paid"
	SchedulePaid          = "paid"
	ScheduleOverdue       = "overdue"
)

// MinimumDueFraction of the total due that a repayment against a closed
// cycle must cover at minimum.
const MinimumDueFraction = 0.10

// LatePenaltyRate is applied once to the outstanding balance when a
// closed cycle goes overdue.
const LatePenaltyRate = 0.02

// BillingCycle is the bounded accumulation window for credit activity.
// At most one open cycle exists per user, enforced by a partial unique
// index on (user_id) WHERE status = 'open'.
type BillingCycle struct {
	ID                   string     `json:"id" db:"id"`
	UserID               string     `json:"user_id" db:"user_id"`
	CyclePeriod          string     `json:"cycle_period" db:"cycle_period"`
	CycleType            string     `json:"cycle_type" db:"cycle_type"`
	StartDate            time.Time  `json:"start_date" db:"start_date"`
	EndDate              time.Time  `json:"end_date" db:"end_date"`
	DueDate              time.Time  `json:"due_date" db:"due_date"`
	ClosedDate           *time.Time `json:"closed_date,omitempty" db:"closed_date"`
	OpeningBalance       float64    `json:"opening_balance" db:"opening_balance"`
	TotalPurchases       float64    `json:"total_purchases" db:"total_purchases"`
	TotalRepayments      float64    `json:"total_repayments" db:"total_repayments"`
	TotalInterestCharged float64    `json:"total_interest_charged" db:"total_interest_charged"`
	TotalPenalties       float64    `json:"total_penalties" db:"total_penalties"`
	OverdraftUsed        float64    `json:"overdraft_used" db:"overdraft_used"`
	ClosingBalance       *float64   `json:"closing_balance,omitempty" db:"closing_balance"`
	Status               string     `json:"status" db:"status"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
}

// RepaymentSchedule tracks what a user owes against a closed cycle and
// how much of it has been paid. One schedule per billing cycle.
type RepaymentSchedule struct {
	ID               string     `json:"id" db:"id"`
	UserID           string     `json:"user_id" db:"user_id"`
	BillingCycleID   string     `json:"billing_cycle_id" db:"billing_cycle_id"`
	DueDate          time.Time  `json:"due_date" db:"due_date"`
	TotalAmountDue   float64    `json:"total_amount_due" db:"total_amount_due"`
	MinimumAmountDue float64    `json:"minimum_amount_due" db:"minimum_amount_due"`
	PrincipalDue     float64    `json:"principal_due" db:"principal_due"`
	InterestDue      float64    `json:"interest_due" db:"interest_due"`
	PenaltyDue       float64    `json:"penalty_due" db:"penalty_due"`
	AmountPaid       float64    `json:"amount_paid" db:"amount_paid"`
	LastPaymentDate  *time.Time `json:"last_payment_date,omitempty" db:"last_payment_date"`
	Status           string     `json:"status" db:"status"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}
