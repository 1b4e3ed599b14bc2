package models

import (
	"time"
)

// Profile categories determine billing cycle boundaries.
const (
	CategoryCivilWorker      = "civil_worker"
	CategoryCommercialDriver = "commercial_driver"
	CategoryCorporateWorker  = "corporate_worker"
	CategoryOther            = "other"
)

// Repayment frequencies
const (
	FrequencyMonthly  = "monthly"
	FrequencyWeekly   = "weekly"
	FrequencyBiweekly = "biweekly"
	FrequencyAnytime  = "anytime"
)

// Credit transaction types
const (
	TxFuelPurchase     = "fuel_purchase"
	TxRepayment        = "repayment"
	TxInterestCharge   = "interest_charge"
	TxPenalty          = "penalty"
	TxOverdraft        = "overdraft"
	TxCreditAdjustment = "credit_adjustment"
)

// Transaction statuses
const (
	TxStatusCompleted = "completed"
	TxStatusPending   = "pending"
	TxStatusReversed  = "reversed"
)

// AccountProfile holds the per-user credit state. The invariant
// available_credit = credit_limit - credit_utilized holds whenever the
// account is not in overdraft; in overdraft available_credit is 0 and
// overdraft_used <= overdraft_limit.
type AccountProfile struct {
	ID                    string     `json:"id" db:"id"`
	UserID                string     `json:"user_id" db:"user_id"`
	Name                  string     `json:"name" db:"name"`
	Category              string     `json:"category" db:"category"`
	RepaymentFrequency    string     `json:"repayment_frequency" db:"repayment_frequency"`
	CreditLimit           float64    `json:"credit_limit" db:"credit_limit"`
	AvailableCredit       float64    `json:"available_credit" db:"available_credit"`
	CreditUtilized        float64    `json:"credit_utilized" db:"credit_utilized"`
	OutstandingBalance    float64    `json:"outstanding_balance" db:"outstanding_balance"`
	OverdraftEnabled      bool       `json:"overdraft_enabled" db:"overdraft_enabled"`
	OverdraftLimit        float64    `json:"overdraft_limit" db:"overdraft_limit"`
	OverdraftUsed         float64    `json:"overdraft_used" db:"overdraft_used"`
	InterestRate          float64    `json:"interest_rate" db:"interest_rate"`
	OverdraftInterestRate float64    `json:"overdraft_interest_rate" db:"overdraft_interest_rate"`
	PenaltyInterestRate   float64    `json:"penalty_interest_rate" db:"penalty_interest_rate"`
	GracePeriodDays       int        `json:"grace_period_days" db:"grace_period_days"`
	HardLimit             *float64   `json:"hard_limit,omitempty" db:"hard_limit"`
	CreatedAt             time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt             *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// CreditTransaction is an append-style ledger row. Interest amounts are
// back-filled once by the interest engine; rows are never deleted.
type CreditTransaction struct {
	ID                    string     `json:"id" db:"id"`
	UserID                string     `json:"user_id" db:"user_id"`
	BillingCycleID        *string    `json:"billing_cycle_id,omitempty" db:"billing_cycle_id"`
	RequestID             *string    `json:"request_id,omitempty" db:"request_id"`
	StationID             *string    `json:"station_id,omitempty" db:"station_id"`
	AgentID               *string    `json:"agent_id,omitempty" db:"agent_id"`
	CarID                 *string    `json:"car_id,omitempty" db:"car_id"`
	Type                  string     `json:"type" db:"type"`
	FuelLiters            *float64   `json:"fuel_liters,omitempty" db:"fuel_liters"`
	FuelType              *string    `json:"fuel_type,omitempty" db:"fuel_type"`
	FuelCostPerLiter      *float64   `json:"fuel_cost_per_liter,omitempty" db:"fuel_cost_per_liter"`
	PrincipalAmount       float64    `json:"principal_amount" db:"principal_amount"`
	InterestAmount        float64    `json:"interest_amount" db:"interest_amount"`
	PenaltyAmount         float64    `json:"penalty_amount" db:"penalty_amount"`
	TotalAmount           float64    `json:"total_amount" db:"total_amount"`
	CreditUsedBefore      *float64   `json:"credit_used_before,omitempty" db:"credit_used_before"`
	CreditUsedAfter       *float64   `json:"credit_used_after,omitempty" db:"credit_used_after"`
	AvailableCreditBefore *float64   `json:"available_credit_before,omitempty" db:"available_credit_before"`
	AvailableCreditAfter  *float64   `json:"available_credit_after,omitempty" db:"available_credit_after"`
	IsOverdraft           bool       `json:"is_overdraft" db:"is_overdraft"`
	GracePeriodApplies    bool       `json:"grace_period_applies" db:"grace_period_applies"`
	InterestStartDate     *time.Time `json:"interest_start_date,omitempty" db:"interest_start_date"`
	RepaymentForPeriod    *string    `json:"repayment_for_period,omitempty" db:"repayment_for_period"`
	TransactionDate       time.Time  `json:"transaction_date" db:"transaction_date"`
	Status                string     `json:"status" db:"status"`
}

// InterestCalculation records one interest computation for a purchase
// within a billing cycle. Read-only after creation; uniqueness on
// (transaction_id, billing_cycle_id) keeps recalculation idempotent.
type InterestCalculation struct {
	ID                  string    `json:"id" db:"id"`
	UserID              string    `json:"user_id" db:"user_id"`
	TransactionID       string    `json:"transaction_id" db:"transaction_id"`
	BillingCycleID      string    `json:"billing_cycle_id" db:"billing_cycle_id"`
	PrincipalAmount     float64   `json:"principal_amount" db:"principal_amount"`
	DailyInterestRate   float64   `json:"daily_interest_rate" db:"daily_interest_rate"`
	DaysOutstanding     int       `json:"days_outstanding" db:"days_outstanding"`
	CalculatedInterest  float64   `json:"calculated_interest" db:"calculated_interest"`
	TransactionDate     time.Time `json:"transaction_date" db:"transaction_date"`
	InterestStartDate   time.Time `json:"interest_start_date" db:"interest_start_date"`
	IsOverdraftInterest bool      `json:"is_overdraft_interest" db:"is_overdraft_interest"`
	IsPenaltyInterest   bool      `json:"is_penalty_interest" db:"is_penalty_interest"`
	GracePeriodApplied  bool      `json:"grace_period_applied" db:"grace_period_applied"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
}
