package bursar

import (
	"time"

	"github.com/Laudkyle/fuel-me/pkg/api/common"
	"github.com/Laudkyle/fuel-me/pkg/models"
)

// RegisterRequest creates a user plus their account profile.
type RegisterRequest struct {
	Phone              string  `json:"phone"`
	Pin                string  `json:"pin"`
	Name               string  `json:"name"`
	Category           string  `json:"category,omitempty"`
	RepaymentFrequency string  `json:"repayment_frequency,omitempty"`
	CreditLimit        float64 `json:"credit_limit,omitempty"`
}

// LoginRequest authenticates by phone and PIN.
type LoginRequest struct {
	Phone string `json:"phone"`
	Pin   string `json:"pin"`
}

// AuthResponse carries a fresh token pair.
type AuthResponse struct {
	UserID       string `json:"user_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"` // seconds until the access token expires
}

// RefreshRequest rotates a refresh token.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LogoutRequest revokes a refresh token.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// FuelPurchaseRequest records a fuel disbursement against credit.
type FuelPurchaseRequest struct {
	UserID       string   `json:"user_id"`
	FuelLiters   float64  `json:"fuel_liters"`
	FuelType     string   `json:"fuel_type"`
	CostPerLiter float64  `json:"cost_per_liter"`
	StationID    *string  `json:"station_id,omitempty"`
	AgentID      *string  `json:"agent_id,omitempty"`
	CarID        *string  `json:"car_id,omitempty"`
	RequestID    *string  `json:"request_id,omitempty"`
	TotalAmount  *float64 `json:"total_amount,omitempty"` // optional override; defaults to liters * cost
}

// FuelPurchaseResponse returns the ledger row and the updated profile.
type FuelPurchaseResponse struct {
	Transaction *models.CreditTransaction `json:"transaction"`
	Profile     *models.AccountProfile    `json:"profile"`
	Cycle       *models.BillingCycle      `json:"billing_cycle"`
}

// RepaymentRequest pays down the outstanding balance.
type RepaymentRequest struct {
	UserID         string  `json:"user_id"`
	Amount         float64 `json:"amount"`
	BillingCycleID *string `json:"billing_cycle_id,omitempty"` // target cycle; defaults to the user's open cycle
}

// RepaymentResponse returns the repayment ledger row plus updated state.
type RepaymentResponse struct {
	Transaction *models.CreditTransaction `json:"transaction"`
	Profile     *models.AccountProfile    `json:"profile"`
	Cycle       *models.BillingCycle      `json:"billing_cycle,omitempty"`
	Schedule    *models.RepaymentSchedule `json:"schedule,omitempty"`
}

// InterestRunResponse summarizes one interest calculation pass over a cycle.
type InterestRunResponse struct {
	BillingCycleID   string                        `json:"billing_cycle_id"`
	UserID           string                        `json:"user_id"`
	TotalInterest    float64                       `json:"total_interest"`
	PurchasesCharged int                           `json:"purchases_charged"`
	PurchasesSkipped int                           `json:"purchases_skipped"`  // already calculated for this cycle
	PurchasesInGrace int                           `json:"purchases_in_grace"` // not accruing yet
	Calculations     []*models.InterestCalculation `json:"calculations"`
}

// GetOrCreateCycleRequest opens (or fetches) the open cycle for a user.
type GetOrCreateCycleRequest struct {
	UserID string `json:"user_id"`
}

// CloseCycleResponse returns the closed cycle and the successor cycle when
// one is opened (monthly cycles open their successor on close).
type CloseCycleResponse struct {
	Cycle     *models.BillingCycle `json:"cycle"`
	NextCycle *models.BillingCycle `json:"next_cycle,omitempty"`
}

// PenaltyResponse returns the overdue cycle after the late penalty posts.
type PenaltyResponse struct {
	Cycle       *models.BillingCycle      `json:"cycle"`
	Penalty     float64                   `json:"penalty"`
	Transaction *models.CreditTransaction `json:"transaction"`
}

// CycleSummaryResponse is the current-cycle view with live totals.
type CycleSummaryResponse struct {
	Cycle      *models.BillingCycle `json:"cycle"`
	TotalDue   float64              `json:"total_due"`
	MinimumDue float64              `json:"minimum_due"`
	DaysLeft   int                  `json:"days_left"`
}

// ScheduleFromCycleRequest generates the repayment schedule for a closed cycle.
type ScheduleFromCycleRequest struct {
	BillingCycleID string `json:"billing_cycle_id"`
}

// ScheduleStatusRequest applies a payment figure to a schedule and derives
// its status from the amounts, never directly from the caller.
type ScheduleStatusRequest struct {
	AmountPaid  float64    `json:"amount_paid"`
	PaymentDate *time.Time `json:"payment_date,omitempty"`
}

// CreateFuelRequest opens a pending fuel request.
type CreateFuelRequest struct {
	UserID     string  `json:"user_id"`
	FuelLiters float64 `json:"fuel_liters"`
	FuelType   string  `json:"fuel_type"`
	Amount     float64 `json:"amount"`
	StationID  *string `json:"station_id,omitempty"`
	AgentID    *string `json:"agent_id,omitempty"`
	CarID      *string `json:"car_id,omitempty"`
}

// DeclineRequest carries the operator's reason for declining.
type DeclineRequest struct {
	Reason string `json:"reason"`
}

// ApproveResponse reports the admission outcome. Declined approvals carry
// the auto-decline reason with the limit figures embedded.
type ApproveResponse struct {
	Request *models.FuelRequest `json:"request"`
	Allowed bool                `json:"allowed"`
	Reason  string              `json:"reason,omitempty"`
}

// TransactionListResponse pages the ledger for a user.
type TransactionListResponse struct {
	Transactions []*models.CreditTransaction `json:"transactions"`
	Count        int                         `json:"count"`
}

// CycleHistoryResponse lists past cycles for a user.
type CycleHistoryResponse struct {
	Cycles []*models.BillingCycle `json:"cycles"`
	Count  int                    `json:"count"`
}

// ErrorResponse is a type alias to the common error response
type ErrorResponse = common.ErrorResponse

// SuccessResponse is a type alias to the common success response
type SuccessResponse = common.SuccessResponse
