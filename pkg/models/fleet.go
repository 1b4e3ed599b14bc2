package models

import (
	"time"
)

// Fuel request statuses
const (
	RequestPending   = "pending"
	RequestApproved  = "approved"
	RequestDeclined  = "declined"
	RequestCompleted = "completed"
)

// Loan statuses. Loans are the legacy credit extensions the admission
// check reads; new credit flows through the ledger instead.
const (
	LoanActive = "active"
	LoanPaid   = "paid"
)

// User is the authentication principal. PIN hashes never leave the
// database layer.
type User struct {
	ID        string    `json:"id" db:"id"`
	Phone     string    `json:"phone" db:"phone"`
	PinHash   string    `json:"-" db:"pin_hash"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// FuelRequest is a pending fuel disbursement awaiting admission. An
// approved request is completed by the fuel purchase that fulfils it.
type FuelRequest struct {
	ID                  string     `json:"id" db:"id"`
	UserID              string     `json:"user_id" db:"user_id"`
	StationID           *string    `json:"station_id,omitempty" db:"station_id"`
	AgentID             *string    `json:"agent_id,omitempty" db:"agent_id"`
	CarID               *string    `json:"car_id,omitempty" db:"car_id"`
	FuelLiters          float64    `json:"fuel_liters" db:"fuel_liters"`
	FuelType            string     `json:"fuel_type" db:"fuel_type"`
	Amount              float64    `json:"amount" db:"amount"`
	Status              string     `json:"status" db:"status"`
	DeclineReason       *string    `json:"decline_reason,omitempty" db:"decline_reason"`
	CreditTransactionID *string    `json:"credit_transaction_id,omitempty" db:"credit_transaction_id"`
	RequestedAt         time.Time  `json:"requested_at" db:"requested_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

// Loan is a legacy credit extension against a specific car. Active loan
// balances count against the profile hard limit during admission.
type Loan struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	CarID     *string   `json:"car_id,omitempty" db:"car_id"`
	AgentID   *string   `json:"agent_id,omitempty" db:"agent_id"`
	Amount    float64   `json:"amount" db:"amount"`
	Balance   float64   `json:"balance" db:"balance"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
