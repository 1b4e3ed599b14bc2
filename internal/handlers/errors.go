package handlers

import (
	"errors"
	"fmt"
	"net/http"

	bursarapi "github.com/Laudkyle/fuel-me/pkg/api/bursar"
	"github.com/Laudkyle/fuel-me/pkg/middleware"
)

// Sentinel errors for absent entities and invalid operation targets.
var (
	ErrProfileNotFound  = errors.New("user profile not found")
	ErrCycleNotFound    = errors.New("billing cycle not found")
	ErrScheduleNotFound = errors.New("repayment schedule not found")
	ErrRequestNotFound  = errors.New("fuel request not found")
	ErrNoOpenCycle      = errors.New("no open billing cycle found")
	ErrCycleNotOverdue  = errors.New("billing cycle is not overdue")
)

// TerminalStateError is returned when an operation targets an entity that
// has already reached a terminal state (closed/settled cycle, decided
// request). No state is changed.
type TerminalStateError struct {
	Entity string
	State  string
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("%s is already %s", e.Entity, e.State)
}

// InsufficientCreditError rejects a purchase exceeding available credit
// plus overdraft headroom. Carries the figures the caller needs.
type InsufficientCreditError struct {
	AvailableCredit    float64
	RequiredAmount     float64
	OverdraftAvailable float64
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient credit available: %.2f available, %.2f required", e.AvailableCredit, e.RequiredAmount)
}

// InsufficientPaymentError rejects a repayment below the minimum due that
// does not settle the cycle in full.
type InsufficientPaymentError struct {
	MinimumDue float64
	TotalDue   float64
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf("minimum payment required: %.2f", e.MinimumDue)
}

// ValidationError rejects malformed or out-of-range input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// respondError maps a domain error onto the HTTP surface. Domain-rule
// violations become 4xx with the relevant figures in Details; everything
// unrecognized is a 500.
func respondError(c middleware.Context, err error) {
	var (
		terminal     *TerminalStateError
		insufficient *InsufficientCreditError
		payment      *InsufficientPaymentError
		validation   *ValidationError
	)

	switch {
	case errors.Is(err, ErrProfileNotFound),
		errors.Is(err, ErrCycleNotFound),
		errors.Is(err, ErrScheduleNotFound),
		errors.Is(err, ErrRequestNotFound),
		errors.Is(err, ErrNoOpenCycle):
		c.JSON(http.StatusNotFound, bursarapi.ErrorResponse{Error: err.Error(), Service: "bursar"})

	case errors.As(err, &insufficient):
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{
			Error:   "Insufficient credit available",
			Service: "bursar",
			Details: map[string]interface{}{
				"available_credit":    insufficient.AvailableCredit,
				"required_amount":     insufficient.RequiredAmount,
				"overdraft_available": insufficient.OverdraftAvailable,
			},
		})

	case errors.As(err, &payment):
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{
			Error:   err.Error(),
			Service: "bursar",
			Details: map[string]interface{}{
				"minimum_due": payment.MinimumDue,
				"total_due":   payment.TotalDue,
			},
		})

	case errors.As(err, &terminal), errors.As(err, &validation), errors.Is(err, ErrCycleNotOverdue):
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: err.Error(), Service: "bursar"})

	default:
		logger.WithError(err).Error("Unhandled error in request")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Internal server error", Service: "bursar"})
	}
}
