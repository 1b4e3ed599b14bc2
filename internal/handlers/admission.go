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

// AdmissionChecker guards request approval with the profile hard limit.
// With failOpen set, internal errors during the check log and allow,
// trading strict safety for availability; with it unset they surface.
type AdmissionChecker struct {
	db       *sql.DB
	logger   logging.Logger
	failOpen bool
}

func NewAdmissionChecker(db *sql.DB, logger logging.Logger, failOpen bool) *AdmissionChecker {
	return &AdmissionChecker{db: db, logger: logger, failOpen: failOpen}
}

// LimitCheck is the outcome of one admission check.
type LimitCheck struct {
	Allowed      bool
	CurrentTotal float64
	Limit        float64
	HasLimit     bool
}

// CheckProfileLimit sums the user's active loan balances for the car and
// compares them plus the requested amount against the profile hard limit.
// No profile or no configured limit always allows.
func (a *AdmissionChecker) CheckProfileLimit(q querier, userID string, carID *string, requestAmount float64) (*LimitCheck, error) {
	var hardLimit sql.NullFloat64
	err := q.QueryRow(`
		SELECT hard_limit FROM bursar.account_profiles
		WHERE user_id = $1 AND deleted_at IS NULL
	`, userID).Scan(&hardLimit)
	if errors.Is(err, sql.ErrNoRows) {
		return &LimitCheck{Allowed: true}, nil
	}
	if err != nil {
		return a.failed(userID, fmt.Errorf("failed to load profile limit: %w", err))
	}
	if !hardLimit.Valid {
		return &LimitCheck{Allowed: true}, nil
	}

	var currentTotal float64
	err = q.QueryRow(`
		SELECT COALESCE(SUM(balance), 0) FROM bursar.loans
		WHERE user_id = $1 AND status = 'active' AND ($2::uuid IS NULL OR car_id = $2)
	`, userID, carID).Scan(&currentTotal)
	if err != nil {
		return a.failed(userID, fmt.Errorf("failed to sum active balances: %w", err))
	}

	return &LimitCheck{
		Allowed:      currentTotal+requestAmount <= hardLimit.Float64,
		CurrentTotal: currentTotal,
		Limit:        hardLimit.Float64,
		HasLimit:     true,
	}, nil
}

func (a *AdmissionChecker) failed(userID string, err error) (*LimitCheck, error) {
	if a.failOpen {
		a.logger.WithError(err).WithFields(logging.Fields{
			"user_id": userID,
		}).Warn("Limit check failed; allowing per fail-open policy")
		return &LimitCheck{Allowed: true}, nil
	}
	return nil, err
}

// Create opens a pending fuel request.
func (a *AdmissionChecker) Create(req *bursarapi.CreateFuelRequest) (*models.FuelRequest, error) {
	if req.UserID == "" {
		return nil, &ValidationError{Field: "user_id", Reason: "is required"}
	}
	if req.Amount <= 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if req.FuelLiters <= 0 {
		return nil, &ValidationError{Field: "fuel_liters", Reason: "must be positive"}
	}

	row := a.db.QueryRow(`
		INSERT INTO bursar.fuel_requests (
			id, user_id, station_id, agent_id, car_id, fuel_liters, fuel_type, amount, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending')
		RETURNING `+requestColumns+`
	`, uuid.NewString(), req.UserID, req.StationID, req.AgentID, req.CarID,
		req.FuelLiters, req.FuelType, req.Amount)

	created, err := scanRequest(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create fuel request: %w", err)
	}
	return created, nil
}

// Approve runs the admission check on a pending request. A failed check
// auto-declines the request with the figures in the reason rather than
// erroring to the caller.
func (a *AdmissionChecker) Approve(requestID string) (*bursarapi.ApproveResponse, error) {
	tx, err := a.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	request, err := lockRequest(tx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != models.RequestPending {
		return nil, &TerminalStateError{Entity: "fuel request", State: request.Status}
	}

	check, err := a.CheckProfileLimit(tx, request.UserID, request.CarID, request.Amount)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if !check.Allowed {
		reason := fmt.Sprintf(
			"Credit limit exceeded: current balance %.2f plus requested %.2f exceeds limit %.2f",
			check.CurrentTotal, request.Amount, check.Limit)

		_, err = tx.Exec(`
			UPDATE bursar.fuel_requests
			SET status = 'declined', decline_reason = $1, updated_at = $2
			WHERE id = $3
		`, reason, now, requestID)
		if err != nil {
			return nil, fmt.Errorf("failed to decline request: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}

		request.Status = models.RequestDeclined
		request.DeclineReason = &reason
		return &bursarapi.ApproveResponse{Request: request, Allowed: false, Reason: reason}, nil
	}

	_, err = tx.Exec(`
		UPDATE bursar.fuel_requests
		SET status = 'approved', updated_at = $1
		WHERE id = $2
	`, now, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to approve request: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	request.Status = models.RequestApproved
	return &bursarapi.ApproveResponse{Request: request, Allowed: true}, nil
}

// Decline marks a pending request declined with the operator's reason.
func (a *AdmissionChecker) Decline(requestID, reason string) (*models.FuelRequest, error) {
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Reason: "is required"}
	}

	tx, err := a.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	request, err := lockRequest(tx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != models.RequestPending {
		return nil, &TerminalStateError{Entity: "fuel request", State: request.Status}
	}

	_, err = tx.Exec(`
		UPDATE bursar.fuel_requests
		SET status = 'declined', decline_reason = $1, updated_at = NOW()
		WHERE id = $2
	`, reason, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to decline request: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	request.Status = models.RequestDeclined
	request.DeclineReason = &reason
	return request, nil
}

// List returns requests, optionally for one user.
func (a *AdmissionChecker) List(userID string) ([]*models.FuelRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM bursar.fuel_requests
	`
	var args []interface{}
	if userID != "" {
		query += " WHERE user_id = $1"
		args = append(args, userID)
	}
	query += " ORDER BY requested_at DESC"

	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var result []*models.FuelRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// Get returns one request by id.
func (a *AdmissionChecker) Get(requestID string) (*models.FuelRequest, error) {
	row := a.db.QueryRow(`
		SELECT `+requestColumns+`
		FROM bursar.fuel_requests
		WHERE id = $1
	`, requestID)

	request, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load request: %w", err)
	}
	return request, nil
}

func lockRequest(q querier, requestID string) (*models.FuelRequest, error) {
	row := q.QueryRow(`
		SELECT `+requestColumns+`
		FROM bursar.fuel_requests
		WHERE id = $1
		FOR UPDATE
	`, requestID)

	request, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock request: %w", err)
	}
	return request, nil
}

// HTTP handlers

// CreateRequest opens a pending fuel request
func CreateRequest(c middleware.Context) {
	var req bursarapi.CreateFuelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid request body"})
		return
	}

	created, err := admission.Create(&req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// GetAllRequests lists every fuel request
func GetAllRequests(c middleware.Context) {
	result, err := admission.List("")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetUserRequests lists fuel requests for one user
func GetUserRequests(c middleware.Context) {
	result, err := admission.List(c.Param("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetRequest returns one fuel request
func GetRequest(c middleware.Context) {
	request, err := admission.Get(c.Param("request_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, request)
}

// ApproveRequest admits or auto-declines a pending request
func ApproveRequest(c middleware.Context) {
	resp, err := admission.Approve(c.Param("request_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// DeclineRequest declines a pending request with a reason
func DeclineRequest(c middleware.Context) {
	var req bursarapi.DeclineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid request body"})
		return
	}

	request, err := admission.Decline(c.Param("request_id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, request)
}
