package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/lib/pq"

	bursarapi "github.com/Laudkyle/fuel-me/pkg/api/bursar"
	"github.com/Laudkyle/fuel-me/pkg/auth"
	"github.com/Laudkyle/fuel-me/pkg/logging"
	"github.com/Laudkyle/fuel-me/pkg/middleware"
	"github.com/Laudkyle/fuel-me/pkg/models"
)

const uniqueViolation = "23505"

// Register creates a user plus their account profile and returns a token pair
func Register(c middleware.Context) {
	var req bursarapi.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if req.Phone == "" || req.Name == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "phone and name are required"})
		return
	}
	if len(req.Pin) < 4 {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "pin must be at least 4 digits"})
		return
	}

	pinHash, err := auth.HashPIN(req.Pin)
	if err != nil {
		respondError(c, fmt.Errorf("failed to hash pin: %w", err))
		return
	}

	category := req.Category
	if category == "" {
		category = models.CategoryOther
	}
	frequency := req.RepaymentFrequency
	if frequency == "" {
		frequency = models.FrequencyMonthly
	}

	tx, err := db.Begin()
	if err != nil {
		respondError(c, fmt.Errorf("failed to start transaction: %w", err))
		return
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	userID := uuid.NewString()
	_, err = tx.Exec(`
		INSERT INTO bursar.users (id, phone, pin_hash) VALUES ($1, $2, $3)
	`, userID, req.Phone, pinHash)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "phone already registered"})
			return
		}
		respondError(c, fmt.Errorf("failed to create user: %w", err))
		return
	}

	_, err = tx.Exec(`
		INSERT INTO bursar.account_profiles (
			id, user_id, name, category, repayment_frequency, credit_limit, available_credit
		) VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, uuid.NewString(), userID, req.Name, category, frequency, req.CreditLimit)
	if err != nil {
		respondError(c, fmt.Errorf("failed to create profile: %w", err))
		return
	}

	if err := tx.Commit(); err != nil {
		respondError(c, fmt.Errorf("failed to commit transaction: %w", err))
		return
	}

	logger.WithFields(logging.Fields{
		"user_id":  userID,
		"category": category,
	}).Info("User registered")

	issueTokens(c, userID, req.Phone, http.StatusCreated)
}

// Login authenticates a user by phone and PIN
func Login(c middleware.Context) {
	var req bursarapi.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Phone == "" || req.Pin == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "phone and pin are required"})
		return
	}

	var userID, pinHash string
	err := db.QueryRow(`
		SELECT id, pin_hash FROM bursar.users WHERE phone = $1
	`, req.Phone).Scan(&userID, &pinHash)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusUnauthorized, bursarapi.ErrorResponse{Error: "invalid phone or pin"})
		return
	}
	if err != nil {
		respondError(c, fmt.Errorf("failed to look up user: %w", err))
		return
	}

	if !auth.CheckPIN(req.Pin, pinHash) {
		c.JSON(http.StatusUnauthorized, bursarapi.ErrorResponse{Error: "invalid phone or pin"})
		return
	}

	issueTokens(c, userID, req.Phone, http.StatusOK)
}

// RefreshToken rotates a refresh token for a new token pair
func RefreshToken(c middleware.Context) {
	var req bursarapi.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "refresh_token is required"})
		return
	}

	claims, err := auth.ValidateJWT(req.RefreshToken, jwtSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, bursarapi.ErrorResponse{Error: "invalid refresh token"})
		return
	}

	known, err := tokenStore.Exists(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondError(c, fmt.Errorf("failed to check refresh token: %w", err))
		return
	}
	if !known {
		c.JSON(http.StatusUnauthorized, bursarapi.ErrorResponse{Error: "refresh token revoked or unknown"})
		return
	}

	// Rotate: the presented token is spent regardless of what follows.
	if err := tokenStore.Revoke(c.Request.Context(), req.RefreshToken); err != nil {
		respondError(c, fmt.Errorf("failed to revoke refresh token: %w", err))
		return
	}

	issueTokens(c, claims.UserID, claims.Phone, http.StatusOK)
}

// Logout revokes a refresh token
func Logout(c middleware.Context) {
	var req bursarapi.LogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "refresh_token is required"})
		return
	}

	if err := tokenStore.Revoke(c.Request.Context(), req.RefreshToken); err != nil {
		respondError(c, fmt.Errorf("failed to revoke refresh token: %w", err))
		return
	}
	c.JSON(http.StatusOK, bursarapi.SuccessResponse{Success: true, Message: "logged out"})
}

func issueTokens(c middleware.Context, userID, phone string, status int) {
	accessToken, err := auth.GenerateAccessToken(userID, phone, "driver", jwtSecret)
	if err != nil {
		respondError(c, fmt.Errorf("failed to generate access token: %w", err))
		return
	}
	refreshToken, err := auth.GenerateRefreshToken(userID, phone, "driver", jwtSecret)
	if err != nil {
		respondError(c, fmt.Errorf("failed to generate refresh token: %w", err))
		return
	}

	if err := tokenStore.Save(c.Request.Context(), refreshToken, auth.RefreshTokenTTL); err != nil {
		respondError(c, fmt.Errorf("failed to persist refresh token: %w", err))
		return
	}

	c.JSON(status, bursarapi.AuthResponse{
		UserID:       userID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(auth.AccessTokenTTL.Seconds()),
	})
}
