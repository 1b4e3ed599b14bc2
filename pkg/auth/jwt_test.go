package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func TestAccessTokenRoundTrip(t *testing.T) {
	token, err := GenerateAccessToken("user-1", "+233201234567", "driver", testSecret)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	claims, err := ValidateJWT(token, testSecret)
	if err != nil {
		t.Fatalf("failed to validate token: %v", err)
	}

	if claims.UserID != "user-1" {
		t.Errorf("user_id = %s, want user-1", claims.UserID)
	}
	if claims.Phone != "+233201234567" {
		t.Errorf("phone = %s, want +233201234567", claims.Phone)
	}
	if claims.Role != "driver" {
		t.Errorf("role = %s, want driver", claims.Role)
	}
}

func TestValidateJWTWrongSecret(t *testing.T) {
	token, err := GenerateAccessToken("user-1", "+233201234567", "driver", testSecret)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	if _, err := ValidateJWT(token, []byte("other-secret")); !errors.Is(err, ErrInvalidJWT) {
		t.Errorf("expected ErrInvalidJWT, got %v", err)
	}
}

func TestValidateJWTExpired(t *testing.T) {
	claims := &Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	if _, err := ValidateJWT(token, testSecret); !errors.Is(err, ErrExpiredJWT) {
		t.Errorf("expected ErrExpiredJWT, got %v", err)
	}
}

func TestValidateJWTRejectsUnsignedToken(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "user-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build token: %v", err)
	}

	if _, err := ValidateJWT(token, testSecret); !errors.Is(err, ErrInvalidJWT) {
		t.Errorf("expected ErrInvalidJWT for alg=none, got %v", err)
	}
}

func TestMemoryTokenStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTokenStore()

	if err := store.Save(ctx, "token-1", time.Minute); err != nil {
		t.Fatalf("failed to save token: %v", err)
	}

	exists, err := store.Exists(ctx, "token-1")
	if err != nil || !exists {
		t.Fatalf("saved token must exist, got %v/%v", exists, err)
	}

	if err := store.Revoke(ctx, "token-1"); err != nil {
		t.Fatalf("failed to revoke token: %v", err)
	}

	exists, err = store.Exists(ctx, "token-1")
	if err != nil || exists {
		t.Fatalf("revoked token must not exist, got %v/%v", exists, err)
	}
}

func TestMemoryTokenStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTokenStore()

	if err := store.Save(ctx, "token-1", -time.Second); err != nil {
		t.Fatalf("failed to save token: %v", err)
	}

	exists, err := store.Exists(ctx, "token-1")
	if err != nil || exists {
		t.Fatalf("expired token must not exist, got %v/%v", exists, err)
	}
}

func TestPINHashRoundTrip(t *testing.T) {
	hash, err := HashPIN("1234", 4)
	if err != nil {
		t.Fatalf("failed to hash PIN: %v", err)
	}

	if !CheckPIN("1234", hash) {
		t.Error("correct PIN must verify")
	}
	if CheckPIN("4321", hash) {
		t.Error("wrong PIN must not verify")
	}
}
