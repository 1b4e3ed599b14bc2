package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// HashPIN hashes a login PIN using bcrypt
func HashPIN(pin string, cost ...int) (string, error) {
	bcryptCost := bcrypt.DefaultCost
	if len(cost) > 0 {
		bcryptCost = cost[0]
	}

	bytes, err := bcrypt.GenerateFromPassword([]byte(pin), bcryptCost)
	return string(bytes), err
}

// CheckPIN compares a PIN with its hash
func CheckPIN(pin, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin))
	return err == nil
}
