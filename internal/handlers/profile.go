package handlers

import (
	"net/http"

	"github.com/Laudkyle/fuel-me/pkg/middleware"
)

// GetProfile returns a user's account profile with live credit figures
func GetProfile(c middleware.Context) {
	profile, err := getProfile(db, c.Param("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}
