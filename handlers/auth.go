package handlers

import (
	"net/http"
)

// VerifyToken reports the user behind a valid bearer token. It runs behind
// AuthMiddleware.
func VerifyToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "user not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"userId": userID,
		"status": "valid",
	})
}
