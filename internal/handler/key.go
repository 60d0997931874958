package handler

import (
	"net/http"

	"github.com/stackstart/stackstart/internal/auth"
)

// KeyResponse describes the API key that authenticated the request.
type KeyResponse struct {
	KeyID     string `json:"key_id"`
	KeyPrefix string `json:"key_prefix"`
	ProjectID string `json:"project_id"`
	ExpiresAt *int64 `json:"expires_at,omitempty"`
}

// Whoami handles GET /api/v1/key.
func Whoami(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.AuthFromContext(r.Context())
	if authCtx == nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	writeJSON(w, http.StatusOK, KeyResponse{
		KeyID:     authCtx.KeyID,
		KeyPrefix: authCtx.KeyPrefix,
		ProjectID: authCtx.ProjectID,
		ExpiresAt: authCtx.ExpiresAt,
	})
}
