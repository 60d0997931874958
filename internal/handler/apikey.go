package handler

import (
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stackstart/stackstart/internal/identity"
	"github.com/stackstart/stackstart/internal/provisioning"
)

// APIKeyHandler handles API key issuance.
type APIKeyHandler struct {
	svc *provisioning.Service
}

// NewAPIKeyHandler creates a new APIKeyHandler.
func NewAPIKeyHandler(svc *provisioning.Service) *APIKeyHandler {
	return &APIKeyHandler{svc: svc}
}

// CreateAPIKeyRequest is the optional body of POST /api/v1/projects/{projectID}/api-keys.
// Omitting ExpiresInMs gives a key that never expires.
type CreateAPIKeyRequest struct {
	ExpiresInMs *int64 `json:"expires_in_ms,omitempty"`
}

// Create handles POST /api/v1/projects/{projectID}/api-keys.
// The plaintext key appears in this response only.
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := identity.FromContext(ctx)
	if id == nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	var req CreateAPIKeyRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}

	var expiresIn *time.Duration
	if req.ExpiresInMs != nil {
		// Range check before scaling so neither end can overflow.
		ms := *req.ExpiresInMs
		if ms < time.Second.Milliseconds() {
			writeServiceError(w, provisioning.ErrInvalidExpiry)
			return
		}
		if ms > math.MaxInt64/int64(time.Millisecond) {
			writeError(w, http.StatusBadRequest, "INVALID_EXPIRY", "Expiry is too large")
			return
		}
		d := time.Duration(ms) * time.Millisecond
		expiresIn = &d
	}

	projectID := chi.URLParam(r, "projectID")
	if _, err := h.svc.AuthorizeProject(ctx, id.ID, projectID); err != nil {
		// Foreign projects are reported as missing.
		if errors.Is(err, provisioning.ErrNotTeamMember) {
			err = provisioning.ErrProjectNotFound
		}
		writeServiceError(w, err)
		return
	}

	created, err := h.svc.CreateAPIKey(ctx, projectID, expiresIn)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, created)
}
