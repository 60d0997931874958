package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stackstart/stackstart/internal/identity"
	"github.com/stackstart/stackstart/internal/provisioning"
)

// TeamHandler handles the caller's team and team membership checks.
type TeamHandler struct {
	svc *provisioning.Service
}

// NewTeamHandler creates a new TeamHandler.
func NewTeamHandler(svc *provisioning.Service) *TeamHandler {
	return &TeamHandler{svc: svc}
}

// TeamResponse carries a team id.
type TeamResponse struct {
	TeamID string `json:"team_id"`
}

// EntitlementsResponse reports a team's plan.
type EntitlementsResponse struct {
	TeamID  string `json:"team_id"`
	Premium bool   `json:"premium"`
}

// Ensure handles POST /api/v1/me/team. It provisions the caller's team on
// first call and returns the same team afterwards.
func (h *TeamHandler) Ensure(w http.ResponseWriter, r *http.Request) {
	id := identity.FromContext(r.Context())
	if id == nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	teamID, err := h.svc.EnsureUserHasTeam(r.Context(), *id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, TeamResponse{TeamID: teamID})
}

// Get handles GET /api/v1/me/team.
func (h *TeamHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := identity.FromContext(r.Context())
	if id == nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	teamID, err := h.svc.TeamForUser(r.Context(), id.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, TeamResponse{TeamID: teamID})
}

// Entitlements handles GET /api/v1/teams/{teamID}/entitlements.
func (h *TeamHandler) Entitlements(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "teamID")

	premium, err := h.svc.IsTeamPremium(r.Context(), teamID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, EntitlementsResponse{TeamID: teamID, Premium: premium})
}

// RequireMember rejects callers outside the {teamID} route parameter's team.
// Unknown teams and foreign teams look the same to the caller.
func (h *TeamHandler) RequireMember(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identity.FromContext(r.Context())
		if id == nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
			return
		}

		if err := h.svc.AuthorizeTeam(r.Context(), id.ID, chi.URLParam(r, "teamID")); err != nil {
			writeServiceError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
