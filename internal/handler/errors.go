package handler

import (
	"errors"
	"net/http"

	"github.com/stackstart/stackstart/internal/provisioning"
)

// writeServiceError maps provisioning errors to responses. The service logs
// storage faults where they happen, so nothing is logged here and no
// detail reaches the client.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, provisioning.ErrInvalidProjectName):
		writeError(w, http.StatusBadRequest, "INVALID_PROJECT_NAME", "Project name must not be empty")
	case errors.Is(err, provisioning.ErrInvalidExpiry):
		writeError(w, http.StatusBadRequest, "INVALID_EXPIRY", "Expiry must be at least 1000 milliseconds")
	case errors.Is(err, provisioning.ErrInvalidIdentity):
		writeError(w, http.StatusBadRequest, "INVALID_IDENTITY", "Identity has no user id")
	case errors.Is(err, provisioning.ErrProjectNotFound):
		writeError(w, http.StatusNotFound, "PROJECT_NOT_FOUND", "Project not found")
	case errors.Is(err, provisioning.ErrNotTeamMember):
		writeError(w, http.StatusNotFound, "TEAM_NOT_FOUND", "Team not found")
	case errors.Is(err, provisioning.ErrProvisioningFailed):
		writeError(w, http.StatusServiceUnavailable, "PROVISIONING_FAILED", "Provisioning failed, please retry")
	case errors.Is(err, provisioning.ErrAPIKeyCreationFailed):
		writeError(w, http.StatusInternalServerError, "API_KEY_CREATION_FAILED", "Failed to create API key")
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}
