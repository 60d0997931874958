package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stackstart/stackstart/internal/model"
	"github.com/stackstart/stackstart/internal/provisioning"
)

// ProjectHandler handles team project endpoints. Routes are expected to sit
// behind TeamHandler.RequireMember.
type ProjectHandler struct {
	svc    *provisioning.Service
	logger *slog.Logger
}

// NewProjectHandler creates a new ProjectHandler.
func NewProjectHandler(svc *provisioning.Service, logger *slog.Logger) *ProjectHandler {
	return &ProjectHandler{
		svc:    svc,
		logger: logger,
	}
}

// CreateProjectRequest is the body of POST /api/v1/teams/{teamID}/projects.
type CreateProjectRequest struct {
	Name string `json:"name"`
}

// ProjectListResponse wraps a team's projects.
type ProjectListResponse struct {
	Projects []*model.Project `json:"projects"`
}

// List handles GET /api/v1/teams/{teamID}/projects.
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	projects, err := h.svc.GetTeamProjects(r.Context(), chi.URLParam(r, "teamID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ProjectListResponse{Projects: projects})
}

// Create handles POST /api/v1/teams/{teamID}/projects.
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	project, err := h.svc.CreateProjectForTeam(r.Context(), chi.URLParam(r, "teamID"), req.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.logger.Info("project_created",
		"project_id", project.ID,
		"team_id", project.TeamID,
	)
	writeJSON(w, http.StatusCreated, project)
}
