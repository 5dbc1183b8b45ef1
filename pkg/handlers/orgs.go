package handlers

import (
	"errors"
	"net/http"

	"hyrepro-admin/pkg/config"
	"hyrepro-admin/pkg/database"
	"hyrepro-admin/pkg/logging"
	"hyrepro-admin/pkg/middleware"
	"hyrepro-admin/pkg/models"
	"hyrepro-admin/pkg/utils"
)

type OrgsHandler struct {
	config *config.Config
	db     database.DatabaseInterface
}

func NewOrgsHandler(cfg *config.Config, db database.DatabaseInterface) *OrgsHandler {
	return &OrgsHandler{config: cfg, db: db}
}

// GET /api/me/school
func (h *OrgsHandler) GetMySchool(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	if h.db == nil {
		utils.WriteInternalServerErrorResponse(w, "Failed to load organization")
		return
	}

	school, err := h.db.GetUserSchool(r.Context(), user.ID)
	if err != nil {
		logging.FromContext(r.Context()).Error("get user school failed", "error", err)
		var apiErr *database.APIError
		if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Message != "" {
			utils.WriteErrorResponse(w, apiErr.Status, apiErr.Message)
			return
		}
		utils.WriteErrorResponse(w, http.StatusBadGateway, "Failed to load organization")
		return
	}
	// 未加入任何学校时 school 为 null
	utils.WriteSuccessResponse(w, struct {
		School *models.School `json:"school"`
	}{School: school})
}
