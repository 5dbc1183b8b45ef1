package handlers

import (
	"errors"
	"net/http"

	"hyrepro-admin/pkg/config"
	"hyrepro-admin/pkg/confirmations"
	"hyrepro-admin/pkg/database"
	"hyrepro-admin/pkg/logging"
	"hyrepro-admin/pkg/models"
	"hyrepro-admin/pkg/utils"
)

const msgConfirmationLookupFailed = "Failed to load interview details"

// ConfirmationHandler 面试确认处理器（令牌即授权，无需登录）
type ConfirmationHandler struct {
	config  *config.Config
	service *confirmations.Service
}

func NewConfirmationHandler(cfg *config.Config, db database.DatabaseInterface) *ConfirmationHandler {
	return &ConfirmationHandler{config: cfg, service: confirmations.NewService(db)}
}

// GET /interview-confirmation?token=&action=
func (h *ConfirmationHandler) GetConfirmation(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())
	token := utils.GetQueryParam(r, "token", "")
	deepLink := models.ConfirmationAction(utils.GetQueryParam(r, "action", ""))

	state, err := h.service.Resolve(r.Context(), token, deepLink)
	if err != nil {
		switch {
		case errors.Is(err, confirmations.ErrEmptyToken):
			utils.WriteFlatError(w, http.StatusBadRequest, "Confirmation token is required")
		case errors.Is(err, confirmations.ErrNotConfigured):
			logger.Error("resolve confirmation failed", "error", err)
			utils.WriteFlatError(w, http.StatusInternalServerError, confirmations.MsgSomethingWrong)
		default:
			logger.Error("resolve confirmation failed", "token", utils.TokenFingerprint(token), "error", err)
			utils.WriteFlatError(w, http.StatusBadGateway, msgConfirmationLookupFailed)
		}
		return
	}

	body, err := confirmations.Encode(state)
	if err != nil {
		logger.Error("encode confirmation state failed", "kind", state.Kind(), "error", err)
		utils.WriteFlatError(w, http.StatusInternalServerError, confirmations.MsgSomethingWrong)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	utils.WriteRawJSON(w, http.StatusOK, body)
}

// POST /api/interview-confirmation
func (h *ConfirmationHandler) SubmitConfirmation(w http.ResponseWriter, r *http.Request) {
	var req models.ConfirmationRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteFailure(w, http.StatusBadRequest, confirmations.MsgInvalidRequest)
		return
	}

	res, err := h.service.Respond(r.Context(), req)
	if err != nil {
		var re *confirmations.RespondError
		if errors.As(err, &re) {
			utils.WriteFailure(w, re.Status, re.Message)
			return
		}
		logging.FromContext(r.Context()).Error("submit confirmation failed", "error", err)
		utils.WriteFailure(w, http.StatusInternalServerError, confirmations.MsgSomethingWrong)
		return
	}
	utils.WriteJSON(w, http.StatusOK, res)
}
