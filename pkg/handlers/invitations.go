package handlers

import (
	"errors"
	"net/http"
	"strings"

	"hyrepro-admin/pkg/config"
	"hyrepro-admin/pkg/database"
	"hyrepro-admin/pkg/invitations"
	"hyrepro-admin/pkg/logging"
	"hyrepro-admin/pkg/middleware"
	"hyrepro-admin/pkg/models"
	"hyrepro-admin/pkg/utils"

	"github.com/go-chi/chi/v5"
)

const msgInvitationLookupFailed = "Failed to load invitation"

// InvitationHandler 邀请链接处理器
type InvitationHandler struct {
	config  *config.Config
	service *invitations.Service
}

func NewInvitationHandler(cfg *config.Config, db database.DatabaseInterface) *InvitationHandler {
	return &InvitationHandler{
		config:  cfg,
		service: invitations.NewService(db, cfg.DashboardPath),
	}
}

// GET /invite/{token}
func (h *InvitationHandler) GetInvitation(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())
	token := chi.URLParam(r, "token")

	// 未登录访问者也能看到邀请，只是不会出现冲突
	user, _ := middleware.GetUserFromContext(r.Context())
	state, err := h.service.Resolve(r.Context(), token, user)
	if err != nil {
		if errors.Is(err, invitations.ErrEmptyToken) {
			utils.WriteFlatError(w, http.StatusBadRequest, "Invitation token is required")
			return
		}
		logger.Error("resolve invitation failed", "token", utils.TokenFingerprint(token), "error", err)
		if errors.Is(err, invitations.ErrNotConfigured) {
			utils.WriteFlatError(w, http.StatusInternalServerError, invitations.MsgFailed)
			return
		}
		utils.WriteFlatError(w, http.StatusBadGateway, msgInvitationLookupFailed)
		return
	}

	if member, ok := state.(invitations.AlreadyMember); ok && wantsHTML(r) {
		http.Redirect(w, r, member.RedirectTo, http.StatusSeeOther)
		return
	}

	body, err := invitations.Encode(state)
	if err != nil {
		logger.Error("encode invitation state failed", "kind", state.Kind(), "error", err)
		utils.WriteInternalServerErrorResponse(w, "Failed to encode invitation")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	utils.WriteRawJSON(w, http.StatusOK, body)
}

// POST /api/respond-invitation
func (h *InvitationHandler) RespondInvitation(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteFlatError(w, http.StatusUnauthorized, invitations.MsgUnauthorized)
		return
	}

	var req models.RespondInvitationRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteFlatError(w, http.StatusBadRequest, invitations.MsgInvalidRequest)
		return
	}

	res, err := h.service.Respond(r.Context(), user, req)
	if err != nil {
		var re *invitations.RespondError
		if errors.As(err, &re) {
			utils.WriteFlatError(w, re.Status, re.Message)
			return
		}
		logging.FromContext(r.Context()).Error("respond invitation failed", "error", err)
		utils.WriteFlatError(w, http.StatusInternalServerError, invitations.MsgFailed)
		return
	}
	utils.WriteJSON(w, http.StatusOK, res)
}

// wantsHTML 浏览器导航请求（Accept 含 text/html）
func wantsHTML(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Accept")), "text/html")
}
