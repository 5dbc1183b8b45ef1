package invitations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"hyrepro-admin/pkg/database"
	"hyrepro-admin/pkg/logging"
	"hyrepro-admin/pkg/models"
)

var (
	// ErrEmptyToken is returned by Resolve for a blank token.
	ErrEmptyToken = errors.New("invitation token is required")
	// ErrNotConfigured means the service has no backend.
	ErrNotConfigured = errors.New("invitation backend is not configured")
)

// Error messages returned by Respond.
const (
	MsgInvalidRequest   = "Invalid request"
	MsgUnauthorized     = "Unauthorized"
	MsgNotFound         = "Invitation not found"
	MsgAlreadyProcessed = "Invitation has already been processed"
	MsgExpired          = "Invitation has expired"
	MsgEmailMismatch    = "This invitation was sent to a different email address"
	MsgFailed           = "Failed to process invitation"
)

// RespondError is a failed decision with the HTTP status it maps to.
type RespondError struct {
	Status  int
	Message string
	Err     error
}

func (e *RespondError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *RespondError) Unwrap() error { return e.Err }

func fail(status int, msg string, err error) *RespondError {
	return &RespondError{Status: status, Message: msg, Err: err}
}

// Service resolves and responds to invitations.
type Service struct {
	db        database.DatabaseInterface
	dashboard string
	now       func() time.Time
}

// NewService 创建邀请服务
func NewService(db database.DatabaseInterface, dashboard string) *Service {
	return &Service{db: db, dashboard: dashboard, now: time.Now}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Resolve reads the invitation behind token and classifies it for user.
// user may be nil for anonymous visitors; they never see a conflict.
// Errors other than ErrEmptyToken are transient lookup failures.
func (s *Service) Resolve(ctx context.Context, token string, user *models.User) (State, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrEmptyToken
	}
	if s.db == nil {
		return nil, ErrNotConfigured
	}

	details, err := s.db.GetInvitationDetails(ctx, token)
	if errors.Is(err, database.ErrNotFound) {
		return Invalid{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get invitation details: %w", err)
	}

	var current *models.School
	if user != nil && details.Actionable(s.now()) {
		current, err = s.db.GetUserSchool(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("get user school: %w", err)
		}
	}
	return Classify(details, current, s.now(), s.dashboard), nil
}

// Respond applies req on behalf of user. A conflicting accept without
// confirmed=true returns RequiresConfirmation and commits nothing.
func (s *Service) Respond(ctx context.Context, user *models.User, req models.RespondInvitationRequest) (*models.RespondInvitationResponse, error) {
	logger := logging.FromContext(ctx)

	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" || (req.Action != models.InvitationActionAccept && req.Action != models.InvitationActionReject) {
		return nil, fail(http.StatusBadRequest, MsgInvalidRequest, nil)
	}
	if user == nil || user.ID == "" {
		return nil, fail(http.StatusUnauthorized, MsgUnauthorized, nil)
	}
	if s.db == nil {
		logger.Error("invitation backend call failed", "error", ErrNotConfigured)
		return nil, fail(http.StatusInternalServerError, MsgFailed, ErrNotConfigured)
	}

	details, err := s.db.GetInvitationDetails(ctx, req.Token)
	if err != nil {
		return nil, s.mapBackendError(logger, "get invitation details", err)
	}
	if details.Status != models.InvitationPending {
		return nil, fail(http.StatusConflict, MsgAlreadyProcessed, nil)
	}
	if details.Expired(s.now()) {
		return nil, fail(http.StatusGone, MsgExpired, nil)
	}
	if !strings.EqualFold(strings.TrimSpace(details.Email), strings.TrimSpace(user.Email)) {
		return nil, fail(http.StatusForbidden, MsgEmailMismatch, nil)
	}

	if req.Action == models.InvitationActionReject {
		if err := s.db.RejectInvitation(ctx, req.Token); err != nil {
			return nil, s.mapBackendError(logger, "reject invitation", err)
		}
		logger.Info("invitation rejected", "invitation_id", details.ID, "user_id", user.ID)
		return &models.RespondInvitationResponse{Success: true}, nil
	}

	target := details.School()
	current, err := s.db.GetUserSchool(ctx, user.ID)
	if err != nil {
		return nil, s.mapBackendError(logger, "get user school", err)
	}
	if conflict := models.DetectConflict(current, target); conflict != nil && (req.Confirmed == nil || !*req.Confirmed) {
		logger.Info("invitation accept requires transfer confirmation",
			"invitation_id", details.ID, "current_school", conflict.Current.ID, "target_school", conflict.Target.ID)
		return &models.RespondInvitationResponse{
			RequiresConfirmation: true,
			CurrentSchool:        &conflict.Current,
			TargetSchool:         &conflict.Target,
		}, nil
	}

	res, err := s.db.AcceptInvitation(ctx, req.Token, user.ID)
	if err != nil {
		return nil, s.mapBackendError(logger, "accept invitation", err)
	}
	joined := target
	if res != nil && res.SchoolID != "" {
		joined = models.School{ID: res.SchoolID, Name: res.SchoolName}
		if joined.Name == "" {
			joined.Name = target.Name
		}
	}
	logger.Info("invitation accepted", "invitation_id", details.ID, "user_id", user.ID, "school_id", joined.ID)
	return &models.RespondInvitationResponse{
		Success: true,
		School:  &joined,
		Message: "Joined " + joined.Name,
	}, nil
}

// mapBackendError converts backend sentinels into client-facing failures.
// Backend rejections keep their status and message; anything else is logged
// and reported generically.
func (s *Service) mapBackendError(logger *slog.Logger, op string, err error) *RespondError {
	var apiErr *database.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Message != "":
		status := apiErr.Status
		if status < 400 {
			status = http.StatusBadGateway
		}
		logger.Warn("invitation rejected by backend", "op", op, "status", apiErr.Status, "error", apiErr.Message)
		return fail(status, apiErr.Message, err)
	case errors.Is(err, database.ErrNotFound):
		return fail(http.StatusNotFound, MsgNotFound, err)
	case errors.Is(err, database.ErrAlreadyProcessed):
		return fail(http.StatusConflict, MsgAlreadyProcessed, err)
	case errors.Is(err, database.ErrExpired):
		return fail(http.StatusGone, MsgExpired, err)
	}
	logger.Error("invitation backend call failed", "op", op, "error", err)
	return fail(http.StatusInternalServerError, MsgFailed, err)
}
