package confirmations

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"hyrepro-admin/pkg/database"
	"hyrepro-admin/pkg/logging"
	"hyrepro-admin/pkg/models"
)

// ErrEmptyToken is returned by Resolve for a blank token.
var ErrEmptyToken = errors.New("confirmation token is required")

// ErrNotConfigured means no backend is available to forward decisions to.
var ErrNotConfigured = errors.New("interview confirmation backend is not configured")

const (
	MsgInvalidRequest   = "Invalid request"
	MsgInvalidAction    = "Invalid action"
	MsgIncompleteSlots  = "Please provide at least one complete suggested time"
	MsgInvalidLink      = "Invalid or expired link"
	MsgAlreadyResponded = "You have already responded to this interview"
	MsgSomethingWrong   = "Something went wrong"
	MsgFailedToSubmit   = "Failed to submit response"
)

// ValidationError is a request the backend is never asked about.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// RespondError is a failed decision carrying the status to answer with.
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

// Service resolves and submits interview confirmations.
type Service struct {
	db database.DatabaseInterface
}

// NewService 创建面试确认服务；db 为 nil 时所有提交返回配置错误
func NewService(db database.DatabaseInterface) *Service {
	return &Service{db: db}
}

// Resolve reads the confirmation behind token. deepLink is the optional
// action from the link query string.
func (s *Service) Resolve(ctx context.Context, token string, deepLink models.ConfirmationAction) (State, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrEmptyToken
	}
	if s.db == nil {
		return nil, ErrNotConfigured
	}
	c, err := s.db.GetInterviewConfirmation(ctx, token)
	if errors.Is(err, database.ErrNotFound) {
		return Invalid{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get interview confirmation: %w", err)
	}
	return Classify(c, deepLink), nil
}

// Normalize validates req and strips fields the action does not use.
func Normalize(req models.ConfirmationRequest) (models.ConfirmationRequest, error) {
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		return req, &ValidationError{Message: MsgInvalidRequest}
	}
	if !req.Action.Valid() {
		return req, &ValidationError{Message: MsgInvalidAction}
	}

	req.Reason = strings.TrimSpace(req.Reason)
	switch req.Action {
	case models.ConfirmationActionAccept:
		req.Reason = ""
		req.SuggestedTimes = nil
	case models.ConfirmationActionDecline:
		req.SuggestedTimes = nil
	case models.ConfirmationActionReschedule:
		if len(req.SuggestedTimes) == 0 {
			return req, &ValidationError{Message: MsgIncompleteSlots}
		}
		slots := make([]models.TimeSlot, 0, len(req.SuggestedTimes))
		for _, slot := range req.SuggestedTimes {
			if !slot.Complete() {
				return req, &ValidationError{Message: MsgIncompleteSlots}
			}
			slots = append(slots, models.TimeSlot{Date: strings.TrimSpace(slot.Date), Time: strings.TrimSpace(slot.Time)})
		}
		req.SuggestedTimes = slots
	}
	return req, nil
}

// Respond validates req and forwards it to the backend. The backend's JSON
// is returned unchanged on success; failures keep the backend's status.
func (s *Service) Respond(ctx context.Context, req models.ConfirmationRequest) (*models.ConfirmationResult, error) {
	logger := logging.FromContext(ctx)

	req, err := Normalize(req)
	if err != nil {
		return nil, &RespondError{Status: http.StatusBadRequest, Message: err.Error(), Err: err}
	}
	if s.db == nil {
		logger.Error("interview confirmation failed", "error", ErrNotConfigured)
		return nil, &RespondError{Status: http.StatusInternalServerError, Message: MsgSomethingWrong, Err: ErrNotConfigured}
	}

	res, err := s.db.HandleInterviewConfirmation(ctx, req)
	if err == nil {
		logger.Info("interview confirmation recorded", "action", req.Action, "status", res.Status, "interview_status", res.InterviewStatus)
		return res, nil
	}

	var apiErr *database.APIError
	switch {
	case errors.As(err, &apiErr):
		msg := apiErr.Message
		if msg == "" {
			msg = MsgFailedToSubmit
		}
		logger.Warn("interview confirmation rejected by backend", "status", apiErr.Status, "error", msg)
		return nil, &RespondError{Status: apiErr.Status, Message: msg, Err: err}
	case errors.Is(err, database.ErrNotFound):
		return nil, &RespondError{Status: http.StatusNotFound, Message: MsgInvalidLink, Err: err}
	case errors.Is(err, database.ErrAlreadyProcessed):
		return nil, &RespondError{Status: http.StatusConflict, Message: MsgAlreadyResponded, Err: err}
	}
	logger.Error("interview confirmation failed", "action", req.Action, "error", err)
	return nil, &RespondError{Status: http.StatusInternalServerError, Message: MsgSomethingWrong, Err: err}
}
