package models

import (
	"strings"
	"time"
)

type RecipientType string

const (
	RecipientCandidate RecipientType = "candidate"
	RecipientPanelist  RecipientType = "panelist"
)

type ConfirmationStatus string

const (
	ConfirmationPending             ConfirmationStatus = "pending"
	ConfirmationAccepted            ConfirmationStatus = "accepted"
	ConfirmationDeclined            ConfirmationStatus = "declined"
	ConfirmationRescheduleRequested ConfirmationStatus = "reschedule_requested"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s ConfirmationStatus) IsTerminal() bool {
	switch s {
	case ConfirmationAccepted, ConfirmationDeclined, ConfirmationRescheduleRequested:
		return true
	}
	return false
}

// ConfirmationAction is the decision a recipient submits for an interview.
type ConfirmationAction string

const (
	ConfirmationActionAccept     ConfirmationAction = "accept"
	ConfirmationActionDecline    ConfirmationAction = "decline"
	ConfirmationActionReschedule ConfirmationAction = "reschedule"
)

// Valid reports whether a is a known action.
func (a ConfirmationAction) Valid() bool {
	switch a {
	case ConfirmationActionAccept, ConfirmationActionDecline, ConfirmationActionReschedule:
		return true
	}
	return false
}

// ResultStatus is the confirmation status an action moves the recipient to.
func (a ConfirmationAction) ResultStatus() ConfirmationStatus {
	switch a {
	case ConfirmationActionAccept:
		return ConfirmationAccepted
	case ConfirmationActionDecline:
		return ConfirmationDeclined
	case ConfirmationActionReschedule:
		return ConfirmationRescheduleRequested
	}
	return ConfirmationPending
}

// Panelist is one interviewer on the panel together with their own response.
type Panelist struct {
	Email  string             `json:"email"`
	Name   string             `json:"name,omitempty"`
	Status ConfirmationStatus `json:"status"`
}

// InterviewSnapshot is the denormalized copy of the interview shown to recipients.
type InterviewSnapshot struct {
	ID            string     `json:"id"`
	Date          string     `json:"date"`
	Time          string     `json:"time"`
	Duration      int        `json:"duration"`
	Type          string     `json:"interview_type"`
	JobTitle      string     `json:"job_title"`
	SchoolName    string     `json:"school_name"`
	CandidateName string     `json:"candidate_name"`
	Status        string     `json:"status,omitempty"`
	Panelists     []Panelist `json:"panelists"`
}

// InterviewConfirmation is one recipient's confirmation record for an interview.
type InterviewConfirmation struct {
	ID             string             `json:"id"`
	ResponseToken  string             `json:"response_token,omitempty"`
	RecipientEmail string             `json:"recipient_email"`
	RecipientType  RecipientType      `json:"recipient_type"`
	Status         ConfirmationStatus `json:"status"`
	RespondedAt    *time.Time         `json:"responded_at,omitempty"`
	Interview      InterviewSnapshot  `json:"interview"`
}

// IsPending gates which actions a recipient is offered.
func (c *InterviewConfirmation) IsPending() bool {
	return c.Status == ConfirmationPending
}

// TimeSlot is one suggested alternative for a reschedule request.
type TimeSlot struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

// Complete is true when both date and time are filled.
func (s TimeSlot) Complete() bool {
	return strings.TrimSpace(s.Date) != "" && strings.TrimSpace(s.Time) != ""
}

// ConfirmationRequest is the body of the interview confirmation action endpoint.
type ConfirmationRequest struct {
	Token          string             `json:"token"`
	Action         ConfirmationAction `json:"action"`
	SuggestedTimes []TimeSlot         `json:"suggested_times,omitempty"`
	Reason         string             `json:"reason,omitempty"`
}

// ConfirmationResult is the response of handle-interview-confirmation.
type ConfirmationResult struct {
	Success         bool               `json:"success"`
	Message         string             `json:"message,omitempty"`
	Status          ConfirmationStatus `json:"status,omitempty"`
	AllResponded    *bool              `json:"all_responded,omitempty"`
	InterviewStatus string             `json:"interview_status,omitempty"`
	Error           string             `json:"error,omitempty"`
}
