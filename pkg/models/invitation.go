package models

import "time"

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRejected InvitationStatus = "rejected"
)

// Role is the role an invitation grants inside the target school.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleHR          Role = "hr"
	RoleInterviewer Role = "interviewer"
	RoleViewer      Role = "viewer"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleHR, RoleInterviewer, RoleViewer:
		return true
	}
	return false
}

// InvitationAction is a decision a recipient can send for an invitation.
type InvitationAction string

const (
	InvitationActionAccept InvitationAction = "accept"
	InvitationActionReject InvitationAction = "reject"
)

// InvitationDetails is the row returned by get_invitation_details.
type InvitationDetails struct {
	ID          string           `json:"id" db:"id"`
	Email       string           `json:"email" db:"email"`
	Role        Role             `json:"role" db:"role"`
	SchoolID    string           `json:"school_id" db:"school_id"`
	SchoolName  string           `json:"school_name" db:"school_name"`
	InviterName string           `json:"inviter_name,omitempty" db:"inviter_name"`
	Status      InvitationStatus `json:"status" db:"status"`
	ExpiresAt   time.Time        `json:"expires_at" db:"expires_at"`
	CreatedAt   time.Time        `json:"created_at,omitempty" db:"created_at"`
}

// Expired reports whether the invitation can no longer be used at now.
func (d *InvitationDetails) Expired(now time.Time) bool {
	return !now.Before(d.ExpiresAt)
}

// Actionable is true only while the invitation is pending and not expired.
func (d *InvitationDetails) Actionable(now time.Time) bool {
	return d.Status == InvitationPending && !d.Expired(now)
}

// School returns the target organization of the invitation.
func (d *InvitationDetails) School() School {
	return School{ID: d.SchoolID, Name: d.SchoolName}
}

// AcceptResult is what accept_invitation returns after committing.
type AcceptResult struct {
	Success    bool   `json:"success"`
	SchoolID   string `json:"school_id,omitempty"`
	SchoolName string `json:"school_name,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RespondInvitationRequest is the body of POST /api/respond-invitation.
type RespondInvitationRequest struct {
	Token     string           `json:"token"`
	Action    InvitationAction `json:"action"`
	Confirmed *bool            `json:"confirmed,omitempty"`
}

// RespondInvitationResponse is the body returned by POST /api/respond-invitation.
type RespondInvitationResponse struct {
	Success              bool    `json:"success,omitempty"`
	Message              string  `json:"message,omitempty"`
	Error                string  `json:"error,omitempty"`
	RequiresConfirmation bool    `json:"requiresConfirmation,omitempty"`
	CurrentSchool        *School `json:"currentSchool,omitempty"`
	TargetSchool         *School `json:"targetSchool,omitempty"`
	School               *School `json:"school,omitempty"`
}
