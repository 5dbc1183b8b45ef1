// Package invitations resolves invitation tokens into view states and
// applies accept/reject decisions against the backend.
package invitations

import (
	"encoding/json"
	"fmt"
	"time"

	"hyrepro-admin/pkg/models"
)

// Kind tags a State variant.
type Kind string

const (
	KindInvalid       Kind = "invalid"
	KindExpired       Kind = "expired"
	KindProcessed     Kind = "processed"
	KindPending       Kind = "pending"
	KindConflict      Kind = "conflict"
	KindAlreadyMember Kind = "already_member"
	KindSubmitted     Kind = "submitted"
)

// State is one of the invitation view states. Exactly one variant is
// produced per resolution and only Pending and Conflict offer actions.
type State interface {
	Kind() Kind
	Title() string
	Actionable() bool
}

// Invalid means the token resolved to nothing.
type Invalid struct{}

// Expired means the invitation is pending but past its expiry.
type Expired struct {
	ExpiresAt  time.Time                `json:"expires_at"`
	Invitation models.InvitationDetails `json:"invitation"`
}

// Processed means the invitation already left the pending status.
type Processed struct {
	Status     models.InvitationStatus  `json:"status"`
	Invitation models.InvitationDetails `json:"invitation"`
}

// Pending is an actionable invitation without a membership conflict.
type Pending struct {
	Invitation models.InvitationDetails `json:"invitation"`
}

// Conflict is an actionable invitation whose acceptance would move the
// user out of their current school.
type Conflict struct {
	Invitation models.InvitationDetails `json:"invitation"`
	Current    models.School            `json:"currentSchool"`
	Target     models.School            `json:"targetSchool"`
}

// AlreadyMember short-circuits to the dashboard.
type AlreadyMember struct {
	School     models.School `json:"school"`
	RedirectTo string        `json:"redirect_to"`
}

// Submitted is the terminal state after a successful decision.
type Submitted struct {
	Action     models.InvitationAction `json:"action"`
	School     *models.School          `json:"school,omitempty"`
	Message    string                  `json:"message,omitempty"`
	RedirectTo string                  `json:"redirect_to"`
}

func (Invalid) Kind() Kind       { return KindInvalid }
func (Expired) Kind() Kind       { return KindExpired }
func (Processed) Kind() Kind     { return KindProcessed }
func (Pending) Kind() Kind       { return KindPending }
func (Conflict) Kind() Kind      { return KindConflict }
func (AlreadyMember) Kind() Kind { return KindAlreadyMember }
func (Submitted) Kind() Kind     { return KindSubmitted }

func (Invalid) Title() string       { return "Invalid Invitation" }
func (Expired) Title() string       { return "Invitation Expired" }
func (Processed) Title() string     { return "Invitation Already Processed" }
func (Pending) Title() string       { return "You're Invited" }
func (Conflict) Title() string      { return "You're Invited" }
func (AlreadyMember) Title() string { return "Already a Member" }
func (s Submitted) Title() string {
	if s.Action == models.InvitationActionReject {
		return "Invitation Declined"
	}
	return "Invitation Accepted"
}

func (Invalid) Actionable() bool       { return false }
func (Expired) Actionable() bool       { return false }
func (Processed) Actionable() bool     { return false }
func (Pending) Actionable() bool       { return true }
func (Conflict) Actionable() bool      { return true }
func (AlreadyMember) Actionable() bool { return false }
func (Submitted) Actionable() bool     { return false }

// Classify maps the authoritative invitation row and the caller's current
// school onto a State. details == nil means the token was not found.
// Processed wins over expired.
func Classify(details *models.InvitationDetails, current *models.School, now time.Time, dashboard string) State {
	if details == nil {
		return Invalid{}
	}
	if details.Status != models.InvitationPending {
		return Processed{Status: details.Status, Invitation: *details}
	}
	if details.Expired(now) {
		return Expired{ExpiresAt: details.ExpiresAt, Invitation: *details}
	}
	target := details.School()
	if current != nil && current.ID == target.ID {
		return AlreadyMember{School: target, RedirectTo: dashboard}
	}
	if conflict := models.DetectConflict(current, target); conflict != nil {
		return Conflict{Invitation: *details, Current: conflict.Current, Target: conflict.Target}
	}
	return Pending{Invitation: *details}
}

// envelope is the wire form of a State.
type envelope struct {
	Kind       Kind            `json:"kind"`
	Title      string          `json:"title"`
	Actionable bool            `json:"actionable"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Encode renders s as {"kind","title","actionable","data"}.
func Encode(s State) ([]byte, error) {
	env := envelope{Kind: s.Kind(), Title: s.Title(), Actionable: s.Actionable()}
	if _, ok := s.(Invalid); !ok {
		data, err := json.Marshal(s)
		if err != nil {
			return nil, err
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Decode is the inverse of Encode.
func Decode(raw []byte) (State, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode invitation state: %w", err)
	}
	var s State
	var err error
	switch env.Kind {
	case KindInvalid:
		return Invalid{}, nil
	case KindExpired:
		var v Expired
		err = unmarshalData(env.Data, &v)
		s = v
	case KindProcessed:
		var v Processed
		err = unmarshalData(env.Data, &v)
		s = v
	case KindPending:
		var v Pending
		err = unmarshalData(env.Data, &v)
		s = v
	case KindConflict:
		var v Conflict
		err = unmarshalData(env.Data, &v)
		s = v
	case KindAlreadyMember:
		var v AlreadyMember
		err = unmarshalData(env.Data, &v)
		s = v
	case KindSubmitted:
		var v Submitted
		err = unmarshalData(env.Data, &v)
		s = v
	default:
		return nil, fmt.Errorf("unknown invitation state %q", env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s state: %w", env.Kind, err)
	}
	return s, nil
}

func unmarshalData(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
