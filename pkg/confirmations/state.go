// Package confirmations resolves interview confirmation tokens and forwards
// recipient decisions to the backend.
package confirmations

import (
	"encoding/json"
	"fmt"

	"hyrepro-admin/pkg/models"
)

// Kind tags a State variant.
type Kind string

const (
	KindInvalid   Kind = "invalid"
	KindProcessed Kind = "processed"
	KindPending   Kind = "pending"
	KindSubmitted Kind = "submitted"
)

// State is one of the confirmation view states.
type State interface {
	Kind() Kind
	Title() string
	// IsPending gates which actions are offered.
	IsPending() bool
}

// Invalid means the token resolved to nothing.
type Invalid struct{}

// Processed means the recipient already responded.
type Processed struct {
	Status       models.ConfirmationStatus    `json:"status"`
	Confirmation models.InterviewConfirmation `json:"confirmation"`
}

// Pending offers accept, decline and reschedule. SuggestedAction echoes a
// deep-link action; it pre-selects a step and is never submitted on its own.
type Pending struct {
	Confirmation    models.InterviewConfirmation `json:"confirmation"`
	SuggestedAction models.ConfirmationAction    `json:"suggested_action,omitempty"`
}

// Submitted is the terminal state after a successful response.
type Submitted struct {
	Action     models.ConfirmationAction `json:"action"`
	Result     models.ConfirmationResult `json:"result"`
	RedirectTo string                    `json:"redirect_to,omitempty"`
}

func (Invalid) Kind() Kind   { return KindInvalid }
func (Processed) Kind() Kind { return KindProcessed }
func (Pending) Kind() Kind   { return KindPending }
func (Submitted) Kind() Kind { return KindSubmitted }

func (Invalid) Title() string   { return "Invalid Link" }
func (Processed) Title() string { return "Already Responded" }
func (Pending) Title() string   { return "Interview Confirmation" }
func (s Submitted) Title() string {
	switch s.Action {
	case models.ConfirmationActionAccept:
		return "Interview Confirmed"
	case models.ConfirmationActionDecline:
		return "Interview Declined"
	default:
		return "Reschedule Requested"
	}
}

func (Invalid) IsPending() bool   { return false }
func (Processed) IsPending() bool { return false }
func (Pending) IsPending() bool   { return true }
func (Submitted) IsPending() bool { return false }

// Classify maps a confirmation record onto a State. c == nil means not found.
// Unknown deep-link actions are dropped.
func Classify(c *models.InterviewConfirmation, deepLink models.ConfirmationAction) State {
	if c == nil {
		return Invalid{}
	}
	if !c.IsPending() {
		return Processed{Status: c.Status, Confirmation: *c}
	}
	p := Pending{Confirmation: *c}
	if deepLink.Valid() {
		p.SuggestedAction = deepLink
	}
	return p
}

type envelope struct {
	Kind      Kind            `json:"kind"`
	Title     string          `json:"title"`
	IsPending bool            `json:"is_pending"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Encode renders s as {"kind","title","is_pending","data"}.
func Encode(s State) ([]byte, error) {
	env := envelope{Kind: s.Kind(), Title: s.Title(), IsPending: s.IsPending()}
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
		return nil, fmt.Errorf("decode confirmation state: %w", err)
	}
	var (
		s   State
		err error
	)
	switch env.Kind {
	case KindInvalid:
		return Invalid{}, nil
	case KindProcessed:
		var v Processed
		err = unmarshalData(env.Data, &v)
		s = v
	case KindPending:
		var v Pending
		err = unmarshalData(env.Data, &v)
		s = v
	case KindSubmitted:
		var v Submitted
		err = unmarshalData(env.Data, &v)
		s = v
	default:
		return nil, fmt.Errorf("unknown confirmation state %q", env.Kind)
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
