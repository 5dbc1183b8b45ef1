package flow

import (
	"context"
	"sync"
	"time"

	"hyrepro-admin/pkg/invitations"
	"hyrepro-admin/pkg/models"
)

// InvitationAPI is the slice of the API client the invitation page needs.
type InvitationAPI interface {
	GetInvitation(ctx context.Context, token string) (invitations.State, error)
	RespondInvitation(ctx context.Context, req models.RespondInvitationRequest, idempotencyKey string) (*models.RespondInvitationResponse, error)
	NewIdempotencyKey() string
}

// InvitationStage is what the invitation page currently shows.
type InvitationStage string

const (
	InvitationLoading       InvitationStage = "loading"
	InvitationLoadFailed    InvitationStage = "load_failed"
	InvitationClosed        InvitationStage = "closed"         // invalid / expired / processed
	InvitationAlreadyMember InvitationStage = "already_member" // redirecting
	InvitationReady         InvitationStage = "ready"          // A: no conflict
	InvitationConflict      InvitationStage = "conflict"       // B: accept is destructive
	InvitationConfirming    InvitationStage = "confirm_transfer"
	InvitationDone          InvitationStage = "submitted"
)

const msgInvitationFailed = "Failed to process invitation"

// InvitationView is a copy of the page state for rendering.
type InvitationView struct {
	Stage   InvitationStage
	State   invitations.State
	Loading bool
	// Dialog is set only in InvitationConfirming.
	Dialog *models.MembershipConflict
	Error  string
	Toast  string
}

// InvitationFlow 邀请页面状态机：A（无冲突）/ B（冲突）/ C（确认转移对话框）/ 终态
type InvitationFlow struct {
	api   InvitationAPI
	token string
	opts  Options

	mu         sync.Mutex
	guard      guard
	state      invitations.State
	dialog     *models.MembershipConflict
	loadFailed bool
	errMsg     string
	toast      string
	redirect   redirector
}

// NewInvitationFlow 创建流程；重定向默认在 1500ms 后前往 /dashboard
func NewInvitationFlow(api InvitationAPI, token string, opts Options) *InvitationFlow {
	return &InvitationFlow{
		api:   api,
		token: token,
		opts:  opts.withDefaults(1500*time.Millisecond, "/dashboard"),
	}
}

// View returns the current page state.
func (f *InvitationFlow) View() InvitationView {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.viewLocked()
}

func (f *InvitationFlow) viewLocked() InvitationView {
	v := InvitationView{State: f.state, Loading: f.guard.loading, Error: f.errMsg, Toast: f.toast}
	if f.dialog != nil {
		d := *f.dialog
		v.Dialog = &d
	}
	switch f.state.(type) {
	case nil:
		v.Stage = InvitationLoading
		if f.loadFailed {
			v.Stage = InvitationLoadFailed
		}
	case invitations.Invalid, invitations.Expired, invitations.Processed:
		v.Stage = InvitationClosed
	case invitations.AlreadyMember:
		v.Stage = InvitationAlreadyMember
	case invitations.Pending:
		v.Stage = InvitationReady
	case invitations.Conflict:
		v.Stage = InvitationConflict
		if f.dialog != nil {
			v.Stage = InvitationConfirming
		}
	case invitations.Submitted:
		v.Stage = InvitationDone
	default:
		v.Stage = InvitationClosed
	}
	return v
}

// Load resolves the token. It is also the retry after a failed load.
func (f *InvitationFlow) Load(ctx context.Context) error {
	f.mu.Lock()
	if f.state != nil {
		f.mu.Unlock()
		return ErrUnavailable
	}
	ctx, gen, err := f.guard.beginLocked(ctx, f.opts.RequestTimeout)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	f.loadFailed = false
	f.errMsg = ""
	f.mu.Unlock()

	state, err := f.api.GetInvitation(ctx, f.token)

	f.mu.Lock()
	if !f.guard.endLocked(gen) {
		f.mu.Unlock()
		return ErrStale
	}
	if err != nil {
		f.loadFailed = true
		f.errMsg = errorText(err, "Failed to load invitation")
		f.mu.Unlock()
		return err
	}
	f.state = state
	f.mu.Unlock()

	if m, ok := state.(invitations.AlreadyMember); ok {
		to := m.RedirectTo
		if to == "" {
			to = f.opts.RedirectTo
		}
		f.redirect.schedule(f.opts, to, 0)
	}
	return nil
}

// Accept sends the first accept. It never carries confirmed=true.
func (f *InvitationFlow) Accept(ctx context.Context) error {
	return f.submit(ctx, models.InvitationActionAccept, false, InvitationReady, InvitationConflict)
}

// Reject declines the invitation.
func (f *InvitationFlow) Reject(ctx context.Context) error {
	return f.submit(ctx, models.InvitationActionReject, false, InvitationReady, InvitationConflict)
}

// ConfirmTransfer resubmits accept with confirmed=true from the dialog.
func (f *InvitationFlow) ConfirmTransfer(ctx context.Context) error {
	return f.submit(ctx, models.InvitationActionAccept, true, InvitationConfirming)
}

// Cancel closes the transfer dialog without sending anything.
func (f *InvitationFlow) Cancel() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dialog == nil || f.guard.loading {
		return ErrUnavailable
	}
	f.dialog = nil
	f.errMsg = ""
	return nil
}

// Abort drops the in-flight request; its response will be discarded.
func (f *InvitationFlow) Abort() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.guard.abortLocked()
}

func (f *InvitationFlow) submit(ctx context.Context, action models.InvitationAction, confirmed bool, allowed ...InvitationStage) error {
	f.mu.Lock()
	if f.guard.loading {
		f.mu.Unlock()
		return ErrBusy
	}
	if !containsStage(allowed, f.viewLocked().Stage) {
		f.mu.Unlock()
		return ErrUnavailable
	}
	ctx, gen, err := f.guard.beginLocked(ctx, f.opts.RequestTimeout)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	f.errMsg = ""
	f.mu.Unlock()

	req := models.RespondInvitationRequest{Token: f.token, Action: action}
	if confirmed {
		t := true
		req.Confirmed = &t
	}
	res, err := f.api.RespondInvitation(ctx, req, f.api.NewIdempotencyKey())
	if err == nil && res == nil {
		err = errEmptyResponse
	}

	f.mu.Lock()
	done, err := f.applyLocked(gen, action, res, err)
	f.mu.Unlock()
	if done {
		f.redirect.schedule(f.opts, f.opts.RedirectTo, f.opts.RedirectDelay)
	}
	return err
}

// applyLocked records the answer to a submission; done means the flow is finished.
func (f *InvitationFlow) applyLocked(gen uint64, action models.InvitationAction, res *models.RespondInvitationResponse, err error) (bool, error) {
	if !f.guard.endLocked(gen) {
		return false, ErrStale
	}
	if err == nil && res.Error != "" {
		f.errMsg = res.Error
		return false, &respondFailure{msg: res.Error}
	}
	if err != nil {
		f.errMsg = errorText(err, msgInvitationFailed)
		return false, err
	}

	if res.RequiresConfirmation {
		// 服务端判定需要确认，未提交任何变更
		conflict := models.MembershipConflict{}
		if res.CurrentSchool != nil {
			conflict.Current = *res.CurrentSchool
		}
		if res.TargetSchool != nil {
			conflict.Target = *res.TargetSchool
		}
		if p, ok := f.state.(invitations.Pending); ok {
			f.state = invitations.Conflict{Invitation: p.Invitation, Current: conflict.Current, Target: conflict.Target}
		}
		f.dialog = &conflict
		return false, nil
	}

	f.dialog = nil
	submitted := invitations.Submitted{Action: action, School: res.School, Message: res.Message, RedirectTo: f.opts.RedirectTo}
	if action == models.InvitationActionAccept {
		f.toast = res.Message
		if f.toast == "" && res.School != nil {
			f.toast = "Joined " + res.School.Name
		}
	}
	f.state = submitted
	return true, nil
}

// respondFailure is a 200 answer that still carried an error.
type respondFailure struct{ msg string }

func (e *respondFailure) Error() string { return e.msg }

func containsStage(stages []InvitationStage, s InvitationStage) bool {
	for _, v := range stages {
		if v == s {
			return true
		}
	}
	return false
}
