package flow

import (
	"context"
	"strings"
	"sync"
	"time"

	"hyrepro-admin/pkg/confirmations"
	"hyrepro-admin/pkg/models"
)

// ConfirmationAPI is the slice of the API client the confirmation page needs.
type ConfirmationAPI interface {
	GetConfirmation(ctx context.Context, token string, action models.ConfirmationAction) (confirmations.State, error)
	SubmitConfirmation(ctx context.Context, req models.ConfirmationRequest, idempotencyKey string) (*models.ConfirmationResult, error)
	NewIdempotencyKey() string
}

// ConfirmationStage is what the confirmation page currently shows.
type ConfirmationStage string

const (
	ConfirmationLoading       ConfirmationStage = "loading"
	ConfirmationLoadFailed    ConfirmationStage = "load_failed"
	ConfirmationInvalid       ConfirmationStage = "invalid"
	ConfirmationProcessed     ConfirmationStage = "processed"
	ConfirmationChoose        ConfirmationStage = "choose"
	ConfirmationConfirmAccept ConfirmationStage = "confirm_accept"
	ConfirmationDecline       ConfirmationStage = "decline"
	ConfirmationReschedule    ConfirmationStage = "reschedule"
	ConfirmationDone          ConfirmationStage = "submitted"
)

const (
	msgSomethingWrong = "Something went wrong"
	msgSubmitFailed   = "Failed to submit response"
)

// ConfirmationView is a copy of the page state for rendering.
type ConfirmationView struct {
	Stage     ConfirmationStage
	State     confirmations.State
	Loading   bool
	IsPending bool
	Error     string

	DeclineReason    string
	Slots            []models.TimeSlot
	RescheduleReason string
	MinDate          string
	CanSubmit        bool
	CanRemoveSlot    bool
}

// ConfirmationFlow 面试确认页面状态机。深链接只预选步骤，从不自动提交。
type ConfirmationFlow struct {
	api      ConfirmationAPI
	token    string
	deepLink models.ConfirmationAction
	opts     Options

	mu            sync.Mutex
	guard         guard
	state         confirmations.State
	step          ConfirmationStage
	loadFailed    bool
	errMsg        string
	declineReason string
	form          *RescheduleForm
	redirect      redirector
}

// NewConfirmationFlow 创建流程；成功后 1000ms 跳转
func NewConfirmationFlow(api ConfirmationAPI, token string, deepLink models.ConfirmationAction, opts Options) *ConfirmationFlow {
	opts = opts.withDefaults(time.Second, "/")
	return &ConfirmationFlow{
		api:      api,
		token:    token,
		deepLink: deepLink,
		opts:     opts,
		form:     NewRescheduleForm(opts.Now),
	}
}

// View returns the current page state.
func (f *ConfirmationFlow) View() ConfirmationView {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.viewLocked()
}

func (f *ConfirmationFlow) viewLocked() ConfirmationView {
	v := ConfirmationView{
		State:            f.state,
		Loading:          f.guard.loading,
		Error:            f.errMsg,
		DeclineReason:    f.declineReason,
		Slots:            f.form.Slots(),
		RescheduleReason: f.form.Reason(),
		MinDate:          f.form.MinDate(),
		CanSubmit:        f.form.CanSubmit(),
		CanRemoveSlot:    f.form.CanRemove(),
	}
	switch f.state.(type) {
	case nil:
		v.Stage = ConfirmationLoading
		if f.loadFailed {
			v.Stage = ConfirmationLoadFailed
		}
	case confirmations.Invalid:
		v.Stage = ConfirmationInvalid
	case confirmations.Processed:
		v.Stage = ConfirmationProcessed
	case confirmations.Pending:
		v.Stage = f.step
		v.IsPending = true
	case confirmations.Submitted:
		v.Stage = ConfirmationDone
	default:
		v.Stage = ConfirmationInvalid
	}
	return v
}

// Load resolves the token; it is also the retry after a failed load.
func (f *ConfirmationFlow) Load(ctx context.Context) error {
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

	state, err := f.api.GetConfirmation(ctx, f.token, f.deepLink)

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.guard.endLocked(gen) {
		return ErrStale
	}
	if err != nil {
		f.loadFailed = true
		f.errMsg = errorText(err, msgSomethingWrong)
		return err
	}
	f.state = state
	f.step = ConfirmationChoose
	if p, ok := state.(confirmations.Pending); ok {
		switch p.SuggestedAction {
		case models.ConfirmationActionAccept:
			f.step = ConfirmationConfirmAccept
		case models.ConfirmationActionDecline:
			f.step = ConfirmationDecline
		case models.ConfirmationActionReschedule:
			f.step = ConfirmationReschedule
		}
	}
	return nil
}

// StartDecline opens the decline sub-form.
func (f *ConfirmationFlow) StartDecline() error {
	return f.moveTo(ConfirmationDecline)
}

// StartReschedule opens the reschedule sub-form.
func (f *ConfirmationFlow) StartReschedule() error {
	return f.moveTo(ConfirmationReschedule)
}

// Back returns to action selection without submitting. Form content is kept.
func (f *ConfirmationFlow) Back() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.viewLocked().Stage {
	case ConfirmationConfirmAccept, ConfirmationDecline, ConfirmationReschedule:
	default:
		return ErrUnavailable
	}
	if f.guard.loading {
		return ErrBusy
	}
	f.step = ConfirmationChoose
	f.errMsg = ""
	return nil
}

func (f *ConfirmationFlow) moveTo(step ConfirmationStage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.viewLocked().Stage != ConfirmationChoose {
		return ErrUnavailable
	}
	if f.guard.loading {
		return ErrBusy
	}
	f.step = step
	f.errMsg = ""
	return nil
}

// SetDeclineReason stores the optional decline reason.
func (f *ConfirmationFlow) SetDeclineReason(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declineReason = reason
}

// EditReschedule applies edit to the reschedule form.
func (f *ConfirmationFlow) EditReschedule(edit func(*RescheduleForm) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return edit(f.form)
}

// Accept submits accept from the action list or the deep-link confirm step.
func (f *ConfirmationFlow) Accept(ctx context.Context) error {
	return f.submit(ctx, func() (models.ConfirmationRequest, error) {
		return models.ConfirmationRequest{Token: f.token, Action: models.ConfirmationActionAccept}, nil
	}, ConfirmationChoose, ConfirmationConfirmAccept)
}

// SubmitDecline submits decline with the optional reason.
func (f *ConfirmationFlow) SubmitDecline(ctx context.Context) error {
	return f.submit(ctx, func() (models.ConfirmationRequest, error) {
		return models.ConfirmationRequest{
			Token:  f.token,
			Action: models.ConfirmationActionDecline,
			Reason: strings.TrimSpace(f.declineReason),
		}, nil
	}, ConfirmationDecline)
}

// SubmitReschedule submits the slots; incomplete slots never reach the server.
func (f *ConfirmationFlow) SubmitReschedule(ctx context.Context) error {
	return f.submit(ctx, func() (models.ConfirmationRequest, error) {
		if !f.form.CanSubmit() {
			return models.ConfirmationRequest{}, ErrIncomplete
		}
		return f.form.request(f.token), nil
	}, ConfirmationReschedule)
}

// Abort drops the in-flight request; its response will be discarded.
func (f *ConfirmationFlow) Abort() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.guard.abortLocked()
}

// submit 在锁内构造请求，释放锁后发送
func (f *ConfirmationFlow) submit(ctx context.Context, build func() (models.ConfirmationRequest, error), allowed ...ConfirmationStage) error {
	f.mu.Lock()
	if f.guard.loading {
		f.mu.Unlock()
		return ErrBusy
	}
	stage := f.viewLocked().Stage
	ok := false
	for _, s := range allowed {
		ok = ok || s == stage
	}
	if !ok {
		f.mu.Unlock()
		return ErrUnavailable
	}
	req, err := build()
	if err != nil {
		f.mu.Unlock()
		return err
	}
	ctx, gen, err := f.guard.beginLocked(ctx, f.opts.RequestTimeout)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	f.errMsg = ""
	f.mu.Unlock()

	res, err := f.api.SubmitConfirmation(ctx, req, f.api.NewIdempotencyKey())
	if err == nil && res == nil {
		err = errEmptyResponse
	}

	f.mu.Lock()
	if !f.guard.endLocked(gen) {
		f.mu.Unlock()
		return ErrStale
	}
	if err == nil && !res.Success {
		msg := res.Error
		if msg == "" {
			msg = msgSubmitFailed
		}
		f.errMsg = msg
		f.mu.Unlock()
		return &respondFailure{msg: msg}
	}
	if err != nil {
		f.errMsg = errorText(err, msgSomethingWrong)
		f.mu.Unlock()
		return err
	}
	f.state = confirmations.Submitted{Action: req.Action, Result: *res, RedirectTo: f.opts.RedirectTo}
	f.mu.Unlock()

	f.redirect.schedule(f.opts, f.opts.RedirectTo, f.opts.RedirectDelay)
	return nil
}
