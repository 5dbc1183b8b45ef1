package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	"hyrepro-admin/pkg/confirmations"
	"hyrepro-admin/pkg/flow"
	"hyrepro-admin/pkg/invitations"
	"hyrepro-admin/pkg/models"

	tea "github.com/charmbracelet/bubbletea"
)

// immediate 立即执行回调的调度器
type immediate struct{}

func (immediate) AfterFunc(_ time.Duration, f func()) func() bool {
	f()
	return func() bool { return false }
}

type inviteAPI struct {
	state invitations.State
	reqs  []models.RespondInvitationRequest
}

func (a *inviteAPI) conflict() (invitations.Conflict, bool) {
	c, ok := a.state.(invitations.Conflict)
	return c, ok
}

func (a *inviteAPI) GetInvitation(context.Context, string) (invitations.State, error) {
	return a.state, nil
}

func (a *inviteAPI) RespondInvitation(_ context.Context, req models.RespondInvitationRequest, _ string) (*models.RespondInvitationResponse, error) {
	a.reqs = append(a.reqs, req)
	if c, ok := a.conflict(); ok && req.Confirmed == nil {
		return &models.RespondInvitationResponse{RequiresConfirmation: true, CurrentSchool: &c.Current, TargetSchool: &c.Target}, nil
	}
	return &models.RespondInvitationResponse{Success: true, Message: "Welcome"}, nil
}

func (a *inviteAPI) NewIdempotencyKey() string { return "k" }

type confirmAPI struct {
	state confirmations.State
	reqs  []models.ConfirmationRequest
}

func (a *confirmAPI) GetConfirmation(context.Context, string, models.ConfirmationAction) (confirmations.State, error) {
	return a.state, nil
}

func (a *confirmAPI) SubmitConfirmation(_ context.Context, req models.ConfirmationRequest, _ string) (*models.ConfirmationResult, error) {
	a.reqs = append(a.reqs, req)
	return &models.ConfirmationResult{Success: true, Status: req.Action.ResultStatus()}, nil
}

func (a *confirmAPI) NewIdempotencyKey() string { return "k" }

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press 发送按键并同步执行返回的命令
func press(t *testing.T, m tea.Model, s string) {
	t.Helper()
	_, cmd := m.Update(key(s))
	if cmd != nil {
		m.Update(cmd())
	}
}

func typeText(m tea.Model, s string) {
	for _, r := range s {
		m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
}

func TestHumanize(t *testing.T) {
	tests := map[string]string{
		"reschedule_requested": "Reschedule Requested",
		"admin":                "Admin",
		"":                     "",
	}
	for in, want := range tests {
		if got := humanize(in); got != want {
			t.Errorf("humanize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInviteModelAcceptRedirects(t *testing.T) {
	api := &inviteAPI{state: invitations.Pending{Invitation: models.InvitationDetails{
		SchoolName: "Target Academy", Role: models.RoleInterviewer, InviterName: "Ada",
	}}}
	m := NewInviteModel(context.Background(), api, "tok", flow.Options{Scheduler: immediate{}})

	m.Update(m.load()())
	view := m.View()
	for _, want := range []string{"Target Academy", "Interviewer", "Ada", "a accept"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}

	press(t, m, "a")
	if len(api.reqs) != 1 || api.reqs[0].Action != models.InvitationActionAccept {
		t.Fatalf("requests = %+v", api.reqs)
	}

	_, cmd := m.Update(m.redirects.wait()())
	if cmd == nil {
		t.Fatal("expected quit after redirect")
	}
	if m.Leaving() != "/dashboard" {
		t.Errorf("leaving = %q", m.Leaving())
	}
	if !strings.Contains(m.View(), "Opening dashboard") {
		t.Errorf("view = %q", m.View())
	}
}

func TestInviteModelConflictNeedsConfirmation(t *testing.T) {
	api := &inviteAPI{state: invitations.Conflict{
		Invitation: models.InvitationDetails{SchoolName: "Target Academy", Role: models.RoleHR},
		Current:    models.School{ID: "s1", Name: "Old School"},
		Target:     models.School{ID: "s2", Name: "Target Academy"},
	}}
	m := NewInviteModel(context.Background(), api, "tok", flow.Options{Scheduler: immediate{}})
	m.Update(m.load()())

	if !strings.Contains(m.View(), "Old School") {
		t.Fatalf("view = %s", m.View())
	}
	press(t, m, "a")
	if len(api.reqs) != 1 || api.reqs[0].Confirmed != nil {
		t.Fatalf("first accept must not be confirmed, got %+v", api.reqs)
	}
	if !strings.Contains(m.View(), "will remove you from Old School") {
		t.Fatalf("dialog not shown:\n%s", m.View())
	}

	press(t, m, "n")
	if strings.Contains(m.View(), "will remove you") {
		t.Fatal("dialog still open after cancel")
	}
	if len(api.reqs) != 1 {
		t.Fatal("cancel must not submit")
	}
	if m.Leaving() != "" {
		t.Fatal("cancel must not redirect")
	}
}

func pendingConfirmation() confirmations.Pending {
	return confirmations.Pending{Confirmation: models.InterviewConfirmation{
		Status: models.ConfirmationPending,
		Interview: models.InterviewSnapshot{
			Date: "2026-11-02", Time: "10:00", Duration: 45,
			JobTitle: "Maths Teacher", SchoolName: "Target Academy", CandidateName: "Grace",
		},
	}}
}

func fixedNow() time.Time { return time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC) }

func TestConfirmModelDeepLinkDoesNotSubmit(t *testing.T) {
	state := pendingConfirmation()
	state.SuggestedAction = models.ConfirmationActionAccept
	api := &confirmAPI{state: state}
	m := NewConfirmModel(context.Background(), api, "tok", models.ConfirmationActionAccept, flow.Options{Scheduler: immediate{}})
	m.Update(m.load()())

	if len(api.reqs) != 0 {
		t.Fatal("deep link submitted on load")
	}
	if !strings.Contains(m.View(), "Confirm that you will attend") {
		t.Fatalf("view = %s", m.View())
	}
	press(t, m, "y")
	if len(api.reqs) != 1 || api.reqs[0].Action != models.ConfirmationActionAccept {
		t.Fatalf("requests = %+v", api.reqs)
	}
}

func TestConfirmModelDeclineWithReason(t *testing.T) {
	api := &confirmAPI{state: pendingConfirmation()}
	m := NewConfirmModel(context.Background(), api, "tok", "", flow.Options{Scheduler: immediate{}})
	m.Update(m.load()())

	press(t, m, "d")
	typeText(m, "Sick")
	press(t, m, "enter")
	if len(api.reqs) != 1 {
		t.Fatalf("requests = %+v", api.reqs)
	}
	if got := api.reqs[0]; got.Action != models.ConfirmationActionDecline || got.Reason != "Sick" {
		t.Errorf("request = %+v", got)
	}
}

func TestConfirmModelRescheduleValidation(t *testing.T) {
	api := &confirmAPI{state: pendingConfirmation()}
	m := NewConfirmModel(context.Background(), api, "tok", "", flow.Options{Scheduler: immediate{}, Now: fixedNow})
	m.Update(m.load()())

	press(t, m, "s")
	press(t, m, "enter")
	if len(api.reqs) != 0 {
		t.Fatal("incomplete slots were submitted")
	}
	if !strings.Contains(m.View(), "Fill in a date and time") {
		t.Fatalf("view = %s", m.View())
	}

	typeText(m, "2020-01-01")
	press(t, m, "tab")
	if !strings.Contains(m.View(), "past") {
		t.Fatalf("past date accepted:\n%s", m.View())
	}

	m.input.SetValue("2026-10-20")
	press(t, m, "tab")
	typeText(m, "14:30")
	press(t, m, "enter")
	if len(api.reqs) != 1 {
		t.Fatalf("requests = %+v", api.reqs)
	}
	got := api.reqs[0]
	if got.Action != models.ConfirmationActionReschedule || len(got.SuggestedTimes) != 1 {
		t.Fatalf("request = %+v", got)
	}
	if got.SuggestedTimes[0] != (models.TimeSlot{Date: "2026-10-20", Time: "14:30"}) {
		t.Errorf("slot = %+v", got.SuggestedTimes[0])
	}
}
