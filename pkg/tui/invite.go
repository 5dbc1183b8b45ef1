package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"hyrepro-admin/pkg/flow"
	"hyrepro-admin/pkg/invitations"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// InviteModel 邀请页面
type InviteModel struct {
	ctx       context.Context
	flow      *flow.InvitationFlow
	redirects redirectChannel
	spinner   spinner.Model
	leaving   string
}

// NewInviteModel wires a flow whose redirects end the program.
func NewInviteModel(ctx context.Context, api flow.InvitationAPI, token string, opts flow.Options) *InviteModel {
	m := &InviteModel{ctx: ctx, redirects: newRedirectChannel(), spinner: newSpinner()}
	opts.Navigate = m.redirects.navigate
	m.flow = flow.NewInvitationFlow(api, token, opts)
	return m
}

func (m *InviteModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.redirects.wait(), m.load())
}

func (m *InviteModel) load() tea.Cmd {
	return run(m.ctx, m.flow.Load, func(err error) tea.Msg { return loadedMsg{err} })
}

func (m *InviteModel) submit(op func(context.Context) error) tea.Cmd {
	return run(m.ctx, op, func(err error) tea.Msg { return submittedMsg{err} })
}

func (m *InviteModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case redirectMsg:
		m.leaving = msg.url
		return m, tea.Quit
	case loadedMsg, submittedMsg:
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		return m, m.handleKey(msg.String())
	}
	return m, nil
}

func (m *InviteModel) handleKey(key string) tea.Cmd {
	if key == "ctrl+c" || key == "q" {
		m.flow.Abort()
		return tea.Quit
	}
	v := m.flow.View()
	if v.Loading {
		return nil
	}
	switch v.Stage {
	case flow.InvitationLoadFailed:
		if key == "r" {
			return m.load()
		}
	case flow.InvitationReady, flow.InvitationConflict:
		switch key {
		case "a":
			return m.submit(m.flow.Accept)
		case "d":
			return m.submit(m.flow.Reject)
		}
	case flow.InvitationConfirming:
		switch key {
		case "y", "enter":
			return m.submit(m.flow.ConfirmTransfer)
		case "n", "esc":
			_ = m.flow.Cancel()
		}
	}
	return nil
}

func (m *InviteModel) View() string {
	if m.leaving != "" {
		return successStyle.Render("Opening dashboard…") + "\n"
	}
	v := m.flow.View()
	var b strings.Builder

	switch v.Stage {
	case flow.InvitationLoading:
		fmt.Fprintf(&b, "%s Loading invitation…\n", m.spinner.View())
		return b.String()
	case flow.InvitationLoadFailed:
		b.WriteString(errorStyle.Render(v.Error) + "\n")
		b.WriteString(help("r retry", "q quit"))
		return b.String()
	}

	b.WriteString(titleStyle.Render(v.State.Title()) + "\n")
	switch s := v.State.(type) {
	case invitations.Expired:
		fmt.Fprintf(&b, "This invitation to %s expired on %s.\n", s.Invitation.SchoolName, s.ExpiresAt.Format("Jan 2, 2006"))
	case invitations.Processed:
		fmt.Fprintf(&b, "This invitation was already %s.\n", humanize(string(s.Status)))
	case invitations.Invalid:
		b.WriteString("This invitation link is invalid.\n")
	case invitations.Pending:
		writeInvitation(&b, s.Invitation.SchoolName, string(s.Invitation.Role), s.Invitation.InviterName)
	case invitations.Conflict:
		writeInvitation(&b, s.Target.Name, string(s.Invitation.Role), s.Invitation.InviterName)
		b.WriteString(dangerStyle.Render(fmt.Sprintf("You are currently a member of %s.", s.Current.Name)) + "\n")
	case invitations.AlreadyMember:
		fmt.Fprintf(&b, "You are already a member of %s.\n", s.School.Name)
	case invitations.Submitted:
		if v.Toast != "" {
			b.WriteString(successStyle.Render(v.Toast) + "\n")
		} else {
			b.WriteString("Your response has been recorded.\n")
		}
	}

	if v.Dialog != nil {
		b.WriteString(dialogStyle.Render(fmt.Sprintf(
			"Joining %s will remove you from %s.\nYou will lose access to %s's data.",
			v.Dialog.Target.Name, v.Dialog.Current.Name, v.Dialog.Current.Name)) + "\n")
	}
	if v.Error != "" {
		b.WriteString(errorStyle.Render(v.Error) + "\n")
	}
	if v.Loading {
		fmt.Fprintf(&b, "%s Submitting…\n", m.spinner.View())
	}

	switch v.Stage {
	case flow.InvitationReady:
		b.WriteString(help("a accept", "d decline", "q quit"))
	case flow.InvitationConflict:
		b.WriteString(help(dangerStyle.Render("a accept and leave current school"), "d decline", "q quit"))
	case flow.InvitationConfirming:
		b.WriteString(help("y confirm transfer", "n cancel"))
	case flow.InvitationDone:
	default:
		b.WriteString(help("q quit"))
	}
	return b.String()
}

func writeInvitation(b *strings.Builder, school, role, inviter string) {
	fmt.Fprintf(b, "%s %s\n", labelStyle.Render("School:"), school)
	fmt.Fprintf(b, "%s %s\n", labelStyle.Render("Role:  "), humanize(role))
	if inviter != "" {
		fmt.Fprintf(b, "%s %s\n", labelStyle.Render("From:  "), inviter)
	}
}

// Leaving is the URL the flow redirected to, if any.
func (m *InviteModel) Leaving() string { return m.leaving }

// Err reports a flow that ended without a decision.
func (m *InviteModel) Err() error {
	if v := m.flow.View(); v.Error != "" && v.Stage != flow.InvitationDone {
		return errors.New(v.Error)
	}
	return nil
}
