package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"hyrepro-admin/pkg/confirmations"
	"hyrepro-admin/pkg/flow"
	"hyrepro-admin/pkg/models"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// ConfirmModel 面试确认页面
type ConfirmModel struct {
	ctx       context.Context
	flow      *flow.ConfirmationFlow
	redirects redirectChannel
	spinner   spinner.Model
	input     textinput.Model

	// 当前子表单及焦点字段；改期表单字段顺序为 date0, time0, date1, time1, ..., reason
	editing flow.ConfirmationStage
	focus   int
	formErr string
	leaving string
}

// NewConfirmModel wires a flow whose redirects end the program.
func NewConfirmModel(ctx context.Context, api flow.ConfirmationAPI, token string, deepLink models.ConfirmationAction, opts flow.Options) *ConfirmModel {
	in := textinput.New()
	in.CharLimit = 500
	in.Width = 48
	m := &ConfirmModel{ctx: ctx, redirects: newRedirectChannel(), spinner: newSpinner(), input: in}
	opts.Navigate = m.redirects.navigate
	m.flow = flow.NewConfirmationFlow(api, token, deepLink, opts)
	return m
}

func (m *ConfirmModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.redirects.wait(), m.load())
}

func (m *ConfirmModel) load() tea.Cmd {
	return run(m.ctx, m.flow.Load, func(err error) tea.Msg { return loadedMsg{err} })
}

func (m *ConfirmModel) submit(op func(context.Context) error) tea.Cmd {
	return run(m.ctx, op, func(err error) tea.Msg { return submittedMsg{err} })
}

func (m *ConfirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case redirectMsg:
		m.leaving = msg.url
		return m, tea.Quit
	case loadedMsg, submittedMsg:
		m.sync()
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.flow.Abort()
			return m, tea.Quit
		}
		v := m.flow.View()
		if v.Loading {
			return m, nil
		}
		switch v.Stage {
		case flow.ConfirmationDecline:
			return m, m.updateDecline(msg)
		case flow.ConfirmationReschedule:
			return m, m.updateReschedule(msg, v)
		}
		return m, m.handleKey(msg.String(), v)
	}
	return m, nil
}

func (m *ConfirmModel) handleKey(key string, v flow.ConfirmationView) tea.Cmd {
	if key == "q" {
		m.flow.Abort()
		return tea.Quit
	}
	switch v.Stage {
	case flow.ConfirmationLoadFailed:
		if key == "r" {
			return m.load()
		}
	case flow.ConfirmationChoose:
		switch key {
		case "a":
			return m.submit(m.flow.Accept)
		case "d":
			_ = m.flow.StartDecline()
		case "s":
			_ = m.flow.StartReschedule()
		}
	case flow.ConfirmationConfirmAccept:
		switch key {
		case "y", "enter":
			return m.submit(m.flow.Accept)
		case "esc", "n":
			_ = m.flow.Back()
		}
	}
	m.sync()
	return nil
}

func (m *ConfirmModel) updateDecline(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		_ = m.flow.Back()
		m.sync()
		return nil
	case "enter":
		return m.submit(m.flow.SubmitDecline)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.flow.SetDeclineReason(m.input.Value())
	return cmd
}

func (m *ConfirmModel) updateReschedule(msg tea.KeyMsg, v flow.ConfirmationView) tea.Cmd {
	fields := 2*len(v.Slots) + 1
	switch msg.String() {
	case "esc":
		if m.commit() {
			_ = m.flow.Back()
			m.sync()
		}
		return nil
	case "tab", "down":
		if m.commit() {
			m.setFocus((m.focus + 1) % fields)
		}
		return nil
	case "shift+tab", "up":
		if m.commit() {
			m.setFocus((m.focus + fields - 1) % fields)
		}
		return nil
	case "ctrl+n":
		if m.commit() {
			_ = m.flow.EditReschedule(func(f *flow.RescheduleForm) error { f.AddSlot(); return nil })
			m.setFocus(2 * len(v.Slots))
		}
		return nil
	case "ctrl+x":
		if m.focus/2 < len(v.Slots) {
			err := m.flow.EditReschedule(func(f *flow.RescheduleForm) error { return f.RemoveSlot(m.focus / 2) })
			m.formErr = errText(err)
			if err == nil {
				m.setFocus(max(0, m.focus-2) &^ 1)
			}
		}
		return nil
	case "enter":
		if !m.commit() {
			return nil
		}
		if !m.flow.View().CanSubmit {
			m.formErr = "Fill in a date and time for every slot."
			return nil
		}
		return m.submit(m.flow.SubmitReschedule)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.focus == fields-1 {
		reason := m.input.Value()
		_ = m.flow.EditReschedule(func(f *flow.RescheduleForm) error { f.SetReason(reason); return nil })
	}
	return cmd
}

// commit 把输入框的值写回改期表单；校验失败时保留焦点
func (m *ConfirmModel) commit() bool {
	value := strings.TrimSpace(m.input.Value())
	slot, isTime := m.focus/2, m.focus%2 == 1
	err := m.flow.EditReschedule(func(f *flow.RescheduleForm) error {
		switch {
		case slot >= len(f.Slots()):
			f.SetReason(m.input.Value())
			return nil
		case isTime:
			return f.SetTime(slot, value)
		default:
			return f.SetDate(slot, value)
		}
	})
	m.formErr = errText(err)
	return err == nil
}

func (m *ConfirmModel) setFocus(i int) {
	m.focus = i
	v := m.flow.View()
	slot := i / 2
	m.input.Reset()
	switch {
	case slot >= len(v.Slots):
		m.input.Placeholder = "Reason (optional)"
		m.input.SetValue(v.RescheduleReason)
	case i%2 == 1:
		m.input.Placeholder = "HH:MM"
		m.input.SetValue(v.Slots[slot].Time)
	default:
		m.input.Placeholder = "YYYY-MM-DD, from " + v.MinDate
		m.input.SetValue(v.Slots[slot].Date)
	}
	m.input.Focus()
}

// sync 在阶段切换时重置输入框
func (m *ConfirmModel) sync() {
	v := m.flow.View()
	if v.Stage == m.editing {
		return
	}
	m.editing = v.Stage
	m.formErr = ""
	switch v.Stage {
	case flow.ConfirmationDecline:
		m.input.Reset()
		m.input.Placeholder = "Reason (optional)"
		m.input.SetValue(v.DeclineReason)
		m.input.Focus()
	case flow.ConfirmationReschedule:
		m.setFocus(0)
	default:
		m.input.Blur()
	}
}

func (m *ConfirmModel) View() string {
	if m.leaving != "" {
		return successStyle.Render("Redirecting…") + "\n"
	}
	v := m.flow.View()
	var b strings.Builder

	switch v.Stage {
	case flow.ConfirmationLoading:
		fmt.Fprintf(&b, "%s Loading interview details…\n", m.spinner.View())
		return b.String()
	case flow.ConfirmationLoadFailed:
		b.WriteString(errorStyle.Render(v.Error) + "\n")
		b.WriteString(help("r retry", "q quit"))
		return b.String()
	}

	b.WriteString(titleStyle.Render(v.State.Title()) + "\n")
	switch s := v.State.(type) {
	case confirmations.Invalid:
		b.WriteString("This confirmation link is invalid or has expired.\n")
	case confirmations.Processed:
		writeInterview(&b, s.Confirmation.Interview)
		fmt.Fprintf(&b, "You have already responded: %s.\n", humanize(string(s.Status)))
	case confirmations.Pending:
		writeInterview(&b, s.Confirmation.Interview)
	case confirmations.Submitted:
		msg := s.Result.Message
		if msg == "" {
			msg = "Thank you, your response has been recorded."
		}
		b.WriteString(successStyle.Render(msg) + "\n")
	}

	switch v.Stage {
	case flow.ConfirmationConfirmAccept:
		b.WriteString("\nConfirm that you will attend this interview?\n")
	case flow.ConfirmationDecline:
		b.WriteString("\n" + labelStyle.Render("Reason for declining:") + "\n" + m.input.View() + "\n")
	case flow.ConfirmationReschedule:
		m.writeReschedule(&b, v)
	}

	if m.formErr != "" {
		b.WriteString(errorStyle.Render(m.formErr) + "\n")
	}
	if v.Error != "" {
		b.WriteString(errorStyle.Render(v.Error) + "\n")
	}
	if v.Loading {
		fmt.Fprintf(&b, "%s Submitting…\n", m.spinner.View())
	}

	switch v.Stage {
	case flow.ConfirmationChoose:
		b.WriteString(help("a accept", "d decline", "s suggest other times", "q quit"))
	case flow.ConfirmationConfirmAccept:
		b.WriteString(help("y confirm", "esc back"))
	case flow.ConfirmationDecline:
		b.WriteString(help("enter submit", "esc back"))
	case flow.ConfirmationReschedule:
		b.WriteString(help("tab next field", "ctrl+n add slot", "ctrl+x remove slot", "enter submit", "esc back"))
	case flow.ConfirmationDone:
	default:
		b.WriteString(help("q quit"))
	}
	return b.String()
}

func (m *ConfirmModel) writeReschedule(b *strings.Builder, v flow.ConfirmationView) {
	b.WriteString("\n" + labelStyle.Render("Suggested times:") + "\n")
	for i, slot := range v.Slots {
		date, clock := slot.Date, slot.Time
		switch m.focus {
		case 2 * i:
			date = m.input.View()
		case 2*i + 1:
			clock = m.input.View()
		}
		fmt.Fprintf(b, "  %d. %s  %s\n", i+1, orDash(date), orDash(clock))
	}
	reason := v.RescheduleReason
	if m.focus == 2*len(v.Slots) {
		reason = m.input.View()
	}
	fmt.Fprintf(b, "%s %s\n", labelStyle.Render("Reason:"), orDash(reason))
}

func writeInterview(b *strings.Builder, iv models.InterviewSnapshot) {
	fmt.Fprintf(b, "%s %s\n", labelStyle.Render("Candidate:"), iv.CandidateName)
	fmt.Fprintf(b, "%s %s\n", labelStyle.Render("Position: "), iv.JobTitle)
	fmt.Fprintf(b, "%s %s\n", labelStyle.Render("School:   "), iv.SchoolName)
	fmt.Fprintf(b, "%s %s at %s (%d min)\n", labelStyle.Render("When:     "), iv.Date, iv.Time, iv.Duration)
	if iv.Type != "" {
		fmt.Fprintf(b, "%s %s\n", labelStyle.Render("Format:   "), humanize(iv.Type))
	}
	for _, p := range iv.Panelists {
		name := p.Name
		if name == "" {
			name = p.Email
		}
		fmt.Fprintf(b, "  %s %s\n", focusStyle.Render("•"), fmt.Sprintf("%s (%s)", name, humanize(string(p.Status))))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func errText(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, flow.ErrLastSlot):
		return "At least one time slot is required."
	case errors.Is(err, flow.ErrPastDate):
		return "Date cannot be in the past."
	case errors.Is(err, flow.ErrBadDate):
		return "Use YYYY-MM-DD for dates."
	case errors.Is(err, flow.ErrBadTime):
		return "Use HH:MM for times."
	}
	return err.Error()
}

// Leaving is the URL the flow redirected to, if any.
func (m *ConfirmModel) Leaving() string { return m.leaving }

// Err reports a flow that ended without a decision.
func (m *ConfirmModel) Err() error {
	if v := m.flow.View(); v.Error != "" && v.Stage != flow.ConfirmationDone {
		return errors.New(v.Error)
	}
	return nil
}
