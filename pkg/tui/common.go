// Package tui renders the invitation and interview-confirmation flows in a
// terminal with bubbletea. All decisions live in pkg/flow; this package only
// maps keys to flow operations and flow views to text.
package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).MarginBottom(1)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	dangerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1)
	dialogStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("9")).Padding(0, 1)
	focusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
)

var titleCaser = cases.Title(language.English)

// humanize turns "reschedule_requested" into "Reschedule Requested".
func humanize(s string) string {
	return titleCaser.String(strings.ReplaceAll(s, "_", " "))
}

// loadedMsg 加载完成
type loadedMsg struct{ err error }

// submittedMsg 提交完成
type submittedMsg struct{ err error }

// redirectMsg 流程请求跳转
type redirectMsg struct{ url string }

// redirectChannel adapts flow.Options.Navigate to a bubbletea message.
type redirectChannel chan string

func newRedirectChannel() redirectChannel { return make(chan string, 1) }

func (c redirectChannel) navigate(url string) {
	select {
	case c <- url:
	default:
	}
}

func (c redirectChannel) wait() tea.Cmd {
	return func() tea.Msg { return redirectMsg{url: <-c} }
}

func newSpinner() spinner.Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return s
}

func run(ctx context.Context, op func(context.Context) error, wrap func(error) tea.Msg) tea.Cmd {
	return func() tea.Msg { return wrap(op(ctx)) }
}

func help(keys ...string) string {
	return helpStyle.Render(strings.Join(keys, " • "))
}
