// cmd/respond 在终端中响应邀请或面试确认链接
//
//	respond invite <token>
//	respond confirm <token> [-action accept|decline|reschedule]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"hyrepro-admin/pkg/client"
	"hyrepro-admin/pkg/flow"
	"hyrepro-admin/pkg/models"
	"hyrepro-admin/pkg/tui"

	tea "github.com/charmbracelet/bubbletea"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  respond [-profile path] [-base-url url] [-token jwt] invite <token>")
	fmt.Fprintln(os.Stderr, "  respond [-profile path] [-base-url url] confirm <token> [-action accept|decline|reschedule]")
}

type result interface {
	tea.Model
	Leaving() string
	Err() error
}

func main() {
	defaultPath, _ := client.DefaultProfilePath()
	profilePath := flag.String("profile", defaultPath, "profile file")
	baseURL := flag.String("base-url", "", "API base URL (overrides profile)")
	accessToken := flag.String("token", "", "access token (overrides profile)")
	flag.Usage = usage
	flag.Parse()

	profile, err := client.LoadProfile(*profilePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading profile: %v\n", err)
		os.Exit(1)
	}
	if *baseURL != "" {
		profile.BaseURL = strings.TrimRight(*baseURL, "/")
	}
	if *accessToken != "" {
		profile.AccessToken = *accessToken
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.New(profile.BaseURL, profile.Options()...)
	opts := flow.Options{RequestTimeout: profile.Timeout}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	var model result
	switch args[0] {
	case "invite":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		if profile.AccessToken == "" {
			fmt.Fprintln(os.Stderr, "Sign in first: set access_token in the profile or pass -token")
			os.Exit(1)
		}
		opts.RedirectTo = dashboard(profile)
		opts.RedirectDelay = profile.InvitationRedirectDelay
		model = tui.NewInviteModel(ctx, api, args[1], opts)
	case "confirm":
		fs := flag.NewFlagSet("confirm", flag.ExitOnError)
		action := fs.String("action", "", "preselect accept, decline or reschedule")
		// 标志可以出现在令牌前后
		_ = fs.Parse(args[1:])
		token := fs.Arg(0)
		if fs.NArg() > 0 {
			_ = fs.Parse(fs.Args()[1:])
		}
		if token == "" || fs.NArg() != 0 {
			usage()
			os.Exit(2)
		}
		deepLink := models.ConfirmationAction(strings.ToLower(*action))
		if deepLink != "" && !deepLink.Valid() {
			fmt.Fprintf(os.Stderr, "Unknown action %q\n", *action)
			os.Exit(2)
		}
		opts.RedirectTo = strings.TrimRight(profile.DashboardURL, "/")
		opts.RedirectDelay = profile.ConfirmationRedirectDelay
		model = tui.NewConfirmModel(ctx, api, token, deepLink, opts)
	default:
		usage()
		os.Exit(2)
	}

	p := tea.NewProgram(model, tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
		os.Exit(1)
	}
	if url := model.Leaving(); url != "" {
		if args[0] == "invite" {
			reportSchool(ctx, api)
		}
		fmt.Println(url)
		return
	}
	if err := model.Err(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// reportSchool 接受或拒绝后回显当前所属学校
func reportSchool(ctx context.Context, api *client.Client) {
	school, err := api.MySchool(ctx)
	switch {
	case err != nil:
		fmt.Fprintf(os.Stderr, "Could not load current school: %v\n", err)
	case school == nil:
		fmt.Fprintln(os.Stderr, "You are not a member of any school.")
	default:
		fmt.Fprintf(os.Stderr, "Current school: %s\n", school.Name)
	}
}

// dashboard 跳转地址：配置了仪表盘地址则使用绝对地址
func dashboard(p *client.Profile) string {
	if p.DashboardURL == "" {
		return ""
	}
	return strings.TrimRight(p.DashboardURL, "/") + "/dashboard"
}
