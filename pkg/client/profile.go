package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Profile 命令行客户端配置，来自 ~/.config/hyrepro/respond.yaml，环境变量优先
type Profile struct {
	BaseURL      string        `yaml:"base_url" env:"HYREPRO_BASE_URL"`
	AccessToken  string        `yaml:"access_token" env:"HYREPRO_ACCESS_TOKEN"`
	DashboardURL string        `yaml:"dashboard_url" env:"HYREPRO_DASHBOARD_URL"`
	Timeout      time.Duration `yaml:"timeout" env:"HYREPRO_TIMEOUT"`

	// 成功后到跳转前的停留时间
	InvitationRedirectDelay   time.Duration `yaml:"invitation_redirect_delay" env:"INVITATION_REDIRECT_DELAY"`
	ConfirmationRedirectDelay time.Duration `yaml:"confirmation_redirect_delay" env:"CONFIRMATION_REDIRECT_DELAY"`
}

const (
	defaultBaseURL                   = "http://localhost:8080"
	defaultInvitationRedirectDelay   = 1500 * time.Millisecond
	defaultConfirmationRedirectDelay = time.Second
)

// DefaultProfilePath returns ~/.config/hyrepro/respond.yaml.
func DefaultProfilePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "hyrepro", "respond.yaml"), nil
}

// LoadProfile reads path; a missing file yields defaults.
func LoadProfile(path string) (*Profile, error) {
	p := &Profile{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("profile: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, p); err != nil {
				return nil, fmt.Errorf("profile: parse %s: %w", path, err)
			}
		}
	}
	if err := env.Parse(p); err != nil {
		return nil, fmt.Errorf("profile: env: %w", err)
	}
	p.BaseURL = strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
	if p.BaseURL == "" {
		p.BaseURL = defaultBaseURL
	}
	if p.Timeout <= 0 {
		p.Timeout = defaultTimeout
	}
	if p.InvitationRedirectDelay <= 0 {
		p.InvitationRedirectDelay = defaultInvitationRedirectDelay
	}
	if p.ConfirmationRedirectDelay <= 0 {
		p.ConfirmationRedirectDelay = defaultConfirmationRedirectDelay
	}
	return p, nil
}

// Options converts the profile into client options.
func (p *Profile) Options() []Option {
	opts := []Option{WithTimeout(p.Timeout)}
	if p.AccessToken != "" {
		opts = append(opts, WithAccessToken(p.AccessToken))
	}
	return opts
}
