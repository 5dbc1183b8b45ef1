// Package client 调用邀请与面试确认接口的HTTP客户端
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hyrepro-admin/pkg/confirmations"
	"hyrepro-admin/pkg/invitations"
	"hyrepro-admin/pkg/models"

	"github.com/google/uuid"
)

const defaultTimeout = 30 * time.Second

// ErrTimeout 请求在客户端超时内未完成，可重试
var ErrTimeout = errors.New("request timed out")

// Error 非2xx响应
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Message)
}

// Retryable 网关错误、限流与服务端错误可以由用户重试
func (e *Error) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// IsRetryable reports whether err is worth offering a retry for.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}

// Client 面向单个用户会话的API客户端
type Client struct {
	baseURL     string
	accessToken string
	timeout     time.Duration
	httpClient  *http.Client
	newKey      func() string
}

// Option 配置 Client
type Option func(*Client)

// WithAccessToken 设置登录后的访问令牌
func WithAccessToken(token string) Option {
	return func(c *Client) { c.accessToken = strings.TrimSpace(token) }
}

// WithTimeout 设置单次请求超时
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient 替换底层 http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New 创建客户端
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: defaultTimeout,
		httpClient: &http.Client{
			// 接口只返回JSON，不跟随仪表盘重定向
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		newKey: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewIdempotencyKey 为一次用户发起的提交生成幂等键
func (c *Client) NewIdempotencyKey() string {
	return c.newKey()
}

// GetInvitation GET /invite/{token}
func (c *Client) GetInvitation(ctx context.Context, token string) (invitations.State, error) {
	body, err := c.do(ctx, http.MethodGet, "/invite/"+url.PathEscape(strings.TrimSpace(token)), nil, "")
	if err != nil {
		return nil, err
	}
	return invitations.Decode(body)
}

// RespondInvitation POST /api/respond-invitation
func (c *Client) RespondInvitation(ctx context.Context, req models.RespondInvitationRequest, idempotencyKey string) (*models.RespondInvitationResponse, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/respond-invitation", req, idempotencyKey)
	if err != nil {
		return nil, err
	}
	var res models.RespondInvitationResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("failed to parse invitation response: %w", err)
	}
	return &res, nil
}

// GetConfirmation GET /interview-confirmation?token=&action=
func (c *Client) GetConfirmation(ctx context.Context, token string, action models.ConfirmationAction) (confirmations.State, error) {
	q := url.Values{}
	q.Set("token", strings.TrimSpace(token))
	if action != "" {
		q.Set("action", string(action))
	}
	body, err := c.do(ctx, http.MethodGet, "/interview-confirmation?"+q.Encode(), nil, "")
	if err != nil {
		return nil, err
	}
	return confirmations.Decode(body)
}

// SubmitConfirmation POST /api/interview-confirmation
func (c *Client) SubmitConfirmation(ctx context.Context, req models.ConfirmationRequest, idempotencyKey string) (*models.ConfirmationResult, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/interview-confirmation", req, idempotencyKey)
	if err != nil {
		return nil, err
	}
	var res models.ConfirmationResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("failed to parse confirmation response: %w", err)
	}
	return &res, nil
}

// MySchool GET /api/me/school；未加入学校时返回 nil
func (c *Client) MySchool(ctx context.Context) (*models.School, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/me/school", nil, "")
	if err != nil {
		return nil, err
	}
	var res struct {
		Data struct {
			School *models.School `json:"school"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("failed to parse school response: %w", err)
	}
	return res.Data.School, nil
}

// do 发送请求；每个请求在独立的超时内完成
func (c *Client) do(ctx context.Context, method, path string, payload interface{}, idempotencyKey string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s %s: %w", method, path, ErrTimeout)
		}
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s %s: %w", method, path, ErrTimeout)
		}
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &Error{Status: resp.StatusCode, Message: errorMessage(body, resp.Status)}
	}
	return body, nil
}

// errorMessage 兼容扁平 {"error":"..."} 与信封 {"error":{"message":"..."}} 两种错误体
func errorMessage(body []byte, fallback string) string {
	var payload struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Error) > 0 {
		var s string
		if json.Unmarshal(payload.Error, &s) == nil && s != "" {
			return s
		}
		var env struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(payload.Error, &env) == nil && env.Message != "" {
			return env.Message
		}
	}
	return fallback
}
