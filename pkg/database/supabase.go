package database

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"hyrepro-admin/pkg/models"
)

// SupabaseDatabase Supabase数据库实现（REST RPC + 边缘函数）
type SupabaseDatabase struct {
	baseURL      string
	functionsURL string
	anonKey      string
	serviceKey   string
	httpClient   *http.Client
}

// NewSupabaseDatabase 创建Supabase数据库实例
func NewSupabaseDatabase(config DatabaseConfig) *SupabaseDatabase {
	// 确保URL格式正确
	url := strings.TrimRight(config.SupabaseURL, "/")
	if !strings.HasPrefix(url, "http") {
		url = "https://" + url
	}
	functionsURL := strings.TrimRight(config.FunctionsURL, "/")
	if functionsURL == "" {
		functionsURL = url + "/functions/v1"
	}

	return &SupabaseDatabase{
		baseURL:      url,
		functionsURL: functionsURL,
		anonKey:      config.SupabaseAnonKey,
		serviceKey:   config.SupabaseServiceKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// restKey 优先使用 service key，未配置时退回匿名密钥
func (db *SupabaseDatabase) restKey() string {
	if db.serviceKey != "" {
		return db.serviceKey
	}
	return db.anonKey
}

// makeRequest 发送HTTP请求到Supabase
func (db *SupabaseDatabase) makeRequest(ctx context.Context, method, url, key string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// 设置请求头
	req.Header.Set("apikey", key)
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := db.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return respBody, &APIError{Status: resp.StatusCode, Message: extractErrorMessage(respBody)}
	}
	return respBody, nil
}

// rpc 调用 /rest/v1/rpc/<name>
func (db *SupabaseDatabase) rpc(ctx context.Context, name string, params interface{}) ([]byte, error) {
	return db.makeRequest(ctx, http.MethodPost, db.baseURL+"/rest/v1/rpc/"+name, db.restKey(), params)
}

// extractErrorMessage 兼容 {error} / {message} / {msg} 三种错误体
func extractErrorMessage(body []byte) string {
	var payload struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Msg     string          `json:"msg"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if len(payload.Error) > 0 {
			var s string
			if json.Unmarshal(payload.Error, &s) == nil && s != "" {
				return s
			}
		}
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Msg != "" {
			return payload.Msg
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "empty response"
	}
	return text
}

// decodeSingle 解析返回单行的RPC：对象、数组首元素或 null
func decodeSingle(data []byte, v interface{}) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ErrNotFound
	}
	if trimmed[0] == '[' {
		var rows []json.RawMessage
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return fmt.Errorf("failed to parse rpc rows: %w", err)
		}
		if len(rows) == 0 || bytes.Equal(bytes.TrimSpace(rows[0]), []byte("null")) {
			return ErrNotFound
		}
		trimmed = rows[0]
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return fmt.Errorf("failed to parse rpc row: %w", err)
	}
	return nil
}

// Invitations

func (db *SupabaseDatabase) GetInvitationDetails(ctx context.Context, token string) (*models.InvitationDetails, error) {
	data, err := db.rpc(ctx, RPCGetInvitationDetails, map[string]interface{}{"invitation_token": token})
	if err != nil {
		return nil, err
	}
	var inv models.InvitationDetails
	if err := decodeSingle(data, &inv); err != nil {
		return nil, err
	}
	if inv.ID == "" {
		return nil, ErrNotFound
	}
	return &inv, nil
}

func (db *SupabaseDatabase) AcceptInvitation(ctx context.Context, token, userID string) (*models.AcceptResult, error) {
	data, err := db.rpc(ctx, RPCAcceptInvitation, map[string]interface{}{
		"invitation_token": token,
		"p_user_id":        userID,
	})
	if err != nil {
		return nil, err
	}
	var res models.AcceptResult
	if err := decodeSingle(data, &res); err != nil {
		return nil, err
	}
	if !res.Success {
		return &res, &APIError{Status: http.StatusBadRequest, Message: res.Error}
	}
	return &res, nil
}

func (db *SupabaseDatabase) RejectInvitation(ctx context.Context, token string) error {
	data, err := db.rpc(ctx, RPCRejectInvitation, map[string]interface{}{"invitation_token": token})
	if err != nil {
		return err
	}
	var res models.AcceptResult
	if err := decodeSingle(data, &res); err != nil {
		if errors.Is(err, ErrNotFound) {
			// void 函数返回空体
			return nil
		}
		return err
	}
	if !res.Success && res.Error != "" {
		return &APIError{Status: http.StatusBadRequest, Message: res.Error}
	}
	return nil
}

// Organizations

func (db *SupabaseDatabase) GetUserSchool(ctx context.Context, userID string) (*models.School, error) {
	data, err := db.rpc(ctx, RPCGetUserSchool, map[string]interface{}{"p_user_id": userID})
	if err != nil {
		return nil, err
	}
	var school models.School
	if err := decodeSingle(data, &school); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if school.ID == "" {
		return nil, nil
	}
	return &school, nil
}

// Interview confirmations

func (db *SupabaseDatabase) GetInterviewConfirmation(ctx context.Context, token string) (*models.InterviewConfirmation, error) {
	data, err := db.rpc(ctx, RPCGetInterviewConfirmation, map[string]interface{}{"p_response_token": token})
	if err != nil {
		return nil, err
	}
	var c models.InterviewConfirmation
	if err := decodeSingle(data, &c); err != nil {
		return nil, err
	}
	if c.ID == "" {
		return nil, ErrNotFound
	}
	return &c, nil
}

// HandleInterviewConfirmation 调用边缘函数，使用匿名密钥
func (db *SupabaseDatabase) HandleInterviewConfirmation(ctx context.Context, req models.ConfirmationRequest) (*models.ConfirmationResult, error) {
	url := db.functionsURL + "/" + FunctionHandleInterviewConfirmation
	data, err := db.makeRequest(ctx, http.MethodPost, url, db.anonKey, req)

	var res models.ConfirmationResult
	if len(bytes.TrimSpace(data)) > 0 {
		if jerr := json.Unmarshal(data, &res); jerr != nil && err == nil {
			return nil, fmt.Errorf("failed to parse function response: %w", jerr)
		}
	}
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && res.Error != "" {
			apiErr.Message = res.Error
		}
		return &res, err
	}
	if !res.Success && res.Error != "" {
		return &res, &APIError{Status: http.StatusBadRequest, Message: res.Error}
	}
	return &res, nil
}

// HealthCheck 健康检查
func (db *SupabaseDatabase) HealthCheck(ctx context.Context) error {
	_, err := db.makeRequest(ctx, http.MethodGet, db.baseURL+"/rest/v1/", db.restKey(), nil)
	return err
}

// Close 关闭连接
func (db *SupabaseDatabase) Close() error {
	// HTTP客户端无需显式关闭
	db.httpClient.CloseIdleConnections()
	return nil
}
