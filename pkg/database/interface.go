package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"hyrepro-admin/pkg/config"
	"hyrepro-admin/pkg/models"
)

// Remote procedure names exposed by the hosted database.
const (
	RPCGetInvitationDetails        = "get_invitation_details"
	RPCGetUserSchool               = "get_user_school"
	RPCAcceptInvitation            = "accept_invitation"
	RPCRejectInvitation            = "reject_invitation"
	RPCGetInterviewConfirmation    = "get_interview_confirmation_by_token"
	RPCHandleInterviewConfirmation = "handle_interview_confirmation"

	// FunctionHandleInterviewConfirmation is the edge function path under the functions base URL.
	FunctionHandleInterviewConfirmation = "handle-interview-confirmation"
)

var (
	// ErrNotFound is returned when a token does not resolve to any record.
	ErrNotFound = errors.New("database: not found")
	// ErrAlreadyProcessed is returned when a one-way transition was already taken.
	ErrAlreadyProcessed = errors.New("database: already processed")
	// ErrExpired is returned when an invitation is past its expiry.
	ErrExpired = errors.New("database: expired")
)

// APIError carries a non-2xx answer from the hosted backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend request failed with status %d: %s", e.Status, e.Message)
}

// DatabaseInterface 定义后端数据访问接口
//
// Every method maps to one remote procedure of the hosted database; the
// implementations never re-implement business rules the procedures own.
type DatabaseInterface interface {
	// Invitations
	GetInvitationDetails(ctx context.Context, token string) (*models.InvitationDetails, error)
	AcceptInvitation(ctx context.Context, token, userID string) (*models.AcceptResult, error)
	RejectInvitation(ctx context.Context, token string) error

	// Organizations
	// GetUserSchool returns (nil, nil) when the user belongs to no school.
	GetUserSchool(ctx context.Context, userID string) (*models.School, error)

	// Interview confirmations
	GetInterviewConfirmation(ctx context.Context, token string) (*models.InterviewConfirmation, error)
	HandleInterviewConfirmation(ctx context.Context, req models.ConfirmationRequest) (*models.ConfirmationResult, error)

	// 健康检查
	HealthCheck(ctx context.Context) error

	// 关闭连接
	Close() error
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	UseLocalDB         bool
	LocalDBPath        string
	PostgresDSN        string
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string
	FunctionsURL       string
	Debug              bool
}

// ConfigFrom 从应用配置提取数据库配置
func ConfigFrom(cfg *config.Config) DatabaseConfig {
	return DatabaseConfig{
		UseLocalDB:         cfg.UseLocalDB,
		LocalDBPath:        cfg.LocalDBPath,
		PostgresDSN:        cfg.PostgresDSN,
		SupabaseURL:        cfg.SupabaseURL,
		SupabaseAnonKey:    cfg.SupabaseAnonKey,
		SupabaseServiceKey: cfg.SupabaseServiceKey,
		FunctionsURL:       cfg.FunctionsBaseURL(),
		Debug:              cfg.Debug,
	}
}

// NewDatabase 根据环境与配置选择数据库实现
func NewDatabase(ctx context.Context, config DatabaseConfig, logger *slog.Logger) (DatabaseInterface, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Serverless 部署优先使用 Supabase REST（避免 IPv6 直连问题）
	if IsServerlessEnvironment() {
		if config.SupabaseURL != "" && config.SupabaseAnonKey != "" {
			logger.Info("using supabase rest backend", "serverless", true)
			return NewSupabaseDatabase(config), nil
		}
		if config.PostgresDSN != "" {
			logger.Warn("using postgres backend in serverless environment", "serverless", true)
			return openPostgres(ctx, config.PostgresDSN, logger)
		}
		return nil, fmt.Errorf("no valid backend configured for serverless environment: set SUPABASE_URL+SUPABASE_ANON_KEY or POSTGRES_DSN")
	}

	// 非 Serverless 环境：显式本地 SQLite > PostgreSQL > Supabase
	if config.UseLocalDB {
		logger.Info("using local sqlite backend", "path", config.LocalDBPath)
		local, err := NewLocalDatabase(ctx, config.LocalDBPath)
		if err != nil {
			return nil, err
		}
		return local, nil
	}
	if config.PostgresDSN != "" {
		logger.Info("using postgres backend")
		return openPostgres(ctx, config.PostgresDSN, logger)
	}
	if config.SupabaseURL != "" && config.SupabaseAnonKey != "" {
		logger.Info("using supabase rest backend")
		return NewSupabaseDatabase(config), nil
	}
	return nil, fmt.Errorf("no valid backend configuration found: configure POSTGRES_DSN, SUPABASE_URL+SUPABASE_ANON_KEY or USE_LOCAL_DB")
}

func openPostgres(ctx context.Context, dsn string, logger *slog.Logger) (DatabaseInterface, error) {
	pg, err := NewPostgresDatabase(ctx, dsn, logger)
	if err != nil {
		return nil, err
	}
	return pg, nil
}

// IsServerlessEnvironment 检查是否在 Vercel / Lambda 环境中
func IsServerlessEnvironment() bool {
	return os.Getenv("VERCEL_ENV") != "" || os.Getenv("VERCEL_URL") != "" || os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}
