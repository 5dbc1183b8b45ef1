package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"hyrepro-admin/pkg/models"

	"github.com/lib/pq"
)

// PostgresDatabase PostgreSQL数据库实现，直接调用数据库中的业务函数
type PostgresDatabase struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresDatabase 创建PostgreSQL数据库实例
func NewPostgresDatabase(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresDatabase, error) {
	if logger == nil {
		logger = slog.Default()
	}
	// 尝试多种连接策略来解决Serverless的IPv6问题
	dsn = strings.TrimSpace(dsn)
	strategies := []string{
		addConnectionParams(dsn, "connect_timeout=10"),
		addConnectionParams(dsn, "sslmode=require&connect_timeout=10"),
		dsn, // 最后尝试原始DSN
	}

	var lastErr error
	for i, strategy := range strategies {
		db, err := sql.Open("postgres", strategy)
		if err != nil {
			logger.Warn("postgres strategy failed to open", "strategy", i+1, "error", err)
			lastErr = err
			continue
		}

		// 设置连接池参数，适合无服务器环境
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			logger.Warn("postgres strategy failed to ping", "strategy", i+1, "error", err)
			db.Close()
			lastErr = err
			continue
		}

		logger.Info("postgres connection established", "strategy", i+1)
		return &PostgresDatabase{db: db, logger: logger}, nil
	}

	return nil, fmt.Errorf("failed to connect to PostgreSQL with all strategies: %w", lastErr)
}

// addConnectionParams 添加连接参数到DSN
func addConnectionParams(dsn, params string) string {
	if params == "" {
		return dsn
	}
	// key=value 形式的DSN使用空格分隔
	if !strings.Contains(dsn, "://") {
		return dsn + " " + strings.ReplaceAll(params, "&", " ")
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + params
}

// translateError 把数据库函数抛出的异常转换为 APIError
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "P0", "22", "23":
			// raise exception / 数据异常 / 约束冲突
			return &APIError{Status: http.StatusBadRequest, Message: pqErr.Message}
		case "42":
			return fmt.Errorf("database function unavailable: %w", err)
		}
	}
	return err
}

// queryJSON 以JSON文本形式读取函数结果，与 REST 后端共用解析逻辑
func (db *PostgresDatabase) queryJSON(ctx context.Context, query string, args ...interface{}) ([]byte, error) {
	var raw sql.NullString
	if err := db.db.QueryRowContext(ctx, query, args...).Scan(&raw); err != nil {
		return nil, translateError(err)
	}
	if !raw.Valid {
		return nil, ErrNotFound
	}
	return []byte(raw.String), nil
}

// Invitations

func (db *PostgresDatabase) GetInvitationDetails(ctx context.Context, token string) (*models.InvitationDetails, error) {
	data, err := db.queryJSON(ctx, `SELECT to_json(t)::text FROM get_invitation_details($1) AS t LIMIT 1`, token)
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

func (db *PostgresDatabase) AcceptInvitation(ctx context.Context, token, userID string) (*models.AcceptResult, error) {
	data, err := db.queryJSON(ctx, `SELECT accept_invitation($1, $2)::text`, token, userID)
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

func (db *PostgresDatabase) RejectInvitation(ctx context.Context, token string) error {
	data, err := db.queryJSON(ctx, `SELECT reject_invitation($1)::text`, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// void 函数返回 NULL
			return nil
		}
		return err
	}
	var res models.AcceptResult
	if err := json.Unmarshal(data, &res); err == nil && !res.Success && res.Error != "" {
		return &APIError{Status: http.StatusBadRequest, Message: res.Error}
	}
	return nil
}

// Organizations

func (db *PostgresDatabase) GetUserSchool(ctx context.Context, userID string) (*models.School, error) {
	data, err := db.queryJSON(ctx, `SELECT to_json(t)::text FROM get_user_school($1) AS t LIMIT 1`, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
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

func (db *PostgresDatabase) GetInterviewConfirmation(ctx context.Context, token string) (*models.InterviewConfirmation, error) {
	data, err := db.queryJSON(ctx, `SELECT get_interview_confirmation_by_token($1)::text`, token)
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

func (db *PostgresDatabase) HandleInterviewConfirmation(ctx context.Context, req models.ConfirmationRequest) (*models.ConfirmationResult, error) {
	slots := req.SuggestedTimes
	if slots == nil {
		slots = []models.TimeSlot{}
	}
	suggested, err := json.Marshal(slots)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal suggested times: %w", err)
	}

	data, err := db.queryJSON(ctx,
		`SELECT handle_interview_confirmation($1, $2, $3::jsonb, NULLIF($4, ''))::text`,
		req.Token, string(req.Action), string(suggested), req.Reason,
	)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &APIError{Status: http.StatusNotFound, Message: "Invalid or expired link"}
		}
		return nil, err
	}
	var res models.ConfirmationResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to parse confirmation result: %w", err)
	}
	if !res.Success && res.Error != "" {
		return &res, &APIError{Status: http.StatusBadRequest, Message: res.Error}
	}
	return &res, nil
}

// HealthCheck 健康检查
func (db *PostgresDatabase) HealthCheck(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// Close 关闭连接
func (db *PostgresDatabase) Close() error {
	return db.db.Close()
}
