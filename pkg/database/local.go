package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hyrepro-admin/pkg/models"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const localSchema = `
CREATE TABLE IF NOT EXISTS schools (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS memberships (
	user_id    TEXT PRIMARY KEY,
	school_id  TEXT NOT NULL REFERENCES schools(id),
	role       TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS invitations (
	id           TEXT PRIMARY KEY,
	token        TEXT NOT NULL UNIQUE,
	email        TEXT NOT NULL,
	role         TEXT NOT NULL,
	school_id    TEXT NOT NULL REFERENCES schools(id),
	inviter_name TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'pending',
	expires_at   TEXT NOT NULL,
	created_at   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS interviews (
	id       TEXT PRIMARY KEY,
	status   TEXT NOT NULL DEFAULT 'scheduled',
	snapshot TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS interview_confirmations (
	id              TEXT PRIMARY KEY,
	token           TEXT NOT NULL UNIQUE,
	interview_id    TEXT NOT NULL REFERENCES interviews(id),
	recipient_email TEXT NOT NULL,
	recipient_name  TEXT NOT NULL DEFAULT '',
	recipient_type  TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	reason          TEXT NOT NULL DEFAULT '',
	suggested_times TEXT NOT NULL DEFAULT '[]',
	responded_at    TEXT
);
`

// Interview statuses derived from the recipients' responses.
const (
	InterviewScheduled           = "scheduled"
	InterviewConfirmed           = "confirmed"
	InterviewDeclined            = "declined"
	InterviewRescheduleRequested = "reschedule_requested"
)

// LocalDatabase 本地SQLite数据库实现，仅用于开发环境
type LocalDatabase struct {
	db  *sql.DB
	now func() time.Time
}

// NewLocalDatabase 创建本地数据库实例
func NewLocalDatabase(ctx context.Context, path string) (*LocalDatabase, error) {
	if path == "" {
		path = "./data/hyrepro.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite 只允许单写者
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, localSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &LocalDatabase{db: db, now: time.Now}, nil
}

// SetClock 替换时间来源（测试用）
func (db *LocalDatabase) SetClock(now func() time.Time) {
	db.now = now
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// withTx 在事务中执行，出错时回滚
func (db *LocalDatabase) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed (rollback error: %v): %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Invitations

const invitationSelect = `
	SELECT i.id, i.email, i.role, i.school_id, s.name, i.inviter_name, i.status, i.expires_at, i.created_at
	FROM invitations i JOIN schools s ON s.id = i.school_id
	WHERE i.token = ?`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInvitation(row rowScanner) (*models.InvitationDetails, error) {
	var inv models.InvitationDetails
	var expiresAt, createdAt string
	err := row.Scan(&inv.ID, &inv.Email, &inv.Role, &inv.SchoolID, &inv.SchoolName,
		&inv.InviterName, &inv.Status, &expiresAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	if inv.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("invalid expires_at: %w", err)
	}
	if inv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}
	return &inv, nil
}

func (db *LocalDatabase) GetInvitationDetails(ctx context.Context, token string) (*models.InvitationDetails, error) {
	return scanInvitation(db.db.QueryRowContext(ctx, invitationSelect, token))
}

// pendingInvitation 读取仍可操作的邀请；已处理优先于已过期
func (db *LocalDatabase) pendingInvitation(ctx context.Context, tx *sql.Tx, token string) (*models.InvitationDetails, error) {
	inv, err := scanInvitation(tx.QueryRowContext(ctx, invitationSelect, token))
	if err != nil {
		return nil, err
	}
	if inv.Status != models.InvitationPending {
		return nil, ErrAlreadyProcessed
	}
	if inv.Expired(db.now()) {
		return nil, ErrExpired
	}
	return inv, nil
}

func (db *LocalDatabase) AcceptInvitation(ctx context.Context, token, userID string) (*models.AcceptResult, error) {
	var result *models.AcceptResult
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		inv, err := db.pendingInvitation(ctx, tx, token)
		if err != nil {
			return err
		}
		// 用户只能属于一个学校：先解除原有关系
		if _, err := tx.ExecContext(ctx, `DELETE FROM memberships WHERE user_id = ?`, userID); err != nil {
			return fmt.Errorf("failed to detach membership: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO memberships (user_id, school_id, role, created_at) VALUES (?, ?, ?, ?)`,
			userID, inv.SchoolID, string(inv.Role), formatTime(db.now()),
		); err != nil {
			return fmt.Errorf("failed to attach membership: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE invitations SET status = ? WHERE id = ?`, string(models.InvitationAccepted), inv.ID,
		); err != nil {
			return fmt.Errorf("failed to mark invitation accepted: %w", err)
		}
		result = &models.AcceptResult{Success: true, SchoolID: inv.SchoolID, SchoolName: inv.SchoolName}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (db *LocalDatabase) RejectInvitation(ctx context.Context, token string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		inv, err := db.pendingInvitation(ctx, tx, token)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE invitations SET status = ? WHERE id = ?`, string(models.InvitationRejected), inv.ID,
		); err != nil {
			return fmt.Errorf("failed to mark invitation rejected: %w", err)
		}
		return nil
	})
}

// Organizations

func (db *LocalDatabase) GetUserSchool(ctx context.Context, userID string) (*models.School, error) {
	var school models.School
	err := db.db.QueryRowContext(ctx, `
		SELECT s.id, s.name FROM memberships m JOIN schools s ON s.id = m.school_id
		WHERE m.user_id = ?`, userID,
	).Scan(&school.ID, &school.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user school: %w", err)
	}
	return &school, nil
}

// Interview confirmations

func (db *LocalDatabase) GetInterviewConfirmation(ctx context.Context, token string) (*models.InterviewConfirmation, error) {
	return db.loadConfirmation(ctx, db.db, token)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (db *LocalDatabase) loadConfirmation(ctx context.Context, q queryer, token string) (*models.InterviewConfirmation, error) {
	var c models.InterviewConfirmation
	var interviewID, interviewStatus, snapshot string
	var respondedAt sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT c.id, c.token, c.recipient_email, c.recipient_type, c.status, c.responded_at,
		       i.id, i.status, i.snapshot
		FROM interview_confirmations c JOIN interviews i ON i.id = c.interview_id
		WHERE c.token = ?`, token,
	).Scan(&c.ID, &c.ResponseToken, &c.RecipientEmail, &c.RecipientType, &c.Status, &respondedAt,
		&interviewID, &interviewStatus, &snapshot)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get interview confirmation: %w", err)
	}
	if respondedAt.Valid {
		t, err := parseTime(respondedAt.String)
		if err != nil {
			return nil, fmt.Errorf("invalid responded_at: %w", err)
		}
		c.RespondedAt = &t
	}
	if err := json.Unmarshal([]byte(snapshot), &c.Interview); err != nil {
		return nil, fmt.Errorf("invalid interview snapshot: %w", err)
	}
	c.Interview.ID = interviewID
	c.Interview.Status = interviewStatus

	rows, err := q.QueryContext(ctx, `
		SELECT recipient_email, recipient_name, status FROM interview_confirmations
		WHERE interview_id = ? AND recipient_type = ? ORDER BY recipient_email`,
		interviewID, string(models.RecipientPanelist))
	if err != nil {
		return nil, fmt.Errorf("failed to list panelists: %w", err)
	}
	defer rows.Close()
	c.Interview.Panelists = []models.Panelist{}
	for rows.Next() {
		var p models.Panelist
		if err := rows.Scan(&p.Email, &p.Name, &p.Status); err != nil {
			return nil, fmt.Errorf("failed to scan panelist: %w", err)
		}
		c.Interview.Panelists = append(c.Interview.Panelists, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list panelists: %w", err)
	}
	return &c, nil
}

var confirmationMessages = map[models.ConfirmationAction]string{
	models.ConfirmationActionAccept:     "Interview confirmed",
	models.ConfirmationActionDecline:    "Interview declined",
	models.ConfirmationActionReschedule: "Reschedule request submitted",
}

func (db *LocalDatabase) HandleInterviewConfirmation(ctx context.Context, req models.ConfirmationRequest) (*models.ConfirmationResult, error) {
	if !req.Action.Valid() {
		return nil, &APIError{Status: http.StatusBadRequest, Message: "Invalid action"}
	}
	var result *models.ConfirmationResult
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var id, interviewID string
		var status models.ConfirmationStatus
		err := tx.QueryRowContext(ctx,
			`SELECT id, interview_id, status FROM interview_confirmations WHERE token = ?`, req.Token,
		).Scan(&id, &interviewID, &status)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to get interview confirmation: %w", err)
		}
		if status.IsTerminal() {
			return ErrAlreadyProcessed
		}

		next := req.Action.ResultStatus()
		reason := ""
		slots := []models.TimeSlot{}
		if req.Action != models.ConfirmationActionAccept {
			reason = strings.TrimSpace(req.Reason)
		}
		if req.Action == models.ConfirmationActionReschedule {
			slots = req.SuggestedTimes
		}
		suggested, err := json.Marshal(slots)
		if err != nil {
			return fmt.Errorf("failed to marshal suggested times: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE interview_confirmations
			SET status = ?, reason = ?, suggested_times = ?, responded_at = ?
			WHERE id = ? AND status = ?`,
			string(next), reason, string(suggested), formatTime(db.now()), id, string(models.ConfirmationPending),
		); err != nil {
			return fmt.Errorf("failed to update confirmation: %w", err)
		}

		allResponded, interviewStatus, err := rollupInterview(ctx, tx, interviewID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE interviews SET status = ? WHERE id = ?`, interviewStatus, interviewID); err != nil {
			return fmt.Errorf("failed to update interview status: %w", err)
		}

		result = &models.ConfirmationResult{
			Success:         true,
			Message:         confirmationMessages[req.Action],
			Status:          next,
			AllResponded:    &allResponded,
			InterviewStatus: interviewStatus,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// rollupInterview 根据所有接收者的响应计算面试状态
func rollupInterview(ctx context.Context, tx *sql.Tx, interviewID string) (bool, string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT recipient_type, status FROM interview_confirmations WHERE interview_id = ?`, interviewID)
	if err != nil {
		return false, "", fmt.Errorf("failed to list recipients: %w", err)
	}
	defer rows.Close()

	allResponded, allAccepted := true, true
	candidateDeclined, reschedule := false, false
	for rows.Next() {
		var kind models.RecipientType
		var status models.ConfirmationStatus
		if err := rows.Scan(&kind, &status); err != nil {
			return false, "", fmt.Errorf("failed to scan recipient: %w", err)
		}
		if !status.IsTerminal() {
			allResponded = false
		}
		if status != models.ConfirmationAccepted {
			allAccepted = false
		}
		if status == models.ConfirmationRescheduleRequested {
			reschedule = true
		}
		if kind == models.RecipientCandidate && status == models.ConfirmationDeclined {
			candidateDeclined = true
		}
	}
	if err := rows.Err(); err != nil {
		return false, "", fmt.Errorf("failed to list recipients: %w", err)
	}

	switch {
	case candidateDeclined:
		return allResponded, InterviewDeclined, nil
	case reschedule:
		return allResponded, InterviewRescheduleRequested, nil
	case allAccepted:
		return allResponded, InterviewConfirmed, nil
	default:
		return allResponded, InterviewScheduled, nil
	}
}

// HealthCheck 健康检查
func (db *LocalDatabase) HealthCheck(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// Close 关闭连接
func (db *LocalDatabase) Close() error {
	return db.db.Close()
}

// Seeding helpers used by scripts/setup_db.go and tests.

// CreateSchool 创建学校
func (db *LocalDatabase) CreateSchool(ctx context.Context, name string) (*models.School, error) {
	school := &models.School{ID: uuid.NewString(), Name: name}
	if _, err := db.db.ExecContext(ctx, `INSERT INTO schools (id, name) VALUES (?, ?)`, school.ID, school.Name); err != nil {
		return nil, fmt.Errorf("failed to create school: %w", err)
	}
	return school, nil
}

// AddMember 把用户挂到学校下（替换原有关系）
func (db *LocalDatabase) AddMember(ctx context.Context, userID, schoolID string, role models.Role) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO memberships (user_id, school_id, role, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET school_id = excluded.school_id, role = excluded.role`,
		userID, schoolID, string(role), formatTime(db.now()))
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// NewInvitation 描述一条待写入的邀请
type NewInvitation struct {
	Token       string
	Email       string
	Role        models.Role
	SchoolID    string
	InviterName string
	Status      models.InvitationStatus
	ExpiresAt   time.Time
}

// CreateInvitation 写入邀请，返回其ID
func (db *LocalDatabase) CreateInvitation(ctx context.Context, inv NewInvitation) (string, error) {
	if inv.Status == "" {
		inv.Status = models.InvitationPending
	}
	if !inv.Role.Valid() {
		return "", fmt.Errorf("invalid role %q", inv.Role)
	}
	id := uuid.NewString()
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO invitations (id, token, email, role, school_id, inviter_name, status, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, inv.Token, inv.Email, string(inv.Role), inv.SchoolID, inv.InviterName,
		string(inv.Status), formatTime(inv.ExpiresAt), formatTime(db.now()))
	if err != nil {
		return "", fmt.Errorf("failed to create invitation: %w", err)
	}
	return id, nil
}

// NewRecipient 描述面试的一位接收者
type NewRecipient struct {
	Token  string
	Email  string
	Name   string
	Type   models.RecipientType
	Status models.ConfirmationStatus
}

// CreateInterview 写入面试快照及其全部接收者，返回面试ID
func (db *LocalDatabase) CreateInterview(ctx context.Context, snapshot models.InterviewSnapshot, recipients []NewRecipient) (string, error) {
	id := uuid.NewString()
	snapshot.Panelists = nil
	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		status := snapshot.Status
		if status == "" {
			status = InterviewScheduled
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO interviews (id, status, snapshot) VALUES (?, ?, ?)`, id, status, string(data)); err != nil {
			return fmt.Errorf("failed to create interview: %w", err)
		}
		for _, r := range recipients {
			if r.Status == "" {
				r.Status = models.ConfirmationPending
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO interview_confirmations (id, token, interview_id, recipient_email, recipient_name, recipient_type, status)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				uuid.NewString(), r.Token, id, r.Email, r.Name, string(r.Type), string(r.Status)); err != nil {
				return fmt.Errorf("failed to create recipient %s: %w", r.Email, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}
