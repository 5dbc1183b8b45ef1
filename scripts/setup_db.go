//go:build ignore

// setup_db 初始化本地开发数据：
//
//	go run scripts/setup_db.go            # 在 LOCAL_DB_PATH 写入示例学校、邀请与面试
//	go run scripts/setup_db.go -postgres  # 检查 POSTGRES_DSN 上是否已部署全部存储过程
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hyrepro-admin/pkg/config"
	"hyrepro-admin/pkg/database"
	"hyrepro-admin/pkg/models"
	"hyrepro-admin/pkg/utils"

	_ "github.com/lib/pq"
)

// 后端依赖的存储过程
var requiredFunctions = []string{
	"get_invitation_details",
	"accept_invitation",
	"reject_invitation",
	"get_user_school",
	"get_interview_confirmation_by_token",
	"handle_interview_confirmation",
}

func main() {
	checkPostgres := flag.Bool("postgres", false, "verify stored procedures on POSTGRES_DSN instead of seeding SQLite")
	userID := flag.String("user", "local-user-1", "user id for the seeded membership and access token")
	email := flag.String("email", "teacher@example.com", "email the seeded invitation is addressed to")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	ctx := context.Background()

	if *checkPostgres {
		if err := verifyPostgres(ctx, cfg.PostgresDSN); err != nil {
			log.Fatalf("❌ %v", err)
		}
		fmt.Println("🎉 All stored procedures present")
		return
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LocalDBPath), 0o755); err != nil {
		log.Fatalf("❌ Failed to create data directory: %v", err)
	}
	db, err := database.NewLocalDatabase(ctx, cfg.LocalDBPath)
	if err != nil {
		log.Fatalf("❌ Failed to open %s: %v", cfg.LocalDBPath, err)
	}
	defer db.Close()
	fmt.Printf("🔗 Seeding %s\n", cfg.LocalDBPath)

	if err := seed(ctx, db, cfg, *userID, *email); err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}
	fmt.Println("🎉 Local database ready. Start the server with USE_LOCAL_DB=true go run ./cmd/server")
}

func seed(ctx context.Context, db *database.LocalDatabase, cfg *config.Config, userID, email string) error {
	current, err := db.CreateSchool(ctx, "Riverside Primary")
	if err != nil {
		return err
	}
	target, err := db.CreateSchool(ctx, "Hillcrest Academy")
	if err != nil {
		return err
	}
	if err := db.AddMember(ctx, userID, current.ID, models.RoleViewer); err != nil {
		return err
	}

	inviteToken, err := utils.GenerateURLToken(24)
	if err != nil {
		return err
	}
	if _, err := db.CreateInvitation(ctx, database.NewInvitation{
		Token:       inviteToken,
		Email:       email,
		Role:        models.RoleInterviewer,
		SchoolID:    target.ID,
		InviterName: "Head of HR",
		ExpiresAt:   time.Now().Add(7 * 24 * time.Hour),
	}); err != nil {
		return err
	}
	fmt.Printf("✅ Invitation (conflict: member of %s): /invite/%s\n", current.Name, inviteToken)

	candidateToken, err := utils.GenerateURLToken(24)
	if err != nil {
		return err
	}
	panelToken, err := utils.GenerateURLToken(24)
	if err != nil {
		return err
	}
	day := time.Now().AddDate(0, 0, 3).Format("2006-01-02")
	if _, err := db.CreateInterview(ctx, models.InterviewSnapshot{
		Date:          day,
		Time:          "10:00",
		Duration:      45,
		Type:          "in_person",
		JobTitle:      "Year 4 Teacher",
		SchoolName:    target.Name,
		CandidateName: "Sam Candidate",
	}, []database.NewRecipient{
		{Token: candidateToken, Email: "candidate@example.com", Name: "Sam Candidate", Type: models.RecipientCandidate},
		{Token: panelToken, Email: email, Name: "Panel Member", Type: models.RecipientPanelist},
	}); err != nil {
		return err
	}
	fmt.Printf("✅ Candidate confirmation: /interview-confirmation?token=%s\n", candidateToken)
	fmt.Printf("✅ Panelist confirmation:  /interview-confirmation?token=%s&action=reschedule\n", panelToken)

	token, _, err := utils.NewJWTService(cfg.JWTSecret).GenerateAccessToken(userID, email, 24*time.Hour)
	if err != nil {
		return err
	}
	fmt.Printf("🔑 Access token for %s (24h):\n%s\n", email, token)
	return nil
}

func verifyPostgres(ctx context.Context, dsn string) error {
	if dsn == "" {
		return fmt.Errorf("POSTGRES_DSN is not set")
	}
	fmt.Printf("🔗 Connecting to database: %s\n", maskPassword(dsn))

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	var missing []string
	for _, name := range requiredFunctions {
		var exists bool
		err := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM pg_proc WHERE proname = $1)`, name).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to query pg_proc for %s: %w", name, err)
		}
		if exists {
			fmt.Printf("✅ %s\n", name)
		} else {
			fmt.Printf("⚠️  %s missing\n", name)
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing stored procedures: %s", strings.Join(missing, ", "))
	}
	return nil
}

// maskPassword 隐藏连接串中的密码
func maskPassword(dsn string) string {
	at := strings.Index(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		return dsn[:scheme+3] + creds[:colon] + ":***" + dsn[at:]
	}
	return dsn
}
