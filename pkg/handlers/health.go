package handlers

import (
	"net/http"
	"time"

	"hyrepro-admin/pkg/config"
	"hyrepro-admin/pkg/database"
	"hyrepro-admin/pkg/logging"
	"hyrepro-admin/pkg/utils"
)

const serviceName = "hyrepro-admin"

// HealthHandler 健康检查处理器
type HealthHandler struct {
	config *config.Config
	db     database.DatabaseInterface
	now    func() time.Time
}

func NewHealthHandler(cfg *config.Config, db database.DatabaseInterface) *HealthHandler {
	return &HealthHandler{config: cfg, db: db, now: time.Now}
}

// HealthCheck 健康检查
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	// 测试数据库连接
	dbStatus := "healthy"
	switch {
	case h.db == nil:
		dbStatus = "unconfigured"
	default:
		if err := h.db.HealthCheck(r.Context()); err != nil {
			logging.FromContext(r.Context()).Warn("backend health check failed", "error", err)
			dbStatus = "unhealthy"
			if h.config.IsDevelopment() {
				dbStatus += ": " + err.Error()
			}
		}
	}

	utils.WriteSuccessResponse(w, map[string]interface{}{
		"service":     serviceName,
		"version":     "1.0.0",
		"environment": h.config.Environment,
		"database":    database.BackendKind(h.db),
		"db_status":   dbStatus,
		"timestamp":   h.now().Unix(),
		"status":      "healthy",
	})
}

// PoolStats 数据库连接池状态（调试用）
func (h *HealthHandler) PoolStats(w http.ResponseWriter, r *http.Request) {
	stats := database.GetConnectionStats()
	stats["serverless"] = database.IsServerlessEnvironment()
	utils.WriteSuccessResponse(w, stats)
}
