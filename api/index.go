package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"hyrepro-admin/pkg/config"
	"hyrepro-admin/pkg/database"
	"hyrepro-admin/pkg/logging"
	"hyrepro-admin/pkg/router"
	"hyrepro-admin/pkg/utils"
)

// 热启动之间复用路由器，限流与幂等状态随之保留
var (
	routerMu     sync.Mutex
	cachedRouter http.Handler
	cachedDB     database.DatabaseInterface
	stopCached   context.CancelFunc

	cleanupOnce sync.Once

	loggerMu     sync.Mutex
	cachedLogger *slog.Logger
	loggerCfg    *config.Config
)

// Handler 是Vercel函数的入口点
// 这个函数实现了"单体路由模式"，将所有API端点集中在一个Chi路由器中管理
func Handler(w http.ResponseWriter, r *http.Request) {
	// 加载配置
	cfg, err := config.GetCached()
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, "Configuration error")
		return
	}
	logger := loggerFor(cfg)

	// 验证配置
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		utils.WriteInternalServerErrorResponse(w, "Configuration error")
		return
	}

	cleanupOnce.Do(func() {
		database.StartIdleCleanup(context.Background(), 5*time.Minute, logger)
	})

	// 获取池化的数据库连接；失败时仍挂载路由，业务接口返回通用错误
	db, err := database.GetDatabase(r.Context(), database.ConfigFrom(cfg), logger)
	if err != nil {
		logger.Error("backend unavailable", "error", err)
		db = nil
	}

	routerFor(cfg, db, logger).ServeHTTP(w, r)
}

// loggerFor 每份配置只构建一次日志器
func loggerFor(cfg *config.Config) *slog.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if cachedLogger == nil || loggerCfg != cfg {
		cachedLogger = logging.New(cfg)
		loggerCfg = cfg
	}
	return cachedLogger
}

// routerFor 数据库实例变化时重建路由器
func routerFor(cfg *config.Config, db database.DatabaseInterface, logger *slog.Logger) http.Handler {
	routerMu.Lock()
	defer routerMu.Unlock()

	if cachedRouter != nil && cachedDB == db {
		return cachedRouter
	}
	if stopCached != nil {
		stopCached()
	}
	ctx, cancel := context.WithCancel(context.Background())
	cachedRouter = router.New(ctx, cfg, db, logger)
	cachedDB = db
	stopCached = cancel
	logger.Info("router initialized", "backend", database.BackendKind(db))
	return cachedRouter
}
