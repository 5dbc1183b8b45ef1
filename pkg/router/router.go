// Package router 组装所有路由与中间件，供 api/ 与 cmd/server 共用
package router

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"hyrepro-admin/pkg/config"
	"hyrepro-admin/pkg/database"
	"hyrepro-admin/pkg/handlers"
	customMiddleware "hyrepro-admin/pkg/middleware"
	"hyrepro-admin/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxBodyBytes POST 请求体上限
const maxBodyBytes = 64 << 10

// New 创建路由器。db 可以为 nil（后端未配置），此时业务接口返回通用错误。
// ctx 控制限流器与幂等存储的后台清理。
func New(ctx context.Context, cfg *config.Config, db database.DatabaseInterface, logger *slog.Logger) http.Handler {
	router := chi.NewRouter()

	setupMiddleware(router, cfg, logger)
	setupRoutes(ctx, router, cfg, db)

	return router
}

// setupMiddleware 设置全局中间件
func setupMiddleware(router *chi.Mux, cfg *config.Config, logger *slog.Logger) {
	// 基础中间件
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.CleanPath)
	// 先规范化路径与 scheme/host，再记录日志与路由
	router.Use(customMiddleware.Normalize())
	router.Use(customMiddleware.RequestLogger(logger))
	router.Use(customMiddleware.Recovery(cfg))

	// CORS中间件
	router.Use(customMiddleware.CORS(cfg))

	// 超时中间件（Vercel函数有时间限制）
	timeout := 25 * time.Second
	if cfg.RequestTimeout > 0 && cfg.RequestTimeout < timeout {
		timeout = cfg.RequestTimeout
	}
	router.Use(middleware.Timeout(timeout))

	// 压缩中间件
	router.Use(middleware.Compress(5))

	// 开发环境额外中间件
	if cfg.IsDevelopment() {
		router.Use(middleware.Heartbeat("/ping"))
	}
}

// setupRoutes 设置所有路由
func setupRoutes(ctx context.Context, router *chi.Mux, cfg *config.Config, db database.DatabaseInterface) {
	healthHandler := handlers.NewHealthHandler(cfg, db)
	invitationHandler := handlers.NewInvitationHandler(cfg, db)
	confirmationHandler := handlers.NewConfirmationHandler(cfg, db)
	orgsHandler := handlers.NewOrgsHandler(cfg, db)

	limiter := customMiddleware.NewIPRateLimiter(ctx, cfg.RateLimitPerMinute, cfg.RateLimitBurst, 5*time.Minute)
	idempotency := customMiddleware.NewIdempotencyStore(ctx, cfg.IdempotencyTTL)

	// 健康检查端点
	router.Get("/", healthHandler.HealthCheck)

	// 数据库连接池状态端点（调试用）
	if cfg.IsDevelopment() {
		router.Get("/debug/db-pool", healthHandler.PoolStats)
	}

	// 令牌页面（公开，按IP限流）
	router.Group(func(r chi.Router) {
		r.Use(customMiddleware.RateLimitByIP(limiter))

		r.With(customMiddleware.OptionalAuthMiddleware(cfg)).
			Get("/invite/{token}", invitationHandler.GetInvitation)
		r.Get("/interview-confirmation", confirmationHandler.GetConfirmation)
	})

	// API路由组
	router.Route("/api", func(r chi.Router) {
		// 变更类接口：JSON、大小限制、幂等
		mutating := func(r chi.Router) {
			r.Use(customMiddleware.ContentTypeJSON)
			r.Use(customMiddleware.MaxBodySize(maxBodyBytes))
			r.Use(customMiddleware.Idempotency(idempotency))
		}

		// 面试确认：令牌即授权
		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.RateLimitByIP(limiter))
			mutating(r)
			r.Post("/interview-confirmation", confirmationHandler.SubmitConfirmation)
		})

		// 需要认证的路由
		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.AuthMiddleware(cfg))

			r.Get("/me/school", orgsHandler.GetMySchool)

			r.Group(func(r chi.Router) {
				r.Use(customMiddleware.RateLimitByIP(limiter))
				mutating(r)
				r.Post("/respond-invitation", invitationHandler.RespondInvitation)
			})
		})
	})

	// 404处理
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteNotFoundResponse(w, fmt.Sprintf("Route not found: %s %s", r.Method, r.URL.Path))
	})

	// 405处理
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteErrorResponseWithCode(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			fmt.Sprintf("Method %s not allowed for %s", r.Method, r.URL.Path), "")
	})
}
