package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"hyrepro-admin/pkg/logging"
	"hyrepro-admin/pkg/models"

	"github.com/go-chi/chi/v5/middleware"
)

type requestInfoKey struct{}

// requestInfo 在请求处理过程中收集访问日志字段
type requestInfo struct {
	mu   sync.Mutex
	user *models.User
}

func (i *requestInfo) setUser(u *models.User) {
	i.mu.Lock()
	i.user = u
	i.mu.Unlock()
}

func (i *requestInfo) userID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.user == nil {
		return "anonymous"
	}
	return i.user.ID
}

func requestInfoFrom(ctx context.Context) *requestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(*requestInfo)
	return info
}

// RequestLogger 结构化访问日志中间件：为每个请求派生带 request_id 的 logger
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqLogger := logger.With(
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
			)
			info := &requestInfo{}
			ctx := context.WithValue(r.Context(), requestInfoKey{}, info)
			ctx = logging.ContextWithLogger(ctx, reqLogger)

			// 创建响应写入器包装器来捕获状态码
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}
			reqLogger.Log(r.Context(), level, "request completed",
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"user", info.userID(),
				"ip", getClientIP(r),
				"user_agent", r.UserAgent(),
			)
		})
	}
}

// getClientIP 获取客户端IP地址
// 只读 RemoteAddr；代理头只由入口处的 chi RealIP 处理
func getClientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
