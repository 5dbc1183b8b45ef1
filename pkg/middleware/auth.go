package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"hyrepro-admin/pkg/config"
	"hyrepro-admin/pkg/logging"
	"hyrepro-admin/pkg/models"
	"hyrepro-admin/pkg/utils"
)

// ContextKey 用于在context中存储用户信息的键
type ContextKey string

const (
	UserContextKey ContextKey = "user"
)

// ErrNotAuthenticated 请求未携带有效令牌
var ErrNotAuthenticated = errors.New("user not authenticated")

// bearerToken 从Authorization头提取Bearer令牌
func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("Missing authorization header")
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader || strings.TrimSpace(tokenString) == "" {
		return "", errors.New("Invalid authorization header format")
	}
	return strings.TrimSpace(tokenString), nil
}

// AuthMiddleware JWT认证中间件
func AuthMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	jwtService := utils.NewJWTService(cfg.JWTSecret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := logging.FromContext(r.Context())

			tokenString, err := bearerToken(r)
			if err != nil {
				logger.Debug("auth rejected", "reason", err.Error())
				utils.WriteUnauthorizedResponse(w, err.Error())
				return
			}

			user, err := jwtService.ExtractUserFromToken(tokenString)
			if err != nil {
				logger.Info("auth rejected", "error", err)
				if errors.Is(err, utils.ErrTokenExpired) {
					utils.WriteUnauthorizedResponse(w, "Token expired")
					return
				}
				utils.WriteUnauthorizedResponse(w, "Invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
		})
	}
}

// OptionalAuthMiddleware 可选的认证中间件（不强制要求认证）
func OptionalAuthMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	jwtService := utils.NewJWTService(cfg.JWTSecret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				// 没有认证头或格式不正确，匿名继续
				next.ServeHTTP(w, r)
				return
			}

			user, err := jwtService.ExtractUserFromToken(tokenString)
			if err != nil {
				logging.FromContext(r.Context()).Debug("ignoring invalid optional token", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
		})
	}
}

// withUser 把用户写入context，并给请求日志加上 user_id
func withUser(ctx context.Context, user *models.User) context.Context {
	if info := requestInfoFrom(ctx); info != nil {
		info.setUser(user)
	}
	ctx = context.WithValue(ctx, UserContextKey, user)
	return logging.ContextWithLogger(ctx, logging.FromContext(ctx).With("user_id", user.ID))
}

// GetUserFromContext 从context中获取用户信息
func GetUserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	return user, ok
}

// RequireUser 要求用户必须已认证的辅助函数
func RequireUser(ctx context.Context) (*models.User, error) {
	user, ok := GetUserFromContext(ctx)
	if !ok || user == nil {
		return nil, ErrNotAuthenticated
	}
	return user, nil
}
