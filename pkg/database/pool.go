package database

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// 连接超过该时长未使用则重建
	poolExpiry = 30 * time.Minute
	// Serverless 环境中空闲连接的清理阈值
	idleCleanup = 10 * time.Minute
	// 复用连接时的健康检查间隔
	healthCheckInterval = time.Minute
)

// DatabasePool 进程级数据库单例
type DatabasePool struct {
	instance    DatabaseInterface
	config      DatabaseConfig
	mu          sync.RWMutex
	lastUsed    time.Time
	lastChecked time.Time
}

var (
	globalPool *DatabasePool
	poolMutex  sync.Mutex
)

// GetDatabase 获取数据库连接（单例模式 + 连接池），返回的实例已带链路追踪
func GetDatabase(ctx context.Context, config DatabaseConfig, logger *slog.Logger) (DatabaseInterface, error) {
	if logger == nil {
		logger = slog.Default()
	}
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if globalPool != nil && !shouldRecreateConnection(ctx, globalPool, config, logger) {
		globalPool.mu.Lock()
		globalPool.lastUsed = time.Now()
		globalPool.mu.Unlock()
		logger.Debug("reusing existing database connection")
		return globalPool.instance, nil
	}

	// 关闭旧连接（如果存在）
	if globalPool != nil && globalPool.instance != nil {
		globalPool.instance.Close()
	}

	logger.Info("creating new database connection")
	inner, err := NewDatabase(ctx, config, logger)
	if err != nil {
		globalPool = nil
		return nil, err
	}
	globalPool = &DatabasePool{
		instance:    NewTracedDatabase(inner),
		config:      config,
		lastUsed:    time.Now(),
		lastChecked: time.Now(),
	}
	return globalPool.instance, nil
}

// shouldRecreateConnection 判断是否需要重新创建连接
func shouldRecreateConnection(ctx context.Context, pool *DatabasePool, newConfig DatabaseConfig, logger *slog.Logger) bool {
	if pool == nil || pool.instance == nil {
		return true
	}

	if pool.config != newConfig {
		logger.Info("database configuration changed, recreating connection")
		return true
	}

	pool.mu.RLock()
	expired := time.Since(pool.lastUsed) > poolExpiry
	checked := time.Since(pool.lastChecked) < healthCheckInterval
	pool.mu.RUnlock()
	if expired {
		logger.Info("database connection expired, recreating")
		return true
	}
	if checked {
		return false
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.instance.HealthCheck(checkCtx); err != nil {
		logger.Warn("database health check failed, recreating", "error", err)
		return true
	}
	pool.mu.Lock()
	pool.lastChecked = time.Now()
	pool.mu.Unlock()
	return false
}

// CleanupIdleConnections 清理空闲连接，返回是否关闭了连接
func CleanupIdleConnections(logger *slog.Logger) bool {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if globalPool == nil {
		return false
	}

	globalPool.mu.RLock()
	idle := time.Since(globalPool.lastUsed) > idleCleanup
	globalPool.mu.RUnlock()
	if !idle {
		return false
	}

	if logger != nil {
		logger.Info("cleaning up idle database connection")
	}
	if globalPool.instance != nil {
		globalPool.instance.Close()
	}
	globalPool = nil
	return true
}

// StartIdleCleanup 在 Serverless 环境中周期性清理空闲连接，ctx 结束时退出
func StartIdleCleanup(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if !IsServerlessEnvironment() {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				CleanupIdleConnections(logger)
			}
		}
	}()
}

// ClosePool 关闭并丢弃全局连接
func ClosePool() error {
	poolMutex.Lock()
	defer poolMutex.Unlock()
	if globalPool == nil || globalPool.instance == nil {
		globalPool = nil
		return nil
	}
	err := globalPool.instance.Close()
	globalPool = nil
	return err
}

// GetConnectionStats 获取连接池统计信息
func GetConnectionStats() map[string]interface{} {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if globalPool == nil {
		return map[string]interface{}{
			"status":    "no_connection",
			"last_used": nil,
		}
	}

	globalPool.mu.RLock()
	lastUsed := globalPool.lastUsed
	globalPool.mu.RUnlock()

	return map[string]interface{}{
		"status":    "connected",
		"backend":   BackendKind(globalPool.instance),
		"last_used": lastUsed.Format(time.RFC3339),
		"age":       time.Since(lastUsed).String(),
		"config": map[string]interface{}{
			"use_local_db": globalPool.config.UseLocalDB,
			"has_postgres": globalPool.config.PostgresDSN != "",
			"has_supabase": globalPool.config.SupabaseURL != "",
			"serverless":   IsServerlessEnvironment(),
		},
	}
}
