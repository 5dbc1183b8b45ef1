package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestGetDatabaseReusesInstance(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := DatabaseConfig{UseLocalDB: true, LocalDBPath: filepath.Join(dir, "a.db")}
	t.Cleanup(func() { ClosePool() })

	first, err := GetDatabase(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("GetDatabase: %v", err)
	}
	second, err := GetDatabase(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("GetDatabase: %v", err)
	}
	if first != second {
		t.Fatal("expected the pooled instance to be reused")
	}

	stats := GetConnectionStats()
	if stats["status"] != "connected" || stats["backend"] != "sqlite" {
		t.Errorf("stats = %v", stats)
	}

	// 配置变化时重建
	cfg.LocalDBPath = filepath.Join(dir, "b.db")
	third, err := GetDatabase(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("GetDatabase: %v", err)
	}
	if third == first {
		t.Fatal("expected a new instance after the config changed")
	}

	if err := ClosePool(); err != nil {
		t.Fatalf("ClosePool: %v", err)
	}
	if got := GetConnectionStats()["status"]; got != "no_connection" {
		t.Errorf("status after close = %v", got)
	}
}

// countingDB 记录健康检查次数
type countingDB struct {
	DatabaseInterface
	checks int
}

func (c *countingDB) HealthCheck(ctx context.Context) error {
	c.checks++
	return nil
}

func (c *countingDB) Close() error { return nil }

func TestGetDatabaseThrottlesHealthChecks(t *testing.T) {
	ctx := context.Background()
	cfg := DatabaseConfig{UseLocalDB: true, LocalDBPath: filepath.Join(t.TempDir(), "unused.db")}
	fake := &countingDB{}
	now := time.Now()

	poolMutex.Lock()
	globalPool = &DatabasePool{instance: fake, config: cfg, lastUsed: now, lastChecked: now}
	poolMutex.Unlock()
	t.Cleanup(func() { ClosePool() })

	for i := 0; i < 3; i++ {
		db, err := GetDatabase(ctx, cfg, nil)
		if err != nil {
			t.Fatalf("GetDatabase: %v", err)
		}
		if db != DatabaseInterface(fake) {
			t.Fatal("expected the pooled instance")
		}
	}
	if fake.checks != 0 {
		t.Fatalf("health checks within interval = %d, want 0", fake.checks)
	}

	poolMutex.Lock()
	globalPool.lastChecked = now.Add(-2 * healthCheckInterval)
	poolMutex.Unlock()

	for i := 0; i < 2; i++ {
		if _, err := GetDatabase(ctx, cfg, nil); err != nil {
			t.Fatalf("GetDatabase: %v", err)
		}
	}
	if fake.checks != 1 {
		t.Fatalf("health checks after interval = %d, want 1", fake.checks)
	}
}
