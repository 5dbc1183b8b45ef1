package handler

import (
	"testing"

	"hyrepro-admin/pkg/config"
)

func TestLoggerForBuildsOncePerConfig(t *testing.T) {
	cfg := &config.Config{Environment: "production", LogLevel: "info"}

	first := loggerFor(cfg)
	if second := loggerFor(cfg); second != first {
		t.Fatal("expected the cached logger for the same config")
	}

	other := &config.Config{Environment: "development", LogLevel: "debug"}
	if loggerFor(other) == first {
		t.Fatal("expected a new logger after the config changed")
	}
}
