package main

import (
	"os"
	"testing"

	"github.com/conversagent/orchestrator/internal/config"
)

func TestGetPort_Default(t *testing.T) {
	os.Unsetenv("PORT")
	cfg := &config.Config{APIPort: 8080}
	if got := getPort(cfg); got != "8080" {
		t.Errorf("getPort() = %q, want %q", got, "8080")
	}
}

func TestGetPort_FromEnv(t *testing.T) {
	t.Setenv("PORT", "3000")
	cfg := &config.Config{APIPort: 8080}
	if got := getPort(cfg); got != "3000" {
		t.Errorf("getPort() = %q, want %q", got, "3000")
	}
}

func TestGetPort_FromConfig(t *testing.T) {
	os.Unsetenv("PORT")
	cfg := &config.Config{APIPort: 9090}
	if got := getPort(cfg); got != "9090" {
		t.Errorf("getPort() = %q, want %q", got, "9090")
	}
}

func TestVersion(t *testing.T) {
	if Version == "" {
		t.Error("Version must not be empty")
	}
}

func TestSetupLogger_DoesNotPanic(t *testing.T) {
	cfg := &config.Config{LogLevel: "debug", LogFormat: "text"}
	setupLogger(cfg)
	cfg.LogFormat = "json"
	cfg.LogLevel = "warn"
	setupLogger(cfg)
}
