package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("STUDIO_QUEUE_CONCURRENCY", "4")
	t.Setenv("STUDIO_MAX_UPLOAD_MB", "10")
	t.Setenv("STUDIO_TRUSTED_PROXIES", "10.0.0.0/8, 192.168.0.1")

	cfgPath := writeConfig(t, `
port: "8080"
logLevel: "info"
redisAddr: "localhost:6379"
queueConcurrency: 2
`)
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RedisAddr != "redis:6380" {
		t.Fatalf("redisAddr = %q, want env override", cfg.RedisAddr)
	}
	if cfg.QueueConcurrency != 4 {
		t.Fatalf("queueConcurrency = %d, want 4", cfg.QueueConcurrency)
	}
	if cfg.MaxUploadMB != 10 {
		t.Fatalf("maxUploadMB = %d, want 10", cfg.MaxUploadMB)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[1] != "192.168.0.1" {
		t.Fatalf("trustedProxies = %v", cfg.TrustedProxies)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfgPath := writeConfig(t, `
port: "8080"
redisAddr: "localhost:6379"
`)
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.QueueStream != "studio:analysis" {
		t.Fatalf("queueStream default = %q", cfg.QueueStream)
	}
	if cfg.MinioBucket != "manuscripts" {
		t.Fatalf("minioBucket default = %q", cfg.MinioBucket)
	}
	if cfg.MaxUploadMB != 25 {
		t.Fatalf("maxUploadMB default = %d", cfg.MaxUploadMB)
	}
}

func TestValidateConfigRejectsOversizeUploadCeiling(t *testing.T) {
	cfg := FileConfig{Port: "8080", RedisAddr: "localhost:6379", MaxUploadMB: 100}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("validateConfig() expected error for maxUploadMB over ceiling")
	}
}

func TestValidateConfigRejectsPartialMinioCredentials(t *testing.T) {
	cfg := FileConfig{Port: "8080", RedisAddr: "localhost:6379", MaxUploadMB: 25, MinioEndpoint: "minio:9000"}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("validateConfig() expected error for missing minio credentials")
	}
}
