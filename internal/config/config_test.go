package config

import (
	"os"
	"path/filepath"
	"testing"
)

// clearEnv blanks every variable Load reads so host settings cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"GEMINI_API_KEY", "GEMINI_MODEL", "GEMINI_LOG_LEVEL", "LOG_FORMAT", "PORT",
		"STORE_BACKEND", "CHAT_TABLE", "ANALYSIS_TABLE", "MEDIA_BUCKET",
		"REDIS_ADDR", "REDIS_CHANNEL_PREFIX", "SSM_API_KEY_PARAM", "AUTH_JWT_SECRET",
		"PREVIEW_MAX_DIMENSION", "MAX_UPLOAD_BYTES",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" || cfg.StoreBackend != BackendMemory || cfg.LogLevel != "info" {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.PreviewMaxDimension != 1024 || cfg.MaxUploadBytes != 20<<20 {
		t.Errorf("limits = %d, %d", cfg.PreviewMaxDimension, cfg.MaxUploadBytes)
	}
	if cfg.UsesDynamo() {
		t.Error("UsesDynamo with memory backend")
	}
}

func TestLoadEnvFileDoesNotOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "test.env")
	content := "GEMINI_MODEL=gemini-2.5-pro\nPORT=9000\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "7000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GeminiModel != "gemini-2.5-pro" {
		t.Errorf("model = %q, want value from file", cfg.GeminiModel)
	}
	if cfg.Port != "7000" {
		t.Errorf("port = %q, want environment value", cfg.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory", Config{StoreBackend: "memory", MaxUploadBytes: 1}, false},
		{"dynamo with tables", Config{StoreBackend: " Dynamo ", ChatTable: "c", AnalysisTable: "a", MaxUploadBytes: 1}, false},
		{"dynamo without tables", Config{StoreBackend: "dynamo", MaxUploadBytes: 1}, true},
		{"unknown backend", Config{StoreBackend: "postgres", MaxUploadBytes: 1}, true},
		{"negative preview", Config{StoreBackend: "memory", PreviewMaxDimension: -1, MaxUploadBytes: 1}, true},
		{"zero upload limit", Config{StoreBackend: "memory"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadRejectsBadInteger(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_UPLOAD_BYTES", "lots")

	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("expected parse error")
	}
}
