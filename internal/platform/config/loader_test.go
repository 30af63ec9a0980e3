package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func noEnv(string) (string, bool) { return "", false }

func TestLoader_Load(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, ".config.yaml")

	configContent := `
server:
  ip: "127.0.0.1"
  port: 9090
log:
  log_level: "debug"
  log_dir: "/tmp/logs"
  log_file: "test.log"
tts:
  order: [edge]
  attempt_timeout: 45s
  providers:
    edge:
      type: edge
      voice: en-GB-SoniaNeural
      max_chars: 1000
      overflow: truncate
      timeout: 15s
`
	if err := os.WriteFile(configFile, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	res, err := NewLoader().WithDotEnv(false).WithEnv(noEnv).WithPath(configFile).Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	cfg := res.Config

	if res.Path != configFile {
		t.Errorf("expected origin %s, got %s", configFile, res.Path)
	}
	if cfg.Server.IP != "127.0.0.1" || cfg.Server.Port != 9090 {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Log.Level)
	}
	if len(cfg.TTS.Order) != 1 || cfg.TTS.Order[0] != "edge" {
		t.Errorf("unexpected order %v", cfg.TTS.Order)
	}
	if cfg.TTS.AttemptTimeout != 45*time.Second {
		t.Errorf("expected attempt timeout 45s, got %s", cfg.TTS.AttemptTimeout)
	}
	if cfg.TTS.Providers["edge"].Voice != "en-GB-SoniaNeural" {
		t.Errorf("unexpected edge voice %q", cfg.TTS.Providers["edge"].Voice)
	}
	if cfg.Ledger.CycleDays != 60 {
		t.Errorf("defaults should survive partial files, got cycle %d", cfg.Ledger.CycleDays)
	}
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	res, err := NewLoader().WithDotEnv(false).WithEnv(noEnv).
		WithPath(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Path != "" {
		t.Errorf("expected empty origin, got %s", res.Path)
	}
	if res.Config.Server.Port != 8080 {
		t.Errorf("expected default port, got %d", res.Config.Server.Port)
	}
}

func TestLoader_EnvOverrides(t *testing.T) {
	env := map[string]string{
		"ELEVENLABS_API_KEY": "el-key",
		"OPENAI_API_KEY":     "oa-key",
		"GRADIO_BASE_URL":    "http://gradio.local",
		"CALL_JWT_SECRET":    "s3cret",
		"REDIS_ADDR":         "localhost:6379",
		"SERVER_PORT":        "9100",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	res, err := NewLoader().WithDotEnv(false).WithEnv(lookup).
		WithPath(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg := res.Config
	if cfg.TTS.Providers["elevenlabs"].APIKey != "el-key" || cfg.TTS.Providers["openai"].APIKey != "oa-key" {
		t.Errorf("api keys not applied: %+v", cfg.TTS.Providers)
	}
	if cfg.TTS.Providers["gradio"].BaseURL != "http://gradio.local" {
		t.Errorf("gradio base url not applied")
	}
	if cfg.Call.JWTSecret != "s3cret" || cfg.Cache.Addr != "localhost:6379" || cfg.Server.Port != 9100 {
		t.Errorf("env overrides not applied: call=%+v cache=%+v port=%d", cfg.Call, cfg.Cache, cfg.Server.Port)
	}
}

func TestLoader_Validate(t *testing.T) {
	loader := NewLoader()

	valid := func() *Config { return DefaultConfig() }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "invalid server port", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: true},
		{name: "empty order", mutate: func(c *Config) { c.TTS.Order = nil }, wantErr: true},
		{name: "unknown provider in order", mutate: func(c *Config) { c.TTS.Order = []string{"nope"} }, wantErr: true},
		{
			name: "bad overflow policy",
			mutate: func(c *Config) {
				p := c.TTS.Providers["edge"]
				p.Overflow = "wrap"
				c.TTS.Providers["edge"] = p
			},
			wantErr: true,
		},
		{name: "negative price", mutate: func(c *Config) { c.Ledger.MarketPriceUSD = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := loader.validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
