package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Session.SampleRate != 16000 || cfg.Session.BytesPerSample != 2 || cfg.Session.ChunkDurationMS != 100 {
		t.Fatalf("unexpected session defaults: %+v", cfg.Session)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "loqa.yaml")
	data := []byte(`
runtime_name: yaml-runtime
llm:
  mode: ollama
  endpoint: http://ollama:11434
session:
  chunk_duration_ms: 200
capture:
  mode: wav
  file: ./hello.wav
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "yaml-runtime" {
		t.Fatalf("expected runtime name from file, got %q", cfg.RuntimeName)
	}
	if cfg.LLM.Mode != "ollama" || cfg.LLM.Endpoint != "http://ollama:11434" {
		t.Fatalf("expected llm settings from file, got %+v", cfg.LLM)
	}
	if cfg.Session.ChunkDurationMS != 200 {
		t.Fatalf("expected chunk duration 200, got %d", cfg.Session.ChunkDurationMS)
	}
	if cfg.Session.SampleRate != 16000 {
		t.Fatalf("expected default sample rate to survive, got %d", cfg.Session.SampleRate)
	}
	if cfg.Capture.Mode != "wav" || cfg.Capture.File != "./hello.wav" {
		t.Fatalf("expected capture settings from file, got %+v", cfg.Capture)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_NODE_ID", "test-node")
	t.Setenv("LOQA_NODE_ROLE", "client")
	t.Setenv("LOQA_NODE_HEARTBEAT_INTERVAL_MS", "1500")
	t.Setenv("LOQA_NODE_HEARTBEAT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_DAYS", "7")
	t.Setenv("LOQA_EVENT_STORE_MAX_SESSIONS", "123")
	t.Setenv("LOQA_EVENT_STORE_VACUUM_ON_START", "true")
	t.Setenv("LOQA_SESSION_SAMPLE_RATE", "8000")
	t.Setenv("LOQA_SESSION_CHUNK_DURATION_MS", "50")
	t.Setenv("LOQA_CAPTURE_MODE", "none")
	t.Setenv("LOQA_PLAYBACK_MODE", "file")
	t.Setenv("LOQA_PLAYBACK_PATH", "./out")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Node.ID != "test-node" || cfg.Node.Role != "client" {
		t.Fatalf("expected node overrides, got %+v", cfg.Node)
	}
	if cfg.Node.HeartbeatInterval != 1500 {
		t.Fatalf("expected heartbeat interval override")
	}
	if cfg.Node.HeartbeatTimeout != 5000 {
		t.Fatalf("expected heartbeat timeout override")
	}
	if cfg.EventStore.Path != "./tmp.db" {
		t.Fatalf("expected event store path override")
	}
	if cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store retention mode override")
	}
	if cfg.EventStore.RetentionDays != 7 {
		t.Fatalf("expected event store retention days override")
	}
	if cfg.EventStore.MaxSessions != 123 {
		t.Fatalf("expected event store max sessions override")
	}
	if !cfg.EventStore.VacuumOnStart {
		t.Fatalf("expected event store vacuum flag override")
	}
	if cfg.Session.SampleRate != 8000 || cfg.Session.ChunkDurationMS != 50 {
		t.Fatalf("expected session overrides, got %+v", cfg.Session)
	}
	if cfg.Capture.Mode != "none" {
		t.Fatalf("expected capture mode override")
	}
	if cfg.Playback.Mode != "file" || cfg.Playback.Path != "./out" {
		t.Fatalf("expected playback overrides, got %+v", cfg.Playback)
	}
}

func TestDotEnvDoesNotOverrideProcessEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	envFile := "LOQA_LLM_MODE=openai\nLOQA_LLM_API_KEY=sk-test\nLOQA_NODE_ID=from-dotenv\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(envFile), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("LOQA_NODE_ID", "from-process")
	// godotenv sets variables directly; register cleanup for the ones it adds.
	t.Setenv("LOQA_LLM_MODE", "")
	t.Setenv("LOQA_LLM_API_KEY", "")
	os.Unsetenv("LOQA_LLM_MODE")
	os.Unsetenv("LOQA_LLM_API_KEY")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.Mode != "openai" || cfg.LLM.APIKey != "sk-test" {
		t.Fatalf("expected llm settings from .env, got %+v", cfg.LLM)
	}
	if cfg.Node.ID != "from-process" {
		t.Fatalf("expected process env to win, got %q", cfg.Node.ID)
	}
}

func TestExplicitEnvFileMissing(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LOQA_ENV_FILE", filepath.Join(t.TempDir(), "nope.env"))
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for missing explicit env file")
	}
}

func TestValidateRejectsBadModes(t *testing.T) {
	cases := map[string]func(*Config){
		"llm mode":       func(c *Config) { c.LLM.Mode = "magic" },
		"openai key":     func(c *Config) { c.LLM.Mode = "openai"; c.LLM.APIKey = "" },
		"capture exec":   func(c *Config) { c.Capture.Mode = "exec"; c.Capture.Command = "" },
		"capture wav":    func(c *Config) { c.Capture.Mode = "wav"; c.Capture.File = "" },
		"playback mode":  func(c *Config) { c.Playback.Mode = "speaker" },
		"playback pcm":   func(c *Config) { c.Playback.Mode = "pcm"; c.Playback.Path = "" },
		"chunk duration": func(c *Config) { c.Session.ChunkDurationMS = 0 },
		"utterance":      func(c *Config) { c.Agent.UtteranceMS = 0 },
		"retention":      func(c *Config) { c.EventStore.RetentionMode = "forever" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestTelemetryLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelWarn,
		"loud":    slog.LevelWarn,
	}
	for in, want := range cases {
		if got := (TelemetryConfig{LogLevel: in}).Level(slog.LevelWarn); got != want {
			t.Errorf("Level(%q) = %v, want %v", in, got, want)
		}
	}
}
