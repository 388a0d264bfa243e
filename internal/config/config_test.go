package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
)

func noEnv() envconfig.Lookuper { return envconfig.MapLookuper(map[string]string{}) }

func TestLoad_MissingConfigFallsBackToDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := load(filepath.Join(home, "does-not-exist.toml"), noEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.ServerURL != defaultServerURL {
		t.Fatalf("ServerURL = %q, want %q", cfg.ServerURL, defaultServerURL)
	}
	wantDataDir, err := expandPath(defaultDataDir)
	if err != nil {
		t.Fatalf("expandPath(defaultDataDir) returned error: %v", err)
	}
	if cfg.DataDir != wantDataDir {
		t.Fatalf("DataDir = %q, want %q", cfg.DataDir, wantDataDir)
	}
	if cfg.LogFile != filepath.Join(wantDataDir, logFileName) {
		t.Fatalf("LogFile = %q", cfg.LogFile)
	}
	if cfg.SyncInterval != defaultSyncInterval || cfg.AutosaveEveryKeys != defaultAutosaveEveryKeys || cfg.Compression != "zstd" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoad_ParsesAndTrimsConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`
server_url = "  https://biokey.example.com  "
data_dir = "  ~/.biokey  "
sync_interval = "500ms"
heartbeat_interval = "1m"
autosave_every_keys = 50
model_command = ["python3", "model.py"]
compression = "lz4"
`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := load(path, noEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.ServerURL != "https://biokey.example.com" {
		t.Fatalf("ServerURL = %q", cfg.ServerURL)
	}
	if !strings.HasPrefix(cfg.DataDir, home) {
		t.Fatalf("DataDir = %q, want it under HOME %q", cfg.DataDir, home)
	}
	if cfg.LogFile != filepath.Join(cfg.DataDir, logFileName) {
		t.Fatalf("LogFile should follow data_dir, got %q", cfg.LogFile)
	}
	if cfg.SyncInterval != 500*time.Millisecond || cfg.HeartbeatInterval != time.Minute {
		t.Fatalf("intervals = %v, %v", cfg.SyncInterval, cfg.HeartbeatInterval)
	}
	if cfg.AutosaveEveryKeys != 50 || cfg.Compression != "lz4" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.ModelCommand) != 2 || cfg.ModelCommand[1] != "model.py" {
		t.Fatalf("ModelCommand = %v", cfg.ModelCommand)
	}
	if cfg.Path != path {
		t.Fatalf("Path = %q, want %q", cfg.Path, path)
	}
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`
server_url = "http://file:3000"
machine_id = "from-file"
`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	env := envconfig.MapLookuper(map[string]string{
		"BIOKEY_SERVER_URL":    "http://env:4000",
		"BIOKEY_PUSH_WAIT":     "5s",
		"BIOKEY_MODEL_COMMAND": "python3 -u model.py",
		"UNRELATED_MACHINE_ID": "ignored",
	})
	cfg, err := load(path, env)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.ServerURL != "http://env:4000" {
		t.Fatalf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.MachineID != "from-file" {
		t.Fatalf("MachineID = %q, want file value", cfg.MachineID)
	}
	if cfg.PushWait != 5*time.Second {
		t.Fatalf("PushWait = %v", cfg.PushWait)
	}
	if strings.Join(cfg.ModelCommand, " ") != "python3 -u model.py" {
		t.Fatalf("ModelCommand = %v", cfg.ModelCommand)
	}
}

func TestLoad_InvalidValuesFail(t *testing.T) {
	cases := map[string]string{
		"toml":     `server_url = [`,
		"duration": `sync_interval = "soon"`,
		"negative": `push_wait = "-1s"`,
		"level":    `log_level = "loud"`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
			if _, err := load(path, noEnv()); err == nil {
				t.Fatalf("Load returned nil error")
			}
		})
	}
}

func TestEnsureMachineID_PersistsGeneratedID(t *testing.T) {
	cfg := Config{DataDir: filepath.Join(t.TempDir(), "data")}

	first, err := cfg.EnsureMachineID()
	if err != nil {
		t.Fatalf("EnsureMachineID: %v", err)
	}
	if first == "" {
		t.Fatalf("empty machine id")
	}
	second, err := cfg.EnsureMachineID()
	if err != nil {
		t.Fatalf("EnsureMachineID: %v", err)
	}
	if first != second {
		t.Fatalf("machine id changed: %q then %q", first, second)
	}

	cfg.MachineID = "configured"
	if got, _ := cfg.EnsureMachineID(); got != "configured" {
		t.Fatalf("configured id ignored, got %q", got)
	}
}

func TestExpandPath_ExpandsTildeAndReturnsAbs(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := expandPath("~/a/b")
	if err != nil {
		t.Fatalf("expandPath returned error: %v", err)
	}
	want := filepath.Join(home, "a/b")
	if got != want {
		t.Fatalf("expandPath = %q, want %q", got, want)
	}
}

func TestExpandPath_EmptyErrors(t *testing.T) {
	if _, err := expandPath("   "); err == nil {
		t.Fatalf("expandPath returned nil error, want error")
	}
}
