package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/sethvargo/go-envconfig"
)

// Config is the biokey client configuration.
type Config struct {
	ServerURL         string
	MachineID         string
	DataDir           string
	LogFile           string
	LogLevel          string
	SyncInterval      time.Duration
	HeartbeatInterval time.Duration
	AutosaveEveryKeys int
	IdleSplit         time.Duration
	ModelCommand      []string
	PredictEvery      int
	SMSWebhook        string
	PushWait          time.Duration
	Compression       string

	// Path is the file the configuration was read from, whether or not it existed.
	Path string
}

const (
	defaultConfigPath        = "~/.config/biokey/config.toml"
	defaultDataDir           = "~/.local/share/biokey"
	defaultServerURL         = "http://127.0.0.1:3000"
	defaultLogLevel          = "info"
	defaultSyncInterval      = 2 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
	defaultAutosaveEveryKeys = 200
	defaultIdleSplit         = time.Minute
	defaultPredictEvery      = 1
	defaultPushWait          = 30 * time.Second
	defaultCompression       = "zstd"

	machineIDFile = "machine-id"
	logFileName   = "biokey.log"
)

// Default returns the built-in configuration.
func Default() Config {
	dataDir := mustExpand(defaultDataDir)
	return Config{
		ServerURL:         defaultServerURL,
		DataDir:           dataDir,
		LogFile:           filepath.Join(dataDir, logFileName),
		LogLevel:          defaultLogLevel,
		SyncInterval:      defaultSyncInterval,
		HeartbeatInterval: defaultHeartbeatInterval,
		AutosaveEveryKeys: defaultAutosaveEveryKeys,
		IdleSplit:         defaultIdleSplit,
		PredictEvery:      defaultPredictEvery,
		PushWait:          defaultPushWait,
		Compression:       defaultCompression,
	}
}

type fileConfig struct {
	ServerURL         string   `toml:"server_url"`
	MachineID         string   `toml:"machine_id"`
	DataDir           string   `toml:"data_dir"`
	LogFile           string   `toml:"log_file"`
	LogLevel          string   `toml:"log_level"`
	SyncInterval      string   `toml:"sync_interval"`
	HeartbeatInterval string   `toml:"heartbeat_interval"`
	AutosaveEveryKeys int      `toml:"autosave_every_keys"`
	IdleSplit         string   `toml:"idle_split"`
	ModelCommand      []string `toml:"model_command"`
	PredictEvery      int      `toml:"predict_every"`
	SMSWebhook        string   `toml:"sms_webhook"`
	PushWait          string   `toml:"push_wait"`
	Compression       string   `toml:"compression"`
}

// envConfig holds BIOKEY_* overrides. Zero values mean unset.
type envConfig struct {
	ServerURL         string        `env:"SERVER_URL"`
	MachineID         string        `env:"MACHINE_ID"`
	DataDir           string        `env:"DATA_DIR"`
	LogFile           string        `env:"LOG_FILE"`
	LogLevel          string        `env:"LOG_LEVEL"`
	SyncInterval      time.Duration `env:"SYNC_INTERVAL"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL"`
	AutosaveEveryKeys int           `env:"AUTOSAVE_EVERY_KEYS"`
	IdleSplit         time.Duration `env:"IDLE_SPLIT"`
	ModelCommand      string        `env:"MODEL_COMMAND"`
	PredictEvery      int           `env:"PREDICT_EVERY"`
	SMSWebhook        string        `env:"SMS_WEBHOOK"`
	PushWait          time.Duration `env:"PUSH_WAIT"`
	Compression       string        `env:"COMPRESSION"`
}

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BIOKEY_"

// Load reads the TOML file at path (the default location when empty) and
// applies BIOKEY_* environment overrides. A missing file yields defaults.
func Load(path string) (Config, error) {
	return load(path, envconfig.OsLookuper())
}

func load(path string, env envconfig.Lookuper) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	cfg.Path = resolved
	logFileSet := false

	raw, err := readFile(resolved)
	if err != nil {
		return Config{}, err
	}
	if raw != nil {
		logFileSet, err = cfg.applyFile(*raw)
		if err != nil {
			return Config{}, err
		}
	}

	var overlay envConfig
	if err := envconfig.ProcessWith(context.Background(), &overlay, envconfig.PrefixLookuper(EnvPrefix, env)); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if overlay.LogFile != "" {
		logFileSet = true
	}
	cfg.applyEnv(overlay)

	cfg.DataDir = mustExpand(cfg.DataDir)
	if logFileSet {
		cfg.LogFile = mustExpand(cfg.LogFile)
	} else {
		cfg.LogFile = filepath.Join(cfg.DataDir, logFileName)
	}
	return cfg, cfg.Validate()
}

func readFile(path string) (*fileConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var raw fileConfig
	if err := toml.Unmarshal(bytes, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &raw, nil
}

func (c *Config) applyFile(raw fileConfig) (logFileSet bool, err error) {
	setString(&c.ServerURL, raw.ServerURL)
	setString(&c.MachineID, raw.MachineID)
	setString(&c.DataDir, raw.DataDir)
	setString(&c.LogLevel, raw.LogLevel)
	setString(&c.SMSWebhook, raw.SMSWebhook)
	setString(&c.Compression, raw.Compression)
	if strings.TrimSpace(raw.LogFile) != "" {
		c.LogFile = strings.TrimSpace(raw.LogFile)
		logFileSet = true
	}
	if raw.AutosaveEveryKeys > 0 {
		c.AutosaveEveryKeys = raw.AutosaveEveryKeys
	}
	if raw.PredictEvery > 0 {
		c.PredictEvery = raw.PredictEvery
	}
	if len(raw.ModelCommand) > 0 {
		c.ModelCommand = raw.ModelCommand
	}
	for _, d := range []struct {
		key   string
		value string
		dest  *time.Duration
	}{
		{"sync_interval", raw.SyncInterval, &c.SyncInterval},
		{"heartbeat_interval", raw.HeartbeatInterval, &c.HeartbeatInterval},
		{"idle_split", raw.IdleSplit, &c.IdleSplit},
		{"push_wait", raw.PushWait, &c.PushWait},
	} {
		if err := setDuration(d.dest, d.key, d.value); err != nil {
			return false, err
		}
	}
	return logFileSet, nil
}

func (c *Config) applyEnv(env envConfig) {
	setString(&c.ServerURL, env.ServerURL)
	setString(&c.MachineID, env.MachineID)
	setString(&c.DataDir, env.DataDir)
	setString(&c.LogFile, env.LogFile)
	setString(&c.LogLevel, env.LogLevel)
	setString(&c.SMSWebhook, env.SMSWebhook)
	setString(&c.Compression, env.Compression)
	if f := strings.Fields(env.ModelCommand); len(f) > 0 {
		c.ModelCommand = f
	}
	if env.AutosaveEveryKeys > 0 {
		c.AutosaveEveryKeys = env.AutosaveEveryKeys
	}
	if env.PredictEvery > 0 {
		c.PredictEvery = env.PredictEvery
	}
	for _, d := range []struct {
		value time.Duration
		dest  *time.Duration
	}{
		{env.SyncInterval, &c.SyncInterval},
		{env.HeartbeatInterval, &c.HeartbeatInterval},
		{env.IdleSplit, &c.IdleSplit},
		{env.PushWait, &c.PushWait},
	} {
		if d.value > 0 {
			*d.dest = d.value
		}
	}
}

// Validate rejects settings the client cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ServerURL) == "" {
		return errors.New("server_url is empty")
	}
	if c.SyncInterval <= 0 || c.HeartbeatInterval <= 0 || c.PushWait <= 0 || c.IdleSplit <= 0 {
		return errors.New("intervals must be positive")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}
	return nil
}

// EnsureMachineID returns the configured machine id or, when none is set, a
// uuid stored under the data directory, creating it on first use.
func (c Config) EnsureMachineID() (string, error) {
	if id := strings.TrimSpace(c.MachineID); id != "" {
		return id, nil
	}
	path := filepath.Join(c.DataDir, machineIDFile)
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read machine id: %w", err)
	}

	id := uuid.NewString()
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write machine id: %w", err)
	}
	return id, nil
}

func setString(dest *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dest = v
	}
}

func setDuration(dest *time.Duration, key, v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse config: %s: %w", key, err)
	}
	if d <= 0 {
		return fmt.Errorf("parse config: %s must be positive", key)
	}
	*dest = d
	return nil
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
