package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const defaultConfigPath = "config.json"

// Config represents runtime configuration for the relay.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Logging     LoggingConfig             `json:"logging"`
	NodeID      int64                     `json:"node_id"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	Environment   string `json:"environment"`

	// HistoryBackend is one of "file", "sqlite3" or "mysql".
	HistoryBackend string `json:"history_backend"`
	HistoryDir     string `json:"history_dir"`
	ProfilesDir    string `json:"profiles_dir"`

	Provider           string `json:"provider"`
	ProtectedSubstring string `json:"protected_substring"`
	AutoReply          bool   `json:"auto_reply"`
	BroadcastAll       bool   `json:"broadcast_all"`
	ReplyTimeout       int    `json:"reply_timeout"` // seconds

	BatchQueueSize    int `json:"batch_queue_size"`
	MinWorkers        int `json:"min_workers"`
	MaxWorkers        int `json:"max_workers"`
	QueueSize         int `json:"queue_size"`
	WorkerIdleTimeout int `json:"worker_idle_timeout"` // seconds
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // "text" or "json"
}

// IsProduction reports whether the relay runs with production defaults.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.BasicConfig.Environment, "production")
}

// Load reads configuration from the provided path (defaults to config.json).
// A .env file in the working directory is loaded first and environment
// variables override values from the file. A missing default config file is
// not an error; an explicitly named one is.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	explicit := path != ""
	if path == "" {
		path = defaultConfigPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	// booleans that default to true are set before decoding
	cfg := Config{BasicConfig: BasicConfig{AutoReply: true}}
	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	baseDir := filepath.Dir(absPath)
	cfg.BasicConfig.HistoryDir = resolvePath(baseDir, cfg.BasicConfig.HistoryDir)
	cfg.BasicConfig.ProfilesDir = resolvePath(baseDir, cfg.BasicConfig.ProfilesDir)
	if db, ok := cfg.Databases["sqlite3"]; ok && db.DSN != "" && db.DSN != ":memory:" && !strings.HasPrefix(db.DSN, "file:") {
		db.DSN = resolvePath(baseDir, db.DSN)
		cfg.Databases["sqlite3"] = db
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.BasicConfig.HistoryBackend {
	case "file", "sqlite3", "mysql":
	default:
		return fmt.Errorf("unsupported history_backend: %s", c.BasicConfig.HistoryBackend)
	}
	if c.BasicConfig.HistoryBackend == "file" && c.BasicConfig.HistoryDir == "" {
		return errors.New("history_dir must be configured")
	}
	if c.BasicConfig.HistoryBackend != "file" {
		if _, ok := c.Databases[c.BasicConfig.HistoryBackend]; !ok {
			return fmt.Errorf("database config for %s not found", c.BasicConfig.HistoryBackend)
		}
	}
	if c.BasicConfig.MaxWorkers < c.BasicConfig.MinWorkers {
		return errors.New("max_workers must not be lower than min_workers")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	b := &cfg.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = ":5000"
	}
	if b.HistoryBackend == "" {
		b.HistoryBackend = "file"
	}
	if b.HistoryDir == "" {
		b.HistoryDir = "chat_history"
	}
	if b.ProfilesDir == "" {
		b.ProfilesDir = "character_profiles"
	}
	if b.Provider == "" {
		b.Provider = "openai"
	}
	if b.ProtectedSubstring == "" {
		b.ProtectedSubstring = "Elvith"
	}
	if b.ReplyTimeout <= 0 {
		b.ReplyTimeout = 60
	}
	if b.BatchQueueSize <= 0 {
		b.BatchQueueSize = 16
	}
	if b.MinWorkers <= 0 {
		b.MinWorkers = 1
	}
	if b.MaxWorkers <= 0 {
		b.MaxWorkers = 4
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 64
	}
	if b.WorkerIdleTimeout <= 0 {
		b.WorkerIdleTimeout = 30
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}
	if cfg.Databases == nil {
		cfg.Databases = make(map[string]DatabaseConfig)
	}
	if _, ok := cfg.Databases["sqlite3"]; !ok && b.HistoryBackend == "sqlite3" {
		cfg.Databases["sqlite3"] = DatabaseConfig{DSN: "personarelay.db"}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
		if cfg.IsProduction() {
			cfg.Logging.Format = "json"
		}
	}
	if cfg.NodeID <= 0 {
		cfg.NodeID = 1
	}
}

func applyEnv(cfg *Config) {
	b := &cfg.BasicConfig
	setString(&b.ServerAddress, "PERSONARELAY_ADDR")
	setString(&b.Environment, "PERSONARELAY_ENV")
	setString(&b.HistoryBackend, "PERSONARELAY_HISTORY")
	setString(&b.HistoryDir, "PERSONARELAY_HISTORY_DIR")
	setString(&b.ProfilesDir, "PERSONARELAY_PROFILES_DIR")
	setString(&b.Provider, "PERSONARELAY_PROVIDER")
	setBool(&b.AutoReply, "PERSONARELAY_AUTO_REPLY")
	setBool(&b.BroadcastAll, "PERSONARELAY_BROADCAST_ALL")
	setString(&cfg.Logging.Level, "PERSONARELAY_LOG_LEVEL")
	setBool(&cfg.Redis.Enabled, "PERSONARELAY_REDIS")

	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}
	providerKey(cfg, "openai", "OPENAI_API_KEY")
	providerKey(cfg, "claude", "ANTHROPIC_API_KEY")
	providerKey(cfg, "gemini", "GEMINI_API_KEY")

	if url := os.Getenv("OLLAMA_URL"); url != "" {
		p := cfg.Providers["ollama"]
		p.BaseURL = strings.TrimRight(url, "/") + "/v1"
		cfg.Providers["ollama"] = p
	}
	if model := os.Getenv("OLLAMA_MODEL"); model != "" {
		p := cfg.Providers["ollama"]
		p.Model = model
		cfg.Providers["ollama"] = p
	}
}

func providerKey(cfg *Config, provider, env string) {
	key := os.Getenv(env)
	if key == "" {
		return
	}
	p := cfg.Providers[provider]
	if p.APIKey == "" {
		p.APIKey = key
	}
	cfg.Providers[provider] = p
}

func setString(dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, env string) {
	if v := os.Getenv(env); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}

func resolvePath(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}
