package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Agents    AgentsConfig    `json:"agents"`
	Notify    NotifyConfig    `json:"notify"`
	History   HistoryConfig   `json:"history"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`
}

type SchedulerConfig struct {
	Tick     string `json:"tick"` // Go duration string, e.g. "30s"
	PoolSize int    `json:"pool_size"`
}

// TickDuration parses the configured tick. An empty tick returns zero,
// letting the scheduler fall back to its default.
func (c SchedulerConfig) TickDuration() (time.Duration, error) {
	if c.Tick == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Tick)
	if err != nil {
		return 0, fmt.Errorf("parse scheduler tick %q: %w", c.Tick, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("scheduler tick %q is negative", c.Tick)
	}
	return d, nil
}

// AgentsConfig holds per-agent settings. Backend agents are only
// registered when enabled.
type AgentsConfig struct {
	System   SystemAgentConfig   `json:"system"`
	Database PostgresAgentConfig `json:"database"`
	Cache    RedisAgentConfig    `json:"cache"`
	Graph    Neo4jAgentConfig    `json:"graph"`
	Vector   QdrantAgentConfig   `json:"vector"`
	Security SecurityAgentConfig `json:"security"`
}

type SystemAgentConfig struct {
	Enabled  bool    `json:"enabled"`
	CPUWarn  float64 `json:"cpu_warn"`
	CPUCrit  float64 `json:"cpu_crit"`
	MemWarn  float64 `json:"mem_warn"`
	MemCrit  float64 `json:"mem_crit"`
	DiskWarn float64 `json:"disk_warn"`
	DiskCrit float64 `json:"disk_crit"`
	DiskPath string  `json:"disk_path"`
	TempDir  string  `json:"temp_dir"`
}

type PostgresAgentConfig struct {
	Enabled bool   `json:"enabled"`
	DSN     string `json:"dsn"`
}

type RedisAgentConfig struct {
	Enabled   bool   `json:"enabled"`
	URL       string `json:"url"`
	KeyPrefix string `json:"key_prefix"`
}

type Neo4jAgentConfig struct {
	Enabled  bool   `json:"enabled"`
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type QdrantAgentConfig struct {
	Enabled     bool               `json:"enabled"`
	Host        string             `json:"host"`
	Port        int                `json:"port"`
	Collections []CollectionConfig `json:"collections"`
}

type CollectionConfig struct {
	Name      string `json:"name"`
	Dimension uint64 `json:"dimension"`
}

type SecurityAgentConfig struct {
	Enabled     bool     `json:"enabled"`
	RequiredEnv []string `json:"required_env"`
	EnvFile     string   `json:"env_file"`
}

type NotifyConfig struct {
	MinStatus string              `json:"min_status"` // lowest severity worth alerting on
	Discord   DiscordNotifyConfig `json:"discord"`
	Slack     SlackNotifyConfig   `json:"slack"`
	Stream    StreamNotifyConfig  `json:"stream"`
}

type DiscordNotifyConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

type SlackNotifyConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

type StreamNotifyConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"` // defaults to the cache agent's Redis URL
}

type HistoryConfig struct {
	Enabled       bool   `json:"enabled"`
	DSN           string `json:"dsn"` // defaults to the database agent's DSN
	MigrationsDir string `json:"migrations_dir"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks constraints that would otherwise only surface at
// connect time.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if _, err := c.Scheduler.TickDuration(); err != nil {
		return err
	}
	if c.Agents.Database.Enabled && c.Agents.Database.DSN == "" {
		return fmt.Errorf("database agent enabled without dsn")
	}
	if c.Agents.Cache.Enabled && c.Agents.Cache.URL == "" {
		return fmt.Errorf("cache agent enabled without url")
	}
	if c.Agents.Graph.Enabled && c.Agents.Graph.URI == "" {
		return fmt.Errorf("graph agent enabled without uri")
	}
	if c.Agents.Vector.Enabled && c.Agents.Vector.Host == "" {
		return fmt.Errorf("vector agent enabled without host")
	}
	if c.Notify.Discord.Enabled && (c.Notify.Discord.BotToken == "" || c.Notify.Discord.ChannelID == "") {
		return fmt.Errorf("discord notify enabled without bot_token and channel_id")
	}
	if c.Notify.Slack.Enabled && (c.Notify.Slack.BotToken == "" || c.Notify.Slack.ChannelID == "") {
		return fmt.Errorf("slack notify enabled without bot_token and channel_id")
	}
	if c.History.Enabled && c.History.DSN == "" && c.Agents.Database.DSN == "" {
		return fmt.Errorf("history enabled without dsn")
	}
	return nil
}

// HistoryDSN resolves the history store's DSN, falling back to the
// database agent's.
func (c *Config) HistoryDSN() string {
	if c.History.DSN != "" {
		return c.History.DSN
	}
	return c.Agents.Database.DSN
}

// StreamURL resolves the run stream's Redis URL, falling back to the
// cache agent's.
func (c *Config) StreamURL() string {
	if c.Notify.Stream.URL != "" {
		return c.Notify.Stream.URL
	}
	return c.Agents.Cache.URL
}
