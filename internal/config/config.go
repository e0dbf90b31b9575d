// Package config loads bot configuration from a JSON file or from
// environment variables (optionally via a .env file).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the top-level missionbot configuration.
type Config struct {
	Bot     BotConfig     `json:"bot"`
	Tracker TrackerConfig `json:"tracker"`
	Report  ReportConfig  `json:"report"`
	API     APIConfig     `json:"api"`
}

// BotConfig holds chat platform settings.
type BotConfig struct {
	Token     string  `json:"token"`
	DBPath    string  `json:"db_path"`
	AllowFrom []int64 `json:"allow_from,omitempty"` // empty = all users
}

// TrackerConfig holds issue tracker settings. Host is the tracker's browse
// host (links look like https://<host>/browse/PROJ-1); the credentials are
// only needed for title fetching and may be empty.
type TrackerConfig struct {
	Host     string `json:"host"`
	Username string `json:"username,omitempty"`
	APIToken string `json:"api_token,omitempty"`
}

// ReportConfig holds scheduled weekly report settings. Schedule is a cron
// expression; an empty schedule or chat ID disables scheduled posting.
type ReportConfig struct {
	Schedule string `json:"schedule,omitempty"`
	ChatID   int64  `json:"chat_id,omitempty"`
}

// APIConfig holds REST API server settings. Port 0 disables the server.
type APIConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Key  string `json:"api_key"`
}

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a config from BOT_-prefixed environment variables.
// When envFile is non-empty it is loaded first; missing files are fine so the
// same binary runs with a .env in development and plain env in production.
func LoadFromEnv(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		Bot: BotConfig{
			Token:  os.Getenv("BOT_TOKEN"),
			DBPath: getenv("BOT_DB_PATH", "tasks.db"),
		},
		Tracker: TrackerConfig{
			Host:     os.Getenv("BOT_TRACKER_HOST"),
			Username: os.Getenv("BOT_TRACKER_USERNAME"),
			APIToken: os.Getenv("BOT_TRACKER_API_TOKEN"),
		},
		Report: ReportConfig{
			Schedule: os.Getenv("BOT_REPORT_SCHEDULE"),
			ChatID:   getenvInt64("BOT_REPORT_CHAT_ID", 0),
		},
		API: APIConfig{
			Host: getenv("BOT_API_HOST", "0.0.0.0"),
			Port: getenvInt("BOT_API_PORT", 0),
			Key:  os.Getenv("BOT_API_KEY"),
		},
	}

	if ids := os.Getenv("BOT_ALLOW_FROM"); ids != "" {
		parsed, err := parseInt64List(ids)
		if err != nil {
			return nil, fmt.Errorf("config: BOT_ALLOW_FROM: %w", err)
		}
		cfg.Bot.AllowFrom = parsed
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Bot.DBPath == "" {
		c.Bot.DBPath = "tasks.db"
	}
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
}

// Validate checks for required fields.
func (c *Config) Validate() error {
	var errs []string

	if c.Bot.Token == "" {
		errs = append(errs, "bot.token is required")
	}
	if c.Tracker.Host == "" {
		errs = append(errs, "tracker.host is required")
	}
	if c.Report.Schedule != "" && c.Report.ChatID == 0 {
		errs = append(errs, "report.chat_id is required when report.schedule is set")
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be in 0-65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func parseInt64List(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	result := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", p)
		}
		result = append(result, n)
	}
	return result, nil
}
