package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the root configuration for the relay. It is built once at
// startup and treated as read-only afterwards.
type Config struct {
	LogLevel     string `json:"logLevel"`
	LogFormat    string `json:"logFormat"` // "text" | "json"
	DomainMarker string `json:"domainMarker"`
	MessagesFile string `json:"messagesFile,omitempty"`

	Telegram TelegramConfig `json:"telegram"`
	Backend  BackendConfig  `json:"backend"`
	Redirect RedirectConfig `json:"redirect"`
	Upload   UploadConfig   `json:"upload"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type TelegramConfig struct {
	Token              string         `json:"token"`
	AllowFrom          FlexStringList `json:"allowFrom,omitempty"`
	ParseMode          string         `json:"parseMode"`
	PollTimeoutSeconds int            `json:"pollTimeoutSeconds"`
}

// BackendConfig points at the video resolution service.
type BackendConfig struct {
	URL            string `json:"url"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// RedirectConfig controls the best-effort HEAD request that follows
// redirects before upload.
type RedirectConfig struct {
	Enabled        bool   `json:"enabled"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	UserAgent      string `json:"userAgent,omitempty"`
}

type UploadConfig struct {
	Mode               string `json:"mode"` // "url" | "proxy"
	ReadTimeoutSeconds int    `json:"readTimeoutSeconds"`
	FilenameStem       string `json:"filenameStem"`
}

// MetricsConfig configures the optional Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

const (
	UploadModeURL   = "url"
	UploadModeProxy = "proxy"
)

func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

func (r RedirectConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

func (u UploadConfig) ReadTimeout() time.Duration {
	return time.Duration(u.ReadTimeoutSeconds) * time.Second
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// AllowedUserIDs parses the allow list, skipping entries that are not numeric.
func (t TelegramConfig) AllowedUserIDs() []int64 {
	var ids []int64
	for _, s := range t.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// DefaultConfigDir returns the default config directory (~/.vidrelay).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vidrelay"
	}
	return filepath.Join(home, ".vidrelay")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files into the process
// environment. Files that do not exist are skipped and variables that are
// already set are never overridden.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load builds the effective configuration: defaults, then the JSON file at
// path (skipped when path is empty), then environment overrides. The result
// is validated before it is returned.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := readFile(path, cfg); err != nil {
			return nil, err
		}
	}

	ApplyEnv(cfg)
	cfg.MessagesFile = ExpandPath(cfg.MessagesFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func readFile(path string, cfg *Config) error {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides file values with the well-known environment variables.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("FACEBOOK_VIDEO_API_URL"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("UPLOAD_MODE"); v != "" {
		cfg.Upload.Mode = strings.ToLower(v)
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values. A missing bot token or
// backend URL is fatal at startup.
func Validate(cfg *Config) error {
	var errs []string

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, "telegram.token is required (set BOT_TOKEN)")
	}
	if strings.TrimSpace(cfg.Backend.URL) == "" {
		errs = append(errs, "backend.url is required (set FACEBOOK_VIDEO_API_URL)")
	} else if u, err := url.Parse(cfg.Backend.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "backend.url must be an absolute http(s) URL")
	}
	if strings.TrimSpace(cfg.DomainMarker) == "" {
		errs = append(errs, "domainMarker must not be empty")
	}

	if cfg.Backend.TimeoutSeconds < 1 || cfg.Backend.TimeoutSeconds > 600 {
		errs = append(errs, "backend.timeoutSeconds must be between 1 and 600")
	}
	if cfg.Redirect.TimeoutSeconds < 1 || cfg.Redirect.TimeoutSeconds > 120 {
		errs = append(errs, "redirect.timeoutSeconds must be between 1 and 120")
	}
	if cfg.Upload.ReadTimeoutSeconds < 1 || cfg.Upload.ReadTimeoutSeconds > 900 {
		errs = append(errs, "upload.readTimeoutSeconds must be between 1 and 900")
	}
	if cfg.Telegram.PollTimeoutSeconds < 0 || cfg.Telegram.PollTimeoutSeconds > 120 {
		errs = append(errs, "telegram.pollTimeoutSeconds must be between 0 and 120")
	}

	switch cfg.Upload.Mode {
	case UploadModeURL, UploadModeProxy:
	default:
		errs = append(errs, "upload.mode must be one of: url, proxy")
	}
	switch cfg.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "logFormat must be one of: text, json")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errs = append(errs, "metrics.addr is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
