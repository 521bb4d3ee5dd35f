package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/palma21/mr-comments-bot/internal/models"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath     = "config.yaml"
	DefaultGitLabURL      = "https://gitlab.com"
	DefaultLedgerPath     = "comment_tracker.json"
	DefaultCheckInterval  = 300 * time.Second
	DefaultRetryDelay     = 60 * time.Second
	DefaultRequestTimeout = 30 * time.Second
)

// Storage backends for the comment ledger
const (
	StorageFile   = "file"
	StorageAzure  = "azure"
	StorageSQLite = "sqlite"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port  string
	Debug bool

	// GitLab configuration
	GitLabURL       string
	GitLabToken     string
	TrackedUsers    []string
	TrackedProjects []models.Project

	// Slack configuration
	SlackToken  string
	IdentityMap map[string]string

	// Schedule configuration
	CheckInterval  time.Duration
	CheckSchedule  string // optional cron expression, overrides CheckInterval
	RetryDelay     time.Duration
	RequestTimeout time.Duration

	// Ledger storage configuration
	StorageBackend   string
	LedgerPath       string
	StorageAccount   string
	StorageContainer string
	SQLitePath       string

	// Operator alerts
	AlertEmail   string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
}

// fileConfig mirrors config.yaml. Older key names are still accepted.
type fileConfig struct {
	GitLabToken string `yaml:"gitlab_token"`
	SlackToken  string `yaml:"slack_token"`

	PlatformURL string `yaml:"platform_url"`
	GitLabURL   string `yaml:"gitlab_url"`

	TrackedUsers    []string         `yaml:"tracked_users"`
	TrackedProjects []models.Project `yaml:"tracked_projects"`

	IdentityMap  map[string]string `yaml:"identity_map"`
	SlackUserMap map[string]string `yaml:"slack_user_map"`

	LedgerPath string `yaml:"ledger_path"`
	DBFile     string `yaml:"db_file"`

	CheckIntervalSeconds  int    `yaml:"check_interval_seconds"`
	CheckInterval         int    `yaml:"check_interval"`
	CheckSchedule         string `yaml:"check_schedule"`
	RetryDelaySeconds     int    `yaml:"retry_delay_seconds"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`

	StorageBackend        string `yaml:"storage_backend"`
	AzureStorageAccount   string `yaml:"azure_storage_account"`
	AzureStorageContainer string `yaml:"azure_storage_container"`
	SQLitePath            string `yaml:"sqlite_path"`

	Port  string `yaml:"port"`
	Debug bool   `yaml:"debug"`

	AlertEmail   string `yaml:"alert_email"`
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPUsername string `yaml:"smtp_username"`
	SMTPPassword string `yaml:"smtp_password"`
}

// Load reads the YAML file at path (a missing file is not an error) and
// applies environment overrides on top of it.
func Load(path string) (*Config, error) {
	fc, err := readFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:  getEnv("PORT", firstNonEmpty(fc.Port, "8080")),
		Debug: getBoolEnv("DEBUG", fc.Debug),

		GitLabURL:       strings.TrimRight(getEnv("GITLAB_URL", firstNonEmpty(fc.PlatformURL, fc.GitLabURL, DefaultGitLabURL)), "/"),
		GitLabToken:     firstNonEmpty(fc.GitLabToken, os.Getenv("GITLAB_TOKEN")),
		TrackedUsers:    getSliceEnv("TRACKED_USERS", fc.TrackedUsers),
		TrackedProjects: fc.TrackedProjects,

		SlackToken:  firstNonEmpty(fc.SlackToken, os.Getenv("SLACK_TOKEN")),
		IdentityMap: fc.IdentityMap,

		CheckInterval:  getSecondsEnv("CHECK_INTERVAL", firstPositive(fc.CheckIntervalSeconds, fc.CheckInterval), DefaultCheckInterval),
		CheckSchedule:  getEnv("CHECK_SCHEDULE", fc.CheckSchedule),
		RetryDelay:     getSecondsEnv("RETRY_DELAY", fc.RetryDelaySeconds, DefaultRetryDelay),
		RequestTimeout: getSecondsEnv("REQUEST_TIMEOUT", fc.RequestTimeoutSeconds, DefaultRequestTimeout),

		StorageBackend:   strings.ToLower(getEnv("STORAGE_BACKEND", firstNonEmpty(fc.StorageBackend, StorageFile))),
		LedgerPath:       getEnv("LEDGER_PATH", firstNonEmpty(fc.LedgerPath, fc.DBFile, DefaultLedgerPath)),
		StorageAccount:   getEnv("AZURE_STORAGE_ACCOUNT", fc.AzureStorageAccount),
		StorageContainer: getEnv("AZURE_STORAGE_CONTAINER", firstNonEmpty(fc.AzureStorageContainer, "comment-tracker")),
		SQLitePath:       getEnv("SQLITE_PATH", firstNonEmpty(fc.SQLitePath, "comment_tracker.db")),

		AlertEmail:   getEnv("ALERT_EMAIL", fc.AlertEmail),
		SMTPHost:     getEnv("SMTP_HOST", fc.SMTPHost),
		SMTPPort:     getIntEnv("SMTP_PORT", firstPositive(fc.SMTPPort, 587)),
		SMTPUsername: getEnv("SMTP_USERNAME", fc.SMTPUsername),
		SMTPPassword: getEnv("SMTP_PASSWORD", fc.SMTPPassword),
	}

	if cfg.IdentityMap == nil {
		cfg.IdentityMap = fc.SlackUserMap
	}
	if cfg.IdentityMap == nil {
		cfg.IdentityMap = map[string]string{}
	}

	// Validate required configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func readFile(path string) (*fileConfig, error) {
	fc := &fileConfig{}
	if path == "" {
		return fc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logrus.Infof("No config file at %s, using environment variables", path)
			return fc, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return fc, nil
}

func (c *Config) validate() error {
	if c.GitLabToken == "" || c.SlackToken == "" {
		return fmt.Errorf("GitLab token and Slack token must be provided (gitlab_token/slack_token or GITLAB_TOKEN/SLACK_TOKEN)")
	}

	if c.CheckInterval <= 0 {
		return fmt.Errorf("check interval must be positive")
	}

	switch c.StorageBackend {
	case StorageFile:
		if c.LedgerPath == "" {
			return fmt.Errorf("ledger_path is required for the file backend")
		}
	case StorageAzure:
		if c.StorageAccount == "" {
			return fmt.Errorf("AZURE_STORAGE_ACCOUNT is required when STORAGE_BACKEND is azure")
		}
	case StorageSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORAGE_BACKEND is sqlite")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be one of file, azure, sqlite (got %q)", c.StorageBackend)
	}

	if c.AlertEmail != "" && c.SMTPHost == "" {
		return fmt.Errorf("SMTP_HOST is required when ALERT_EMAIL is set")
	}

	return nil
}

// EmailAlertsEnabled reports whether operator alerts can be delivered by e-mail.
func (c *Config) EmailAlertsEnabled() bool {
	return c.AlertEmail != "" && c.SMTPHost != ""
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, fileValue int, defaultValue time.Duration) time.Duration {
	seconds := getIntEnv(key, fileValue)
	if seconds <= 0 {
		return defaultValue
	}
	return time.Duration(seconds) * time.Second
}

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		return out
	}
	return defaultValue
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
