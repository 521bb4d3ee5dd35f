package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/palma21/mr-comments-bot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"PORT", "DEBUG", "GITLAB_URL", "GITLAB_TOKEN", "SLACK_TOKEN", "TRACKED_USERS",
	"CHECK_INTERVAL", "CHECK_SCHEDULE", "RETRY_DELAY", "REQUEST_TIMEOUT",
	"STORAGE_BACKEND", "LEDGER_PATH", "AZURE_STORAGE_ACCOUNT", "AZURE_STORAGE_CONTAINER",
	"SQLITE_PATH", "ALERT_EMAIL", "SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("GITLAB_TOKEN", "glpat-test")
	t.Setenv("SLACK_TOKEN", "xoxb-test")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultGitLabURL, cfg.GitLabURL)
	assert.Equal(t, DefaultLedgerPath, cfg.LedgerPath)
	assert.Equal(t, DefaultCheckInterval, cfg.CheckInterval)
	assert.Equal(t, DefaultRetryDelay, cfg.RetryDelay)
	assert.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout)
	assert.Equal(t, StorageFile, cfg.StorageBackend)
	assert.Equal(t, "8080", cfg.Port)
	assert.Empty(t, cfg.TrackedUsers)
	assert.Empty(t, cfg.TrackedProjects)
	assert.NotNil(t, cfg.IdentityMap)
	assert.False(t, cfg.EmailAlertsEnabled())
}

func TestLoad_MissingCredentials(t *testing.T) {
	tests := []struct {
		name        string
		gitlabToken string
		slackToken  string
	}{
		{name: "Both missing"},
		{name: "Missing Slack token", gitlabToken: "glpat-test"},
		{name: "Missing GitLab token", slackToken: "xoxb-test"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("GITLAB_TOKEN", tt.gitlabToken)
			t.Setenv("SLACK_TOKEN", tt.slackToken)

			cfg, err := Load("")
			assert.Nil(t, cfg)
			assert.ErrorContains(t, err, "token must be provided")
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
gitlab_token: "file-gitlab"
slack_token: "file-slack"
platform_url: "https://gitlab.example.com/"
tracked_users:
  - reviewer1
  - author1
tracked_projects:
  - { id: 12345, path_with_namespace: "group/project-name" }
identity_map:
  author1: "U1"
ledger_path: "ledger.json"
check_interval_seconds: 120
retry_delay_seconds: 10
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "file-gitlab", cfg.GitLabToken)
	assert.Equal(t, "file-slack", cfg.SlackToken)
	assert.Equal(t, "https://gitlab.example.com", cfg.GitLabURL)
	assert.Equal(t, []string{"reviewer1", "author1"}, cfg.TrackedUsers)
	assert.Equal(t, []models.Project{{ID: 12345, PathWithNamespace: "group/project-name"}}, cfg.TrackedProjects)
	assert.Equal(t, map[string]string{"author1": "U1"}, cfg.IdentityMap)
	assert.Equal(t, "ledger.json", cfg.LedgerPath)
	assert.Equal(t, 2*time.Minute, cfg.CheckInterval)
	assert.Equal(t, 10*time.Second, cfg.RetryDelay)
}

func TestLoad_LegacyKeys(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
gitlab_token: "a"
slack_token: "b"
gitlab_url: "https://gitlab.internal"
slack_user_map:
  user1: "U012ABC3DEF"
db_file: "old.json"
check_interval: 60
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://gitlab.internal", cfg.GitLabURL)
	assert.Equal(t, map[string]string{"user1": "U012ABC3DEF"}, cfg.IdentityMap)
	assert.Equal(t, "old.json", cfg.LedgerPath)
	assert.Equal(t, time.Minute, cfg.CheckInterval)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
gitlab_token: "a"
slack_token: "b"
ledger_path: "file.json"
`)
	t.Setenv("LEDGER_PATH", "env.json")
	t.Setenv("TRACKED_USERS", "alice, bob ,")
	t.Setenv("CHECK_INTERVAL", "30")
	t.Setenv("DEBUG", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env.json", cfg.LedgerPath)
	assert.Equal(t, []string{"alice", "bob"}, cfg.TrackedUsers)
	assert.Equal(t, 30*time.Second, cfg.CheckInterval)
	assert.True(t, cfg.Debug)
}

func TestLoad_FileTokenWinsOverEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("GITLAB_TOKEN", "env-gitlab")
	t.Setenv("SLACK_TOKEN", "env-slack")
	path := writeConfig(t, `gitlab_token: "file-gitlab"`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "file-gitlab", cfg.GitLabToken)
	assert.Equal(t, "env-slack", cfg.SlackToken)
}

func TestLoad_MalformedFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "tracked_users: [unterminated")

	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestLoad_StorageValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "Unknown backend",
			env:     map[string]string{"STORAGE_BACKEND": "s3"},
			wantErr: "STORAGE_BACKEND must be one of",
		},
		{
			name:    "Azure without account",
			env:     map[string]string{"STORAGE_BACKEND": "azure"},
			wantErr: "AZURE_STORAGE_ACCOUNT is required",
		},
		{
			name: "Azure with account",
			env:  map[string]string{"STORAGE_BACKEND": "AZURE", "AZURE_STORAGE_ACCOUNT": "acct"},
		},
		{
			name: "SQLite",
			env:  map[string]string{"STORAGE_BACKEND": "sqlite", "SQLITE_PATH": "x.db"},
		},
		{
			name:    "Alert email without SMTP host",
			env:     map[string]string{"ALERT_EMAIL": "ops@example.com"},
			wantErr: "SMTP_HOST is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("GITLAB_TOKEN", "a")
			t.Setenv("SLACK_TOKEN", "b")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load("")
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}
