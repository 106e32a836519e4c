// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/paper-digest/internal/secrets"
	"github.com/pdiddy/paper-digest/pkg/types"
)

// testOptions points every input at an empty temp directory.
func testOptions(t *testing.T) (Options, string) {
	t.Helper()
	dir := t.TempDir()
	return Options{
		EnvFile:    filepath.Join(dir, ".env"),
		SecretsDir: filepath.Join(dir, ".secrets"),
		Logger:     zerolog.Nop(),
	}, dir
}

func clearCredentialEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"GEMINI_API_KEY", "SLACK_BOT_TOKEN", "SLACK_CHANNEL_ID",
		"PAPER_DIGEST_GEMINI_API_KEY", "PAPER_DIGEST_SLACK_BOT_TOKEN", "PAPER_DIGEST_SLACK_CHANNEL_ID"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearCredentialEnv(t)
	opts, dir := testOptions(t)

	// An explicitly named file that does not exist is a read error.
	_, err := Load(NewViper(filepath.Join(dir, "missing.yaml")), opts)
	require.Error(t, err)
	assert.True(t, types.IsConfigError(err))

	cfg, err := Load(NewViper(""), opts)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Batch.MaxSize)
	assert.Equal(t, 4000, cfg.Batch.MaxTokens)
	assert.Equal(t, 200, cfg.Batch.MaxAbstractLength)
	assert.Equal(t, 3000, cfg.Slack.MessageLimit)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
	assert.InDelta(t, 0.1, cfg.Retry.Jitter, 1e-9)
	assert.Equal(t, 30*time.Second, cfg.Source.Timeout)
	assert.Equal(t, "paper-digest/0.1", cfg.Source.UserAgent)
	assert.Equal(t, 60*time.Second, cfg.Gemini.Timeout)
	assert.Equal(t, "gemini-1.5-flash", cfg.Gemini.Model)
	assert.Equal(t, "output", cfg.Output.Dir)
	assert.Equal(t, 2, cfg.Concurrency.Subjects)
	assert.Equal(t, 2, cfg.Concurrency.Batches)
	assert.Empty(t, cfg.Gemini.APIKey)
	assert.NoError(t, Validate(cfg))
}

func TestLoadFileAndEnv(t *testing.T) {
	clearCredentialEnv(t)
	opts, dir := testOptions(t)
	file := filepath.Join(dir, "paper-digest.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
batch:
  max_size: 8
  max_tokens: 6000
slack:
  channel_id: C-FILE
archive:
  bucket: papers
retry:
  base_delay: 250ms
`), 0o644))

	t.Setenv("PAPER_DIGEST_BATCH_MAX_TOKENS", "7000")
	t.Setenv("PAPER_DIGEST_OUTPUT_DIR", "/tmp/digests")
	t.Setenv("GEMINI_API_KEY", "from-env")

	cfg, err := Load(NewViper(file), opts)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Batch.MaxSize)
	assert.Equal(t, 7000, cfg.Batch.MaxTokens)
	assert.Equal(t, "/tmp/digests", cfg.Output.Dir)
	assert.Equal(t, "C-FILE", cfg.Slack.ChannelID)
	assert.Equal(t, "papers", cfg.Archive.Bucket)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, "from-env", cfg.Gemini.APIKey)
}

func TestPrefixedEnvWinsOverBare(t *testing.T) {
	clearCredentialEnv(t)
	opts, _ := testOptions(t)
	t.Setenv("PAPER_DIGEST_SLACK_BOT_TOKEN", "xoxb-prefixed")
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-bare")

	cfg, err := Load(NewViper(""), opts)
	require.NoError(t, err)
	assert.Equal(t, "xoxb-prefixed", cfg.Slack.BotToken)
}

func TestLoadSecretsFillGaps(t *testing.T) {
	clearCredentialEnv(t)
	opts, _ := testOptions(t)
	require.NoError(t, os.MkdirAll(opts.SecretsDir, 0o755))
	write := func(name, value string) {
		require.NoError(t, os.WriteFile(filepath.Join(opts.SecretsDir, name), []byte(value+"\n"), 0o600))
	}
	write(secrets.GeminiAPIKey, "from-secrets")
	write(secrets.SlackBotToken, "xoxb-secrets")
	write(secrets.SlackChannelID, "C-SECRETS")

	t.Setenv("SLACK_CHANNEL_ID", "C-ENV")

	cfg, err := Load(NewViper(""), opts)
	require.NoError(t, err)
	assert.Equal(t, "from-secrets", cfg.Gemini.APIKey)
	assert.Equal(t, "xoxb-secrets", cfg.Slack.BotToken)
	assert.Equal(t, "C-ENV", cfg.Slack.ChannelID, "environment wins over secrets")
}

func TestLoadDotEnv(t *testing.T) {
	clearCredentialEnv(t)
	opts, _ := testOptions(t)
	require.NoError(t, os.WriteFile(opts.EnvFile, []byte("GEMINI_API_KEY=from-dotenv\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("GEMINI_API_KEY") })

	cfg, err := Load(NewViper(""), opts)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Gemini.APIKey)
}

func TestLoadDotEnvMissingIsFine(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")))
}

func validConfig() types.Config {
	return types.Config{
		Source:      types.SourceConfig{HTTPConfig: types.HTTPConfig{Timeout: time.Second}},
		Batch:       types.BatchConfig{MaxSize: 5, MaxTokens: 4000, MaxAbstractLength: 200},
		Retry:       types.RetryConfig{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute, Jitter: 0.1},
		Gemini:      types.AIConfig{APIKey: "k", Timeout: time.Second},
		Slack:       types.SlackConfig{BotToken: "xoxb", ChannelID: "C1", MessageLimit: 3000},
		Concurrency: types.ConcurrencyConfig{Subjects: 2, Batches: 2},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.Config)
		field  string
	}{
		{"valid", func(*types.Config) {}, ""},
		{"zero batch size", func(c *types.Config) { c.Batch.MaxSize = 0 }, "batch.max_size"},
		{"negative tokens", func(c *types.Config) { c.Batch.MaxTokens = -1 }, "batch.max_tokens"},
		{"zero message limit", func(c *types.Config) { c.Slack.MessageLimit = 0 }, "slack.message_limit"},
		{"jitter above one", func(c *types.Config) { c.Retry.Jitter = 1.5 }, "retry.jitter"},
		{"zero workers", func(c *types.Config) { c.Concurrency.Batches = 0 }, "concurrency.batches"},
		{"bad log format", func(c *types.Config) { c.Log.Format = "xml" }, "log.format"},
		{"negative retention", func(c *types.Config) { c.Output.RetentionDays = -1 }, "output.retention_days"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, types.IsConfigError(err))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestRequireCredentials(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, RequireCredentials(cfg, types.ModeBoth))

	noSlack := cfg
	noSlack.Slack.BotToken = ""
	noSlack.Slack.ChannelID = ""
	err := RequireCredentials(noSlack, types.ModeSlack)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slack.bot_token")
	assert.Contains(t, err.Error(), "slack.channel_id")
	assert.NoError(t, RequireCredentials(noSlack, types.ModeFile))

	noKey := cfg
	noKey.Gemini.APIKey = ""
	err = RequireCredentials(noKey, types.ModeFile)
	assert.True(t, types.IsConfigError(err))

	assert.Error(t, RequireCredentials(cfg, types.DeliveryMode("pigeon")))
}
