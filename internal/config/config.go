// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package config assembles the digest configuration from defaults, a YAML
// file, the environment, a .env file and the secrets directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/pdiddy/paper-digest/internal/secrets"
	"github.com/pdiddy/paper-digest/pkg/types"
)

// EnvPrefix prefixes every environment override (PAPER_DIGEST_BATCH_MAX_SIZE).
const EnvPrefix = "PAPER_DIGEST"

// Name is the config file base name searched in ./ and ~/.config/paper-digest/.
const Name = "paper-digest"

// bareEnv lists credentials also accepted without the prefix.
var bareEnv = map[string]string{
	"gemini.api_key":   "GEMINI_API_KEY",
	"slack.bot_token":  "SLACK_BOT_TOKEN",
	"slack.channel_id": "SLACK_CHANNEL_ID",
}

// SetDefaults registers the default value of every key. Keys without a
// meaningful default are registered empty so environment overrides apply.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("source.timeout", "30s")
	v.SetDefault("source.user_agent", "paper-digest/0.1")
	v.SetDefault("source.base_url", "")
	v.SetDefault("source.requests_per_second", 1.0/3)

	v.SetDefault("batch.max_size", 5)
	v.SetDefault("batch.max_tokens", 4000)
	v.SetDefault("batch.max_abstract_length", 200)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "30s")
	v.SetDefault("retry.jitter", 0.1)

	v.SetDefault("gemini.model", "gemini-1.5-flash")
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.timeout", "60s")
	v.SetDefault("gemini.temperature", 0.3)

	v.SetDefault("slack.bot_token", "")
	v.SetDefault("slack.channel_id", "")
	v.SetDefault("slack.message_limit", 3000)
	v.SetDefault("slack.api_url", "")
	v.SetDefault("slack.messages_per_second", 1.0)

	v.SetDefault("output.dir", "output")
	v.SetDefault("output.retention_days", 0)

	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "")
	v.SetDefault("archive.region", "")

	v.SetDefault("history.path", filepath.Join(".paper-digest", "history.db"))
	v.SetDefault("metrics.textfile", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("concurrency.subjects", 2)
	v.SetDefault("concurrency.batches", 2)
}

// NewViper returns a viper instance with defaults and environment bindings.
// When file is empty the standard locations are searched.
func NewViper(file string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(Name)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", Name))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range bareEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, prefixed, env)
	}
	return v
}

// LoadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Options controls Load.
type Options struct {
	// ConfigFile overrides the config file search.
	ConfigFile string

	// EnvFile is the dotenv file to load (default .env).
	EnvFile string

	// SecretsDir is the secrets directory (default .secrets).
	SecretsDir string

	Logger zerolog.Logger
}

// Load reads a configuration. Precedence, highest first: explicit Set
// calls, environment, config file, secrets files, defaults.
func Load(v *viper.Viper, opts Options) (types.Config, error) {
	if err := LoadDotEnv(opts.EnvFile); err != nil {
		return types.Config{}, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return types.Config{}, types.NewConfigError("config", "reading config file: %v", err)
		}
	} else {
		opts.Logger.Debug().Str("file", v.ConfigFileUsed()).Msg("using config file")
	}

	dir := opts.SecretsDir
	if dir == "" {
		dir = secrets.DefaultDir
	}
	loaded, err := secrets.Load(dir, opts.Logger)
	if err != nil {
		return types.Config{}, err
	}
	applySecrets(v, loaded, opts.Logger)

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, types.NewConfigError("config", "decoding: %v", err)
	}
	return cfg, nil
}

// applySecrets fills credential keys still empty after file and env.
func applySecrets(v *viper.Viper, loaded map[string]string, logger zerolog.Logger) {
	for file, key := range secrets.ConfigKeys {
		value, ok := loaded[file]
		if !ok || v.GetString(key) != "" {
			continue
		}
		v.Set(key, value)
		logger.Debug().Str("secret", file).Msg("credential loaded from secrets directory")
	}
}

// Validate checks settings that every command relies on.
func Validate(cfg types.Config) error {
	var errs []error
	positive := []struct {
		field string
		value int
	}{
		{"batch.max_size", cfg.Batch.MaxSize},
		{"batch.max_tokens", cfg.Batch.MaxTokens},
		{"batch.max_abstract_length", cfg.Batch.MaxAbstractLength},
		{"slack.message_limit", cfg.Slack.MessageLimit},
		{"retry.max_attempts", cfg.Retry.MaxAttempts},
		{"concurrency.subjects", cfg.Concurrency.Subjects},
		{"concurrency.batches", cfg.Concurrency.Batches},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, types.NewConfigError(p.field, "must be positive, got %d", p.value))
		}
	}
	if cfg.Retry.BaseDelay < 0 || cfg.Retry.MaxDelay < 0 {
		errs = append(errs, types.NewConfigError("retry", "delays must not be negative"))
	}
	if cfg.Output.RetentionDays < 0 {
		errs = append(errs, types.NewConfigError("output.retention_days", "must not be negative, got %d", cfg.Output.RetentionDays))
	}
	if cfg.Retry.Jitter < 0 || cfg.Retry.Jitter > 1 {
		errs = append(errs, types.NewConfigError("retry.jitter", "must be between 0 and 1, got %v", cfg.Retry.Jitter))
	}
	if cfg.Source.Timeout <= 0 {
		errs = append(errs, types.NewConfigError("source.timeout", "must be positive"))
	}
	if cfg.Gemini.Timeout <= 0 {
		errs = append(errs, types.NewConfigError("gemini.timeout", "must be positive"))
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "json", "console", "pretty", "":
	default:
		errs = append(errs, types.NewConfigError("log.format", "unknown format %q", cfg.Log.Format))
	}
	return errors.Join(errs...)
}

// RequireCredentials checks the credentials a delivery run needs: the
// Gemini key always, the Slack token and channel when mode posts to Slack.
func RequireCredentials(cfg types.Config, mode types.DeliveryMode) error {
	var errs []error
	if !mode.Valid() {
		errs = append(errs, types.NewConfigError("mode", "unknown delivery mode %q", mode))
	}
	if cfg.Gemini.APIKey == "" {
		errs = append(errs, types.NewConfigError("gemini.api_key", "not set (GEMINI_API_KEY or .secrets/%s)", secrets.GeminiAPIKey))
	}
	if mode.UsesSlack() {
		if cfg.Slack.BotToken == "" {
			errs = append(errs, types.NewConfigError("slack.bot_token", "not set (SLACK_BOT_TOKEN or .secrets/%s)", secrets.SlackBotToken))
		}
		if cfg.Slack.ChannelID == "" {
			errs = append(errs, types.NewConfigError("slack.channel_id", "not set (SLACK_CHANNEL_ID or .secrets/%s)", secrets.SlackChannelID))
		}
	}
	return errors.Join(errs...)
}
