// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the per-request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "paper-digest/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// RetryConfig configures exponential backoff for external calls.
type RetryConfig struct {
	// MaxAttempts counts the first call (default 3).
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`

	// BaseDelay is the wait before the first retry; it doubles per attempt.
	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay" mapstructure:"base_delay"`

	// MaxDelay caps a single wait.
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay" mapstructure:"max_delay"`

	// Jitter is the random fraction (0..1) applied to each wait.
	Jitter float64 `json:"jitter" yaml:"jitter" mapstructure:"jitter"`
}

// SourceConfig holds settings for the paper source client.
type SourceConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// BaseURL overrides the listing API endpoint.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" mapstructure:"base_url"`

	// RequestsPerSecond paces calls to the listing API.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// BatchConfig bounds the batches sent to the summarization service.
type BatchConfig struct {
	// MaxSize is the maximum number of papers per batch (default 5).
	MaxSize int `json:"max_size" yaml:"max_size" mapstructure:"max_size"`

	// MaxTokens is the estimated token budget per batch (default 4000).
	MaxTokens int `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`

	// MaxAbstractLength is the number of characters of each abstract sent
	// to the service and used for fallbacks (default 200).
	MaxAbstractLength int `json:"max_abstract_length" yaml:"max_abstract_length" mapstructure:"max_abstract_length"`
}

// AIConfig holds settings for the Gemini summarization backend.
type AIConfig struct {
	// Model is the model identifier (e.g. "gemini-1.5-flash").
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// APIKey is the authentication key for the AI API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// Timeout bounds a single generation call.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// Temperature is passed through to the model.
	Temperature float64 `json:"temperature" yaml:"temperature" mapstructure:"temperature"`
}

// SlackConfig holds settings for the Slack notifier.
type SlackConfig struct {
	BotToken  string `json:"bot_token,omitempty" yaml:"bot_token,omitempty" mapstructure:"bot_token"`
	ChannelID string `json:"channel_id" yaml:"channel_id" mapstructure:"channel_id"`

	// MessageLimit is the maximum length of one message in characters (default 3000).
	MessageLimit int `json:"message_limit" yaml:"message_limit" mapstructure:"message_limit"`

	// APIURL overrides the Slack Web API base URL.
	APIURL string `json:"api_url,omitempty" yaml:"api_url,omitempty" mapstructure:"api_url"`

	// MessagesPerSecond paces chat.postMessage calls.
	MessagesPerSecond float64 `json:"messages_per_second" yaml:"messages_per_second" mapstructure:"messages_per_second"`
}

// OutputConfig holds settings for the file sink.
type OutputConfig struct {
	// Dir is the directory receiving Markdown digests and YAML reports.
	Dir string `json:"dir" yaml:"dir" mapstructure:"dir"`

	// RetentionDays prunes digests and reports older than this many days
	// after each write. Zero keeps everything.
	RetentionDays int `json:"retention_days" yaml:"retention_days" mapstructure:"retention_days"`
}

// ArchiveConfig enables optional S3 upload of digest files.
type ArchiveConfig struct {
	Bucket string `json:"bucket,omitempty" yaml:"bucket,omitempty" mapstructure:"bucket"`
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty" mapstructure:"prefix"`
	Region string `json:"region,omitempty" yaml:"region,omitempty" mapstructure:"region"`
}

// Enabled reports whether a bucket is configured.
func (a ArchiveConfig) Enabled() bool { return a.Bucket != "" }

// HistoryConfig locates the SQLite run ledger. An empty path disables it.
type HistoryConfig struct {
	Path string `json:"path" yaml:"path" mapstructure:"path"`
}

// MetricsConfig locates the Prometheus textfile. An empty path disables it.
type MetricsConfig struct {
	Textfile string `json:"textfile,omitempty" yaml:"textfile,omitempty" mapstructure:"textfile"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level"`
	Format string `json:"format" yaml:"format" mapstructure:"format"`
}

// ConcurrencyConfig bounds the worker pools.
type ConcurrencyConfig struct {
	// Subjects is the number of subjects processed at once (default 2).
	Subjects int `json:"subjects" yaml:"subjects" mapstructure:"subjects"`

	// Batches is the number of batches summarized at once per subject (default 2).
	Batches int `json:"batches" yaml:"batches" mapstructure:"batches"`
}

// DeliveryMode selects the delivery channels of a run.
type DeliveryMode string

const (
	// ModeBoth posts to Slack and always writes the archival file.
	ModeBoth DeliveryMode = "both"

	// ModeSlack posts to Slack and writes the file only when delivery fails.
	ModeSlack DeliveryMode = "slack"

	// ModeFile writes the file and makes no Slack calls.
	ModeFile DeliveryMode = "file"
)

// UsesSlack reports whether the mode posts to Slack.
func (m DeliveryMode) UsesSlack() bool {
	return m == ModeBoth || m == ModeSlack
}

// Valid reports whether m is a known mode.
func (m DeliveryMode) Valid() bool {
	return m == ModeBoth || m == ModeSlack || m == ModeFile
}

// Config groups every setting of the digest pipeline.
type Config struct {
	Source      SourceConfig      `json:"source" yaml:"source" mapstructure:"source"`
	Batch       BatchConfig       `json:"batch" yaml:"batch" mapstructure:"batch"`
	Retry       RetryConfig       `json:"retry" yaml:"retry" mapstructure:"retry"`
	Gemini      AIConfig          `json:"gemini" yaml:"gemini" mapstructure:"gemini"`
	Slack       SlackConfig       `json:"slack" yaml:"slack" mapstructure:"slack"`
	Output      OutputConfig      `json:"output" yaml:"output" mapstructure:"output"`
	Archive     ArchiveConfig     `json:"archive" yaml:"archive" mapstructure:"archive"`
	History     HistoryConfig     `json:"history" yaml:"history" mapstructure:"history"`
	Metrics     MetricsConfig     `json:"metrics" yaml:"metrics" mapstructure:"metrics"`
	Log         LogConfig         `json:"log" yaml:"log" mapstructure:"log"`
	Concurrency ConcurrencyConfig `json:"concurrency" yaml:"concurrency" mapstructure:"concurrency"`
}
