// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package deliver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"github.com/pdiddy/paper-digest/internal/retry"
	"github.com/pdiddy/paper-digest/pkg/types"
)

const (
	defaultSlackTimeout      = 30 * time.Second
	defaultMessagesPerSecond = 1.0
)

// slackAPI is the subset of *slack.Client the notifier uses.
type slackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
}

// BlockResult reports the delivery of one block.
type BlockResult struct {
	Index     int
	Sent      bool
	Timestamp string
	Attempts  int
	Err       error
}

// SlackNotifier posts blocks to one Slack channel with chat.postMessage.
type SlackNotifier struct {
	api     slackAPI
	channel string
	policy  retry.Policy
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewSlack builds a notifier from cfg. A missing token or channel is a
// configuration error.
func NewSlack(cfg types.SlackConfig, httpTimeout time.Duration, policy retry.Policy, logger zerolog.Logger) (*SlackNotifier, error) {
	if cfg.BotToken == "" {
		return nil, types.NewConfigError("slack.bot_token", "not set (SLACK_BOT_TOKEN)")
	}
	if cfg.ChannelID == "" {
		return nil, types.NewConfigError("slack.channel_id", "not set (SLACK_CHANNEL_ID)")
	}
	if httpTimeout <= 0 {
		httpTimeout = defaultSlackTimeout
	}

	opts := []slack.Option{slack.OptionHTTPClient(&http.Client{Timeout: httpTimeout})}
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(strings.TrimRight(cfg.APIURL, "/")+"/"))
	}

	mps := cfg.MessagesPerSecond
	if mps <= 0 {
		mps = defaultMessagesPerSecond
	}

	return &SlackNotifier{
		api:     slack.New(cfg.BotToken, opts...),
		channel: cfg.ChannelID,
		policy:  policy,
		limiter: rate.NewLimiter(rate.Limit(mps), 1),
		logger:  logger.With().Str("component", "slack").Str("channel", cfg.ChannelID).Logger(),
	}, nil
}

// Send posts blocks in order and returns one result per block. Transient
// failures are retried under the notifier's policy. After the first block
// that cannot be delivered, the remaining blocks are not attempted and are
// reported as failed.
func (n *SlackNotifier) Send(ctx context.Context, blocks []string) []BlockResult {
	results := make([]BlockResult, len(blocks))
	var stopErr error

	for i, text := range blocks {
		results[i].Index = i
		if stopErr != nil {
			results[i].Err = fmt.Errorf("%w: block %d not sent after earlier failure: %w", types.ErrDeliveryFailure, i, stopErr)
			continue
		}

		ts, attempts, err := n.post(ctx, text)
		results[i].Attempts = attempts
		if err != nil {
			n.logger.Error().Err(err).Int("block", i).Int("attempts", attempts).Msg("block delivery failed")
			results[i].Err = fmt.Errorf("%w: block %d: %w", types.ErrDeliveryFailure, i, err)
			stopErr = err
			continue
		}
		results[i].Sent = true
		results[i].Timestamp = ts
		n.logger.Debug().Int("block", i).Str("ts", ts).Msg("block delivered")
	}
	return results
}

// Alert posts a single alert message.
func (n *SlackNotifier) Alert(ctx context.Context, text string) error {
	if _, _, err := n.post(ctx, text); err != nil {
		return fmt.Errorf("%w: alert: %w", types.ErrDeliveryFailure, err)
	}
	return nil
}

// Check verifies the token with auth.test. A rejected token is a
// configuration error.
func (n *SlackNotifier) Check(ctx context.Context) error {
	resp, err := n.api.AuthTestContext(ctx)
	if err != nil {
		if code, ok := slackAuthFailure(err); ok {
			return types.NewConfigError("slack.bot_token", "rejected by Slack: %s", code)
		}
		return fmt.Errorf("slack auth.test: %w", err)
	}
	n.logger.Info().Str("team", resp.Team).Str("user", resp.User).Msg("slack connection ok")
	return nil
}

func (n *SlackNotifier) post(ctx context.Context, text string) (string, int, error) {
	policy := n.policy
	policy.Retryable = isTransientSlack
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		n.logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("slack post failed, retrying")
	}

	var ts string
	attempts := 0
	err := retry.Do(ctx, policy, func(ctx context.Context, _ int) error {
		attempts++
		if err := n.limiter.Wait(ctx); err != nil {
			return err
		}
		_, t, err := n.api.PostMessageContext(ctx, n.channel,
			slack.MsgOptionText(text, false),
			slack.MsgOptionDisableLinkUnfurl(),
			slack.MsgOptionDisableMediaUnfurl(),
		)
		if err != nil {
			return wrapSlackError(err)
		}
		ts = t
		return nil
	})
	return ts, attempts, err
}

// rateLimited carries Slack's Retry-After into the retry loop.
type rateLimited struct {
	err   error
	after time.Duration
}

func (e *rateLimited) Error() string             { return e.err.Error() }
func (e *rateLimited) Unwrap() error             { return e.err }
func (e *rateLimited) RetryAfter() time.Duration { return e.after }

func wrapSlackError(err error) error {
	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		return &rateLimited{err: err, after: rl.RetryAfter}
	}
	return err
}

// slackAuthFailure reports whether err is Slack refusing the token.
func slackAuthFailure(err error) (string, bool) {
	code := err.Error()
	var se slack.SlackErrorResponse
	if errors.As(err, &se) {
		code = se.Err
	}
	switch code {
	case "invalid_auth", "not_authed", "account_inactive", "token_revoked", "token_expired":
		return code, true
	}
	return "", false
}

// isTransientSlack reports whether a Slack error may succeed on retry:
// rate limiting, 5xx responses and network failures. API errors such as
// invalid_auth or channel_not_found are permanent.
func isTransientSlack(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var rl *rateLimited
	if errors.As(err, &rl) {
		return true
	}
	var sc slack.StatusCodeError
	if errors.As(err, &sc) {
		return sc.Code == http.StatusTooManyRequests || sc.Code >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// DeliveryFailed reports whether any block was not sent.
func DeliveryFailed(results []BlockResult) bool {
	for _, r := range results {
		if !r.Sent {
			return true
		}
	}
	return false
}

// CountSent returns the number of blocks delivered.
func CountSent(results []BlockResult) int {
	n := 0
	for _, r := range results {
		if r.Sent {
			n++
		}
	}
	return n
}
