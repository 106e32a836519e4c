// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/pdiddy/paper-digest/pkg/types"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-1.5-flash"

// GeminiGenerator calls the Gemini API through the genai SDK.
type GeminiGenerator struct {
	client      *genai.Client
	model       string
	temperature float32
	logger      zerolog.Logger
}

// NewGemini creates a Gemini client for cfg. A missing API key is a
// configuration error.
func NewGemini(ctx context.Context, cfg types.AIConfig, logger zerolog.Logger) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, types.NewConfigError("gemini.api_key", "not set (GEMINI_API_KEY)")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	temp := float32(cfg.Temperature)
	if temp <= 0 {
		temp = 0.3
	}
	return &GeminiGenerator{
		client:      client,
		model:       model,
		temperature: temp,
		logger:      logger.With().Str("component", "gemini").Str("model", model).Logger(),
	}, nil
}

// Generate sends prompt as a single-turn request and returns the text.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.temperature),
	})
	if err != nil {
		return "", fromGenAIError(err)
	}

	if u := resp.UsageMetadata; u != nil {
		g.logger.Debug().
			Int32("prompt_tokens", u.PromptTokenCount).
			Int32("output_tokens", u.CandidatesTokenCount).
			Msg("generation usage")
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%w: empty response", types.ErrSummarizationParse)
	}
	return text, nil
}

// Check sends a trivial prompt to confirm the key and model are usable.
// A rejected key or unknown model is a configuration error.
func (g *GeminiGenerator) Check(ctx context.Context) error {
	return checkGenerator(ctx, g)
}

func checkGenerator(ctx context.Context, gen Generator) error {
	if _, err := gen.Generate(ctx, "Reply with the single word OK."); err != nil {
		return classify(ctx, err)
	}
	return nil
}

// fromGenAIError maps SDK errors to ServiceError so classification does not
// depend on the SDK's error types.
func fromGenAIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ServiceError{StatusCode: apiErr.Code, Message: apiErr.Message, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &ServiceError{StatusCode: apiErrPtr.Code, Message: apiErrPtr.Message, Err: err}
	}
	return err
}
