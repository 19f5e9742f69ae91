package llm

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"
	genai "google.golang.org/genai"
)

// GeminiConfig holds the knobs the deployment fixes once at construction.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32 // default sampling temperature; per-call override via WithTemperature
	MaxTokens   int32   // default output cap; per-call override via WithMaxTokens
}

// GeminiClient is a thin wrapper around the official genai client.
// It only does the API call itself; rate limiting, retries and logging are
// applied via Middleware.
type GeminiClient struct {
	cli *genai.Client
	cfg GeminiConfig
	log *zap.Logger
}

// All four harm categories are blocked aggressively; the audience is
// children.
func safetySettings() []*genai.SafetySetting {
	return []*genai.SafetySetting{
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockLowAndAbove},
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockLowAndAbove},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockLowAndAbove},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockLowAndAbove},
	}
}

func NewGeminiClient(ctx context.Context, cfg GeminiConfig, log *zap.Logger) (*GeminiClient, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GeminiClient{cli: cli, cfg: cfg, log: log}, nil
}

func (g *GeminiClient) Name() string { return "Gemini:" + g.cfg.Model }
func (g *GeminiClient) Close() error { return nil }

func (g *GeminiClient) genConfig(ctx context.Context, jsonMode bool) *genai.GenerateContentConfig {
	temp := g.cfg.Temperature
	if t, ok := TemperatureFrom(ctx); ok {
		temp = t
	}
	maxTok := g.cfg.MaxTokens
	if n, ok := MaxTokensFrom(ctx); ok {
		maxTok = n
	}
	out := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(temp),
		MaxOutputTokens: maxTok,
		SafetySettings:  safetySettings(),
	}
	if jsonMode {
		out.ResponseMIMEType = "application/json"
	}
	return out
}

// GenerateJSON concatenates prompt and input, asks for application/json,
// and returns the model's reply as json.RawMessage. The reply is not
// guaranteed to be well formed; callers run it through jsonx.
func (g *GeminiClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	full := prompt
	if input != nil {
		in, _ := json.MarshalIndent(input, "", "  ")
		full = prompt + "\n\n[INPUT JSON]\n" + string(in)
	}
	g.log.Debug("llm request", zap.String("task", TaskFrom(ctx)), zap.Int("prompt_bytes", len(full)))

	resp, err := g.cli.Models.GenerateContent(ctx, g.cfg.Model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: full}}}},
		g.genConfig(ctx, true),
	)
	if err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, ErrEmptyResponse
	}
	return json.RawMessage(resp.Candidates[0].Content.Parts[0].Text), nil
}

// GenerateText returns the model's reply as trimmed prose.
func (g *GeminiClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	g.log.Debug("llm request", zap.String("task", TaskFrom(ctx)), zap.Int("prompt_bytes", len(prompt)))

	resp, err := g.cli.Models.GenerateContent(ctx, g.cfg.Model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}},
		g.genConfig(ctx, false),
	)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(resp.Candidates[0].Content.Parts[0].Text), nil
}
