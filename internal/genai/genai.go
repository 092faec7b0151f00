// Package genai provides chat-completion calls with tool support against the OpenAI API.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default model names for the two tiers.
const (
	DefaultFastModel    = openai.ChatModelGPT4oMini
	DefaultCapableModel = openai.ChatModelGPT4o
)

// Default sampling parameters.
const (
	DefaultTemperature         = 0.4
	DefaultMaxCompletionTokens = 2048
)

var (
	// ErrNoAPIKey is returned when no API key is configured.
	ErrNoAPIKey = errors.New("OPENAI_API_KEY not set")
	// ErrNoChoicesReturned is returned when the provider response has no choices.
	ErrNoChoicesReturned = errors.New("no choices returned")
)

// ToolCall is a model-issued tool invocation.
type ToolCall = models.ToolCall

// FunctionCall is the function part of a ToolCall.
type FunctionCall = models.FunctionCall

// ToolCallResponse is one model step: optional text and optional tool calls.
type ToolCallResponse struct {
	ID        string     `json:"id"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Model     string     `json:"model"`
}

// chatService defines the minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (openai.ChatCompletion, error)
}

// completionsAdapter adapts the SDK service to chatService.
type completionsAdapter struct {
	svc *openai.ChatCompletionService
}

func (a *completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params, opts...)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Client wraps the OpenAI chat completion service with tier-based model selection.
type Client struct {
	chat                chatService
	fastModel           string
	capableModel        string
	temperature         float64
	maxCompletionTokens int64
	reasoningEffort     bool
	debugMode           bool
	stateDir            string
	debugSeq            atomic.Uint64
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey              string
	BaseURL             string
	FastModel           string
	CapableModel        string
	Temperature         float64
	MaxCompletionTokens int64
	ReasoningEffort     bool
	DebugMode           bool
	StateDir            string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey overrides the API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) {
		o.BaseURL = url
	}
}

// WithModels sets the fast and capable model names. Empty values keep the defaults.
func WithModels(fast, capable string) Option {
	return func(o *Opts) {
		if fast != "" {
			o.FastModel = fast
		}
		if capable != "" {
			o.CapableModel = capable
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) Option {
	return func(o *Opts) {
		o.Temperature = temp
	}
}

// WithMaxCompletionTokens caps the completion length.
func WithMaxCompletionTokens(n int64) Option {
	return func(o *Opts) {
		o.MaxCompletionTokens = n
	}
}

// WithReasoningEffort forwards the request's reasoning level as reasoning_effort.
// Only enable it for models that accept the parameter.
func WithReasoningEffort(enabled bool) Option {
	return func(o *Opts) {
		o.ReasoningEffort = enabled
	}
}

// WithDebugMode writes every request and response under <stateDir>/debug.
func WithDebugMode(enabled bool) Option {
	return func(o *Opts) {
		o.DebugMode = enabled
	}
}

// WithStateDir sets the directory used for debug captures.
func WithStateDir(dir string) Option {
	return func(o *Opts) {
		o.StateDir = dir
	}
}

// NewClient initializes a new GenAI client. The API key defaults to OPENAI_API_KEY.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		APIKey:              os.Getenv("OPENAI_API_KEY"),
		FastModel:           DefaultFastModel,
		CapableModel:        DefaultCapableModel,
		Temperature:         DefaultTemperature,
		MaxCompletionTokens: DefaultMaxCompletionTokens,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)

	slog.Debug("GenAI.NewClient: client created", "fastModel", cfg.FastModel, "capableModel", cfg.CapableModel, "debugMode", cfg.DebugMode)
	return &Client{
		chat:                &completionsAdapter{svc: &cli.Chat.Completions},
		fastModel:           cfg.FastModel,
		capableModel:        cfg.CapableModel,
		temperature:         cfg.Temperature,
		maxCompletionTokens: cfg.MaxCompletionTokens,
		reasoningEffort:     cfg.ReasoningEffort,
		debugMode:           cfg.DebugMode,
		stateDir:            cfg.StateDir,
	}, nil
}

// ModelFor returns the model name serving a tier.
func (c *Client) ModelFor(tier models.ModelTier) string {
	if tier == models.TierCapable {
		return c.capableModel
	}
	return c.fastModel
}

// Generate runs one model step for req. messages is the full provider message
// list for this step, system prompt included; req supplies the tier, cache key
// and reasoning level.
func (c *Client) Generate(ctx context.Context, req models.GenerationRequest, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*ToolCallResponse, error) {
	model := c.ModelFor(req.Tier)
	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}
	if c.maxCompletionTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.maxCompletionTokens)
	}
	if req.CacheKey != "" {
		params.PromptCacheKey = openai.String(req.CacheKey)
	}
	if c.reasoningEffort {
		if effort, ok := reasoningEffort(req.ReasoningLevel); ok {
			params.ReasoningEffort = effort
		}
	}

	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("GenAI.Generate: completion failed", "model", model, "error", err)
		c.writeDebug("Generate", model, params, nil, err)
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	c.writeDebug("Generate", model, params, &resp, nil)

	if len(resp.Choices) == 0 {
		slog.Error("GenAI.Generate: no choices returned", "model", model, "responseID", resp.ID)
		return nil, ErrNoChoicesReturned
	}

	msg := resp.Choices[0].Message
	out := &ToolCallResponse{ID: resp.ID, Content: msg.Content, Model: model}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: FunctionCall{
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			},
		})
	}
	slog.Debug("GenAI.Generate: completion received",
		"model", model,
		"responseID", resp.ID,
		"contentLength", len(out.Content),
		"toolCallCount", len(out.ToolCalls),
		"elapsed", time.Since(start))
	return out, nil
}

// reasoningEffort maps a reasoning level onto the provider's effort scale.
func reasoningEffort(level models.ReasoningLevel) (openai.ReasoningEffort, bool) {
	switch level {
	case models.ReasoningQuick:
		return openai.ReasoningEffortLow, true
	case models.ReasoningStandard:
		return openai.ReasoningEffortMedium, true
	case models.ReasoningDeep, models.ReasoningMax:
		return openai.ReasoningEffortHigh, true
	default:
		return "", false
	}
}

// writeDebug captures one call as JSON under <stateDir>/debug when debug mode is on.
func (c *Client) writeDebug(method, model string, params openai.ChatCompletionNewParams, resp *openai.ChatCompletion, callErr error) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("GenAI.writeDebug: failed to create debug directory", "dir", dir, "error", err)
		return
	}

	entry := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"method":    method,
		"model":     model,
		"params":    params,
		"response":  resp,
	}
	if callErr != nil {
		entry["error"] = callErr.Error()
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("GenAI.writeDebug: failed to marshal debug entry", "error", err)
		return
	}

	name := fmt.Sprintf("%s_%s_%06d.json", time.Now().UTC().Format("20060102T150405"), method, c.debugSeq.Add(1))
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		slog.Warn("GenAI.writeDebug: failed to write debug file", "file", name, "error", err)
	}
}
