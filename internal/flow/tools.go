package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// Tool is a capability the model may invoke during generation.
type Tool interface {
	Name() string
	Definition() openai.ChatCompletionToolParam
	Execute(ctx context.Context, memberID string, args json.RawMessage) (string, error)
}

// ToolExecutor exposes tool definitions to the model and runs its calls.
type ToolExecutor interface {
	Names() []string
	Definitions(names []string) []openai.ChatCompletionToolParam
	Execute(ctx context.Context, memberID string, call models.ToolCall) (string, error)
}

// ToolRegistry is a ToolExecutor backed by a fixed set of tools, kept in
// registration order so the tool list sent to the provider is stable.
type ToolRegistry struct {
	order []string
	tools map[string]Tool
}

// NewToolRegistry registers the given tools. Later tools replace earlier ones
// with the same name.
func NewToolRegistry(tools ...Tool) *ToolRegistry {
	r := &ToolRegistry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool.
func (r *ToolRegistry) Register(t Tool) {
	if t == nil {
		return
	}
	name := t.Name()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Names returns the registered tool names in registration order.
func (r *ToolRegistry) Names() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.order...)
}

// Definitions returns the definitions of the named tools, skipping unknown names.
func (r *ToolRegistry) Definitions(names []string) []openai.ChatCompletionToolParam {
	if r == nil {
		return nil
	}
	var defs []openai.ChatCompletionToolParam
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			defs = append(defs, t.Definition())
		}
	}
	return defs
}

// Execute runs one model-issued tool call.
func (r *ToolRegistry) Execute(ctx context.Context, memberID string, call models.ToolCall) (string, error) {
	if r == nil {
		return "", fmt.Errorf("unknown tool: %s", call.Function.Name)
	}
	t, ok := r.tools[call.Function.Name]
	if !ok {
		slog.Warn("ToolRegistry.Execute: unknown tool call", "toolName", call.Function.Name, "memberID", memberID)
		return "", fmt.Errorf("unknown tool: %s", call.Function.Name)
	}
	slog.Debug("ToolRegistry.Execute: executing tool",
		"toolName", call.Function.Name,
		"toolCallID", call.ID,
		"memberID", memberID,
		"arguments", formatToolArgumentsForLog(call.Function.Arguments))
	return t.Execute(ctx, memberID, call.Function.Arguments)
}
