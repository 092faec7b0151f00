package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"

	"github.com/BTreeMap/CoachPipe/internal/genai"
	"github.com/BTreeMap/CoachPipe/internal/models"
)

// Fallback texts returned when the model produced no user-facing content.
const (
	emptyResponseFallback = "I'm here to help with your training. What would you like to do today?"
	stepLimitFallback     = "I ran out of steps while gathering your information. Ask again and I'll pick up from here."
)

// loopResult is the outcome of a tool-calling loop.
type loopResult struct {
	Text         string
	ResponseID   string
	Steps        int
	LimitReached bool
}

// buildMessages converts the request into provider messages with the system prompt first.
func buildMessages(req models.GenerationRequest) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	for _, m := range req.Messages {
		switch m.Role {
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	return messages
}

// runToolLoop calls the model until it answers without tool calls or the step
// ceiling is reached. At the ceiling no further tools run and whatever text the
// model produced so far is returned.
func (d *Dispatcher) runToolLoop(ctx context.Context, memberID string, req models.GenerationRequest) (loopResult, error) {
	var res loopResult
	messages := buildMessages(req)
	var tools []openai.ChatCompletionToolParam
	if d.tools != nil {
		tools = d.tools.Definitions(req.ToolNames)
	}

	for step := 1; step <= req.MaxSteps; step++ {
		slog.Debug("Dispatcher.runToolLoop: step start", "memberID", memberID, "step", step, "messageCount", len(messages))

		resp, err := d.model.Generate(ctx, req, messages, tools)
		if err != nil {
			slog.Error("Dispatcher.runToolLoop: generation failed", "error", err, "memberID", memberID, "step", step)
			return res, fmt.Errorf("generation step %d failed: %w", step, err)
		}
		res.Steps = step
		if resp.ID != "" {
			res.ResponseID = resp.ID
		}
		if resp.Content != "" {
			res.Text = resp.Content
		}

		slog.Debug("Dispatcher.runToolLoop: received response",
			"memberID", memberID,
			"step", step,
			"contentLength", len(resp.Content),
			"toolCallCount", len(resp.ToolCalls))

		if len(resp.ToolCalls) == 0 {
			if res.Text == "" {
				slog.Warn("Dispatcher.runToolLoop: empty content and no tool calls", "memberID", memberID, "step", step)
				res.Text = emptyResponseFallback
			}
			return res, nil
		}

		if step == req.MaxSteps {
			break
		}

		// Content alongside tool calls is the final answer. The calls are not
		// run since their results would never reach the model.
		if resp.Content != "" {
			slog.Info("Dispatcher.runToolLoop: answer returned with tool calls, skipping tools",
				"memberID", memberID, "step", step, "toolCallCount", len(resp.ToolCalls))
			return res, nil
		}

		messages, err = d.executeToolCalls(ctx, memberID, resp, messages)
		if err != nil {
			return res, err
		}
	}

	slog.Warn("Dispatcher.runToolLoop: step ceiling reached", "memberID", memberID, "maxSteps", req.MaxSteps)
	res.LimitReached = true
	if res.Text == "" {
		res.Text = stepLimitFallback
	}
	return res, nil
}

// executeToolCalls appends the assistant tool-call message and one tool result
// per call. Tool failures are reported back to the model as the call's result.
func (d *Dispatcher) executeToolCalls(ctx context.Context, memberID string, resp *genai.ToolCallResponse, messages []openai.ChatCompletionMessageParamUnion) ([]openai.ChatCompletionMessageParamUnion, error) {
	var names []string
	toolCalls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		names = append(names, tc.Function.Name)
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID:   tc.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Function.Name,
				Arguments: string(tc.Function.Arguments),
			},
		})
	}
	slog.Info("Dispatcher.executeToolCalls: executing tools", "memberID", memberID, "toolCallCount", len(resp.ToolCalls), "tools", names)

	assistant := openai.ChatCompletionAssistantMessageParam{
		Content: openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: param.NewOpt(resp.Content),
		},
		ToolCalls: toolCalls,
	}
	messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})

	for _, tc := range resp.ToolCalls {
		if err := ctx.Err(); err != nil {
			return messages, err
		}
		var result string
		var err error
		if d.tools == nil {
			err = fmt.Errorf("unknown tool: %s", tc.Function.Name)
		} else {
			result, err = d.tools.Execute(ctx, memberID, tc)
		}
		if err != nil {
			slog.Warn("Dispatcher.executeToolCalls: tool failed", "error", err, "toolName", tc.Function.Name, "memberID", memberID)
			result = fmt.Sprintf("error: %s", err.Error())
		}
		if result == "" {
			result = "Tool executed successfully"
		}
		messages = append(messages, openai.ToolMessage(result, tc.ID))
	}
	return messages, nil
}
