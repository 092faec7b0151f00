package flow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go"

	"github.com/BTreeMap/CoachPipe/internal/genai"
	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/store"
)

// countingTool records how often it ran.
type countingTool struct {
	name   string
	result string
	err    error
	runs   int
}

func (c *countingTool) Name() string { return c.name }

func (c *countingTool) Definition() openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{Function: openai.FunctionDefinitionParam{Name: c.name}}
}

func (c *countingTool) Execute(ctx context.Context, memberID string, args json.RawMessage) (string, error) {
	c.runs++
	return c.result, c.err
}

func loopRequest(maxSteps int, tools ...string) models.GenerationRequest {
	return models.NewGenerationRequest(userTurn("hi"), "system", tools, maxSteps, models.ReasoningStandard, "k")
}

func TestRunToolLoop_ExecutesToolsAndFeedsResults(t *testing.T) {
	tool := &countingTool{name: "lookup", result: `{"ok":true}`}
	model := &mockModel{responses: []*genai.ToolCallResponse{
		toolResponse("r1", "lookup", `{}`),
		textResponse("r2", "All done."),
	}}
	d := newTestDispatcher(t, model, WithTools(NewToolRegistry(tool)))

	res, err := d.runToolLoop(context.Background(), "m", loopRequest(5, "lookup"))
	if err != nil {
		t.Fatalf("runToolLoop failed: %v", err)
	}
	if res.Text != "All done." || res.ResponseID != "r2" || res.Steps != 2 || res.LimitReached {
		t.Errorf("result = %+v", res)
	}
	if tool.runs != 1 {
		t.Errorf("tool ran %d times, want 1", tool.runs)
	}
	if len(model.calls) != 2 {
		t.Fatalf("model called %d times, want 2", len(model.calls))
	}
	// system + user, then assistant tool call + tool result.
	if got := len(model.calls[1].messages); got != 4 {
		t.Errorf("second step saw %d messages, want 4", got)
	}
	if len(model.calls[0].tools) != 1 {
		t.Errorf("tools sent = %d, want 1", len(model.calls[0].tools))
	}
}

func TestRunToolLoop_StepCeiling(t *testing.T) {
	tool := &countingTool{name: "lookup", result: "data"}
	model := &mockModel{responses: []*genai.ToolCallResponse{toolResponse("r", "lookup", `{}`)}}
	d := newTestDispatcher(t, model, WithTools(NewToolRegistry(tool)), WithMaxSteps(3))

	res, err := d.runToolLoop(context.Background(), "m", loopRequest(3, "lookup"))
	if err != nil {
		t.Fatalf("the step ceiling is not an error: %v", err)
	}
	if !res.LimitReached || res.Steps != 3 {
		t.Errorf("result = %+v, want LimitReached after 3 steps", res)
	}
	if len(model.calls) != 3 {
		t.Errorf("model called %d times, want 3", len(model.calls))
	}
	if tool.runs != 2 {
		t.Errorf("tool ran %d times, want 2 (no tools run at the ceiling)", tool.runs)
	}
	if res.Text != stepLimitFallback {
		t.Errorf("Text = %q, want fallback", res.Text)
	}
}

func TestRunToolLoop_StepCeilingKeepsPartialText(t *testing.T) {
	partial := toolResponse("r1", "lookup", `{}`)
	partial.Content = ""
	withText := &genai.ToolCallResponse{ID: "r2", Content: "Partial plan so far", ToolCalls: partial.ToolCalls}
	model := &mockModel{responses: []*genai.ToolCallResponse{partial, withText}}
	d := newTestDispatcher(t, model, WithTools(NewToolRegistry(&countingTool{name: "lookup"})))

	res, err := d.runToolLoop(context.Background(), "m", loopRequest(2, "lookup"))
	if err != nil {
		t.Fatalf("runToolLoop failed: %v", err)
	}
	if !res.LimitReached || res.Text != "Partial plan so far" {
		t.Errorf("result = %+v", res)
	}
}

func TestRunToolLoop_ContentWithToolCallsSkipsTools(t *testing.T) {
	tool := &countingTool{name: "lookup", result: "data"}
	calls := toolResponse("r1", "lookup", `{}`).ToolCalls
	model := &mockModel{responses: []*genai.ToolCallResponse{
		{ID: "r1", Content: "Here is your answer.", ToolCalls: calls},
	}}
	d := newTestDispatcher(t, model, WithTools(NewToolRegistry(tool)))

	res, err := d.runToolLoop(context.Background(), "m", loopRequest(5, "lookup"))
	if err != nil {
		t.Fatalf("runToolLoop failed: %v", err)
	}
	if res.Text != "Here is your answer." || res.Steps != 1 || res.LimitReached {
		t.Errorf("result = %+v", res)
	}
	if tool.runs != 0 {
		t.Errorf("tool ran %d times, want 0 once the answer is final", tool.runs)
	}
	if len(model.calls) != 1 {
		t.Errorf("model called %d times, want 1", len(model.calls))
	}
}

func TestRunToolLoop_ToolErrorsAreFedBack(t *testing.T) {
	tool := &countingTool{name: "lookup", err: errors.New("db offline")}
	model := &mockModel{responses: []*genai.ToolCallResponse{
		toolResponse("r1", "lookup", `{}`),
		textResponse("r2", "Sorry, I could not read your log."),
	}}
	d := newTestDispatcher(t, model, WithTools(NewToolRegistry(tool)))

	res, err := d.runToolLoop(context.Background(), "m", loopRequest(5, "lookup"))
	if err != nil {
		t.Fatalf("tool errors must not abort the loop: %v", err)
	}
	if res.Text != "Sorry, I could not read your log." {
		t.Errorf("Text = %q", res.Text)
	}
	last := model.calls[1].messages[len(model.calls[1].messages)-1]
	if last.OfTool == nil || !strings.Contains(last.OfTool.Content.OfString.Value, "db offline") {
		t.Errorf("tool error was not passed to the model: %+v", last)
	}
}

func TestRunToolLoop_UnknownTool(t *testing.T) {
	model := &mockModel{responses: []*genai.ToolCallResponse{
		toolResponse("r1", "does_not_exist", `{}`),
		textResponse("r2", "ok"),
	}}
	d := newTestDispatcher(t, model, WithTools(NewToolRegistry()))
	res, err := d.runToolLoop(context.Background(), "m", loopRequest(5))
	if err != nil || res.Text != "ok" {
		t.Errorf("res = %+v, err = %v", res, err)
	}
}

func TestRunToolLoop_EmptyResponse(t *testing.T) {
	model := &mockModel{responses: []*genai.ToolCallResponse{{ID: "r1"}}}
	d := newTestDispatcher(t, model)
	res, err := d.runToolLoop(context.Background(), "m", loopRequest(5))
	if err != nil {
		t.Fatalf("runToolLoop failed: %v", err)
	}
	if res.Text != emptyResponseFallback || res.LimitReached {
		t.Errorf("result = %+v", res)
	}
}

func TestBuildMessages(t *testing.T) {
	req := models.NewGenerationRequest([]models.ChatMessage{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hello"},
		{Role: models.RoleUser, Content: "workout?"},
	}, "sys", nil, 0, "", "")
	msgs := buildMessages(req)
	if len(msgs) != 4 {
		t.Fatalf("len = %d, want 4", len(msgs))
	}
	if msgs[0].OfSystem == nil || msgs[1].OfUser == nil || msgs[2].OfAssistant == nil || msgs[3].OfUser == nil {
		t.Errorf("unexpected message roles: %+v", msgs)
	}
}

func TestToolRegistry(t *testing.T) {
	a := &countingTool{name: "a", result: "first"}
	b := &countingTool{name: "b"}
	a2 := &countingTool{name: "a", result: "second"}
	r := NewToolRegistry(a, b, a2)

	if got := r.Names(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Names = %v, want [a b]", got)
	}
	if defs := r.Definitions([]string{"b", "missing"}); len(defs) != 1 {
		t.Errorf("Definitions returned %d, want 1", len(defs))
	}
	out, err := r.Execute(context.Background(), "m", models.ToolCall{Function: models.FunctionCall{Name: "a"}})
	if err != nil || out != "second" {
		t.Errorf("Execute = %q, %v; want the replacement tool", out, err)
	}
	if _, err := r.Execute(context.Background(), "m", models.ToolCall{Function: models.FunctionCall{Name: "zzz"}}); err == nil {
		t.Error("expected error for unknown tool")
	}
}

func TestMemberContextTool(t *testing.T) {
	profile := kneeProfile()
	profile.EnergyHistory = []models.EnergyEntry{{Score: 4}, {Score: 6}}
	profile.MuscleRecovery = map[string]models.MuscleRecovery{
		"quads":  {ReadyToTrain: false, RecoveryPercent: 40},
		"chest":  {ReadyToTrain: true},
		"biceps": {ReadyToTrain: true},
	}
	tool := NewMemberContextTool(ProfileSupplierFunc(func(ctx context.Context, memberID string) (*models.MemberProfile, error) {
		if memberID != "member-1" {
			return nil, nil
		}
		return profile, nil
	}))

	out, err := tool.Execute(context.Background(), "member-1", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	var got memberSummary
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if !got.HasProfile || !got.GymEquipment || !got.HomeEquipment {
		t.Errorf("summary = %+v", got)
	}
	if got.AverageEnergy == nil || *got.AverageEnergy != 5 {
		t.Errorf("AverageEnergy = %v, want 5", got.AverageEnergy)
	}
	if strings.Join(got.ReadyMuscles, ",") != "biceps,chest" || strings.Join(got.Recovering, ",") != "quads" {
		t.Errorf("ready = %v recovering = %v", got.ReadyMuscles, got.Recovering)
	}
	if len(got.Limitations) != 1 || got.Limitations[0].Type != "knee" {
		t.Errorf("limitations = %+v", got.Limitations)
	}

	out, err = tool.Execute(context.Background(), "stranger", nil)
	if err != nil || out != `{"has_profile":false,"gym_equipment":false,"home_equipment":false}` {
		t.Errorf("unknown member result = %s, %v", out, err)
	}
}

func TestWorkoutHistoryTool(t *testing.T) {
	s := store.NewInMemoryStore()
	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	for _, w := range []models.WorkoutLogEntry{
		{MemberID: "m", PerformedAt: now.AddDate(0, 0, -1), Focus: "legs", Duration: 40},
		{MemberID: "m", PerformedAt: now.AddDate(0, 0, -3), Focus: "upper", Duration: 30},
		{MemberID: "m", PerformedAt: now.AddDate(0, 0, -30), Focus: "legs", Duration: 50},
	} {
		if _, err := s.AddWorkout(context.Background(), w); err != nil {
			t.Fatalf("AddWorkout failed: %v", err)
		}
	}
	tool := NewWorkoutHistoryTool(s)
	tool.now = func() time.Time { return now }

	tests := []struct {
		name      string
		args      string
		wantDays  int
		wantCount int
	}{
		{"defaults", `{}`, models.DefaultHistoryDays, 2},
		{"focus filter", `{"focus":"legs"}`, models.DefaultHistoryDays, 1},
		{"window clamped", `{"days":365}`, models.MaxHistoryDays, 3},
		{"limit", `{"days":60,"limit":1}`, 60, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tool.Execute(context.Background(), "m", json.RawMessage(tt.args))
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			var got historyResult
			if err := json.Unmarshal([]byte(out), &got); err != nil {
				t.Fatalf("result is not JSON: %v", err)
			}
			if got.Days != tt.wantDays || got.Count != tt.wantCount || len(got.Workouts) != tt.wantCount {
				t.Errorf("got days=%d count=%d, want days=%d count=%d", got.Days, got.Count, tt.wantDays, tt.wantCount)
			}
		})
	}

	if _, err := tool.Execute(context.Background(), "m", json.RawMessage(`{"days":"x"}`)); err == nil {
		t.Error("expected error for malformed arguments")
	}
}

func TestExtractWorkout(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantText  string
		wantBlock string
	}{
		{"no block", "Just rest today.", "Just rest today.", ""},
		{"valid block", "Try this:\n```json\n{\"title\":\"A\"}\n```\nEnjoy!", "Try this:\n\nEnjoy!", `{"title":"A"}`},
		{"invalid json", "```json\n{not json}\n```", "```json\n{not json}\n```", ""},
		{"last valid wins", "```json\n{\"a\":1}\n```\n```json\n{\"b\":2}\n```", "```json\n{\"a\":1}\n```", `{"b":2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, block := extractWorkout(tt.text)
			if text != tt.wantText {
				t.Errorf("text = %q, want %q", text, tt.wantText)
			}
			if string(block) != tt.wantBlock {
				t.Errorf("block = %q, want %q", block, tt.wantBlock)
			}
		})
	}
}
