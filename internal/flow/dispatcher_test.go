package flow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/openai/openai-go"

	"github.com/BTreeMap/CoachPipe/internal/genai"
	"github.com/BTreeMap/CoachPipe/internal/knowledge"
	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/quota"
	"github.com/BTreeMap/CoachPipe/internal/store"
)

// mockModel replays scripted responses and records every call.
type mockModel struct {
	responses []*genai.ToolCallResponse
	err       error
	calls     []mockCall
}

type mockCall struct {
	req      models.GenerationRequest
	messages []openai.ChatCompletionMessageParamUnion
	tools    []openai.ChatCompletionToolParam
}

func (m *mockModel) Generate(ctx context.Context, req models.GenerationRequest, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*genai.ToolCallResponse, error) {
	m.calls = append(m.calls, mockCall{req: req, messages: messages, tools: tools})
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return &genai.ToolCallResponse{ID: "resp-default", Content: "Default answer"}, nil
	}
	idx := len(m.calls) - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx], nil
}

func textResponse(id, content string) *genai.ToolCallResponse {
	return &genai.ToolCallResponse{ID: id, Content: content}
}

func toolResponse(id, name, args string) *genai.ToolCallResponse {
	return &genai.ToolCallResponse{
		ID: id,
		ToolCalls: []genai.ToolCall{{
			ID:       "call-" + id,
			Type:     "function",
			Function: genai.FunctionCall{Name: name, Arguments: json.RawMessage(args)},
		}},
	}
}

func kneeProfile() *models.MemberProfile {
	return &models.MemberProfile{
		MemberID:    "member-1",
		DisplayName: "Sam",
		Equipment:   []models.EquipmentItem{{Name: "Barbell"}, {Name: "Adjustable dumbbells"}},
		Limitations: []models.Limitation{
			{ID: "lim-1", Type: "knee", AffectedAreas: []string{"left knee"}, Severity: models.SeverityModerate, Active: true},
		},
	}
}

func userTurn(content string) []models.ChatMessage {
	return []models.ChatMessage{{Role: models.RoleUser, Content: content}}
}

func newTestDispatcher(t *testing.T, model ModelProvider, opts ...Option) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(model, append([]Option{WithIDGenerator(func() string { return "conv-test" })}, opts...)...)
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}
	return d
}

func TestNewDispatcherRequiresModel(t *testing.T) {
	if _, err := NewDispatcher(nil); !errors.Is(err, ErrNoModel) {
		t.Errorf("error = %v, want ErrNoModel", err)
	}
}

func TestRespond_InvalidRequest(t *testing.T) {
	d := newTestDispatcher(t, &mockModel{})
	_, err := d.Respond(context.Background(), models.RespondRequest{Messages: userTurn("hi")})
	if !errors.Is(err, models.ErrEmptyMemberID) {
		t.Errorf("error = %v, want ErrEmptyMemberID", err)
	}
}

func TestRespond_Passthrough(t *testing.T) {
	model := &mockModel{responses: []*genai.ToolCallResponse{textResponse("resp-1", "Stretching warms up your muscles.")}}
	states := store.NewInMemoryStore()
	d := newTestDispatcher(t, model, WithStateStore(states))

	resp, err := d.Respond(context.Background(), models.RespondRequest{
		MemberID: "member-1",
		Messages: userTurn("why should I stretch before running?"),
	})
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if resp.Kind != models.ResponsePassthrough {
		t.Fatalf("Kind = %q, want passthrough", resp.Kind)
	}
	if resp.Result == nil || resp.Result.Text != "Stretching warms up your muscles." || resp.Result.ResponseID != "resp-1" {
		t.Errorf("Result = %+v", resp.Result)
	}
	if len(model.calls) != 1 {
		t.Fatalf("model called %d times, want 1", len(model.calls))
	}
	req := model.calls[0].req
	if req.CacheKey != ChatCacheKey {
		t.Errorf("CacheKey = %q, want %q", req.CacheKey, ChatCacheKey)
	}
	if req.Tier != models.TierFast || req.MaxSteps != models.DefaultMaxSteps {
		t.Errorf("Tier = %q MaxSteps = %d", req.Tier, req.MaxSteps)
	}
	if strings.Contains(req.SystemPrompt, "## Session") {
		t.Error("passthrough prompt should not carry a session section")
	}
	if _, err := states.GetState(context.Background(), "conv-test"); !errors.Is(err, store.ErrNotFound) {
		t.Error("passthrough must not persist a conversation state")
	}
}

func TestRespond_ChatModeSkipsSlotFilling(t *testing.T) {
	model := &mockModel{}
	d := newTestDispatcher(t, model)
	resp, err := d.Respond(context.Background(), models.RespondRequest{
		MemberID: "member-1",
		Messages: userTurn("give me a leg workout"),
		Mode:     models.ModeChat,
	})
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if resp.Kind != models.ResponsePassthrough {
		t.Errorf("Kind = %q, want passthrough", resp.Kind)
	}
}

func TestRespond_LegWorkoutScenario(t *testing.T) {
	model := &mockModel{responses: []*genai.ToolCallResponse{
		textResponse("resp-final", "Here is your session.\n```json\n{\"title\":\"Knee-friendly legs\",\"duration_minutes\":30}\n```"),
	}}
	states := store.NewInMemoryStore()
	profiles := ProfileSupplierFunc(func(ctx context.Context, memberID string) (*models.MemberProfile, error) {
		return kneeProfile(), nil
	})
	d := newTestDispatcher(t, model, WithStateStore(states), WithProfileSupplier(profiles))
	ctx := context.Background()

	history := userTurn("I want a 30 min leg workout")
	resp, err := d.Respond(ctx, models.RespondRequest{MemberID: "member-1", Messages: history})
	if err != nil {
		t.Fatalf("turn 1 failed: %v", err)
	}
	if resp.Kind != models.ResponseClarification {
		t.Fatalf("turn 1 Kind = %q, want clarification", resp.Kind)
	}
	turn1 := resp.Clarification
	if turn1.ConversationID != "conv-test" {
		t.Errorf("ConversationID = %q", turn1.ConversationID)
	}
	if turn1.Clarification.Context != models.SlotEnergy {
		t.Errorf("first question asks %q, want energy", turn1.Clarification.Context)
	}
	var values []string
	for _, o := range turn1.Clarification.Options {
		values = append(values, o.Value)
	}
	if diff := cmp.Diff([]string{"low", "moderate", "high"}, values); diff != "" {
		t.Errorf("energy options mismatch (-want +got):\n%s", diff)
	}
	wantPending := []models.SlotType{models.SlotEnergy, models.SlotLocation, models.SlotLimitations}
	if diff := cmp.Diff(wantPending, turn1.State.PendingQuestions); diff != "" {
		t.Errorf("pending mismatch (-want +got):\n%s", diff)
	}
	if len(turn1.State.AnsweredQuestions) != 0 {
		t.Errorf("no slot may be answered on emission, got %v", turn1.State.AnsweredQuestions)
	}
	if turn1.State.Context.Duration != 30 || turn1.State.Context.Focus != "legs" {
		t.Errorf("context = %+v, want duration 30 and focus legs", turn1.State.Context)
	}
	if len(model.calls) != 0 {
		t.Fatalf("clarification turns must not call the model")
	}

	answers := []struct {
		reply string
		next  models.SlotType
	}{
		{"low", models.SlotLocation},
		{"gym", models.SlotLimitations},
	}
	for _, a := range answers {
		history = append(history, models.ChatMessage{Role: models.RoleUser, Content: a.reply})
		resp, err = d.Respond(ctx, models.RespondRequest{MemberID: "member-1", ConversationID: "conv-test", Messages: history})
		if err != nil {
			t.Fatalf("reply %q failed: %v", a.reply, err)
		}
		if resp.Kind != models.ResponseClarification || resp.Clarification.Clarification.Context != a.next {
			t.Fatalf("reply %q: got %+v, want clarification for %q", a.reply, resp, a.next)
		}
	}
	rec, err := states.GetState(ctx, "conv-test")
	if err != nil {
		t.Fatalf("state not persisted: %v", err)
	}
	if rec.State.Context.Energy != models.EnergyLow || rec.State.Context.Location != models.LocationGym {
		t.Errorf("persisted context = %+v", rec.State.Context)
	}
	if diff := cmp.Diff([]models.SlotType{models.SlotEnergy, models.SlotLocation}, rec.State.AnsweredQuestions); diff != "" {
		t.Errorf("answered mismatch (-want +got):\n%s", diff)
	}

	history = append(history, models.ChatMessage{Role: models.RoleUser, Content: "none"})
	resp, err = d.Respond(ctx, models.RespondRequest{MemberID: "member-1", ConversationID: "conv-test", Messages: history})
	if err != nil {
		t.Fatalf("final turn failed: %v", err)
	}
	if resp.Kind != models.ResponseGeneration {
		t.Fatalf("final Kind = %q, want generation", resp.Kind)
	}
	result := resp.Result
	if result.Text != "Here is your session." {
		t.Errorf("Text = %q", result.Text)
	}
	if string(result.Workout) != `{"title":"Knee-friendly legs","duration_minutes":30}` {
		t.Errorf("Workout = %s", result.Workout)
	}
	if diff := cmp.Diff(defaultSuggestedActions, result.SuggestedActions); diff != "" {
		t.Errorf("suggested actions mismatch (-want +got):\n%s", diff)
	}
	if len(model.calls) != 1 {
		t.Fatalf("model called %d times, want 1", len(model.calls))
	}
	req := model.calls[0].req
	if req.CacheKey != WorkoutCacheKey {
		t.Errorf("CacheKey = %q, want %q", req.CacheKey, WorkoutCacheKey)
	}
	if !strings.Contains(req.SystemPrompt, "duration: 30 min; energy: low; location: gym; focus: legs") {
		t.Errorf("system prompt lacks the slot summary:\n%s", req.SystemPrompt)
	}
	if _, err := states.GetState(ctx, "conv-test"); !errors.Is(err, store.ErrNotFound) {
		t.Error("terminal generation must discard the conversation state")
	}
}

func TestRespond_CachePrefixStable(t *testing.T) {
	model := &mockModel{}
	d := newTestDispatcher(t, model)
	ctx := context.Background()

	utterances := []string{
		"give me a 45 minute workout, feeling great",
		"make me a 20 min workout for my progress, I'm energized and want to log it",
	}
	for _, u := range utterances {
		resp, err := d.Respond(ctx, models.RespondRequest{MemberID: "member-1", Messages: userTurn(u)})
		if err != nil {
			t.Fatalf("Respond(%q) failed: %v", u, err)
		}
		if resp.Kind != models.ResponseGeneration {
			t.Fatalf("Respond(%q) Kind = %q, want generation", u, resp.Kind)
		}
	}
	if len(model.calls) != 2 {
		t.Fatalf("model called %d times, want 2", len(model.calls))
	}
	first, second := model.calls[0].req.SystemPrompt, model.calls[1].req.SystemPrompt
	if first == second {
		t.Fatal("dynamic content should differ between the two calls")
	}
	for i, p := range []string{first, second} {
		if !strings.HasPrefix(p, knowledge.StaticInstructions) {
			t.Errorf("prompt %d does not start with the static instructions", i)
		}
	}
	if model.calls[0].req.CacheKey != model.calls[1].req.CacheKey {
		t.Error("cache key must be identical across calls from the same call site")
	}
}

func TestRespond_CallerCacheKeyAndTier(t *testing.T) {
	model := &mockModel{}
	d := newTestDispatcher(t, model)
	_, err := d.Respond(context.Background(), models.RespondRequest{
		MemberID:       "member-1",
		Messages:       userTurn("explain progressive overload"),
		ReasoningLevel: models.ReasoningDeep,
		CacheKey:       "tenant-a:chat",
	})
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	req := model.calls[0].req
	if req.CacheKey != "tenant-a:chat" {
		t.Errorf("CacheKey = %q, want caller key", req.CacheKey)
	}
	if req.Tier != models.TierCapable || req.ReasoningLevel != models.ReasoningDeep {
		t.Errorf("Tier = %q ReasoningLevel = %q", req.Tier, req.ReasoningLevel)
	}
}

func TestRespond_QuotaExceeded(t *testing.T) {
	model := &mockModel{}
	gate := quota.GateFunc(func(ctx context.Context, memberID string, n int) (bool, error) {
		return false, nil
	})
	d := newTestDispatcher(t, model, WithQuotaGate(gate))

	resp, err := d.Respond(context.Background(), models.RespondRequest{MemberID: "member-1", Messages: userTurn("how do I improve my squat?")})
	if err != nil {
		t.Fatalf("quota denial must not be an error: %v", err)
	}
	if resp.Kind != models.ResponseQuotaExceeded || resp.Result != nil || resp.Clarification != nil {
		t.Errorf("resp = %+v, want bare quota_exceeded", resp)
	}
	if len(model.calls) != 0 {
		t.Error("no model call may be made after a quota denial")
	}
}

func TestRespond_QuotaExceededKeepsAnswer(t *testing.T) {
	states := store.NewInMemoryStore()
	allow := true
	gate := quota.GateFunc(func(ctx context.Context, memberID string, n int) (bool, error) {
		return allow, nil
	})
	model := &mockModel{}
	d := newTestDispatcher(t, model, WithStateStore(states), WithQuotaGate(gate))
	ctx := context.Background()

	if _, err := d.Respond(ctx, models.RespondRequest{MemberID: "m", ConversationID: "c", Messages: userTurn("give me a 30 minute workout")}); err != nil {
		t.Fatalf("turn 1 failed: %v", err)
	}
	allow = false
	resp, err := d.Respond(ctx, models.RespondRequest{MemberID: "m", ConversationID: "c", Messages: userTurn("high")})
	if err != nil {
		t.Fatalf("turn 2 failed: %v", err)
	}
	if resp.Kind != models.ResponseQuotaExceeded {
		t.Fatalf("Kind = %q, want quota_exceeded", resp.Kind)
	}
	if resp.State == nil || resp.State.Context.Energy != models.EnergyHigh {
		t.Errorf("State = %+v, want the answered state", resp.State)
	}
	rec, err := states.GetState(ctx, "c")
	if err != nil {
		t.Fatalf("state must survive a quota denial: %v", err)
	}
	if rec.State.Context.Energy != models.EnergyHigh || len(rec.State.PendingQuestions) != 0 {
		t.Errorf("stored state = %+v, want energy answered and nothing pending", rec.State)
	}

	allow = true
	resp, err = d.Respond(ctx, models.RespondRequest{MemberID: "m", ConversationID: "c", Messages: userTurn("ok, try again")})
	if err != nil {
		t.Fatalf("turn 3 failed: %v", err)
	}
	if resp.Kind != models.ResponseGeneration {
		t.Errorf("Kind = %q, want generation without asking energy again", resp.Kind)
	}
	if len(model.calls) != 1 {
		t.Errorf("model called %d times, want 1", len(model.calls))
	}
}

func TestRespond_QuotaNotConsumedByClarification(t *testing.T) {
	var checks int
	gate := quota.GateFunc(func(ctx context.Context, memberID string, n int) (bool, error) {
		checks++
		return true, nil
	})
	d := newTestDispatcher(t, &mockModel{}, WithQuotaGate(gate))
	resp, err := d.Respond(context.Background(), models.RespondRequest{MemberID: "member-1", Messages: userTurn("plan a workout for today")})
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if resp.Kind != models.ResponseClarification {
		t.Fatalf("Kind = %q, want clarification", resp.Kind)
	}
	if checks != 0 {
		t.Errorf("quota checked %d times on a clarification turn", checks)
	}
}

func TestRespond_QuotaError(t *testing.T) {
	gate := quota.GateFunc(func(ctx context.Context, memberID string, n int) (bool, error) {
		return false, errors.New("redis down")
	})
	d := newTestDispatcher(t, &mockModel{}, WithQuotaGate(gate))
	if _, err := d.Respond(context.Background(), models.RespondRequest{MemberID: "m", Messages: userTurn("tell me about rest days")}); err == nil {
		t.Error("expected an error when the quota gate fails")
	}
}

func TestRespond_ProfileErrorDegrades(t *testing.T) {
	profiles := ProfileSupplierFunc(func(ctx context.Context, memberID string) (*models.MemberProfile, error) {
		return nil, errors.New("member service unavailable")
	})
	d := newTestDispatcher(t, &mockModel{}, WithProfileSupplier(profiles))
	resp, err := d.Respond(context.Background(), models.RespondRequest{MemberID: "member-1", Messages: userTurn("I want a leg workout")})
	if err != nil {
		t.Fatalf("profile failures must not fail the turn: %v", err)
	}
	if resp.Kind != models.ResponseClarification {
		t.Fatalf("Kind = %q, want clarification", resp.Kind)
	}
	want := []models.SlotType{models.SlotDuration, models.SlotEnergy}
	if diff := cmp.Diff(want, resp.Clarification.State.PendingQuestions); diff != "" {
		t.Errorf("pending mismatch (-want +got):\n%s", diff)
	}
}

func TestRespond_CallerHeldState(t *testing.T) {
	model := &mockModel{}
	d := newTestDispatcher(t, model)
	ctx := context.Background()

	resp, err := d.Respond(ctx, models.RespondRequest{MemberID: "m", Messages: userTurn("30 minute workout please")})
	if err != nil {
		t.Fatalf("turn 1 failed: %v", err)
	}
	if resp.Kind != models.ResponseClarification || resp.Clarification.Clarification.Context != models.SlotEnergy {
		t.Fatalf("turn 1 = %+v, want energy clarification", resp)
	}
	state := resp.Clarification.State

	resp, err = d.Respond(ctx, models.RespondRequest{
		MemberID:       "m",
		ConversationID: resp.Clarification.ConversationID,
		Messages:       userTurn("high"),
		State:          &state,
	})
	if err != nil {
		t.Fatalf("turn 2 failed: %v", err)
	}
	if resp.Kind != models.ResponseGeneration {
		t.Fatalf("turn 2 Kind = %q, want generation", resp.Kind)
	}
	if len(state.AnsweredQuestions) != 0 {
		t.Error("the caller's state value must not be mutated")
	}
}

func TestRespond_CorrectionOverwritesSlot(t *testing.T) {
	states := store.NewInMemoryStore()
	d := newTestDispatcher(t, &mockModel{}, WithStateStore(states))
	ctx := context.Background()

	if _, err := d.Respond(ctx, models.RespondRequest{MemberID: "m", ConversationID: "c", Messages: userTurn("30 minute workout")}); err != nil {
		t.Fatalf("turn 1 failed: %v", err)
	}
	resp, err := d.Respond(ctx, models.RespondRequest{MemberID: "m", ConversationID: "c", Messages: userTurn("actually make it 45 minutes")})
	if err != nil {
		t.Fatalf("turn 2 failed: %v", err)
	}
	if resp.Kind != models.ResponseClarification {
		t.Fatalf("Kind = %q, want clarification", resp.Kind)
	}
	if got := resp.Clarification.State.Context.Duration; got != 45 {
		t.Errorf("Duration = %d, want 45 after correction", got)
	}
}

func TestRespond_Reset(t *testing.T) {
	states := store.NewInMemoryStore()
	model := &mockModel{}
	d := newTestDispatcher(t, model, WithStateStore(states))
	ctx := context.Background()

	if _, err := d.Respond(ctx, models.RespondRequest{MemberID: "m", ConversationID: "c", Messages: userTurn("give me a workout")}); err != nil {
		t.Fatalf("turn 1 failed: %v", err)
	}
	if _, err := states.GetState(ctx, "c"); err != nil {
		t.Fatalf("state should be stored after clarification: %v", err)
	}
	resp, err := d.Respond(ctx, models.RespondRequest{MemberID: "m", ConversationID: "c", Messages: userTurn("never mind, start over")})
	if err != nil {
		t.Fatalf("reset turn failed: %v", err)
	}
	if resp.Kind != models.ResponsePassthrough {
		t.Errorf("Kind = %q, want passthrough after reset", resp.Kind)
	}
	if _, err := states.GetState(ctx, "c"); !errors.Is(err, store.ErrNotFound) {
		t.Error("reset must discard the stored state")
	}
}

func TestRespond_ResetKeepsStateWhenTurnFails(t *testing.T) {
	states := store.NewInMemoryStore()
	model := &mockModel{}
	d := newTestDispatcher(t, model, WithStateStore(states))
	ctx := context.Background()

	if _, err := d.Respond(ctx, models.RespondRequest{MemberID: "m", ConversationID: "c", Messages: userTurn("give me a workout")}); err != nil {
		t.Fatalf("turn 1 failed: %v", err)
	}
	model.err = errors.New("provider unavailable")
	if _, err := d.Respond(ctx, models.RespondRequest{MemberID: "m", ConversationID: "c", Messages: userTurn("never mind, start over")}); err == nil {
		t.Fatal("expected the reset turn to fail with the model error")
	}
	rec, err := states.GetState(ctx, "c")
	if err != nil {
		t.Fatalf("a failed reset turn must not discard the state: %v", err)
	}
	if !rec.State.Active {
		t.Error("stored dialogue should still be active")
	}
}

func TestRespond_CancelledContextCommitsNothing(t *testing.T) {
	states := store.NewInMemoryStore()
	d := newTestDispatcher(t, &mockModel{}, WithStateStore(states))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Respond(ctx, models.RespondRequest{MemberID: "m", ConversationID: "c", Messages: userTurn("give me a workout")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if _, err := states.GetState(context.Background(), "c"); !errors.Is(err, store.ErrNotFound) {
		t.Error("a cancelled turn must not commit state")
	}
}

func TestRespond_ModelErrorKeepsState(t *testing.T) {
	states := store.NewInMemoryStore()
	model := &mockModel{err: errors.New("provider unavailable")}
	d := newTestDispatcher(t, model, WithStateStore(states))
	ctx := context.Background()

	if _, err := d.Respond(ctx, models.RespondRequest{MemberID: "m", ConversationID: "c", Messages: userTurn("give me a 30 minute workout")}); err != nil {
		t.Fatalf("turn 1 failed: %v", err)
	}
	_, err := d.Respond(ctx, models.RespondRequest{MemberID: "m", ConversationID: "c", Messages: userTurn("high")})
	if err == nil || !strings.Contains(err.Error(), "provider unavailable") {
		t.Fatalf("error = %v, want wrapped provider error", err)
	}
	rec, err := states.GetState(ctx, "c")
	if err != nil {
		t.Fatalf("state must survive a failed generation: %v", err)
	}
	if rec.State.Context.Energy != "" {
		t.Error("the failed turn's answer must not be committed")
	}
}

func TestRespond_FinishCallback(t *testing.T) {
	model := &mockModel{responses: []*genai.ToolCallResponse{textResponse("resp-42", "Rest well tonight.")}}
	var got []FinishEvent
	d := newTestDispatcher(t, model, WithFinishCallback(func(ctx context.Context, ev FinishEvent) {
		got = append(got, ev)
	}))
	if _, err := d.Respond(context.Background(), models.RespondRequest{MemberID: "m", Messages: userTurn("how much sleep do I need?")}); err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	want := []FinishEvent{{ConversationID: "conv-test", MemberID: "m", Text: "Rest well tonight.", ResponseID: "resp-42", StepsUsed: 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("finish events mismatch (-want +got):\n%s", diff)
	}
}
