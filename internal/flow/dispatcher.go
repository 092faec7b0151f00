package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/CoachPipe/internal/clarify"
	"github.com/BTreeMap/CoachPipe/internal/intent"
	"github.com/BTreeMap/CoachPipe/internal/knowledge"
	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/quota"
	"github.com/BTreeMap/CoachPipe/internal/store"
)

// Default cache keys, one per call site.
const (
	WorkoutCacheKey = "coachpipe:workout"
	ChatCacheKey    = "coachpipe:chat"
)

// quotaDeniedMessage is the user-facing text of a quota_exceeded response.
const quotaDeniedMessage = "You've used all of your coaching requests for now. Please try again later."

// Dispatcher runs conversational turns. It holds no per-conversation state;
// every turn loads and commits state through the configured StateStore.
type Dispatcher struct {
	model     ModelProvider
	profiles  ProfileSupplier
	states    StateStore
	gate      quota.Gate
	assembler *knowledge.Assembler
	tools     ToolExecutor
	maxSteps  int
	onFinish  FinishFunc
	newID     func() string
}

// Opts holds configuration options for the Dispatcher.
type Opts struct {
	Profiles  ProfileSupplier
	States    StateStore
	Gate      quota.Gate
	Assembler *knowledge.Assembler
	Tools     ToolExecutor
	MaxSteps  int
	OnFinish  FinishFunc
	NewID     func() string
}

// Option defines a configuration option for the Dispatcher.
type Option func(*Opts)

// WithProfileSupplier sets where member profiles come from.
func WithProfileSupplier(p ProfileSupplier) Option {
	return func(o *Opts) { o.Profiles = p }
}

// WithStateStore persists conversation states between turns. Without one the
// caller must send the state back in RespondRequest.State.
func WithStateStore(s StateStore) Option {
	return func(o *Opts) { o.States = s }
}

// WithQuotaGate sets the gate consulted before every model call.
func WithQuotaGate(g quota.Gate) Option {
	return func(o *Opts) { o.Gate = g }
}

// WithAssembler sets the knowledge assembler.
func WithAssembler(a *knowledge.Assembler) Option {
	return func(o *Opts) { o.Assembler = a }
}

// WithTools sets the tools exposed to the model.
func WithTools(t ToolExecutor) Option {
	return func(o *Opts) { o.Tools = t }
}

// WithMaxSteps sets the tool-calling step ceiling.
func WithMaxSteps(n int) Option {
	return func(o *Opts) { o.MaxSteps = n }
}

// WithFinishCallback registers a callback run after every model answer.
func WithFinishCallback(f FinishFunc) Option {
	return func(o *Opts) { o.OnFinish = f }
}

// WithIDGenerator overrides how new conversation ids are minted.
func WithIDGenerator(f func() string) Option {
	return func(o *Opts) { o.NewID = f }
}

// ErrNoModel is returned when a Dispatcher is created without a ModelProvider.
var ErrNoModel = errors.New("model provider is required")

// NewDispatcher creates a Dispatcher. Without an assembler the embedded
// knowledge catalog is used with the default budget.
func NewDispatcher(model ModelProvider, opts ...Option) (*Dispatcher, error) {
	if model == nil {
		return nil, ErrNoModel
	}
	cfg := Opts{MaxSteps: models.DefaultMaxSteps}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Assembler == nil {
		catalog, err := knowledge.DefaultCatalog()
		if err != nil {
			return nil, fmt.Errorf("failed to load default knowledge catalog: %w", err)
		}
		cfg.Assembler = knowledge.NewAssembler(catalog)
	}
	if cfg.Gate == nil {
		cfg.Gate = quota.AllowAll{}
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = models.DefaultMaxSteps
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	slog.Debug("Dispatcher.NewDispatcher: created",
		"hasProfiles", cfg.Profiles != nil,
		"hasStateStore", cfg.States != nil,
		"maxSteps", cfg.MaxSteps,
		"budget", cfg.Assembler.Budget())
	return &Dispatcher{
		model:     model,
		profiles:  cfg.Profiles,
		states:    cfg.States,
		gate:      cfg.Gate,
		assembler: cfg.Assembler,
		tools:     cfg.Tools,
		maxSteps:  cfg.MaxSteps,
		onFinish:  cfg.OnFinish,
		newID:     cfg.NewID,
	}, nil
}

// turn carries the inputs of one Respond call.
type turn struct {
	req            models.RespondRequest
	conversationID string
	utterance      string
	state          models.ConversationState
	profile        *models.MemberProfile
	reset          bool
}

// Respond handles one inbound message and returns exactly one response kind.
// State is committed only after the whole turn succeeds.
func (d *Dispatcher) Respond(ctx context.Context, req models.RespondRequest) (models.Response, error) {
	if err := req.Validate(); err != nil {
		return models.Response{}, err
	}
	t := turn{
		req:            req,
		conversationID: req.ConversationID,
		utterance:      models.LastUserMessage(req.Messages),
	}
	if t.conversationID == "" {
		t.conversationID = d.newID()
	}
	mode := req.Mode
	if mode == "" {
		mode = models.ModeAuto
	}

	if err := d.load(ctx, &t); err != nil {
		return models.Response{}, err
	}

	// The stored state is only discarded once the rest of the turn succeeds.
	if intent.IsReset(t.utterance) && t.state.Active {
		slog.Info("Dispatcher.Respond: conversation reset", "conversationID", t.conversationID, "memberID", req.MemberID)
		t.state = models.ConversationState{}
		t.reset = true
	}

	if mode == models.ModeChat {
		return d.passthrough(ctx, t)
	}

	isWorkout := mode == models.ModeWorkout || t.state.Active || intent.Classify(t.utterance)
	slog.Debug("Dispatcher.Respond: classified",
		"conversationID", t.conversationID,
		"memberID", req.MemberID,
		"mode", mode,
		"dialogueActive", t.state.Active,
		"isWorkout", isWorkout,
		"matched", intent.Explain(t.utterance))
	if !isWorkout {
		return d.passthrough(ctx, t)
	}
	return d.workout(ctx, t)
}

// load fetches the conversation state and the member profile concurrently.
// Profile failures degrade to no profile.
func (d *Dispatcher) load(ctx context.Context, t *turn) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		state, err := d.loadState(gctx, t.conversationID, t.req.State)
		if err != nil {
			return err
		}
		t.state = state
		return nil
	})
	g.Go(func() error {
		if d.profiles == nil {
			return nil
		}
		profile, err := d.profiles.GetProfile(gctx, t.req.MemberID)
		if err != nil {
			slog.Warn("Dispatcher.load: profile unavailable, continuing without it", "error", err, "memberID", t.req.MemberID)
			return nil
		}
		t.profile = profile
		return nil
	})
	return g.Wait()
}

func (d *Dispatcher) loadState(ctx context.Context, conversationID string, callerState *models.ConversationState) (models.ConversationState, error) {
	if d.states == nil {
		if callerState == nil {
			return models.ConversationState{}, nil
		}
		return callerState.Clone(), nil
	}
	rec, err := d.states.GetState(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return models.ConversationState{}, nil
	}
	if err != nil {
		slog.Error("Dispatcher.loadState: failed to load state", "error", err, "conversationID", conversationID)
		return models.ConversationState{}, fmt.Errorf("failed to load conversation state: %w", err)
	}
	return rec.State, nil
}

func (d *Dispatcher) saveState(ctx context.Context, t turn, state models.ConversationState) error {
	if d.states == nil {
		return nil
	}
	if err := d.states.PutState(ctx, models.ConversationRecord{ConversationID: t.conversationID, MemberID: t.req.MemberID, State: state}); err != nil {
		slog.Error("Dispatcher.saveState: failed to save state", "error", err, "conversationID", t.conversationID)
		return fmt.Errorf("failed to save conversation state: %w", err)
	}
	return nil
}

func (d *Dispatcher) deleteState(ctx context.Context, conversationID string) error {
	if d.states == nil {
		return nil
	}
	if err := d.states.DeleteState(ctx, conversationID); err != nil {
		slog.Error("Dispatcher.deleteState: failed to delete state", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to delete conversation state: %w", err)
	}
	return nil
}

// workout runs the slot-filling branch: apply any answer, merge extracted
// slots, then either ask for the next missing slot or generate.
func (d *Dispatcher) workout(ctx context.Context, t turn) (models.Response, error) {
	state := t.state.Clone()
	if !state.Active {
		state = models.NewConversationState()
	}

	if next, ok := clarify.ApplyAnswer(state, t.profile, t.utterance); ok {
		slog.Debug("Dispatcher.workout: answer applied", "conversationID", t.conversationID, "answered", next.AnsweredQuestions)
		state = next
	}
	state.Context = clarify.MergeContext(state.Context, intent.Extract(t.utterance), intent.IsCorrection(t.utterance))

	missing := clarify.Missing(t.profile, state)
	state.SetPending(missing)

	if len(missing) > 0 {
		data := clarify.Build(missing[0], t.profile)
		if err := ctx.Err(); err != nil {
			return models.Response{}, err
		}
		if err := d.saveState(ctx, t, state); err != nil {
			return models.Response{}, err
		}
		slog.Info("Dispatcher.workout: clarification", "conversationID", t.conversationID, "memberID", t.req.MemberID, "slot", missing[0], "pending", missing)
		return models.Response{
			Kind: models.ResponseClarification,
			Clarification: &models.ClarificationTurn{
				ConversationID: t.conversationID,
				Clarification:  data,
				State:          state,
			},
		}, nil
	}

	session := "## Session\n" + sessionSummary(state.Context, t.profile)
	result, denied, err := d.generate(ctx, t, WorkoutCacheKey, session)
	if err != nil {
		return models.Response{}, err
	}
	if denied {
		// The answers of this turn are kept; the next turn goes straight to generation.
		if err := ctx.Err(); err != nil {
			return models.Response{}, err
		}
		if err := d.saveState(ctx, t, state); err != nil {
			return models.Response{}, err
		}
		return quotaExceeded(&state), nil
	}
	if err := ctx.Err(); err != nil {
		return models.Response{}, err
	}
	if err := d.deleteState(ctx, t.conversationID); err != nil {
		return models.Response{}, err
	}
	return models.Response{Kind: models.ResponseGeneration, Result: result}, nil
}

// passthrough answers open-ended chat without slot filling. Any active
// dialogue state is left untouched unless the turn asked for a reset.
func (d *Dispatcher) passthrough(ctx context.Context, t turn) (models.Response, error) {
	result, denied, err := d.generate(ctx, t, ChatCacheKey)
	if err != nil {
		return models.Response{}, err
	}
	if t.reset {
		if err := ctx.Err(); err != nil {
			return models.Response{}, err
		}
		if err := d.deleteState(ctx, t.conversationID); err != nil {
			return models.Response{}, err
		}
	}
	if denied {
		return quotaExceeded(nil), nil
	}
	return models.Response{Kind: models.ResponsePassthrough, Result: result}, nil
}

// quotaExceeded builds the denial response. state is the dialogue state to
// resubmit when the caller holds it; nil outside a dialogue.
func quotaExceeded(state *models.ConversationState) models.Response {
	return models.Response{Kind: models.ResponseQuotaExceeded, Message: quotaDeniedMessage, State: state}
}

// generate checks the quota, assembles knowledge and runs the tool loop.
// denied is true when the quota gate refused the call; no model call is made then.
func (d *Dispatcher) generate(ctx context.Context, t turn, defaultCacheKey string, dynamic ...string) (*models.GenerationResult, bool, error) {
	allowed, err := d.gate.Allow(ctx, t.req.MemberID, 1)
	if err != nil {
		slog.Error("Dispatcher.generate: quota check failed", "error", err, "memberID", t.req.MemberID)
		return nil, false, fmt.Errorf("quota check failed: %w", err)
	}
	if !allowed {
		slog.Info("Dispatcher.generate: quota exceeded", "memberID", t.req.MemberID, "conversationID", t.conversationID)
		return nil, true, nil
	}

	semantic := d.assembler.Assemble(models.RecentUserMessages(t.req.Messages, knowledge.RecentTurns))
	systemPrompt := knowledge.RenderSystemPrompt(semantic, dynamic...)

	cacheKey := t.req.CacheKey
	if cacheKey == "" {
		cacheKey = defaultCacheKey
	}
	var toolNames []string
	if d.tools != nil {
		toolNames = d.tools.Names()
	}
	genReq := models.NewGenerationRequest(t.req.Messages, systemPrompt, toolNames, d.maxSteps, t.req.ReasoningLevel, cacheKey)

	slog.Debug("Dispatcher.generate: dispatching",
		"conversationID", t.conversationID,
		"memberID", t.req.MemberID,
		"tier", genReq.Tier,
		"cacheKey", cacheKey,
		"intent", semantic.Intent,
		"promptLength", len(systemPrompt))

	loop, err := d.runToolLoop(ctx, t.req.MemberID, genReq)
	if err != nil {
		return nil, false, err
	}

	text, workout := extractWorkout(loop.Text)
	result := &models.GenerationResult{
		ConversationID:   t.conversationID,
		Text:             text,
		ResponseID:       loop.ResponseID,
		Workout:          workout,
		StepsUsed:        loop.Steps,
		StepLimitReached: loop.LimitReached,
		Intent:           semantic.Intent,
	}
	if workout != nil {
		result.SuggestedActions = slices.Clone(defaultSuggestedActions)
	}

	if d.onFinish != nil {
		d.onFinish(ctx, FinishEvent{
			ConversationID: t.conversationID,
			MemberID:       t.req.MemberID,
			Text:           loop.Text,
			ResponseID:     loop.ResponseID,
			StepsUsed:      loop.Steps,
		})
	}
	slog.Info("Dispatcher.generate: completed",
		"conversationID", t.conversationID,
		"memberID", t.req.MemberID,
		"steps", loop.Steps,
		"stepLimitReached", loop.LimitReached,
		"hasWorkout", workout != nil)
	return result, false, nil
}

// sessionSummary renders the resolved slots for the dynamic prompt suffix.
func sessionSummary(slots models.SlotContext, profile *models.MemberProfile) string {
	summary := slots.Summary()
	if summary == "" {
		summary = "no preferences given"
	}
	out := "Request: " + summary + "\n"
	if profile != nil && profile.DisplayName != "" {
		out += "Member: " + profile.DisplayName + "\n"
	}
	return out
}
