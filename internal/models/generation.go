// Package models defines generation request and response envelopes.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// ReasoningLevel is the caller-requested reasoning depth.
type ReasoningLevel string

const (
	ReasoningNone     ReasoningLevel = "none"
	ReasoningQuick    ReasoningLevel = "quick"
	ReasoningStandard ReasoningLevel = "standard"
	ReasoningDeep     ReasoningLevel = "deep"
	ReasoningMax      ReasoningLevel = "max"
)

// IsValidReasoningLevel checks if the level is supported. Empty is accepted as standard.
func IsValidReasoningLevel(l ReasoningLevel) bool {
	switch l {
	case "", ReasoningNone, ReasoningQuick, ReasoningStandard, ReasoningDeep, ReasoningMax:
		return true
	default:
		return false
	}
}

// ModelTier selects between the fast and the capable model.
type ModelTier string

const (
	TierFast    ModelTier = "fast"
	TierCapable ModelTier = "capable"
)

// TierForReasoning maps a reasoning level onto a model tier.
func TierForReasoning(l ReasoningLevel) ModelTier {
	switch l {
	case ReasoningDeep, ReasoningMax:
		return TierCapable
	default:
		return TierFast
	}
}

// DefaultMaxSteps is the tool-calling step ceiling used when none is configured.
const DefaultMaxSteps = 5

// ChatMessage is one turn of the caller-supplied message history.
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// LastUserMessage returns the content of the most recent user turn.
func LastUserMessage(messages []ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// RecentUserMessages returns up to n most recent user turns, oldest first.
func RecentUserMessages(messages []ChatMessage, n int) []string {
	var out []string
	for i := len(messages) - 1; i >= 0 && len(out) < n; i-- {
		if messages[i].Role == RoleUser {
			out = append(out, messages[i].Content)
		}
	}
	slices.Reverse(out)
	return out
}

// GenerationRequest is the outbound model call envelope. Build it with
// NewGenerationRequest; the constructor copies its slices so the value is
// safe to share once built.
type GenerationRequest struct {
	Messages       []ChatMessage
	SystemPrompt   string
	ToolNames      []string
	MaxSteps       int
	Tier           ModelTier
	ReasoningLevel ReasoningLevel
	CacheKey       string
}

// NewGenerationRequest constructs an immutable request envelope.
func NewGenerationRequest(messages []ChatMessage, systemPrompt string, toolNames []string, maxSteps int, level ReasoningLevel, cacheKey string) GenerationRequest {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	if level == "" {
		level = ReasoningStandard
	}
	return GenerationRequest{
		Messages:       slices.Clone(messages),
		SystemPrompt:   systemPrompt,
		ToolNames:      slices.Clone(toolNames),
		MaxSteps:       maxSteps,
		Tier:           TierForReasoning(level),
		ReasoningLevel: level,
		CacheKey:       cacheKey,
	}
}

// SuggestedAction is a follow-up the UI may offer after a generated workout.
type SuggestedAction string

const (
	ActionStart      SuggestedAction = "start"
	ActionSave       SuggestedAction = "save"
	ActionModify     SuggestedAction = "modify"
	ActionRegenerate SuggestedAction = "regenerate"
)

// GenerationResult is the outcome of a dispatched model call.
type GenerationResult struct {
	ConversationID   string            `json:"conversation_id,omitempty"`
	Text             string            `json:"text"`
	ResponseID       string            `json:"response_id,omitempty"`
	Workout          json.RawMessage   `json:"workout,omitempty"`
	SuggestedActions []SuggestedAction `json:"suggested_actions,omitempty"`
	StepsUsed        int               `json:"steps_used"`
	StepLimitReached bool              `json:"step_limit_reached,omitempty"`
	Intent           *Intent           `json:"intent,omitempty"`
}

// ResponseKind tags the variant carried by a Response.
type ResponseKind string

const (
	ResponseClarification ResponseKind = "clarification"
	ResponseGeneration    ResponseKind = "generation"
	ResponsePassthrough   ResponseKind = "passthrough"
	ResponseQuotaExceeded ResponseKind = "quota_exceeded"
)

// Response is the tagged union returned by the dispatcher. Exactly one of
// Clarification or Result is set for the clarification, generation and
// passthrough kinds; quota_exceeded carries neither, only the dialogue State
// when the denial interrupted a workout dialogue.
type Response struct {
	Kind          ResponseKind       `json:"kind"`
	Clarification *ClarificationTurn `json:"clarification,omitempty"`
	Result        *GenerationResult  `json:"result,omitempty"`
	Message       string             `json:"message,omitempty"`
	State         *ConversationState `json:"state,omitempty"`
}

// Mode lets callers override intent detection.
type Mode string

const (
	// ModeAuto classifies the utterance.
	ModeAuto Mode = "auto"
	// ModeWorkout treats the utterance as a generation request.
	ModeWorkout Mode = "workout"
	// ModeChat skips slot filling entirely.
	ModeChat Mode = "chat"
)

// Request validation errors.
var (
	ErrEmptyMemberID    = errors.New("member id cannot be empty")
	ErrNoUserMessage    = errors.New("messages must contain at least one user turn")
	ErrInvalidMode      = errors.New("invalid mode")
	ErrInvalidRole      = errors.New("invalid message role")
	ErrInvalidReasoning = errors.New("invalid reasoning level")
)

// RespondRequest is the inbound call of the outbound contract.
type RespondRequest struct {
	MemberID       string         `json:"member_id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Messages       []ChatMessage  `json:"messages"`
	Mode           Mode           `json:"mode,omitempty"`
	ReasoningLevel ReasoningLevel `json:"reasoning_level,omitempty"`
	CacheKey       string         `json:"cache_key,omitempty"`
	// State is the caller-held conversation state, used when no state store is configured.
	State *ConversationState `json:"state,omitempty"`
}

// Validate performs request validation.
func (r *RespondRequest) Validate() error {
	if r.MemberID == "" {
		return ErrEmptyMemberID
	}
	switch r.Mode {
	case "", ModeAuto, ModeWorkout, ModeChat:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidMode, r.Mode)
	}
	if !IsValidReasoningLevel(r.ReasoningLevel) {
		return fmt.Errorf("%w: %s", ErrInvalidReasoning, r.ReasoningLevel)
	}
	for _, m := range r.Messages {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return fmt.Errorf("%w: %s", ErrInvalidRole, m.Role)
		}
	}
	if LastUserMessage(r.Messages) == "" {
		return ErrNoUserMessage
	}
	return nil
}
