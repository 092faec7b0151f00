// Package flow coordinates one conversational turn: intent detection, slot
// filling, clarification, knowledge assembly and the bounded tool-calling
// generation loop.
package flow

import (
	"context"
	"time"

	"github.com/openai/openai-go"

	"github.com/BTreeMap/CoachPipe/internal/genai"
	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/store"
)

// ProfileSupplier fetches the read-only member profile. A nil profile with a
// nil error means the member has no profile.
type ProfileSupplier interface {
	GetProfile(ctx context.Context, memberID string) (*models.MemberProfile, error)
}

// ProfileSupplierFunc adapts a function to ProfileSupplier.
type ProfileSupplierFunc func(ctx context.Context, memberID string) (*models.MemberProfile, error)

func (f ProfileSupplierFunc) GetProfile(ctx context.Context, memberID string) (*models.MemberProfile, error) {
	return f(ctx, memberID)
}

// ModelProvider runs one model step. genai.Client implements it.
type ModelProvider interface {
	Generate(ctx context.Context, req models.GenerationRequest, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*genai.ToolCallResponse, error)
}

// StateStore persists conversation states between turns.
type StateStore = store.StateStore

// WorkoutHistory is the read side of the workout log.
type WorkoutHistory interface {
	ListWorkouts(ctx context.Context, memberID string, since time.Time, focus string, limit int) ([]models.WorkoutLogEntry, error)
}

// FinishEvent is delivered to the finish callback after a model answer.
type FinishEvent struct {
	ConversationID string
	MemberID       string
	Text           string
	ResponseID     string
	StepsUsed      int
}

// FinishFunc receives the final text and provider response id of a generation.
type FinishFunc func(ctx context.Context, ev FinishEvent)
