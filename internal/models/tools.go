// Package models defines tool structures for LLM function calling.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ToolType names a tool exposed to the model.
type ToolType string

const (
	// ToolTypeMemberContext returns a summary of the member profile.
	ToolTypeMemberContext ToolType = "fetch_member_context"
	// ToolTypeWorkoutHistory runs a read-only query over the member's logged workouts.
	ToolTypeWorkoutHistory ToolType = "query_workout_history"
)

// Bounds for workout history queries.
const (
	DefaultHistoryDays = 14
	MaxHistoryDays     = 90
	MaxHistoryRows     = 50
)

// WorkoutHistoryParams defines the parameters for the workout history tool call.
type WorkoutHistoryParams struct {
	Days  int    `json:"days,omitempty"`  // look-back window in days
	Focus string `json:"focus,omitempty"` // optional focus filter, e.g. "legs"
	Limit int    `json:"limit,omitempty"` // maximum rows returned
}

// Normalize applies defaults and clamps the window.
func (p *WorkoutHistoryParams) Normalize() {
	if p.Days <= 0 {
		p.Days = DefaultHistoryDays
	}
	if p.Days > MaxHistoryDays {
		p.Days = MaxHistoryDays
	}
	if p.Limit <= 0 || p.Limit > MaxHistoryRows {
		p.Limit = MaxHistoryRows
	}
}

// ToolCall represents an LLM tool function call.
type ToolCall struct {
	ID       string       `json:"id"`       // Tool call ID from OpenAI
	Type     string       `json:"type"`     // Always "function" for OpenAI
	Function FunctionCall `json:"function"` // Function details
}

// FunctionCall represents the function details within a tool call.
type FunctionCall struct {
	Name      string          `json:"name"`      // Function name (e.g., "query_workout_history")
	Arguments json.RawMessage `json:"arguments"` // JSON arguments as raw message
}

// ParseWorkoutHistoryParams parses the arguments as WorkoutHistoryParams.
func (fc *FunctionCall) ParseWorkoutHistoryParams() (*WorkoutHistoryParams, error) {
	if fc.Name != string(ToolTypeWorkoutHistory) {
		return nil, fmt.Errorf("function name %s is not a workout history function", fc.Name)
	}

	var params WorkoutHistoryParams
	if len(fc.Arguments) > 0 {
		if err := json.Unmarshal(fc.Arguments, &params); err != nil {
			return nil, fmt.Errorf("failed to parse workout history parameters: %w", err)
		}
	}
	params.Normalize()
	return &params, nil
}

// WorkoutLogEntry is one logged session returned by the history tool.
type WorkoutLogEntry struct {
	ID          int64     `json:"id"`
	MemberID    string    `json:"member_id"`
	PerformedAt time.Time `json:"performed_at"`
	Focus       string    `json:"focus,omitempty"`
	Duration    int       `json:"duration_minutes"`
	Intensity   string    `json:"intensity,omitempty"`
	Notes       string    `json:"notes,omitempty"`
}
