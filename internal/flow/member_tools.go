package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"github.com/BTreeMap/CoachPipe/internal/clarify"
	"github.com/BTreeMap/CoachPipe/internal/models"
)

// MemberContextTool returns a compact summary of the member profile.
type MemberContextTool struct {
	profiles ProfileSupplier
}

// NewMemberContextTool creates the fetch_member_context tool.
func NewMemberContextTool(profiles ProfileSupplier) *MemberContextTool {
	return &MemberContextTool{profiles: profiles}
}

func (t *MemberContextTool) Name() string { return string(models.ToolTypeMemberContext) }

func (t *MemberContextTool) Definition() openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        t.Name(),
			Description: openai.String("Fetch the member's equipment, active limitations, recent energy, muscle recovery and goals"),
			Parameters: shared.FunctionParameters{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}

type memberSummary struct {
	HasProfile    bool                `json:"has_profile"`
	Name          string              `json:"name,omitempty"`
	Equipment     []string            `json:"equipment,omitempty"`
	GymEquipment  bool                `json:"gym_equipment"`
	HomeEquipment bool                `json:"home_equipment"`
	Limitations   []models.Limitation `json:"active_limitations,omitempty"`
	AverageEnergy *float64            `json:"average_energy,omitempty"`
	ReadyMuscles  []string            `json:"ready_muscles,omitempty"`
	Recovering    []string            `json:"recovering_muscles,omitempty"`
	Goals         []string            `json:"goals,omitempty"`
}

func (t *MemberContextTool) Execute(ctx context.Context, memberID string, _ json.RawMessage) (string, error) {
	if t.profiles == nil {
		return marshalToolResult(memberSummary{})
	}
	profile, err := t.profiles.GetProfile(ctx, memberID)
	if err != nil {
		return "", fmt.Errorf("failed to load member profile: %w", err)
	}
	if profile == nil {
		return marshalToolResult(memberSummary{})
	}

	summary := memberSummary{
		HasProfile:  true,
		Name:        profile.DisplayName,
		Limitations: profile.ActiveLimitations(),
		Goals:       profile.Goals,
	}
	for _, e := range profile.Equipment {
		summary.Equipment = append(summary.Equipment, e.Name)
	}
	summary.GymEquipment, summary.HomeEquipment = clarify.EquipmentClasses(profile)
	if avg, ok := profile.AverageEnergy(7); ok {
		summary.AverageEnergy = &avg
	}
	for muscle, status := range profile.MuscleRecovery {
		if status.ReadyToTrain {
			summary.ReadyMuscles = append(summary.ReadyMuscles, muscle)
		} else {
			summary.Recovering = append(summary.Recovering, muscle)
		}
	}
	slices.Sort(summary.ReadyMuscles)
	slices.Sort(summary.Recovering)
	return marshalToolResult(summary)
}

// WorkoutHistoryTool runs read-only queries over the member's workout log.
type WorkoutHistoryTool struct {
	history WorkoutHistory
	now     func() time.Time
}

// NewWorkoutHistoryTool creates the query_workout_history tool.
func NewWorkoutHistoryTool(history WorkoutHistory) *WorkoutHistoryTool {
	return &WorkoutHistoryTool{history: history, now: time.Now}
}

func (t *WorkoutHistoryTool) Name() string { return string(models.ToolTypeWorkoutHistory) }

func (t *WorkoutHistoryTool) Definition() openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        t.Name(),
			Description: openai.String("Read the member's logged workouts, newest first"),
			Parameters: shared.FunctionParameters{
				"type": "object",
				"properties": map[string]interface{}{
					"days": map[string]interface{}{
						"type":        "integer",
						"minimum":     1,
						"maximum":     models.MaxHistoryDays,
						"description": fmt.Sprintf("Look-back window in days (default %d)", models.DefaultHistoryDays),
					},
					"focus": map[string]interface{}{
						"type":        "string",
						"description": "Only return sessions with this focus, e.g. 'legs'",
					},
					"limit": map[string]interface{}{
						"type":        "integer",
						"minimum":     1,
						"maximum":     models.MaxHistoryRows,
						"description": "Maximum number of sessions returned",
					},
				},
			},
		},
	}
}

type historyResult struct {
	Days     int                      `json:"days"`
	Focus    string                   `json:"focus,omitempty"`
	Count    int                      `json:"count"`
	Workouts []models.WorkoutLogEntry `json:"workouts"`
}

func (t *WorkoutHistoryTool) Execute(ctx context.Context, memberID string, args json.RawMessage) (string, error) {
	call := models.FunctionCall{Name: t.Name(), Arguments: args}
	params, err := call.ParseWorkoutHistoryParams()
	if err != nil {
		return "", err
	}
	if t.history == nil {
		return marshalToolResult(historyResult{Days: params.Days, Focus: params.Focus, Workouts: []models.WorkoutLogEntry{}})
	}
	since := t.now().UTC().AddDate(0, 0, -params.Days)
	workouts, err := t.history.ListWorkouts(ctx, memberID, since, params.Focus, params.Limit)
	if err != nil {
		return "", fmt.Errorf("failed to query workout history: %w", err)
	}
	if workouts == nil {
		workouts = []models.WorkoutLogEntry{}
	}
	return marshalToolResult(historyResult{Days: params.Days, Focus: params.Focus, Count: len(workouts), Workouts: workouts})
}

func marshalToolResult(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tool result: %w", err)
	}
	return string(data), nil
}
