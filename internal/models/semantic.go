package models

// Intent is a conversational topic from the knowledge taxonomy.
type Intent string

const (
	IntentWorkoutLogging    Intent = "workout_logging"
	IntentWorkoutPlanning   Intent = "workout_planning"
	IntentProgressAnalytics Intent = "progress_analytics"
	IntentGoalManagement    Intent = "goal_management"
)

// Fragment is one knowledge definition injected into the model context.
type Fragment struct {
	Description string   `json:"description" yaml:"description"`
	Patterns    []string `json:"patterns,omitempty" yaml:"patterns,omitempty"`
}

// SemanticContext is the knowledge payload assembled for one request.
// It is built fresh per request and never persisted.
type SemanticContext struct {
	Intent   *Intent             `json:"intent,omitempty"`
	Domains  map[string]Fragment `json:"domains"`
	Entities map[string]Fragment `json:"entities"`
	Metrics  map[string]Fragment `json:"metrics"`
}

// NewSemanticContext returns a context with empty, non-nil maps.
func NewSemanticContext() SemanticContext {
	return SemanticContext{
		Domains:  map[string]Fragment{},
		Entities: map[string]Fragment{},
		Metrics:  map[string]Fragment{},
	}
}

// IsEmpty reports whether no fragment was selected.
func (s SemanticContext) IsEmpty() bool {
	return len(s.Domains) == 0 && len(s.Entities) == 0 && len(s.Metrics) == 0
}
