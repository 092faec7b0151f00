package flow

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

var workoutBlockPattern = regexp.MustCompile("(?s)```json\\s*\\n(.*?)```")

// defaultSuggestedActions are offered whenever a workout payload is present.
var defaultSuggestedActions = []models.SuggestedAction{
	models.ActionStart,
	models.ActionSave,
	models.ActionModify,
	models.ActionRegenerate,
}

// extractWorkout lifts the last fenced json block out of text. It returns the
// remaining prose and the payload, or text unchanged and nil when no block
// holds valid JSON.
func extractWorkout(text string) (string, json.RawMessage) {
	matches := workoutBlockPattern.FindAllStringSubmatchIndex(text, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		body := strings.TrimSpace(text[m[2]:m[3]])
		if body == "" || !json.Valid([]byte(body)) {
			continue
		}
		prose := strings.TrimSpace(text[:m[0]] + text[m[1]:])
		return prose, json.RawMessage(body)
	}
	return text, nil
}
