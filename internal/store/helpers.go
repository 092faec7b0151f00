package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func encodeState(state models.ConversationState) (string, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to marshal conversation state: %w", err)
	}
	return string(data), nil
}

func decodeState(raw string) (models.ConversationState, error) {
	var state models.ConversationState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return state, fmt.Errorf("failed to unmarshal conversation state: %w", err)
	}
	return state, nil
}

func encodeProfile(p *models.MemberProfile) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal member profile: %w", err)
	}
	return string(data), nil
}

func decodeProfile(raw string) (*models.MemberProfile, error) {
	var p models.MemberProfile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal member profile: %w", err)
	}
	return &p, nil
}

// scanWorkouts reads workout_log rows selected in column order
// id, member_id, performed_at, focus, duration_minutes, intensity, notes.
func scanWorkouts(rows *sql.Rows) ([]models.WorkoutLogEntry, error) {
	var out []models.WorkoutLogEntry
	for rows.Next() {
		var w models.WorkoutLogEntry
		var focus, intensity, notes sql.NullString
		if err := rows.Scan(&w.ID, &w.MemberID, &w.PerformedAt, &focus, &w.Duration, &intensity, &notes); err != nil {
			return nil, fmt.Errorf("scan workout failed: %w", err)
		}
		w.PerformedAt = w.PerformedAt.UTC()
		w.Focus = focus.String
		w.Intensity = intensity.String
		w.Notes = notes.String
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workout rows: %w", err)
	}
	return out, nil
}
