// Package models defines the member profile snapshot consumed by CoachPipe.
package models

import "time"

// EquipmentItem is one piece of equipment the member has access to.
// Location is optional; when empty the equipment class is inferred from Name.
type EquipmentItem struct {
	Name     string   `json:"name"`
	Location Location `json:"location,omitempty"`
}

// Severity grades a physical limitation.
type Severity string

const (
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// Limitation is an injury or restriction recorded on the member profile.
type Limitation struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"`
	AffectedAreas []string `json:"affected_areas,omitempty"`
	Severity      Severity `json:"severity,omitempty"`
	Notes         string   `json:"notes,omitempty"`
	Active        bool     `json:"active"`
}

// EnergyEntry is one mood/energy check-in, scored 1 (drained) to 10 (energized).
type EnergyEntry struct {
	Score      int       `json:"score"`
	RecordedAt time.Time `json:"recorded_at"`
}

// MuscleRecovery is the recovery status of one muscle group.
type MuscleRecovery struct {
	ReadyToTrain    bool `json:"ready_to_train"`
	RecoveryPercent int  `json:"recovery_percent,omitempty"`
}

// MemberProfile is a read-only snapshot supplied by the member-record system.
// CoachPipe never mutates it.
type MemberProfile struct {
	MemberID       string                    `json:"member_id"`
	DisplayName    string                    `json:"display_name,omitempty"`
	Equipment      []EquipmentItem           `json:"equipment,omitempty"`
	Limitations    []Limitation              `json:"limitations,omitempty"`
	EnergyHistory  []EnergyEntry             `json:"energy_history,omitempty"`
	MuscleRecovery map[string]MuscleRecovery `json:"muscle_recovery,omitempty"`
	Goals          []string                  `json:"goals,omitempty"`
	UpdatedAt      time.Time                 `json:"updated_at,omitempty"`
}

// ActiveLimitations returns the limitations currently flagged active.
func (p *MemberProfile) ActiveLimitations() []Limitation {
	if p == nil {
		return nil
	}
	var out []Limitation
	for _, l := range p.Limitations {
		if l.Active {
			out = append(out, l)
		}
	}
	return out
}

// AverageEnergy returns the mean of the last n energy scores and whether any exist.
func (p *MemberProfile) AverageEnergy(n int) (float64, bool) {
	if p == nil || len(p.EnergyHistory) == 0 || n <= 0 {
		return 0, false
	}
	entries := p.EnergyHistory
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	total := 0
	for _, e := range entries {
		total += e.Score
	}
	return float64(total) / float64(len(entries)), true
}
