package clarify

import (
	"fmt"
	"slices"
	"strings"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// Energy trend thresholds on the 1-10 check-in scale.
const (
	energyWindow        = 7
	lowEnergyThreshold  = 4.0
	highEnergyThreshold = 7.0
)

// maxFocusOptions caps the focus clarification.
const maxFocusOptions = 4

// Severity icons for limitation options.
const (
	iconSevere   = "alert-triangle"
	iconModerate = "alert-circle"
	iconInfo     = "info"
)

// muscleGroup is one focus option offered when any of its muscles is ready.
type muscleGroup struct {
	id      string
	label   string
	muscles []string
}

var muscleGroups = []muscleGroup{
	{"push", "Push (chest, shoulders, triceps)", []string{"chest", "shoulders", "triceps"}},
	{"pull", "Pull (back, biceps)", []string{"back", "lats", "biceps", "traps"}},
	{"legs", "Legs", []string{"quads", "hamstrings", "glutes", "calves", "legs"}},
	{"core", "Core", []string{"core", "abs", "obliques", "lower_back"}},
}

// Build returns the clarification turn for slot, personalized from profile.
// It is pure: neither input is modified.
func Build(slot models.SlotType, profile *models.MemberProfile) models.ClarificationData {
	switch slot {
	case models.SlotDuration:
		return buildDuration()
	case models.SlotEnergy:
		return buildEnergy(profile)
	case models.SlotLocation:
		return buildLocation(profile)
	case models.SlotLimitations:
		return buildLimitations(profile)
	case models.SlotFocus:
		return buildFocus(profile)
	case models.SlotIntensity:
		return buildIntensity()
	default:
		return models.ClarificationData{
			Question:    "Could you tell me a bit more about what you want?",
			AllowCustom: true,
			Context:     slot,
		}
	}
}

func buildDuration() models.ClarificationData {
	opts := make([]models.ClarificationOption, 0, 4)
	for _, minutes := range []int{15, 30, 45, 60} {
		v := fmt.Sprintf("%d", minutes)
		opts = append(opts, models.ClarificationOption{
			ID:    v,
			Label: v + " min",
			Value: v,
			Icon:  "clock",
		})
	}
	return models.ClarificationData{
		Question:    "How much time do you have for this workout?",
		Options:     opts,
		AllowCustom: true,
		Context:     models.SlotDuration,
	}
}

func buildEnergy(profile *models.MemberProfile) models.ClarificationData {
	question := "How's your energy today?"
	if avg, ok := profile.AverageEnergy(energyWindow); ok {
		switch {
		case avg < lowEnergyThreshold:
			question += " Your energy has been running a bit low lately."
		case avg > highEnergyThreshold:
			question += " You've been on fire lately!"
		}
	}
	return models.ClarificationData{
		Question: question,
		Options: []models.ClarificationOption{
			{ID: "low", Label: "Low", Value: string(models.EnergyLow), Icon: "battery-low", Description: "Keep it gentle"},
			{ID: "moderate", Label: "Moderate", Value: string(models.EnergyModerate), Icon: "battery-medium"},
			{ID: "high", Label: "High", Value: string(models.EnergyHigh), Icon: "battery-full", Description: "Ready to push"},
		},
		Context: models.SlotEnergy,
	}
}

func buildLocation(profile *models.MemberProfile) models.ClarificationData {
	gym, home := EquipmentClasses(profile)
	if profile == nil {
		gym, home = true, true
	}

	var opts []models.ClarificationOption
	if gym {
		opts = append(opts, models.ClarificationOption{ID: "gym", Label: "Gym", Value: string(models.LocationGym), Icon: "dumbbell"})
	}
	if home {
		opts = append(opts, models.ClarificationOption{ID: "home", Label: "Home", Value: string(models.LocationHome), Icon: "home"})
	}
	opts = append(opts,
		models.ClarificationOption{ID: "outdoor", Label: "Outdoor", Value: string(models.LocationOutdoor), Icon: "sun"},
		models.ClarificationOption{ID: "bodyweight", Label: "No equipment", Value: string(models.LocationBodyweight), Icon: "user"},
	)
	return models.ClarificationData{
		Question:    "Where are you training today?",
		Options:     opts,
		AllowCustom: true,
		Context:     models.SlotLocation,
	}
}

func buildLimitations(profile *models.MemberProfile) models.ClarificationData {
	active := profile.ActiveLimitations()
	opts := make([]models.ClarificationOption, 0, len(active)+1)
	for i, l := range active {
		id := l.ID
		if id == "" {
			id = fmt.Sprintf("limitation_%d", i+1)
		}
		label := l.Type
		if len(l.AffectedAreas) > 0 {
			label = fmt.Sprintf("%s (%s)", l.Type, strings.Join(l.AffectedAreas, ", "))
		}
		desc := string(l.Severity)
		if desc == "" {
			desc = l.Notes
		}
		opts = append(opts, models.ClarificationOption{
			ID:          id,
			Label:       label,
			Value:       l.Type,
			Icon:        severityIcon(l.Severity),
			Description: desc,
		})
	}
	opts = append(opts, models.ClarificationOption{
		ID:    models.NoneOptionValue,
		Label: "No issues today",
		Value: models.NoneOptionValue,
		Icon:  "check-circle",
	})

	question := "Anything I should work around today?"
	if len(active) > 0 {
		question = "Is any of this bothering you today?"
	}
	return models.ClarificationData{
		Question:    question,
		Options:     opts,
		AllowCustom: true,
		Context:     models.SlotLimitations,
	}
}

func severityIcon(s models.Severity) string {
	switch s {
	case models.SeveritySevere:
		return iconSevere
	case models.SeverityModerate:
		return iconModerate
	default:
		return iconInfo
	}
}

func buildFocus(profile *models.MemberProfile) models.ClarificationData {
	var recovery map[string]models.MuscleRecovery
	if profile != nil {
		recovery = profile.MuscleRecovery
	}

	ready := map[string]bool{}
	var recovering []string
	for muscle, status := range recovery {
		name := strings.ToLower(strings.TrimSpace(muscle))
		if status.ReadyToTrain {
			ready[name] = true
		} else {
			recovering = append(recovering, name)
		}
	}
	slices.Sort(recovering)

	var opts []models.ClarificationOption
	for _, g := range muscleGroups {
		if slices.ContainsFunc(g.muscles, func(m string) bool { return ready[m] }) {
			opts = append(opts, models.ClarificationOption{ID: g.id, Label: g.label, Value: g.id})
		}
	}
	opts = append(opts,
		models.ClarificationOption{ID: "full_body", Label: "Full body", Value: "full_body"},
		models.ClarificationOption{ID: "cardio", Label: "Cardio", Value: "cardio", Icon: "heart"},
	)
	if len(opts) > maxFocusOptions {
		opts = opts[:maxFocusOptions]
	}

	question := "What would you like to focus on?"
	if n := len(recovering); n >= 1 && n <= 3 {
		question += fmt.Sprintf(" Your %s %s still recovering.", joinNames(recovering), verb(n))
	}
	return models.ClarificationData{
		Question:    question,
		Options:     opts,
		AllowCustom: true,
		Context:     models.SlotFocus,
	}
}

func buildIntensity() models.ClarificationData {
	return models.ClarificationData{
		Question: "How hard do you want to go?",
		Options: []models.ClarificationOption{
			{ID: "light", Label: "Light", Value: string(models.IntensityLight)},
			{ID: "moderate", Label: "Moderate", Value: string(models.IntensityModerate)},
			{ID: "hard", Label: "Hard", Value: string(models.IntensityHard)},
			{ID: "max", Label: "Max effort", Value: string(models.IntensityMax), Icon: "flame"},
		},
		Context: models.SlotIntensity,
	}
}

func joinNames(names []string) string {
	readable := make([]string, len(names))
	for i, n := range names {
		readable[i] = strings.ReplaceAll(n, "_", " ")
	}
	switch len(readable) {
	case 1:
		return readable[0]
	case 2:
		return readable[0] + " and " + readable[1]
	default:
		return strings.Join(readable[:len(readable)-1], ", ") + " and " + readable[len(readable)-1]
	}
}

func verb(n int) string {
	if n == 1 {
		return "is"
	}
	return "are"
}
