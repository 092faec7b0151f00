package clarify

import (
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/google/go-cmp/cmp"
)

func optionValues(data models.ClarificationData) []string {
	out := make([]string, 0, len(data.Options))
	for _, o := range data.Options {
		out = append(out, o.Value)
	}
	return out
}

func TestBuild_AllSlotsValid(t *testing.T) {
	for _, profile := range []*models.MemberProfile{nil, kneeProfile()} {
		for _, slot := range models.KnownSlots {
			data := Build(slot, profile)
			if err := data.Validate(); err != nil {
				t.Errorf("Build(%q).Validate() = %v", slot, err)
			}
			if data.Context != slot {
				t.Errorf("Build(%q).Context = %q", slot, data.Context)
			}
		}
	}
}

func TestBuild_Duration(t *testing.T) {
	data := Build(models.SlotDuration, nil)
	if diff := cmp.Diff([]string{"15", "30", "45", "60"}, optionValues(data)); diff != "" {
		t.Errorf("duration options mismatch (-want +got):\n%s", diff)
	}
	if !data.AllowCustom {
		t.Error("duration should allow custom input")
	}
}

func energyProfile(scores ...int) *models.MemberProfile {
	p := &models.MemberProfile{}
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	for i, s := range scores {
		p.EnergyHistory = append(p.EnergyHistory, models.EnergyEntry{Score: s, RecordedAt: now.AddDate(0, 0, i)})
	}
	return p
}

func TestBuild_EnergySuffix(t *testing.T) {
	tests := []struct {
		name    string
		profile *models.MemberProfile
		suffix  string
	}{
		{"no profile", nil, ""},
		{"low trend", energyProfile(3, 2, 3), "running a bit low lately"},
		{"high trend", energyProfile(8, 9, 9), "on fire lately"},
		{"middle", energyProfile(5, 6), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := Build(models.SlotEnergy, tt.profile)
			if tt.suffix == "" {
				if data.Question != "How's your energy today?" {
					t.Errorf("unexpected suffix: %q", data.Question)
				}
				return
			}
			if !strings.Contains(data.Question, tt.suffix) {
				t.Errorf("question %q missing %q", data.Question, tt.suffix)
			}
		})
	}
}

func TestBuild_LocationHomeOnly(t *testing.T) {
	homeOnly := &models.MemberProfile{Equipment: []models.EquipmentItem{{Name: "Resistance bands"}}}
	data := Build(models.SlotLocation, homeOnly)
	want := []string{"home", "outdoor", "bodyweight"}
	if diff := cmp.Diff(want, optionValues(data)); diff != "" {
		t.Errorf("location options mismatch (-want +got):\n%s", diff)
	}
	if !data.AllowCustom {
		t.Error("location should allow custom input")
	}
}

func TestBuild_LocationBoth(t *testing.T) {
	data := Build(models.SlotLocation, kneeProfile())
	want := []string{"gym", "home", "outdoor", "bodyweight"}
	if diff := cmp.Diff(want, optionValues(data)); diff != "" {
		t.Errorf("location options mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_Limitations(t *testing.T) {
	profile := kneeProfile()
	profile.Limitations = append(profile.Limitations,
		models.Limitation{ID: "lim-3", Type: "back strain", Severity: models.SeveritySevere, Active: true},
		models.Limitation{Type: "wrist", Notes: "avoid heavy pressing", Active: true},
	)
	data := Build(models.SlotLimitations, profile)

	want := []models.ClarificationOption{
		{ID: "lim-1", Label: "knee pain (left knee)", Value: "knee pain", Icon: "alert-circle", Description: "moderate"},
		{ID: "lim-3", Label: "back strain", Value: "back strain", Icon: "alert-triangle", Description: "severe"},
		{ID: "limitation_3", Label: "wrist", Value: "wrist", Icon: "info", Description: "avoid heavy pressing"},
		{ID: "none", Label: "No issues today", Value: "none", Icon: "check-circle"},
	}
	if diff := cmp.Diff(want, data.Options); diff != "" {
		t.Errorf("limitation options mismatch (-want +got):\n%s", diff)
	}

	// No active limitations still yields the none option.
	empty := Build(models.SlotLimitations, nil)
	if diff := cmp.Diff([]string{"none"}, optionValues(empty)); diff != "" {
		t.Errorf("empty limitation options mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_Focus(t *testing.T) {
	profile := &models.MemberProfile{MuscleRecovery: map[string]models.MuscleRecovery{
		"Chest":  {ReadyToTrain: false, RecoveryPercent: 40},
		"quads":  {ReadyToTrain: true, RecoveryPercent: 100},
		"abs":    {ReadyToTrain: true},
		"biceps": {ReadyToTrain: false},
	}}
	data := Build(models.SlotFocus, profile)

	want := []string{"legs", "core", "full_body", "cardio"}
	if diff := cmp.Diff(want, optionValues(data)); diff != "" {
		t.Errorf("focus options mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(data.Question, "biceps and chest are still recovering") {
		t.Errorf("question %q does not name recovering muscles", data.Question)
	}
}

func TestBuild_FocusCapped(t *testing.T) {
	profile := &models.MemberProfile{MuscleRecovery: map[string]models.MuscleRecovery{
		"chest":      {ReadyToTrain: true},
		"back":       {ReadyToTrain: true},
		"quads":      {ReadyToTrain: true},
		"core":       {ReadyToTrain: true},
		"calves":     {ReadyToTrain: false},
		"hamstrings": {ReadyToTrain: false},
		"glutes":     {ReadyToTrain: false},
		"triceps":    {ReadyToTrain: false},
	}}
	data := Build(models.SlotFocus, profile)
	if len(data.Options) != maxFocusOptions {
		t.Errorf("got %d focus options, want %d", len(data.Options), maxFocusOptions)
	}
	if strings.Contains(data.Question, "recovering") {
		t.Errorf("four recovering muscles should not be named: %q", data.Question)
	}
}

func TestBuild_FocusNoProfile(t *testing.T) {
	data := Build(models.SlotFocus, nil)
	if diff := cmp.Diff([]string{"full_body", "cardio"}, optionValues(data)); diff != "" {
		t.Errorf("focus options mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_Intensity(t *testing.T) {
	data := Build(models.SlotIntensity, nil)
	if diff := cmp.Diff([]string{"light", "moderate", "hard", "max"}, optionValues(data)); diff != "" {
		t.Errorf("intensity options mismatch (-want +got):\n%s", diff)
	}
	if data.AllowCustom {
		t.Error("intensity should not allow custom input")
	}
}

func TestBuild_DoesNotMutateProfile(t *testing.T) {
	profile := kneeProfile()
	before := *profile
	before.Limitations = append([]models.Limitation(nil), profile.Limitations...)
	for _, slot := range models.KnownSlots {
		Build(slot, profile)
	}
	if diff := cmp.Diff(before, *profile); diff != "" {
		t.Errorf("Build mutated profile (-before +after):\n%s", diff)
	}
}
