// Package models defines slot-filling structures shared by the CoachPipe components.
package models

import (
	"slices"
	"strconv"
	"strings"
)

// SlotType names one piece of context required before a workout can be generated.
type SlotType string

const (
	// SlotDuration is the session length in minutes.
	SlotDuration SlotType = "duration"
	// SlotEnergy is the member's self-reported energy for today.
	SlotEnergy SlotType = "energy"
	// SlotLocation is where the session takes place.
	SlotLocation SlotType = "location"
	// SlotLimitations lists injuries or restrictions to respect today.
	SlotLimitations SlotType = "limitations"
	// SlotFocus is the target body area or training style.
	SlotFocus SlotType = "focus"
	// SlotIntensity is the requested effort level.
	SlotIntensity SlotType = "intensity"
)

// KnownSlots is the full slot vocabulary in priority order.
var KnownSlots = []SlotType{SlotDuration, SlotEnergy, SlotLocation, SlotLimitations, SlotFocus, SlotIntensity}

// IsKnownSlot reports whether s belongs to the slot vocabulary.
func IsKnownSlot(s SlotType) bool {
	return slices.Contains(KnownSlots, s)
}

// Location classifies where a workout happens.
type Location string

const (
	LocationGym        Location = "gym"
	LocationHome       Location = "home"
	LocationBodyweight Location = "bodyweight"
	LocationOutdoor    Location = "outdoor"
)

// Energy is the member's energy level.
type Energy string

const (
	EnergyLow      Energy = "low"
	EnergyModerate Energy = "moderate"
	EnergyHigh     Energy = "high"
)

// Intensity is the requested effort level.
type Intensity string

const (
	IntensityLight    Intensity = "light"
	IntensityModerate Intensity = "moderate"
	IntensityHard     Intensity = "hard"
	IntensityMax      Intensity = "max"
)

// SlotContext holds the accumulated slot values of a generation dialogue.
// Zero values mean "unset"; a non-nil empty Limitations slice means the member
// explicitly reported no limitations.
type SlotContext struct {
	Duration    int       `json:"duration,omitempty"`
	Location    Location  `json:"location,omitempty"`
	Energy      Energy    `json:"energy,omitempty"`
	Limitations []string  `json:"limitations,omitempty"`
	Focus       string    `json:"focus,omitempty"`
	Intensity   Intensity `json:"intensity,omitempty"`
}

// Has reports whether the slot carries a value.
func (c SlotContext) Has(slot SlotType) bool {
	switch slot {
	case SlotDuration:
		return c.Duration > 0
	case SlotLocation:
		return c.Location != ""
	case SlotEnergy:
		return c.Energy != ""
	case SlotLimitations:
		return len(c.Limitations) > 0
	case SlotFocus:
		return c.Focus != ""
	case SlotIntensity:
		return c.Intensity != ""
	default:
		return false
	}
}

// IsEmpty reports whether no slot is set.
func (c SlotContext) IsEmpty() bool {
	for _, s := range KnownSlots {
		if c.Has(s) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (c SlotContext) Clone() SlotContext {
	out := c
	if c.Limitations != nil {
		out.Limitations = append([]string(nil), c.Limitations...)
	}
	return out
}

// Summary renders the set slots as a compact "key: value" list for prompts.
func (c SlotContext) Summary() string {
	var parts []string
	if c.Duration > 0 {
		parts = append(parts, "duration: "+strconv.Itoa(c.Duration)+" min")
	}
	if c.Energy != "" {
		parts = append(parts, "energy: "+string(c.Energy))
	}
	if c.Location != "" {
		parts = append(parts, "location: "+string(c.Location))
	}
	if len(c.Limitations) > 0 {
		parts = append(parts, "limitations: "+strings.Join(c.Limitations, ", "))
	}
	if c.Focus != "" {
		parts = append(parts, "focus: "+c.Focus)
	}
	if c.Intensity != "" {
		parts = append(parts, "intensity: "+string(c.Intensity))
	}
	return strings.Join(parts, "; ")
}
