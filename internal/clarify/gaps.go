// Package clarify decides which context slots are still missing before a
// workout can be generated and builds the clarification turns that ask for them.
package clarify

import "github.com/BTreeMap/CoachPipe/internal/models"

// profilelessSlots are the only slots requested when no profile is available.
var profilelessSlots = []models.SlotType{models.SlotDuration, models.SlotEnergy}

// prioritySlots is the evaluation order when a profile is present. Intensity
// is never queued; focus is listed so the order stays explicit, but
// suppressed below.
var prioritySlots = []models.SlotType{
	models.SlotDuration,
	models.SlotEnergy,
	models.SlotLocation,
	models.SlotLimitations,
	models.SlotFocus,
}

// Missing returns the ordered list of slots still to ask. An empty result
// means the dialogue is ready to generate. It never mutates its inputs.
func Missing(profile *models.MemberProfile, state models.ConversationState) []models.SlotType {
	candidates := prioritySlots
	if profile == nil {
		candidates = profilelessSlots
	}

	missing := []models.SlotType{}
	for _, slot := range candidates {
		if state.Context.Has(slot) || state.IsAnswered(slot) {
			continue
		}
		if !profileRequires(profile, slot) {
			continue
		}
		missing = append(missing, slot)
	}
	return missing
}

// profileRequires applies the profile-aware suppression rules.
func profileRequires(profile *models.MemberProfile, slot models.SlotType) bool {
	if profile == nil {
		return true
	}
	switch slot {
	case models.SlotLocation:
		gym, home := EquipmentClasses(profile)
		return gym && home
	case models.SlotLimitations:
		return len(profile.ActiveLimitations()) > 0
	case models.SlotFocus:
		// Focus is left for the model to infer.
		return false
	default:
		return true
	}
}
