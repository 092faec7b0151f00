package clarify

import (
	"strings"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// equipmentClass maps an equipment keyword to the location it implies.
type equipmentClass struct {
	keyword  string
	location models.Location
}

// equipmentKeywords classifies equipment whose profile entry carries no
// explicit location. Checked in order; the first keyword contained in the
// lower-cased name wins.
var equipmentKeywords = []equipmentClass{
	{"barbell", models.LocationGym},
	{"squat rack", models.LocationGym},
	{"power rack", models.LocationGym},
	{"cable", models.LocationGym},
	{"leg press", models.LocationGym},
	{"smith", models.LocationGym},
	{"machine", models.LocationGym},
	{"bench press", models.LocationGym},
	{"treadmill", models.LocationGym},
	{"dumbbell", models.LocationHome},
	{"kettlebell", models.LocationHome},
	{"resistance band", models.LocationHome},
	{"pull-up bar", models.LocationHome},
	{"pull up bar", models.LocationHome},
	{"yoga mat", models.LocationHome},
	{"jump rope", models.LocationHome},
}

// classifyEquipment returns the location class of one item, or "".
func classifyEquipment(item models.EquipmentItem) models.Location {
	if item.Location != "" {
		return item.Location
	}
	name := strings.ToLower(item.Name)
	for _, c := range equipmentKeywords {
		if strings.Contains(name, c.keyword) {
			return c.location
		}
	}
	return ""
}

// EquipmentClasses reports whether the profile lists gym-class and home-class
// equipment. A nil profile has neither.
func EquipmentClasses(profile *models.MemberProfile) (gym, home bool) {
	if profile == nil {
		return false, false
	}
	for _, item := range profile.Equipment {
		switch classifyEquipment(item) {
		case models.LocationGym:
			gym = true
		case models.LocationHome:
			home = true
		}
	}
	return gym, home
}
