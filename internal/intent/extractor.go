package intent

import (
	"math"
	"regexp"
	"strconv"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// labeled is one (pattern, label) entry of a first-match-wins table.
type labeled struct {
	label string
	re    *regexp.Regexp
}

func l(label, expr string) labeled {
	return labeled{label: label, re: regexp.MustCompile(expr)}
}

// Tables are scanned in declared order; the first matching entry wins. An
// utterance naming two categories ("chest and legs") resolves to whichever
// entry is declared first.
var (
	locationTable = []labeled{
		l(string(models.LocationGym), `\b(gym|fitness (center|centre)|weight room)\b`),
		l(string(models.LocationHome), `\b(at home|home|house|apartment|living room|garage)\b`),
		l(string(models.LocationBodyweight), `\b(bodyweight|body weight|no equipment|without equipment|calisthenics)\b`),
		l(string(models.LocationOutdoor), `\b(outdoors?|outside|park|trail|track|beach)\b`),
	}

	energyTable = []labeled{
		l(string(models.EnergyLow), `\b(tired|exhausted|low energy|drained|sleepy|fatigued|wiped|sluggish|not feeling (great|good))\b`),
		l(string(models.EnergyHigh), `\b(energi[sz]ed|pumped|high energy|fired up|full of energy|ready to go|feeling (great|good|strong))\b`),
	}

	focusTable = []labeled{
		l("legs", `\b(legs?|quads?|hamstrings?|glutes?|calf|calves|lower body|squats?)\b`),
		l("upper", `\b(upper body|upper)\b`),
		l("chest", `\b(chest|pecs?|bench press)\b`),
		l("back", `\b(back|lats?|rows)\b`),
		l("shoulders", `\b(shoulders?|delts?)\b`),
		l("arms", `\b(arms?|biceps?|triceps?)\b`),
		l("core", `\b(core|abs|abdominals?|obliques?)\b`),
		l("full_body", `\b(full[- ]body|total body|whole body)\b`),
		l("cardio", `\b(cardio|running|run|hiit|conditioning|endurance)\b`),
	}

	intensityTable = []labeled{
		l(string(models.IntensityLight), `\b(light|easy|gentle|recovery|low intensity)\b`),
		l(string(models.IntensityModerate), `\b(moderate|medium|normal)\b`),
		l(string(models.IntensityHard), `\b(hard|intense|challenging|tough|high intensity)\b`),
		l(string(models.IntensityMax), `\b(max|maximum|all[- ]out|beast mode|brutal)\b`),
	}
)

var (
	durationPattern = regexp.MustCompile(`\b(\d+(?:\.\d+)?)\s*-?\s*(minutes?|mins?|m|hours?|hrs?|h)\b`)
	halfHourPattern = regexp.MustCompile(`\bhalf (an )?hour\b`)
	anHourPattern   = regexp.MustCompile(`\b(an|one) hour\b`)
	hourUnitPattern = regexp.MustCompile(`^h`)
)

// Extract scans the utterance with every extractor independently. Fields with
// no match stay unset.
func Extract(utterance string) models.SlotContext {
	text := normalize(utterance)
	return models.SlotContext{
		Duration:  ExtractDuration(text),
		Location:  models.Location(ExtractLocation(text)),
		Energy:    models.Energy(ExtractEnergy(text)),
		Focus:     ExtractFocus(text),
		Intensity: models.Intensity(ExtractIntensity(text)),
	}
}

// MaxDurationMinutes caps extracted durations at one day.
const MaxDurationMinutes = 24 * 60


// ExtractDuration returns the session length in minutes, converting hours, or 0.
func ExtractDuration(utterance string) int {
	text := normalize(utterance)
	if m := durationPattern.FindStringSubmatch(text); m != nil {
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil || value <= 0 {
			return 0
		}
		if hourUnitPattern.MatchString(m[2]) {
			value *= 60
		}
		return int(math.Round(min(value, MaxDurationMinutes)))
	}
	if halfHourPattern.MatchString(text) {
		return 30
	}
	if anHourPattern.MatchString(text) {
		return 60
	}
	return 0
}

// ExtractLocation returns the first matching location class, or "".
func ExtractLocation(utterance string) string {
	return firstLabel(locationTable, normalize(utterance))
}

// ExtractEnergy returns "low" or "high", or "".
func ExtractEnergy(utterance string) string {
	return firstLabel(energyTable, normalize(utterance))
}

// ExtractFocus returns the first matching focus area, or "".
func ExtractFocus(utterance string) string {
	return firstLabel(focusTable, normalize(utterance))
}

// ExtractIntensity returns the first matching intensity, or "".
func ExtractIntensity(utterance string) string {
	return firstLabel(intensityTable, normalize(utterance))
}

func firstLabel(table []labeled, text string) string {
	for _, entry := range table {
		if entry.re.MatchString(text) {
			return entry.label
		}
	}
	return ""
}
