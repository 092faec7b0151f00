package clarify

import (
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/BTreeMap/CoachPipe/internal/intent"
	"github.com/BTreeMap/CoachPipe/internal/models"
)

// skipPattern matches a declining reply: one skip phrase, optionally followed
// by filler such as "no, I'm fine" or "nope, all good thanks".
var skipPattern = regexp.MustCompile(`^(skip|pass|none|nope|nothing|n/a|not sure|don'?t know|idk|whatever|doesn'?t matter|no( (pain|issues|injuries|problems|limitations))?)` +
	`([\s,.!;:-]+(i'?m|i am|all|feeling|thanks|thank you|not today|today|really|at all|fine|good|ok(ay)?|great|for now|please))*[\s.!]*$`)

var (
	// Bare level words only count as the reply to an energy question.
	lowEnergyAnswer  = regexp.MustCompile(`\b(low|lowish|rough|meh|not great)\b`)
	highEnergyAnswer = regexp.MustCompile(`\b(high|great|amazing|strong)\b`)

	// moderateEnergyPattern covers the middle answer the energy table leaves out.
	moderateEnergyPattern = regexp.MustCompile(`\b(moderate|okay|ok|fine|average|so-so|normal|medium)\b`)
)

// ApplyAnswer interprets reply as the answer to the slot the state is waiting
// on. It returns an updated copy and whether the reply resolved that slot.
// A skip resolves the slot without a value. The input state is not modified.
func ApplyAnswer(state models.ConversationState, profile *models.MemberProfile, reply string) (models.ConversationState, bool) {
	slot, ok := state.AwaitingSlot()
	if !ok {
		return state, false
	}
	next := state.Clone()
	text := strings.ToLower(strings.TrimSpace(reply))
	bare := strings.TrimRight(text, ".!?,;: ")
	if bare == "" {
		return state, false
	}

	// Options first, so "No equipment" is a location and not a skip.
	data := Build(slot, profile)
	for _, opt := range data.Options {
		if bare != strings.ToLower(opt.ID) && bare != strings.ToLower(opt.Label) && bare != strings.ToLower(opt.Value) {
			continue
		}
		if opt.Value != models.NoneOptionValue && !setSlot(&next.Context, slot, opt.Value) {
			return state, false
		}
		next.MarkAnswered(slot)
		return next, true
	}

	if skipPattern.MatchString(bare) {
		next.MarkAnswered(slot)
		return next, true
	}

	if value := extractSlot(slot, text); value != "" && setSlot(&next.Context, slot, value) {
		next.MarkAnswered(slot)
		return next, true
	}

	if data.AllowCustom && acceptsFreeText(slot) {
		setSlot(&next.Context, slot, strings.TrimSpace(reply))
		next.MarkAnswered(slot)
		return next, true
	}
	return state, false
}

// MergeContext fills unset fields of current from extracted. A set field is
// only overwritten when the utterance is an explicit correction.
func MergeContext(current, extracted models.SlotContext, correction bool) models.SlotContext {
	out := current.Clone()
	if extracted.Duration > 0 && (out.Duration == 0 || correction) {
		out.Duration = extracted.Duration
	}
	if extracted.Location != "" && (out.Location == "" || correction) {
		out.Location = extracted.Location
	}
	if extracted.Energy != "" && (out.Energy == "" || correction) {
		out.Energy = extracted.Energy
	}
	if len(extracted.Limitations) > 0 && (len(out.Limitations) == 0 || correction) {
		out.Limitations = slices.Clone(extracted.Limitations)
	}
	if extracted.Focus != "" && (out.Focus == "" || correction) {
		out.Focus = extracted.Focus
	}
	if extracted.Intensity != "" && (out.Intensity == "" || correction) {
		out.Intensity = extracted.Intensity
	}
	return out
}

func extractSlot(slot models.SlotType, text string) string {
	switch slot {
	case models.SlotDuration:
		if d := intent.ExtractDuration(text); d > 0 {
			return strconv.Itoa(d)
		}
	case models.SlotLocation:
		return intent.ExtractLocation(text)
	case models.SlotEnergy:
		if e := intent.ExtractEnergy(text); e != "" {
			return e
		}
		switch {
		case lowEnergyAnswer.MatchString(text):
			return string(models.EnergyLow)
		case highEnergyAnswer.MatchString(text):
			return string(models.EnergyHigh)
		}
		if moderateEnergyPattern.MatchString(text) {
			return string(models.EnergyModerate)
		}
	case models.SlotFocus:
		return intent.ExtractFocus(text)
	case models.SlotIntensity:
		return intent.ExtractIntensity(text)
	}
	return ""
}

func acceptsFreeText(slot models.SlotType) bool {
	return slot == models.SlotLimitations || slot == models.SlotFocus
}

// setSlot writes value into the slot, rejecting values outside the slot's enum.
func setSlot(ctx *models.SlotContext, slot models.SlotType, value string) bool {
	switch slot {
	case models.SlotDuration:
		n, err := strconv.Atoi(value)
		if err != nil {
			n = intent.ExtractDuration(value)
		}
		if n <= 0 {
			return false
		}
		ctx.Duration = n
	case models.SlotEnergy:
		switch e := models.Energy(value); e {
		case models.EnergyLow, models.EnergyModerate, models.EnergyHigh:
			ctx.Energy = e
		default:
			return false
		}
	case models.SlotLocation:
		switch l := models.Location(value); l {
		case models.LocationGym, models.LocationHome, models.LocationBodyweight, models.LocationOutdoor:
			ctx.Location = l
		default:
			return false
		}
	case models.SlotLimitations:
		if value == "" {
			return false
		}
		if !slices.Contains(ctx.Limitations, value) {
			ctx.Limitations = append(ctx.Limitations, value)
		}
	case models.SlotFocus:
		if value == "" {
			return false
		}
		ctx.Focus = value
	case models.SlotIntensity:
		switch i := models.Intensity(value); i {
		case models.IntensityLight, models.IntensityModerate, models.IntensityHard, models.IntensityMax:
			ctx.Intensity = i
		default:
			return false
		}
	default:
		return false
	}
	return true
}
