// Package intent decides whether an utterance asks for a generated workout and
// extracts slot values from free text.
//
// All functions are pure: no state, deterministic, safe for concurrent use.
package intent

import (
	"regexp"
	"strings"
)

// MinUtteranceLength is the shortest input considered for classification.
const MinUtteranceLength = 3

// pattern is one named entry of an ordered keyword table.
type pattern struct {
	name string
	re   *regexp.Regexp
}

func p(name, expr string) pattern {
	return pattern{name: name, re: regexp.MustCompile(expr)}
}

// informationalPatterns veto generation: explanations, analysis, motivation.
var informationalPatterns = []pattern{
	p("explanation", `\b(why|explain|what is|what are|what's|how does|how do|how much|how many|is it (ok|okay|bad|safe|good)|should i|difference between)\b`),
	p("analysis", `\b(analy[sz]e|analysis|my progress|trend|stats|statistics|compare|review my|how am i doing)\b`),
	p("motivation", `\b(motivat\w*|inspire|encourage|feeling (down|unmotivated)|can't get myself)\b`),
	p("advice", `\b(tell me about|tips? (on|for)|benefits? of|advice on)\b`),
}

// overridePatterns win over the informational veto: an explicit generation
// verb together with the word "workout".
var overridePatterns = []pattern{
	p("generate_workout", `\b(generate|create|make|build|give|design|plan|write)\b.*\bworkouts?\b`),
}

// workoutRequestPatterns classify an utterance as a generation request.
var workoutRequestPatterns = []pattern{
	p("imperative", `\b(generate|create|make|build|give|design|plan|suggest|need|want|get)\b.*\b(workouts?|session|routine|training|exercises|wod)\b`),
	p("body_part_day", `\b(legs?|arms?|chest|back|shoulders?|core|abs|glutes?|upper body|lower body|full body|push|pull)\s+(day|workouts?|session|routine)\b`),
	p("duration_workout", `\b\d+\s*(m|min|mins|minutes?|h|hr|hrs|hours?)\b.*\b(workouts?|session|routine|training|run|hiit|circuit)\b`),
	p("quick_action", `^(quick workout|workout|hiit|let'?s (go|train|work ?out)|start (a )?workout|workout now|train me)\b`),
	p("workout_when", `\bworkouts? (for|today|now|tonight|this morning)\b`),
}

// Classify reports whether the utterance is a workout-generation request.
// Inputs shorter than MinUtteranceLength are never requests.
func Classify(utterance string) bool {
	text := normalize(utterance)
	if len(text) < MinUtteranceLength {
		return false
	}
	if _, ok := firstMatch(informationalPatterns, text); ok {
		_, override := firstMatch(overridePatterns, text)
		return override
	}
	_, ok := firstMatch(workoutRequestPatterns, text)
	return ok
}

// Explain returns the name of the table entry that decided the classification,
// for logging. It returns "" when nothing matched.
func Explain(utterance string) string {
	text := normalize(utterance)
	if len(text) < MinUtteranceLength {
		return ""
	}
	if name, ok := firstMatch(informationalPatterns, text); ok {
		if o, override := firstMatch(overridePatterns, text); override {
			return o
		}
		return name
	}
	name, _ := firstMatch(workoutRequestPatterns, text)
	return name
}

var resetPattern = regexp.MustCompile(`\b(new conversation|start over|start again|reset|never ?mind|forget it)\b`)

// IsReset reports whether the member asked to abandon the current dialogue.
func IsReset(utterance string) bool {
	return resetPattern.MatchString(normalize(utterance))
}

var correctionPattern = regexp.MustCompile(`\b(actually|instead|change (it|that)|make it|i meant|correction|rather)\b`)

// IsCorrection reports whether the utterance explicitly corrects earlier context.
func IsCorrection(utterance string) bool {
	return correctionPattern.MatchString(normalize(utterance))
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func firstMatch(table []pattern, text string) (string, bool) {
	for _, entry := range table {
		if entry.re.MatchString(text) {
			return entry.name, true
		}
	}
	return "", false
}
