package knowledge

import (
	"slices"
	"strings"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// StaticInstructions is the fixed prefix of every system prompt. It never
// contains per-request data so providers can cache it.
const StaticInstructions = `You are CoachPipe, a personal fitness coach.

## Tools
- fetch_member_context: returns the member's equipment, active limitations, recent energy and muscle recovery. Call it before programming a workout if the conversation does not already include this information.
- query_workout_history: read-only query over the member's logged sessions. Arguments: days (1-90, default 14), focus (optional), limit (max 50). Use it to avoid repeating yesterday's focus and to answer progress questions.
Call each tool at most once per answer unless its arguments change.

## Guidelines
- Respect every active limitation. Never program loaded movements for an area marked severe.
- Fit the whole session, warm-up and cool-down included, inside the requested duration.
- Scale volume down when energy is low and avoid muscles that are still recovering.
- Keep answers short and practical. Do not give medical diagnoses.
- When you produce a workout, end your answer with a fenced json block:
  {"title": string, "duration_minutes": int, "blocks": [{"name": string, "exercises": [{"name": string, "sets": int, "reps": string, "rest_seconds": int}]}]}
`

const (
	domainsTitle  = "Domains"
	entitiesTitle = "Entities"
	metricsTitle  = "Metrics"
)

func knowledgeHeader(intent models.Intent) string {
	return "\n## Knowledge\nIntent: " + string(intent) + "\n"
}

func sectionHeader(title string) string {
	return "### " + title + "\n"
}

func renderFragment(id string, f models.Fragment) string {
	var b strings.Builder
	b.WriteString("- ")
	b.WriteString(id)
	b.WriteString(": ")
	b.WriteString(strings.TrimSpace(f.Description))
	b.WriteString("\n")
	for _, p := range f.Patterns {
		b.WriteString("  pattern: ")
		b.WriteString(p)
		b.WriteString("\n")
	}
	return b.String()
}

// RenderKnowledge renders the dynamic knowledge payload. An empty context
// renders as "". Keys are sorted so equal contexts render identically.
func RenderKnowledge(sc models.SemanticContext) string {
	if sc.IsEmpty() {
		return ""
	}
	var b strings.Builder
	intent := models.Intent("general")
	if sc.Intent != nil {
		intent = *sc.Intent
	}
	b.WriteString(knowledgeHeader(intent))
	for _, section := range []struct {
		title     string
		fragments map[string]models.Fragment
	}{
		{domainsTitle, sc.Domains},
		{entitiesTitle, sc.Entities},
		{metricsTitle, sc.Metrics},
	} {
		if len(section.fragments) == 0 {
			continue
		}
		b.WriteString(sectionHeader(section.title))
		keys := make([]string, 0, len(section.fragments))
		for k := range section.fragments {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			b.WriteString(renderFragment(k, section.fragments[k]))
		}
	}
	return b.String()
}

// RenderSystemPrompt places StaticInstructions first and all per-request
// content after it: the knowledge payload, then any extra dynamic sections in
// the order given.
func RenderSystemPrompt(sc models.SemanticContext, dynamic ...string) string {
	var b strings.Builder
	b.WriteString(StaticInstructions)
	b.WriteString(RenderKnowledge(sc))
	for _, d := range dynamic {
		if strings.TrimSpace(d) == "" {
			continue
		}
		b.WriteString("\n")
		b.WriteString(d)
		if !strings.HasSuffix(d, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}
