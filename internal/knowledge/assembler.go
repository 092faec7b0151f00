package knowledge

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// RecentTurns is how many user turns are considered for intent classification.
const RecentTurns = 3

// DefaultBudget is the knowledge budget in estimated tokens.
const DefaultBudget = 1200

// Assembler selects knowledge fragments for a request under a token budget.
// It holds no per-request state and is safe for concurrent use.
type Assembler struct {
	catalog  *Catalog
	budget   int
	matchers [][]*regexp.Regexp
}

// Opts holds configuration options for the assembler.
type Opts struct {
	Budget int
}

// Option defines a configuration option for the assembler.
type Option func(*Opts)

// WithBudget sets the knowledge budget in estimated tokens. Zero disables knowledge.
func WithBudget(tokens int) Option {
	return func(o *Opts) {
		o.Budget = tokens
	}
}

// NewAssembler creates an assembler over catalog.
func NewAssembler(catalog *Catalog, opts ...Option) *Assembler {
	cfg := Opts{Budget: DefaultBudget}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Budget < 0 {
		cfg.Budget = 0
	}
	a := &Assembler{catalog: catalog, budget: cfg.Budget}
	if catalog != nil {
		for _, entry := range catalog.Intents {
			var ms []*regexp.Regexp
			for _, kw := range entry.Keywords {
				ms = append(ms, regexp.MustCompile(`\b`+regexp.QuoteMeta(kw)+`\b`))
			}
			a.matchers = append(a.matchers, ms)
		}
	}
	return a
}

// Budget returns the configured token budget.
func (a *Assembler) Budget() int {
	return a.budget
}

// ClassifyIntent scores text against the taxonomy. The intent with the most
// keyword hits wins; ties go to the intent declared first. Returns nil when
// nothing matches.
func (a *Assembler) ClassifyIntent(text string) *models.Intent {
	if a.catalog == nil {
		return nil
	}
	text = strings.ToLower(text)
	best, bestScore := -1, 0
	for i, ms := range a.matchers {
		score := 0
		for _, m := range ms {
			if m.MatchString(text) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return nil
	}
	intent := a.catalog.Intents[best].Name
	return &intent
}

// Assemble classifies the last RecentTurns user messages and greedily adds
// the intent's domains, then entities, then metrics while the rendered
// payload stays within budget. Fragments are whole or absent.
func (a *Assembler) Assemble(recentUserMessages []string) models.SemanticContext {
	sc := models.NewSemanticContext()
	if len(recentUserMessages) > RecentTurns {
		recentUserMessages = recentUserMessages[len(recentUserMessages)-RecentTurns:]
	}
	sc.Intent = a.ClassifyIntent(strings.Join(recentUserMessages, "\n"))
	if sc.Intent == nil || a.budget <= 0 {
		return sc
	}

	var entry IntentEntry
	for _, e := range a.catalog.Intents {
		if e.Name == *sc.Intent {
			entry = e
			break
		}
	}

	used := EstimateTokens(knowledgeHeader(*sc.Intent))
	if used > a.budget {
		return sc
	}

	type category struct {
		title  string
		ids    []string
		source map[string]models.Fragment
		target map[string]models.Fragment
	}
	categories := []category{
		{domainsTitle, entry.Domains, a.catalog.Domains, sc.Domains},
		{entitiesTitle, entry.Entities, a.catalog.Entities, sc.Entities},
		{metricsTitle, entry.Metrics, a.catalog.Metrics, sc.Metrics},
	}

	dropped := 0
	for _, c := range categories {
		for _, id := range c.ids {
			candidate := renderFragment(id, c.source[id])
			if len(c.target) == 0 {
				candidate = sectionHeader(c.title) + candidate
			}
			if WouldExceedBudget(used, candidate, a.budget) {
				dropped++
				continue
			}
			c.target[id] = c.source[id]
			used += EstimateTokens(candidate)
		}
	}
	if dropped > 0 {
		slog.Debug("Assembler.Assemble: fragments dropped over budget", "intent", *sc.Intent, "dropped", dropped, "budget", a.budget, "used", used)
	}
	return sc
}
