package messaging

import (
	"strings"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

const (
	customReplyHint = "Or reply in your own words."
	pickOptionHint  = "Reply with one of the options above."
)

// RenderResponse turns a dispatcher response into a plain-text chat message.
// Clarification options are listed by label, which is also what the
// clarification flow accepts as a reply.
func RenderResponse(resp models.Response) string {
	switch resp.Kind {
	case models.ResponseClarification:
		if resp.Clarification == nil {
			return ""
		}
		return renderClarification(resp.Clarification.Clarification)
	case models.ResponseGeneration, models.ResponsePassthrough:
		if resp.Result == nil {
			return ""
		}
		return renderResult(resp.Result)
	case models.ResponseQuotaExceeded:
		return resp.Message
	}
	return ""
}

func renderClarification(c models.ClarificationData) string {
	var b strings.Builder
	b.WriteString(c.Question)
	if len(c.Options) > 0 {
		b.WriteString("\n")
		for _, opt := range c.Options {
			b.WriteString("\n• ")
			b.WriteString(opt.Label)
			if opt.Description != "" {
				b.WriteString(" (")
				b.WriteString(opt.Description)
				b.WriteString(")")
			}
		}
		b.WriteString("\n\n")
		if c.AllowCustom {
			b.WriteString(customReplyHint)
		} else {
			b.WriteString(pickOptionHint)
		}
	}
	return b.String()
}

// renderResult returns the reply text only. Suggested actions are button
// hints for app clients; chat channels have no handler for them.
func renderResult(r *models.GenerationResult) string {
	return strings.TrimSpace(r.Text)
}
