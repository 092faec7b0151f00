// Package models defines clarification turn structures.
package models

import "errors"

// Validation errors for clarification turns.
var (
	ErrInvalidClarification     = errors.New("clarification has no options and does not allow custom input")
	ErrUnknownClarificationSlot = errors.New("clarification context is not a known slot")
	ErrMissingNoneOption        = errors.New("limitations clarification must offer a none option")
)

// NoneOptionValue marks the option that resolves a slot without a value.
const NoneOptionValue = "none"

// ClarificationOption is one selectable answer.
type ClarificationOption struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Value       string `json:"value"`
	Icon        string `json:"icon,omitempty"`
	Description string `json:"description,omitempty"`
}

// ClarificationData specifies one clarification turn.
type ClarificationData struct {
	Question    string                `json:"question"`
	Options     []ClarificationOption `json:"options"`
	AllowCustom bool                  `json:"allow_custom"`
	Context     SlotType              `json:"context"`
}

// Validate checks the structural invariants of a clarification turn.
func (c ClarificationData) Validate() error {
	if !IsKnownSlot(c.Context) {
		return ErrUnknownClarificationSlot
	}
	if len(c.Options) == 0 && !c.AllowCustom {
		return ErrInvalidClarification
	}
	if c.Context == SlotLimitations {
		for _, o := range c.Options {
			if o.Value == NoneOptionValue {
				return nil
			}
		}
		return ErrMissingNoneOption
	}
	return nil
}

// ClarificationTurn is returned instead of a workout while slots remain unresolved.
type ClarificationTurn struct {
	ConversationID string            `json:"conversation_id"`
	Clarification  ClarificationData `json:"clarification"`
	State          ConversationState `json:"state"`
}
