// Package models defines conversation state structures for CoachPipe dialogues.
package models

import (
	"slices"
	"time"
)

// ConversationState is the slot-filling memory of one generation dialogue.
// It is passed by value between turns; callers persist the returned copy.
type ConversationState struct {
	Active            bool        `json:"active"`
	Context           SlotContext `json:"context"`
	PendingQuestions  []SlotType  `json:"pending_questions,omitempty"`
	AnsweredQuestions []SlotType  `json:"answered_questions,omitempty"`
}

// NewConversationState returns an empty, active dialogue state.
func NewConversationState() ConversationState {
	return ConversationState{Active: true}
}

// Clone returns a deep copy so callers never share slices across turns.
func (s ConversationState) Clone() ConversationState {
	out := s
	out.Context = s.Context.Clone()
	out.PendingQuestions = slices.Clone(s.PendingQuestions)
	out.AnsweredQuestions = slices.Clone(s.AnsweredQuestions)
	return out
}

// IsAnswered reports whether the slot has been resolved, including an explicit skip.
func (s ConversationState) IsAnswered(slot SlotType) bool {
	return slices.Contains(s.AnsweredQuestions, slot)
}

// AwaitingSlot returns the slot asked by the last clarification turn, if any.
func (s ConversationState) AwaitingSlot() (SlotType, bool) {
	if !s.Active || len(s.PendingQuestions) == 0 {
		return "", false
	}
	return s.PendingQuestions[0], true
}

// MarkAnswered moves slot from pending to answered. Unknown slots are ignored.
func (s *ConversationState) MarkAnswered(slot SlotType) {
	if !IsKnownSlot(slot) {
		return
	}
	s.PendingQuestions = slices.DeleteFunc(s.PendingQuestions, func(p SlotType) bool { return p == slot })
	if !slices.Contains(s.AnsweredQuestions, slot) {
		s.AnsweredQuestions = append(s.AnsweredQuestions, slot)
	}
}

// SetPending replaces the pending queue, dropping unknown and already answered slots.
func (s *ConversationState) SetPending(slots []SlotType) {
	pending := make([]SlotType, 0, len(slots))
	for _, slot := range slots {
		if !IsKnownSlot(slot) || s.IsAnswered(slot) || slices.Contains(pending, slot) {
			continue
		}
		pending = append(pending, slot)
	}
	s.PendingQuestions = pending
}

// ConversationRecord is the persisted form of a ConversationState.
type ConversationRecord struct {
	ConversationID string            `json:"conversation_id"`
	MemberID       string            `json:"member_id"`
	State          ConversationState `json:"state"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}
