// Package store provides storage backends for CoachPipe.
//
// It persists conversation states, member profile snapshots and the workout
// log. The in-memory store serves tests and single-process runs; SQLite and
// PostgreSQL back durable deployments, and Redis can hold conversation states
// with a TTL.
package store

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// ErrNotFound is returned when a conversation state does not exist.
var ErrNotFound = errors.New("not found")

// StateStore persists conversation states by conversation id. Writes are last-write-wins.
type StateStore interface {
	GetState(ctx context.Context, conversationID string) (models.ConversationRecord, error)
	PutState(ctx context.Context, rec models.ConversationRecord) error
	DeleteState(ctx context.Context, conversationID string) error
}

// ProfileStore persists member profile snapshots. GetProfile returns nil, nil
// for an unknown member.
type ProfileStore interface {
	GetProfile(ctx context.Context, memberID string) (*models.MemberProfile, error)
	PutProfile(ctx context.Context, profile *models.MemberProfile) error
}

// WorkoutLog is the append-only log of performed sessions.
type WorkoutLog interface {
	AddWorkout(ctx context.Context, entry models.WorkoutLogEntry) (int64, error)
	ListWorkouts(ctx context.Context, memberID string, since time.Time, focus string, limit int) ([]models.WorkoutLogEntry, error)
}

// Store combines every persistence concern.
type Store interface {
	StateStore
	ProfileStore
	WorkoutLog
	Close() error
}

// InMemoryStore is a mutex-guarded in-memory Store.
type InMemoryStore struct {
	mu       sync.RWMutex
	states   map[string]models.ConversationRecord
	profiles map[string]*models.MemberProfile
	workouts []models.WorkoutLogEntry
	nextID   int64
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		states:   make(map[string]models.ConversationRecord),
		profiles: make(map[string]*models.MemberProfile),
	}
}

func (s *InMemoryStore) GetState(ctx context.Context, conversationID string) (models.ConversationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.states[conversationID]
	if !ok {
		return models.ConversationRecord{}, ErrNotFound
	}
	rec.State = rec.State.Clone()
	return rec, nil
}

func (s *InMemoryStore) PutState(ctx context.Context, rec models.ConversationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := s.states[rec.ConversationID]; ok {
		rec.CreatedAt = existing.CreatedAt
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.State = rec.State.Clone()
	s.states[rec.ConversationID] = rec
	return nil
}

func (s *InMemoryStore) DeleteState(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, conversationID)
	return nil
}

func (s *InMemoryStore) GetProfile(ctx context.Context, memberID string) (*models.MemberProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[memberID]
	if !ok {
		return nil, nil
	}
	return cloneProfile(p), nil
}

func (s *InMemoryStore) PutProfile(ctx context.Context, profile *models.MemberProfile) error {
	if profile == nil || profile.MemberID == "" {
		return models.ErrEmptyMemberID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := cloneProfile(profile)
	p.UpdatedAt = time.Now().UTC()
	s.profiles[p.MemberID] = p
	return nil
}

func (s *InMemoryStore) AddWorkout(ctx context.Context, entry models.WorkoutLogEntry) (int64, error) {
	if entry.MemberID == "" {
		return 0, models.ErrEmptyMemberID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	entry.ID = s.nextID
	entry.PerformedAt = entry.PerformedAt.UTC()
	s.workouts = append(s.workouts, entry)
	return entry.ID, nil
}

// ListWorkouts returns the member's sessions since the given time, newest first.
func (s *InMemoryStore) ListWorkouts(ctx context.Context, memberID string, since time.Time, focus string, limit int) ([]models.WorkoutLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.WorkoutLogEntry
	for _, w := range s.workouts {
		if w.MemberID != memberID || w.PerformedAt.Before(since) {
			continue
		}
		if focus != "" && !strings.EqualFold(w.Focus, focus) {
			continue
		}
		out = append(out, w)
	}
	slices.SortStableFunc(out, func(a, b models.WorkoutLogEntry) int {
		return b.PerformedAt.Compare(a.PerformedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

func cloneProfile(p *models.MemberProfile) *models.MemberProfile {
	out := *p
	out.Equipment = slices.Clone(p.Equipment)
	out.Limitations = slices.Clone(p.Limitations)
	for i := range out.Limitations {
		out.Limitations[i].AffectedAreas = slices.Clone(p.Limitations[i].AffectedAreas)
	}
	out.EnergyHistory = slices.Clone(p.EnergyHistory)
	out.MuscleRecovery = maps.Clone(p.MuscleRecovery)
	out.Goals = slices.Clone(p.Goals)
	return &out
}
