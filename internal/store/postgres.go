// Package store provides storage backends for CoachPipe.
//
// This file implements a PostgreSQL-backed store with the same schema as the
// SQLite store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/CoachPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore.NewPostgresStore: DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("PostgresStore.NewPostgresStore: failed to open connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("PostgresStore.NewPostgresStore: ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("PostgresStore.NewPostgresStore: failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgresStore.NewPostgresStore: migrations applied")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetState(ctx context.Context, conversationID string) (models.ConversationRecord, error) {
	rec := models.ConversationRecord{ConversationID: conversationID}
	var stateJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT member_id, state_json, created_at, updated_at FROM conversation_states WHERE conversation_id = $1`,
		conversationID).Scan(&rec.MemberID, &stateJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	if err != nil {
		slog.Error("PostgresStore.GetState: query failed", "error", err, "conversationID", conversationID)
		return rec, fmt.Errorf("failed to get conversation state %s: %w", conversationID, err)
	}
	if rec.State, err = decodeState(stateJSON); err != nil {
		return rec, err
	}
	return rec, nil
}

func (s *PostgresStore) PutState(ctx context.Context, rec models.ConversationRecord) error {
	stateJSON, err := encodeState(rec.State)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversation_states (conversation_id, member_id, state_json, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (conversation_id) DO UPDATE SET
			member_id = EXCLUDED.member_id,
			state_json = EXCLUDED.state_json,
			updated_at = NOW()`,
		rec.ConversationID, rec.MemberID, stateJSON)
	if err != nil {
		slog.Error("PostgresStore.PutState: upsert failed", "error", err, "conversationID", rec.ConversationID)
		return fmt.Errorf("failed to save conversation state %s: %w", rec.ConversationID, err)
	}
	slog.Debug("PostgresStore.PutState: saved", "conversationID", rec.ConversationID, "memberID", rec.MemberID)
	return nil
}

func (s *PostgresStore) DeleteState(ctx context.Context, conversationID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation_states WHERE conversation_id = $1`, conversationID); err != nil {
		slog.Error("PostgresStore.DeleteState: delete failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to delete conversation state %s: %w", conversationID, err)
	}
	return nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, memberID string) (*models.MemberProfile, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT profile_json FROM member_profiles WHERE member_id = $1`, memberID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetProfile: query failed", "error", err, "memberID", memberID)
		return nil, fmt.Errorf("failed to get profile for %s: %w", memberID, err)
	}
	return decodeProfile(raw)
}

func (s *PostgresStore) PutProfile(ctx context.Context, profile *models.MemberProfile) error {
	if profile == nil || profile.MemberID == "" {
		return models.ErrEmptyMemberID
	}
	p := *profile
	p.UpdatedAt = time.Now().UTC()
	raw, err := encodeProfile(&p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO member_profiles (member_id, profile_json, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (member_id) DO UPDATE SET profile_json = EXCLUDED.profile_json, updated_at = EXCLUDED.updated_at`,
		p.MemberID, raw, p.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore.PutProfile: upsert failed", "error", err, "memberID", p.MemberID)
		return fmt.Errorf("failed to save profile for %s: %w", p.MemberID, err)
	}
	return nil
}

func (s *PostgresStore) AddWorkout(ctx context.Context, entry models.WorkoutLogEntry) (int64, error) {
	if entry.MemberID == "" {
		return 0, models.ErrEmptyMemberID
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO workout_log (member_id, performed_at, focus, duration_minutes, intensity, notes)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		entry.MemberID, entry.PerformedAt.UTC(), nilIfEmpty(entry.Focus), entry.Duration, nilIfEmpty(entry.Intensity), nilIfEmpty(entry.Notes)).Scan(&id)
	if err != nil {
		slog.Error("PostgresStore.AddWorkout: insert failed", "error", err, "memberID", entry.MemberID)
		return 0, fmt.Errorf("failed to insert workout for %s: %w", entry.MemberID, err)
	}
	return id, nil
}

func (s *PostgresStore) ListWorkouts(ctx context.Context, memberID string, since time.Time, focus string, limit int) ([]models.WorkoutLogEntry, error) {
	if limit <= 0 {
		limit = models.MaxHistoryRows
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, member_id, performed_at, focus, duration_minutes, intensity, notes
		FROM workout_log
		WHERE member_id = $1 AND performed_at >= $2 AND ($3::text = '' OR LOWER(focus) = LOWER($3::text))
		ORDER BY performed_at DESC, id DESC
		LIMIT $4`,
		memberID, since.UTC(), focus, limit)
	if err != nil {
		slog.Error("PostgresStore.ListWorkouts: query failed", "error", err, "memberID", memberID)
		return nil, fmt.Errorf("failed to query workouts for %s: %w", memberID, err)
	}
	defer rows.Close()
	return scanWorkouts(rows)
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("PostgresStore.Close: closing database connection")
	if err := s.db.Close(); err != nil {
		slog.Error("PostgresStore.Close: failed to close database", "error", err)
		return err
	}
	return nil
}
