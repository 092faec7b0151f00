// Package store provides storage backends for CoachPipe.
//
// This file implements an SQLite-backed store for conversation states,
// member profiles and the workout log.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/CoachPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: creating store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore.NewSQLiteStore: DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: failed to open connection", "error", err)
		return nil, err
	}
	// SQLite serializes writers; a single connection avoids "database is locked".
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: migrations applied", "dir", dir)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetState(ctx context.Context, conversationID string) (models.ConversationRecord, error) {
	rec := models.ConversationRecord{ConversationID: conversationID}
	var stateJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT member_id, state_json, created_at, updated_at FROM conversation_states WHERE conversation_id = ?`,
		conversationID).Scan(&rec.MemberID, &stateJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore.GetState: query failed", "error", err, "conversationID", conversationID)
		return rec, fmt.Errorf("failed to get conversation state %s: %w", conversationID, err)
	}
	if rec.State, err = decodeState(stateJSON); err != nil {
		return rec, err
	}
	return rec, nil
}

func (s *SQLiteStore) PutState(ctx context.Context, rec models.ConversationRecord) error {
	stateJSON, err := encodeState(rec.State)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversation_states (conversation_id, member_id, state_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			member_id = excluded.member_id,
			state_json = excluded.state_json,
			updated_at = excluded.updated_at`,
		rec.ConversationID, rec.MemberID, stateJSON, now, now)
	if err != nil {
		slog.Error("SQLiteStore.PutState: upsert failed", "error", err, "conversationID", rec.ConversationID)
		return fmt.Errorf("failed to save conversation state %s: %w", rec.ConversationID, err)
	}
	slog.Debug("SQLiteStore.PutState: saved", "conversationID", rec.ConversationID, "memberID", rec.MemberID)
	return nil
}

func (s *SQLiteStore) DeleteState(ctx context.Context, conversationID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation_states WHERE conversation_id = ?`, conversationID); err != nil {
		slog.Error("SQLiteStore.DeleteState: delete failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to delete conversation state %s: %w", conversationID, err)
	}
	return nil
}

func (s *SQLiteStore) GetProfile(ctx context.Context, memberID string) (*models.MemberProfile, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT profile_json FROM member_profiles WHERE member_id = ?`, memberID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetProfile: query failed", "error", err, "memberID", memberID)
		return nil, fmt.Errorf("failed to get profile for %s: %w", memberID, err)
	}
	return decodeProfile(raw)
}

func (s *SQLiteStore) PutProfile(ctx context.Context, profile *models.MemberProfile) error {
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
		INSERT INTO member_profiles (member_id, profile_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(member_id) DO UPDATE SET profile_json = excluded.profile_json, updated_at = excluded.updated_at`,
		p.MemberID, raw, p.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore.PutProfile: upsert failed", "error", err, "memberID", p.MemberID)
		return fmt.Errorf("failed to save profile for %s: %w", p.MemberID, err)
	}
	return nil
}

func (s *SQLiteStore) AddWorkout(ctx context.Context, entry models.WorkoutLogEntry) (int64, error) {
	if entry.MemberID == "" {
		return 0, models.ErrEmptyMemberID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO workout_log (member_id, performed_at, focus, duration_minutes, intensity, notes)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.MemberID, entry.PerformedAt.UTC(), nilIfEmpty(entry.Focus), entry.Duration, nilIfEmpty(entry.Intensity), nilIfEmpty(entry.Notes))
	if err != nil {
		slog.Error("SQLiteStore.AddWorkout: insert failed", "error", err, "memberID", entry.MemberID)
		return 0, fmt.Errorf("failed to insert workout for %s: %w", entry.MemberID, err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) ListWorkouts(ctx context.Context, memberID string, since time.Time, focus string, limit int) ([]models.WorkoutLogEntry, error) {
	if limit <= 0 {
		limit = models.MaxHistoryRows
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, member_id, performed_at, focus, duration_minutes, intensity, notes
		FROM workout_log
		WHERE member_id = ? AND performed_at >= ? AND (? = '' OR LOWER(focus) = LOWER(?))
		ORDER BY performed_at DESC, id DESC
		LIMIT ?`,
		memberID, since.UTC(), focus, focus, limit)
	if err != nil {
		slog.Error("SQLiteStore.ListWorkouts: query failed", "error", err, "memberID", memberID)
		return nil, fmt.Errorf("failed to query workouts for %s: %w", memberID, err)
	}
	defer rows.Close()
	return scanWorkouts(rows)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("SQLiteStore.Close: closing database connection")
	if err := s.db.Close(); err != nil {
		slog.Error("SQLiteStore.Close: failed to close database", "error", err)
		return err
	}
	return nil
}
