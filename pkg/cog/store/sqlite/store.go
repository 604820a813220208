// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlite provides the durable session log and run snapshot
// backend on an embedded SQLite database. Migrations are applied on open.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite" // sqlite driver

	"github.com/flowmind/flowmind/pkg/cog/store"
)

// Store implements store.Store on SQLite.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies
// pending migrations. Use ":memory:" for an ephemeral database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path == ":memory:" {
		// Shared cache keeps the schema visible across pooled connections.
		dsn = "file:flowmind?mode=memory&cache=shared"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent appends.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendStep assigns the next step number within the step's branch and
// inserts the step, all in one transaction.
func (s *Store) AppendStep(ctx context.Context, sessionID string, step store.Step) (int, error) {
	if sessionID == "" {
		return 0, fmt.Errorf("session ID must not be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable("beginning transaction", err)
	}
	defer rollback(tx)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id) VALUES (?) ON CONFLICT (id) DO NOTHING`,
		sessionID,
	); err != nil {
		return 0, unavailable("ensuring session", err)
	}

	if step.RevisesStep != 0 {
		ok, err := stepExists(ctx, tx,
			`SELECT 1 FROM steps WHERE session_id = ? AND branch_id = ? AND step_number = ?`,
			sessionID, step.BranchID, step.RevisesStep)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("revisesStep %d in branch %q: %w", step.RevisesStep, step.BranchID, store.ErrStepNotFound)
		}
	}
	if step.BranchFromStep != 0 {
		ok, err := stepExists(ctx, tx,
			`SELECT 1 FROM steps WHERE session_id = ? AND step_number = ?`,
			sessionID, step.BranchFromStep)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("branchFromStep %d: %w", step.BranchFromStep, store.ErrStepNotFound)
		}
	}

	var number int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(step_number), 0) + 1 FROM steps WHERE session_id = ? AND branch_id = ?`,
		sessionID, step.BranchID,
	).Scan(&number)
	if err != nil {
		return 0, unavailable("assigning step number", err)
	}

	payloadJSON, err := encodeJSON(step.Payload)
	if err != nil {
		return 0, fmt.Errorf("encoding payload: %w", err)
	}
	embeddingJSON, err := encodeJSON(step.Embedding)
	if err != nil {
		return 0, fmt.Errorf("encoding embedding: %w", err)
	}

	createdAt := step.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO steps (
			session_id, branch_id, step_number, kind, revises_step,
			branch_from_step, parent_step, payload, embedding, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID,
		step.BranchID,
		number,
		string(step.Kind),
		step.RevisesStep,
		step.BranchFromStep,
		step.ParentStep,
		payloadJSON,
		embeddingJSON,
		createdAt,
	)
	if err != nil {
		return 0, unavailable("inserting step", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, unavailable("committing transaction", err)
	}
	return number, nil
}

// ReadSession returns the session's steps in append order.
func (s *Store) ReadSession(ctx context.Context, sessionID string, opts store.ReadOptions) ([]store.Step, error) {
	query := `
		SELECT branch_id, step_number, kind, revises_step, branch_from_step,
			parent_step, payload, embedding, created_at
		FROM steps WHERE session_id = ?`
	args := []any{sessionID}
	if opts.FilterBranch {
		query += ` AND branch_id = ?`
		args = append(args, opts.BranchID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("querying steps", err)
	}
	defer rows.Close()

	var steps []store.Step
	for rows.Next() {
		step := store.Step{SessionID: sessionID}
		var kind string
		var payloadJSON, embeddingJSON sql.NullString
		if err := rows.Scan(
			&step.BranchID, &step.StepNumber, &kind, &step.RevisesStep,
			&step.BranchFromStep, &step.ParentStep, &payloadJSON, &embeddingJSON,
			&step.CreatedAt,
		); err != nil {
			return nil, unavailable("scanning step", err)
		}
		step.Kind = store.StepKind(kind)
		if payloadJSON.Valid && payloadJSON.String != "" {
			if err := json.Unmarshal([]byte(payloadJSON.String), &step.Payload); err != nil {
				return nil, fmt.Errorf("decoding payload: %w", err)
			}
		}
		if embeddingJSON.Valid && embeddingJSON.String != "" {
			if err := json.Unmarshal([]byte(embeddingJSON.String), &step.Embedding); err != nil {
				return nil, fmt.Errorf("decoding embedding: %w", err)
			}
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating steps", err)
	}

	if len(steps) == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %q: %w", sessionID, store.ErrSessionNotFound)
		}
		if err != nil {
			return nil, unavailable("checking session", err)
		}
	}
	return steps, nil
}

// SaveRunSnapshot upserts the run snapshot.
func (s *Store) SaveRunSnapshot(ctx context.Context, snapshot store.RunSnapshot) error {
	if snapshot.RunID == "" {
		return fmt.Errorf("run ID must not be empty")
	}
	updatedAt := snapshot.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_runs (run_id, status, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET
			status = excluded.status,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		snapshot.RunID, snapshot.Status, []byte(snapshot.Data), updatedAt,
	)
	if err != nil {
		return unavailable("saving run snapshot", err)
	}
	return nil
}

// LoadRun returns the latest snapshot for the run.
func (s *Store) LoadRun(ctx context.Context, runID string) (store.RunSnapshot, error) {
	snap := store.RunSnapshot{RunID: runID}
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT status, data, updated_at FROM workflow_runs WHERE run_id = ?`,
		runID,
	).Scan(&snap.Status, &data, &snap.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.RunSnapshot{}, fmt.Errorf("run %q: %w", runID, store.ErrRunNotFound)
	}
	if err != nil {
		return store.RunSnapshot{}, unavailable("loading run snapshot", err)
	}
	snap.Data = json.RawMessage(data)
	return snap, nil
}

// ListActiveRuns returns the IDs of runs with a non-terminal status.
func (s *Store) ListActiveRuns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id FROM workflow_runs WHERE status IN ('pending', 'running', 'cancelling')`)
	if err != nil {
		return nil, unavailable("listing active runs", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable("scanning run id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating runs", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteRun removes a run snapshot. Deleting an unknown run is a no-op.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM workflow_runs WHERE run_id = ?`, runID); err != nil {
		return unavailable("deleting run", err)
	}
	return nil
}

func stepExists(ctx context.Context, tx *sql.Tx, query string, args ...any) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("checking step", err)
	}
	return true, nil
}

func encodeJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// unavailable wraps backend failures so callers can classify them as
// transient via errors.Is(err, store.ErrUnavailable).
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, store.ErrUnavailable, err)
}

func rollback(tx *sql.Tx) {
	// Rollback after Commit returns ErrTxDone, which is fine.
	_ = tx.Rollback()
}
