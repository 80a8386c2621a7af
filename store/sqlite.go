package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/daangn/websites-integration/deployment"

	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial.sql
var sqliteMigration string

// SQLiteStore implements Store using an SQLite database. It is suitable
// for single-node deployments and local development.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store. The dsn parameter is
// the path to the SQLite database file. Use ":memory:" for an in-memory
// database (useful for testing).
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	// Append pragmas to the DSN so they apply to every connection in the pool.
	if dsn != ":memory:" {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Limit to one open connection to serialize writes and avoid SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

// migrate runs the initial schema migration.
func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(sqliteMigration)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get retrieves the deployment record for an identity.
func (s *SQLiteStore) Get(ctx context.Context, id string) (deployment.State, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT type, workflow_id, ref, commit_sha, run_id, status, artifact_name
		FROM deployments
		WHERE id = ?
	`, id)

	return scanDeployment(row)
}

// Put upserts the deployment record for an identity.
func (s *SQLiteStore) Put(ctx context.Context, id string, state deployment.State) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deployments (id, type, workflow_id, ref, commit_sha, run_id, status, artifact_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			type = excluded.type,
			workflow_id = excluded.workflow_id,
			ref = excluded.ref,
			commit_sha = excluded.commit_sha,
			run_id = excluded.run_id,
			status = excluded.status,
			artifact_name = excluded.artifact_name,
			updated_at = excluded.updated_at
	`, id, string(state.Type), state.WorkflowID, state.Ref, state.CommitSHA,
		state.RunID, string(state.Status), state.ArtifactName, now, now)

	return err
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDeployment(s scanner) (deployment.State, error) {
	var state deployment.State
	var typ, status string

	if err := s.Scan(&typ, &state.WorkflowID, &state.Ref, &state.CommitSHA,
		&state.RunID, &status, &state.ArtifactName); err != nil {
		if err == sql.ErrNoRows {
			return deployment.State{}, ErrNotFound
		}
		return deployment.State{}, err
	}

	state.Type = deployment.Type(typ)
	state.Status = deployment.Status(status)
	return state, nil
}
