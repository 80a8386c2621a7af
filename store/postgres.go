package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/daangn/websites-integration/deployment"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgreSQL schema adapted from the SQLite migration.
const postgresMigration = `
CREATE TABLE IF NOT EXISTS deployments (
    id            TEXT PRIMARY KEY,
    type          TEXT NOT NULL DEFAULT 'IDLE',
    workflow_id   TEXT NOT NULL DEFAULT '',
    ref           TEXT NOT NULL DEFAULT '',
    commit_sha    TEXT NOT NULL DEFAULT '',
    run_id        TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL DEFAULT '',
    artifact_name TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// PostgresStore implements Store using PostgreSQL via the pgx stdlib
// driver. Use it when the service runs with more than one replica.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed store and ensures the
// schema exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	store := &PostgresStore{db: db}
	if _, err := db.Exec(postgresMigration); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Get retrieves the deployment record for an identity.
func (s *PostgresStore) Get(ctx context.Context, id string) (deployment.State, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT type, workflow_id, ref, commit_sha, run_id, status, artifact_name
		FROM deployments
		WHERE id = $1
	`, id)

	return scanDeployment(row)
}

// Put upserts the deployment record for an identity.
func (s *PostgresStore) Put(ctx context.Context, id string, state deployment.State) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deployments (id, type, workflow_id, ref, commit_sha, run_id, status, artifact_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
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
		state.RunID, string(state.Status), state.ArtifactName, now)

	return err
}
