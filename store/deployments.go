// Package store provides durable persistence for deployment records. Each
// deployment identity owns exactly one row; the coordinator serializes all
// writes to it, so the store only needs get/put semantics. SQLite backs
// single-node deployments and PostgreSQL multi-node ones.
package store

import (
	"context"
	"errors"

	"github.com/daangn/websites-integration/deployment"
)

// ErrNotFound is returned by Get when no record exists for an identity.
// It distinguishes "never started" from a live IDLE record.
var ErrNotFound = errors.New("deployment record not found")

// Store persists one deployment.State per identity.
type Store interface {
	// Get retrieves the record for the given identity, or ErrNotFound.
	Get(ctx context.Context, id string) (deployment.State, error)

	// Put upserts the record for the given identity. The caller must have
	// already validated the transition; Put replaces the row wholesale.
	Put(ctx context.Context, id string, state deployment.State) error

	// Close releases the underlying database resources.
	Close() error
}
