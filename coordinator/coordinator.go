// Package coordinator owns the lifecycle of deployment records. Each
// deployment identity is served by exactly one Coordinator, which applies
// state machine transitions one at a time and persists the result before
// responding. This is the single-writer guarantee that prevents duplicate
// workflow triggering and lost concurrent outcome reports.
package coordinator

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/daangn/websites-integration/deployment"
	"github.com/daangn/websites-integration/store"
)

// StartParams identifies the workflow template and source revision of a
// new deployment.
type StartParams struct {
	WorkflowID string
	Ref        string
	CommitSHA  string
}

// StartResult is returned from a successful start. The URLs are what the
// caller polls and fetches for the rest of the deployment's life.
type StartResult struct {
	State       deployment.State
	CheckURL    string
	ArtifactURL string
}

// OutcomeParams carries a terminal report from the external workflow
// runner.
type OutcomeParams struct {
	RunID        string
	Status       deployment.Status
	ArtifactName string
}

// Coordinator serializes all operations for one deployment identity over
// its durable record. A record missing from the store is treated as IDLE;
// every mutation persists the next state before returning, so callers
// observe either the prior state or the fully updated one, never partial.
type Coordinator struct {
	id    string
	base  *url.URL
	store store.Store

	mu sync.Mutex
}

// ID returns the deployment identity this coordinator owns.
func (c *Coordinator) ID() string {
	return c.id
}

// load reads the current record, defaulting to the initial state when the
// identity has never been written. Callers must hold c.mu.
func (c *Coordinator) load(ctx context.Context) (deployment.State, error) {
	state, err := c.store.Get(ctx, c.id)
	if err == store.ErrNotFound {
		return deployment.Initial(), nil
	}
	if err != nil {
		return deployment.State{}, fmt.Errorf("load deployment %s: %w", c.id, err)
	}
	return state, nil
}

// Start transitions the record from IDLE to IN_PROGRESS and returns the
// URLs the caller will poll and fetch.
func (c *Coordinator) Start(ctx context.Context, p StartParams) (StartResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, err := c.load(ctx)
	if err != nil {
		return StartResult{}, err
	}

	next, err := cur.Start(p.WorkflowID, p.Ref, p.CommitSHA)
	if err != nil {
		return StartResult{}, err
	}

	if err := c.store.Put(ctx, c.id, next); err != nil {
		return StartResult{}, fmt.Errorf("persist deployment %s: %w", c.id, err)
	}

	return StartResult{
		State:       next,
		CheckURL:    c.endpoint("check"),
		ArtifactURL: c.endpoint("download-artifact"),
	}, nil
}

// ReportRun records the workflow run identifier assigned by the external
// system while the deployment is in progress.
func (c *Coordinator) ReportRun(ctx context.Context, runID string) (deployment.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, err := c.load(ctx)
	if err != nil {
		return deployment.State{}, err
	}

	next, err := cur.WithRun(runID)
	if err != nil {
		return deployment.State{}, err
	}

	if err := c.store.Put(ctx, c.id, next); err != nil {
		return deployment.State{}, fmt.Errorf("persist deployment %s: %w", c.id, err)
	}
	return next, nil
}

// ReportOutcome transitions the record from IN_PROGRESS to DONE with the
// reported terminal status.
func (c *Coordinator) ReportOutcome(ctx context.Context, p OutcomeParams) (deployment.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, err := c.load(ctx)
	if err != nil {
		return deployment.State{}, err
	}

	next, err := cur.Complete(p.RunID, p.Status, p.ArtifactName)
	if err != nil {
		return deployment.State{}, err
	}

	if err := c.store.Put(ctx, c.id, next); err != nil {
		return deployment.State{}, fmt.Errorf("persist deployment %s: %w", c.id, err)
	}
	return next, nil
}

// CurrentState returns a read-only snapshot of the record.
func (c *Coordinator) CurrentState(ctx context.Context) (deployment.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(ctx)
}

// endpoint builds the public URL of one of this deployment's routes.
func (c *Coordinator) endpoint(suffix string) string {
	return c.base.JoinPath("deployments", c.id, suffix).String()
}
