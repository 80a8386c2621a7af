// Package deployment defines the deployment record and the state machine
// that governs its lifecycle. A record moves IDLE -> IN_PROGRESS via an
// explicit start, and IN_PROGRESS -> DONE via an explicit outcome report;
// DONE is terminal. Transitions are pure: they return the next state and
// never mutate the receiver, so persistence order is the caller's choice.
package deployment

import "fmt"

// Type identifies the lifecycle phase of a deployment record.
type Type string

const (
	TypeIdle       Type = "IDLE"
	TypeInProgress Type = "IN_PROGRESS"
	TypeDone       Type = "DONE"
)

// Status is the terminal outcome reported by the external workflow runner.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusCancelled Status = "cancelled"
)

// State is the persisted record for one deployment identity. The JSON form
// is the wire format polled by the deployment awaiter.
type State struct {
	Type         Type   `json:"type"`
	WorkflowID   string `json:"workflowId,omitempty"`
	Ref          string `json:"ref,omitempty"`
	CommitSHA    string `json:"commitSha,omitempty"`
	RunID        string `json:"runId,omitempty"`
	Status       Status `json:"status,omitempty"`
	ArtifactName string `json:"artifactName,omitempty"`
}

// Initial returns the state a record holds before any start call.
func Initial() State {
	return State{Type: TypeIdle}
}

// Start transitions an idle record into a running deployment.
func (s State) Start(workflowID, ref, commitSHA string) (State, error) {
	switch s.Type {
	case TypeInProgress:
		return s, fmt.Errorf("%w: workflow %q run in flight", ErrAlreadyRunning, s.WorkflowID)
	case TypeDone:
		return s, fmt.Errorf("%w: deployment finished with status %q", ErrAlreadyCompleted, s.Status)
	}
	if workflowID == "" {
		return s, fmt.Errorf("%w: workflow id is required", ErrInvalidArgument)
	}

	return State{
		Type:       TypeInProgress,
		WorkflowID: workflowID,
		Ref:        ref,
		CommitSHA:  commitSHA,
	}, nil
}

// WithRun records the external run identifier once the workflow system has
// accepted the run. Only valid while the deployment is in progress.
func (s State) WithRun(runID string) (State, error) {
	switch s.Type {
	case TypeIdle:
		return s, fmt.Errorf("%w: no run to attach for an idle deployment", ErrNoActiveRun)
	case TypeDone:
		return s, fmt.Errorf("%w: deployment finished with status %q", ErrAlreadyCompleted, s.Status)
	}
	if runID == "" {
		return s, fmt.Errorf("%w: run id is required", ErrInvalidArgument)
	}

	next := s
	next.RunID = runID
	return next, nil
}

// Complete transitions a running deployment into its terminal state. A
// success outcome must name the stored artifact; other outcomes must not.
// runID may be empty when it was already attached via WithRun.
func (s State) Complete(runID string, status Status, artifactName string) (State, error) {
	switch s.Type {
	case TypeIdle:
		return s, fmt.Errorf("%w: outcome reported for a deployment that was never started", ErrNoActiveRun)
	case TypeDone:
		return s, fmt.Errorf("%w: deployment finished with status %q", ErrAlreadyCompleted, s.Status)
	}

	switch status {
	case StatusSuccess:
		if artifactName == "" {
			return s, fmt.Errorf("%w: success outcome requires an artifact name", ErrInvalidArgument)
		}
	case StatusFailure, StatusCancelled:
		if artifactName != "" {
			return s, fmt.Errorf("%w: %s outcome must not carry an artifact name", ErrInvalidArgument, status)
		}
	default:
		return s, fmt.Errorf("%w: unknown terminal status %q", ErrInvalidArgument, status)
	}

	next := s
	next.Type = TypeDone
	next.Status = status
	next.ArtifactName = artifactName
	if runID != "" {
		next.RunID = runID
	}
	return next, nil
}

// Terminal reports whether the record has reached its final state.
func (s State) Terminal() bool {
	return s.Type == TypeDone
}
