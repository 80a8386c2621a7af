// Package client is the Go client for the deployment tracking service. It
// implements the polling contract the CI build uses: start a deployment,
// poll the check URL until the tracked workflow run reaches a terminal
// state, then download the built artifact on success.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/daangn/websites-integration/deployment"
)

// Client talks to one deployment tracking service endpoint.
type Client struct {
	baseURL  string
	adminKey string
	http     *http.Client
}

// New creates a Client for the service at baseURL. adminKey authorizes
// mutating calls.
func New(baseURL, adminKey string) *Client {
	return &Client{
		baseURL:  baseURL,
		adminKey: adminKey,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// StartParams identifies the workflow and revision to deploy.
type StartParams struct {
	WorkflowID string `json:"workflow_id"`
	Ref        string `json:"ref"`
	CommitSHA  string `json:"commit_sha"`
}

// StartedDeployment is the server's response to a successful start.
type StartedDeployment struct {
	ID          string           `json:"id"`
	State       deployment.State `json:"state"`
	CheckURL    string           `json:"check_url"`
	ArtifactURL string           `json:"artifact_url"`
}

// apiError is the service's JSON error payload.
type apiError struct {
	Status  int
	ID      string `json:"id"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("deployment service returned %d: %s", e.Status, e.Message)
}

// StartDeployment registers a new deployment and returns the URLs to poll.
func (c *Client) StartDeployment(ctx context.Context, params StartParams) (*StartedDeployment, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal start params: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/deployments", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "AdminKey "+c.adminKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	var started StartedDeployment
	if err := c.doJSON(req, &started); err != nil {
		return nil, err
	}
	return &started, nil
}

// checkResponse mirrors the check endpoint's body.
type checkResponse struct {
	ID    string           `json:"id"`
	State deployment.State `json:"state"`
}

// CheckState fetches the current deployment state from a check URL.
func (c *Client) CheckState(ctx context.Context, checkURL string) (deployment.State, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checkURL, nil)
	if err != nil {
		return deployment.State{}, err
	}
	req.Header.Set("Accept", "application/json")

	var check checkResponse
	if err := c.doJSON(req, &check); err != nil {
		return deployment.State{}, err
	}
	return check.State, nil
}

// DownloadArtifact streams the built artifact into w.
func (c *Client) DownloadArtifact(ctx context.Context, artifactURL string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifactURL, nil)
	if err != nil {
		return err
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return decodeError(res)
	}

	if _, err := io.Copy(w, res.Body); err != nil {
		return fmt.Errorf("download artifact: %w", err)
	}
	return nil
}

// AwaitOptions tunes the polling loop.
type AwaitOptions struct {
	// Interval between state checks. Defaults to 5 seconds.
	Interval time.Duration
	// Timeout for the whole wait. Defaults to 10 minutes.
	Timeout time.Duration
}

// ErrStateInvariant reports an IDLE state observed after a successful
// start, which the service guarantees never happens.
var ErrStateInvariant = fmt.Errorf("deployment reverted to IDLE after start")

// Await polls the check URL until the deployment reaches a terminal state
// and returns it. The caller inspects the terminal status; failure and
// cancellation are not errors at this level.
func (c *Client) Await(ctx context.Context, checkURL string, opts AwaitOptions) (deployment.State, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	ctx, cancel := context.WithTimeoutCause(ctx, timeout, fmt.Errorf("deployment not finished after %s", timeout))
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return deployment.State{}, context.Cause(ctx)
		case <-ticker.C:
		}

		state, err := c.CheckState(ctx, checkURL)
		if err != nil {
			return deployment.State{}, err
		}

		switch state.Type {
		case deployment.TypeIdle:
			return state, ErrStateInvariant
		case deployment.TypeInProgress:
			continue
		case deployment.TypeDone:
			return state, nil
		default:
			return state, fmt.Errorf("unknown deployment state %q", state.Type)
		}
	}
}

// doJSON executes a request expecting a 2xx JSON response decoded into v.
func (c *Client) doJSON(req *http.Request, v any) error {
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return decodeError(res)
	}

	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(res *http.Response) error {
	apiErr := &apiError{Status: res.StatusCode, Message: res.Status}
	data, err := io.ReadAll(io.LimitReader(res.Body, 1<<16))
	if err == nil && len(data) > 0 {
		_ = json.Unmarshal(data, apiErr)
	}
	return apiErr
}
