// The awaiter command runs inside the Cloudflare Pages build. It registers
// a deployment with the tracking service, polls until the external workflow
// run finishes, and downloads the built artifact on success. Any failure
// exits non-zero so the surrounding build fails with it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/daangn/websites-integration/client"
	"github.com/daangn/websites-integration/deployment"
)

var (
	workflowID = flag.String("workflow-id", "", "Workflow template to run (required)")
	timeout    = flag.Duration("timeout", 10*time.Minute, "Overall wait budget")
	interval   = flag.Duration("interval", 5*time.Second, "Polling interval")
	output     = flag.String("output", "public.tar.zst", "Path to write the downloaded artifact")
)

func main() {
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if os.Getenv("CF_PAGES") != "1" {
		logger.Error("awaiter should be executed only on Cloudflare Pages' build")
		os.Exit(1)
	}
	if *workflowID == "" {
		logger.Error("-workflow-id is required")
		os.Exit(1)
	}

	endpoint := os.Getenv("WEBSITES_INTEGRATION_ENDPOINT")
	adminKey := os.Getenv("WEBSITES_ADMIN_KEY")
	if endpoint == "" || adminKey == "" {
		logger.Error("WEBSITES_INTEGRATION_ENDPOINT and WEBSITES_ADMIN_KEY must be set")
		os.Exit(1)
	}

	ctx := context.Background()
	c := client.New(endpoint, adminKey)

	started, err := c.StartDeployment(ctx, client.StartParams{
		WorkflowID: *workflowID,
		Ref:        os.Getenv("CF_PAGES_BRANCH"),
		CommitSHA:  os.Getenv("CF_PAGES_COMMIT_SHA"),
	})
	if err != nil {
		logger.Error("failed to start deployment", "error", err)
		os.Exit(1)
	}
	logger.Info("deployment started", "id", started.ID, "check_url", started.CheckURL)

	state, err := c.Await(ctx, started.CheckURL, client.AwaitOptions{
		Interval: *interval,
		Timeout:  *timeout,
	})
	if err != nil {
		logger.Error("waiting for deployment failed", "error", err)
		os.Exit(1)
	}

	switch state.Status {
	case deployment.StatusFailure:
		logger.Error("workflow run failed", "url", runURL(state))
		os.Exit(1)
	case deployment.StatusCancelled:
		logger.Error("workflow run cancelled", "url", runURL(state))
		os.Exit(1)
	case deployment.StatusSuccess:
		// fall through to download
	default:
		logger.Error("unexpected terminal status", "status", state.Status)
		os.Exit(1)
	}

	logger.Info("downloading artifact", "name", state.ArtifactName, "output", *output)

	f, err := os.Create(*output)
	if err != nil {
		logger.Error("failed to create output file", "error", err)
		os.Exit(1)
	}

	if err := c.DownloadArtifact(ctx, started.ArtifactURL, f); err != nil {
		f.Close()
		logger.Error("failed to download artifact", "error", err)
		os.Exit(1)
	}
	if err := f.Close(); err != nil {
		logger.Error("failed to flush output file", "error", err)
		os.Exit(1)
	}

	logger.Info("artifact downloaded", "output", *output)
}

// runURL points at the tracked workflow run for log messages.
func runURL(state deployment.State) string {
	return fmt.Sprintf("https://github.com/daangn/websites/actions/runs/%s", state.RunID)
}
