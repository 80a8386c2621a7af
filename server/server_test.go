package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/daangn/websites-integration/artifact"
	"github.com/daangn/websites-integration/coordinator"
	"github.com/daangn/websites-integration/deployment"
	"github.com/daangn/websites-integration/store"
)

const testAdminKey = "test-admin-key"

type testEnv struct {
	handler   http.Handler
	registry  *coordinator.Registry
	artifacts *artifact.LocalStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	registry, err := coordinator.NewRegistry(st, "https://websites-integration.example.com")
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	artifacts := artifact.NewLocalStore(t.TempDir())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv := New(registry, artifacts, []string{testAdminKey}, logger)
	return &testEnv{handler: srv.Router(), registry: registry, artifacts: artifacts}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, authorized bool) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if authorized {
		req.Header.Set("Authorization", authScheme+" "+testAdminKey)
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return v
}

func (e *testEnv) start(t *testing.T) startResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/deployments", map[string]string{
		"workflow_id": "deploy-website.yml",
		"ref":         "main",
		"commit_sha":  "abc123",
	}, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start returned %d: %s", rec.Code, rec.Body.String())
	}
	return decodeBody[startResponse](t, rec)
}

func TestStartDeployment(t *testing.T) {
	env := newTestEnv(t)

	res := env.start(t)
	if res.State.Type != deployment.TypeInProgress {
		t.Errorf("expected IN_PROGRESS, got %s", res.State.Type)
	}
	if !strings.Contains(res.CheckURL, res.ID) || !strings.HasSuffix(res.CheckURL, "/check") {
		t.Errorf("unexpected check url %q", res.CheckURL)
	}
	if !strings.HasSuffix(res.ArtifactURL, "/download-artifact") {
		t.Errorf("unexpected artifact url %q", res.ArtifactURL)
	}
}

func TestStartRequiresAdminKey(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]string{"workflow_id": "w1"}

	t.Run("NoHeader", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/deployments", body, false)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("WrongScheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/deployments", strings.NewReader("{}"))
		req.Header.Set("Authorization", "Bearer "+testAdminKey)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("WrongKey", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/deployments", strings.NewReader("{}"))
		req.Header.Set("Authorization", authScheme+" wrong-key")
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})
}

func TestStartRejectsMissingWorkflowID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/deployments", map[string]string{"ref": "main"}, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCheckState(t *testing.T) {
	env := newTestEnv(t)
	res := env.start(t)

	for _, path := range []string{"/deployments/" + res.ID, "/deployments/" + res.ID + "/check"} {
		rec := env.do(t, http.MethodGet, path, nil, false)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s returned %d", path, rec.Code)
		}
		body := decodeBody[stateResponse](t, rec)
		if body.State.Type != deployment.TypeInProgress {
			t.Errorf("expected IN_PROGRESS at %s, got %s", path, body.State.Type)
		}
	}
}

func TestCheckUnknownID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/deployments/a3bb189e-8bf9-3888-9912-ace4e6543002/check", nil, false)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	body := decodeBody[errorBody](t, rec)
	if body.Message != "Not found" {
		t.Errorf("unexpected message %q", body.Message)
	}
}

func TestCheckMalformedID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/deployments/not-a-uuid/check", nil, false)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	body := decodeBody[errorBody](t, rec)
	if body.Message != "Invalid ID format" {
		t.Errorf("unexpected message %q", body.Message)
	}
}

func TestReportRun(t *testing.T) {
	env := newTestEnv(t)
	res := env.start(t)

	rec := env.do(t, http.MethodPost, "/deployments/"+res.ID+"/run", map[string]string{"run_id": "42"}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody[stateResponse](t, rec)
	if body.State.RunID != "42" {
		t.Errorf("run id not recorded: %+v", body.State)
	}
}

func TestReportOutcome(t *testing.T) {
	env := newTestEnv(t)
	res := env.start(t)

	rec := env.do(t, http.MethodPost, "/deployments/"+res.ID+"/outcome", map[string]string{
		"run_id":        "42",
		"status":        "success",
		"artifact_name": "public.tar.zst",
	}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody[stateResponse](t, rec)
	if body.State.Type != deployment.TypeDone || body.State.Status != deployment.StatusSuccess {
		t.Errorf("unexpected state: %+v", body.State)
	}

	// Further reports against the terminal record conflict.
	rec = env.do(t, http.MethodPost, "/deployments/"+res.ID+"/outcome", map[string]string{
		"run_id": "43",
		"status": "failure",
	}, true)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
	conflict := decodeBody[errorBody](t, rec)
	if conflict.State == nil || conflict.State.Type != deployment.TypeDone {
		t.Errorf("conflict body should carry the current state: %s", rec.Body.String())
	}
}

func TestReportOutcomeSuccessWithoutArtifact(t *testing.T) {
	env := newTestEnv(t)
	res := env.start(t)

	rec := env.do(t, http.MethodPost, "/deployments/"+res.ID+"/outcome", map[string]string{
		"run_id": "42",
		"status": "success",
	}, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}

	// The record must still be in progress.
	check := env.do(t, http.MethodGet, "/deployments/"+res.ID+"/check", nil, false)
	body := decodeBody[stateResponse](t, check)
	if body.State.Type != deployment.TypeInProgress {
		t.Errorf("record mutated by rejected outcome: %+v", body.State)
	}
}

func TestDownloadArtifact(t *testing.T) {
	env := newTestEnv(t)
	res := env.start(t)
	ctx := context.Background()

	content := "built site tarball"
	info, err := env.artifacts.Put(ctx, "public.tar.zst", "application/zstd", strings.NewReader(content))
	if err != nil {
		t.Fatalf("seeding artifact failed: %v", err)
	}

	env.do(t, http.MethodPost, "/deployments/"+res.ID+"/outcome", map[string]string{
		"run_id":        "42",
		"status":        "success",
		"artifact_name": "public.tar.zst",
	}, true)

	rec := env.do(t, http.MethodGet, "/deployments/"+res.ID+"/download-artifact", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != content {
		t.Errorf("body mismatch: %q", got)
	}
	if etag := rec.Header().Get("ETag"); etag != `"`+info.ETag+`"` {
		t.Errorf("etag mismatch: got %s, want %q", etag, info.ETag)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/zstd" {
		t.Errorf("content type mismatch: %q", ct)
	}
}

func TestDownloadArtifactExpired(t *testing.T) {
	env := newTestEnv(t)
	res := env.start(t)

	env.do(t, http.MethodPost, "/deployments/"+res.ID+"/outcome", map[string]string{
		"run_id":        "42",
		"status":        "success",
		"artifact_name": "public.tar.zst",
	}, true)

	rec := env.do(t, http.MethodGet, "/deployments/"+res.ID+"/download-artifact", nil, false)
	if rec.Code != http.StatusGone {
		t.Fatalf("expected 410, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody[errorBody](t, rec)
	if body.Message != "Artifact seems to be expired" {
		t.Errorf("unexpected message %q", body.Message)
	}
	if body.State == nil || body.State.Type != deployment.TypeDone {
		t.Errorf("expired body should carry the state: %s", rec.Body.String())
	}
}

func TestDownloadArtifactWrongState(t *testing.T) {
	env := newTestEnv(t)

	t.Run("InProgress", func(t *testing.T) {
		res := env.start(t)
		rec := env.do(t, http.MethodGet, "/deployments/"+res.ID+"/download-artifact", nil, false)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		body := decodeBody[errorBody](t, rec)
		if body.State == nil || body.State.Type != deployment.TypeInProgress {
			t.Errorf("error body should carry the state: %s", rec.Body.String())
		}
	})

	t.Run("FailedRun", func(t *testing.T) {
		res := env.start(t)
		env.do(t, http.MethodPost, "/deployments/"+res.ID+"/outcome", map[string]string{
			"run_id": "42",
			"status": "failure",
		}, true)

		rec := env.do(t, http.MethodGet, "/deployments/"+res.ID+"/download-artifact", nil, false)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("MalformedID", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/deployments/nope/download-artifact", nil, false)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("UnknownID", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/deployments/a3bb189e-8bf9-3888-9912-ace4e6543002/download-artifact", nil, false)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})
}
