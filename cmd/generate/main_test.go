package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshrelay/internal/domain"
)

func TestParseFlagsInfersImageType(t *testing.T) {
	opts, err := parseFlags([]string{"-model_type", "dynamic_glb", "-image_url", "https://cdn.test/cat.png", "-seed", " 7 "})
	require.NoError(t, err)
	assert.Equal(t, "url", opts.fields["image_type"])
	assert.Equal(t, "7", opts.fields["seed"])
	_, hasPrompt := opts.fields["prompt"]
	assert.False(t, hasPrompt)

	opts, err = parseFlags([]string{"-model_type", "dynamic_glb", "-image", "cat.png"})
	require.NoError(t, err)
	assert.Equal(t, "upload", opts.fields["image_type"])
}

func TestParseFlagsRequiresModel(t *testing.T) {
	_, err := parseFlags([]string{"-prompt", "a chair"})
	require.Error(t, err)
}

func fakeRelay(t *testing.T, final domain.JobStatus) *httptest.Server {
	t.Helper()
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /predictions", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "ply", r.FormValue("model_type"))
		assert.Equal(t, "a chair", r.FormValue("prompt"))
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(domain.Prediction{ID: "p1", Status: domain.JobStatusQueued})
	})
	mux.HandleFunc("GET /predictions/p1", func(w http.ResponseWriter, r *http.Request) {
		status := domain.JobStatusRunning
		if polls.Add(1) > 1 {
			status = final
		}
		pred := domain.Prediction{ID: "p1", Status: status}
		if status == domain.JobStatusFailed {
			pred.Error = "CUDA out of memory"
		}
		_ = json.NewEncoder(w).Encode(pred)
	})
	mux.HandleFunc("GET /predictions/p1/asset", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `inline; filename="model.ply"`)
		_, _ = io.WriteString(w, "ply\n")
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestRunSavesAsset(t *testing.T) {
	ts := fakeRelay(t, domain.JobStatusSucceeded)
	dir := t.TempDir()

	var out bytes.Buffer
	err := run(context.Background(), []string{
		"-server", ts.URL, "-out", dir, "-interval", "5ms",
		"-model_type", "ply", "-prompt", "a chair",
	}, &out)
	require.NoError(t, err)

	path := strings.TrimSpace(out.String())
	assert.Equal(t, filepath.Join(dir, "p1-model.ply"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ply\n", string(data))
}

func TestRunReportsFailedPrediction(t *testing.T) {
	ts := fakeRelay(t, domain.JobStatusFailed)

	err := run(context.Background(), []string{
		"-server", ts.URL, "-out", t.TempDir(), "-interval", "5ms",
		"-model_type", "ply", "-prompt", "a chair",
	}, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CUDA out of memory")
}
