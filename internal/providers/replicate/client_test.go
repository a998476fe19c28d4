package replicate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"meshrelay/internal/domain"
)

func TestCreatePrediction(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/predictions" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer r8_test" {
			t.Fatalf("unexpected auth header: %s", got)
		}
		var payload map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if string(payload["version"]) != `"v1"` {
			t.Fatalf("unexpected version: %s", payload["version"])
		}
		if string(payload["input"]) != `{"prompt":"a red cube","guidance_scale":12}` {
			t.Fatalf("unexpected input: %s", payload["input"])
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"p1","version":"v1","status":"starting","input":{"prompt":"a red cube"},"output":null,"error":null,"created_at":"2026-10-16T09:00:00Z"}`))
	}))
	defer ts.Close()

	client := NewClient(Options{APIKey: "r8_test", BaseURL: ts.URL})
	input := struct {
		Prompt        string  `json:"prompt"`
		GuidanceScale float64 `json:"guidance_scale"`
	}{"a red cube", 12}
	got, err := client.CreatePrediction(context.Background(), "v1", input)
	if err != nil {
		t.Fatalf("CreatePrediction error: %v", err)
	}
	if got.ID != "p1" || got.Status != domain.JobStatusQueued || got.ProviderStatus != "starting" {
		t.Fatalf("unexpected prediction: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("created_at not decoded")
	}
	if len(got.Output) != 0 {
		t.Fatalf("output present before success: %v", got.Output)
	}
}

func TestCreatePredictionProblem(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"title":"Invalid input","detail":"prompt is required","status":422}`))
	}))
	defer ts.Close()

	client := NewClient(Options{APIKey: "k", BaseURL: ts.URL})
	_, err := client.CreatePrediction(context.Background(), "v1", map[string]any{})
	if !errors.Is(err, domain.ErrSubmissionRejected) {
		t.Fatalf("error = %v, want ErrSubmissionRejected", err)
	}
	if msg := domain.MessageOf(err, ""); msg != "prompt is required" {
		t.Fatalf("message = %q", msg)
	}
}

func TestCreatePredictionInlineError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"p1","status":"failed","error":"version does not exist"}`))
	}))
	defer ts.Close()

	client := NewClient(Options{APIKey: "k", BaseURL: ts.URL})
	_, err := client.CreatePrediction(context.Background(), "v1", map[string]any{})
	if domain.KindOf(err) != domain.KindProvider {
		t.Fatalf("kind = %s, want provider", domain.KindOf(err))
	}
	if msg := domain.MessageOf(err, ""); msg != "version does not exist" {
		t.Fatalf("message = %q", msg)
	}
}

func TestCreatePredictionUndecodable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>gateway</html>`))
	}))
	defer ts.Close()

	client := NewClient(Options{APIKey: "k", BaseURL: ts.URL})
	_, err := client.CreatePrediction(context.Background(), "v1", map[string]any{})
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("error = %v, want ErrTransport", err)
	}
}

func TestCreatePredictionNetworkFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close()

	client := NewClient(Options{APIKey: "k", BaseURL: ts.URL})
	_, err := client.CreatePrediction(context.Background(), "v1", map[string]any{})
	if domain.KindOf(err) != domain.KindTransport || !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("error = %v, want transport", err)
	}
}

func TestMissingCredential(t *testing.T) {
	client := NewClient(Options{})
	if client.HasCredentials() {
		t.Fatalf("client without key reports credentials")
	}
	_, err := client.CreatePrediction(context.Background(), "v1", nil)
	if !errors.Is(err, domain.ErrMissingCredential) {
		t.Fatalf("error = %v, want ErrMissingCredential", err)
	}
	if domain.MessageOf(err, "") != "Missing REPLICATE_API_TOKEN" {
		t.Fatalf("message = %q", domain.MessageOf(err, ""))
	}
}

func TestGetPrediction(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus domain.JobStatus
		wantOutput []string
		wantError  string
	}{
		{
			name:       "processing",
			body:       `{"id":"p1","status":"processing","output":null}`,
			wantStatus: domain.JobStatusRunning,
		},
		{
			name:       "succeeded string output",
			body:       `{"id":"p1","status":"succeeded","output":"https://cdn.test/out.ply"}`,
			wantStatus: domain.JobStatusSucceeded,
			wantOutput: []string{"https://cdn.test/out.ply"},
		},
		{
			name:       "succeeded list output",
			body:       `{"id":"p1","status":"succeeded","output":["https://cdn.test/a.zip",null,"https://cdn.test/b.png"]}`,
			wantStatus: domain.JobStatusSucceeded,
			wantOutput: []string{"https://cdn.test/a.zip", "https://cdn.test/b.png"},
		},
		{
			name:       "succeeded object output",
			body:       `{"id":"p1","status":"succeeded","output":{"mesh":"https://cdn.test/m.glb","preview":"https://cdn.test/p.mp4"}}`,
			wantStatus: domain.JobStatusSucceeded,
			wantOutput: []string{"https://cdn.test/m.glb", "https://cdn.test/p.mp4"},
		},
		{
			name:       "succeeded without output",
			body:       `{"id":"p1","status":"succeeded","output":null}`,
			wantStatus: domain.JobStatusFailed,
			wantError:  NoOutputDetail,
		},
		{
			name:       "succeeded with empty list",
			body:       `{"id":"p1","status":"succeeded","output":[]}`,
			wantStatus: domain.JobStatusFailed,
			wantError:  NoOutputDetail,
		},
		{
			name:       "failed with message",
			body:       `{"id":"p1","status":"failed","error":"CUDA out of memory"}`,
			wantStatus: domain.JobStatusFailed,
			wantError:  "CUDA out of memory",
		},
		{
			name:       "canceled without message",
			body:       `{"id":"p1","status":"canceled","error":null}`,
			wantStatus: domain.JobStatusFailed,
			wantError:  domain.DefaultFailureDetail,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/predictions/p1" {
					t.Fatalf("unexpected path %s", r.URL.Path)
				}
				_, _ = w.Write([]byte(tc.body))
			}))
			defer ts.Close()

			client := NewClient(Options{APIKey: "k", BaseURL: ts.URL})
			got, err := client.GetPrediction(context.Background(), "p1")
			if err != nil {
				t.Fatalf("GetPrediction error: %v", err)
			}
			if got.Status != tc.wantStatus {
				t.Fatalf("status = %s, want %s", got.Status, tc.wantStatus)
			}
			if len(got.Output) != len(tc.wantOutput) {
				t.Fatalf("output = %v, want %v", got.Output, tc.wantOutput)
			}
			for i := range tc.wantOutput {
				if got.Output[i] != tc.wantOutput[i] {
					t.Fatalf("output[%d] = %q, want %q", i, got.Output[i], tc.wantOutput[i])
				}
			}
			if got.Error != tc.wantError {
				t.Fatalf("error = %q, want %q", got.Error, tc.wantError)
			}
		})
	}
}

func TestGetPredictionNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Not found."}`))
	}))
	defer ts.Close()

	client := NewClient(Options{APIKey: "k", BaseURL: ts.URL})
	_, err := client.GetPrediction(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("kind = %s", domain.KindOf(err))
	}
}

func TestErrorMessageShapes(t *testing.T) {
	tests := map[string]string{
		``:                          "",
		`null`:                      "",
		`"boom"`:                    "boom",
		`{"detail":"bad input"}`:    "bad input",
		`{"message":"try again"}`:   "try again",
		`42`:                        "42",
	}
	for raw, want := range tests {
		if got := errorMessage(json.RawMessage(raw)); got != want {
			t.Errorf("errorMessage(%s) = %q, want %q", raw, got, want)
		}
	}
}
