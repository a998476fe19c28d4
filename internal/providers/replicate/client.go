// Package replicate talks to the Replicate predictions API.
package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"meshrelay/internal/domain"
	"meshrelay/internal/infra"
)

const (
	DefaultBaseURL = "https://api.replicate.com/v1"
	maxErrorBody   = 64 << 10
)

// NoOutputDetail is the error of a prediction the provider marked succeeded
// without returning any output URL. Such a job is reported as failed.
const NoOutputDetail = "prediction succeeded without output"

// Options configures the Replicate client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs prediction create and get calls.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

type createRequest struct {
	Version string `json:"version"`
	Input   any    `json:"input"`
}

// prediction mirrors the provider's prediction resource. Output and error
// vary in shape between models, so they are decoded lazily.
type prediction struct {
	ID          string          `json:"id"`
	Version     string          `json:"version"`
	Status      string          `json:"status"`
	Input       json.RawMessage `json:"input"`
	Output      json.RawMessage `json:"output"`
	Error       json.RawMessage `json:"error"`
	Logs        string          `json:"logs"`
	CreatedAt   *time.Time      `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at"`
}

type problem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Status int    `json:"status"`
}

// NewClient constructs a client with defaults for anything unset.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     infra.LoggerOrDiscard(opts.Logger),
	}
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c != nil && c.apiKey != ""
}

// CreatePrediction submits one prediction for version with input.
func (c *Client) CreatePrediction(ctx context.Context, version string, input any) (*domain.Prediction, error) {
	if !c.HasCredentials() {
		return nil, missingCredential()
	}
	body, err := json.Marshal(createRequest{Version: version, Input: input})
	if err != nil {
		return nil, fmt.Errorf("replicate: encode request: %w", err)
	}

	start := time.Now()
	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/predictions", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, domain.Provider(domain.ErrSubmissionRejected, readProblem(resp))
	}
	out, err := decodePrediction(resp.Body)
	if err != nil {
		return nil, err
	}
	if msg := errorMessage(out.Error); msg != "" {
		return nil, domain.Provider(domain.ErrSubmissionRejected, msg)
	}
	if strings.TrimSpace(out.ID) == "" {
		return nil, domain.Transport(domain.ErrTransport, "Prediction response is missing an id")
	}

	c.logger.Info().
		Str("prediction_id", out.ID).
		Str("version", version).
		Str("status", out.Status).
		Dur("latency", time.Since(start)).
		Msg("replicate prediction created")
	return out.toDomain(), nil
}

// GetPrediction fetches the current state of prediction id.
func (c *Client) GetPrediction(ctx context.Context, id string) (*domain.Prediction, error) {
	if !c.HasCredentials() {
		return nil, missingCredential()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.NewError(domain.KindNotFound, domain.ErrNotFound, "Prediction not found")
	}

	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/predictions/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil, domain.NewError(domain.KindNotFound, domain.ErrNotFound, "Prediction not found")
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, domain.Provider(domain.ErrSubmissionRejected, readProblem(resp))
	}
	out, err := decodePrediction(resp.Body)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().
		Str("prediction_id", out.ID).
		Str("status", out.Status).
		Msg("replicate prediction fetched")
	return out.toDomain(), nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("replicate: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("method", method).Str("endpoint", endpoint).Msg("replicate request failed")
		return nil, domain.Transport(fmt.Errorf("%w: %w", domain.ErrTransport, err), "Failed to reach prediction service")
	}
	return resp, nil
}

func missingCredential() error {
	return domain.Configuration(domain.ErrMissingCredential, "Missing REPLICATE_API_TOKEN")
}

func decodePrediction(r io.Reader) (*prediction, error) {
	var out prediction
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, domain.Transport(fmt.Errorf("%w: decode prediction: %w", domain.ErrTransport, err), "Invalid response from prediction service")
	}
	return &out, nil
}

func readProblem(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var p problem
	if err := json.Unmarshal(raw, &p); err == nil {
		if msg := strings.TrimSpace(p.Detail); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(p.Title); msg != "" {
			return msg
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" && len(text) < 512 && !strings.HasPrefix(text, "<") {
		return text
	}
	return fmt.Sprintf("replicate: http %d", resp.StatusCode)
}

func (p *prediction) toDomain() *domain.Prediction {
	status := domain.StatusFromProvider(p.Status)
	out := &domain.Prediction{
		ID:             p.ID,
		Version:        p.Version,
		Status:         status,
		ProviderStatus: p.Status,
		Input:          p.Input,
		Logs:           p.Logs,
		CompletedAt:    p.CompletedAt,
	}
	if p.CreatedAt != nil {
		out.CreatedAt = *p.CreatedAt
	}
	switch status {
	case domain.JobStatusSucceeded:
		out.Output = outputURLs(p.Output)
		if len(out.Output) == 0 {
			out.Status = domain.JobStatusFailed
			out.Error = NoOutputDetail
		}
	case domain.JobStatusFailed:
		out.Error = errorMessage(p.Error)
		if out.Error == "" {
			out.Error = domain.DefaultFailureDetail
		}
	}
	return out
}

// outputURLs flattens the model output into a list of URLs. Models return a
// single string, a list, or an object keyed by artifact name.
func outputURLs(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single = strings.TrimSpace(single); single != "" {
			return []string{single}
		}
		return nil
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err == nil {
		var out []string
		for _, item := range list {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var out []string
		for _, k := range keys {
			if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	}
	return nil
}

// errorMessage reads the prediction's error field, which is null, a string
// or an object with a detail.
func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, key := range []string{"detail", "message", "error"} {
			if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return strings.TrimSpace(string(raw))
}
