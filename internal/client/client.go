// Package client calls a running meshrelay server the same way the browser
// form does.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"meshrelay/internal/domain"
	"meshrelay/internal/infra"
	"meshrelay/internal/normalize"
)

const maxErrorBody = 64 << 10

// Options configures a Client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client submits forms and reads predictions back.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// Submission is one form post. Image is optional and sent as the upload
// field when present.
type Submission struct {
	Fields         map[string]string
	ImageName      string
	Image          io.Reader
	IdempotencyKey string
}

// Asset is a downloaded model file.
type Asset struct {
	Filename    string
	ContentType string
	Data        []byte
}

func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		httpClient: httpClient,
		logger:     infra.LoggerOrDiscard(opts.Logger),
	}
}

// Create posts sub as multipart/form-data to /predictions.
func (c *Client) Create(ctx context.Context, sub Submission) (*domain.Prediction, error) {
	body, contentType, err := encodeForm(sub)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predictions", body)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if sub.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", sub.IdempotencyKey)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, readError(resp)
	}
	pred, err := decode(resp.Body)
	if err != nil {
		return nil, err
	}
	c.logger.Info().
		Str("prediction_id", pred.ID).
		Str("status", string(pred.Status)).
		Bool("replayed", resp.Header.Get("Idempotent-Replayed") == "true").
		Msg("prediction submitted")
	return pred, nil
}

// GetPrediction fetches the current state of id.
func (c *Client) GetPrediction(ctx context.Context, id string) (*domain.Prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/predictions/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, readError(resp)
	}
	return decode(resp.Body)
}

// DownloadAsset fetches the viewer-ready model for id, following the
// server's redirect when the output is directly loadable.
func (c *Client) DownloadAsset(ctx context.Context, id string) (*Asset, error) {
	endpoint := c.baseURL + "/predictions/" + url.PathEscape(id) + "/asset"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, readError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Transport(fmt.Errorf("%w: %w", domain.ErrTransport, err), "Failed to download asset")
	}
	return &Asset{
		Filename:    assetName(resp),
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("method", req.Method).Str("url", req.URL.String()).Msg("relay request failed")
		return nil, domain.Transport(fmt.Errorf("%w: %w", domain.ErrTransport, err), "Failed to reach relay")
	}
	return resp, nil
}

func encodeForm(sub Submission) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(sub.Fields))
	for k := range sub.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := mw.WriteField(k, sub.Fields[k]); err != nil {
			return nil, "", fmt.Errorf("client: write field %s: %w", k, err)
		}
	}
	if sub.Image != nil {
		name := sub.ImageName
		if name == "" {
			name = "image"
		}
		part, err := mw.CreateFormFile(normalize.FieldImage, name)
		if err != nil {
			return nil, "", fmt.Errorf("client: create image part: %w", err)
		}
		if _, err := io.Copy(part, sub.Image); err != nil {
			return nil, "", fmt.Errorf("client: copy image: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("client: close form: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

func decode(r io.Reader) (*domain.Prediction, error) {
	var pred domain.Prediction
	if err := json.NewDecoder(r).Decode(&pred); err != nil {
		return nil, domain.Transport(fmt.Errorf("%w: decode prediction: %w", domain.ErrTransport, err), "Invalid response from relay")
	}
	return &pred, nil
}

// readError turns an error response back into a classified domain error.
// The relay answers with either {"error": ...} or {"detail": ...}.
func readError(resp *http.Response) error {
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = json.Unmarshal(raw, &body)
	msg := body.Error
	if msg == "" {
		msg = body.Detail
	}
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = resp.Status
	}

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return domain.Validation(nil, msg)
	case http.StatusNotFound:
		return domain.NewError(domain.KindNotFound, domain.ErrNotFound, msg)
	case http.StatusConflict:
		return domain.NewError(domain.KindConflict, domain.ErrNotSucceeded, msg)
	case http.StatusUnprocessableEntity:
		return domain.Asset(nil, msg)
	case http.StatusTooManyRequests:
		return domain.Transport(domain.ErrTransport, msg)
	default:
		return domain.Provider(nil, fmt.Sprintf("%s (HTTP %d)", msg, resp.StatusCode))
	}
}

func assetName(resp *http.Response) string {
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		return params["filename"]
	}
	p := resp.Request.URL.Path
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	if p == "" || p == "asset" {
		return "asset.bin"
	}
	return p
}
