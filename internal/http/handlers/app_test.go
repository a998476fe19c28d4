package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"meshrelay/internal/domain"
)

func TestFailMapsKinds(t *testing.T) {
	a := NewApp(Options{})
	tests := []struct {
		name string
		err  error
		code int
		body string
	}{
		{"validation", domain.Validation(domain.ErrInvalidModelType, "Invalid model type"), 400, `{"error":"Invalid model type"}`},
		{"configuration", domain.Configuration(domain.ErrMissingCredential, "Missing REPLICATE_API_TOKEN"), 500, `{"error":"Missing REPLICATE_API_TOKEN"}`},
		{"provider", domain.Provider(domain.ErrSubmissionRejected, "version not found"), 500, `{"detail":"version not found"}`},
		{"transport", domain.Transport(domain.ErrTransport, "Failed to reach prediction service"), 500, `{"detail":"Failed to reach prediction service"}`},
		{"asset", domain.Asset(domain.ErrAssetNotFoundInArchive, "No .glb file found in the archive"), 422, `{"error":"No .glb file found in the archive"}`},
		{"conflict sentinel", fmt.Errorf("reserve: %w", domain.ErrDuplicateOperation), 409, `{"error":"fallback"}`},
		{"not found", domain.NewError(domain.KindNotFound, domain.ErrNotFound, "Prediction not found"), 404, `{"detail":"Prediction not found"}`},
		{"internal hides cause", errors.New("nil pointer somewhere"), 500, `{"detail":"fallback"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			a.fail(rec, httptest.NewRequest(http.MethodPost, "/predictions", nil), tc.err, "fallback")
			if rec.Code != tc.code {
				t.Fatalf("status = %d, want %d", rec.Code, tc.code)
			}
			if got := rec.Body.String(); got != tc.body+"\n" {
				t.Fatalf("body = %q, want %q", got, tc.body)
			}
		})
	}
}

func TestFailCanceledWritesNothing(t *testing.T) {
	a := NewApp(Options{})
	rec := httptest.NewRecorder()
	a.fail(rec, httptest.NewRequest(http.MethodGet, "/", nil), context.Canceled, "fallback")
	if rec.Body.Len() != 0 {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestParseWait(t *testing.T) {
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"30", 30 * time.Second, false},
		{"1m30s", 90 * time.Second, false},
		{"250ms", 250 * time.Millisecond, false},
		{"-1", 0, true},
		{"-5s", 0, true},
		{"later", 0, true},
	}
	for _, tc := range tests {
		got, err := parseWait(tc.raw)
		if (err != nil) != tc.wantErr {
			t.Fatalf("parseWait(%q) error = %v, wantErr %v", tc.raw, err, tc.wantErr)
		}
		if got != tc.want {
			t.Fatalf("parseWait(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestLongPollBudget(t *testing.T) {
	tests := []struct {
		writeTimeout time.Duration
		want         time.Duration
	}{
		{0, 0},
		{500 * time.Millisecond, 375 * time.Millisecond},
		{8 * time.Second, 6 * time.Second},
		{120 * time.Second, 115 * time.Second},
	}
	for _, tc := range tests {
		if got := longPollBudget(tc.writeTimeout); got != tc.want {
			t.Fatalf("longPollBudget(%v) = %v, want %v", tc.writeTimeout, got, tc.want)
		}
	}
}
