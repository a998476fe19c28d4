package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "typed", err: Asset(nil, "no model"), want: KindAsset},
		{name: "typed wrapped", err: fmt.Errorf("present: %w", Validation(nil, "bad")), want: KindValidation},
		{name: "not found sentinel", err: fmt.Errorf("lookup: %w", ErrNotFound), want: KindNotFound},
		{name: "duplicate", err: ErrDuplicateOperation, want: KindConflict},
		{name: "credential", err: ErrMissingCredential, want: KindConfiguration},
		{name: "poll transport", err: ErrPollTransport, want: KindTransport},
		{name: "rejected", err: ErrSubmissionRejected, want: KindProvider},
		{name: "archive", err: ErrAssetNotFoundInArchive, want: KindAsset},
		{name: "unknown", err: errors.New("boom"), want: KindInternal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Fatalf("KindOf() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestMessageOf(t *testing.T) {
	if got := MessageOf(Configuration(ErrMissingCredential, " Missing REPLICATE_API_TOKEN "), "x"); got != "Missing REPLICATE_API_TOKEN" {
		t.Fatalf("MessageOf() = %q", got)
	}
	if got := MessageOf(errors.New("boom"), "fallback"); got != "fallback" {
		t.Fatalf("MessageOf() = %q, want fallback", got)
	}
	if got := MessageOf(Transport(ErrTransport, ""), "fallback"); got != "fallback" {
		t.Fatalf("MessageOf() with empty message = %q", got)
	}
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{err: Provider(ErrSubmissionRejected, "Invalid version"), want: "Invalid version: submission rejected"},
		{err: Provider(nil, "Invalid version"), want: "Invalid version"},
		{err: Provider(ErrSubmissionRejected, ""), want: "submission rejected"},
		{err: &Error{Kind: KindInternal}, want: "internal"},
	}
	for _, tc := range tests {
		if got := tc.err.Error(); got != tc.want {
			t.Errorf("Error() = %q, want %q", got, tc.want)
		}
	}
	if !errors.Is(Provider(ErrSubmissionRejected, "x"), ErrSubmissionRejected) {
		t.Fatal("Unwrap does not expose the cause")
	}
}

func TestStatusFromProvider(t *testing.T) {
	cases := map[string]JobStatus{
		"starting":   JobStatusQueued,
		"processing": JobStatusRunning,
		" Succeeded": JobStatusSucceeded,
		"canceled":   JobStatusFailed,
		"":           JobStatusQueued,
	}
	for raw, want := range cases {
		if got := StatusFromProvider(raw); got != want {
			t.Errorf("StatusFromProvider(%q) = %q, want %q", raw, got, want)
		}
	}
}
