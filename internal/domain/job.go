package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition can happen.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// StatusFromProvider maps the provider's prediction status onto the job
// lifecycle. Unknown values are treated as queued.
func StatusFromProvider(raw string) JobStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "processing", "running":
		return JobStatusRunning
	case "succeeded", "successful":
		return JobStatusSucceeded
	case "failed", "canceled", "cancelled", "aborted":
		return JobStatusFailed
	default:
		return JobStatusQueued
	}
}

// DefaultFailureDetail is reported for failed jobs the provider left without
// an error message.
const DefaultFailureDetail = "prediction failed"

// Prediction is a job submitted to the inference provider. It is only ever
// replaced by a fresh copy fetched from the provider.
type Prediction struct {
	ID             string          `json:"id"`
	Model          ModelType       `json:"model,omitempty"`
	Version        string          `json:"version"`
	Status         JobStatus       `json:"status"`
	ProviderStatus string          `json:"provider_status,omitempty"`
	Input          json.RawMessage `json:"input,omitempty"`
	Output         []string        `json:"output,omitempty"`
	Error          string          `json:"error,omitempty"`
	Logs           string          `json:"logs,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// Terminal reports whether the prediction reached succeeded or failed.
func (p *Prediction) Terminal() bool {
	return p != nil && p.Status.Terminal()
}

// FirstOutput returns the first output URL, or "" when none exists.
func (p *Prediction) FirstOutput() string {
	if p == nil || len(p.Output) == 0 {
		return ""
	}
	return p.Output[0]
}
