package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"meshrelay/internal/domain"
	"meshrelay/internal/infra"
	"meshrelay/internal/sqlinline"
)

// LedgerEntry is a submitted prediction as recorded locally.
type LedgerEntry struct {
	ID             string
	Model          domain.ModelType
	Version        string
	Status         domain.JobStatus
	ProviderStatus string
	IdempotencyKey string
	Output         []string
	Error          string
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// PredictionRepositoryPG records submissions and their last known status.
type PredictionRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewPredictionRepository creates a ledger backed by PostgreSQL.
func NewPredictionRepository(sql infra.SQLExecutor) *PredictionRepositoryPG {
	return &PredictionRepositoryPG{sql: sql}
}

// EnsureSchema creates the ledger table when missing.
func (r *PredictionRepositoryPG) EnsureSchema(ctx context.Context) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QEnsurePredictionLedger); err != nil {
		return fmt.Errorf("ledger: ensure schema: %w", err)
	}
	return nil
}

// Record inserts a freshly created prediction. Recording the same id twice is
// a no-op.
func (r *PredictionRepositoryPG) Record(ctx context.Context, pred *domain.Prediction, idempotencyKey string) error {
	var createdAt *time.Time
	if !pred.CreatedAt.IsZero() {
		createdAt = &pred.CreatedAt
	}
	_, err := r.sql.Exec(ctx, sqlinline.QInsertPrediction,
		pred.ID,
		string(pred.Model),
		pred.Version,
		string(pred.Status),
		pred.ProviderStatus,
		idempotencyKey,
		nullableBytes(pred.Input),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("ledger: record %s: %w", pred.ID, err)
	}
	return nil
}

// UpdateStatus stores the latest observed state. Rows already terminal are
// left untouched.
func (r *PredictionRepositoryPG) UpdateStatus(ctx context.Context, pred *domain.Prediction) error {
	var output []byte
	if len(pred.Output) > 0 {
		var err error
		if output, err = json.Marshal(pred.Output); err != nil {
			return fmt.Errorf("ledger: encode output: %w", err)
		}
	}
	_, err := r.sql.Exec(ctx, sqlinline.QUpdatePredictionStatus,
		pred.ID,
		string(pred.Status),
		pred.ProviderStatus,
		output,
		pred.Error,
		pred.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("ledger: update %s: %w", pred.ID, err)
	}
	return nil
}

// Get fetches a ledger entry by prediction id.
func (r *PredictionRepositoryPG) Get(ctx context.Context, id string) (*LedgerEntry, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectPrediction, id)
	var (
		e      LedgerEntry
		model  string
		status string
		output []byte
	)
	if err := row.Scan(
		&e.ID,
		&model,
		&e.Version,
		&status,
		&e.ProviderStatus,
		&e.IdempotencyKey,
		&output,
		&e.Error,
		&e.CreatedAt,
		&e.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("ledger: get %s: %w", id, err)
	}
	e.Model = domain.ModelType(model)
	e.Status = domain.JobStatus(status)
	if len(output) > 0 {
		if err := json.Unmarshal(output, &e.Output); err != nil {
			return nil, fmt.Errorf("ledger: decode output: %w", err)
		}
	}
	return &e, nil
}

// ClaimOpen returns up to limit non-terminal entries not checked within
// staleAfter, marking them checked. Rows locked by another worker are skipped.
func (r *PredictionRepositoryPG) ClaimOpen(ctx context.Context, staleAfter time.Duration, limit int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.sql.Query(ctx, sqlinline.QClaimOpenPredictions, staleAfter.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: claim open: %w", err)
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var (
			e      LedgerEntry
			model  string
			status string
		)
		if err := rows.Scan(&e.ID, &model, &e.Version, &status, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan open: %w", err)
		}
		e.Model = domain.ModelType(model)
		e.Status = domain.JobStatus(status)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate open: %w", err)
	}
	return out, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
