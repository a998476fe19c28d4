package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"meshrelay/internal/adapter/repo"
	"meshrelay/internal/domain"
)

type stubLedger struct {
	batches [][]repo.LedgerEntry
	calls   int
	err     error
}

func (l *stubLedger) ClaimOpen(ctx context.Context, staleAfter time.Duration, limit int) ([]repo.LedgerEntry, error) {
	if l.err != nil {
		return nil, l.err
	}
	if l.calls >= len(l.batches) {
		l.calls++
		return nil, nil
	}
	b := l.batches[l.calls]
	l.calls++
	return b, nil
}

type stubFetcher map[string]*domain.Prediction

func (f stubFetcher) Get(ctx context.Context, id string) (*domain.Prediction, error) {
	if p, ok := f[id]; ok {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

func newReconciler(l openLedger, f predictionFetcher, batch int) *reconciler {
	return &reconciler{
		ledger:     l,
		fetcher:    f,
		logger:     zerolog.New(io.Discard),
		interval:   time.Millisecond,
		staleAfter: time.Second,
		batchSize:  batch,
	}
}

func TestSweepSettlesTerminalPredictions(t *testing.T) {
	ledger := &stubLedger{batches: [][]repo.LedgerEntry{
		{{ID: "a"}, {ID: "b"}},
		{{ID: "c"}},
	}}
	fetcher := stubFetcher{
		"a": {ID: "a", Status: domain.JobStatusSucceeded},
		"b": {ID: "b", Status: domain.JobStatusRunning},
		"c": {ID: "c", Status: domain.JobStatusFailed},
	}
	settled, err := newReconciler(ledger, fetcher, 2).sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep error: %v", err)
	}
	if settled != 2 {
		t.Fatalf("settled = %d, want 2", settled)
	}
	if ledger.calls != 2 {
		t.Fatalf("ClaimOpen calls = %d, want 2", ledger.calls)
	}
}

func TestSweepSkipsFetchErrors(t *testing.T) {
	ledger := &stubLedger{batches: [][]repo.LedgerEntry{{{ID: "gone"}, {ID: "a"}}}}
	fetcher := stubFetcher{"a": {ID: "a", Status: domain.JobStatusSucceeded}}
	settled, err := newReconciler(ledger, fetcher, 5).sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep error: %v", err)
	}
	if settled != 1 {
		t.Fatalf("settled = %d, want 1", settled)
	}
}

func TestSweepClaimError(t *testing.T) {
	ledger := &stubLedger{err: errors.New("db down")}
	if _, err := newReconciler(ledger, stubFetcher{}, 5).sweep(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newReconciler(&stubLedger{}, stubFetcher{}, 5).Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
