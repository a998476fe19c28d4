package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"meshrelay/internal/domain"
	"meshrelay/internal/normalize"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"

	createFailed = "An unexpected error occurred during prediction creation."
	fetchFailed  = "An error occurred while fetching the prediction."
)

func (a *App) CreatePrediction(w http.ResponseWriter, r *http.Request) {
	if a.Predictions == nil || !a.Predictions.HasCredentials() {
		a.fail(w, r, domain.Configuration(domain.ErrMissingCredential, "Missing REPLICATE_API_TOKEN"), createFailed)
		return
	}
	form, err := normalize.FromRequest(r, a.MaxUploadBytes)
	if err != nil {
		a.fail(w, r, err, createFailed)
		return
	}
	req, err := a.Normalizer.Normalize(form)
	if err != nil {
		a.fail(w, r, err, createFailed)
		return
	}
	req.IdempotencyKey = strings.TrimSpace(r.Header.Get(idempotencyHeader))

	pred, replayed, err := a.Predictions.Create(r.Context(), req)
	if err != nil {
		a.fail(w, r, err, createFailed)
		return
	}
	if replayed {
		w.Header().Set(replayedHeader, "true")
		a.json(w, http.StatusOK, pred)
		return
	}
	a.json(w, http.StatusCreated, pred)
}

// GetPrediction returns the current job state. With ?wait= it long-polls
// until the job is terminal or the wait elapses, answering with the last
// state either way. The wait is clipped to MaxWait.
func (a *App) GetPrediction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		a.detail(w, http.StatusNotFound, "Prediction not found")
		return
	}

	wait, err := parseWait(r.URL.Query().Get("wait"))
	if err != nil {
		a.error(w, http.StatusBadRequest, err.Error())
		return
	}

	if a.MaxWait > 0 && wait > a.MaxWait {
		wait = a.MaxWait
	}

	var pred *domain.Prediction
	if wait > 0 {
		pred, err = a.Predictions.Wait(r.Context(), id, wait, nil)
		if errors.Is(err, domain.ErrPollTimeout) && pred != nil {
			err = nil
		}
	} else {
		pred, err = a.Predictions.Get(r.Context(), id)
	}
	if err != nil {
		a.failFetch(w, r, err)
		return
	}
	a.json(w, http.StatusOK, pred)
}

// PredictionAsset redirects to a directly loadable output or serves the
// model extracted from an output archive.
func (a *App) PredictionAsset(w http.ResponseWriter, r *http.Request) {
	pred, ok := a.loadPrediction(w, r)
	if !ok {
		return
	}
	result, err := a.Presenter.Resolve(r.Context(), pred)
	if err != nil {
		a.fail(w, r, err, fetchFailed)
		return
	}
	if result.Redirect != "" {
		http.Redirect(w, r, result.Redirect, http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", result.Asset.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Asset.Data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", result.Asset.Filename))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Asset.Data)
}

// PredictionArchive bundles every output of a succeeded job into a zip.
func (a *App) PredictionArchive(w http.ResponseWriter, r *http.Request) {
	pred, ok := a.loadPrediction(w, r)
	if !ok {
		return
	}
	archive, err := a.Presenter.Bundle(r.Context(), pred)
	if err != nil {
		a.fail(w, r, err, fetchFailed)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=prediction-%s.zip", pred.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

func (a *App) loadPrediction(w http.ResponseWriter, r *http.Request) (*domain.Prediction, bool) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		a.detail(w, http.StatusNotFound, "Prediction not found")
		return nil, false
	}
	pred, err := a.Predictions.Get(r.Context(), id)
	if err != nil {
		a.failFetch(w, r, err)
		return nil, false
	}
	return pred, true
}

// failFetch collapses every non-404 read failure into the generic fetch
// message, except a missing credential which is reported as such.
func (a *App) failFetch(w http.ResponseWriter, r *http.Request, err error) {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		a.fail(w, r, domain.NewError(domain.KindNotFound, err, "Prediction not found"), fetchFailed)
	case domain.KindConfiguration:
		a.fail(w, r, err, fetchFailed)
	default:
		a.fail(w, r, domain.Transport(err, fetchFailed), fetchFailed)
	}
}

func parseWait(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, errors.New("wait must not be negative")
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.New("wait must be a duration such as 30s")
	}
	if d < 0 {
		return 0, errors.New("wait must not be negative")
	}
	return d, nil
}
