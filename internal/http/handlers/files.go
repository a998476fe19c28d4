package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"path"

	"github.com/go-chi/chi/v5"

	"meshrelay/internal/domain"
	"meshrelay/internal/storage"
)

// ServeFile streams an object written by the filesystem store. Only URLs
// signed by the same store are honoured.
func (a *App) ServeFile(w http.ResponseWriter, r *http.Request) {
	if a.Files == nil {
		a.detail(w, http.StatusNotFound, "Not found")
		return
	}
	key, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || key == "" {
		a.detail(w, http.StatusNotFound, "Not found")
		return
	}
	q := r.URL.Query()
	if err := a.Files.Verify(key, q.Get("expires"), q.Get("sig")); err != nil {
		msg := "Invalid signature"
		if errors.Is(err, storage.ErrURLExpired) {
			msg = "URL expired"
		}
		a.error(w, http.StatusForbidden, msg)
		return
	}

	f, err := a.Files.Open(key)
	if errors.Is(err, domain.ErrNotFound) {
		a.detail(w, http.StatusNotFound, "Not found")
		return
	}
	if err != nil {
		a.Logger.Error().Err(err).Str("key", key).Msg("open stored file")
		a.detail(w, http.StatusInternalServerError, "Failed to read file")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		a.detail(w, http.StatusInternalServerError, "Failed to read file")
		return
	}
	w.Header().Set("Cache-Control", "private, no-store")
	http.ServeContent(w, r, path.Base(key), info.ModTime(), f)
}
