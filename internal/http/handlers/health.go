package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// Health reports ok when every configured dependency answers within two
// seconds.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	if len(a.Checks) == 0 {
		a.json(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(a.Checks))
	for name := range a.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	code := http.StatusOK
	deps := make(map[string]string, len(names))
	for _, name := range names {
		if err := a.Checks[name](ctx); err != nil {
			a.Logger.Warn().Err(err).Str("dependency", name).Msg("health check failed")
			deps[name] = "down"
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}
	a.json(w, code, map[string]any{"status": status, "dependencies": deps})
}
