package handlers

import (
	"net/http"

	"carbridge/internal/service"
)

// NewHealthHandler returns GET /health handler. Besides liveness it exposes
// the scheduler state and whether the vendor has requested re-auth.
func NewHealthHandler(coord *service.Coordinator, scheduler *service.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":          "ok",
			"scheduler":       scheduler.State(),
			"reauth_required": coord.ReauthRequired(),
		})
	}
}
