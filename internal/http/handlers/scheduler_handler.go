package handlers

import (
	"encoding/json"
	"net/http"

	"carbridge/internal/service"
)

type schedulerRequest struct {
	Action string `json:"action"`
}

// NewSchedulerHandler returns POST /scheduler handler toggling automatic
// polling. On-demand refreshes keep working while polling is disabled.
func NewSchedulerHandler(scheduler *service.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req schedulerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}

		switch req.Action {
		case "enable":
			scheduler.Enable(r.Context())
		case "disable":
			scheduler.Disable(r.Context())
		default:
			writeError(w, http.StatusBadRequest, "action must be enable or disable")
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"state": scheduler.State(),
		})
	}
}
