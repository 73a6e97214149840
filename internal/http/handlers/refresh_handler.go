package handlers

import (
	"encoding/json"
	"net/http"

	"carbridge/internal/models"
	"carbridge/internal/service"
)

type refreshRequest struct {
	Keys []string `json:"keys"`
}

// NewRefreshHandler returns POST /datapoints/refresh handler. An empty key
// list refreshes every enabled data point.
func NewRefreshHandler(coord *service.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}

		keys := make([]models.Key, 0, len(req.Keys))
		for _, k := range req.Keys {
			keys = append(keys, models.Key(k))
		}

		results := coord.RequestRefresh(r.Context(), keys)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"results": results,
		})
	}
}
