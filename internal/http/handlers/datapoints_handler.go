package handlers

import (
	"net/http"

	"carbridge/internal/models"
	"carbridge/internal/service"
)

// NewDatapointsHandler returns GET /datapoints handler with the full read
// model snapshot.
func NewDatapointsHandler(coord *service.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"datapoints": coord.Snapshot(),
		})
	}
}

// NewDatapointReadHandler returns GET /datapoints/read?key= handler for a
// single data point state.
func NewDatapointReadHandler(coord *service.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if key == "" {
			writeError(w, http.StatusBadRequest, "key is required")
			return
		}

		state, ok := coord.Read(models.Key(key))
		if !ok {
			writeError(w, http.StatusNotFound, "no data for key")
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}
