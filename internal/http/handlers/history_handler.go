package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"carbridge/internal/models"
	"carbridge/internal/repository"
)

// NewHistoryHandler returns GET /datapoints/history?key=&limit= handler.
func NewHistoryHandler(repo *repository.ReadingsRepository, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if key == "" {
			writeError(w, http.StatusBadRequest, "key is required")
			return
		}

		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = parsed
		}

		readings, err := repo.ListRecent(r.Context(), models.Key(key), limit)
		if err != nil {
			logger.Error("failed to list readings", zap.String("key", key), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to fetch history")
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"readings": readings,
		})
	}
}
