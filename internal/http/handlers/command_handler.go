package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"carbridge/internal/service"
	"carbridge/internal/vendorapi"
)

type commandRequest struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params"`
}

// NewCommandHandler returns POST /commands handler.
func NewCommandHandler(coord *service.Coordinator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req commandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if req.Command == "" {
			writeError(w, http.StatusBadRequest, "command is required")
			return
		}

		ack, err := coord.SendCommand(r.Context(), service.Command(req.Command), req.Params)
		if err != nil {
			if errors.Is(err, service.ErrUnknownCommand) || errors.Is(err, service.ErrInvalidParams) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			var statusErr *vendorapi.StatusError
			if errors.As(err, &statusErr) {
				writeError(w, http.StatusBadGateway, statusErr.Error())
				return
			}
			logger.Error("command execution failed", zap.String("command", req.Command), zap.Error(err))
			writeError(w, http.StatusBadGateway, "command failed")
			return
		}

		writeJSON(w, http.StatusOK, ack)
	}
}
