package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"carbridge/internal/service"
	"carbridge/internal/webhook"
)

const (
	signatureHeader = "SC-Signature"
	maxWebhookBody  = 1 << 20
)

// WebhookHandler receives vendor push messages.
type WebhookHandler struct {
	coord    *service.Coordinator
	verifier *webhook.Verifier
	logger   *zap.Logger
}

// NewWebhookHandler builds the handler.
func NewWebhookHandler(coord *service.Coordinator, verifier *webhook.Verifier, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{coord: coord, verifier: verifier, logger: logger}
}

type verifyProbe struct {
	EventType string `json:"eventType"`
	Data      struct {
		Challenge string `json:"challenge"`
	} `json:"data"`
}

// Handle handles POST /webhooks/vendor. The VERIFY handshake is answered
// before signature validation because the vendor does not sign it.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var probe verifyProbe
	if err := json.Unmarshal(body, &probe); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if probe.EventType == "VERIFY" {
		writeJSON(w, http.StatusOK, map[string]string{
			"challenge": h.verifier.Sign(probe.Data.Challenge),
		})
		return
	}

	result, err := h.coord.Ingest(body, r.Header.Get(signatureHeader), time.Now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSignature):
			// Unsigned or tampered messages get the same response as an
			// unknown route.
			w.WriteHeader(http.StatusNotFound)
		case errors.Is(err, service.ErrUnknownEventType):
			writeError(w, http.StatusBadRequest, "unknown event type")
		default:
			writeError(w, http.StatusBadRequest, "invalid payload")
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}
