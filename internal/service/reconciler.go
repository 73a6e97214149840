package service

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"carbridge/internal/catalog"
	"carbridge/internal/metrics"
	"carbridge/internal/models"
	"carbridge/internal/permissions"
	"carbridge/internal/state"
)

// Verifier authenticates raw push payloads. Implemented by webhook.Verifier.
type Verifier interface {
	Verify(payload []byte, signature string) bool
}

// Units that denote imperial measurements on push signal bodies.
var imperialUnits = map[string]struct{}{
	"miles":   {},
	"psi":     {},
	"gallons": {},
}

// pushEnvelope is the vendor's webhook message shape.
type pushEnvelope struct {
	EventType string `json:"eventType"`
	Data      struct {
		Vehicle struct {
			ID string `json:"id"`
		} `json:"vehicle"`
		Errors  []pushError  `json:"errors"`
		Signals []pushSignal `json:"signals"`
	} `json:"data"`
}

type pushError struct {
	Type       string `json:"type"`
	Resolution struct {
		Type string `json:"type"`
	} `json:"resolution"`
}

type pushSignal struct {
	Name   string `json:"name"`
	Code   string `json:"code"`
	Status struct {
		Value string `json:"value"`
		Error struct {
			Type string `json:"type"`
			Code string `json:"code"`
		} `json:"error"`
	} `json:"status"`
	Body json.RawMessage `json:"body"`
	Meta struct {
		OEMUpdatedAt int64 `json:"oemUpdatedAt"`
		RetrievedAt  int64 `json:"retrievedAt"`
	} `json:"meta"`
}

// IngestResult lists how each mapped key fared during one ingestion.
type IngestResult struct {
	Applied       []models.Key `json:"applied"`
	SuppressedOld []models.Key `json:"suppressed_stale,omitempty"`
	RejectedScope []models.Key `json:"rejected_scope,omitempty"`
}

// Reconciler merges asynchronous push events into the shared state store,
// ahead of or independent from the next scheduled poll.
type Reconciler struct {
	catalog  *catalog.Catalog
	registry *permissions.Registry
	store    *state.Store
	verifier Verifier
	metrics  *metrics.Metrics
	logger   *zap.Logger

	reauthRequired atomic.Bool
}

// NewReconciler builds the reconciler.
func NewReconciler(
	cat *catalog.Catalog,
	registry *permissions.Registry,
	store *state.Store,
	verifier Verifier,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		catalog:  cat,
		registry: registry,
		store:    store,
		verifier: verifier,
		metrics:  m,
		logger:   logger,
	}
}

// ReauthRequired reports whether the vendor has signalled that the granted
// authorization must be renewed.
func (r *Reconciler) ReauthRequired() bool {
	return r.reauthRequired.Load()
}

// Ingest validates, parses and merges one raw push payload. Mapped tuples
// are written exactly as a successful fetch would be, with fetchedAt set to
// the event's receipt time; events older than the stored value are
// suppressed per key.
func (r *Reconciler) Ingest(payload []byte, signature string, receivedAt time.Time) (IngestResult, error) {
	if !r.verifier.Verify(payload, signature) {
		r.metrics.PushEvents.WithLabelValues("invalid_signature").Inc()
		r.logger.Error("ignoring push message with invalid signature")
		return IngestResult{}, ErrInvalidSignature
	}

	var envelope pushEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		r.metrics.PushEvents.WithLabelValues("malformed").Inc()
		return IngestResult{}, ErrMalformedPayload
	}

	r.handleErrors(envelope.Data.Errors)

	if len(envelope.Data.Signals) == 0 && len(envelope.Data.Errors) == 0 {
		r.metrics.PushEvents.WithLabelValues("unknown_event").Inc()
		r.logger.Debug("ignoring push event with no signals",
			zap.String("event_type", envelope.EventType))
		return IngestResult{}, ErrUnknownEventType
	}

	var result IngestResult
	for _, signal := range envelope.Data.Signals {
		r.applySignal(signal, receivedAt, &result)
	}

	r.metrics.PushEvents.WithLabelValues("accepted").Inc()
	return result, nil
}

func (r *Reconciler) handleErrors(errs []pushError) {
	for _, e := range errs {
		if e.Type == "PERMISSION" && e.Resolution.Type == "REAUTHENTICATE" {
			r.logger.Warn("vendor requests re-authentication via push message")
			r.reauthRequired.Store(true)
			continue
		}
		r.logger.Debug("ignoring error in push message", zap.String("type", e.Type))
	}
}

func (r *Reconciler) applySignal(signal pushSignal, receivedAt time.Time, result *IngestResult) {
	descriptors := r.catalog.BySignalCode(signal.Code)
	if len(descriptors) == 0 {
		r.logger.Debug("ignoring signal with unknown code",
			zap.String("name", signal.Name),
			zap.String("code", signal.Code))
		return
	}

	if signal.Status.Value == "ERROR" {
		// Error signals carry no usable value; keep the stored one.
		r.logger.Warn("error status for push signal",
			zap.String("name", signal.Name),
			zap.String("type", signal.Status.Error.Type),
			zap.String("code", signal.Status.Error.Code))
		return
	}

	body, unitSystem := normalizeSignalBody(signal.Body)

	var recordedAt *time.Time
	if signal.Meta.OEMUpdatedAt > 0 {
		t := time.UnixMilli(signal.Meta.OEMUpdatedAt).UTC()
		recordedAt = &t
	}
	fetchedAt := receivedAt
	if signal.Meta.RetrievedAt > 0 {
		fetchedAt = time.UnixMilli(signal.Meta.RetrievedAt).UTC()
	}

	for _, desc := range descriptors {
		if !r.registry.IsEnabled(desc.Key) {
			// The prerequisite scope was revoked after registration;
			// reject rather than silently apply.
			result.RejectedScope = append(result.RejectedScope, desc.Key)
			continue
		}

		value, err := desc.DecodeSignal(body)
		if err != nil {
			r.logger.Warn("failed to decode push signal body",
				zap.String("key", string(desc.Key)),
				zap.Error(err))
			continue
		}

		if r.store.ApplyValue(desc.Key, value, recordedAt, fetchedAt, unitSystem) {
			result.Applied = append(result.Applied, desc.Key)
		} else {
			result.SuppressedOld = append(result.SuppressedOld, desc.Key)
		}
	}
}

// normalizeSignalBody converts percent-unit values to fractions and strips
// the unit field, reporting the implied unit system.
func normalizeSignalBody(raw json.RawMessage) (json.RawMessage, string) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return raw, ""
	}

	unit, _ := body["unit"].(string)
	if unit == "" {
		return raw, ""
	}

	if unit == "percent" {
		if v, ok := body["value"].(float64); ok {
			body["value"] = v / 100
		}
	}
	delete(body, "unit")

	normalized, err := json.Marshal(body)
	if err != nil {
		return raw, ""
	}

	if _, imperial := imperialUnits[unit]; imperial {
		return normalized, "imperial"
	}
	if unit == "percent" {
		return normalized, ""
	}
	return normalized, "metric"
}
