// Package handler serves the event endpoint. Authentication happens in
// middleware before routing; everything after it (method, body shape,
// eventType dispatch, validation and forwarding) happens here.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ThaoDoan2/ElasticClient/internal/ingestion"
	"github.com/ThaoDoan2/ElasticClient/internal/ingestion/validator"
	"github.com/ThaoDoan2/ElasticClient/internal/telemetry"
	"github.com/ThaoDoan2/ElasticClient/pkg/config"
	apperrors "github.com/ThaoDoan2/ElasticClient/pkg/errors"
	"github.com/ThaoDoan2/ElasticClient/pkg/logger"
	"github.com/ThaoDoan2/ElasticClient/pkg/metrics"
)

// Publisher forwards records to storage.
type Publisher interface {
	Publish(ctx context.Context, rec telemetry.Record) (string, error)
	PublishBatch(ctx context.Context, recs []telemetry.Record) ([]string, []error, error)
}

// Deleter removes stored documents.
type Deleter interface {
	Delete(ctx context.Context, collection, id string) error
}

type Handler struct {
	publisher    Publisher
	deleter      Deleter
	maxBodyBytes int64
	maxBatchSize int
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

func New(pub Publisher, del Deleter, cfg config.IngestionConfig, m *metrics.Metrics) *Handler {
	return &Handler{
		publisher:    pub,
		deleter:      del,
		maxBodyBytes: cfg.MaxBodyBytes,
		maxBatchSize: cfg.MaxBatchSize,
		metrics:      m,
		logger:       slog.Default().With("component", "ingestion-handler"),
	}
}

// Register mounts the event routes. Methods are checked in the handlers so
// that every rejection carries a JSON body.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/logEvent", h.LogEvent)
	mux.HandleFunc("/logEvent/batch", h.LogBatch)
	mux.HandleFunc("/logEvent/{eventType}/{id}", h.DeleteEvent)
}

// eventError is a client-facing rejection of one event.
type eventError struct {
	status  int
	message string
	fields  map[string]string
}

// LogEvent accepts one event.
func (h *Handler) LogEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}
	ctx := r.Context()
	log := logger.FromContext(ctx)

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	rec, evErr := h.decodeEvent(body)
	if evErr != nil {
		h.reject(w, evErr)
		return
	}

	id, err := h.publisher.Publish(ctx, rec)
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		log.Error("event forwarding failed",
			"eventType", rec.Kind(),
			"error", err,
			"status_code", status,
		)
		h.writeError(w, status, "Error: "+err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, ingestion.LogResponse{
		Message:   fmt.Sprintf("Logged %s event", rec.Kind().Label()),
		EventType: rec.Kind(),
		ID:        id,
	})
}

// LogBatch accepts a JSON array of events. Invalid elements are reported
// per index and do not block the valid ones.
func (h *Handler) LogBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}
	ctx := r.Context()

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(body, &elems); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON body: expected an array of events")
		return
	}
	if len(elems) == 0 {
		h.writeError(w, http.StatusBadRequest, "Empty batch")
		return
	}
	if h.maxBatchSize > 0 && len(elems) > h.maxBatchSize {
		h.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Batch exceeds %d events", h.maxBatchSize))
		return
	}

	resp := ingestion.BatchResponse{Items: make([]ingestion.BatchItem, len(elems))}
	var recs []telemetry.Record
	var positions []int
	for i, raw := range elems {
		resp.Items[i].Index = i
		rec, evErr := h.decodeEvent(raw)
		if evErr != nil {
			resp.Items[i].Error = evErr.message
			resp.Items[i].Fields = evErr.fields
			continue
		}
		resp.Items[i].EventType = rec.Kind()
		recs = append(recs, rec)
		positions = append(positions, i)
	}

	if len(recs) > 0 {
		ids, errs, err := h.publisher.PublishBatch(ctx, recs)
		if err != nil {
			status := apperrors.HTTPStatusCode(err)
			logger.FromContext(ctx).Error("batch forwarding failed", "events", len(recs), "error", err)
			h.writeError(w, status, "Error: "+err.Error())
			return
		}
		for j, pos := range positions {
			if errs[j] != nil {
				resp.Items[pos].Error = "Error: " + errs[j].Error()
				continue
			}
			resp.Items[pos].ID = ids[j]
		}
	}
	for _, it := range resp.Items {
		if it.Error != "" {
			resp.Rejected++
		} else {
			resp.Accepted++
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// DeleteEvent removes one stored event.
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.Header().Set("Allow", http.MethodDelete)
		h.writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}
	raw := r.PathValue("eventType")
	kind, ok := telemetry.ParseKind(raw)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Unknown eventType: "+raw)
		return
	}
	id := r.PathValue("id")
	if err := h.deleter.Delete(r.Context(), kind.Collection(), id); err != nil {
		status := apperrors.HTTPStatusCode(err)
		if errors.Is(err, apperrors.ErrNotFound) {
			h.writeError(w, status, "Document not found")
			return
		}
		logger.FromContext(r.Context()).Error("delete failed", "eventType", kind, "id", id, "error", err)
		h.writeError(w, status, "Error: "+err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, ingestion.LogResponse{
		Message:   fmt.Sprintf("Deleted %s event", kind.Label()),
		EventType: kind,
		ID:        id,
	})
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	reader := r.Body
	if h.maxBodyBytes > 0 {
		reader = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit))
			return nil, false
		}
		h.writeError(w, http.StatusBadRequest, "Error reading request body")
		return nil, false
	}
	return body, true
}

// decodeEvent dispatches raw on its eventType, decodes the matching record
// and validates it.
func (h *Handler) decodeEvent(raw []byte) (telemetry.Record, *eventError) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil || top == nil {
		h.metrics.EventIngested("unknown", "rejected")
		return nil, &eventError{status: http.StatusBadRequest, message: "Invalid JSON body"}
	}
	rawType, ok := top["eventType"]
	if !ok {
		h.metrics.EventIngested("unknown", "rejected")
		return nil, &eventError{status: http.StatusBadRequest, message: "Missing eventType field"}
	}
	// a present but null eventType is an unknown type, not a missing one
	var name string
	if err := json.Unmarshal(rawType, &name); err != nil || string(rawType) == "null" {
		name = string(rawType)
	}
	kind, ok := telemetry.ParseKind(name)
	if !ok {
		h.metrics.EventIngested("unknown", "rejected")
		return nil, &eventError{status: http.StatusBadRequest, message: "Unknown eventType: " + name}
	}

	rec, err := telemetry.Decode(kind, raw)
	if err != nil {
		h.metrics.EventIngested(string(kind), "rejected")
		return nil, &eventError{status: http.StatusBadRequest, message: "Invalid " + kind.Label() + " event: " + err.Error()}
	}
	if err := validator.ValidateRecord(rec); err != nil {
		h.metrics.EventIngested(string(kind), "rejected")
		var verr *validator.ValidationError
		if errors.As(err, &verr) {
			return nil, &eventError{status: http.StatusBadRequest, message: "validation failed", fields: verr.Fields}
		}
		return nil, &eventError{status: http.StatusBadRequest, message: err.Error()}
	}
	return rec, nil
}

func (h *Handler) reject(w http.ResponseWriter, e *eventError) {
	if e.fields != nil {
		h.writeJSON(w, e.status, map[string]any{
			"error":  e.message,
			"fields": e.fields,
		})
		return
	}
	h.writeError(w, e.status, e.message)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
