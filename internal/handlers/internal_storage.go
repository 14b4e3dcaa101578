package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/katkisiz/api/internal/platform/httpx"
	"github.com/katkisiz/api/internal/platform/observability"
	"github.com/katkisiz/api/internal/platform/textutil"
	"github.com/katkisiz/api/internal/services"
)

const (
	gcsEventFinalize    = "OBJECT_FINALIZE"
	maxPushEnvelopeSize = 256 * 1024
)

// StorageEventHandlers receives Cloud Storage notifications delivered by Pub/Sub push.
type StorageEventHandlers struct {
	analyses services.AnalysisService
}

// NewStorageEventHandlers constructs the internal storage trigger handlers.
func NewStorageEventHandlers(analyses services.AnalysisService) *StorageEventHandlers {
	return &StorageEventHandlers{analyses: analyses}
}

// Routes registers internal endpoints. Authentication is applied by the /internal group middleware.
func (h *StorageEventHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/storage/finalize", h.finalize)
}

type pushEnvelope struct {
	Message struct {
		Data        string            `json:"data"`
		Attributes  map[string]string `json:"attributes"`
		MessageID   string            `json:"messageId"`
		PublishTime string            `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// gcsObject is the JSON_API_V1 notification payload. Generation is a decimal string.
type gcsObject struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Generation  string `json:"generation"`
}

type storageFinalizeResponse struct {
	AnalysisID string `json:"analysis_id,omitempty"`
	Status     string `json:"status,omitempty"`
	Skipped    bool   `json:"skipped"`
	Reason     string `json:"reason,omitempty"`
}

func (h *StorageEventHandlers) finalize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.analyses == nil {
		httpx.WriteError(ctx, w, httpx.NewError("analysis_service_unavailable", "analysis service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := httpx.ReadLimitedBody(r, maxPushEnvelopeSize)
	if err != nil {
		if errors.Is(err, httpx.ErrBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "push envelope exceeds allowed size", http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		return
	}

	var envelope pushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid push envelope", http.StatusBadRequest))
		return
	}

	attributes := textutil.NormalizeStringMap(envelope.Message.Attributes)
	if eventType := attributes["eventType"]; eventType != "" && eventType != gcsEventFinalize {
		// Other notification types share the subscription; acknowledge without work.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	event, ok := decodeStorageEvent(envelope.Message.Data, attributes)
	if !ok {
		// Acknowledge malformed notifications so Pub/Sub stops redelivering them.
		observability.FromContext(ctx).Warn("storage notification dropped",
			zap.String("messageId", envelope.Message.MessageID),
			zap.String("subscription", envelope.Subscription),
		)
		httpx.WriteJSON(w, http.StatusOK, storageFinalizeResponse{Skipped: true, Reason: "invalid_event"})
		return
	}

	result, err := h.analyses.ProcessStorageObject(ctx, event)
	if err != nil {
		if errors.Is(err, services.ErrAnalysisUnavailable) {
			httpx.WriteError(ctx, w, httpx.NewError("analysis_unavailable", "a required dependency is unavailable", http.StatusServiceUnavailable))
			return
		}
		if errors.Is(err, services.ErrAnalysisInvalidInput) {
			httpx.WriteJSON(w, http.StatusOK, storageFinalizeResponse{Skipped: true, Reason: "invalid_event"})
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("storage_processing_failed", "failed to process storage object", http.StatusInternalServerError))
		return
	}

	httpx.WriteJSON(w, http.StatusOK, storageFinalizeResponse{
		AnalysisID: result.AnalysisID,
		Status:     string(result.Status),
		Skipped:    result.Skipped,
		Reason:     result.Reason,
	})
}

// decodeStorageEvent prefers the object resource in the message data and falls back to notification attributes.
func decodeStorageEvent(data string, attributes map[string]string) (services.StorageObjectEvent, bool) {
	var object gcsObject
	if raw := strings.TrimSpace(data); raw != "" {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return services.StorageObjectEvent{}, false
		}
		if err := json.Unmarshal(decoded, &object); err != nil {
			return services.StorageObjectEvent{}, false
		}
	}

	event := services.StorageObjectEvent{
		Bucket:      firstNonEmpty(object.Bucket, attributes["bucketId"]),
		Name:        firstNonEmpty(object.Name, attributes["objectId"]),
		ContentType: strings.TrimSpace(object.ContentType),
	}
	if generation := firstNonEmpty(object.Generation, attributes["objectGeneration"]); generation != "" {
		parsed, err := strconv.ParseInt(generation, 10, 64)
		if err != nil {
			return services.StorageObjectEvent{}, false
		}
		event.Generation = parsed
	}
	if event.Bucket == "" || event.Name == "" {
		return services.StorageObjectEvent{}, false
	}
	return event, true
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
