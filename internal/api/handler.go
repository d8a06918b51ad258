package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harmonia-erp/pulse/internal/automation"
	"github.com/harmonia-erp/pulse/internal/event"
	"github.com/harmonia-erp/pulse/internal/stream"
)

const defaultListCount = 50

// StreamAdmin is the broker surface the admin endpoints use.
// *stream.Client satisfies it.
type StreamAdmin interface {
	StreamInfo(ctx context.Context, name string) (*stream.StreamSummary, error)
	GroupInfo(ctx context.Context, name, group string) (*stream.GroupSummary, error)
	Pending(ctx context.Context, name, group string, count int64) ([]stream.PendingEntry, error)
	Range(ctx context.Context, name string, count int64) ([]stream.Message, error)
	Get(ctx context.Context, name, id string) (*stream.Message, error)
	Add(ctx context.Context, name string, values map[string]any) (string, error)
	Delete(ctx context.Context, name string, ids ...string) error
	Ping(ctx context.Context) error
}

// RuleAdmin exposes loaded rules and hot reload.
type RuleAdmin interface {
	Rules() []*automation.Rule
	Reload() ([]*automation.Rule, error)
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	admin     StreamAdmin
	publisher *stream.Publisher
	engine    *automation.Engine
	rules     RuleAdmin
	streams   stream.StreamNames
	mux       *http.ServeMux
}

// New creates an HTTP handler and registers all routes.
func New(admin StreamAdmin, pub *stream.Publisher, eng *automation.Engine, rules RuleAdmin, streams stream.StreamNames) http.Handler {
	h := &Handler{
		admin:     admin,
		publisher: pub,
		engine:    eng,
		rules:     rules,
		streams:   streams,
		mux:       http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/events", h.publishEvent)
	h.mux.HandleFunc("GET /v1/streams/{name}", h.streamInfo)
	h.mux.HandleFunc("GET /v1/streams/{name}/groups/{group}", h.groupInfo)
	h.mux.HandleFunc("GET /v1/streams/{name}/groups/{group}/pending", h.pending)
	h.mux.HandleFunc("GET /v1/failed", h.listFailed)
	h.mux.HandleFunc("POST /v1/failed/{id}/reprocess", h.reprocessFailed)
	h.mux.HandleFunc("GET /v1/rules", h.listRules)
	h.mux.HandleFunc("POST /v1/rules/reload", h.reloadRules)
	h.mux.HandleFunc("POST /v1/rules/{id}/execute", h.executeRule)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.mux)
}

// publishRequest is the POST /v1/events body.
type publishRequest struct {
	EventType  string          `json:"event_type"`
	EntityType string          `json:"entity_type"`
	EntityID   uuid.UUID       `json:"entity_id"`
	TenantID   uuid.UUID       `json:"tenant_id"`
	UserID     *uuid.UUID      `json:"user_id,omitempty"`
	Metadata   *event.Metadata `json:"metadata,omitempty"`
}

// POST /v1/events — validate and append one event to the bus.
func (h *Handler) publishEvent(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	meta := event.Metadata{}
	if req.Metadata != nil {
		meta = *req.Metadata
	}
	msgID, ev, err := h.publisher.Publish(r.Context(), req.EventType, req.EntityType, req.EntityID, req.TenantID, req.UserID, meta)
	if err != nil {
		if errors.Is(err, event.ErrInvalidType) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message_id": msgID,
		"event_id":   ev.ID,
		"stream":     h.publisher.StreamFor(ev.Type),
	})
}

// GET /v1/streams/{name} — stream introspection.
func (h *Handler) streamInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.admin.StreamInfo(r.Context(), r.PathValue("name"))
	if err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// GET /v1/streams/{name}/groups/{group} — consumer group introspection.
func (h *Handler) groupInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.admin.GroupInfo(r.Context(), r.PathValue("name"), r.PathValue("group"))
	if err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// GET /v1/streams/{name}/groups/{group}/pending — unacknowledged messages.
func (h *Handler) pending(w http.ResponseWriter, r *http.Request) {
	entries, err := h.admin.Pending(r.Context(), r.PathValue("name"), r.PathValue("group"), countParam(r))
	if err != nil {
		writeAdminError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"message_id":  e.ID,
			"consumer":    e.Consumer,
			"idle_ms":     e.Idle.Milliseconds(),
			"retry_count": e.RetryCount,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": out, "total": len(out)})
}

// GET /v1/failed — newest dead-lettered entries.
func (h *Handler) listFailed(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.admin.Range(r.Context(), h.streams.Failed, countParam(r))
	if err != nil {
		writeAdminError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		entry := map[string]any{"message_id": m.ID}
		for k, v := range m.Values {
			entry[k] = v
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"failed": out, "total": len(out)})
}

// POST /v1/failed/{id}/reprocess — re-append a dead-lettered entry to its
// original stream and delete it from the failed stream.
func (h *Handler) reprocessFailed(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	msg, err := h.admin.Get(r.Context(), h.streams.Failed, id)
	if err != nil {
		writeAdminError(w, err)
		return
	}

	original, _ := msg.Values["original_stream"].(string)
	if original == "" {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("entry %s has no original_stream", id))
		return
	}
	values := make(map[string]any, len(msg.Values))
	for k, v := range msg.Values {
		switch k {
		case "original_stream", "original_message_id", "error_info", "failed_at":
			continue
		}
		values[k] = v
	}

	newID, err := h.admin.Add(r.Context(), original, values)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	if err := h.admin.Delete(r.Context(), h.streams.Failed, id); err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message_id": newID,
		"stream":     original,
	})
}

// GET /v1/rules — list loaded rules.
func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	rules := h.rules.Rules()
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules, "total": len(rules)})
}

// POST /v1/rules/reload — hot-reload rules from disk.
func (h *Handler) reloadRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.rules.Reload()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reloaded": true, "rules_count": len(rules)})
}

// executeRequest optionally shapes the synthetic event for a manual run.
type executeRequest struct {
	EventType      string         `json:"event_type,omitempty"`
	EntityType     string         `json:"entity_type,omitempty"`
	EntityID       uuid.UUID      `json:"entity_id,omitempty"`
	TenantID       uuid.UUID      `json:"tenant_id,omitempty"`
	AdditionalData map[string]any `json:"additional_data,omitempty"`
}

// POST /v1/rules/{id}/execute — run a rule manually.
func (h *Handler) executeRule(w http.ResponseWriter, r *http.Request) {
	ruleID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid rule id: %s", err))
		return
	}

	var synthetic *event.Event
	if r.ContentLength > 0 {
		var req executeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
			return
		}
		if req.EventType != "" {
			synthetic, err = event.New(req.EventType, req.EntityType, req.EntityID, req.TenantID, nil, event.Metadata{
				Source:         "manual_execution",
				AdditionalData: req.AdditionalData,
			})
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
	}

	exec, err := h.engine.ExecuteManual(r.Context(), ruleID, synthetic)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// GET /healthz — always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz — 503 when the broker is unreachable.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "broker unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func countParam(r *http.Request) int64 {
	if raw := r.URL.Query().Get("count"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return defaultListCount
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("http request",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
