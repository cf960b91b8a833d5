package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"greentech/models"
	"greentech/services"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Telemetry is the telemetry session as seen by the API.
type Telemetry interface {
	Snapshot() models.SensorState
	ConnectionState() models.ConnectionState
	PendingCount() int
	Send(topic, payload string) error
}

type Alerts interface {
	Refresh(ctx context.Context)
	Summary() services.AlertSummary
	Resolve(ctx context.Context, id string) error
	Dismiss(ctx context.Context, id string) error
}

type Analytics interface {
	Latest() models.AnalyticsResult
}

type Handler struct {
	telemetry Telemetry
	alerts    Alerts
	analytics Analytics
	logger    *zap.Logger
}

func NewHandler(telemetry Telemetry, alerts Alerts, analytics Analytics, logger *zap.Logger) *Handler {
	return &Handler{
		telemetry: telemetry,
		alerts:    alerts,
		analytics: analytics,
		logger:    logger,
	}
}

type stateResponse struct {
	Sensors    models.SensorState     `json:"sensors"`
	Received   []string               `json:"received"`
	Connection models.ConnectionState `json:"connection"`
	Pending    int                    `json:"pending_commands"`
}

type commandRequest struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	conn := h.telemetry.ConnectionState()
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"broker": string(conn.Status),
	})
}

func (h *Handler) HandleState(w http.ResponseWriter, r *http.Request) {
	state := h.telemetry.Snapshot()

	received := make([]string, 0, len(models.AllTopics()))
	for _, t := range models.AllTopics() {
		if state.Received.Has(t) {
			received = append(received, t.String())
		}
	}

	writeJSON(w, http.StatusOK, stateResponse{
		Sensors:    state,
		Received:   received,
		Connection: h.telemetry.ConnectionState(),
		Pending:    h.telemetry.PendingCount(),
	})
}

func (h *Handler) HandleAnalytics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.analytics.Latest())
}

func (h *Handler) HandleListAlerts(w http.ResponseWriter, r *http.Request) {
	h.alerts.Refresh(r.Context())
	writeJSON(w, http.StatusOK, h.alerts.Summary())
}

func (h *Handler) HandleResolveAlert(w http.ResponseWriter, r *http.Request) {
	h.closeAlert(w, r, h.alerts.Resolve)
}

func (h *Handler) HandleDismissAlert(w http.ResponseWriter, r *http.Request) {
	h.closeAlert(w, r, h.alerts.Dismiss)
}

func (h *Handler) closeAlert(w http.ResponseWriter, r *http.Request, action func(context.Context, string) error) {
	id := chi.URLParam(r, "id")

	err := action(r.Context(), id)
	switch {
	case errors.Is(err, services.ErrAlertNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	case err != nil:
		h.logger.Error("Failed to update alert", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusBadGateway, err)
		return
	}

	writeJSON(w, http.StatusOK, h.alerts.Summary())
}

// HandleCommand queues or publishes an actuator command. It never waits for the broker.
func (h *Handler) HandleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("cannot parse JSON"))
		return
	}

	if err := h.telemetry.Send(req.Topic, req.Payload); err != nil {
		if errors.Is(err, models.ErrUnknownTopic) || errors.Is(err, models.ErrInvalidPayload) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	status := "queued"
	if h.telemetry.ConnectionState().IsConnected() {
		status = "sent"
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": status})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
