package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angeloszaimis/dispatcher/internal/circuitbreaker"
	"github.com/angeloszaimis/dispatcher/internal/dispatch"
	"github.com/angeloszaimis/dispatcher/internal/ledger"
)

// Dispatcher is the part of *dispatch.Engine the HTTP layer needs.
type Dispatcher interface {
	Send(ctx context.Context, msg dispatch.Message) (dispatch.Outcome, error)
	GetStatus(id string) (ledger.Record, bool)
	Breakers() []circuitbreaker.BreakerStatus
	Stats() dispatch.Stats
}

type DispatchHandler struct {
	logger     *slog.Logger
	dispatcher Dispatcher
}

type submitResponse struct {
	dispatch.Outcome
	Error string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewDispatchHandler(logger *slog.Logger, dispatcher Dispatcher) *DispatchHandler {
	return &DispatchHandler{
		logger:     logger,
		dispatcher: dispatcher,
	}
}

// Submit accepts a message and responds once its outcome is known.
func (h *DispatchHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var msg dispatch.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json: " + err.Error()})
		return
	}

	h.logger.Info("Received message",
		slog.String("request_id", GetRequestID(r.Context())),
		slog.String("message_id", msg.ID))

	outcome, err := h.dispatcher.Send(r.Context(), msg)
	if err != nil {
		code := statusCode(err)
		h.logger.Warn("Message not delivered",
			slog.String("request_id", GetRequestID(r.Context())),
			slog.String("message_id", msg.ID),
			slog.Int("code", code),
			slog.String("error", err.Error()))
		writeJSON(w, code, submitResponse{Outcome: outcome, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, submitResponse{Outcome: outcome})
}

// Status returns the latest record for a message ID.
func (h *DispatchHandler) Status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, ok := h.dispatcher.GetStatus(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown message id"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *DispatchHandler) Breakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dispatcher.Breakers())
}

func (h *DispatchHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dispatcher.Stats())
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrInvalidMessage):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, dispatch.ErrRetriesExhausted):
		return http.StatusBadGateway
	case errors.Is(err, dispatch.ErrEngineClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
