package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/FACorreiaa/go-city-concierge/internal/api"
	"github.com/FACorreiaa/go-city-concierge/internal/types"
)

type Handler struct {
	service Service
	logger  *slog.Logger
}

func NewHandler(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// TurnRequest is the body of a conversation turn. History and state come
// from the client's last terminal payload; a brand-new conversation sends
// only the message.
type TurnRequest struct {
	Message string                      `json:"message"`
	History []types.ConversationMessage `json:"history,omitempty"`
	State   types.ConversationState     `json:"state,omitempty"`
}

// RunTurnHandler streams the events of one conversation turn over SSE.
func (h *Handler) RunTurnHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("ConversationHandler").Start(r.Context(), "RunTurnHandler")
	defer span.End()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeSSEError(w, "Invalid request body")
		span.RecordError(err)
		return
	}
	if req.Message == "" {
		h.writeSSEError(w, "message is required")
		return
	}

	streamResp, err := h.service.RunTurn(ctx, req.Message, req.History, req.State)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to start turn", slog.Any("error", err))
		span.RecordError(err)
		h.writeSSEError(w, fmt.Sprintf("Failed to start turn: %v", err))
		return
	}
	defer streamResp.Cancel()

	h.logger.InfoContext(ctx, "Started streaming turn",
		slog.String("session_id", streamResp.SessionID.String()))

	for {
		select {
		case event, ok := <-streamResp.Stream:
			if !ok {
				h.logger.InfoContext(ctx, "Stream closed",
					slog.String("session_id", streamResp.SessionID.String()))
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.ErrorContext(ctx, "Failed to marshal event", slog.Any("error", err))
				continue
			}
			fmt.Fprintf(w, "id: %s\n", event.EventID)
			fmt.Fprintf(w, "event: %s\n", event.Type)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()

		case <-ctx.Done():
			h.logger.InfoContext(ctx, "Client disconnected",
				slog.String("session_id", streamResp.SessionID.String()))
			return
		}
	}
}

// GetSessionHandler returns the stored session with its history, state and
// last results.
func (h *Handler) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("ConversationHandler").Start(r.Context(), "GetSessionHandler")
	defer span.End()

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid session ID")
		return
	}

	session, err := h.service.GetSession(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		api.ErrorResponse(w, r, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to fetch session", slog.Any("error", err))
		span.RecordError(err)
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to fetch session")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, session)
}

func (h *Handler) writeSSEError(w http.ResponseWriter, errorMsg string) {
	event := StreamEvent{
		Type:      EventTypeError,
		Error:     errorMsg,
		Timestamp: time.Now(),
		EventID:   uuid.New().String(),
	}
	data, _ := json.Marshal(event)
	fmt.Fprintf(w, "id: %s\n", event.EventID)
	fmt.Fprintf(w, "event: %s\n", event.Type)
	fmt.Fprintf(w, "data: %s\n\n", data)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}
