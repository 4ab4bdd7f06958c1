package conversation

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// StreamEvent represents different types of streaming events
type StreamEvent struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	EventID   string      `json:"event_id"`
	IsFinal   bool        `json:"is_final,omitempty"`
}

// StreamEventType constants
const (
	EventTypeStart            = "start"
	EventTypeProgress         = "progress"
	EventTypeGeneratedContent = "generated_content"
	EventTypeDetectedLocation = "detected_location"
	EventTypeRankedResults    = "ranked_results"
	EventTypeMessage          = "message"
	EventTypeError            = "error"
	EventTypeComplete         = "complete"
)

// StreamingResponse wraps the streaming channel and metadata
type StreamingResponse struct {
	SessionID uuid.UUID
	Stream    <-chan StreamEvent
	Cancel    context.CancelFunc
}

func (s *ServiceImpl) sendEvent(ctx context.Context, ch chan<- StreamEvent, event StreamEvent) (sent bool) {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "Context cancelled, not sending stream event", slog.String("eventType", event.Type))
		return false
	default:
		select {
		case ch <- event:
			return true
		case <-ctx.Done():
			s.logger.WarnContext(ctx, "Context cancelled while trying to send stream event", slog.String("eventType", event.Type))
			return false
		case <-time.After(2 * time.Second):
			s.logger.WarnContext(ctx, "Dropped stream event due to slow consumer or blocked channel (timeout)", slog.String("eventType", event.Type))
			return false
		}
	}
}

func (s *ServiceImpl) sendProgress(ctx context.Context, ch chan<- StreamEvent, status string) {
	s.sendEvent(ctx, ch, StreamEvent{
		Type: EventTypeProgress,
		Data: map[string]string{"status": status},
	})
}

func (s *ServiceImpl) sendError(ctx context.Context, ch chan<- StreamEvent, message string) {
	s.sendEvent(ctx, ch, StreamEvent{
		Type:  EventTypeError,
		Error: message,
	})
}
