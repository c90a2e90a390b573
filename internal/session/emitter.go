package session

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"popkit/internal/config"
	"popkit/internal/events"
)

// EmitInput is one outbound analytics record. It mirrors the ingestion API
// payload; ordering between concurrently emitted events is not guaranteed,
// each record carries its own timestamp.
type EmitInput struct {
	Shop         string                 `json:"shop"`
	PopupID      uint                   `json:"popup_id,omitempty"`
	EventType    events.EventType       `json:"event_type"`
	SessionID    string                 `json:"session_id"`
	Email        string                 `json:"email,omitempty"`
	DiscountCode string                 `json:"discount_code,omitempty"`
	PrizeLabel   string                 `json:"prize_label,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// Emitter sends analytics events. Implementations are best-effort and
// at-most-once: a failed or timed-out emit is dropped, never retried.
type Emitter interface {
	Emit(ctx context.Context, input EmitInput)
}

// HTTPEmitter posts events to the ingestion endpoint, fire-and-forget, with
// a hard timeout. Failures are swallowed so they can never interrupt the
// visitor-facing flow.
type HTTPEmitter struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPEmitter creates an emitter with the given hard timeout. A
// non-positive timeout falls back to the configured default.
func NewHTTPEmitter(endpoint string, timeout time.Duration, logger *slog.Logger) *HTTPEmitter {
	if timeout <= 0 {
		timeout = time.Duration(config.GetConfig().EmitTimeoutSeconds) * time.Second
	}
	return &HTTPEmitter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Emit sends the event in the background. The caller never observes the
// outcome; the context cancels an in-flight send on session teardown.
func (e *HTTPEmitter) Emit(ctx context.Context, input EmitInput) {
	go func() {
		body, err := json.Marshal(input)
		if err != nil {
			e.logger.Debug("Dropped unencodable event", slog.Any("error", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
		if err != nil {
			e.logger.Debug("Dropped event, bad request", slog.Any("error", err))
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			// At-most-once: a timeout or cancellation is a silent drop.
			e.logger.Debug("Dropped event, send failed",
				slog.String("event_type", string(input.EventType)),
				slog.Any("error", err))
			return
		}
		resp.Body.Close()
	}()
}

// RecordingEmitter captures emitted events in memory; used in tests and as a
// stand-in when no transport is wired.
type RecordingEmitter struct {
	mu     sync.Mutex
	events []EmitInput
}

func NewRecordingEmitter() *RecordingEmitter {
	return &RecordingEmitter{}
}

func (r *RecordingEmitter) Emit(_ context.Context, input EmitInput) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, input)
}

// Events returns a copy of everything emitted so far.
func (r *RecordingEmitter) Events() []EmitInput {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EmitInput, len(r.events))
	copy(out, r.events)
	return out
}

// CountByType tallies emitted events of one type.
func (r *RecordingEmitter) CountByType(t events.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, e := range r.events {
		if e.EventType == t {
			count++
		}
	}
	return count
}
