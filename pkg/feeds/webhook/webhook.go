// Package webhook provides an HTTP ingestion endpoint for the record-event
// feed. External systems POST record events to /events; each accepted event
// is handed to the dispatcher's feed callback.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/journeyhq/journey/pkg/events"
	"github.com/journeyhq/journey/pkg/protocol"
)

const shutdownTimeout = 5 * time.Second

// Source is a webhook feed source. It implements protocol.FeedSource: Start
// serves until the context is canceled or the listener fails.
type Source struct {
	mu       sync.Mutex
	server   *http.Server
	callback protocol.FeedCallback
	logger   *slog.Logger
	port     int
}

func NewSource(port int, logger *slog.Logger) *Source {
	return &Source{
		logger: logger.With("module", "webhook_feed"),
		port:   port,
	}
}

// Validate reports configuration problems before the source starts.
func (s *Source) Validate() error {
	if s.port <= 0 || s.port > 65535 {
		return fmt.Errorf("invalid webhook feed port %d", s.port)
	}

	return nil
}

// Start serves the ingestion endpoint until ctx is canceled. The callback
// runs synchronously per request so a failed enrollment surfaces to the
// sender as a 500 and can be retried.
func (s *Source) Start(ctx context.Context, callback protocol.FeedCallback) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /events", s.handleEvent)

	s.mu.Lock()
	s.callback = callback
	s.server = &http.Server{
		Addr:         ":" + strconv.Itoa(s.port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	server := s.server
	s.mu.Unlock()

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("Starting webhook feed server", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return s.Stop(context.WithoutCancel(ctx))
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("webhook feed server failed: %w", err)
	}
}

// Stop shuts the server down gracefully.
func (s *Source) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()

	if server == nil {
		return nil
	}

	s.logger.Info("Stopping webhook feed server")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	err := server.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("failed to shut down webhook feed server: %w", err)
	}

	return nil
}

func (s *Source) handleEvent(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	callback := s.callback
	s.mu.Unlock()

	var event events.RecordEvent

	err := json.NewDecoder(r.Body).Decode(&event)
	if err != nil {
		http.Error(w, "invalid record event payload", http.StatusBadRequest)

		return
	}

	if event.Type == "" || event.Entity.Type == "" || event.Entity.ID == "" {
		http.Error(w, "record event requires type and entity", http.StatusBadRequest)

		return
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	s.logger.Info("Received record event",
		"event_id", event.ID,
		"event_type", event.Type,
		"entity_type", event.Entity.Type,
		"entity_id", event.Entity.ID)

	err = callback(r.Context(), event)
	if err != nil {
		s.logger.Error("Failed to process record event", "event_id", event.ID, "error", err)
		http.Error(w, "failed to process record event", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)

	encodeErr := json.NewEncoder(w).Encode(map[string]any{
		"status":   "accepted",
		"event_id": event.ID,
	})
	if encodeErr != nil {
		s.logger.Error("Failed to encode response", "error", encodeErr)
	}
}
