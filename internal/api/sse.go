package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const keepaliveInterval = 15 * time.Second

// sseSink writes answer events as "data: {json}" frames. Headers are only
// sent with the first event so that a request rejected before any output can
// still get a plain JSON error.
type sseSink struct {
	mu       sync.Mutex
	w        http.ResponseWriter
	flusher  http.Flusher
	streamID string
	logger   *slog.Logger
	started  bool
	finished bool
}

func newSSESink(w http.ResponseWriter, streamID string, logger *slog.Logger) *sseSink {
	flusher, _ := w.(http.Flusher)
	return &sseSink{w: w, flusher: flusher, streamID: streamID, logger: logger}
}

func (s *sseSink) OnDelta(text string) { s.send(map[string]string{"answer": text}) }

func (s *sseSink) OnDone() {
	s.send(map[string]bool{"done": true})
	s.finish()
}

func (s *sseSink) OnError(message string) {
	s.send(map[string]string{"error": message})
	s.finish()
}

func (s *sseSink) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// keepalive writes a comment line every interval until stop is closed.
func (s *sseSink) keepalive(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.started && !s.finished {
				fmt.Fprint(s.w, ": keepalive\n\n")
				s.flush()
			}
			s.mu.Unlock()
		}
	}
}

func (s *sseSink) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("failed to encode stream event", "stream_id", s.streamID, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		h.Set("X-Stream-ID", s.streamID)
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	fmt.Fprintf(s.w, "data: %s\n\n", data)
	s.flush()
}

func (s *sseSink) finish() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
}

func (s *sseSink) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
