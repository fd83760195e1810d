// Package sse implements both ends of the server-sent-events protocol the
// research stream speaks: a flushing writer with heartbeats on the server
// side and an incremental decoder on the client side.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// defaultHeartbeat keeps proxies from timing out idle streams.
const defaultHeartbeat = 20 * time.Second

// SendOptions shape one event frame.
type SendOptions struct {
	Event string
	ID    string
	Retry time.Duration
	// Raw sends data as-is instead of JSON-encoding it. Used for token
	// deltas, which are plain strings.
	Raw bool
}

// Writer emits an SSE byte stream over an http.ResponseWriter, flushing
// after every frame. All methods are safe for concurrent use; after Close
// they become no-ops.
type Writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
	stopHB  chan struct{}
}

// NewWriter sets the SSE response headers and starts the heartbeat loop.
// heartbeat <= 0 uses the 20s default.
func NewWriter(w http.ResponseWriter, heartbeat time.Duration) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	sw := &Writer{w: w, flusher: flusher, stopHB: make(chan struct{})}
	go sw.heartbeatLoop(heartbeat)
	return sw, nil
}

func (s *Writer) heartbeatLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-s.stopHB:
			return
		case <-t.C:
			s.Ping()
		}
	}
}

// Send writes one event frame. Non-raw data is JSON-encoded; raw string
// data goes out verbatim with newlines split into multiple data lines.
func (s *Writer) Send(data any, opts SendOptions) error {
	var payload string
	if opts.Raw {
		str, ok := data.(string)
		if !ok {
			return fmt.Errorf("raw send requires string data, got %T", data)
		}
		payload = str
	} else {
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode sse data: %w", err)
		}
		payload = string(b)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("sse writer closed")
	}
	var b strings.Builder
	if opts.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", opts.ID)
	}
	if opts.Event != "" {
		fmt.Fprintf(&b, "event: %s\n", opts.Event)
	}
	if opts.Retry > 0 {
		fmt.Fprintf(&b, "retry: %d\n", opts.Retry.Milliseconds())
	}
	for _, line := range strings.Split(payload, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteByte('\n')
	if _, err := fmt.Fprint(s.w, b.String()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Comment writes an SSE comment line. Used for heartbeats and diagnostics.
func (s *Writer) Comment(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, line := range strings.Split(text, "\n") {
		fmt.Fprintf(s.w, ": %s\n", line)
	}
	fmt.Fprint(s.w, "\n")
	s.flusher.Flush()
}

// Ping emits a heartbeat comment.
func (s *Writer) Ping() {
	s.Comment("ping")
}

// Close stops the heartbeat and marks the writer finished. A non-empty
// reason is sent as a final comment.
func (s *Writer) Close(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if reason != "" {
		fmt.Fprintf(s.w, ": closed: %s\n\n", reason)
		s.flusher.Flush()
	}
	s.closed = true
	s.mu.Unlock()
	close(s.stopHB)
}
