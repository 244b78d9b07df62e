package hub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/averlard/custos/internal/domain"
)

const heartbeatInterval = 30 * time.Second

// SSETransport streams events to one client over Server-Sent Events. Writes
// are serialized by a mutex; a per-connection ticker emits comment lines so
// idle connections are not dropped by intermediaries.
type SSETransport struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu     sync.Mutex
	closed bool
	done   chan struct{}

	heartbeatStop chan struct{}
}

// NewSSETransport prepares an SSE stream on the response writer. It fails
// when the underlying writer cannot flush.
func NewSSETransport(w http.ResponseWriter) (*SSETransport, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported by response writer")
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	t := &SSETransport{
		w:             w,
		flusher:       flusher,
		done:          make(chan struct{}),
		heartbeatStop: make(chan struct{}),
	}
	go t.heartbeatLoop()

	return t, nil
}

// Send writes one event as a `data: <json>` frame.
func (t *SSETransport) Send(event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("transport closed")
	}
	if _, err := fmt.Fprintf(t.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	t.flusher.Flush()
	return nil
}

// Close terminates the stream and unblocks Wait. Safe to call more than
// once.
func (t *SSETransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.heartbeatStop)
	close(t.done)
	return nil
}

// Wait blocks until the transport is closed. The HTTP handler parks on it to
// keep the response open.
func (t *SSETransport) Wait() <-chan struct{} {
	return t.done
}

func (t *SSETransport) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.heartbeatStop:
			return
		case <-ticker.C:
			t.mu.Lock()
			if t.closed {
				t.mu.Unlock()
				return
			}
			_, err := fmt.Fprint(t.w, ": heartbeat\n\n")
			if err == nil {
				t.flusher.Flush()
			}
			t.mu.Unlock()
			if err != nil {
				_ = t.Close()
				return
			}
		}
	}
}
