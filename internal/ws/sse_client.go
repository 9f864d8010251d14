package ws

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

// SSEClient streams deployment log appends as Server-Sent Events.
type SSEClient struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
	log     *slog.Logger
	event   string
	closed  bool
	done    chan struct{}
}

// NewSSEClient builds an SSE client that tags every frame with event.
func NewSSEClient(writer io.Writer, flusher http.Flusher, event string, logger *slog.Logger) *SSEClient {
	return &SSEClient{writer: writer, flusher: flusher, event: event, log: logger, done: make(chan struct{})}
}

// Send emits one event. Multi-line payloads are split into data lines.
func (c *SSEClient) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	var frame bytes.Buffer
	if c.event != "" {
		fmt.Fprintf(&frame, "event: %s\n", c.event)
	}
	for _, line := range bytes.Split(bytes.TrimRight(payload, "\n"), []byte("\n")) {
		fmt.Fprintf(&frame, "data: %s\n", line)
	}
	frame.WriteByte('\n')
	if _, err := c.writer.Write(frame.Bytes()); err != nil {
		c.markClosed()
		c.log.Warn("sse send failed", "error", err)
		return err
	}
	c.flusher.Flush()
	return nil
}

// Heartbeat emits a comment frame to keep the connection alive.
func (c *SSEClient) Heartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	if _, err := fmt.Fprint(c.writer, ": ping\n\n"); err != nil {
		c.markClosed()
		c.log.Warn("sse heartbeat failed", "error", err)
		return err
	}
	c.flusher.Flush()
	return nil
}

// Close marks the stream as closed.
func (c *SSEClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markClosed()
}

// Done is closed once the stream can no longer be written.
func (c *SSEClient) Done() <-chan struct{} {
	return c.done
}

func (c *SSEClient) markClosed() {
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}
