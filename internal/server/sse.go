package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/npezzotti/portal-chat/internal/types"
)

const writeWait = 10 * time.Second

var errSinkClosed = fmt.Errorf("%w: sink closed", types.ErrTransport)

// SSESink writes events to an http.ResponseWriter using the text/event-stream
// framing: "data: <json>\n\n" per event and ":ping\n\n" per heartbeat.
type SSESink struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	mu     sync.Mutex
	closed bool
}

// NewSSESink writes the stream headers and flushes them. It fails if the
// response cannot be flushed incrementally.
func NewSSESink(w http.ResponseWriter) (*SSESink, error) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s := &SSESink{w: w, rc: http.NewResponseController(w)}
	if err := s.rc.Flush(); err != nil {
		return nil, fmt.Errorf("%w: flush headers: %v", types.ErrTransport, err)
	}

	return s, nil
}

func (s *SSESink) WriteEvent(data []byte) error {
	return s.write(func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "data: %s\n\n", data)
		return err
	})
}

func (s *SSESink) WritePing() error {
	return s.write(func(w io.Writer) error {
		_, err := io.WriteString(w, ":ping\n\n")
		return err
	})
}

func (s *SSESink) write(fn func(io.Writer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errSinkClosed
	}

	if err := s.rc.SetWriteDeadline(time.Now().Add(writeWait)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("%w: set write deadline: %v", types.ErrTransport, err)
	}

	if err := fn(s.w); err != nil {
		return fmt.Errorf("%w: %v", types.ErrTransport, err)
	}

	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("%w: flush: %v", types.ErrTransport, err)
	}

	return nil
}

// Close marks the sink released. The underlying response is finished when
// the handler returns.
func (s *SSESink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
