package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"

	contractx "github.com/tanpawarit/chative-router/agent/contract"
)

const sseBufferSize = 16 * 1024

// sseWriter emits frames as text/event-stream "data:" events.
type sseWriter struct {
	w   http.ResponseWriter
	buf *bufio.Writer
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	return &sseWriter{
		w:   w,
		buf: bufio.NewWriterSize(w, sseBufferSize),
	}
}

func (s *sseWriter) Write(f contractx.Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if _, err := s.buf.WriteString("data: "); err != nil {
		return err
	}
	if _, err := s.buf.Write(payload); err != nil {
		return err
	}
	if _, err := s.buf.WriteString("\n\n"); err != nil {
		return err
	}
	return s.Flush()
}

func (s *sseWriter) Flush() error {
	if err := s.buf.Flush(); err != nil {
		return err
	}
	if flusher, ok := s.w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}
