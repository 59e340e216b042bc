package httpapi

import (
	"errors"
	"net/http"

	"EnrichmentRelay/internal/ports"
	"EnrichmentRelay/internal/sse"
)

var errStreamNotOpen = errors.New("event stream not opened")

// eventWriter streams frames over a single HTTP response.
type eventWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	opened  bool
}

var _ ports.Downstream = (*eventWriter)(nil)

func newEventWriter(w http.ResponseWriter) *eventWriter {
	flusher, _ := w.(http.Flusher)
	return &eventWriter{w: w, flusher: flusher}
}

func (e *eventWriter) Open() error {
	if e.flusher == nil {
		return errors.New("response writer does not support flushing")
	}
	h := e.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	e.w.WriteHeader(http.StatusOK)
	e.flusher.Flush()
	e.opened = true
	return nil
}

func (e *eventWriter) WriteFrame(frame sse.Frame) error {
	if !e.opened {
		return errStreamNotOpen
	}
	if _, err := frame.WriteTo(e.w); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}
