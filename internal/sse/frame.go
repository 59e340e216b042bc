// Package sse parses and encodes the text event-stream used between upstream, relay and client.
package sse

import (
	"encoding/json"
	"fmt"
	"io"
)

// Event names carried by the enrichment stream.
const (
	EventPhase = "phase"
	EventDone  = "done"
	EventError = "error"
)

// Frame is one complete (event, data) pair.
type Frame struct {
	Event string
	Data  string
}

// Encode renders the frame in wire form, terminated by a blank line.
func (f Frame) Encode() []byte {
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", f.Event, f.Data))
}

// WriteTo writes the encoded frame to w.
func (f Frame) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(f.Encode())
	return int64(n), err
}

// ErrorFrame builds an error frame for the given phase and message.
func ErrorFrame(phase, message string) Frame {
	data, err := json.Marshal(map[string]string{"phase": phase, "message": message})
	if err != nil {
		data = []byte(`{"phase":"stream","message":"internal error"}`)
	}
	return Frame{Event: EventError, Data: string(data)}
}
