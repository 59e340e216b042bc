package sse

import (
	"bytes"
	"strings"
)

const (
	eventPrefix = "event:"
	dataPrefix  = "data:"
)

// Parser assembles frames from arbitrarily chunked bytes. The zero value is ready to use.
// A Parser is not safe for concurrent use.
type Parser struct {
	buf   []byte
	event string
	data  string
}

// Feed appends chunk to the buffer and returns the frames completed by it, in order.
// The trailing partial line is kept for the next call.
func (p *Parser) Feed(chunk []byte) []Frame {
	p.buf = append(p.buf, chunk...)

	var frames []Frame
	for {
		idx := bytes.IndexByte(p.buf, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSuffix(string(p.buf[:idx]), "\r")
		p.buf = p.buf[idx+1:]

		if frame, ok := p.line(line); ok {
			frames = append(frames, frame)
		}
	}

	// Drop the consumed prefix so the backing array does not grow without bound.
	if len(p.buf) == 0 {
		p.buf = nil
	} else {
		p.buf = append([]byte(nil), p.buf...)
	}

	return frames
}

// Pending reports how many bytes of an incomplete line are buffered.
func (p *Parser) Pending() int {
	return len(p.buf)
}

func (p *Parser) line(line string) (Frame, bool) {
	switch {
	case line == "":
		if p.event == "" || p.data == "" {
			return Frame{}, false
		}
		frame := Frame{Event: p.event, Data: p.data}
		p.event, p.data = "", ""
		return frame, true
	case strings.HasPrefix(line, eventPrefix):
		p.event = fieldValue(line, eventPrefix)
	case strings.HasPrefix(line, dataPrefix):
		p.data = fieldValue(line, dataPrefix)
	}
	return Frame{}, false
}

func fieldValue(line, prefix string) string {
	return strings.TrimPrefix(strings.TrimPrefix(line, prefix), " ")
}
