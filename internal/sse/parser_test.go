package sse

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const sampleStream = "event: phase\n" +
	`data: {"phase":"profile","progress":33,"data":{"followers":1200,"bio":"x","profilePicture":null}}` + "\n\n" +
	": keep-alive comment\n\n" +
	"id: 7\n" +
	"event: phase\r\n" +
	`data: {"phase":"metrics","progress":66,"data":{"engagementRate":0.042}}` + "\r\n\r\n" +
	"event: error\n" +
	`data: {"phase":"ai","message":"model busy – retrying"}` + "\n\n" +
	"event: done\n" +
	"data: {}\n\n"

func parseAll(t *testing.T, chunks [][]byte) []Frame {
	t.Helper()

	var p Parser
	var frames []Frame
	for _, chunk := range chunks {
		frames = append(frames, p.Feed(chunk)...)
	}
	return frames
}

func TestParserSingleChunk(t *testing.T) {
	t.Parallel()

	got := parseAll(t, [][]byte{[]byte(sampleStream)})
	want := []Frame{
		{Event: "phase", Data: `{"phase":"profile","progress":33,"data":{"followers":1200,"bio":"x","profilePicture":null}}`},
		{Event: "phase", Data: `{"phase":"metrics","progress":66,"data":{"engagementRate":0.042}}`},
		{Event: "error", Data: `{"phase":"ai","message":"model busy – retrying"}`},
		{Event: "done", Data: "{}"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("frames mismatch:\n%s", diff)
	}
}

func TestParserChunkBoundaryIndependence(t *testing.T) {
	t.Parallel()

	raw := []byte(sampleStream)
	want := parseAll(t, [][]byte{raw})

	for split := 0; split <= len(raw); split++ {
		got := parseAll(t, [][]byte{raw[:split], raw[split:]})
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("split at %d mismatch:\n%s", split, diff)
		}
	}

	bytewise := make([][]byte, 0, len(raw))
	for i := range raw {
		bytewise = append(bytewise, raw[i:i+1])
	}
	if diff := cmp.Diff(want, parseAll(t, bytewise)); diff != "" {
		t.Fatalf("byte-by-byte mismatch:\n%s", diff)
	}

	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		var chunks [][]byte
		for rest := raw; len(rest) > 0; {
			n := 1 + rng.Intn(17)
			if n > len(rest) {
				n = len(rest)
			}
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}
		if diff := cmp.Diff(want, parseAll(t, chunks)); diff != "" {
			t.Fatalf("random round %d mismatch:\n%s", round, diff)
		}
	}
}

func TestParserIncompleteFrames(t *testing.T) {
	t.Parallel()

	var p Parser
	if frames := p.Feed([]byte("event: phase\n\n")); len(frames) != 0 {
		t.Fatalf("expected no frame without data, got %v", frames)
	}
	// The accumulated event name survives the blank line and pairs with later data.
	frames := p.Feed([]byte("data: {}\n\n"))
	if len(frames) != 1 || frames[0].Event != "phase" {
		t.Fatalf("unexpected frames: %v", frames)
	}

	if frames := p.Feed([]byte("event: done\ndata: {}")); len(frames) != 0 {
		t.Fatalf("expected partial frame to be buffered, got %v", frames)
	}
	if p.Pending() == 0 {
		t.Fatal("expected buffered bytes for partial line")
	}
	frames = p.Feed([]byte("\n\n"))
	if len(frames) != 1 || frames[0] != (Frame{Event: "done", Data: "{}"}) {
		t.Fatalf("unexpected frames: %v", frames)
	}
	if p.Pending() != 0 {
		t.Fatalf("expected empty buffer, got %d bytes", p.Pending())
	}
}

func TestFrameEncodeRoundTrip(t *testing.T) {
	t.Parallel()

	frame := ErrorFrame("stream", "upstream timed out")
	if frame.Event != EventError {
		t.Fatalf("unexpected event %q", frame.Event)
	}

	var p Parser
	frames := p.Feed(frame.Encode())
	if len(frames) != 1 || frames[0] != frame {
		t.Fatalf("encoded frame did not parse back: %v", frames)
	}
}
