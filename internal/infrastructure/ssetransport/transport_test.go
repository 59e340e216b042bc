package ssetransport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/juju/clock/testclock"

	"EnrichmentRelay/internal/client"
	"EnrichmentRelay/internal/config"
	"EnrichmentRelay/internal/domain"
	"EnrichmentRelay/internal/infrastructure/httpapi"
	"EnrichmentRelay/internal/infrastructure/upstream"
	"EnrichmentRelay/internal/sse"
	"EnrichmentRelay/internal/usecase"
)

const profileFrame = `{"phase":"profile","progress":33,"data":{"followers":1200,"bio":"x","profilePicture":null}}`

var target = client.Target{Subject: "chef", OwnerID: "owner-1"}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newRelay serves the relay router in front of an upstream that writes raw.
func newRelay(t *testing.T, raw string) *httptest.Server {
	t.Helper()

	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, raw)
	}))
	t.Cleanup(up.Close)

	relay := usecase.NewRelay(usecase.RelayDeps{
		Source: upstream.NewClient(config.UpstreamConfig{BaseURL: up.URL}, up.Client()),
		Logger: discardLogger(),
	})
	srv := httptest.NewServer(httpapi.NewRouter(httpapi.HandlerDeps{Relay: relay, Logger: discardLogger()}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenParsesFrames(t *testing.T) {
	t.Parallel()

	queries := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.RawQuery
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "event: phase\ndata: "+profileFrame+"\n\nevent: done\n")
		w.(http.Flusher).Flush()
		io.WriteString(w, "data: {}\n\n")
	}))
	defer srv.Close()

	stream, err := New(srv.URL, srv.Client()).Open(context.Background(), target)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer stream.Close()

	var got []sse.Frame
	for frame := range stream.Frames() {
		got = append(got, frame)
	}
	want := []sse.Frame{
		{Event: sse.EventPhase, Data: profileFrame},
		{Event: sse.EventDone, Data: "{}"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("frames mismatch:\n%s", diff)
	}
	if stream.Err() == nil {
		t.Fatal("expected server close to be reported as a drop")
	}
	if gotQuery := <-queries; gotQuery != "handle=chef&owner_id=owner-1" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
}

func TestOpenRejectsNonOK(t *testing.T) {
	t.Parallel()

	srv := newRelay(t, "")
	_, err := New(srv.URL, srv.Client()).Open(context.Background(), client.Target{Subject: "chef"})
	if err == nil {
		t.Fatal("expected an error for a rejected request")
	}
}

func TestCloseIsNotADrop(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	stream, err := New(srv.URL, srv.Client()).Open(context.Background(), target)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Logf("close: %v", err)
	}
	select {
	case _, ok := <-stream.Frames():
		if ok {
			t.Fatal("unexpected frame")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frames channel not closed after Close")
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("expected no drop error after Close, got %v", err)
	}
}

func TestSubscriptionThroughRelay(t *testing.T) {
	t.Parallel()

	srv := newRelay(t, "event: phase\ndata: "+profileFrame+"\n\nevent: done\ndata: {}\n\n")
	sub := client.New(client.Options{
		Transport: New(srv.URL, srv.Client()),
		Clock:     testclock.NewClock(time.Now()),
		Logger:    discardLogger(),
	})
	defer sub.Close()

	if err := sub.Subscribe(target); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := sub.WaitFor(ctx, func(st domain.SubscriptionState) bool {
		return st.Status.Terminal()
	})
	if err != nil {
		t.Fatalf("wait: %v (state %+v)", err, st)
	}
	if st.Status != domain.StatusDone || st.Progress != 33 {
		t.Fatalf("expected done at 33%%, got %s at %d", st.Status, st.Progress)
	}
	bio := "x"
	followers := int64(1200)
	if diff := cmp.Diff(&domain.ProfileFields{Followers: &followers, Bio: &bio}, st.Profile); diff != "" {
		t.Fatalf("profile mismatch:\n%s", diff)
	}
}

func TestSubscriptionRelayRefusedIsOneDrop(t *testing.T) {
	t.Parallel()

	up := httptest.NewServer(http.NotFoundHandler())
	refused := up.URL
	up.Close()

	relay := usecase.NewRelay(usecase.RelayDeps{
		Source: upstream.NewClient(config.UpstreamConfig{BaseURL: refused}, nil),
		Logger: discardLogger(),
	})
	srv := httptest.NewServer(httpapi.NewRouter(httpapi.HandlerDeps{Relay: relay, Logger: discardLogger()}))
	defer srv.Close()

	sub := client.New(client.Options{
		Transport: New(srv.URL, srv.Client()),
		Clock:     testclock.NewClock(time.Now()),
		Logger:    discardLogger(),
	})
	defer sub.Close()

	if err := sub.Subscribe(target); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := sub.WaitFor(ctx, func(st domain.SubscriptionState) bool {
		return st.RetryCount > 0
	})
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if st.Status != domain.StatusConnecting || st.RetryCount != 1 || st.LastError == "" {
		t.Fatalf("expected one scheduled retry, got %+v", st)
	}
}
