package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"EnrichmentRelay/internal/ports"
	"EnrichmentRelay/internal/usecase"
)

const (
	// StreamPath is the relay's client-facing endpoint.
	StreamPath = "/api/enrichment/stream"

	queryHandle  = "handle"
	queryOwnerID = "owner_id"
)

// StreamServer runs one relay session per request.
type StreamServer interface {
	Serve(ctx context.Context, req usecase.StreamRequest, out ports.Downstream) error
}

// HandlerDeps wires the router.
type HandlerDeps struct {
	Relay    StreamServer
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// NewRouter returns the relay's HTTP routes.
func NewRouter(deps HandlerDeps) *mux.Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := mux.NewRouter()
	r.Handle(StreamPath, &streamHandler{relay: deps.Relay, logger: logger}).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

type streamHandler struct {
	relay  StreamServer
	logger *slog.Logger
}

func (h *streamHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()
	streamReq := usecase.StreamRequest{
		Subject: query.Get(queryHandle),
		OwnerID: query.Get(queryOwnerID),
	}

	out := newEventWriter(w)
	err := h.relay.Serve(req.Context(), streamReq, out)
	if err == nil {
		return
	}
	if out.opened {
		// Headers are already committed; the connection just ends.
		h.logger.Debug("stream ended with error", "error", err)
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, usecase.ErrMissingParameter):
		status = http.StatusBadRequest
	case errors.Is(err, usecase.ErrUpstreamUnavailable):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
