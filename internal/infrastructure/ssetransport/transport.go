package ssetransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"EnrichmentRelay/internal/client"
	"EnrichmentRelay/internal/sse"
)

const streamPath = "/api/enrichment/stream"

// Transport subscribes to the relay with a plain GET: query parameters only, no custom headers.
type Transport struct {
	endpoint string
	http     *http.Client
}

var _ client.Transport = (*Transport)(nil)

// New returns a transport for the relay at baseURL.
func New(baseURL string, httpClient *http.Client) *Transport {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Transport{
		endpoint: strings.TrimSuffix(baseURL, "/") + streamPath,
		http:     httpClient,
	}
}

// Open connects and starts reading frames. Any status other than 200 is an error.
func (t *Transport) Open(ctx context.Context, target client.Target) (client.Stream, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid relay url %s: %w", t.endpoint, err)
	}
	query := u.Query()
	query.Set("handle", target.Subject)
	query.Set("owner_id", target.OwnerID)
	u.RawQuery = query.Encode()

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("new request: %w", err)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("do request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		cancel()
		if msg := strings.TrimSpace(string(payload)); msg != "" {
			return nil, fmt.Errorf("unexpected status %s: %s", resp.Status, msg)
		}
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	s := &stream{
		body:   resp.Body,
		cancel: cancel,
		frames: make(chan sse.Frame),
		done:   make(chan struct{}),
	}
	go s.read()
	return s, nil
}

type stream struct {
	body   io.ReadCloser
	cancel context.CancelFunc
	frames chan sse.Frame
	done   chan struct{}

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

func (s *stream) Frames() <-chan sse.Frame { return s.frames }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
		err = s.body.Close()
	})
	return err
}

func (s *stream) read() {
	defer close(s.frames)

	var parser sse.Parser
	buf := make([]byte, 4096)
	for {
		n, readErr := s.body.Read(buf)
		for _, frame := range parser.Feed(buf[:n]) {
			select {
			case s.frames <- frame:
			case <-s.done:
				return
			}
		}
		if readErr == nil {
			continue
		}
		select {
		case <-s.done:
			// Closed locally; not a drop.
		default:
			if errors.Is(readErr, io.EOF) {
				readErr = io.ErrUnexpectedEOF
			}
			s.mu.Lock()
			s.err = fmt.Errorf("read stream: %w", readErr)
			s.mu.Unlock()
		}
		return
	}
}
