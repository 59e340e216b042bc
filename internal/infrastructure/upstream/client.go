package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"EnrichmentRelay/internal/config"
	"EnrichmentRelay/internal/ports"
)

const (
	streamPath = "/v1/enrichment/stream"

	maxErrorBody = 4096
	maxErrorText = 256
)

// Client opens enrichment event streams on the upstream service.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	limiter  *rate.Limiter
}

var _ ports.EnrichmentSource = (*Client)(nil)

// NewClient builds a client from configuration. The HTTP client carries no
// timeout of its own; the relay bounds each stream through its context.
func NewClient(cfg config.UpstreamConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		endpoint: strings.TrimSuffix(cfg.BaseURL, "/") + streamPath,
		apiKey:   cfg.APIKey,
		http:     httpClient,
		limiter:  rate.NewLimiter(limit, burst),
	}
}

// Open starts the stream for subject. Any non-2xx response is an error and its body is discarded.
func (c *Client) Open(ctx context.Context, subject, requestID string) (io.ReadCloser, error) {
	if c == nil || c.http == nil {
		return nil, fmt.Errorf("upstream client is not configured")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for upstream slot: %w", err)
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url %s: %w", c.endpoint, err)
	}
	query := u.Query()
	query.Set("handle", subject)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		closeErr := resp.Body.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("unexpected status %s, close body: %v", resp.Status, closeErr)
		}
		if msg := errorMessage(resp.Header.Get("Content-Type"), payload); msg != "" {
			return nil, fmt.Errorf("unexpected status %s: %s", resp.Status, msg)
		}
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	return resp.Body, nil
}

// errorMessage condenses a rejection body for logs and the 502 response.
// Gateways in front of the service answer with HTML pages; only their text is kept.
func errorMessage(contentType string, payload []byte) string {
	text := string(payload)
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && mediaType == "text/html" {
		if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload)); err == nil {
			text = doc.Find("title").First().Text()
			if strings.TrimSpace(text) == "" {
				text = doc.Find("body").Text()
			}
		}
	}
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > maxErrorText {
		text = text[:maxErrorText] + "..."
	}
	return text
}
