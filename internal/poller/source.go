package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"field-control-backend/config"
)

// ErrSourceUnavailable is returned when the telemetry source cannot be read.
var ErrSourceUnavailable = errors.New("poller: telemetry source unavailable")

// maxBodyBytes bounds how much of an upstream response is read.
const maxBodyBytes = 8 << 20

// Fetcher returns the raw telemetry payload of one poll.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// HTTPSource fetches telemetry from the configured HTTP endpoint.
type HTTPSource struct {
	cfg    config.SourceConfig
	client *http.Client
}

// NewHTTPSource builds the upstream client, honoring the optional proxy.
func NewHTTPSource(cfg config.PollerConfig, log zerolog.Logger) *HTTPSource {
	var transport http.RoundTripper = &http.Transport{}
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			log.Warn().Err(err).Str("proxy", cfg.HTTPProxy).Msg("invalid proxy URL, polling without a proxy")
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	return &HTTPSource{
		cfg: cfg.Source,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
	}
}

// Fetch performs one request. Any failure, including a timeout, wraps ErrSourceUnavailable.
func (s *HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	if s.cfg.URL == "" {
		return nil, fmt.Errorf("%w: no source url configured", ErrSourceUnavailable)
	}

	method := s.cfg.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if method != http.MethodGet && len(s.cfg.Payload) > 0 {
		jsonBody, err := json.Marshal(s.cfg.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request payload: %w", err)
		}
		body = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.cfg.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range s.cfg.Headers {
		req.Header.Set(key, value)
	}
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http request failed: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: received status code %d", ErrSourceUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %v", ErrSourceUnavailable, err)
	}
	return data, nil
}
