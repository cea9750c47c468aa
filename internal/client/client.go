package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/log"
)

type (
	// HTTPClient performs async requests over HTTP on behalf of a broker.
	// A 202 Accepted answer leaves the request outstanding until the callee
	// posts its final response to the callback URL
	HTTPClient struct {
		httpClient  *http.Client
		callbackURL string
	}

	// Option configures an HTTPClient
	Option func(*HTTPClient)
)

const (
	userAgent    = "Nexus-Workflow-Engine/1.0"
	callbackPath = "/engine/request/"
)

var ErrNoURL = errors.New("async request has no URL")

// WithCallbackURL sets the base URL of the engine API that callees post
// their deferred responses to
func WithCallbackURL(base string) Option {
	return func(c *HTTPClient) {
		c.callbackURL = strings.TrimSuffix(base, "/")
	}
}

// NewHTTPClient creates a client whose calls give up after timeout
func NewHTTPClient(timeout time.Duration, opts ...Option) *HTTPClient {
	res := &HTTPClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
	for _, opt := range opts {
		opt(res)
	}
	return res
}

// Perform sends the request and turns the answer into its final response.
// It has the shape of a broker handler
func (c *HTTPClient) Perform(
	ctx context.Context, id api.RequestID, req *api.AsyncRequest,
) (*api.AsyncResponse, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoURL, id)
	}
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		slog.Error("Failed to create HTTP request",
			log.RequestID(id),
			log.Error(err))
		return nil, err
	}

	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set(api.HeaderRequestID, string(id))
	if c.callbackURL != "" {
		httpReq.Header.Set(api.HeaderCallbackURL, c.callbackURL+callbackPath+string(id))
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	dur := time.Since(start)

	if err != nil {
		slog.Error("HTTP request failed",
			log.RequestID(id),
			slog.Duration("duration", dur),
			log.Error(err))
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Error("Failed to read response body",
			log.RequestID(id),
			log.Error(err))
		return nil, err
	}

	if resp.StatusCode == http.StatusAccepted {
		slog.Debug("HTTP request accepted",
			log.RequestID(id),
			slog.Duration("duration", dur))
		return nil, nil
	}

	res := &api.AsyncResponse{
		RequestID:  id,
		StatusCode: resp.StatusCode,
		Body:       respBody,
	}
	if !res.IsSuccess() {
		slog.Warn("HTTP error",
			log.RequestID(id),
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", string(respBody)))
		res.Error = http.StatusText(resp.StatusCode)
	}
	return res, nil
}
