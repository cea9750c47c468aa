package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/log"
)

// AlertPoster delivers activity exception alerts to a webhook. A 2xx
// answer counts as handled
type AlertPoster struct {
	client *HTTPClient
	url    string
}

var ErrAlertRejected = errors.New("alert webhook rejected alert")

// NewAlertPoster creates a poster for the webhook at url
func NewAlertPoster(c *HTTPClient, url string) *AlertPoster {
	return &AlertPoster{client: c, url: url}
}

// HandleActivityExceptionAlert posts the alert to the webhook
func (p *AlertPoster) HandleActivityExceptionAlert(
	ctx context.Context, alert *api.ActivityExceptionAlert,
) (bool, error) {
	body, err := json.Marshal(alert)
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, p.url, bytes.NewReader(body),
	)
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.httpClient.Do(req)
	if err != nil {
		slog.Warn("Alert delivery failed",
			log.WorkflowInstanceID(alert.WorkflowInstanceID),
			log.ActivityInstanceID(alert.ActivityInstanceID),
			log.Error(err))
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("%w: HTTP %d", ErrAlertRejected, resp.StatusCode)
	}
	return true, nil
}
