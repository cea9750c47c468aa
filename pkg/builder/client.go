package builder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
)

type (
	// Client talks to the HTTP API of a workflow engine
	Client struct {
		httpClient *http.Client
		baseURL    string
	}

	// Outcome is the answer to one workflow entry. Exactly one of Finished
	// and Postponed is set
	Outcome struct {
		Finished  *api.WorkflowResponse
		Postponed *api.PostponedResponse
	}
)

var (
	ErrStartWorkflow   = errors.New("failed to start workflow")
	ErrReentry         = errors.New("failed to re-enter workflow")
	ErrGetInstance     = errors.New("failed to get workflow instance")
	ErrRetryActivity   = errors.New("failed to retry activity")
	ErrCompleteRequest = errors.New("failed to complete request")
)

const (
	routeWorkflow = "/engine/workflow"
	routeInstance = "/engine/instance"
	routeActivity = "/engine/activity"
	routeRequest  = "/engine/request"
)

// NewClient creates a client for the engine at baseURL
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// StartWorkflow starts an instance of the workflow form
func (c *Client) StartWorkflow(
	ctx context.Context, formID api.WorkflowFormID,
	req api.StartWorkflowRequest,
) (*Outcome, error) {
	resp, err := c.post(ctx, c.url("%s/%s", routeWorkflow, formID), req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	return decodeOutcome(resp, ErrStartWorkflow)
}

// Reentry resumes a postponed instance with the token it handed out
func (c *Client) Reentry(
	ctx context.Context, p *api.PostponedResponse,
) (*Outcome, error) {
	resp, err := c.post(ctx,
		c.url("%s/%s/reentry", routeInstance, p.InstanceID),
		api.ReentryRequest{Authentication: p.Authentication},
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	return decodeOutcome(resp, ErrReentry)
}

// GetInstance returns the summary of an instance and its activity tree
// as raw JSON
func (c *Client) GetInstance(
	ctx context.Context, id api.WorkflowInstanceID,
) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, c.url("%s/%s", routeInstance, id), nil,
	)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d, body: %s",
			ErrGetInstance, resp.StatusCode, string(body))
	}
	return body, nil
}

// RetryActivity clears the recorded failure of an activity
func (c *Client) RetryActivity(
	ctx context.Context, id api.ActivityInstanceID,
) error {
	resp, err := c.post(ctx,
		c.url("%s/%s/retry", routeActivity, id), nil,
	)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return checkStatus(resp, ErrRetryActivity)
}

// CompleteRequest posts the final response of an async request
func (c *Client) CompleteRequest(
	ctx context.Context, resp *api.AsyncResponse,
) error {
	return c.completeAt(ctx,
		c.url("%s/%s", routeRequest, resp.RequestID), resp,
	)
}

func (c *Client) completeAt(
	ctx context.Context, url string, resp *api.AsyncResponse,
) error {
	res, err := c.post(ctx, url, resp)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()
	return checkStatus(res, ErrCompleteRequest)
}

func (c *Client) post(
	ctx context.Context, url string, body any,
) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, rd)
	if err != nil {
		return nil, err
	}
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

func (c *Client) url(format string, args ...any) string {
	path := fmt.Sprintf(format, args...)
	return c.baseURL + path
}

func decodeOutcome(resp *http.Response, fail error) (*Outcome, error) {
	switch resp.StatusCode {
	case http.StatusOK:
		var res api.WorkflowResponse
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return nil, err
		}
		return &Outcome{Finished: &res}, nil
	case http.StatusAccepted:
		var res api.PostponedResponse
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return nil, err
		}
		return &Outcome{Postponed: &res}, nil
	default:
		return nil, statusError(resp, fail)
	}
}

func checkStatus(resp *http.Response, fail error) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	return statusError(resp, fail)
}

func statusError(resp *http.Response, fail error) error {
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("%w: status %d, body: %s",
		fail, resp.StatusCode, string(body))
}
