package builder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
)

// AsyncContext lets a service that answered an engine request with 202
// Accepted deliver the final response later
type AsyncContext struct {
	client      *Client
	requestID   api.RequestID
	callbackURL string
}

var (
	ErrNoRequestID   = errors.New("request id not found in request")
	ErrNoCallbackURL = errors.New("callback url not found in request")
)

// NewAsyncContext extracts the request id and callback URL the engine
// sent along with r
func (c *Client) NewAsyncContext(r *http.Request) (*AsyncContext, error) {
	id := r.Header.Get(api.HeaderRequestID)
	if id == "" {
		return nil, ErrNoRequestID
	}
	cb := r.Header.Get(api.HeaderCallbackURL)
	if cb == "" {
		return nil, ErrNoCallbackURL
	}
	return &AsyncContext{
		client:      c,
		requestID:   api.RequestID(id),
		callbackURL: cb,
	}, nil
}

// Success completes the request with a 200 response carrying result
func (ac *AsyncContext) Success(ctx context.Context, result any) error {
	body, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return ac.Complete(ctx, &api.AsyncResponse{
		StatusCode: http.StatusOK,
		Body:       body,
	})
}

// Fail completes the request with an error response
func (ac *AsyncContext) Fail(ctx context.Context, status int, err error) error {
	return ac.Complete(ctx, &api.AsyncResponse{
		StatusCode: status,
		Error:      err.Error(),
	})
}

// Complete posts the final response to the engine
func (ac *AsyncContext) Complete(
	ctx context.Context, resp *api.AsyncResponse,
) error {
	res := *resp
	res.RequestID = ac.requestID
	return ac.client.completeAt(ctx, ac.callbackURL, &res)
}

// RequestID returns the broker id of the request being answered
func (ac *AsyncContext) RequestID() api.RequestID {
	return ac.requestID
}

// CallbackURL returns where the final response is delivered
func (ac *AsyncContext) CallbackURL() string {
	return ac.callbackURL
}
