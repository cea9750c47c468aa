package api

import (
	"encoding/json"
	"errors"
)

type (
	// AsyncRequest is a unit of work handed to an async broker
	AsyncRequest struct {
		Method   string            `json:"method"`
		URL      string            `json:"url"`
		Headers  map[string]string `json:"headers,omitempty"`
		Body     json.RawMessage   `json:"body,omitempty"`
		Priority int               `json:"priority,omitempty"`
		Context  map[string]string `json:"context,omitempty"`
	}

	// AsyncResponse is the final outcome of an async request
	AsyncResponse struct {
		RequestID  RequestID       `json:"request_id"`
		StatusCode int             `json:"status_code"`
		Body       json.RawMessage `json:"body,omitempty"`
		Error      string          `json:"error,omitempty"`
	}
)

const (
	// HeaderRequestID carries the broker id of an async request to its
	// callee
	HeaderRequestID = "X-Request-Id"

	// HeaderCallbackURL tells a callee that answered 202 Accepted where to
	// post the final response
	HeaderCallbackURL = "X-Callback-Url"
)

var ErrRequestFailed = errors.New("async request failed")

// IsSuccess returns true for a 2xx response without an error message
func (r *AsyncResponse) IsSuccess() bool {
	return r.Error == "" && r.StatusCode >= 200 && r.StatusCode < 300
}
