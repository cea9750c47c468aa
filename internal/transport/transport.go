package transport

import (
	"context"
	"errors"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
)

// Transport hands work to an async broker and reports its final outcome
type Transport interface {
	// SendRequest queues the request and returns its broker id
	SendRequest(ctx context.Context, req *api.AsyncRequest) (api.RequestID, error)

	// GetFinalResponse returns the final response for the request, or nil
	// while the request is still outstanding
	GetFinalResponse(
		ctx context.Context, id api.RequestID,
	) (*api.AsyncResponse, error)
}

// Releaser is implemented by transports that keep final responses until
// the sender has recorded them
type Releaser interface {
	// Release drops the final response of a completed request
	Release(ctx context.Context, id api.RequestID) error
}

var (
	ErrRequestOutstanding = errors.New("async request still outstanding")
	ErrUnknownRequest     = errors.New("unknown async request")
	ErrAlreadyCompleted   = errors.New("async request already completed")
	ErrBrokerStopped      = errors.New("async broker stopped")
	ErrInvalidAsyncInput  = errors.New("invalid async request")
)
