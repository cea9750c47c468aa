package engine

import (
	"context"
	"errors"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
)

// RequestFunc builds the async request an activity hands to the transport
type RequestFunc func(ctx context.Context, a *Activity) (*api.AsyncRequest, error)

// ErrRequestAccepted is returned by the synchronous attempt of TryFirst
// when the callee would rather answer asynchronously
var ErrRequestAccepted = errors.New("request accepted for async processing")

// Action runs method once and records its result
func Action[T any](
	ctx context.Context, a *Activity, method Method[T], def DefaultFunc[T],
) (T, error) {
	return Execute(ctx, a, method, def)
}

// AsyncAction sends the request built by req and completes with the
// decoded body of its final response
func AsyncAction[T any](
	ctx context.Context, a *Activity, req RequestFunc, def DefaultFunc[T],
) (T, error) {
	return Execute(ctx, a, func(ctx context.Context, a *Activity) (T, error) {
		var zero T
		return zero, sendAndAwait(ctx, a, req)
	}, def)
}

// FireAndForget sends the request built by req and completes as soon as
// the transport has accepted it, with the request id as its result
func FireAndForget(
	ctx context.Context, a *Activity, req RequestFunc,
) (api.RequestID, error) {
	return Execute(ctx, a,
		func(ctx context.Context, a *Activity) (api.RequestID, error) {
			r, err := req(ctx, a)
			if err != nil {
				return "", err
			}
			return a.SendRequest(ctx, r)
		}, nil,
	)
}

// TryFirst calls method synchronously, bounded by the activity's try-first
// timeout. When method times out or returns ErrRequestAccepted, the
// request built by req is sent and the activity waits for its response
func TryFirst[T any](
	ctx context.Context, a *Activity, method Method[T], req RequestFunc,
	def DefaultFunc[T],
) (T, error) {
	return Execute(ctx, a, func(ctx context.Context, a *Activity) (T, error) {
		var zero T
		tctx, cancel := ctx, context.CancelFunc(func() {})
		if d := a.opts.tryFirstTimeout; d > 0 {
			tctx, cancel = context.WithTimeout(ctx, d)
		}
		res, err := method(tctx, a)
		cancel()
		if err == nil {
			return res, nil
		}
		timedOut := errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
		if !timedOut && !errors.Is(err, ErrRequestAccepted) {
			return zero, err
		}
		return zero, sendAndAwait(ctx, a, req)
	}, def)
}

func sendAndAwait(ctx context.Context, a *Activity, req RequestFunc) error {
	r, err := req(ctx, a)
	if err != nil {
		return err
	}
	id, err := a.SendRequest(ctx, r)
	if err != nil {
		return err
	}
	return Await(id)
}
