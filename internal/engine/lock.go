package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/semaphore"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/log"
)

type (
	// Guarded is the work done under a lock or throttle. Then runs while
	// the semaphore is held. When it cannot be raised, WhenWaiting is
	// told, then Else runs instead if set, otherwise the workflow is
	// postponed until the semaphore frees up
	Guarded[T any] struct {
		Then        Method[T]
		Else        Method[T]
		WhenWaiting func(ctx context.Context, a *Activity) error
	}

	guard struct {
		key      semaphore.Key
		limit    int
		expires  time.Duration
		keepHold bool
	}
)

// Lock runs g.Then while holding the resource exclusively among the
// instances of this workflow form
func Lock[T any](
	ctx context.Context, a *Activity, resource string, g Guarded[T],
	def DefaultFunc[T],
) (T, error) {
	return executeKind(ctx, a, api.ActivityTypeLock,
		func(ctx context.Context, a *Activity) (T, error) {
			formID := a.run.reg.form.ID
			return guarded(ctx, a, guard{
				key: semaphore.Key{
					FormID:   &formID,
					Resource: resource,
				},
				limit:   1,
				expires: a.holdExpiry(),
			}, g)
		}, def,
	)
}

func guarded[T any](
	ctx context.Context, a *Activity, gd guard, g Guarded[T],
) (T, error) {
	var zero T
	e := a.run.engine
	id := a.run.InstanceID()
	res, err := e.coordinator.Raise(ctx, semaphore.Request{
		Key:             gd.key,
		Limit:           gd.limit,
		ExpiresAfter:    gd.expires,
		InstanceID:      id,
		KeepUntilExpiry: gd.keepHold,
	})
	if errors.Is(err, semaphore.ErrInvalidRequest) {
		return zero, NewWorkflowImplementationError(err)
	}
	if err != nil {
		slog.Warn("Semaphore raise failed",
			log.WorkflowInstanceID(id),
			log.Resource(gd.key.String()),
			log.Error(err))
		return zero, TryAgain()
	}

	if !res.Raised {
		slog.Info("Waiting for semaphore",
			log.WorkflowInstanceID(id),
			log.Resource(gd.key.String()),
			slog.Int("position", res.Position))
		if g.WhenWaiting != nil {
			if err := g.WhenWaiting(ctx, a); err != nil {
				return zero, err
			}
		}
		if g.Else == nil {
			return zero, TryAgain()
		}
		if err := lower(ctx, a, gd.key); err != nil {
			return zero, TryAgain()
		}
		return g.Else(ctx, a)
	}

	out, err := g.Then(ctx, a)
	if IsSignal(err) {
		// the hold is kept across the postponement
		return zero, err
	}
	if gd.keepHold {
		return out, err
	}
	if lerr := lower(ctx, a, gd.key); lerr != nil && err == nil {
		return zero, TryAgain()
	}
	return out, err
}

func (a *Activity) holdExpiry() time.Duration {
	if a.opts.holdExpiry > 0 {
		return a.opts.holdExpiry
	}
	return a.run.engine.config.SemaphoreExpiry
}

func lower(ctx context.Context, a *Activity, key semaphore.Key) error {
	id := a.run.InstanceID()
	_, err := a.run.engine.coordinator.Lower(ctx, key, id)
	if err != nil {
		slog.Warn("Semaphore lower failed",
			log.WorkflowInstanceID(id),
			log.Resource(key.String()),
			log.Error(err))
	}
	return err
}
