package engine

import (
	"context"
	"time"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/semaphore"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
)

// Throttle runs g.Then while holding one of limit slots shared by every
// workflow instance using the resource. With a window, a slot stays taken
// until the window has passed, which caps starts per window. Without one,
// the slot is released when g.Then completes
func Throttle[T any](
	ctx context.Context, a *Activity, resource string, limit int,
	window time.Duration, g Guarded[T], def DefaultFunc[T],
) (T, error) {
	return executeKind(ctx, a, api.ActivityTypeThrottle,
		func(ctx context.Context, a *Activity) (T, error) {
			gd := guard{
				key:     semaphore.Key{Resource: resource},
				limit:   limit,
				expires: a.holdExpiry(),
			}
			if window > 0 {
				gd.expires = window
				gd.keepHold = true
			}
			return guarded(ctx, a, gd, g)
		}, def,
	)
}
