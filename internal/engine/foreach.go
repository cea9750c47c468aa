package engine

import (
	"context"
	"fmt"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
)

type (
	// ItemBody runs the iteration of one item of a for-each activity
	ItemBody[I, T any] func(ctx context.Context, l *Loop, item I) (T, error)

	// TitleFunc names an item in the iteration title of its branch
	TitleFunc[I any] func(item I) string
)

// ForEachSequential runs body for each item in order, one item per
// iteration, numbered from 1. A postponed item suspends the loop there
func ForEachSequential[I, T any](
	ctx context.Context, a *Activity, items []I, body ItemBody[I, T],
	def DefaultFunc[[]T],
) ([]T, error) {
	return executeKind(ctx, a, api.ActivityTypeForEachSequential,
		func(ctx context.Context, a *Activity) ([]T, error) {
			res := make([]T, len(items))
			for i, item := range items {
				l, err := a.iterate(ctx, i+1, itemTitle(item))
				if err != nil {
					return nil, err
				}
				out, err := body(ctx, l, item)
				if err != nil {
					return nil, err
				}
				res[i] = out
			}
			return res, nil
		}, def,
	)
}

func itemTitle[I any](item I) string {
	if s, ok := any(item).(fmt.Stringer); ok {
		return s.String()
	}
	if s, ok := any(item).(string); ok {
		return s
	}
	return ""
}
