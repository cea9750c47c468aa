package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
)

// KeyFunc maps an item of a keyed parallel activity to its result key
type KeyFunc[I any, K ~string] func(item I) K

// ForEachParallel runs body for every item concurrently, one branch per
// item numbered from 1. Every branch is observed before the outcome is
// decided: results are positional, postponements are merged, and a
// cancellation in any branch wins
func ForEachParallel[I, T any](
	ctx context.Context, a *Activity, items []I, body ItemBody[I, T],
	def DefaultFunc[[]T],
) ([]T, error) {
	return executeKind(ctx, a, api.ActivityTypeForEachParallel,
		func(ctx context.Context, a *Activity) ([]T, error) {
			return fanOut(ctx, a, items, body)
		}, def,
	)
}

// ForEachParallelKeyed runs like ForEachParallel and returns the results
// by the key of their item. Every key is computed before any branch
// starts, and the keys must be distinct
func ForEachParallelKeyed[I any, K ~string, T any](
	ctx context.Context, a *Activity, items []I, key KeyFunc[I, K],
	body ItemBody[I, T], def DefaultFunc[map[K]T],
) (map[K]T, error) {
	return executeKind(ctx, a, api.ActivityTypeForEachParallel,
		func(ctx context.Context, a *Activity) (map[K]T, error) {
			keys, err := itemKeys(items, key)
			if err != nil {
				return nil, err
			}
			res, err := fanOut(ctx, a, items, body)
			if err != nil {
				return nil, err
			}
			byKey := make(map[K]T, len(keys))
			for i, k := range keys {
				byKey[k] = res[i]
			}
			return byKey, nil
		}, def,
	)
}

func fanOut[I, T any](
	ctx context.Context, a *Activity, items []I, body ItemBody[I, T],
) ([]T, error) {
	if err := a.recordIteration(ctx, len(items), ""); err != nil {
		return nil, err
	}
	views := make([]*Loop, len(items))
	for i := range items {
		views[i] = &Loop{view: a.view(i + 1)}
	}

	res := make([]T, len(items))
	errs := make([]error, len(items))
	var g errgroup.Group
	if limit := a.run.engine.config.MaxParallelism; limit > 0 {
		g.SetLimit(limit)
	}
	for i, item := range items {
		g.Go(func() error {
			res[i], errs[i] = runBranch(ctx, views[i], item, body)
			return nil
		})
	}
	_ = g.Wait()

	if err := foldBranches(errs); err != nil {
		return nil, err
	}
	return res, nil
}

func runBranch[I, T any](
	ctx context.Context, l *Loop, item I, body ItemBody[I, T],
) (res T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: branch %d: %v",
				ErrActivityPanicked, l.Iteration(), r)
		}
	}()
	return body(ctx, l, item)
}

func itemKeys[I any, K ~string](items []I, key KeyFunc[I, K]) ([]K, error) {
	res := make([]K, len(items))
	seen := make(map[K]int, len(items))
	for i, item := range items {
		k, err := safeKey(item, key)
		if err != nil {
			return nil, NewWorkflowImplementationError(fmt.Errorf(
				"%w: item %d: %w", ErrKeyFunctionFailed, i+1, err,
			))
		}
		if prev, ok := seen[k]; ok {
			return nil, NewWorkflowImplementationError(fmt.Errorf(
				"%w: %q for items %d and %d", ErrDuplicateKey, k, prev, i+1,
			))
		}
		seen[k] = i + 1
		res[i] = k
	}
	return res, nil
}

func safeKey[I any, K ~string](item I, key KeyFunc[I, K]) (k K, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return key(item), nil
}
