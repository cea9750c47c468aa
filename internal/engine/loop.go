package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
)

type (
	// Loop is the view of a looping activity during one iteration.
	// Activities declared through it belong to that iteration
	Loop struct {
		view    *Activity
		endSet  bool
		endLoop bool
	}

	// LoopBody runs one iteration of a loop
	LoopBody[T any] func(ctx context.Context, l *Loop) (T, error)

	// LoopCondition decides whether a while loop runs another iteration
	LoopCondition func(ctx context.Context, l *Loop) (bool, error)
)

// Activity declares a child activity of this iteration
func (l *Loop) Activity(
	position int, formID api.ActivityFormID, opts ...ActivityOption,
) *Activity {
	return l.view.Activity(position, formID, opts...)
}

// Iteration returns the 1-based iteration number
func (l *Loop) Iteration() int {
	return l.view.iteration
}

// Node returns the looping activity as seen from this iteration
func (l *Loop) Node() *Activity {
	return l.view
}

// SetEndLoop records whether the loop ends after this iteration
func (l *Loop) SetEndLoop(end bool) {
	l.endSet = true
	l.endLoop = end
}

// LoopUntil runs body until an iteration sets EndLoop to true, and
// returns the result of the last iteration. Every iteration must call
// SetEndLoop
func LoopUntil[T any](
	ctx context.Context, a *Activity, body LoopBody[T], def DefaultFunc[T],
) (T, error) {
	return executeKind(ctx, a, api.ActivityTypeLoopUntil,
		func(ctx context.Context, a *Activity) (T, error) {
			var last T
			for i := 1; ; i++ {
				l, err := a.iterate(ctx, i, "")
				if err != nil {
					return last, err
				}
				res, err := body(ctx, l)
				if err != nil {
					return last, err
				}
				if !l.endSet {
					return last, NewWorkflowImplementationError(fmt.Errorf(
						"%w: %s iteration %d", ErrLoopEndNotSet, a.Title(), i,
					))
				}
				last = res
				if l.endLoop {
					return last, nil
				}
			}
		}, def,
	)
}

// WhileDo runs body for as long as cond holds, and returns the result of
// the last iteration. An iteration may also end the loop by setting
// EndLoop
func WhileDo[T any](
	ctx context.Context, a *Activity, cond LoopCondition, body LoopBody[T],
	def DefaultFunc[T],
) (T, error) {
	return executeKind(ctx, a, api.ActivityTypeWhileDo,
		func(ctx context.Context, a *Activity) (T, error) {
			var last T
			for i := 1; ; i++ {
				l, err := a.iterate(ctx, i, "")
				if err != nil {
					return last, err
				}
				ok, err := cond(ctx, l)
				if err != nil || !ok {
					return last, err
				}
				res, err := body(ctx, l)
				if err != nil {
					return last, err
				}
				last = res
				if l.endSet && l.endLoop {
					return last, nil
				}
			}
		}, def,
	)
}

// iterate records the loop's progress and returns the view of the given
// iteration
func (a *Activity) iterate(
	ctx context.Context, i int, title string,
) (*Loop, error) {
	if err := a.recordIteration(ctx, i, title); err != nil {
		return nil, err
	}
	return &Loop{view: a.view(i)}, nil
}

func (a *Activity) recordIteration(
	ctx context.Context, i int, title string,
) error {
	if a.instance == nil || a.instance.Iteration >= i {
		return nil
	}
	if title == "" {
		title = strconv.Itoa(i)
	}
	if err := a.persist(ctx, a.instance.SetIteration(i, title)); err != nil {
		return a.retryLater("record iteration", err)
	}
	return nil
}
