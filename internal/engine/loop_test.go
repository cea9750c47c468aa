package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	as "github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/assert"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/assert/helpers"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/engine"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
)

func TestLoopUntil(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		w := as.New(t)
		calls := newCounter()
		env.Register(t, "until",
			func(ctx context.Context, r *engine.Run) (any, error) {
				return engine.LoopUntil(ctx, r.Activity(1, "loop"),
					func(ctx context.Context, l *engine.Loop) (int, error) {
						i := l.Iteration()
						res, err := engine.Action(ctx, l.Activity(1, "step"),
							func(context.Context, *engine.Activity) (int, error) {
								if calls.inc("step") == 2 {
									return 0, engine.TryAgain()
								}
								return i * 10, nil
							}, nil,
						)
						if err != nil {
							return 0, err
						}
						l.SetEndLoop(i == 3)
						return res, nil
					}, nil,
				)
			},
		)

		ctx := context.Background()
		inst, err := env.Engine.StartWorkflow(ctx, "until",
			api.StartWorkflowRequest{},
		)
		p := postponed(t, err)

		acts := env.Activities(t, inst.ID)
		w.ActivityState(acts["1.1 [1]"], api.ActivitySuccess)
		w.ActivityState(acts["1.1 [2]"], api.ActivityWaiting)
		w.Equal(2, acts["1"].Iteration)

		inst, err = env.Engine.Reentry(ctx, inst.ID, p.Reentry.Authentication)
		w.NoError(err)
		w.JSONEq(`30`, string(inst.ResultAsJson))
		w.Equal(4, calls.get("step"))

		acts = env.Activities(t, inst.ID)
		w.Len(acts, 4)
		w.Equal(3, acts["1"].Iteration)
		w.ActivityState(acts["1.1 [3]"], api.ActivitySuccess)
	})
}

func TestLoopUntilRequiresEndLoop(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		var seen *engine.ActivityFailedError
		env.Register(t, "no-end",
			func(ctx context.Context, r *engine.Run) (any, error) {
				_, err := engine.LoopUntil(ctx,
					r.Activity(1, "loop",
						engine.WithFailUrgency(api.FailUrgencyHandleLater),
					),
					func(context.Context, *engine.Loop) (int, error) {
						return 1, nil
					}, nil,
				)
				if errors.As(err, &seen) {
					return nil, nil
				}
				return nil, err
			},
		)
		_, err := env.Engine.StartWorkflow(context.Background(), "no-end",
			api.StartWorkflowRequest{},
		)
		assert.NoError(t, err)
		if assert.NotNil(t, seen) {
			assert.Equal(t, api.CategoryWorkflowImplementation, seen.Category)
			assert.Contains(t, seen.TechnicalMessage,
				engine.ErrLoopEndNotSet.Error(),
			)
		}
	})
}

func TestWhileDo(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		var checks atomic.Int32
		env.Register(t, "while",
			func(ctx context.Context, r *engine.Run) (any, error) {
				return engine.WhileDo(ctx, r.Activity(1, "loop"),
					func(ctx context.Context, l *engine.Loop) (bool, error) {
						return engine.Condition(ctx, l.Activity(1, "more"),
							func(context.Context, *engine.Activity) (bool, error) {
								checks.Add(1)
								return l.Iteration() <= 2, nil
							}, nil,
						)
					},
					func(ctx context.Context, l *engine.Loop) (int, error) {
						return l.Iteration(), nil
					}, nil,
				)
			},
		)
		inst, err := env.Engine.StartWorkflow(context.Background(), "while",
			api.StartWorkflowRequest{},
		)
		assert.NoError(t, err)
		assert.JSONEq(t, `2`, string(inst.ResultAsJson))
		assert.Equal(t, int32(3), checks.Load())
	})
}

func TestWhileDoEndLoop(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		env.Register(t, "while-end",
			func(ctx context.Context, r *engine.Run) (any, error) {
				return engine.WhileDo(ctx, r.Activity(1, "loop"),
					func(context.Context, *engine.Loop) (bool, error) {
						return true, nil
					},
					func(_ context.Context, l *engine.Loop) (int, error) {
						l.SetEndLoop(l.Iteration() == 4)
						return l.Iteration(), nil
					}, nil,
				)
			},
		)
		inst, err := env.Engine.StartWorkflow(context.Background(),
			"while-end", api.StartWorkflowRequest{},
		)
		assert.NoError(t, err)
		assert.JSONEq(t, `4`, string(inst.ResultAsJson))
	})
}

func TestForEachSequential(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		w := as.New(t)
		calls := newCounter()
		env.Register(t, "sequential",
			func(ctx context.Context, r *engine.Run) (any, error) {
				return engine.ForEachSequential(ctx, r.Activity(1, "each"),
					[]string{"x", "y", "z"},
					func(
						ctx context.Context, l *engine.Loop, item string,
					) (string, error) {
						return engine.Action(ctx, l.Activity(1, "upper"),
							func(context.Context, *engine.Activity) (string, error) {
								if calls.inc(item) == 1 && item == "y" {
									return "", engine.TryAgain()
								}
								return strings.ToUpper(item), nil
							}, nil,
						)
					}, nil,
				)
			},
		)

		ctx := context.Background()
		inst, err := env.Engine.StartWorkflow(ctx, "sequential",
			api.StartWorkflowRequest{},
		)
		p := postponed(t, err)
		acts := env.Activities(t, inst.ID)
		w.Len(acts, 3)
		w.Equal("y", acts["1"].IterationTitle)
		w.Zero(calls.get("z"))

		inst, err = env.Engine.Reentry(ctx, inst.ID, p.Reentry.Authentication)
		w.NoError(err)
		w.JSONEq(`["X","Y","Z"]`, string(inst.ResultAsJson))
		w.Equal(1, calls.get("x"))
		w.Equal(2, calls.get("y"))
		w.Equal(1, calls.get("z"))
		w.Equal("z", env.Activities(t, inst.ID)["1"].IterationTitle)
	})
}
