package engine_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	as "github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/assert"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/assert/helpers"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/engine"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
)

var errBroken = errors.New("broken")

func failing[T any](calls *atomic.Int32) engine.Method[T] {
	return func(context.Context, *engine.Activity) (T, error) {
		var zero T
		calls.Add(1)
		return zero, errBroken
	}
}

func TestCancelWorkflowUrgency(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		w := as.New(t)
		var failed, after atomic.Int32
		env.Register(t, "cancel",
			func(ctx context.Context, r *engine.Run) (any, error) {
				_, err := engine.Action(ctx,
					r.Activity(1, "fails",
						engine.WithFailUrgency(api.FailUrgencyCancelWorkflow),
					),
					func(context.Context, *engine.Activity) (int, error) {
						failed.Add(1)
						return 0, engine.NewBusinessError("no stock", errBroken)
					}, nil,
				)
				if err != nil {
					return nil, err
				}
				return engine.Action(ctx, r.Activity(2, "after"),
					constant(1, &after), nil,
				)
			},
		)

		inst, err := env.Engine.StartWorkflow(context.Background(), "cancel",
			api.StartWorkflowRequest{},
		)
		c, ok := engine.AsCancelled(err)
		w.True(ok)
		w.Equal(api.CategoryBusiness, c.Category)
		w.Equal("1", c.Position)
		w.WorkflowState(inst, api.WorkflowFailed)
		w.NotNil(inst.CancelledAt)
		w.Equal("no stock", inst.ExceptionFriendlyMessage)
		w.Equal(int32(1), failed.Load())
		w.Equal(int32(0), after.Load())

		acts := env.Activities(t, inst.ID)
		w.Len(acts, 1)
		w.ActivityState(acts["1"], api.ActivityFailed)
		w.ExceptionFields(acts["1"])
	})
}

func TestStoppingUrgencyAndRetry(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		w := as.New(t)
		var calls atomic.Int32
		env.Register(t, "stopping",
			func(ctx context.Context, r *engine.Run) (any, error) {
				return engine.Action(ctx, r.Activity(1, "flaky"),
					func(context.Context, *engine.Activity) (string, error) {
						if calls.Add(1) == 1 {
							return "", errBroken
						}
						return "ok", nil
					}, nil,
				)
			},
		)

		ctx := context.Background()
		inst, err := env.Engine.StartWorkflow(ctx, "stopping",
			api.StartWorkflowRequest{},
		)
		p := postponed(t, err)
		w.True(p.Stopping)
		w.False(p.TryAgain)
		w.WorkflowState(inst, api.WorkflowHalted)

		// a halted instance stays halted until the failure is retried
		inst, err = env.Engine.Reentry(ctx, inst.ID, p.Reentry.Authentication)
		postponed(t, err)
		w.Equal(int32(1), calls.Load())

		act := env.Activities(t, inst.ID)["1"]
		w.ActivityState(act, api.ActivityFailed)
		w.ExceptionFields(act)
		w.Equal(api.CategoryTechnical, *act.ExceptionCategory)
		w.Equal("broken", *act.ExceptionTechnicalMessage)

		retried, err := env.Engine.RetryActivity(ctx, act.ID)
		w.NoError(err)
		w.ExceptionFields(retried)

		inst, err = env.Engine.Reentry(ctx, inst.ID, p.Reentry.Authentication)
		w.NoError(err)
		w.WorkflowState(inst, api.WorkflowSuccess)
		w.Equal(int32(2), calls.Load())

		_, err = env.Engine.RetryActivity(ctx, act.ID)
		w.ErrorIs(err, engine.ErrActivityNotFailed)
	})
}

func TestHandleLaterUrgency(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		var calls atomic.Int32
		var seen *engine.ActivityFailedError
		env.Register(t, "later",
			func(ctx context.Context, r *engine.Run) (any, error) {
				_, err := engine.Action(ctx,
					r.Activity(1, "fails",
						engine.WithFailUrgency(api.FailUrgencyHandleLater),
					),
					failing[int](&calls), nil,
				)
				if errors.As(err, &seen) {
					return "handled", nil
				}
				return nil, err
			},
		)
		inst, err := env.Engine.StartWorkflow(context.Background(), "later",
			api.StartWorkflowRequest{},
		)
		assert.NoError(t, err)
		assert.JSONEq(t, `"handled"`, string(inst.ResultAsJson))
		if assert.NotNil(t, seen) {
			assert.Equal(t, "1", seen.Position)
			assert.Equal(t, api.CategoryTechnical, seen.Category)
		}
	})
}

func TestIgnoreUrgencyAndDefault(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		var first, second atomic.Int32
		ignore := engine.WithFailUrgency(api.FailUrgencyIgnore)
		env.Register(t, "ignore",
			func(ctx context.Context, r *engine.Run) (any, error) {
				a, err := engine.Action(ctx, r.Activity(1, "zero", ignore),
					failing[int](&first), nil,
				)
				if err != nil {
					return nil, err
				}
				b, err := engine.Action(ctx, r.Activity(2, "fallback", ignore),
					failing[int](&second),
					func(
						_ context.Context, _ *engine.Activity,
						f *engine.ActivityFailedError,
					) (int, error) {
						return 7, nil
					},
				)
				if err != nil {
					return nil, err
				}
				return []int{a, b}, nil
			},
		)
		inst, err := env.Engine.StartWorkflow(context.Background(), "ignore",
			api.StartWorkflowRequest{},
		)
		assert.NoError(t, err)
		assert.JSONEq(t, `[0,7]`, string(inst.ResultAsJson))
	})
}

func TestDefaultProviderFailure(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		var calls, defaults atomic.Int32
		env.Register(t, "bad-default",
			func(ctx context.Context, r *engine.Run) (any, error) {
				return engine.Action(ctx,
					r.Activity(1, "fails",
						engine.WithFailUrgency(api.FailUrgencyIgnore),
					),
					failing[int](&calls),
					func(
						context.Context, *engine.Activity,
						*engine.ActivityFailedError,
					) (int, error) {
						defaults.Add(1)
						return 0, errors.New("no default")
					},
				)
			},
		)
		inst, err := env.Engine.StartWorkflow(
			context.Background(), "bad-default", api.StartWorkflowRequest{},
		)
		p := postponed(t, err)
		assert.True(t, p.Stopping)
		assert.True(t, p.TryAgain)
		assert.Equal(t, api.WorkflowHalted, inst.State)
		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, int32(1), defaults.Load())
	})
}

func TestActivityPanicRecorded(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		env.Register(t, "panics",
			func(ctx context.Context, r *engine.Run) (any, error) {
				return engine.Action(ctx,
					r.Activity(1, "panics",
						engine.WithFailUrgency(api.FailUrgencyIgnore),
					),
					func(context.Context, *engine.Activity) (int, error) {
						panic("kaboom")
					}, nil,
				)
			},
		)
		inst, err := env.Engine.StartWorkflow(context.Background(), "panics",
			api.StartWorkflowRequest{},
		)
		assert.NoError(t, err)
		act := env.Activities(t, inst.ID)["1"]
		as.New(t).ExceptionFields(act)
		assert.Contains(t, *act.ExceptionTechnicalMessage, "kaboom")
	})
}

func TestDuplicateIdentityCancels(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		var calls atomic.Int32
		env.Register(t, "dup",
			func(ctx context.Context, r *engine.Run) (any, error) {
				for range 2 {
					_, err := engine.Action(ctx, r.Activity(1, "same"),
						constant(1, &calls), nil,
					)
					if err != nil {
						return nil, err
					}
				}
				return nil, nil
			},
		)
		inst, err := env.Engine.StartWorkflow(context.Background(), "dup",
			api.StartWorkflowRequest{},
		)
		c, ok := engine.AsCancelled(err)
		if assert.True(t, ok) {
			assert.Equal(t, api.CategoryWorkflowImplementation, c.Category)
		}
		assert.Equal(t, api.WorkflowFailed, inst.State)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestAlertDeliveredOnce(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		w := as.New(t)
		var failed, later atomic.Int32
		env.Register(t, "alerts",
			func(ctx context.Context, r *engine.Run) (any, error) {
				_, err := engine.Action(ctx,
					r.Activity(1, "fails",
						engine.WithFailUrgency(api.FailUrgencyIgnore),
					),
					failing[int](&failed), nil,
				)
				if err != nil {
					return nil, err
				}
				return engine.Action(ctx, r.Activity(2, "later"),
					laterThen(2, &later), nil,
				)
			},
		)

		ctx := context.Background()
		env.Alerts.Fail(errors.New("hook down"))
		inst, err := env.Engine.StartWorkflow(ctx, "alerts",
			api.StartWorkflowRequest{},
		)
		p := postponed(t, err)
		w.Empty(env.Alerts.Alerts())
		w.False(env.Activities(t, inst.ID)["1"].AlertDelivered())

		env.Alerts.Fail(nil)
		env.Alerts.Handled(true)
		_, err = env.Engine.Reentry(ctx, inst.ID, p.Reentry.Authentication)
		w.NoError(err)

		alerts := env.Alerts.Alerts()
		if w.Len(alerts, 1) {
			w.Equal(inst.ID, alerts[0].WorkflowInstanceID)
			w.Equal(api.WorkflowFormID("alerts"), alerts[0].WorkflowFormID)
			w.Equal(api.ActivityFormID("fails"), alerts[0].ActivityFormID)
			w.Equal("broken", alerts[0].TechnicalMessage)
		}
		act := env.Activities(t, inst.ID)["1"]
		w.True(act.AlertHandled())
		w.Equal(int32(1), failed.Load())
	})
}

func TestMaxExecutionTime(t *testing.T) {
	clock := helpers.NewTestClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		var calls atomic.Int32
		env.Register(t, "deadline",
			func(ctx context.Context, r *engine.Run) (any, error) {
				return engine.Action(ctx,
					r.Activity(1, "slow",
						engine.WithMaxExecutionTime(time.Minute),
						engine.WithFailUrgency(api.FailUrgencyHandleLater),
					),
					func(context.Context, *engine.Activity) (int, error) {
						calls.Add(1)
						return 0, engine.TryAgain()
					}, nil,
				)
			},
		)
		ctx := context.Background()
		inst, err := env.Engine.StartWorkflow(ctx, "deadline",
			api.StartWorkflowRequest{},
		)
		p := postponed(t, err)

		clock.Advance(2 * time.Minute)
		inst, err = env.Engine.Reentry(ctx, inst.ID, p.Reentry.Authentication)
		var wf *engine.WorkflowFailedError
		assert.ErrorAs(t, err, &wf)
		assert.Equal(t, api.WorkflowFailed, inst.State)
		assert.Equal(t, int32(1), calls.Load())

		act := env.Activities(t, inst.ID)["1"]
		as.New(t).ExceptionFields(act)
		assert.Equal(t, api.CategoryMaxTimeReached, *act.ExceptionCategory)
	}, helpers.WithClock(clock.Now))
}

func TestActivityContext(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		var calls atomic.Int32
		env.Register(t, "context",
			func(ctx context.Context, r *engine.Run) (any, error) {
				return engine.Action(ctx, r.Activity(1, "ctx"),
					func(_ context.Context, a *engine.Activity) (int, error) {
						calls.Add(1)
						if err := a.SetContext("attempt", 5); err != nil {
							return 0, err
						}
						var n int
						ok, err := a.GetContext("attempt", &n)
						if err != nil || !ok {
							return 0, errors.New("context not readable")
						}
						return n, nil
					}, nil,
				)
			},
		)
		inst, err := env.Engine.StartWorkflow(context.Background(), "context",
			api.StartWorkflowRequest{},
		)
		assert.NoError(t, err)
		assert.JSONEq(t, `5`, string(inst.ResultAsJson))
		act := env.Activities(t, inst.ID)["1"]
		assert.JSONEq(t, `5`, string(act.ContextDictionary["attempt"]))
	})
}

func TestConditionReplaysBranch(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		var cond, yes, later atomic.Int32
		env.Register(t, "condition",
			func(ctx context.Context, r *engine.Run) (any, error) {
				ok, err := engine.Condition(ctx, r.Activity(1, "check"),
					constant(true, &cond), nil,
				)
				if err != nil {
					return nil, err
				}
				res := "no"
				if ok {
					if res, err = engine.Action(ctx, r.Activity(2, "yes"),
						constant("yes", &yes), nil,
					); err != nil {
						return nil, err
					}
				}
				_, err = engine.Action(ctx, r.Activity(3, "later"),
					laterThen(0, &later), nil,
				)
				return res, err
			},
		)
		ctx := context.Background()
		inst, err := env.Engine.StartWorkflow(ctx, "condition",
			api.StartWorkflowRequest{},
		)
		p := postponed(t, err)
		inst, err = env.Engine.Reentry(ctx, inst.ID, p.Reentry.Authentication)
		assert.NoError(t, err)
		assert.JSONEq(t, `"yes"`, string(inst.ResultAsJson))
		assert.Equal(t, int32(1), cond.Load())
		assert.Equal(t, int32(1), yes.Load())
	})
}

func TestRetryRestartsExecutionTime(t *testing.T) {
	clock := helpers.NewTestClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		var calls atomic.Int32
		env.Register(t, "deadline",
			func(ctx context.Context, r *engine.Run) (any, error) {
				return engine.Action(ctx,
					r.Activity(1, "slow",
						engine.WithMaxExecutionTime(time.Minute),
						engine.WithFailUrgency(api.FailUrgencyStopping),
					),
					laterThen(7, &calls), nil,
				)
			},
		)
		ctx := context.Background()
		inst, err := env.Engine.StartWorkflow(ctx, "deadline",
			api.StartWorkflowRequest{},
		)
		p := postponed(t, err)

		clock.Advance(2 * time.Minute)
		inst, err = env.Engine.Reentry(ctx, inst.ID, p.Reentry.Authentication)
		assert.True(t, postponed(t, err).Stopping)
		assert.Equal(t, api.WorkflowHalted, inst.State)

		act := env.Activities(t, inst.ID)["1"]
		assert.Equal(t, api.CategoryMaxTimeReached, *act.ExceptionCategory)
		retried, err := env.Engine.RetryActivity(ctx, act.ID)
		assert.NoError(t, err)
		assert.True(t, clock.Now().Equal(retried.StartedAt))

		inst, err = env.Engine.Reentry(ctx, inst.ID, p.Reentry.Authentication)
		assert.NoError(t, err)
		assert.JSONEq(t, `7`, string(inst.ResultAsJson))
		assert.Equal(t, int32(2), calls.Load())
	}, helpers.WithClock(clock.Now))
}
