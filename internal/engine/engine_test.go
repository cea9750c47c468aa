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
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/assert/wait"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/config"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/engine"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/store"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/transport"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
)

func constant[T any](v T, calls *atomic.Int32) engine.Method[T] {
	return func(context.Context, *engine.Activity) (T, error) {
		calls.Add(1)
		return v, nil
	}
}

// laterThen postpones its first call and returns v from then on
func laterThen[T any](v T, calls *atomic.Int32) engine.Method[T] {
	return func(context.Context, *engine.Activity) (T, error) {
		var zero T
		if calls.Add(1) == 1 {
			return zero, engine.TryAgain()
		}
		return v, nil
	}
}

func postponed(t *testing.T, err error) *engine.PostponedError {
	t.Helper()
	p, ok := engine.AsPostponed(err)
	if !assert.True(t, ok, "expected postponement, got %v", err) {
		t.FailNow()
	}
	return p
}

func TestNewRequiresDependencies(t *testing.T) {
	cfg := helpers.NewTestConfig()
	_, err := engine.New(cfg, engine.Dependencies{})
	assert.ErrorIs(t, err, engine.ErrMissingDependency)

	st := store.New(store.NewMemoryBackend(), nil)
	_, err = engine.New(cfg, engine.Dependencies{Store: st})
	assert.ErrorIs(t, err, engine.ErrMissingDependency)

	bad := helpers.NewTestConfig()
	bad.Reentry.MaxRetries = 0
	_, err = engine.New(bad, engine.Dependencies{
		Store:     st,
		Transport: transport.NewLocalBroker(),
	})
	assert.ErrorIs(t, err, engine.ErrInvalidConfig)
}

func TestRegister(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		run := func(context.Context, *engine.Run) (any, error) {
			return nil, nil
		}
		env.Register(t, "wf", run)
		err := env.Engine.Register(&engine.WorkflowDefinition{
			FormID: "wf", Run: run,
		})
		assert.ErrorIs(t, err, engine.ErrWorkflowExists)

		err = env.Engine.Register(&engine.WorkflowDefinition{FormID: "other"})
		assert.ErrorIs(t, err, engine.ErrInvalidDefinition)

		assert.Equal(t,
			[]api.WorkflowFormID{"wf"}, env.Engine.Definitions(),
		)

		_, err = env.Engine.StartWorkflow(
			context.Background(), "missing", api.StartWorkflowRequest{},
		)
		assert.ErrorIs(t, err, engine.ErrWorkflowNotRegistered)
	})
}

func TestStartWorkflowSuccess(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		w := as.New(t)
		var calls atomic.Int32
		env.Register(t, "sum",
			func(ctx context.Context, r *engine.Run) (any, error) {
				var in struct{ Base int }
				if err := r.Input(&in); err != nil {
					return nil, err
				}
				v, err := engine.Action(ctx, r.Activity(1, "one"),
					constant(42, &calls), nil,
				)
				if err != nil {
					return nil, err
				}
				return v + in.Base, nil
			},
		)

		inst, err := env.Engine.StartWorkflow(context.Background(), "sum",
			api.StartWorkflowRequest{
				Input: []byte(`{"Base":1}`),
				Title: "adding",
			},
		)
		w.NoError(err)
		w.WorkflowState(inst, api.WorkflowSuccess)
		w.JSONEq(`43`, string(inst.ResultAsJson))
		w.Equal("adding", inst.Title)
		w.Equal("1.0", inst.InitialVersion)
		w.NotNil(inst.FinishedAt)
		w.Equal(int32(1), calls.Load())

		acts := env.Activities(t, inst.ID)
		w.Len(acts, 1)
		w.ActivityState(acts["1"], api.ActivitySuccess)
		w.JSONEq(`42`, string(acts["1"].ResultAsJson))

		rec, ok := env.Archive.Get(inst.ID)
		w.True(ok)
		w.Len(rec.Activities, 1)
	})
}

func TestReplaySkipsCompletedActivities(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		w := as.New(t)
		var first, second atomic.Int32
		env.Register(t, "replay",
			func(ctx context.Context, r *engine.Run) (any, error) {
				a, err := engine.Action(ctx, r.Activity(1, "first"),
					constant("a", &first), nil,
				)
				if err != nil {
					return nil, err
				}
				b, err := engine.Action(ctx, r.Activity(2, "second"),
					laterThen("b", &second), nil,
				)
				if err != nil {
					return nil, err
				}
				return a + b, nil
			},
		)

		ctx := context.Background()
		inst, err := env.Engine.StartWorkflow(ctx, "replay",
			api.StartWorkflowRequest{},
		)
		p := postponed(t, err)
		w.True(p.TryAgain)
		w.NotNil(p.Reentry)
		w.Equal(inst.ID, p.Reentry.InstanceID)
		w.WorkflowState(inst, api.WorkflowWaiting)
		w.ActivityState(env.Activities(t, inst.ID)["2"], api.ActivityWaiting)

		inst, err = env.Engine.Reentry(ctx, inst.ID, p.Reentry.Authentication)
		w.NoError(err)
		w.WorkflowState(inst, api.WorkflowSuccess)
		w.JSONEq(`"ab"`, string(inst.ResultAsJson))
		w.Equal(int32(1), first.Load())
		w.Equal(int32(2), second.Load())

		// a finished instance replays its outcome without invoking anything
		inst, err = env.Engine.Reentry(ctx, inst.ID, p.Reentry.Authentication)
		w.NoError(err)
		w.WorkflowState(inst, api.WorkflowSuccess)
		w.Equal(int32(1), first.Load())
		w.Equal(int32(2), second.Load())
	})
}

func TestReentryDenied(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		var calls atomic.Int32
		env.Register(t, "denied",
			func(ctx context.Context, r *engine.Run) (any, error) {
				return engine.Action(ctx, r.Activity(1, "wait"),
					laterThen(1, &calls), nil,
				)
			},
		)
		ctx := context.Background()
		inst, err := env.Engine.StartWorkflow(ctx, "denied",
			api.StartWorkflowRequest{},
		)
		postponed(t, err)

		_, err = env.Engine.Reentry(ctx, inst.ID, "wrong")
		assert.ErrorIs(t, err, engine.ErrReentryDenied)
		assert.Equal(t, int32(1), calls.Load())

		_, err = env.Engine.Reentry(ctx, "missing", "")
		assert.ErrorIs(t, err, engine.ErrInstanceNotFound)
	})
}

func TestWorkflowError(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		w := as.New(t)
		env.Register(t, "broken",
			func(context.Context, *engine.Run) (any, error) {
				return nil, errors.New("boom")
			},
		)
		inst, err := env.Engine.StartWorkflow(context.Background(), "broken",
			api.StartWorkflowRequest{},
		)
		var wf *engine.WorkflowFailedError
		w.ErrorAs(err, &wf)
		w.WorkflowState(inst, api.WorkflowFailed)
		w.Equal("boom", inst.ExceptionTechnicalMessage)
		w.Equal(engine.DefaultFriendlyMessage, inst.ExceptionFriendlyMessage)
		w.Nil(inst.CancelledAt)
	})
}

func TestWorkflowPanic(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		env.Register(t, "panics",
			func(context.Context, *engine.Run) (any, error) {
				panic("unexpected")
			},
		)
		inst, err := env.Engine.StartWorkflow(context.Background(), "panics",
			api.StartWorkflowRequest{},
		)
		var wf *engine.WorkflowFailedError
		assert.ErrorAs(t, err, &wf)
		assert.Contains(t, inst.ExceptionTechnicalMessage, "unexpected")
	})
}

func TestStaleWriteRejected(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		var calls atomic.Int32
		env.Register(t, "stale",
			func(ctx context.Context, r *engine.Run) (any, error) {
				return engine.Action(ctx, r.Activity(1, "wait"),
					laterThen(1, &calls), nil,
				)
			},
		)
		ctx := context.Background()
		inst, err := env.Engine.StartWorkflow(ctx, "stale",
			api.StartWorkflowRequest{},
		)
		postponed(t, err)

		act := env.Activities(t, inst.ID)["1"]
		_, err = env.Store.ActivityInstances.Update(ctx, string(act.ID),
			act.SetExecuting(),
		)
		assert.NoError(t, err)
		_, err = env.Store.ActivityInstances.Update(ctx, string(act.ID),
			act.SetSuccess([]byte(`2`), time.Now()),
		)
		assert.ErrorIs(t, err, store.ErrConflict)
	})
}

func TestWorkflowLogs(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		env.Register(t, "logs",
			func(ctx context.Context, r *engine.Run) (any, error) {
				if err := r.Log(ctx, api.LogInformation, "hello",
					map[string]int{"n": 1},
				); err != nil {
					return nil, err
				}
				return nil, nil
			},
		)
		inst, err := env.Engine.StartWorkflow(context.Background(), "logs",
			api.StartWorkflowRequest{},
		)
		assert.NoError(t, err)

		rec, ok := env.Archive.Get(inst.ID)
		if assert.True(t, ok) && assert.Len(t, rec.Logs, 1) {
			assert.Equal(t, "hello", rec.Logs[0].Message)
			assert.JSONEq(t, `{"n":1}`, string(rec.Logs[0].DataAsJson))
		}
	})
}

func TestScheduledReentry(t *testing.T) {
	helpers.WithStartedEngine(t, func(env *helpers.TestEngineEnv) {
		var calls atomic.Int32
		env.Register(t, "retry",
			func(ctx context.Context, r *engine.Run) (any, error) {
				return engine.Action(ctx, r.Activity(1, "later"),
					laterThen("done", &calls), nil,
				)
			},
		)
		cons := env.Engine.Events().NewConsumer()
		defer cons.Close()

		inst, err := env.Engine.StartWorkflow(context.Background(), "retry",
			api.StartWorkflowRequest{},
		)
		postponed(t, err)

		wait.On(t, cons).ForEvent(wait.WorkflowCompleted(inst.ID))
		done := env.Instance(t, inst.ID)
		assert.Equal(t, api.WorkflowSuccess, done.State)
		assert.Equal(t, int32(2), calls.Load())
	})
}

func TestNextReentryBackoff(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := helpers.NewTestClock(start)
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		e := env.Engine
		assert.Equal(t, start.Add(100*time.Millisecond), e.NextReentry(0))
		assert.Equal(t, start.Add(800*time.Millisecond), e.NextReentry(3))
		assert.Equal(t, start.Add(time.Second), e.NextReentry(10))
		assert.Equal(t, start.Add(time.Second), e.NextReentry(64))
		assert.Equal(t, start.Add(time.Second), e.NextReentry(1000))
	},
		helpers.WithClock(clock.Now),
		helpers.WithConfig(func(cfg *config.Config) {
			cfg.Reentry.BackoffType = config.BackoffTypeExponential
			cfg.Reentry.InitBackoff = 100
			cfg.Reentry.MaxBackoff = 1000
		}),
	)
}

func TestEventsPublished(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		var calls atomic.Int32
		env.Register(t, "events",
			func(ctx context.Context, r *engine.Run) (any, error) {
				return engine.Action(ctx, r.Activity(1, "one"),
					constant(1, &calls), nil,
				)
			},
		)
		cons := env.Engine.Events().NewConsumer()
		defer cons.Close()

		inst, err := env.Engine.StartWorkflow(context.Background(), "events",
			api.StartWorkflowRequest{},
		)
		assert.NoError(t, err)

		w := wait.On(t, cons).WithTimeout(time.Second)
		w.ForEvent(wait.WorkflowStarted(inst.ID))
		w.ForEvent(wait.ActivityCompleted(inst.ID, "1"))
		w.ForEvent(wait.WorkflowCompleted(inst.ID))
	})
}

func TestStopTwice(t *testing.T) {
	helpers.WithStartedEngine(t, func(env *helpers.TestEngineEnv) {
		assert.NoError(t, env.Engine.Stop())
		assert.NoError(t, env.Engine.Stop())

		ev, err := api.NewEvent(api.EventTypeWorkflowStarted, struct{}{},
			env.Engine.Now(),
		)
		assert.NoError(t, err)
		assert.NotPanics(t, func() {
			env.Engine.Events().Publish(ev)
		})
	})
}
