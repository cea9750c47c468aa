package engine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	as "github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/assert"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/assert/helpers"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/config"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/engine"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
)

type counter struct {
	counts map[string]int
	mu     sync.Mutex
}

func newCounter() *counter {
	return &counter{counts: map[string]int{}}
}

func (c *counter) inc(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
	return c.counts[key]
}

func (c *counter) get(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key]
}

func TestParallelBranchIdentityStable(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		w := as.New(t)
		calls := newCounter()
		env.Register(t, "parallel",
			func(ctx context.Context, r *engine.Run) (any, error) {
				return engine.ForEachParallel(ctx, r.Activity(1, "each"),
					[]string{"a", "b", "c"},
					func(
						ctx context.Context, l *engine.Loop, item string,
					) (string, error) {
						return engine.Action(ctx, l.Activity(1, "upper"),
							func(context.Context, *engine.Activity) (string, error) {
								if calls.inc(item) == 1 && item == "b" {
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
		inst, err := env.Engine.StartWorkflow(ctx, "parallel",
			api.StartWorkflowRequest{},
		)
		p := postponed(t, err)
		w.True(p.TryAgain)

		acts := env.Activities(t, inst.ID)
		w.ActivityState(acts["1.1 [1]"], api.ActivitySuccess)
		w.ActivityState(acts["1.1 [2]"], api.ActivityWaiting)
		w.ActivityState(acts["1.1 [3]"], api.ActivitySuccess)
		w.Equal(3, acts["1"].Iteration)

		inst, err = env.Engine.Reentry(ctx, inst.ID, p.Reentry.Authentication)
		w.NoError(err)
		w.JSONEq(`["A","B","C"]`, string(inst.ResultAsJson))
		w.Equal(1, calls.get("a"))
		w.Equal(2, calls.get("b"))
		w.Equal(1, calls.get("c"))
		w.Len(env.Activities(t, inst.ID), 4)
	})
}

func TestParallelMergesWaitingRequests(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		env.Register(t, "merge",
			func(ctx context.Context, r *engine.Run) (any, error) {
				return engine.ForEachParallel(ctx, r.Activity(1, "each"),
					[]api.RequestID{"req-1", "req-2", "req-1"},
					func(
						ctx context.Context, l *engine.Loop, id api.RequestID,
					) (int, error) {
						return engine.Action(ctx, l.Activity(1, "await"),
							func(context.Context, *engine.Activity) (int, error) {
								return 0, engine.Await(id)
							}, nil,
						)
					}, nil,
				)
			},
		)
		inst, err := env.Engine.StartWorkflow(context.Background(), "merge",
			api.StartWorkflowRequest{},
		)
		p := postponed(t, err)
		assert.ElementsMatch(t,
			[]api.RequestID{"req-1", "req-2"}, p.WaitingForRequestIDs,
		)
		assert.False(t, p.TryAgain)
		assert.Equal(t, api.WorkflowWaiting, inst.State)

		acts := env.Activities(t, inst.ID)
		assert.Equal(t, api.RequestID("req-2"), acts["1.1 [2]"].AsyncRequestID)
	})
}

func TestParallelCancellationWins(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		calls := newCounter()
		cancel := engine.WithFailUrgency(api.FailUrgencyCancelWorkflow)
		env.Register(t, "cancel-branch",
			func(ctx context.Context, r *engine.Run) (any, error) {
				return engine.ForEachParallel(ctx, r.Activity(1, "each"),
					[]string{"wait", "cancel", "ok"},
					func(
						ctx context.Context, l *engine.Loop, item string,
					) (string, error) {
						return engine.Action(ctx, l.Activity(1, "step", cancel),
							func(context.Context, *engine.Activity) (string, error) {
								calls.inc(item)
								switch item {
								case "wait":
									return "", engine.Await("req")
								case "cancel":
									return "", errBroken
								}
								return item, nil
							}, nil,
						)
					}, nil,
				)
			},
		)
		inst, err := env.Engine.StartWorkflow(context.Background(),
			"cancel-branch", api.StartWorkflowRequest{},
		)
		_, ok := engine.AsCancelled(err)
		assert.True(t, ok)
		assert.Equal(t, api.WorkflowFailed, inst.State)
		for _, item := range []string{"wait", "cancel", "ok"} {
			assert.Equal(t, 1, calls.get(item), item)
		}
	})
}

type order struct {
	ID  string
	Qty int
}

func TestParallelKeyed(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		env.Register(t, "keyed",
			func(ctx context.Context, r *engine.Run) (any, error) {
				return engine.ForEachParallelKeyed(ctx, r.Activity(1, "each"),
					[]order{{"x", 1}, {"y", 2}},
					func(o order) string { return o.ID },
					func(
						ctx context.Context, l *engine.Loop, o order,
					) (int, error) {
						return engine.Action(ctx, l.Activity(1, "double"),
							func(context.Context, *engine.Activity) (int, error) {
								return o.Qty * 2, nil
							}, nil,
						)
					}, nil,
				)
			},
		)
		inst, err := env.Engine.StartWorkflow(context.Background(), "keyed",
			api.StartWorkflowRequest{},
		)
		assert.NoError(t, err)
		assert.JSONEq(t, `{"x":2,"y":4}`, string(inst.ResultAsJson))
	})
}

func TestParallelDuplicateKey(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		var branches int
		var seen *engine.ActivityFailedError
		env.Register(t, "dup-key",
			func(ctx context.Context, r *engine.Run) (any, error) {
				_, err := engine.ForEachParallelKeyed(ctx,
					r.Activity(1, "each",
						engine.WithFailUrgency(api.FailUrgencyHandleLater),
					),
					[]string{"same", "same"},
					func(s string) string { return s },
					func(context.Context, *engine.Loop, string) (int, error) {
						branches++
						return 0, nil
					}, nil,
				)
				if errors.As(err, &seen) {
					return nil, nil
				}
				return nil, err
			},
		)
		_, err := env.Engine.StartWorkflow(context.Background(), "dup-key",
			api.StartWorkflowRequest{},
		)
		assert.NoError(t, err)
		assert.Zero(t, branches)
		if assert.NotNil(t, seen) {
			assert.Equal(t, api.CategoryWorkflowImplementation, seen.Category)
			assert.Contains(t, seen.TechnicalMessage, "duplicate parallel key")
		}
	})
}

func TestParallelismLimit(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		var mu sync.Mutex
		var active, peak int
		env.Register(t, "limited",
			func(ctx context.Context, r *engine.Run) (any, error) {
				return engine.ForEachParallel(ctx, r.Activity(1, "each"),
					[]int{1, 2, 3, 4, 5, 6},
					func(context.Context, *engine.Loop, int) (int, error) {
						mu.Lock()
						active++
						peak = max(peak, active)
						mu.Unlock()
						defer func() {
							mu.Lock()
							active--
							mu.Unlock()
						}()
						return 0, nil
					}, nil,
				)
			},
		)
		_, err := env.Engine.StartWorkflow(context.Background(), "limited",
			api.StartWorkflowRequest{},
		)
		assert.NoError(t, err)
		assert.LessOrEqual(t, peak, 2)
	}, helpers.WithConfig(func(cfg *config.Config) {
		cfg.MaxParallelism = 2
	}))
}

func TestNestedLoopInParallelBranch(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		w := as.New(t)
		calls := newCounter()
		env.Register(t, "nested",
			func(ctx context.Context, r *engine.Run) (any, error) {
				return engine.ForEachParallel(ctx, r.Activity(1, "outer"),
					[]int{1, 2},
					func(
						ctx context.Context, l *engine.Loop, outer int,
					) ([]int, error) {
						return engine.ForEachSequential(ctx,
							l.Activity(1, "inner"), []int{1, 2},
							func(
								ctx context.Context, l *engine.Loop, inner int,
							) (int, error) {
								return engine.Action(ctx, l.Activity(1, "leaf"),
									func(context.Context, *engine.Activity) (int, error) {
										key := fmt.Sprintf("%d,%d", outer, inner)
										if calls.inc(key) == 1 && key == "2,2" {
											return 0, engine.TryAgain()
										}
										return outer*10 + inner, nil
									}, nil,
								)
							}, nil,
						)
					}, nil,
				)
			},
		)

		ctx := context.Background()
		inst, err := env.Engine.StartWorkflow(ctx, "nested",
			api.StartWorkflowRequest{},
		)
		p := postponed(t, err)

		acts := env.Activities(t, inst.ID)
		w.Len(acts, 7)
		w.ActivityState(acts["1.1.1 [1,1]"], api.ActivitySuccess)
		w.ActivityState(acts["1.1.1 [1,2]"], api.ActivitySuccess)
		w.ActivityState(acts["1.1.1 [2,1]"], api.ActivitySuccess)
		w.ActivityState(acts["1.1.1 [2,2]"], api.ActivityWaiting)

		leaf := acts["1.1.1 [2,2]"]
		if w.NotNil(leaf.ParentIteration) {
			w.Equal(2, *leaf.ParentIteration)
		}
		w.Equal(acts["1.1 [2]"].ID, *leaf.ParentActivityInstanceID)
		w.NotEqual(
			*acts["1.1.1 [1,1]"].ParentActivityInstanceID,
			*acts["1.1.1 [2,1]"].ParentActivityInstanceID,
		)

		inst, err = env.Engine.Reentry(ctx, inst.ID, p.Reentry.Authentication)
		w.NoError(err)
		w.JSONEq(`[[11,12],[21,22]]`, string(inst.ResultAsJson))

		after := env.Activities(t, inst.ID)
		w.Len(after, 7)
		for title, act := range acts {
			w.Equal(act.ID, after[title].ID, title)
		}
		w.Equal(1, calls.get("1,1"))
		w.Equal(1, calls.get("1,2"))
		w.Equal(1, calls.get("2,1"))
		w.Equal(2, calls.get("2,2"))
	})
}
