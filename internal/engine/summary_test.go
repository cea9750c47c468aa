package engine_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/assert/helpers"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/engine"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
)

func TestSummaryTree(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		var calls atomic.Int32
		env.Register(t, "tree",
			func(ctx context.Context, r *engine.Run) (any, error) {
				if _, err := engine.Action(ctx, r.Activity(1, "parent",
					engine.WithTitle("Parent step"),
				), func(ctx context.Context, a *engine.Activity) (int, error) {
					return engine.Action(ctx, a.Activity(1, "child"),
						constant(1, &calls), nil,
					)
				}, nil); err != nil {
					return nil, err
				}
				return engine.ForEachSequential(ctx, r.Activity(2, "each"),
					[]int{1, 2},
					func(ctx context.Context, l *engine.Loop, n int) (int, error) {
						return engine.Action(ctx, l.Activity(1, "item"),
							constant(n, &calls), nil,
						)
					}, nil,
				)
			},
		)

		ctx := context.Background()
		inst, err := env.Engine.StartWorkflow(ctx, "tree",
			api.StartWorkflowRequest{},
		)
		assert.NoError(t, err)

		sum, err := env.Engine.GetSummary(ctx, inst.ID)
		assert.NoError(t, err)
		assert.Equal(t, api.WorkflowFormID("tree"), sum.Form.ID)
		assert.Len(t, sum.Activities, 5)

		tree := sum.Tree()
		if assert.Len(t, tree, 2) {
			assert.Equal(t, "1", tree[0].Instance.AbsolutePosition)
			assert.Equal(t, "Parent step", tree[0].Form.Title)
			assert.Equal(t, api.ActivityTypeAction, tree[0].Form.Type)
			assert.Len(t, tree[0].Children, 1)
			assert.Equal(t, "2", tree[1].Instance.AbsolutePosition)
			if assert.Len(t, tree[1].Children, 2) {
				assert.Equal(t, "2.1 [1]",
					tree[1].Children[0].Instance.AbsolutePosition)
				assert.Equal(t, "2.1 [2]",
					tree[1].Children[1].Instance.AbsolutePosition)
			}
		}

		child, ok := sum.Find("1.1")
		if assert.True(t, ok) {
			assert.Equal(t, 1, child.Version.Position)
		}
		_, ok = sum.Find("9")
		assert.False(t, ok)

		raw, err := json.Marshal(sum)
		assert.NoError(t, err)
		var decoded struct {
			Activities []json.RawMessage `json:"activities"`
		}
		assert.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Len(t, decoded.Activities, 2)

		_, err = env.Engine.GetSummary(ctx, "missing")
		assert.ErrorIs(t, err, engine.ErrInstanceNotFound)
	})
}

func TestActivityFormsScopedToWorkflow(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		var calls atomic.Int32
		for _, wf := range []string{"alpha", "beta"} {
			env.Register(t, api.WorkflowFormID(wf),
				func(ctx context.Context, r *engine.Run) (any, error) {
					return engine.Action(ctx,
						r.Activity(1, "shared", engine.WithTitle(wf+" step")),
						constant(1, &calls), nil,
					)
				},
			)
		}

		ctx := context.Background()
		for _, wf := range []string{"alpha", "beta"} {
			inst, err := env.Engine.StartWorkflow(ctx, api.WorkflowFormID(wf),
				api.StartWorkflowRequest{},
			)
			assert.NoError(t, err)

			sum, err := env.Engine.GetSummary(ctx, inst.ID)
			assert.NoError(t, err)
			tree := sum.Tree()
			if assert.Len(t, tree, 1) && assert.NotNil(t, tree[0].Form) {
				form := tree[0].Form
				assert.Equal(t, api.WorkflowFormID(wf), form.WorkflowFormID)
				assert.Equal(t, wf+" step", form.Title)
			}
		}
		assert.Equal(t, int32(2), calls.Load())
	})
}
