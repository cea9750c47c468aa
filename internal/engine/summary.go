package engine

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/store"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
)

type (
	// WorkflowSummary is a read-only view of one workflow instance and
	// every activity it has visited
	WorkflowSummary struct {
		Instance   *api.WorkflowInstance
		Version    *api.WorkflowVersion
		Form       *api.WorkflowForm
		Activities []*api.ActivityInstance

		versions map[api.ActivityVersionID]*api.ActivityVersion
		forms    map[api.ActivityFormID]*api.ActivityForm
		once     sync.Once
		tree     []*ActivitySummary
	}

	// ActivitySummary is one node of the activity tree of a summary
	ActivitySummary struct {
		Instance *api.ActivityInstance `json:"instance"`
		Version  *api.ActivityVersion  `json:"version,omitempty"`
		Form     *api.ActivityForm     `json:"form,omitempty"`
		Children []*ActivitySummary    `json:"children,omitempty"`
	}
)

// GetSummary loads the instance with its version, form, and activities
func (e *Engine) GetSummary(
	ctx context.Context, id api.WorkflowInstanceID,
) (*WorkflowSummary, error) {
	inst, err := e.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	version, err := e.store.WorkflowVersions.Read(ctx,
		string(inst.WorkflowVersionID),
	)
	if err != nil {
		return nil, err
	}
	form, err := e.store.WorkflowForms.Read(ctx, string(version.WorkflowFormID))
	if err != nil {
		return nil, err
	}
	activities, err := e.store.ActivityInstances.Search(ctx, store.Query{
		Partition: string(id),
	})
	if err != nil {
		return nil, err
	}
	versions, err := e.store.ActivityVersions.Search(ctx, store.Query{
		Partition: string(version.ID),
	})
	if err != nil {
		return nil, err
	}
	forms, err := e.store.ActivityForms.Search(ctx, store.Query{
		Partition: string(form.ID),
	})
	if err != nil {
		return nil, err
	}

	res := &WorkflowSummary{
		Instance:   inst,
		Version:    version,
		Form:       form,
		Activities: activities,
		versions:   make(map[api.ActivityVersionID]*api.ActivityVersion),
		forms:      make(map[api.ActivityFormID]*api.ActivityForm),
	}
	for _, v := range versions {
		res.versions[v.ID] = v
	}
	for _, f := range forms {
		res.forms[f.ID] = f
	}
	return res, nil
}

// Tree returns the root activities with their descendants, ordered by
// iteration, position, and the node's own iteration. It is built on first
// use
func (s *WorkflowSummary) Tree() []*ActivitySummary {
	s.once.Do(func() {
		nodes := make(map[api.ActivityInstanceID]*ActivitySummary,
			len(s.Activities),
		)
		for _, inst := range s.Activities {
			n := &ActivitySummary{Instance: inst}
			if v, ok := s.versions[inst.ActivityVersionID]; ok {
				n.Version = v
				n.Form = s.forms[v.ActivityFormID]
			}
			nodes[inst.ID] = n
		}
		for _, inst := range s.Activities {
			n := nodes[inst.ID]
			if inst.ParentActivityInstanceID == nil {
				s.tree = append(s.tree, n)
				continue
			}
			if p, ok := nodes[*inst.ParentActivityInstanceID]; ok {
				p.Children = append(p.Children, n)
				continue
			}
			s.tree = append(s.tree, n)
		}
		sortSummaries(s.tree)
	})
	return s.tree
}

// Find returns the activity recorded at the given absolute position
func (s *WorkflowSummary) Find(position string) (*ActivitySummary, bool) {
	var walk func([]*ActivitySummary) (*ActivitySummary, bool)
	walk = func(nodes []*ActivitySummary) (*ActivitySummary, bool) {
		for _, n := range nodes {
			if n.Instance.AbsolutePosition == position {
				return n, true
			}
			if res, ok := walk(n.Children); ok {
				return res, true
			}
		}
		return nil, false
	}
	return walk(s.Tree())
}

// MarshalJSON renders the summary with its activity tree
func (s *WorkflowSummary) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Instance   *api.WorkflowInstance `json:"instance"`
		Version    *api.WorkflowVersion  `json:"version"`
		Form       *api.WorkflowForm     `json:"form"`
		Activities []*ActivitySummary    `json:"activities"`
	}{
		Instance:   s.Instance,
		Version:    s.Version,
		Form:       s.Form,
		Activities: s.Tree(),
	})
}

func sortSummaries(nodes []*ActivitySummary) {
	slices.SortStableFunc(nodes, func(a, b *ActivitySummary) int {
		return cmp.Or(
			cmp.Compare(parentIteration(a), parentIteration(b)),
			cmp.Compare(position(a), position(b)),
			cmp.Compare(a.Instance.Iteration, b.Instance.Iteration),
		)
	})
	for _, n := range nodes {
		sortSummaries(n.Children)
	}
}

func parentIteration(n *ActivitySummary) int {
	if n.Instance.ParentIteration == nil {
		return 0
	}
	return *n.Instance.ParentIteration
}

func position(n *ActivitySummary) int {
	if n.Version == nil {
		return 0
	}
	return n.Version.Position
}
