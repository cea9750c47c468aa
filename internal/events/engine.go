package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
)

type (
	// Applier folds one event into the engine state
	Applier func(*api.EngineState, *api.Event) *api.EngineState

	// Appliers maps event types to the applier that handles them
	Appliers map[api.EventType]Applier

	// Projection keeps an engine state current from a stream of events
	Projection struct {
		state *api.EngineState
		mu    sync.RWMutex
	}
)

// EngineAppliers project the active instance table from workflow events
var EngineAppliers = Appliers{
	api.EventTypeWorkflowStarted:   workflowStarted,
	api.EventTypeWorkflowPostponed: workflowPostponed,
	api.EventTypeWorkflowCompleted: workflowCompleted,
	api.EventTypeWorkflowFailed:    workflowFailed,
	api.EventTypeActivityStarted:   activityTouched,
	api.EventTypeActivityCompleted: activityTouched,
	api.EventTypeActivityFailed:    activityTouched,
}

// NewEngineState returns an empty engine state
func NewEngineState() *api.EngineState {
	return &api.EngineState{
		ActiveInstances: map[api.WorkflowInstanceID]*api.ActiveInstanceInfo{},
	}
}

// Apply folds ev into st. Unknown event types leave st unchanged
func (a Appliers) Apply(st *api.EngineState, ev *api.Event) *api.EngineState {
	if fn, ok := a[ev.Type]; ok {
		return fn(st, ev)
	}
	return st
}

// NewProjection creates a projection starting from an empty state
func NewProjection() *Projection {
	return &Projection{state: NewEngineState()}
}

// Apply folds one event into the projected state
func (p *Projection) Apply(ev *api.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = EngineAppliers.Apply(p.state, ev)
}

// State returns the current projected state
func (p *Projection) State() *api.EngineState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Follow applies every event the hub delivers until ctx is done or the
// hub closes
func (p *Projection) Follow(ctx context.Context, h *Hub) {
	cons := h.NewConsumer()
	go func() {
		defer cons.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-cons.Receive():
				if !ok {
					return
				}
				if ev != nil {
					p.Apply(ev)
				}
			}
		}
	}()
}

func workflowStarted(st *api.EngineState, ev *api.Event) *api.EngineState {
	var ws api.WorkflowStartedEvent
	if err := json.Unmarshal(ev.Data, &ws); err != nil {
		return st
	}
	return st.
		SetActiveInstance(ws.InstanceID, &api.ActiveInstanceInfo{
			InstanceID: ws.InstanceID,
			FormID:     ws.FormID,
			State:      api.WorkflowExecuting,
			StartedAt:  ev.Timestamp,
			LastActive: ev.Timestamp,
		}).
		SetLastUpdated(ev.Timestamp)
}

func workflowPostponed(st *api.EngineState, ev *api.Event) *api.EngineState {
	var wp api.WorkflowPostponedEvent
	if err := json.Unmarshal(ev.Data, &wp); err != nil {
		return st
	}
	info := activeInfo(st, wp.InstanceID, ev)
	info.State = wp.State
	info.WaitingFor = wp.WaitingFor
	info.LastActive = ev.Timestamp
	return st.
		SetActiveInstance(wp.InstanceID, info).
		SetLastUpdated(ev.Timestamp)
}

func workflowCompleted(st *api.EngineState, ev *api.Event) *api.EngineState {
	var wc api.WorkflowCompletedEvent
	if err := json.Unmarshal(ev.Data, &wc); err != nil {
		return st
	}
	return st.
		DeleteActiveInstance(wc.InstanceID).
		AddCompleted().
		SetLastUpdated(ev.Timestamp)
}

func workflowFailed(st *api.EngineState, ev *api.Event) *api.EngineState {
	var wf api.WorkflowFailedEvent
	if err := json.Unmarshal(ev.Data, &wf); err != nil {
		return st
	}
	return st.
		DeleteActiveInstance(wf.InstanceID).
		AddFailed().
		SetLastUpdated(ev.Timestamp)
}

func activityTouched(st *api.EngineState, ev *api.Event) *api.EngineState {
	id := ev.InstanceID()
	if _, ok := st.ActiveInstances[id]; !ok {
		return st
	}
	info := activeInfo(st, id, ev)
	info.State = api.WorkflowExecuting
	info.WaitingFor = nil
	info.LastActive = ev.Timestamp
	return st.
		SetActiveInstance(id, info).
		SetLastUpdated(ev.Timestamp)
}

func activeInfo(
	st *api.EngineState, id api.WorkflowInstanceID, ev *api.Event,
) *api.ActiveInstanceInfo {
	if cur, ok := st.ActiveInstances[id]; ok {
		res := *cur
		return &res
	}
	return &api.ActiveInstanceInfo{
		InstanceID: id,
		StartedAt:  ev.Timestamp,
	}
}
