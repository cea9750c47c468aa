package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
)

// Activity is one node of the workflow's activity tree, as seen from one
// position and iteration. Children are declared through their parent, so
// the parent chain carries the position path and the iteration context
// that make up the activity's identity
type Activity struct {
	run      *Run
	parent   *Activity
	formID   api.ActivityFormID
	position int
	opts     activityOptions
	kind     api.ActivityType

	// iteration is the loop or branch counter of this view. Children
	// declared through the view inherit it
	iteration int

	instance *api.ActivityInstance
	version  *api.ActivityVersion
}

// Activity declares a child activity at the given sibling position
func (a *Activity) Activity(
	position int, formID api.ActivityFormID, opts ...ActivityOption,
) *Activity {
	return newActivity(a.run, a, position, formID, opts)
}

func newActivity(
	r *Run, parent *Activity, position int, formID api.ActivityFormID,
	opts []ActivityOption,
) *Activity {
	res := &Activity{
		run:      r,
		parent:   parent,
		formID:   formID,
		position: position,
	}
	for _, opt := range opts {
		opt(&res.opts)
	}
	return res
}

// Run returns the workflow entry the activity belongs to
func (a *Activity) Run() *Run {
	return a.run
}

// FormID returns the activity form the node was declared with
func (a *Activity) FormID() api.ActivityFormID {
	return a.formID
}

// Position returns the sibling position of the activity
func (a *Activity) Position() int {
	return a.position
}

// Iteration returns the loop or branch counter of this view, or zero
func (a *Activity) Iteration() int {
	return a.iteration
}

// ParentIteration returns the iteration of the enclosing loop or branch
// view, or zero when the parent does not iterate
func (a *Activity) ParentIteration() int {
	if a.parent == nil {
		return 0
	}
	return a.parent.iteration
}

// NestedIterations returns the iteration counters of every enclosing loop
// or branch, outermost first
func (a *Activity) NestedIterations() []int {
	if a.parent == nil {
		return nil
	}
	res := a.parent.NestedIterations()
	if a.parent.iteration > 0 {
		res = append(res, a.parent.iteration)
	}
	return res
}

// NestedPosition returns the dotted position path from the root
func (a *Activity) NestedPosition() string {
	pos := strconv.Itoa(a.position)
	if a.parent == nil {
		return pos
	}
	return a.parent.NestedPosition() + "." + pos
}

// Title renders the position path and iteration context, as in
// "2.1 [3,1]"
func (a *Activity) Title() string {
	iters := a.NestedIterations()
	if len(iters) == 0 {
		return a.NestedPosition()
	}
	parts := make([]string, len(iters))
	for i, it := range iters {
		parts[i] = strconv.Itoa(it)
	}
	return fmt.Sprintf("%s [%s]", a.NestedPosition(), strings.Join(parts, ","))
}

// Identity returns the structural identity of the activity. It is only
// complete once the activity and its parent have been resolved
func (a *Activity) Identity() api.ActivityIdentity {
	res := api.ActivityIdentity{
		WorkflowInstanceID: a.run.InstanceID(),
		ParentIteration:    a.ParentIteration(),
	}
	if a.version != nil {
		res.ActivityVersionID = a.version.ID
	}
	if a.parent != nil && a.parent.instance != nil {
		res.ParentActivityInstanceID = a.parent.instance.ID
	}
	return res
}

// InstanceID returns the id of the resolved activity instance
func (a *Activity) InstanceID() api.ActivityInstanceID {
	if a.instance == nil {
		return ""
	}
	return a.instance.ID
}

// State returns the recorded state of the activity, or empty before it
// has been resolved
func (a *Activity) State() api.ActivityState {
	if a.instance == nil {
		return ""
	}
	return a.instance.State
}

// Kind returns the activity kind the node was executed as
func (a *Activity) Kind() api.ActivityType {
	return a.kind
}

// SetContext stores a value in the activity's context dictionary. It is
// persisted with the activity's next state change
func (a *Activity) SetContext(key string, value any) error {
	if a.instance == nil {
		return fmt.Errorf("%w: %s", ErrActivityNotResolved, a.Title())
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	a.instance = a.instance.SetContext(key, raw)
	return nil
}

// GetContext decodes a context dictionary entry into out. It reports
// whether the entry exists
func (a *Activity) GetContext(key string, out any) (bool, error) {
	if a.instance == nil {
		return false, nil
	}
	raw, ok := a.instance.ContextDictionary[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

// SendRequest hands a request to the async transport on behalf of the
// activity. Return Await with the id to wait for its response
func (a *Activity) SendRequest(
	ctx context.Context, req *api.AsyncRequest,
) (api.RequestID, error) {
	next := *req
	next.Context = make(map[string]string, len(req.Context)+2)
	for k, v := range req.Context {
		next.Context[k] = v
	}
	next.Context[ContextWorkflowInstanceID] = string(a.run.InstanceID())
	next.Context[ContextActivityInstanceID] = string(a.InstanceID())
	return a.run.engine.transport.SendRequest(ctx, &next)
}

// view returns a copy of the activity at the given iteration, used as the
// parent of the children of one loop iteration or parallel branch
func (a *Activity) view(iteration int) *Activity {
	res := *a
	res.iteration = iteration
	return &res
}

func (a *Activity) formTitle() string {
	if a.opts.title != "" {
		return a.opts.title
	}
	return string(a.formID)
}

func (a *Activity) formRecordID() api.ActivityFormID {
	return api.ScopedActivityFormID(a.run.reg.form.ID, a.formID)
}

func (a *Activity) failUrgency() api.FailUrgency {
	if a.opts.failUrgency != "" {
		return a.opts.failUrgency
	}
	return a.run.engine.config.DefaultFailUrgency
}

func (a *Activity) parentVersionID() api.ActivityVersionID {
	if a.parent == nil || a.parent.version == nil {
		return ""
	}
	return a.parent.version.ID
}
