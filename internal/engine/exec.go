package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/store"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/transport"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/log"
)

type (
	// Method is the user logic of an activity
	Method[T any] func(ctx context.Context, a *Activity) (T, error)

	// DefaultFunc provides the value of a failed activity whose fail
	// urgency lets the workflow continue
	DefaultFunc[T any] func(
		ctx context.Context, a *Activity, failure *ActivityFailedError,
	) (T, error)

	invokeFunc func(ctx context.Context) (json.RawMessage, error)
)

// Keys the engine adds to the context of async requests it sends
const (
	ContextWorkflowInstanceID = "workflow_instance_id"
	ContextActivityInstanceID = "activity_instance_id"
)

var (
	// ErrDuplicateIdentity is raised when two activities of one entry
	// resolve to the same identity
	ErrDuplicateIdentity = fmt.Errorf("%w: duplicate activity identity",
		store.ErrConflict)

	ErrActivityNotResolved = errors.New("activity not resolved")
)

// Execute runs an action activity. A completed activity returns its
// recorded outcome without calling method again. def may be nil
func Execute[T any](
	ctx context.Context, a *Activity, method Method[T], def DefaultFunc[T],
) (T, error) {
	return executeKind(ctx, a, api.ActivityTypeAction, method, def)
}

func executeKind[T any](
	ctx context.Context, a *Activity, kind api.ActivityType,
	method Method[T], def DefaultFunc[T],
) (T, error) {
	var zero T
	a.kind = kind
	err := a.execute(ctx, func(ctx context.Context) (json.RawMessage, error) {
		res, err := method(ctx, a)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	})
	if err != nil {
		return zero, err
	}
	return resolveOutcome(ctx, a, def)
}

// execute brings the activity to a recorded outcome, or returns the
// signal that prevents it
func (a *Activity) execute(ctx context.Context, invoke invokeFunc) error {
	if err := a.resolve(ctx); err != nil {
		return err
	}
	if a.instance.HasCompleted() {
		activitiesReplayed.Inc()
		return nil
	}
	if a.expired() {
		return a.fail(ctx, NewMaxTimeReachedError(
			fmt.Errorf("%w: %s", ErrMaxTimeReached, a.opts.maxExecutionTime),
		))
	}
	if a.instance.AsyncRequestID != "" {
		return a.poll(ctx, invoke)
	}
	return a.invoke(ctx, invoke)
}

// resolve finds the activity instance for the activity's identity or
// creates it. Nothing user-supplied runs before the instance is persisted
func (a *Activity) resolve(ctx context.Context) error {
	if a.parent != nil && a.parent.instance == nil {
		return a.cancel(NewWorkflowImplementationError(fmt.Errorf(
			"%w: parent of %s", ErrActivityNotResolved, a.NestedPosition(),
		)))
	}

	e := a.run.engine
	reg, err := e.registerActivity(ctx, a)
	if err != nil {
		var ae *ActivityError
		if errors.As(err, &ae) {
			return a.cancel(ae)
		}
		return a.retryLater("register activity", err)
	}
	a.version = reg.version

	key := a.Identity().Key()
	if err := a.run.index.claim(key, a.Title()); err != nil {
		return a.cancel(NewWorkflowImplementationError(err))
	}
	if inst, ok := a.run.index.byIdentity(key); ok {
		a.instance = inst
		return nil
	}

	inst := &api.ActivityInstance{
		WorkflowInstanceID: a.run.InstanceID(),
		ActivityVersionID:  a.version.ID,
		State:              api.ActivityExecuting,
		StartedAt:          e.Now(),
		AbsolutePosition:   a.Title(),
	}
	if a.parent != nil {
		pid := a.parent.instance.ID
		inst.ParentActivityInstanceID = &pid
	}
	if it := a.ParentIteration(); it > 0 {
		inst.ParentIteration = &it
	}

	created, err := e.store.ActivityInstances.Create(ctx, inst)
	if errors.Is(err, store.ErrDuplicate) {
		// another entry of the same instance created it first
		created, err = e.store.ActivityInstances.FindUnique(ctx, key)
	}
	if err != nil {
		return a.retryLater("create activity", err)
	}
	a.instance = created
	a.run.index.put(created)

	slog.Debug("Activity started",
		log.WorkflowInstanceID(created.WorkflowInstanceID),
		log.ActivityInstanceID(created.ID),
		log.Position(created.AbsolutePosition))
	e.publish(api.EventTypeActivityStarted, api.ActivityStartedEvent{
		InstanceID: created.WorkflowInstanceID,
		ActivityID: created.ID,
		Position:   created.AbsolutePosition,
		Type:       a.kind,
	})
	return nil
}

func (a *Activity) invoke(ctx context.Context, invoke invokeFunc) error {
	if a.instance.State != api.ActivityExecuting {
		if err := a.persist(ctx, a.instance.SetExecuting()); err != nil {
			return a.retryLater("resume activity", err)
		}
	}

	start := a.run.engine.Now()
	result, err := safeInvoke(ctx, invoke)
	activityDuration.Observe(a.run.engine.Now().Sub(start).Seconds())
	if err == nil {
		return a.succeed(ctx, result)
	}

	var rp *RequestPostponedError
	if errors.As(err, &rp) {
		var id api.RequestID
		if len(rp.RequestIDs) == 1 {
			id = rp.RequestIDs[0]
		}
		return a.wait(ctx, id, &PostponedError{
			WaitingForRequestIDs: rp.RequestIDs,
			TryAgain:             rp.TryAgain,
		})
	}
	if p, ok := AsPostponed(err); ok {
		return a.wait(ctx, "", p)
	}
	if c, ok := AsCancelled(err); ok {
		return c
	}
	if ctx.Err() != nil &&
		(errors.Is(err, context.Canceled) ||
			errors.Is(err, context.DeadlineExceeded)) {
		return &PostponedError{TryAgain: true}
	}
	return a.fail(ctx, err)
}

// poll asks the transport for the response to the activity's outstanding
// request instead of calling the activity again. A request the transport
// no longer knows, as after a restart, is sent again by invoking the
// activity
func (a *Activity) poll(ctx context.Context, invoke invokeFunc) error {
	id := a.instance.AsyncRequestID
	resp, err := a.run.engine.transport.GetFinalResponse(ctx, id)
	if errors.Is(err, transport.ErrUnknownRequest) {
		slog.Warn("Async request lost, sending again",
			log.ActivityInstanceID(a.instance.ID),
			log.RequestID(id))
		return a.invoke(ctx, invoke)
	}
	if err != nil {
		slog.Warn("Async response unavailable",
			log.ActivityInstanceID(a.instance.ID),
			log.RequestID(id),
			log.Error(err))
		return &PostponedError{
			WaitingForRequestIDs: []api.RequestID{id},
			TryAgain:             true,
		}
	}
	if resp == nil {
		return &PostponedError{WaitingForRequestIDs: []api.RequestID{id}}
	}
	var res error
	if resp.IsSuccess() {
		body := resp.Body
		if len(body) == 0 {
			body = json.RawMessage("null")
		}
		res = a.succeed(ctx, body)
	} else {
		msg := resp.Error
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		res = a.fail(ctx, fmt.Errorf("%w: %s", api.ErrRequestFailed, msg))
	}
	a.release(ctx, id)
	return res
}

// release lets the transport drop a final response once the activity has
// recorded it
func (a *Activity) release(ctx context.Context, id api.RequestID) {
	r, ok := a.run.engine.transport.(transport.Releaser)
	if !ok || !a.instance.HasCompleted() {
		return
	}
	if err := r.Release(ctx, id); err != nil {
		slog.Debug("Async response not released",
			log.RequestID(id),
			log.Error(err))
	}
}

func (a *Activity) succeed(ctx context.Context, result json.RawMessage) error {
	e := a.run.engine
	if err := a.persist(ctx, a.instance.SetSuccess(result, e.Now())); err != nil {
		return a.retryLater("record success", err)
	}
	activitiesExecuted.WithLabelValues(string(api.ActivitySuccess)).Inc()
	slog.Debug("Activity completed",
		log.ActivityInstanceID(a.instance.ID),
		log.Position(a.instance.AbsolutePosition))
	e.publish(api.EventTypeActivityCompleted, api.ActivityCompletedEvent{
		InstanceID: a.instance.WorkflowInstanceID,
		ActivityID: a.instance.ID,
		Position:   a.instance.AbsolutePosition,
	})
	return nil
}

func (a *Activity) wait(
	ctx context.Context, id api.RequestID, p *PostponedError,
) error {
	e := a.run.engine
	if err := a.persist(ctx, a.instance.SetWaiting(id)); err != nil {
		slog.Warn("Failed to record waiting activity",
			log.ActivityInstanceID(a.instance.ID),
			log.Error(err))
		res := *p
		res.TryAgain = true
		return &res
	}
	activitiesExecuted.WithLabelValues(string(api.ActivityWaiting)).Inc()
	slog.Info("Activity postponed",
		log.ActivityInstanceID(a.instance.ID),
		log.Position(a.instance.AbsolutePosition),
		log.RequestID(id))
	e.publish(api.EventTypeActivityWaiting, api.ActivityWaitingEvent{
		InstanceID: a.instance.WorkflowInstanceID,
		ActivityID: a.instance.ID,
		Position:   a.instance.AbsolutePosition,
		RequestID:  id,
	})
	return p
}

func (a *Activity) fail(ctx context.Context, cause error) error {
	e := a.run.engine
	cat, technical, friendly := classify(cause)
	next := a.instance.SetFailed(cat, technical, friendly, e.Now())
	if err := a.persist(ctx, next); err != nil {
		return a.retryLater("record failure", err)
	}
	activitiesExecuted.WithLabelValues(string(api.ActivityFailed)).Inc()
	slog.Warn("Activity failed",
		log.ActivityInstanceID(a.instance.ID),
		log.Position(a.instance.AbsolutePosition),
		slog.String("category", string(cat)),
		log.ErrorString(technical))
	e.publish(api.EventTypeActivityFailed, api.ActivityFailedEvent{
		InstanceID: a.instance.WorkflowInstanceID,
		ActivityID: a.instance.ID,
		Position:   a.instance.AbsolutePosition,
		Category:   cat,
		Error:      technical,
	})
	a.run.logActivity(ctx, a, api.LogWarning,
		fmt.Sprintf("Activity %s failed: %s", a.instance.AbsolutePosition,
			technical),
	)
	a.alert(ctx)
	return nil
}

// persist writes the next state of the activity instance. The write is an
// ETag swap against the instance the activity last read or wrote
func (a *Activity) persist(
	ctx context.Context, next *api.ActivityInstance,
) error {
	if err := next.Validate(); err != nil {
		return err
	}
	saved, err := a.run.engine.store.ActivityInstances.Update(
		ctx, string(next.ID), next,
	)
	if err != nil {
		return err
	}
	a.instance = saved
	a.run.index.put(saved)
	return nil
}

func (a *Activity) expired() bool {
	limit := a.opts.maxExecutionTime
	if limit <= 0 {
		return false
	}
	return a.run.engine.Now().Sub(a.instance.StartedAt) > limit
}

func (a *Activity) retryLater(op string, err error) error {
	slog.Warn("Activity persistence failed",
		slog.String("op", op),
		log.Position(a.Title()),
		log.Error(err))
	return &PostponedError{TryAgain: true}
}

func (a *Activity) cancel(ae *ActivityError) error {
	slog.Error("Workflow implementation error",
		log.WorkflowInstanceID(a.run.InstanceID()),
		log.Position(a.Title()),
		log.ErrorString(ae.TechnicalMessage))
	return &CancelledError{
		InstanceID:       a.run.InstanceID(),
		Position:         a.Title(),
		Category:         ae.Category,
		TechnicalMessage: ae.TechnicalMessage,
		FriendlyMessage:  ae.FriendlyMessage,
	}
}

// resolveOutcome turns the recorded outcome of a completed activity into
// the value or signal handed back to the caller
func resolveOutcome[T any](
	ctx context.Context, a *Activity, def DefaultFunc[T],
) (T, error) {
	var zero T
	inst := a.instance
	if inst.State == api.ActivitySuccess {
		var res T
		if len(inst.ResultAsJson) == 0 {
			return res, nil
		}
		if err := json.Unmarshal(inst.ResultAsJson, &res); err != nil {
			return zero, NewWorkflowImplementationError(fmt.Errorf(
				"%w: %s: %w", ErrResultDecode, inst.AbsolutePosition, err,
			))
		}
		return res, nil
	}

	a.alert(ctx)
	failure := failedFrom(inst)
	urgency := a.version.FailUrgency
	switch urgency {
	case api.FailUrgencyCancelWorkflow:
		return zero, &CancelledError{
			InstanceID:       inst.WorkflowInstanceID,
			Position:         inst.AbsolutePosition,
			Category:         failure.Category,
			TechnicalMessage: failure.TechnicalMessage,
			FriendlyMessage:  failure.FriendlyMessage,
		}
	case api.FailUrgencyStopping:
		return zero, &PostponedError{Stopping: true}
	}

	if def != nil {
		res, err := safeDefault(ctx, a, failure, def)
		if err == nil {
			return res, nil
		}
		if IsSignal(err) {
			return zero, err
		}
		// a failing default halts the branch but is retried on reentry
		slog.Warn("Default value provider failed",
			log.ActivityInstanceID(inst.ID),
			log.Position(inst.AbsolutePosition),
			log.Error(err))
		return zero, &PostponedError{Stopping: true, TryAgain: true}
	}
	if urgency == api.FailUrgencyHandleLater {
		return zero, failure
	}
	return zero, nil
}

func safeInvoke(
	ctx context.Context, invoke invokeFunc,
) (res json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrActivityPanicked, r)
		}
	}()
	return invoke(ctx)
}

func safeDefault[T any](
	ctx context.Context, a *Activity, failure *ActivityFailedError,
	def DefaultFunc[T],
) (res T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrActivityPanicked, r)
		}
	}()
	return def(ctx, a, failure)
}
