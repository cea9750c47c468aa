package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/store"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/log"
)

// Run is one entry into a workflow instance. The workflow function
// declares its root activities through it
type Run struct {
	engine   *Engine
	reg      *registration
	instance *api.WorkflowInstance
	index    *activityIndex
	mu       sync.Mutex
}

// Activity declares a root activity at the given position
func (r *Run) Activity(
	position int, formID api.ActivityFormID, opts ...ActivityOption,
) *Activity {
	return newActivity(r, nil, position, formID, opts)
}

// InstanceID returns the id of the workflow instance being entered
func (r *Run) InstanceID() api.WorkflowInstanceID {
	return r.instance.ID
}

// Instance returns the workflow instance as loaded for this entry
func (r *Run) Instance() *api.WorkflowInstance {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := *r.instance
	return &res
}

// Input decodes the workflow input into out
func (r *Run) Input(out any) error {
	if len(r.instance.InputAsJson) == 0 {
		return nil
	}
	return json.Unmarshal(r.instance.InputAsJson, out)
}

// Log persists a workflow log entry when sev reaches the configured
// workflow log level
func (r *Run) Log(
	ctx context.Context, sev api.LogSeverity, msg string, data any,
) error {
	return r.writeLog(ctx, nil, sev, msg, data)
}

func (r *Run) logActivity(
	ctx context.Context, a *Activity, sev api.LogSeverity, msg string,
) {
	formID := a.formID
	if err := r.writeLog(ctx, &formID, sev, msg, nil); err != nil {
		slog.Warn("Failed to write workflow log",
			log.WorkflowInstanceID(r.InstanceID()),
			log.Error(err))
	}
}

func (r *Run) writeLog(
	ctx context.Context, formID *api.ActivityFormID, sev api.LogSeverity,
	msg string, data any,
) error {
	e := r.engine
	if sev < e.config.WorkflowLogLevel {
		return nil
	}
	id := r.InstanceID()
	entry := &api.WorkflowLog{
		WorkflowFormID:     r.reg.form.ID,
		WorkflowInstanceID: &id,
		ActivityFormID:     formID,
		Severity:           sev,
		Message:            msg,
		TimeStamp:          e.Now(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		entry.DataAsJson = raw
	}
	_, err := e.store.Logs.Create(ctx, entry)
	return err
}

// StartWorkflow creates an instance of the registered workflow and runs
// its first entry. A postponed entry returns the instance together with a
// *PostponedError carrying what is needed for reentry
func (e *Engine) StartWorkflow(
	ctx context.Context, formID api.WorkflowFormID,
	req api.StartWorkflowRequest,
) (*api.WorkflowInstance, error) {
	def, err := e.definition(formID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, formID)
	}
	reg, err := e.register(ctx, def)
	if err != nil {
		return nil, err
	}

	title := req.Title
	if title == "" {
		title = def.Title
	}
	inst, err := e.store.WorkflowInstances.Create(ctx, &api.WorkflowInstance{
		ID:                    api.WorkflowInstanceID(uuid.NewString()),
		WorkflowVersionID:     reg.version.ID,
		Title:                 title,
		InitialVersion:        reg.version.String(),
		State:                 api.WorkflowExecuting,
		StartedAt:             e.Now(),
		InputAsJson:           req.Input,
		ReentryAuthentication: uuid.NewString(),
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Workflow started",
		log.WorkflowFormID(formID),
		log.WorkflowInstanceID(inst.ID))
	e.publish(api.EventTypeWorkflowStarted, api.WorkflowStartedEvent{
		InstanceID: inst.ID,
		FormID:     formID,
		Version:    reg.version.String(),
	})
	return e.enter(ctx, inst.ID)
}

// Reentry resumes a postponed instance. The authentication must match the
// token handed out with the postponement. Entering a finished instance
// replays its recorded outcome
func (e *Engine) Reentry(
	ctx context.Context, id api.WorkflowInstanceID, auth string,
) (*api.WorkflowInstance, error) {
	inst, err := e.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	if auth != inst.ReentryAuthentication {
		return nil, ErrReentryDenied
	}
	return e.enter(ctx, id)
}

// GetInstance loads a workflow instance
func (e *Engine) GetInstance(
	ctx context.Context, id api.WorkflowInstanceID,
) (*api.WorkflowInstance, error) {
	inst, err := e.store.WorkflowInstances.Read(ctx, string(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	return inst, err
}

// RetryActivity clears the recorded failure of an activity so the next
// entry of its instance invokes it again
func (e *Engine) RetryActivity(
	ctx context.Context, id api.ActivityInstanceID,
) (*api.ActivityInstance, error) {
	inst, err := e.store.ActivityInstances.Read(ctx, string(id))
	if err != nil {
		return nil, err
	}
	if inst.State != api.ActivityFailed {
		return nil, fmt.Errorf("%w: %s", ErrActivityNotFailed, id)
	}
	res, err := e.store.ActivityInstances.Update(ctx, string(id),
		inst.SetRetry(e.Now()),
	)
	if err != nil {
		return nil, err
	}
	slog.Info("Activity retry requested",
		log.WorkflowInstanceID(res.WorkflowInstanceID),
		log.ActivityInstanceID(id))
	return res, nil
}

func (e *Engine) enter(
	ctx context.Context, id api.WorkflowInstanceID,
) (*api.WorkflowInstance, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	inst, err := e.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.State.IsTerminal() {
		return inst, finishedOutcome(inst)
	}

	reg, err := e.registrationFor(ctx, inst.WorkflowVersionID)
	if errors.Is(err, ErrWorkflowNotRegistered) {
		return inst, err
	}
	if err != nil {
		return e.postponeEntry(ctx, inst, err)
	}
	idx, err := e.loadIndex(ctx, id)
	if err != nil {
		return e.postponeEntry(ctx, inst, err)
	}
	if inst.State != api.WorkflowExecuting {
		next, err := e.store.WorkflowInstances.Update(ctx, string(id),
			inst.SetState(api.WorkflowExecuting),
		)
		if err != nil {
			return e.postponeEntry(ctx, inst, err)
		}
		inst = next
	}

	r := &Run{engine: e, reg: reg, instance: inst, index: idx}
	res, runErr := safeRun(ctx, reg.def.Run, r)
	return e.settle(ctx, r, res, runErr)
}

// settle records the outcome of one entry on the workflow instance
func (e *Engine) settle(
	ctx context.Context, r *Run, res any, runErr error,
) (*api.WorkflowInstance, error) {
	inst := r.instance
	if runErr == nil {
		raw, err := json.Marshal(res)
		if err != nil {
			runErr = NewWorkflowImplementationError(
				fmt.Errorf("%w: %w", ErrResultDecode, err),
			)
		} else {
			return e.succeed(ctx, r, raw)
		}
	}

	if p, ok := AsPostponed(runErr); ok {
		return e.postpone(ctx, inst, p)
	}
	if c, ok := AsCancelled(runErr); ok {
		next := inst.SetCancelled(c.TechnicalMessage, c.FriendlyMessage,
			e.Now(),
		)
		saved, err := e.store.WorkflowInstances.Update(ctx, string(inst.ID),
			next,
		)
		if err != nil {
			return e.postponeEntry(ctx, inst, err)
		}
		e.finish(ctx, r, saved)
		return saved, c
	}
	var rp *RequestPostponedError
	if errors.As(runErr, &rp) {
		return e.postpone(ctx, inst, &PostponedError{
			WaitingForRequestIDs: rp.RequestIDs,
			TryAgain:             rp.TryAgain || len(rp.RequestIDs) == 0,
		})
	}

	_, technical, friendly := classify(runErr)
	saved, err := e.store.WorkflowInstances.Update(ctx, string(inst.ID),
		inst.SetFailed(technical, friendly, e.Now()),
	)
	if err != nil {
		return e.postponeEntry(ctx, inst, err)
	}
	e.finish(ctx, r, saved)
	return saved, &WorkflowFailedError{
		InstanceID:       saved.ID,
		TechnicalMessage: technical,
		FriendlyMessage:  friendly,
	}
}

func (e *Engine) succeed(
	ctx context.Context, r *Run, result json.RawMessage,
) (*api.WorkflowInstance, error) {
	inst := r.instance
	saved, err := e.store.WorkflowInstances.Update(ctx, string(inst.ID),
		inst.SetSuccess(result, e.Now()),
	)
	if err != nil {
		return e.postponeEntry(ctx, inst, err)
	}
	e.finish(ctx, r, saved)
	return saved, nil
}

func (e *Engine) postpone(
	ctx context.Context, inst *api.WorkflowInstance, p *PostponedError,
) (*api.WorkflowInstance, error) {
	state := api.WorkflowWaiting
	if p.Stopping {
		state = api.WorkflowHalted
	}
	res := *p
	res.Reentry = &Reentry{
		InstanceID:     inst.ID,
		Authentication: inst.ReentryAuthentication,
	}

	saved, err := e.store.WorkflowInstances.Update(ctx, string(inst.ID),
		inst.SetState(state),
	)
	if err != nil {
		slog.Warn("Failed to record postponed workflow",
			log.WorkflowInstanceID(inst.ID),
			log.Error(err))
		saved = inst
		res.TryAgain = true
	}
	if res.TryAgain {
		e.scheduleReentry(inst.ID)
	}

	workflowsFinished.WithLabelValues(string(state)).Inc()
	slog.Info("Workflow postponed",
		log.WorkflowInstanceID(inst.ID),
		log.State(state),
		slog.Int("waiting_for", len(res.WaitingForRequestIDs)),
		slog.Bool("try_again", res.TryAgain))
	e.publish(api.EventTypeWorkflowPostponed, api.WorkflowPostponedEvent{
		InstanceID: inst.ID,
		State:      state,
		WaitingFor: res.WaitingForRequestIDs,
		TryAgain:   res.TryAgain,
	})
	return saved, &res
}

// postponeEntry postpones an entry that could not read or write its
// persisted state
func (e *Engine) postponeEntry(
	ctx context.Context, inst *api.WorkflowInstance, cause error,
) (*api.WorkflowInstance, error) {
	slog.Warn("Workflow entry interrupted",
		log.WorkflowInstanceID(inst.ID),
		log.Error(cause))
	return e.postpone(ctx, inst, &PostponedError{TryAgain: true})
}

// finish releases what a finished instance still holds and reports it
func (e *Engine) finish(
	ctx context.Context, r *Run, inst *api.WorkflowInstance,
) {
	e.clearReentry(inst.ID)
	if _, err := e.coordinator.ReleaseAll(ctx, inst.ID); err != nil {
		slog.Warn("Failed to release semaphores",
			log.WorkflowInstanceID(inst.ID),
			log.Error(err))
	}

	workflowsFinished.WithLabelValues(string(inst.State)).Inc()
	if inst.State == api.WorkflowSuccess {
		slog.Info("Workflow completed",
			log.WorkflowInstanceID(inst.ID))
		e.publish(api.EventTypeWorkflowCompleted, api.WorkflowCompletedEvent{
			InstanceID: inst.ID,
			Result:     inst.ResultAsJson,
		})
	} else {
		slog.Warn("Workflow failed",
			log.WorkflowInstanceID(inst.ID),
			log.ErrorString(inst.ExceptionTechnicalMessage),
			slog.Bool("cancelled", inst.CancelledAt != nil))
		e.publish(api.EventTypeWorkflowFailed, api.WorkflowFailedEvent{
			InstanceID: inst.ID,
			Error:      inst.ExceptionTechnicalMessage,
		})
	}
	e.archiveInstance(ctx, r, inst)
}

func (e *Engine) archiveInstance(
	ctx context.Context, r *Run, inst *api.WorkflowInstance,
) {
	if e.archive == nil {
		return
	}
	activities, err := e.store.ActivityInstances.Search(ctx, store.Query{
		Partition: string(inst.ID),
	})
	if err != nil {
		slog.Warn("Failed to load activities for archive",
			log.WorkflowInstanceID(inst.ID),
			log.Error(err))
		return
	}
	logs, err := e.store.Logs.Search(ctx, store.Query{
		Partition: string(inst.ID),
	})
	if err != nil {
		slog.Warn("Failed to load logs for archive",
			log.WorkflowInstanceID(inst.ID),
			log.Error(err))
		return
	}
	err = e.archive.Put(ctx, &api.WorkflowArchive{
		Instance:   inst,
		Version:    r.reg.version,
		Activities: activities,
		Logs:       logs,
		ArchivedAt: e.Now(),
	})
	if err != nil {
		slog.Warn("Failed to archive workflow",
			log.WorkflowInstanceID(inst.ID),
			log.Error(err))
	}
}

// finishedOutcome replays the recorded outcome of a finished instance
func finishedOutcome(inst *api.WorkflowInstance) error {
	switch {
	case inst.State == api.WorkflowSuccess:
		return nil
	case inst.CancelledAt != nil:
		return &CancelledError{
			InstanceID:       inst.ID,
			TechnicalMessage: inst.ExceptionTechnicalMessage,
			FriendlyMessage:  inst.ExceptionFriendlyMessage,
		}
	default:
		return &WorkflowFailedError{
			InstanceID:       inst.ID,
			TechnicalMessage: inst.ExceptionTechnicalMessage,
			FriendlyMessage:  inst.ExceptionFriendlyMessage,
		}
	}
}

func safeRun(
	ctx context.Context, fn WorkflowFunc, r *Run,
) (res any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = NewWorkflowImplementationError(
				fmt.Errorf("%w: %v", ErrActivityPanicked, rec),
			)
		}
	}()
	return fn(ctx, r)
}
