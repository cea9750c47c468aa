package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type (
	// ActivityForm is a named activity definition within a workflow form
	ActivityForm struct {
		Record
		ID             ActivityFormID `json:"id"`
		WorkflowFormID WorkflowFormID `json:"workflow_form_id"`
		Type           ActivityType   `json:"type"`
		Title          string         `json:"title"`
	}

	// ActivityVersion places an activity form within a workflow version
	ActivityVersion struct {
		Record
		ID                      ActivityVersionID  `json:"id"`
		WorkflowVersionID       WorkflowVersionID  `json:"workflow_version_id"`
		ActivityFormID          ActivityFormID     `json:"activity_form_id"`
		Position                int                `json:"position"`
		ParentActivityVersionID *ActivityVersionID `json:"parent_activity_version_id,omitempty"`
		FailUrgency             FailUrgency        `json:"fail_urgency"`
	}

	// ActivityInstance is one visit of an activity version by a workflow
	// instance, at one structural position
	ActivityInstance struct {
		Record
		ID                        ActivityInstanceID         `json:"id"`
		WorkflowInstanceID        WorkflowInstanceID         `json:"workflow_instance_id"`
		ActivityVersionID         ActivityVersionID          `json:"activity_version_id"`
		ParentActivityInstanceID  *ActivityInstanceID        `json:"parent_activity_instance_id,omitempty"`
		ParentIteration           *int                       `json:"parent_iteration,omitempty"`
		State                     ActivityState              `json:"state"`
		StartedAt                 time.Time                  `json:"started_at"`
		FinishedAt                *time.Time                 `json:"finished_at,omitempty"`
		AsyncRequestID            RequestID                  `json:"async_request_id,omitempty"`
		ResultAsJson              json.RawMessage            `json:"result,omitempty"`
		ExceptionCategory         *ExceptionCategory         `json:"exception_category,omitempty"`
		ExceptionTechnicalMessage *string                    `json:"exception_technical_message,omitempty"`
		ExceptionFriendlyMessage  *string                    `json:"exception_friendly_message,omitempty"`
		ExceptionAlertHandled     *bool                      `json:"exception_alert_handled,omitempty"`
		Iteration                 int                        `json:"iteration,omitempty"`
		IterationTitle            string                     `json:"iteration_title,omitempty"`
		AbsolutePosition          string                     `json:"absolute_position"`
		ContextDictionary         map[string]json.RawMessage `json:"context,omitempty"`
	}
)

var (
	ErrActivityFormIDRequired     = errors.New("activity form id is required")
	ErrInvalidActivityType        = errors.New("invalid activity type")
	ErrInvalidFailUrgency         = errors.New("invalid fail urgency")
	ErrInvalidPosition            = errors.New("position must be positive")
	ErrInvalidActivityState       = errors.New("invalid activity state")
	ErrExceptionFieldsMismatch    = errors.New("exception fields must be set iff failed")
	ErrInvalidParentIteration     = errors.New("parent iteration must be at least 1")
	ErrActivityVersionRequired    = errors.New("activity version is required")
	ErrWorkflowInstanceIDRequired = errors.New("workflow instance id is required")
)

// ScopedActivityFormID qualifies a declared activity form id by the
// workflow form declaring it, so equal names in different workflows do
// not share a form record
func ScopedActivityFormID(wf WorkflowFormID, id ActivityFormID) ActivityFormID {
	return ActivityFormID(string(wf) + "/" + string(id))
}

// RecordID returns the persisted identifier of the form
func (f *ActivityForm) RecordID() string { return string(f.ID) }

// SetRecordID assigns the persisted identifier of the form
func (f *ActivityForm) SetRecordID(id string) { f.ID = ActivityFormID(id) }

// Validate checks the activity form's identity and kind
func (f *ActivityForm) Validate() error {
	if f.ID == "" {
		return ErrActivityFormIDRequired
	}
	if !f.Type.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidActivityType, f.Type)
	}
	return nil
}

// RecordID returns the persisted identifier of the version
func (v *ActivityVersion) RecordID() string { return string(v.ID) }

// SetRecordID assigns the persisted identifier of the version
func (v *ActivityVersion) SetRecordID(id string) {
	v.ID = ActivityVersionID(id)
}

// UniqueKey returns the workflow version and activity form pair
func (v *ActivityVersion) UniqueKey() string {
	return string(v.WorkflowVersionID) + "|" + string(v.ActivityFormID)
}

// Validate checks the placement and policy of the activity version
func (v *ActivityVersion) Validate() error {
	if v.WorkflowVersionID == "" {
		return ErrWorkflowVersionRequired
	}
	if v.ActivityFormID == "" {
		return ErrActivityFormIDRequired
	}
	if v.Position < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidPosition, v.Position)
	}
	if !v.FailUrgency.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidFailUrgency, v.FailUrgency)
	}
	return nil
}

// RecordID returns the persisted identifier of the instance
func (a *ActivityInstance) RecordID() string { return string(a.ID) }

// SetRecordID assigns the persisted identifier of the instance
func (a *ActivityInstance) SetRecordID(id string) {
	a.ID = ActivityInstanceID(id)
}

// HasCompleted returns true once the instance has a recorded outcome
func (a *ActivityInstance) HasCompleted() bool {
	return a.State.HasCompleted()
}

// AlertHandled reports whether the failure alert was acknowledged
func (a *ActivityInstance) AlertHandled() bool {
	return a.ExceptionAlertHandled != nil && *a.ExceptionAlertHandled
}

// AlertDelivered reports whether the failure alert reached the alert hook,
// whatever its answer
func (a *ActivityInstance) AlertDelivered() bool {
	return a.ExceptionAlertHandled != nil
}

// Validate checks the state invariants of the activity instance
func (a *ActivityInstance) Validate() error {
	if a.WorkflowInstanceID == "" {
		return ErrWorkflowInstanceIDRequired
	}
	if a.ActivityVersionID == "" {
		return ErrActivityVersionRequired
	}
	switch a.State {
	case ActivityExecuting, ActivityWaiting, ActivitySuccess, ActivityFailed:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidActivityState, a.State)
	}
	if a.ParentIteration != nil && *a.ParentIteration < 1 {
		return fmt.Errorf("%w: %d",
			ErrInvalidParentIteration, *a.ParentIteration)
	}
	set := a.ExceptionCategory != nil &&
		a.ExceptionTechnicalMessage != nil &&
		a.ExceptionFriendlyMessage != nil
	none := a.ExceptionCategory == nil &&
		a.ExceptionTechnicalMessage == nil &&
		a.ExceptionFriendlyMessage == nil
	failed := a.State == ActivityFailed
	if (failed && !set) || (!failed && !none) {
		return fmt.Errorf("%w: %s", ErrExceptionFieldsMismatch, a.State)
	}
	return nil
}

// SetExecuting returns a new ActivityInstance that is running again
func (a *ActivityInstance) SetExecuting() *ActivityInstance {
	res := *a
	res.State = ActivityExecuting
	res.AsyncRequestID = ""
	return &res
}

// SetWaiting returns a new ActivityInstance waiting on an optional request
func (a *ActivityInstance) SetWaiting(id RequestID) *ActivityInstance {
	res := *a
	res.State = ActivityWaiting
	res.AsyncRequestID = id
	return &res
}

// SetSuccess returns a new ActivityInstance holding its result
func (a *ActivityInstance) SetSuccess(
	result json.RawMessage, now time.Time,
) *ActivityInstance {
	res := *a
	res.State = ActivitySuccess
	res.ResultAsJson = result
	res.AsyncRequestID = ""
	res.FinishedAt = &now
	res.ExceptionCategory = nil
	res.ExceptionTechnicalMessage = nil
	res.ExceptionFriendlyMessage = nil
	res.ExceptionAlertHandled = nil
	return &res
}

// SetFailed returns a new ActivityInstance with all exception fields set
func (a *ActivityInstance) SetFailed(
	cat ExceptionCategory, technical, friendly string, now time.Time,
) *ActivityInstance {
	res := *a
	res.State = ActivityFailed
	res.AsyncRequestID = ""
	res.FinishedAt = &now
	res.ExceptionCategory = &cat
	res.ExceptionTechnicalMessage = &technical
	res.ExceptionFriendlyMessage = &friendly
	res.ExceptionAlertHandled = nil
	return &res
}

// SetRetry returns a new ActivityInstance with its failure cleared, so the
// next visit invokes the activity again. The retry starts its run anew at
// now
func (a *ActivityInstance) SetRetry(now time.Time) *ActivityInstance {
	res := *a
	res.State = ActivityExecuting
	res.StartedAt = now
	res.AsyncRequestID = ""
	res.FinishedAt = nil
	res.ResultAsJson = nil
	res.ExceptionCategory = nil
	res.ExceptionTechnicalMessage = nil
	res.ExceptionFriendlyMessage = nil
	res.ExceptionAlertHandled = nil
	return &res
}

// SetAlertHandled returns a new ActivityInstance with the alert flag set
func (a *ActivityInstance) SetAlertHandled(handled bool) *ActivityInstance {
	res := *a
	res.ExceptionAlertHandled = &handled
	return &res
}

// SetIteration returns a new ActivityInstance at the given loop iteration
func (a *ActivityInstance) SetIteration(
	iteration int, title string,
) *ActivityInstance {
	res := *a
	res.Iteration = iteration
	res.IterationTitle = title
	return &res
}

// SetContext returns a new ActivityInstance with one context entry set
func (a *ActivityInstance) SetContext(
	key string, value json.RawMessage,
) *ActivityInstance {
	res := *a
	res.ContextDictionary = make(map[string]json.RawMessage,
		len(a.ContextDictionary)+1)
	for k, v := range a.ContextDictionary {
		res.ContextDictionary[k] = v
	}
	res.ContextDictionary[key] = value
	return &res
}
