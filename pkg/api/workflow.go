package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type (
	// WorkflowForm is a named workflow definition owned by a capability
	WorkflowForm struct {
		Record
		ID             WorkflowFormID `json:"id"`
		CapabilityName string         `json:"capability_name"`
		Title          string         `json:"title"`
	}

	// WorkflowVersion is one deployable revision of a workflow form
	WorkflowVersion struct {
		Record
		ID             WorkflowVersionID `json:"id"`
		WorkflowFormID WorkflowFormID    `json:"workflow_form_id"`
		MajorVersion   int               `json:"major_version"`
		MinorVersion   int               `json:"minor_version"`
		DynamicCreate  bool              `json:"dynamic_create"`
	}

	// WorkflowInstance is one running execution of a workflow version
	WorkflowInstance struct {
		Record
		ID                        WorkflowInstanceID `json:"id"`
		WorkflowVersionID         WorkflowVersionID  `json:"workflow_version_id"`
		Title                     string             `json:"title"`
		InitialVersion            string             `json:"initial_version"`
		State                     WorkflowState      `json:"state"`
		StartedAt                 time.Time          `json:"started_at"`
		FinishedAt                *time.Time         `json:"finished_at,omitempty"`
		CancelledAt               *time.Time         `json:"cancelled_at,omitempty"`
		InputAsJson               json.RawMessage    `json:"input,omitempty"`
		ResultAsJson              json.RawMessage    `json:"result,omitempty"`
		ExceptionFriendlyMessage  string             `json:"exception_friendly_message,omitempty"`
		ExceptionTechnicalMessage string             `json:"exception_technical_message,omitempty"`
		ReentryAuthentication     string             `json:"reentry_authentication,omitempty"`
	}
)

var (
	ErrWorkflowFormIDRequired    = errors.New("workflow form id is required")
	ErrWorkflowVersionRequired   = errors.New("workflow version is required")
	ErrInvalidWorkflowVersion    = errors.New("invalid workflow version")
	ErrFinishedStateNotTerminal  = errors.New("finished instance not terminal")
	ErrFinishedBeforeStarted     = errors.New("finished before started")
	ErrInvalidWorkflowState      = errors.New("invalid workflow state")
	ErrWorkflowInstanceNotLoaded = errors.New("workflow instance not loaded")
)

// RecordID returns the persisted identifier of the form
func (f *WorkflowForm) RecordID() string { return string(f.ID) }

// SetRecordID assigns the persisted identifier of the form
func (f *WorkflowForm) SetRecordID(id string) { f.ID = WorkflowFormID(id) }

// Validate checks that the form carries an identity
func (f *WorkflowForm) Validate() error {
	if f.ID == "" {
		return ErrWorkflowFormIDRequired
	}
	return nil
}

// RecordID returns the persisted identifier of the version
func (v *WorkflowVersion) RecordID() string { return string(v.ID) }

// SetRecordID assigns the persisted identifier of the version
func (v *WorkflowVersion) SetRecordID(id string) {
	v.ID = WorkflowVersionID(id)
}

// UniqueKey returns the form and major version pair
func (v *WorkflowVersion) UniqueKey() string {
	return fmt.Sprintf("%s|%d", v.WorkflowFormID, v.MajorVersion)
}

// Validate checks the version numbering and form reference
func (v *WorkflowVersion) Validate() error {
	if v.WorkflowFormID == "" {
		return ErrWorkflowFormIDRequired
	}
	if v.MajorVersion < 0 || v.MinorVersion < 0 {
		return fmt.Errorf("%w: %d.%d",
			ErrInvalidWorkflowVersion, v.MajorVersion, v.MinorVersion)
	}
	return nil
}

// String renders the version as major.minor
func (v *WorkflowVersion) String() string {
	return fmt.Sprintf("%d.%d", v.MajorVersion, v.MinorVersion)
}

// RecordID returns the persisted identifier of the instance
func (w *WorkflowInstance) RecordID() string { return string(w.ID) }

// SetRecordID assigns the persisted identifier of the instance
func (w *WorkflowInstance) SetRecordID(id string) {
	w.ID = WorkflowInstanceID(id)
}

// Validate checks the state invariants of the instance
func (w *WorkflowInstance) Validate() error {
	if w.WorkflowVersionID == "" {
		return ErrWorkflowVersionRequired
	}
	switch w.State {
	case WorkflowExecuting, WorkflowWaiting, WorkflowHalting,
		WorkflowHalted, WorkflowSuccess, WorkflowFailed:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidWorkflowState, w.State)
	}
	if w.FinishedAt != nil {
		if !w.State.IsTerminal() {
			return fmt.Errorf("%w: %s", ErrFinishedStateNotTerminal, w.State)
		}
		if w.FinishedAt.Before(w.StartedAt) {
			return ErrFinishedBeforeStarted
		}
	}
	return nil
}

// SetState returns a new WorkflowInstance with the updated state
func (w *WorkflowInstance) SetState(s WorkflowState) *WorkflowInstance {
	res := *w
	res.State = s
	return &res
}

// SetSuccess returns a new WorkflowInstance that finished successfully
func (w *WorkflowInstance) SetSuccess(
	result json.RawMessage, now time.Time,
) *WorkflowInstance {
	res := *w
	res.State = WorkflowSuccess
	res.ResultAsJson = result
	res.FinishedAt = &now
	return &res
}

// SetFailed returns a new WorkflowInstance that finished with a failure
func (w *WorkflowInstance) SetFailed(
	technical, friendly string, now time.Time,
) *WorkflowInstance {
	res := *w
	res.State = WorkflowFailed
	res.ExceptionTechnicalMessage = technical
	res.ExceptionFriendlyMessage = friendly
	res.FinishedAt = &now
	return &res
}

// SetCancelled returns a new WorkflowInstance that was cancelled
func (w *WorkflowInstance) SetCancelled(
	technical, friendly string, now time.Time,
) *WorkflowInstance {
	res := w.SetFailed(technical, friendly, now)
	res.CancelledAt = &now
	return res
}
