package api

import (
	"encoding/json"
	"time"
)

// WorkflowLog is a persisted diagnostic entry for a workflow instance
type WorkflowLog struct {
	Record
	ID                 string              `json:"id"`
	WorkflowFormID     WorkflowFormID      `json:"workflow_form_id"`
	WorkflowInstanceID *WorkflowInstanceID `json:"workflow_instance_id,omitempty"`
	ActivityFormID     *ActivityFormID     `json:"activity_form_id,omitempty"`
	Severity           LogSeverity         `json:"severity"`
	Message            string              `json:"message"`
	DataAsJson         json.RawMessage     `json:"data,omitempty"`
	TimeStamp          time.Time           `json:"timestamp"`
}

// RecordID returns the persisted identifier of the log entry
func (l *WorkflowLog) RecordID() string { return l.ID }

// SetRecordID assigns the persisted identifier of the log entry
func (l *WorkflowLog) SetRecordID(id string) { l.ID = id }
