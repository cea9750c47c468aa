package api

import (
	"encoding/json"
	"time"
)

type (
	// Event is one engine transition, as delivered to subscribers
	Event struct {
		Type      EventType       `json:"type"`
		Data      json.RawMessage `json:"data"`
		Timestamp time.Time       `json:"timestamp"`
	}

	// WorkflowStartedEvent is emitted when a workflow instance is created
	WorkflowStartedEvent struct {
		InstanceID WorkflowInstanceID `json:"instance_id"`
		FormID     WorkflowFormID     `json:"form_id"`
		Version    string             `json:"version"`
	}

	// WorkflowCompletedEvent is emitted when a workflow instance succeeds
	WorkflowCompletedEvent struct {
		InstanceID WorkflowInstanceID `json:"instance_id"`
		Result     json.RawMessage    `json:"result,omitempty"`
	}

	// WorkflowFailedEvent is emitted when a workflow instance is cancelled
	WorkflowFailedEvent struct {
		InstanceID WorkflowInstanceID `json:"instance_id"`
		Error      string             `json:"error"`
	}

	// WorkflowPostponedEvent is emitted when a workflow entry suspends
	WorkflowPostponedEvent struct {
		InstanceID   WorkflowInstanceID `json:"instance_id"`
		State        WorkflowState      `json:"state"`
		WaitingFor   []RequestID        `json:"waiting_for,omitempty"`
		TryAgain     bool               `json:"try_again"`
		ReentryToken string             `json:"-"`
	}

	// ActivityStartedEvent is emitted when an activity first executes
	ActivityStartedEvent struct {
		InstanceID WorkflowInstanceID `json:"instance_id"`
		ActivityID ActivityInstanceID `json:"activity_id"`
		Position   string             `json:"position"`
		Type       ActivityType       `json:"type"`
	}

	// ActivityCompletedEvent is emitted when an activity succeeds
	ActivityCompletedEvent struct {
		InstanceID WorkflowInstanceID `json:"instance_id"`
		ActivityID ActivityInstanceID `json:"activity_id"`
		Position   string             `json:"position"`
	}

	// ActivityFailedEvent is emitted when an activity records a failure
	ActivityFailedEvent struct {
		InstanceID WorkflowInstanceID `json:"instance_id"`
		ActivityID ActivityInstanceID `json:"activity_id"`
		Position   string             `json:"position"`
		Category   ExceptionCategory  `json:"category"`
		Error      string             `json:"error"`
	}

	// ActivityWaitingEvent is emitted when an activity postpones
	ActivityWaitingEvent struct {
		InstanceID WorkflowInstanceID `json:"instance_id"`
		ActivityID ActivityInstanceID `json:"activity_id"`
		Position   string             `json:"position"`
		RequestID  RequestID          `json:"request_id,omitempty"`
	}

	// SemaphorePromotedEvent is emitted when a queued instance is granted
	SemaphorePromotedEvent struct {
		SemaphoreID SemaphoreID        `json:"semaphore_id"`
		InstanceID  WorkflowInstanceID `json:"instance_id"`
	}

	EventType string
)

const (
	EventTypeWorkflowStarted   EventType = "workflow_started"
	EventTypeWorkflowCompleted EventType = "workflow_completed"
	EventTypeWorkflowFailed    EventType = "workflow_failed"
	EventTypeWorkflowPostponed EventType = "workflow_postponed"
	EventTypeActivityStarted   EventType = "activity_started"
	EventTypeActivityCompleted EventType = "activity_completed"
	EventTypeActivityFailed    EventType = "activity_failed"
	EventTypeActivityWaiting   EventType = "activity_waiting"
	EventTypeSemaphorePromoted EventType = "semaphore_promoted"
)

// NewEvent wraps a typed payload in an Event envelope
func NewEvent(typ EventType, data any, now time.Time) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      typ,
		Data:      raw,
		Timestamp: now,
	}, nil
}

// InstanceID extracts the workflow instance the event concerns, if any
func (e *Event) InstanceID() WorkflowInstanceID {
	var probe struct {
		InstanceID WorkflowInstanceID `json:"instance_id"`
	}
	if err := json.Unmarshal(e.Data, &probe); err != nil {
		return ""
	}
	return probe.InstanceID
}
