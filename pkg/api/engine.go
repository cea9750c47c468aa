package api

import (
	"encoding/json"
	"maps"
	"time"
)

type (
	// EngineState is the live view of the instances an engine is driving,
	// projected from its events
	EngineState struct {
		ActiveInstances map[WorkflowInstanceID]*ActiveInstanceInfo `json:"active_instances"`
		Completed       int                                        `json:"completed"`
		Failed          int                                        `json:"failed"`
		LastUpdated     time.Time                                  `json:"last_updated"`
	}

	// ActiveInstanceInfo tracks one started instance that has not finished
	ActiveInstanceInfo struct {
		InstanceID WorkflowInstanceID `json:"instance_id"`
		FormID     WorkflowFormID     `json:"form_id,omitempty"`
		State      WorkflowState      `json:"state"`
		StartedAt  time.Time          `json:"started_at"`
		LastActive time.Time          `json:"last_active"`
		WaitingFor []RequestID        `json:"waiting_for,omitempty"`
	}

	// SubscribeRequest is sent by WebSocket clients to select events
	SubscribeRequest struct {
		Type string             `json:"type"`
		Data ClientSubscription `json:"data"`
	}

	// ClientSubscription narrows a WebSocket stream by event type and
	// workflow instance
	ClientSubscription struct {
		EventTypes  []EventType          `json:"event_types,omitempty"`
		InstanceIDs []WorkflowInstanceID `json:"instance_ids,omitempty"`
	}

	// SubscribedResult acknowledges a subscription with the engine state
	// as of the moment it took effect
	SubscribedResult struct {
		Type        string               `json:"type"`
		InstanceIDs []WorkflowInstanceID `json:"instance_ids,omitempty"`
		Data        json.RawMessage      `json:"data"`
	}

	// WebSocketEvent is one event as streamed to WebSocket clients
	WebSocketEvent struct {
		Type      EventType       `json:"type"`
		Data      json.RawMessage `json:"data"`
		Timestamp int64           `json:"timestamp"`
	}
)

// SetActiveInstance returns a new EngineState with the instance tracked
func (s *EngineState) SetActiveInstance(
	id WorkflowInstanceID, info *ActiveInstanceInfo,
) *EngineState {
	res := *s
	res.ActiveInstances = maps.Clone(s.ActiveInstances)
	if res.ActiveInstances == nil {
		res.ActiveInstances = map[WorkflowInstanceID]*ActiveInstanceInfo{}
	}
	res.ActiveInstances[id] = info
	return &res
}

// DeleteActiveInstance returns a new EngineState without the instance
func (s *EngineState) DeleteActiveInstance(
	id WorkflowInstanceID,
) *EngineState {
	res := *s
	res.ActiveInstances = maps.Clone(s.ActiveInstances)
	delete(res.ActiveInstances, id)
	return &res
}

// AddCompleted returns a new EngineState counting one more success
func (s *EngineState) AddCompleted() *EngineState {
	res := *s
	res.Completed++
	return &res
}

// AddFailed returns a new EngineState counting one more failure
func (s *EngineState) AddFailed() *EngineState {
	res := *s
	res.Failed++
	return &res
}

// SetLastUpdated returns a new EngineState with the updated timestamp
func (s *EngineState) SetLastUpdated(t time.Time) *EngineState {
	res := *s
	res.LastUpdated = t
	return &res
}
