package wait

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/kode4food/caravan/topic"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/util"
)

type (
	Wait struct {
		t        *testing.T
		consumer topic.Consumer[*api.Event]
		timeout  time.Duration
	}

	Predicate[T any] func(T) bool

	EventFilter Predicate[*api.Event]

	instanceEvent struct {
		InstanceID api.WorkflowInstanceID `json:"instance_id"`
	}

	activityEvent struct {
		InstanceID api.WorkflowInstanceID `json:"instance_id"`
		Position   string                 `json:"position"`
	}
)

const DefaultTimeout = time.Second * 5

func On(t *testing.T, consumer topic.Consumer[*api.Event]) *Wait {
	return &Wait{
		t:        t,
		consumer: consumer,
		timeout:  DefaultTimeout,
	}
}

func (w *Wait) WithTimeout(timeout time.Duration) *Wait {
	res := *w
	res.timeout = timeout
	return &res
}

// ForEvents waits for matching events from the consumer
func (w *Wait) ForEvents(count int, filter EventFilter) {
	w.t.Helper()

	deadline := time.NewTimer(w.timeout)
	defer deadline.Stop()

	for seen := 0; seen < count; {
		select {
		case ev, ok := <-w.consumer.Receive():
			if !ok {
				w.t.Fatalf(
					"event consumer closed before receiving %d events", count,
				)
			}
			if !filter(ev) {
				continue
			}
			seen++
		case <-deadline.C:
			w.t.Fatalf("timeout waiting for %d events", count)
		}
	}
}

// ForEvent waits for a single matching event
func (w *Wait) ForEvent(filter EventFilter) {
	w.ForEvents(1, filter)
}

// And composes event filters and returns true when all match
func And(filters ...EventFilter) EventFilter {
	return func(ev *api.Event) bool {
		for _, filter := range filters {
			if !filter(ev) {
				return false
			}
		}
		return true
	}
}

// Type creates a filter for a single event type
func Type(eventType api.EventType) EventFilter {
	return Types(eventType)
}

// Types creates a filter for the given event types
func Types(eventTypes ...api.EventType) EventFilter {
	if len(eventTypes) == 0 {
		return func(*api.Event) bool { return false }
	}
	lookup := util.SetOf(eventTypes...)
	return func(ev *api.Event) bool {
		return ev != nil && lookup.Contains(ev.Type)
	}
}

// WorkflowStarted matches started events for the provided instances
func WorkflowStarted(ids ...api.WorkflowInstanceID) EventFilter {
	return And(Type(api.EventTypeWorkflowStarted), InstanceIDs(ids...))
}

// WorkflowTerminal matches completion or failure of the provided instances
func WorkflowTerminal(ids ...api.WorkflowInstanceID) EventFilter {
	return And(
		Types(api.EventTypeWorkflowCompleted, api.EventTypeWorkflowFailed),
		InstanceIDs(ids...),
	)
}

// WorkflowCompleted matches completed events for the provided instances
func WorkflowCompleted(ids ...api.WorkflowInstanceID) EventFilter {
	return And(Type(api.EventTypeWorkflowCompleted), InstanceIDs(ids...))
}

// WorkflowFailed matches failed events for the provided instances
func WorkflowFailed(ids ...api.WorkflowInstanceID) EventFilter {
	return And(Type(api.EventTypeWorkflowFailed), InstanceIDs(ids...))
}

// WorkflowPostponed matches any postponement of the provided instance
func WorkflowPostponed(id api.WorkflowInstanceID) EventFilter {
	return And(Type(api.EventTypeWorkflowPostponed), InstanceAny(id))
}

// ActivityCompleted matches completion of the activity at position
func ActivityCompleted(
	id api.WorkflowInstanceID, position string,
) EventFilter {
	return And(
		Type(api.EventTypeActivityCompleted),
		Unmarshal(func(data activityEvent) bool {
			return data.InstanceID == id && data.Position == position
		}),
	)
}

// InstanceIDs matches one event for each of the provided instances
func InstanceIDs(ids ...api.WorkflowInstanceID) EventFilter {
	expected := util.SetOf(ids...)
	return Unmarshal(func(data instanceEvent) bool {
		return expected.Take(data.InstanceID)
	})
}

// InstanceAny matches every event of the provided instances
func InstanceAny(ids ...api.WorkflowInstanceID) EventFilter {
	expected := util.SetOf(ids...)
	return Unmarshal(func(data instanceEvent) bool {
		return expected.Contains(data.InstanceID)
	})
}

// Unmarshal creates a filter that unmarshals event data and applies pred
func Unmarshal[T any](pred Predicate[T]) EventFilter {
	return func(ev *api.Event) bool {
		if ev == nil {
			return false
		}
		var data T
		if json.Unmarshal(ev.Data, &data) != nil {
			return false
		}
		return pred(data)
	}
}
