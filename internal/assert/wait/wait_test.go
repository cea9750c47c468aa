package wait_test

import (
	"testing"
	"time"

	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/message"
	"github.com/stretchr/testify/assert"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/assert/wait"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
)

func newEvent(t *testing.T, typ api.EventType, data any) *api.Event {
	t.Helper()
	ev, err := api.NewEvent(typ, data, time.Now())
	assert.NoError(t, err)
	return ev
}

func TestTypesFilter(t *testing.T) {
	filter := wait.Types(
		api.EventTypeWorkflowStarted, api.EventTypeWorkflowFailed,
	)
	assert.False(t, filter(nil))
	assert.True(t, filter(&api.Event{Type: api.EventTypeWorkflowStarted}))
	assert.False(t, filter(&api.Event{Type: api.EventTypeWorkflowCompleted}))
	assert.False(t, wait.Types()(&api.Event{
		Type: api.EventTypeWorkflowStarted,
	}))
}

func TestInstanceIDsConsumesEach(t *testing.T) {
	filter := wait.InstanceIDs("wf-a", "wf-b")
	evA := newEvent(t, api.EventTypeWorkflowStarted,
		api.WorkflowStartedEvent{InstanceID: "wf-a"})
	evB := newEvent(t, api.EventTypeWorkflowStarted,
		api.WorkflowStartedEvent{InstanceID: "wf-b"})

	assert.True(t, filter(evA))
	assert.False(t, filter(evA))
	assert.True(t, filter(evB))
}

func TestInstanceAnyRepeats(t *testing.T) {
	filter := wait.InstanceAny("wf-a")
	ev := newEvent(t, api.EventTypeWorkflowPostponed,
		api.WorkflowPostponedEvent{InstanceID: "wf-a"})
	assert.True(t, filter(ev))
	assert.True(t, filter(ev))
}

func TestActivityCompleted(t *testing.T) {
	filter := wait.ActivityCompleted("wf-a", "1.2")
	assert.True(t, filter(newEvent(t, api.EventTypeActivityCompleted,
		api.ActivityCompletedEvent{InstanceID: "wf-a", Position: "1.2"})))
	assert.False(t, filter(newEvent(t, api.EventTypeActivityCompleted,
		api.ActivityCompletedEvent{InstanceID: "wf-a", Position: "1"})))
	assert.False(t, filter(newEvent(t, api.EventTypeActivityFailed,
		api.ActivityFailedEvent{InstanceID: "wf-a", Position: "1.2"})))
}

func TestForEvents(t *testing.T) {
	top := caravan.NewTopic[*api.Event]()
	cons := top.NewConsumer()
	defer cons.Close()
	prod := top.NewProducer()
	defer prod.Close()

	go func() {
		message.Send(prod, newEvent(t, api.EventTypeWorkflowStarted,
			api.WorkflowStartedEvent{InstanceID: "wf-a"}))
		message.Send(prod, newEvent(t, api.EventTypeWorkflowCompleted,
			api.WorkflowCompletedEvent{InstanceID: "wf-a"}))
	}()

	wait.On(t, cons).WithTimeout(time.Second).ForEvent(
		wait.WorkflowCompleted("wf-a"),
	)
}
