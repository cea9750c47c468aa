package log_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/log"
)

type errStub string

func TestWorkflowInstanceID(t *testing.T) {
	attr := log.WorkflowInstanceID(api.WorkflowInstanceID("wf-123"))
	assertAttrEqual(t, attr, "workflow_instance_id", "wf-123")
}

func TestWorkflowFormID(t *testing.T) {
	attr := log.WorkflowFormID(api.WorkflowFormID("form"))
	assertAttrEqual(t, attr, "workflow_form_id", "form")
}

func TestActivityIDs(t *testing.T) {
	attr := log.ActivityInstanceID(api.ActivityInstanceID("act-abc"))
	assertAttrEqual(t, attr, "activity_instance_id", "act-abc")

	attr = log.ActivityFormID(api.ActivityFormID("send-mail"))
	assertAttrEqual(t, attr, "activity_form_id", "send-mail")
}

func TestState(t *testing.T) {
	attr := log.State(api.ActivityWaiting)
	assertAttrEqual(t, attr, "state", "waiting")
}

func TestPosition(t *testing.T) {
	attr := log.Position("1.2 [3]")
	assertAttrEqual(t, attr, "position", "1.2 [3]")
}

func TestRequestID(t *testing.T) {
	attr := log.RequestID(api.RequestID("req"))
	assertAttrEqual(t, attr, "request_id", "req")
}

func TestResource(t *testing.T) {
	attr := log.Resource("printer")
	assertAttrEqual(t, attr, "resource", "printer")
}

func TestError(t *testing.T) {
	attr := log.Error(nil)
	assertAttrEqual(t, attr, "error", "")

	attr = log.Error(errStub("boom"))
	assertAttrEqual(t, attr, "error", "boom")
}

func TestErrorString(t *testing.T) {
	attr := log.ErrorString("badness")
	assertAttrEqual(t, attr, "error", "badness")
}

func (e errStub) Error() string { return string(e) }

func assertAttrEqual(t *testing.T, attr slog.Attr, key, value string) {
	t.Helper()
	assert.Equal(t, key, attr.Key)
	assert.Equal(t, value, attr.Value.String())
}
