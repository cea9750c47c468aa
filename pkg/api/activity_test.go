package api_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
)

func newActivity() *api.ActivityInstance {
	return &api.ActivityInstance{
		ID:                 "act-1",
		WorkflowInstanceID: "wf-1",
		ActivityVersionID:  "av-1",
		State:              api.ActivityExecuting,
		StartedAt:          time.Unix(1000, 0),
	}
}

func TestActivitySetSuccess(t *testing.T) {
	original := newActivity().SetWaiting("req-1")
	now := time.Unix(2000, 0)

	result := original.SetSuccess([]byte(`42`), now)

	assert.Equal(t, api.ActivitySuccess, result.State)
	assert.Equal(t, "42", string(result.ResultAsJson))
	assert.Empty(t, result.AsyncRequestID)
	assert.Equal(t, now, *result.FinishedAt)
	assert.True(t, result.HasCompleted())
	assert.NoError(t, result.Validate())

	assert.Equal(t, api.ActivityWaiting, original.State)
	assert.Equal(t, api.RequestID("req-1"), original.AsyncRequestID)
	assert.Nil(t, original.FinishedAt)
}

func TestActivitySetFailed(t *testing.T) {
	original := newActivity()
	result := original.SetFailed(
		api.CategoryBusiness, "boom", "friendly", time.Unix(2000, 0),
	)

	assert.Equal(t, api.ActivityFailed, result.State)
	assert.Equal(t, api.CategoryBusiness, *result.ExceptionCategory)
	assert.Equal(t, "boom", *result.ExceptionTechnicalMessage)
	assert.Equal(t, "friendly", *result.ExceptionFriendlyMessage)
	assert.False(t, result.AlertHandled())
	assert.False(t, result.AlertDelivered())
	assert.NoError(t, result.Validate())

	handled := result.SetAlertHandled(true)
	assert.True(t, handled.AlertHandled())
	assert.True(t, handled.AlertDelivered())
	assert.False(t, result.AlertHandled())
	assert.Nil(t, original.ExceptionCategory)

	refused := result.SetAlertHandled(false)
	assert.False(t, refused.AlertHandled())
	assert.True(t, refused.AlertDelivered())
}

func TestActivitySetRetry(t *testing.T) {
	failed := newActivity().SetFailed(
		api.CategoryTechnical, "t", "f", time.Unix(2000, 0),
	).SetAlertHandled(true)

	retry := failed.SetRetry(time.Unix(3000, 0))
	assert.Equal(t, api.ActivityExecuting, retry.State)
	assert.Equal(t, time.Unix(3000, 0), retry.StartedAt)
	assert.Nil(t, retry.FinishedAt)
	assert.Nil(t, retry.ExceptionCategory)
	assert.False(t, retry.AlertDelivered())
	assert.NoError(t, retry.Validate())
	assert.Equal(t, api.ActivityFailed, failed.State)
}

func TestActivityExceptionInvariant(t *testing.T) {
	failed := newActivity().SetFailed(
		api.CategoryTechnical, "t", "f", time.Unix(2000, 0),
	)

	partial := *failed
	partial.ExceptionFriendlyMessage = nil
	assert.ErrorIs(t, partial.Validate(), api.ErrExceptionFieldsMismatch)

	leaked := *failed
	leaked.State = api.ActivityWaiting
	assert.ErrorIs(t, leaked.Validate(), api.ErrExceptionFieldsMismatch)

	missing := *newActivity()
	missing.State = api.ActivityFailed
	assert.ErrorIs(t, missing.Validate(), api.ErrExceptionFieldsMismatch)

	recovered := failed.SetSuccess([]byte(`null`), time.Unix(3000, 0))
	assert.NoError(t, recovered.Validate())
}

func TestActivityParentIteration(t *testing.T) {
	act := newActivity()
	zero := 0
	act.ParentIteration = &zero
	assert.ErrorIs(t, act.Validate(), api.ErrInvalidParentIteration)

	one := 1
	act.ParentIteration = &one
	assert.NoError(t, act.Validate())
}

func TestActivityIdentity(t *testing.T) {
	act := newActivity()
	parent := api.ActivityInstanceID("parent")
	iter := 3
	act.ParentActivityInstanceID = &parent
	act.ParentIteration = &iter

	id := act.Identity()
	assert.Equal(t, api.ActivityIdentity{
		WorkflowInstanceID:       "wf-1",
		ActivityVersionID:        "av-1",
		ParentActivityInstanceID: "parent",
		ParentIteration:          3,
	}, id)
	assert.Equal(t, "wf-1|av-1|parent|3", id.Key())

	root := newActivity().Identity()
	assert.Equal(t, "wf-1|av-1||", root.Key())
	assert.NotEqual(t, id.Key(), root.Key())
}

func TestActivitySetContext(t *testing.T) {
	original := newActivity().SetContext("a", []byte(`1`))
	result := original.SetContext("b", []byte(`2`))

	assert.Len(t, original.ContextDictionary, 1)
	assert.Len(t, result.ContextDictionary, 2)
	assert.Equal(t, "2", string(result.ContextDictionary["b"]))
}

func TestActivityVersionValidate(t *testing.T) {
	v := &api.ActivityVersion{
		WorkflowVersionID: "wv",
		ActivityFormID:    "af",
		Position:          1,
		FailUrgency:       api.FailUrgencyStopping,
	}
	assert.NoError(t, v.Validate())
	assert.Equal(t, "wv|af", v.UniqueKey())

	bad := *v
	bad.Position = 0
	assert.ErrorIs(t, bad.Validate(), api.ErrInvalidPosition)

	bad = *v
	bad.FailUrgency = "whenever"
	assert.ErrorIs(t, bad.Validate(), api.ErrInvalidFailUrgency)
}
