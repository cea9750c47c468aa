package api

import (
	"strconv"
	"strings"
)

type (
	// WorkflowFormID identifies a named workflow definition
	WorkflowFormID string

	// WorkflowVersionID identifies one revision of a workflow form
	WorkflowVersionID string

	// WorkflowInstanceID identifies one execution of a workflow version
	WorkflowInstanceID string

	// ActivityFormID identifies an activity definition within a workflow
	ActivityFormID string

	// ActivityVersionID identifies an activity within a workflow version
	ActivityVersionID string

	// ActivityInstanceID identifies one execution of an activity version
	ActivityInstanceID string

	// SemaphoreID identifies a named resource guard
	SemaphoreID string

	// RequestID identifies an outstanding async request
	RequestID string

	// ActivityIdentity is the structural identity of an activity instance.
	// Reentry uses it, not a generated id, to find previously visited
	// activities in loops and parallel fan-outs
	ActivityIdentity struct {
		WorkflowInstanceID       WorkflowInstanceID
		ActivityVersionID        ActivityVersionID
		ParentActivityInstanceID ActivityInstanceID
		ParentIteration          int
	}
)

// Key renders the identity as a stable string suitable for unique indexes
func (i ActivityIdentity) Key() string {
	var sb strings.Builder
	sb.WriteString(string(i.WorkflowInstanceID))
	sb.WriteByte('|')
	sb.WriteString(string(i.ActivityVersionID))
	sb.WriteByte('|')
	sb.WriteString(string(i.ParentActivityInstanceID))
	sb.WriteByte('|')
	if i.ParentIteration > 0 {
		sb.WriteString(strconv.Itoa(i.ParentIteration))
	}
	return sb.String()
}

// Identity returns the structural identity of the activity instance
func (a *ActivityInstance) Identity() ActivityIdentity {
	res := ActivityIdentity{
		WorkflowInstanceID: a.WorkflowInstanceID,
		ActivityVersionID:  a.ActivityVersionID,
	}
	if a.ParentActivityInstanceID != nil {
		res.ParentActivityInstanceID = *a.ParentActivityInstanceID
	}
	if a.ParentIteration != nil {
		res.ParentIteration = *a.ParentIteration
	}
	return res
}
