package engine

import (
	"errors"
	"fmt"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
)

type (
	// ActivityError is a classified activity failure. Any other error
	// returned by an activity method is recorded as a technical failure
	ActivityError struct {
		Category         api.ExceptionCategory
		TechnicalMessage string
		FriendlyMessage  string
		Err              error
	}

	// ActivityFailedError reports a recorded activity failure to the code
	// that called the activity, when its fail urgency lets the workflow
	// decide what to do
	ActivityFailedError struct {
		ActivityID       api.ActivityInstanceID
		Position         string
		Category         api.ExceptionCategory
		TechnicalMessage string
		FriendlyMessage  string
	}

	// WorkflowFailedError reports a workflow instance that finished with a
	// failure its implementation did not handle
	WorkflowFailedError struct {
		InstanceID       api.WorkflowInstanceID
		TechnicalMessage string
		FriendlyMessage  string
	}
)

// DefaultFriendlyMessage is recorded when a failure carries no message
// meant for end users
const DefaultFriendlyMessage = "The request could not be completed"

var (
	ErrLoopEndNotSet     = errors.New("loop iteration did not set EndLoop")
	ErrDuplicateKey      = errors.New("duplicate parallel key")
	ErrKeyFunctionFailed = errors.New("parallel key function failed")
	ErrResultDecode      = errors.New("recorded result does not decode")
	ErrActivityPanicked  = errors.New("activity panicked")
	ErrMaxTimeReached    = errors.New("activity exceeded its maximum time")
)

// NewTechnicalError classifies err as an infrastructure or runtime fault
func NewTechnicalError(err error) *ActivityError {
	return newActivityError(api.CategoryTechnical, err, "")
}

// NewBusinessError classifies a domain-level rejection. The friendly
// message is safe to show to end users
func NewBusinessError(friendly string, err error) *ActivityError {
	return newActivityError(api.CategoryBusiness, err, friendly)
}

// NewWorkflowImplementationError classifies a fault in the workflow's own
// logic
func NewWorkflowImplementationError(err error) *ActivityError {
	return newActivityError(api.CategoryWorkflowImplementation, err, "")
}

// NewWorkflowCapabilityError classifies a fault of the engine itself
func NewWorkflowCapabilityError(err error) *ActivityError {
	return newActivityError(api.CategoryWorkflowCapability, err, "")
}

// NewMaxTimeReachedError classifies an exceeded deadline
func NewMaxTimeReachedError(err error) *ActivityError {
	return newActivityError(api.CategoryMaxTimeReached, err, "")
}

func newActivityError(
	cat api.ExceptionCategory, err error, friendly string,
) *ActivityError {
	if friendly == "" {
		friendly = DefaultFriendlyMessage
	}
	res := &ActivityError{
		Category:        cat,
		FriendlyMessage: friendly,
		Err:             err,
	}
	if err != nil {
		res.TechnicalMessage = err.Error()
	}
	return res
}

func (e *ActivityError) Error() string {
	return fmt.Sprintf("%s: %s", e.Category, e.TechnicalMessage)
}

func (e *ActivityError) Unwrap() error {
	return e.Err
}

func (e *ActivityFailedError) Error() string {
	return fmt.Sprintf("activity %s failed (%s): %s",
		e.Position, e.Category, e.TechnicalMessage)
}

func (e *WorkflowFailedError) Error() string {
	return fmt.Sprintf("workflow %s failed: %s",
		e.InstanceID, e.TechnicalMessage)
}

// classify turns an activity method error into the recorded category and
// messages
func classify(err error) (api.ExceptionCategory, string, string) {
	var ae *ActivityError
	if errors.As(err, &ae) {
		friendly := ae.FriendlyMessage
		if friendly == "" {
			friendly = DefaultFriendlyMessage
		}
		return ae.Category, ae.TechnicalMessage, friendly
	}
	var af *ActivityFailedError
	if errors.As(err, &af) {
		return af.Category, af.Error(), af.FriendlyMessage
	}
	return api.CategoryTechnical, err.Error(), DefaultFriendlyMessage
}

func failedFrom(inst *api.ActivityInstance) *ActivityFailedError {
	res := &ActivityFailedError{
		ActivityID: inst.ID,
		Position:   inst.AbsolutePosition,
	}
	if inst.ExceptionCategory != nil {
		res.Category = *inst.ExceptionCategory
	}
	if inst.ExceptionTechnicalMessage != nil {
		res.TechnicalMessage = *inst.ExceptionTechnicalMessage
	}
	if inst.ExceptionFriendlyMessage != nil {
		res.FriendlyMessage = *inst.ExceptionFriendlyMessage
	}
	return res
}
