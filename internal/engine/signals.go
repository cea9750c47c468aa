package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/util"
)

type (
	// PostponedError means the workflow cannot make progress until an
	// external event arrives. It travels up through every enclosing
	// activity to the workflow entry point
	PostponedError struct {
		WaitingForRequestIDs []api.RequestID
		TryAgain             bool
		Stopping             bool
		Reentry              *Reentry
	}

	// Reentry is what a host needs to resume a postponed instance
	Reentry struct {
		InstanceID     api.WorkflowInstanceID
		Authentication string
	}

	// CancelledError unwinds the whole workflow instance. It is never
	// merged away by parallel aggregation
	CancelledError struct {
		InstanceID       api.WorkflowInstanceID
		Position         string
		Category         api.ExceptionCategory
		TechnicalMessage string
		FriendlyMessage  string
	}

	// RequestPostponedError is returned by activity methods that are
	// waiting on outstanding async requests, or that want to be called
	// again later
	RequestPostponedError struct {
		RequestIDs []api.RequestID
		TryAgain   bool
	}
)

// Await tells the engine the activity is waiting for the given requests
func Await(ids ...api.RequestID) error {
	return &RequestPostponedError{RequestIDs: ids}
}

// TryAgain tells the engine to invoke the activity again on a later entry
func TryAgain() error {
	return &RequestPostponedError{TryAgain: true}
}

func (e *PostponedError) Error() string {
	var sb strings.Builder
	sb.WriteString("workflow postponed")
	if len(e.WaitingForRequestIDs) > 0 {
		ids := make([]string, len(e.WaitingForRequestIDs))
		for i, id := range e.WaitingForRequestIDs {
			ids[i] = string(id)
		}
		sb.WriteString(": waiting for ")
		sb.WriteString(strings.Join(ids, ", "))
	}
	if e.Stopping {
		sb.WriteString(" (stopping)")
	}
	if e.TryAgain {
		sb.WriteString(" (try again)")
	}
	return sb.String()
}

func (e *CancelledError) Error() string {
	if e.Position == "" {
		return fmt.Sprintf("workflow cancelled: %s", e.TechnicalMessage)
	}
	return fmt.Sprintf("workflow cancelled at %s: %s",
		e.Position, e.TechnicalMessage)
}

func (e *RequestPostponedError) Error() string {
	if len(e.RequestIDs) == 0 {
		return "activity postponed: try again"
	}
	return fmt.Sprintf("activity postponed: waiting for %d request(s)",
		len(e.RequestIDs))
}

// AsPostponed extracts a postponement from err
func AsPostponed(err error) (*PostponedError, bool) {
	var p *PostponedError
	if errors.As(err, &p) {
		return p, true
	}
	return nil, false
}

// AsCancelled extracts a cancellation from err
func AsCancelled(err error) (*CancelledError, bool) {
	var c *CancelledError
	if errors.As(err, &c) {
		return c, true
	}
	return nil, false
}

// IsSignal reports whether err is a postponement or cancellation rather
// than an activity failure
func IsSignal(err error) bool {
	var p *PostponedError
	var c *CancelledError
	var r *RequestPostponedError
	return errors.As(err, &p) || errors.As(err, &c) || errors.As(err, &r)
}

// foldBranches combines the outcomes of parallel branches after every
// branch has been observed. A cancellation wins outright, then all
// postponements merge into one, then ordinary failures are joined
func foldBranches(errs []error) error {
	var postponed []*PostponedError
	var failures []error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if c, ok := AsCancelled(err); ok {
			return c
		}
		if p, ok := AsPostponed(err); ok {
			postponed = append(postponed, p)
			continue
		}
		failures = append(failures, err)
	}
	if len(postponed) > 0 {
		return mergePostponed(postponed...)
	}
	return errors.Join(failures...)
}

// mergePostponed unions the waiting ids in order of first appearance and
// ORs the flags
func mergePostponed(all ...*PostponedError) *PostponedError {
	res := &PostponedError{}
	seen := util.Set[api.RequestID]{}
	for _, p := range all {
		res.WaitingForRequestIDs = seen.AppendNew(
			res.WaitingForRequestIDs, p.WaitingForRequestIDs...,
		)
		res.TryAgain = res.TryAgain || p.TryAgain
		res.Stopping = res.Stopping || p.Stopping
		if res.Reentry == nil {
			res.Reentry = p.Reentry
		}
	}
	return res
}
