package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
)

type (
	// WorkflowDefinition describes one workflow form at one version, plus
	// the Go function that walks its activity tree
	WorkflowDefinition struct {
		FormID         api.WorkflowFormID
		CapabilityName string
		Title          string
		MajorVersion   int
		MinorVersion   int
		Run            WorkflowFunc
	}

	// WorkflowFunc is the body of a workflow. It is called on every entry
	// and must build the same activity tree each time
	WorkflowFunc func(ctx context.Context, r *Run) (any, error)

	// ActivityOption configures an activity at the point it is declared
	ActivityOption func(*activityOptions)

	activityOptions struct {
		title            string
		failUrgency      api.FailUrgency
		maxExecutionTime time.Duration
		tryFirstTimeout  time.Duration
		holdExpiry       time.Duration
	}
)

// WithTitle sets the title recorded on the activity form
func WithTitle(title string) ActivityOption {
	return func(o *activityOptions) {
		o.title = title
	}
}

// WithFailUrgency sets how a failure of the activity affects the workflow
func WithFailUrgency(u api.FailUrgency) ActivityOption {
	return func(o *activityOptions) {
		o.failUrgency = u
	}
}

// WithMaxExecutionTime fails the activity with MaxTimeReached once it has
// been running or waiting for longer than d
func WithMaxExecutionTime(d time.Duration) ActivityOption {
	return func(o *activityOptions) {
		o.maxExecutionTime = d
	}
}

// WithTryFirstTimeout bounds the synchronous attempt of TryFirst
func WithTryFirstTimeout(d time.Duration) ActivityOption {
	return func(o *activityOptions) {
		o.tryFirstTimeout = d
	}
}

// WithHoldExpiry sets how long a lock or throttle hold taken by the
// activity lasts before another instance may reclaim it
func WithHoldExpiry(d time.Duration) ActivityOption {
	return func(o *activityOptions) {
		o.holdExpiry = d
	}
}

// Validate checks that the definition can be registered
func (d *WorkflowDefinition) Validate() error {
	if d.FormID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDefinition,
			api.ErrWorkflowFormIDRequired)
	}
	if d.Run == nil {
		return fmt.Errorf("%w: %s has no run function",
			ErrInvalidDefinition, d.FormID)
	}
	if d.MajorVersion < 0 || d.MinorVersion < 0 {
		return fmt.Errorf("%w: %w", ErrInvalidDefinition,
			api.ErrInvalidWorkflowVersion)
	}
	return nil
}

func (d *WorkflowDefinition) version() string {
	return fmt.Sprintf("%d.%d", d.MajorVersion, d.MinorVersion)
}
