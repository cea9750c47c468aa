package assert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/config"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
)

// Wrapper wraps testify assertions with workflow-specific helpers
type Wrapper struct {
	*testing.T
	*assert.Assertions
}

// DefaultRetryInterval is the default polling interval for Eventually checks
const DefaultRetryInterval = 10 * time.Millisecond

// New creates a new test assertion wrapper
func New(t *testing.T) *Wrapper {
	return &Wrapper{
		T:          t,
		Assertions: assert.New(t),
	}
}

// ConfigValid asserts that a configuration is valid
func (w *Wrapper) ConfigValid(cfg *config.Config) {
	w.Helper()
	w.NoError(cfg.Validate())
	w.True(cfg.APIPort > 0 && cfg.APIPort <= 65535)
	w.True(cfg.ShutdownTimeout > 0)
}

// ConfigInvalid asserts that a configuration is invalid
func (w *Wrapper) ConfigInvalid(cfg *config.Config, contains string) {
	w.Helper()
	err := cfg.Validate()
	w.Error(err)
	if err != nil && contains != "" {
		w.Contains(err.Error(), contains)
	}
}

// ActivityState asserts the state of an activity instance
func (w *Wrapper) ActivityState(
	inst *api.ActivityInstance, expected api.ActivityState,
) {
	w.Helper()
	if w.NotNil(inst) {
		w.Equal(expected, inst.State, "activity %s", inst.AbsolutePosition)
	}
}

// ExceptionFields asserts that the exception fields of an activity are
// set exactly when it has failed
func (w *Wrapper) ExceptionFields(inst *api.ActivityInstance) {
	w.Helper()
	failed := inst.State == api.ActivityFailed
	w.Equal(failed, inst.ExceptionCategory != nil,
		"exception category of %s", inst.AbsolutePosition)
	w.Equal(failed, inst.ExceptionTechnicalMessage != nil,
		"technical message of %s", inst.AbsolutePosition)
	w.Equal(failed, inst.ExceptionFriendlyMessage != nil,
		"friendly message of %s", inst.AbsolutePosition)
	w.NoError(inst.Validate())
}

// WorkflowState asserts the state of a workflow instance
func (w *Wrapper) WorkflowState(
	inst *api.WorkflowInstance, expected api.WorkflowState,
) {
	w.Helper()
	if w.NotNil(inst) {
		w.Equal(expected, inst.State)
	}
}

// Eventually runs a condition repeatedly until it passes or times out
func (w *Wrapper) Eventually(
	condition func() bool, timeout time.Duration, msg string, args ...any,
) {
	w.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(DefaultRetryInterval)
	}
	w.Fail(msg, args...)
}

// EventuallyWithError runs a condition that returns an error until it
// succeeds or times out
func (w *Wrapper) EventuallyWithError(
	condition func() error, timeout time.Duration, msg string, args ...any,
) {
	w.Helper()
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		err := condition()
		if err == nil {
			return
		}
		lastErr = err
		time.Sleep(DefaultRetryInterval)
	}
	if lastErr != nil {
		w.Fail(msg+": last error: "+lastErr.Error(), args...)
		return
	}
	w.Fail(msg, args...)
}
