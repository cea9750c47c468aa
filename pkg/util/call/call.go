package call

import "errors"

// Call is a deferred step that may fail
type Call func() error

// Perform runs calls in order and returns the first error, skipping the
// calls after it
func Perform(calls ...Call) error {
	for _, c := range calls {
		if err := c(); err != nil {
			return err
		}
	}
	return nil
}

// All runs every call, even after a failure, and joins their errors
func All(calls ...Call) error {
	var errs []error
	for _, c := range calls {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WithArg binds arg to fn
func WithArg[Arg any](fn func(Arg) error, arg Arg) Call {
	return func() error {
		return fn(arg)
	}
}

// Optional wraps fn so that it is skipped when enabled is false
func Optional(enabled bool, fn Call) Call {
	if !enabled {
		return func() error { return nil }
	}
	return fn
}
