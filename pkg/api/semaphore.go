package api

import (
	"errors"
	"fmt"
	"time"
)

type (
	// WorkflowSemaphore is a named, capacity-limited resource guard. A nil
	// WorkflowFormID makes it a global throttle, otherwise a per-form lock
	WorkflowSemaphore struct {
		Record
		ID                 SemaphoreID     `json:"id"`
		WorkflowFormID     *WorkflowFormID `json:"workflow_form_id,omitempty"`
		ResourceIdentifier string          `json:"resource_identifier"`
		Limit              int             `json:"limit"`
		Raised             bool            `json:"raised"`
		ExpiresAt          *time.Time      `json:"expires_at,omitempty"`
		GrantLease         *time.Time      `json:"grant_lease,omitempty"`
	}

	// WorkflowSemaphoreQueue is one instance's claim on a semaphore, either
	// holding it (Raised) or waiting in line
	WorkflowSemaphoreQueue struct {
		Record
		ID                  string             `json:"id"`
		WorkflowSemaphoreID SemaphoreID        `json:"workflow_semaphore_id"`
		WorkflowInstanceID  WorkflowInstanceID `json:"workflow_instance_id"`
		Raised              bool               `json:"raised"`
		ExpiresAt           *time.Time         `json:"expires_at,omitempty"`
		ExpiresAfter        time.Duration      `json:"expires_after"`
		KeepUntilExpiry     bool               `json:"keep_until_expiry,omitempty"`
	}
)

var (
	ErrResourceRequired = errors.New("resource identifier is required")
	ErrInvalidLimit     = errors.New("semaphore limit must be positive")
)

// SemaphoreKey renders the unique key of a semaphore scope
func SemaphoreKey(formID *WorkflowFormID, resource string) string {
	if formID == nil {
		return "|" + resource
	}
	return string(*formID) + "|" + resource
}

// RecordID returns the persisted identifier of the semaphore
func (s *WorkflowSemaphore) RecordID() string { return string(s.ID) }

// SetRecordID assigns the persisted identifier of the semaphore
func (s *WorkflowSemaphore) SetRecordID(id string) { s.ID = SemaphoreID(id) }

// UniqueKey returns the form-or-global and resource pair
func (s *WorkflowSemaphore) UniqueKey() string {
	return SemaphoreKey(s.WorkflowFormID, s.ResourceIdentifier)
}

// IsLock returns true for semaphores scoped to a single workflow form
func (s *WorkflowSemaphore) IsLock() bool {
	return s.WorkflowFormID != nil
}

// Validate checks the scope and capacity of the semaphore
func (s *WorkflowSemaphore) Validate() error {
	if s.ResourceIdentifier == "" {
		return ErrResourceRequired
	}
	if s.Limit < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidLimit, s.Limit)
	}
	return nil
}

// RecordID returns the persisted identifier of the queue row
func (q *WorkflowSemaphoreQueue) RecordID() string { return q.ID }

// SetRecordID assigns the persisted identifier of the queue row
func (q *WorkflowSemaphoreQueue) SetRecordID(id string) { q.ID = id }

// UniqueKey returns the semaphore and instance pair
func (q *WorkflowSemaphoreQueue) UniqueKey() string {
	return string(q.WorkflowSemaphoreID) + "|" + string(q.WorkflowInstanceID)
}

// IsExpired returns true for a hold whose expiry has passed
func (q *WorkflowSemaphoreQueue) IsExpired(now time.Time) bool {
	return q.Raised && q.ExpiresAt != nil && !now.Before(*q.ExpiresAt)
}

// SetRaised returns a new queue row that holds the semaphore from now
func (q *WorkflowSemaphoreQueue) SetRaised(
	now time.Time,
) *WorkflowSemaphoreQueue {
	res := *q
	res.Raised = true
	if q.ExpiresAfter > 0 {
		exp := now.Add(q.ExpiresAfter)
		res.ExpiresAt = &exp
	} else {
		res.ExpiresAt = nil
	}
	return &res
}

// SetWaiting returns a new queue row that no longer holds the semaphore
func (q *WorkflowSemaphoreQueue) SetWaiting() *WorkflowSemaphoreQueue {
	res := *q
	res.Raised = false
	res.ExpiresAt = nil
	return &res
}

// SetHolders returns a new WorkflowSemaphore reflecting its current holds
func (s *WorkflowSemaphore) SetHolders(
	raised bool, expiresAt *time.Time,
) *WorkflowSemaphore {
	res := *s
	res.Raised = raised
	res.ExpiresAt = expiresAt
	return &res
}

// SetLimit returns a new WorkflowSemaphore with a different capacity
func (s *WorkflowSemaphore) SetLimit(limit int) *WorkflowSemaphore {
	res := *s
	res.Limit = limit
	return &res
}

// IsLeased returns true while a grant pass holds the semaphore
func (s *WorkflowSemaphore) IsLeased(now time.Time) bool {
	return s.GrantLease != nil && now.Before(*s.GrantLease)
}

// SetLease returns a new WorkflowSemaphore with the grant lease replaced
func (s *WorkflowSemaphore) SetLease(until *time.Time) *WorkflowSemaphore {
	res := *s
	res.GrantLease = until
	return &res
}
