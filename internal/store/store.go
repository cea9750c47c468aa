package store

import (
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
)

// Store groups the typed tables of the workflow engine over one Backend
type Store struct {
	WorkflowForms     *Table[api.WorkflowForm, *api.WorkflowForm]
	WorkflowVersions  *Table[api.WorkflowVersion, *api.WorkflowVersion]
	WorkflowInstances *Table[api.WorkflowInstance, *api.WorkflowInstance]
	ActivityForms     *Table[api.ActivityForm, *api.ActivityForm]
	ActivityVersions  *Table[api.ActivityVersion, *api.ActivityVersion]
	ActivityInstances *Table[api.ActivityInstance, *api.ActivityInstance]
	Logs              *Table[api.WorkflowLog, *api.WorkflowLog]
	Semaphores        *Table[api.WorkflowSemaphore, *api.WorkflowSemaphore]
	SemaphoreQueues   *Table[api.WorkflowSemaphoreQueue, *api.WorkflowSemaphoreQueue]

	backend Backend
}

const (
	TableWorkflowForms     = "workflow_forms"
	TableWorkflowVersions  = "workflow_versions"
	TableWorkflowInstances = "workflow_instances"
	TableActivityForms     = "activity_forms"
	TableActivityVersions  = "activity_versions"
	TableActivityInstances = "activity_instances"
	TableLogs              = "workflow_logs"
	TableSemaphores        = "semaphores"
	TableSemaphoreQueues   = "semaphore_queues"
)

// New builds the engine tables over b. A nil clock uses wall time
func New(b Backend, clock Clock) *Store {
	return &Store{
		WorkflowForms: NewTable[api.WorkflowForm](
			b, TableWorkflowForms, clock, nil, nil,
		),
		WorkflowVersions: NewTable[api.WorkflowVersion](
			b, TableWorkflowVersions, clock,
			(*api.WorkflowVersion).UniqueKey,
			func(v *api.WorkflowVersion) string {
				return string(v.WorkflowFormID)
			},
		),
		WorkflowInstances: NewTable[api.WorkflowInstance](
			b, TableWorkflowInstances, clock, nil,
			func(w *api.WorkflowInstance) string {
				return string(w.WorkflowVersionID)
			},
		),
		ActivityForms: NewTable[api.ActivityForm](
			b, TableActivityForms, clock, nil,
			func(f *api.ActivityForm) string {
				return string(f.WorkflowFormID)
			},
		),
		ActivityVersions: NewTable[api.ActivityVersion](
			b, TableActivityVersions, clock,
			(*api.ActivityVersion).UniqueKey,
			func(v *api.ActivityVersion) string {
				return string(v.WorkflowVersionID)
			},
		),
		ActivityInstances: NewTable[api.ActivityInstance](
			b, TableActivityInstances, clock,
			func(a *api.ActivityInstance) string {
				return a.Identity().Key()
			},
			func(a *api.ActivityInstance) string {
				return string(a.WorkflowInstanceID)
			},
		),
		Logs: NewTable[api.WorkflowLog](
			b, TableLogs, clock, nil,
			func(l *api.WorkflowLog) string {
				if l.WorkflowInstanceID == nil {
					return ""
				}
				return string(*l.WorkflowInstanceID)
			},
		),
		Semaphores: NewTable[api.WorkflowSemaphore](
			b, TableSemaphores, clock,
			(*api.WorkflowSemaphore).UniqueKey, nil,
		),
		SemaphoreQueues: NewTable[api.WorkflowSemaphoreQueue](
			b, TableSemaphoreQueues, clock,
			(*api.WorkflowSemaphoreQueue).UniqueKey,
			func(q *api.WorkflowSemaphoreQueue) string {
				return string(q.WorkflowSemaphoreID)
			},
		),
		backend: b,
	}
}

// Backend returns the storage engine behind the tables
func (s *Store) Backend() Backend {
	return s.backend
}

// Close releases the backend
func (s *Store) Close() error {
	return s.backend.Close()
}
