package api

import "time"

// WorkflowArchive is the frozen record of a finished workflow instance
type WorkflowArchive struct {
	Instance   *WorkflowInstance   `json:"instance"`
	Version    *WorkflowVersion    `json:"version,omitempty"`
	Activities []*ActivityInstance `json:"activities"`
	Logs       []*WorkflowLog      `json:"logs,omitempty"`
	ArchivedAt time.Time           `json:"archived_at"`
}
