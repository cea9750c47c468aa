// Package workflow hosts the durable workflow activity engine
package workflow

const (
	// Name is the service name reported in logs
	Name = "nexus-workflow-engine"

	// Version is the current engine release
	Version = "0.3.0"
)
