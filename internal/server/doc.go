// Package server implements the HTTP API of the workflow engine
//
// This package provides REST endpoints for starting and re-entering
// workflow instances, inspecting their activity trees, completing async
// requests, and a WebSocket stream of engine events
package server
