// Package builder provides a Go client for the workflow engine API
//
// The builder package offers client functionality for starting and
// re-entering workflow instances, inspecting them, and for services that
// answer the engine's async requests after accepting them
package builder
