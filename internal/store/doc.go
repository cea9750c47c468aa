// Package store is the persistence gateway of the workflow engine
//
// Records are kept as JSON documents in a Backend, grouped in tables. Every
// write is guarded by an ETag: creates mint one, updates must present the
// current one or fail with ErrConflict, and unique keys are enforced by the
// backend so two writers can never both create the same logical record
package store
