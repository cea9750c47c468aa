// Package api defines the core data types shared by the workflow engine
//
// This package contains the persisted records of the three-level
// form/version/instance hierarchy for workflows and activities, the
// semaphore and log records, engine events, async request envelopes, and
// the HTTP messages exchanged with a host
package api
