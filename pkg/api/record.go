package api

import "time"

// Record holds the bookkeeping carried by every persisted record. The ETag is
// assigned by the persistence gateway and must be passed back unchanged on
// update, where it acts as the compare-and-swap token
type Record struct {
	ETag            string    `json:"etag,omitempty"`
	RecordCreatedAt time.Time `json:"record_created_at"`
	RecordUpdatedAt time.Time `json:"record_updated_at"`
}

// GetETag returns the optimistic concurrency token of the record
func (r *Record) GetETag() string {
	return r.ETag
}

// SetETag replaces the optimistic concurrency token of the record
func (r *Record) SetETag(etag string) {
	r.ETag = etag
}

// Touch stamps the record with the time of a write
func (r *Record) Touch(now time.Time) {
	if r.RecordCreatedAt.IsZero() {
		r.RecordCreatedAt = now
	}
	r.RecordUpdatedAt = now
}
