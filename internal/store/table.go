package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type (
	// Entity is the bookkeeping every stored record exposes
	Entity interface {
		RecordID() string
		SetRecordID(id string)
		GetETag() string
		SetETag(etag string)
		Touch(now time.Time)
	}

	// Table is a typed view over one table of a Backend
	Table[T any, P interface {
		*T
		Entity
	}] struct {
		backend   Backend
		name      string
		clock     Clock
		unique    KeyFunc[T]
		partition KeyFunc[T]
	}

	// KeyFunc derives an index key from a record
	KeyFunc[T any] func(*T) string

	// Clock provides the timestamps stamped onto written records
	Clock func() time.Time
)

// NewTable binds a typed table to a backend. unique and partition may be
// nil when the table has no such index
func NewTable[T any, P interface {
	*T
	Entity
}](
	b Backend, name string, clock Clock, unique, partition KeyFunc[T],
) *Table[T, P] {
	if clock == nil {
		clock = time.Now
	}
	return &Table[T, P]{
		backend:   b,
		name:      name,
		clock:     clock,
		unique:    unique,
		partition: partition,
	}
}

// Name returns the table name used in the backend
func (t *Table[T, P]) Name() string {
	return t.name
}

// Create stores a new record, assigning an id when it has none, and
// returns the stored copy carrying its fresh ETag
func (t *Table[T, P]) Create(ctx context.Context, rec P) (P, error) {
	res := P(new(T))
	*res = *rec
	if res.RecordID() == "" {
		res.SetRecordID(uuid.NewString())
	}
	res.SetETag("")
	res.Touch(t.clock())

	doc, err := t.encode(res)
	if err != nil {
		return nil, err
	}
	if err := t.backend.Create(ctx, t.name, doc); err != nil {
		return nil, fmt.Errorf("%s %s: %w", t.name, doc.ID, err)
	}
	res.SetETag(doc.ETag)
	return res, nil
}

// Read loads a record by id
func (t *Table[T, P]) Read(ctx context.Context, id string) (P, error) {
	doc, err := t.backend.Read(ctx, t.name, id)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", t.name, id, err)
	}
	return t.decode(doc)
}

// Update replaces the record stored under id. The ETag carried by rec must
// match the stored one, otherwise ErrConflict is returned and nothing is
// written
func (t *Table[T, P]) Update(ctx context.Context, id string, rec P) (P, error) {
	etag := rec.GetETag()
	res := P(new(T))
	*res = *rec
	res.SetRecordID(id)
	res.SetETag("")
	res.Touch(t.clock())

	doc, err := t.encode(res)
	if err != nil {
		return nil, err
	}
	if err := t.backend.Update(ctx, t.name, doc, etag); err != nil {
		return nil, fmt.Errorf("%s %s: %w", t.name, id, err)
	}
	res.SetETag(doc.ETag)
	return res, nil
}

// Delete removes the record stored under id
func (t *Table[T, P]) Delete(ctx context.Context, id string) error {
	if err := t.backend.Delete(ctx, t.name, id); err != nil {
		return fmt.Errorf("%s %s: %w", t.name, id, err)
	}
	return nil
}

// FindUnique loads the record holding the given unique key
func (t *Table[T, P]) FindUnique(ctx context.Context, key string) (P, error) {
	doc, err := t.backend.FindUnique(ctx, t.name, key)
	if err != nil {
		return nil, fmt.Errorf("%s unique %s: %w", t.name, key, err)
	}
	return t.decode(doc)
}

// Search returns the records matching q in creation order
func (t *Table[T, P]) Search(ctx context.Context, q Query) ([]P, error) {
	docs, err := t.backend.Search(ctx, t.name, q)
	if err != nil {
		return nil, fmt.Errorf("%s search: %w", t.name, err)
	}
	res := make([]P, 0, len(docs))
	for _, doc := range docs {
		rec, err := t.decode(doc)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, nil
}

func (t *Table[T, P]) encode(rec P) (*Document, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	doc := &Document{
		ID:   rec.RecordID(),
		ETag: uuid.NewString(),
		Data: data,
	}
	if t.unique != nil {
		doc.Unique = t.unique((*T)(rec))
	}
	if t.partition != nil {
		doc.Partition = t.partition((*T)(rec))
	}
	return doc, nil
}

func (t *Table[T, P]) decode(doc *Document) (P, error) {
	res := P(new(T))
	if err := json.Unmarshal(doc.Data, res); err != nil {
		return nil, fmt.Errorf("%s %s: %w", t.name, doc.ID, err)
	}
	res.SetRecordID(doc.ID)
	res.SetETag(doc.ETag)
	return res, nil
}
