package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

type (
	// Backend is the storage engine behind every table. Implementations
	// must make Create, Update, and Delete atomic with respect to the ETag
	// and unique key of the document
	Backend interface {
		Create(ctx context.Context, table string, doc *Document) error
		Read(ctx context.Context, table, id string) (*Document, error)
		Update(ctx context.Context, table string, doc *Document, etag string) error
		Delete(ctx context.Context, table, id string) error
		FindUnique(ctx context.Context, table, key string) (*Document, error)
		Search(ctx context.Context, table string, q Query) ([]*Document, error)
		Close() error
	}

	// Document is the stored form of one record
	Document struct {
		ID        string
		ETag      string
		Unique    string
		Partition string
		Data      []byte
		Seq       int64
	}

	// Query selects documents of one table. Filters map gjson paths to the
	// string form of the value they must hold. Results are ordered by
	// creation
	Query struct {
		Partition string
		Filters   map[string]string
		Offset    int
		Limit     int
	}
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrConflict  = errors.New("record conflict")
	ErrClosed    = errors.New("store closed")

	// ErrDuplicate is the conflict raised for a taken id or unique key
	ErrDuplicate = fmt.Errorf("%w: duplicate record", ErrConflict)
)

// Matches reports whether the document satisfies every filter of the query
func (q Query) Matches(doc *Document) bool {
	if q.Partition != "" && doc.Partition != q.Partition {
		return false
	}
	for path, want := range q.Filters {
		if gjson.GetBytes(doc.Data, path).String() != want {
			return false
		}
	}
	return true
}

// Page filters the creation-ordered docs and applies offset and limit
func (q Query) Page(docs []*Document) []*Document {
	var res []*Document
	skipped := 0
	for _, doc := range docs {
		if !q.Matches(doc) {
			continue
		}
		if skipped < q.Offset {
			skipped++
			continue
		}
		res = append(res, doc)
		if q.Limit > 0 && len(res) == q.Limit {
			break
		}
	}
	return res
}

func (d *Document) clone() *Document {
	res := *d
	res.Data = append([]byte(nil), d.Data...)
	return &res
}
