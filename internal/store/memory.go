package store

import (
	"context"
	"slices"
	"sync"
)

type (
	// MemoryBackend keeps documents in process memory. It is the default
	// store and the reference for the other backends
	MemoryBackend struct {
		tables map[string]*memTable
		seq    int64
		closed bool
		mu     sync.Mutex
	}

	memTable struct {
		docs   map[string]*Document
		unique map[string]string
	}
)

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		tables: map[string]*memTable{},
	}
}

func (m *MemoryBackend) Create(
	_ context.Context, table string, doc *Document,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	tbl := m.table(table)
	if _, ok := tbl.docs[doc.ID]; ok {
		return ErrDuplicate
	}
	if doc.Unique != "" {
		if _, ok := tbl.unique[doc.Unique]; ok {
			return ErrDuplicate
		}
		tbl.unique[doc.Unique] = doc.ID
	}
	m.seq++
	doc.Seq = m.seq
	tbl.docs[doc.ID] = doc.clone()
	return nil
}

func (m *MemoryBackend) Read(
	_ context.Context, table, id string,
) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	if doc, ok := m.table(table).docs[id]; ok {
		return doc.clone(), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryBackend) Update(
	_ context.Context, table string, doc *Document, etag string,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	tbl := m.table(table)
	cur, ok := tbl.docs[doc.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.ETag != etag {
		return ErrConflict
	}
	if doc.Unique != cur.Unique {
		if owner, ok := tbl.unique[doc.Unique]; ok && owner != doc.ID {
			return ErrDuplicate
		}
		delete(tbl.unique, cur.Unique)
		if doc.Unique != "" {
			tbl.unique[doc.Unique] = doc.ID
		}
	}
	doc.Seq = cur.Seq
	tbl.docs[doc.ID] = doc.clone()
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, table, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	tbl := m.table(table)
	cur, ok := tbl.docs[id]
	if !ok {
		return ErrNotFound
	}
	delete(tbl.docs, id)
	if cur.Unique != "" {
		delete(tbl.unique, cur.Unique)
	}
	return nil
}

func (m *MemoryBackend) FindUnique(
	_ context.Context, table, key string,
) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	tbl := m.table(table)
	if id, ok := tbl.unique[key]; ok {
		return tbl.docs[id].clone(), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryBackend) Search(
	_ context.Context, table string, q Query,
) ([]*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	tbl := m.table(table)
	all := make([]*Document, 0, len(tbl.docs))
	for _, doc := range tbl.docs {
		all = append(all, doc)
	}
	slices.SortFunc(all, func(l, r *Document) int {
		return int(l.Seq - r.Seq)
	})

	page := q.Page(all)
	res := make([]*Document, len(page))
	for i, doc := range page {
		res[i] = doc.clone()
	}
	return res, nil
}

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryBackend) table(name string) *memTable {
	if tbl, ok := m.tables[name]; ok {
		return tbl
	}
	tbl := &memTable{
		docs:   map[string]*Document{},
		unique: map[string]string{},
	}
	m.tables[name] = tbl
	return tbl
}
