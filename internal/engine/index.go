package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/store"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
)

type (
	// activityIndex holds the activity instances of one workflow instance
	// for the duration of one entry, by id and by identity key. It also
	// rejects identities visited twice in the same entry
	activityIndex struct {
		byID    map[api.ActivityInstanceID]*api.ActivityInstance
		byKey   map[string]api.ActivityInstanceID
		visited map[string]string
		mu      sync.Mutex
	}

	// instanceLocks serializes entries of the same workflow instance
	// within this process
	instanceLocks struct {
		locks map[api.WorkflowInstanceID]*instanceLock
		mu    sync.Mutex
	}

	instanceLock struct {
		sync.Mutex
		refs int
	}
)

func newActivityIndex() *activityIndex {
	return &activityIndex{
		byID:    map[api.ActivityInstanceID]*api.ActivityInstance{},
		byKey:   map[string]api.ActivityInstanceID{},
		visited: map[string]string{},
	}
}

func (e *Engine) loadIndex(
	ctx context.Context, id api.WorkflowInstanceID,
) (*activityIndex, error) {
	all, err := e.store.ActivityInstances.Search(ctx, store.Query{
		Partition: string(id),
	})
	if err != nil {
		return nil, err
	}
	res := newActivityIndex()
	for _, inst := range all {
		res.put(inst)
	}
	return res, nil
}

// claim records that the identity is visited by the activity at title,
// failing if another activity already visited it during this entry
func (x *activityIndex) claim(key, title string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if prev, ok := x.visited[key]; ok {
		return fmt.Errorf("%w: %s and %s", ErrDuplicateIdentity, prev, title)
	}
	x.visited[key] = title
	return nil
}

func (x *activityIndex) byIdentity(key string) (*api.ActivityInstance, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	id, ok := x.byKey[key]
	if !ok {
		return nil, false
	}
	inst, ok := x.byID[id]
	return inst, ok
}

func (x *activityIndex) get(id api.ActivityInstanceID) (*api.ActivityInstance, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	inst, ok := x.byID[id]
	return inst, ok
}

func (x *activityIndex) put(inst *api.ActivityInstance) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.byID[inst.ID] = inst
	x.byKey[inst.Identity().Key()] = inst.ID
}

func (x *activityIndex) all() []*api.ActivityInstance {
	x.mu.Lock()
	defer x.mu.Unlock()
	res := make([]*api.ActivityInstance, 0, len(x.byID))
	for _, inst := range x.byID {
		res = append(res, inst)
	}
	return res
}

func newInstanceLocks() *instanceLocks {
	return &instanceLocks{
		locks: map[api.WorkflowInstanceID]*instanceLock{},
	}
}

// lock blocks until the instance is free and returns its unlock function
func (l *instanceLocks) lock(id api.WorkflowInstanceID) func() {
	l.mu.Lock()
	il, ok := l.locks[id]
	if !ok {
		il = &instanceLock{}
		l.locks[id] = il
	}
	il.refs++
	l.mu.Unlock()

	il.Lock()
	return func() {
		il.Unlock()
		l.mu.Lock()
		defer l.mu.Unlock()
		il.refs--
		if il.refs == 0 {
			delete(l.locks, id)
		}
	}
}
