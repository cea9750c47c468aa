package scheduler_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/scheduler"
)

func TestTaskHeapKeyedOrderAndCancelPrefix(t *testing.T) {
	now := time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC)
	h := scheduler.NewTaskHeap()
	noop := func() error { return nil }
	insert := func(key string, at time.Time) {
		h.Insert(&scheduler.Task{Key: key, At: at, Func: noop})
	}

	insert("a", now.Add(3*time.Second))
	insert("b", now.Add(2*time.Second))
	insert("a", now.Add(time.Second))
	assert.Equal(t, 2, h.Len())

	peek := h.Peek()
	if assert.NotNil(t, peek) {
		assert.Equal(t, "a", peek.Key)
		assert.Equal(t, now.Add(time.Second).Unix(), peek.At.Unix())
	}

	h.Cancel("a")
	peek = h.Peek()
	if assert.NotNil(t, peek) {
		assert.Equal(t, "b", peek.Key)
	}

	insert("reentry/wf1/x", now)
	insert("reentry/wf1/y", now)
	insert("reentry/wf2/x", now)

	h.CancelPrefix("reentry/wf1/")
	assert.Equal(t, 2, h.Len())
	for {
		task := h.PopTask()
		if task == nil {
			break
		}
		assert.False(t, strings.HasPrefix(task.Key, "reentry/wf1/"))
	}
}

func TestTaskHeapNoOps(t *testing.T) {
	h := scheduler.NewTaskHeap()
	assert.Nil(t, h.PopTask())
	now := time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC)

	h.Insert(nil)
	h.Insert(&scheduler.Task{At: now})
	h.Insert(&scheduler.Task{Func: func() error { return nil }})
	assert.Nil(t, h.Peek())

	h.Cancel("missing")
	h.CancelPrefix("")
	assert.Equal(t, 0, h.Len())
}

func TestTaskHeapUnkeyed(t *testing.T) {
	now := time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC)
	h := scheduler.NewTaskHeap()
	noop := func() error { return nil }

	h.Insert(&scheduler.Task{At: now.Add(time.Second), Func: noop})
	h.Insert(&scheduler.Task{At: now, Func: noop})
	assert.Equal(t, 2, h.Len())
	assert.Equal(t, now, h.PopTask().At)
	assert.Equal(t, now.Add(time.Second), h.PopTask().At)
}
