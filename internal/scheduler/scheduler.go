package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/log"
)

type (
	// Scheduler runs delayed tasks keyed by string. Scheduling a key that
	// is already pending replaces the earlier task
	Scheduler struct {
		now       Clock
		makeTimer TimerConstructor
		tasks     chan taskReq
	}

	// TaskFunc is called when its run time arrives
	TaskFunc func() error

	taskReqOp uint8

	taskReq struct {
		op   taskReqOp
		task *Task
		key  string
	}
)

const (
	taskReqSchedule taskReqOp = iota
	taskReqCancel
	taskReqCancelPrefix
)

// New creates a scheduler using the provided clock and timer constructor
func New(now Clock, makeTimer TimerConstructor) *Scheduler {
	if now == nil {
		now = time.Now
	}
	if makeTimer == nil {
		makeTimer = NewTimer
	}
	return &Scheduler{
		now:       now,
		makeTimer: makeTimer,
		tasks:     make(chan taskReq, 100),
	}
}

// Schedule enqueues a task to run at the requested time
func (s *Scheduler) Schedule(
	ctx context.Context, key string, at time.Time, fn TaskFunc,
) {
	s.scheduleTaskReq(ctx, taskReq{
		op:   taskReqSchedule,
		task: &Task{Func: fn, At: at, Key: key},
	})
}

// Cancel removes the task registered for the exact key
func (s *Scheduler) Cancel(ctx context.Context, key string) {
	s.scheduleTaskReq(ctx, taskReq{op: taskReqCancel, key: key})
}

// CancelPrefix removes all tasks whose key starts with prefix
func (s *Scheduler) CancelPrefix(ctx context.Context, prefix string) {
	s.scheduleTaskReq(ctx, taskReq{op: taskReqCancelPrefix, key: prefix})
}

// Run processes scheduler requests until the context is cancelled
func (s *Scheduler) Run(ctx context.Context) {
	timer := s.makeTimer(0)
	var timerCh <-chan time.Time
	tasks := NewTaskHeap()

	resetTimer := func() {
		t := tasks.Peek()
		if t == nil {
			timer.Stop()
			timerCh = nil
			return
		}
		timer.Reset(s.now.Until(t.At))
		timerCh = timer.Channel()
	}

	resetTimer()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case req := <-s.tasks:
			switch req.op {
			case taskReqSchedule:
				tasks.Insert(req.task)
			case taskReqCancel:
				tasks.Cancel(req.key)
			case taskReqCancelPrefix:
				tasks.CancelPrefix(req.key)
			}
			resetTimer()
		case <-timerCh:
			task := tasks.PopTask()
			if task == nil {
				resetTimer()
				continue
			}
			if err := task.Func(); err != nil {
				slog.Error("Scheduled task failed",
					slog.String("key", task.Key), log.Error(err))
			}
			resetTimer()
		}
	}
}

func (s *Scheduler) scheduleTaskReq(ctx context.Context, req taskReq) {
	select {
	case s.tasks <- req:
	case <-ctx.Done():
	}
}
