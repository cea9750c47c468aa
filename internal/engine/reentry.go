package engine

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/config"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/log"
)

type backoffCalculator func(baseDelay int64, retryCount int) int64

const reentryPrefix = "reentry/"

var backoffCalculators = map[string]backoffCalculator{
	config.BackoffTypeFixed: func(base int64, _ int) int64 {
		return base
	},
	config.BackoffTypeLinear: func(base int64, count int) int64 {
		return base * int64(count+1)
	},
	config.BackoffTypeExponential: func(base int64, count int) int64 {
		delay := float64(base) * math.Pow(2, float64(count))
		if delay >= math.MaxInt64 {
			return math.MaxInt64
		}
		return int64(delay)
	},
}

// Resume schedules an immediate reentry of a postponed instance, replacing
// any pending backoff
func (e *Engine) Resume(id api.WorkflowInstanceID) {
	e.resetAttempts(id)
	e.scheduler.Schedule(e.ctx, reentryKey(id), e.Now(), e.reentryTask(id))
}

// RequestCompleted resumes the instance that sent a request once the
// request has a final response. It has the shape of a broker completion
// callback
func (e *Engine) RequestCompleted(
	_ context.Context, req *api.AsyncRequest, resp *api.AsyncResponse,
) {
	id := api.WorkflowInstanceID(req.Context[ContextWorkflowInstanceID])
	if id == "" {
		return
	}
	slog.Debug("Request completed",
		log.WorkflowInstanceID(id),
		log.RequestID(resp.RequestID))
	e.Resume(id)
}

// NextReentry calculates when the given reentry attempt should run
func (e *Engine) NextReentry(attempt int) time.Time {
	cfg := e.config.Reentry
	calculator, ok := backoffCalculators[cfg.BackoffType]
	if !ok {
		calculator = backoffCalculators[config.BackoffTypeFixed]
	}
	delay := min(calculator(cfg.InitBackoff, attempt), cfg.MaxBackoff)
	delay = max(delay, 0)
	return e.Now().Add(time.Duration(delay) * time.Millisecond)
}

func (e *Engine) handlePromoted(
	_ context.Context, sem *api.WorkflowSemaphore, id api.WorkflowInstanceID,
) {
	e.publish(api.EventTypeSemaphorePromoted, api.SemaphorePromotedEvent{
		SemaphoreID: sem.ID,
		InstanceID:  id,
	})
	e.Resume(id)
}

// scheduleReentry retries an entry that asked to be tried again, backing
// off with every consecutive attempt
func (e *Engine) scheduleReentry(id api.WorkflowInstanceID) {
	attempt, ok := e.nextAttempt(id)
	if !ok {
		slog.Warn("Reentry retries exhausted",
			log.WorkflowInstanceID(id),
			slog.Int("attempts", attempt))
		return
	}
	at := e.NextReentry(attempt)
	reentriesScheduled.Inc()
	slog.Debug("Reentry scheduled",
		log.WorkflowInstanceID(id),
		slog.Time("at", at))
	e.scheduler.Schedule(e.ctx, reentryKey(id), at, e.reentryTask(id))
}

func (e *Engine) clearReentry(id api.WorkflowInstanceID) {
	e.resetAttempts(id)
	e.scheduler.Cancel(e.ctx, reentryKey(id))
}

// reentryTask returns a scheduler task that enters the instance on its
// own goroutine, leaving the scheduler free to run other tasks
func (e *Engine) reentryTask(id api.WorkflowInstanceID) func() error {
	return func() error {
		if e.ctx.Err() != nil {
			return nil
		}
		e.wg.Go(func() {
			e.reenter(id)
		})
		return nil
	}
}

func (e *Engine) reenter(id api.WorkflowInstanceID) {
	inst, err := e.enter(e.ctx, id)
	if err == nil {
		return
	}
	if _, ok := AsPostponed(err); ok {
		return
	}
	var wf *WorkflowFailedError
	if _, ok := AsCancelled(err); ok || errors.As(err, &wf) {
		return
	}
	attrs := []any{log.WorkflowInstanceID(id), log.Error(err)}
	if inst != nil {
		attrs = append(attrs, log.State(inst.State))
	}
	slog.Error("Reentry failed", attrs...)
}

func (e *Engine) nextAttempt(id api.WorkflowInstanceID) (int, bool) {
	e.attemptsMu.Lock()
	defer e.attemptsMu.Unlock()
	attempt := e.attempts[id]
	limit := e.config.Reentry.MaxRetries
	if limit >= 0 && attempt >= limit {
		return attempt, false
	}
	e.attempts[id] = attempt + 1
	return attempt, true
}

func (e *Engine) resetAttempts(id api.WorkflowInstanceID) {
	e.attemptsMu.Lock()
	defer e.attemptsMu.Unlock()
	delete(e.attempts, id)
}

func reentryKey(id api.WorkflowInstanceID) string {
	return reentryPrefix + string(id)
}
