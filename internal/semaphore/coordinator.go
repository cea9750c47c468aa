package semaphore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/store"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/log"
)

type (
	// Coordinator owns every semaphore and queue row. Queue rows are the
	// truth about who holds and who waits. Grants are made under a short
	// lease taken on the semaphore record by ETag swap, so the number of
	// raised rows never exceeds the semaphore's limit
	Coordinator struct {
		store      *store.Store
		clock      Clock
		onPromoted PromotedFunc
		maxRetries int
		lease      time.Duration
	}

	// Clock provides the current time for hold expiry
	Clock func() time.Time

	// PromotedFunc is told about instances granted a semaphore on behalf
	// of another caller, so they can be resumed
	PromotedFunc func(
		ctx context.Context, sem *api.WorkflowSemaphore,
		instanceID api.WorkflowInstanceID,
	)

	// Key names one semaphore. A nil FormID is a global throttle, a set
	// one is a lock private to that workflow form
	Key struct {
		FormID   *api.WorkflowFormID
		Resource string
	}

	// Request asks for one hold on a semaphore
	Request struct {
		Key
		Limit        int
		ExpiresAfter time.Duration
		InstanceID   api.WorkflowInstanceID

		// KeepUntilExpiry makes a granted hold survive ReleaseAll, so a
		// throttle window stays occupied after its holder finishes
		KeepUntilExpiry bool
	}

	// Result reports the outcome of a raise
	Result struct {
		Semaphore *api.WorkflowSemaphore
		Raised    bool
		Position  int
	}

	// Option configures a Coordinator
	Option func(*Coordinator)

	grantPass struct {
		sem     *api.WorkflowSemaphore
		rows    []*api.WorkflowSemaphoreQueue
		granted []*api.WorkflowSemaphoreQueue
	}
)

const (
	// DefaultMaxRetries bounds how often a grant pass is retried after
	// finding the semaphore leased by another pass
	DefaultMaxRetries = 200

	// DefaultLease bounds how long a grant pass may hold a semaphore
	// before another caller may take it over
	DefaultLease = 5 * time.Second

	maxBackoff = 50 * time.Millisecond
)

var (
	ErrRetriesExhausted = errors.New("semaphore contention retries exhausted")
	ErrInvalidRequest   = errors.New("invalid semaphore request")

	errLeased = errors.New("semaphore leased")
)

// WithClock sets the clock used for hold expiry
func WithClock(clock Clock) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// WithPromoted registers the callback for promoted instances
func WithPromoted(fn PromotedFunc) Option {
	return func(c *Coordinator) {
		c.onPromoted = fn
	}
}

// WithMaxRetries sets the contention retry bound
func WithMaxRetries(n int) Option {
	return func(c *Coordinator) {
		c.maxRetries = n
	}
}

// WithLease sets how long a grant pass may hold a semaphore
func WithLease(d time.Duration) Option {
	return func(c *Coordinator) {
		c.lease = d
	}
}

// New creates a Coordinator over the semaphore tables of s
func New(s *store.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      s,
		clock:      time.Now,
		maxRetries: DefaultMaxRetries,
		lease:      DefaultLease,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// String renders the key for logs
func (k Key) String() string {
	return api.SemaphoreKey(k.FormID, k.Resource)
}

// Raise tries to take a hold for the instance. Raising again while holding
// is a no-op that reports Raised. When the semaphore is full the instance
// stays queued and Position reports its place in line
func (c *Coordinator) Raise(ctx context.Context, req Request) (*Result, error) {
	if req.Resource == "" || req.InstanceID == "" || req.Limit < 1 {
		return nil, fmt.Errorf("%w: %s limit %d",
			ErrInvalidRequest, req.Key, req.Limit)
	}

	sem, err := c.ensureSemaphore(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := c.ensureRow(ctx, sem, req); err != nil {
		return nil, err
	}

	pass, err := c.grant(ctx, sem.ID, req.Limit)
	if err != nil {
		return nil, err
	}

	res := &Result{Semaphore: pass.sem}
	waiting := 0
	for _, row := range pass.rows {
		if row.WorkflowInstanceID == req.InstanceID {
			res.Raised = row.Raised
			res.Position = waiting + 1
			break
		}
		if !row.Raised {
			waiting++
		}
	}
	if res.Raised {
		res.Position = 0
		raisesTotal.WithLabelValues(outcomeRaised).Inc()
	} else {
		raisesTotal.WithLabelValues(outcomeQueued).Inc()
	}

	c.notify(ctx, pass, req.InstanceID)
	return res, nil
}

// Lower releases the instance's hold or place in line and promotes the
// next queued instances if capacity frees up. It returns the promoted
// instances
func (c *Coordinator) Lower(
	ctx context.Context, key Key, instanceID api.WorkflowInstanceID,
) ([]api.WorkflowInstanceID, error) {
	sem, err := c.store.Semaphores.FindUnique(ctx, key.String())
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c.lowerSemaphore(ctx, sem.ID, instanceID)
}

// ReleaseAll drops every hold and queue entry of the instance, as needed
// when the instance is cancelled or completes. Holds taken with
// KeepUntilExpiry are left to expire
func (c *Coordinator) ReleaseAll(
	ctx context.Context, instanceID api.WorkflowInstanceID,
) ([]api.WorkflowInstanceID, error) {
	rows, err := c.store.SemaphoreQueues.Search(ctx, store.Query{
		Filters: map[string]string{
			"workflow_instance_id": string(instanceID),
		},
	})
	if err != nil {
		return nil, err
	}

	var promoted []api.WorkflowInstanceID
	var errs []error
	now := c.clock()
	for _, row := range rows {
		if row.KeepUntilExpiry && row.Raised && !row.IsExpired(now) {
			continue
		}
		p, err := c.lowerSemaphore(ctx, row.WorkflowSemaphoreID, instanceID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		promoted = append(promoted, p...)
	}
	return promoted, errors.Join(errs...)
}

// Holders returns the instances currently holding the semaphore
func (c *Coordinator) Holders(
	ctx context.Context, key Key,
) ([]api.WorkflowInstanceID, error) {
	return c.members(ctx, key, true)
}

// Waiting returns the queued instances of the semaphore in FIFO order
func (c *Coordinator) Waiting(
	ctx context.Context, key Key,
) ([]api.WorkflowInstanceID, error) {
	return c.members(ctx, key, false)
}

func (c *Coordinator) members(
	ctx context.Context, key Key, raised bool,
) ([]api.WorkflowInstanceID, error) {
	sem, err := c.store.Semaphores.FindUnique(ctx, key.String())
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rows, err := c.queue(ctx, sem.ID)
	if err != nil {
		return nil, err
	}
	now := c.clock()
	var res []api.WorkflowInstanceID
	for _, row := range rows {
		if row.Raised == raised && !row.IsExpired(now) {
			res = append(res, row.WorkflowInstanceID)
		}
	}
	return res, nil
}

func (c *Coordinator) lowerSemaphore(
	ctx context.Context, semID api.SemaphoreID,
	instanceID api.WorkflowInstanceID,
) ([]api.WorkflowInstanceID, error) {
	row, err := c.store.SemaphoreQueues.FindUnique(ctx,
		queueKey(semID, instanceID),
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		err := c.store.SemaphoreQueues.Delete(ctx, row.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	pass, err := c.grant(ctx, semID, 0)
	if err != nil {
		return nil, err
	}
	c.notify(ctx, pass, "")

	res := make([]api.WorkflowInstanceID, len(pass.granted))
	for i, row := range pass.granted {
		res[i] = row.WorkflowInstanceID
	}
	return res, nil
}

func (c *Coordinator) ensureSemaphore(
	ctx context.Context, req Request,
) (*api.WorkflowSemaphore, error) {
	key := req.Key.String()
	for range c.maxRetries {
		sem, err := c.store.Semaphores.FindUnique(ctx, key)
		if err == nil {
			return sem, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}

		sem, err = c.store.Semaphores.Create(ctx, &api.WorkflowSemaphore{
			WorkflowFormID:     req.FormID,
			ResourceIdentifier: req.Resource,
			Limit:              req.Limit,
		})
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		return sem, err
	}
	return nil, fmt.Errorf("%w: %s", ErrRetriesExhausted, key)
}

func (c *Coordinator) ensureRow(
	ctx context.Context, sem *api.WorkflowSemaphore, req Request,
) error {
	key := queueKey(sem.ID, req.InstanceID)
	row, err := c.store.SemaphoreQueues.FindUnique(ctx, key)
	switch {
	case err == nil && !row.IsExpired(c.clock()):
		return nil
	case err == nil:
		// an expired hold goes back to the end of the line
		if err := c.expire(ctx, sem, row); err != nil {
			return err
		}
	case !errors.Is(err, store.ErrNotFound):
		return err
	}

	_, err = c.store.SemaphoreQueues.Create(ctx, &api.WorkflowSemaphoreQueue{
		WorkflowSemaphoreID: sem.ID,
		WorkflowInstanceID:  req.InstanceID,
		ExpiresAfter:        req.ExpiresAfter,
		KeepUntilExpiry:     req.KeepUntilExpiry && req.ExpiresAfter > 0,
	})
	if errors.Is(err, store.ErrConflict) {
		// a concurrent raise by the same instance enqueued it first
		return nil
	}
	return err
}

// grant runs one FIFO grant pass under the semaphore's grant lease:
// expired holds are released, then the first Limit-minus-holders waiting
// rows are marked raised. Grants and limit changes are only made while
// the lease is held. A zero limit keeps the current one
func (c *Coordinator) grant(
	ctx context.Context, semID api.SemaphoreID, limit int,
) (*grantPass, error) {
	for attempt := range c.maxRetries {
		sem, err := c.claim(ctx, semID, limit)
		if errors.Is(err, errLeased) || errors.Is(err, store.ErrConflict) {
			conflictsTotal.Inc()
			if err := sleepBackoff(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		return c.grantClaimed(ctx, sem)
	}
	return nil, fmt.Errorf("%w: %s", ErrRetriesExhausted, semID)
}

func (c *Coordinator) claim(
	ctx context.Context, semID api.SemaphoreID, limit int,
) (*api.WorkflowSemaphore, error) {
	sem, err := c.store.Semaphores.Read(ctx, string(semID))
	if err != nil {
		return nil, err
	}
	now := c.clock()
	if sem.IsLeased(now) {
		return nil, errLeased
	}
	until := now.Add(c.lease)
	if limit > 0 && limit != sem.Limit {
		sem = sem.SetLimit(limit)
	}
	return c.store.Semaphores.Update(ctx, string(semID), sem.SetLease(&until))
}

func (c *Coordinator) grantClaimed(
	ctx context.Context, sem *api.WorkflowSemaphore,
) (*grantPass, error) {
	pass := &grantPass{sem: sem}
	err := c.markGrants(ctx, pass)

	holders := 0
	for _, row := range pass.rows {
		if row.Raised {
			holders++
		}
	}
	released, relErr := c.store.Semaphores.Update(ctx, string(sem.ID),
		sem.SetHolders(holders > 0, earliestExpiry(pass.rows)).SetLease(nil),
	)
	if err != nil {
		return nil, err
	}
	if relErr != nil {
		return nil, relErr
	}
	pass.sem = released
	return pass, nil
}

func (c *Coordinator) markGrants(ctx context.Context, pass *grantPass) error {
	rows, err := c.queue(ctx, pass.sem.ID)
	if err != nil {
		return err
	}

	now := c.clock()
	holders := 0
	for _, row := range rows {
		if row.IsExpired(now) {
			if err := c.expire(ctx, pass.sem, row); err != nil {
				return err
			}
			continue
		}
		if row.Raised {
			holders++
		}
		pass.rows = append(pass.rows, row)
	}

	free := pass.sem.Limit - holders
	defer func() {
		pass.rows = slices.DeleteFunc(pass.rows,
			func(r *api.WorkflowSemaphoreQueue) bool { return r == nil },
		)
	}()
	for i, row := range pass.rows {
		if free <= 0 {
			break
		}
		if row.Raised {
			continue
		}
		marked, err := c.store.SemaphoreQueues.Update(ctx, row.ID,
			row.SetRaised(now),
		)
		if errors.Is(err, store.ErrNotFound) {
			// lowered while the pass was running
			pass.rows[i] = nil
			continue
		}
		if err != nil {
			return err
		}
		pass.rows[i] = marked
		pass.granted = append(pass.granted, marked)
		free--
	}
	return nil
}

func (c *Coordinator) expire(
	ctx context.Context, sem *api.WorkflowSemaphore,
	row *api.WorkflowSemaphoreQueue,
) error {
	err := c.store.SemaphoreQueues.Delete(ctx, row.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	expiredTotal.Inc()
	slog.Info("Expired semaphore hold released",
		log.Resource(sem.ResourceIdentifier),
		log.WorkflowInstanceID(row.WorkflowInstanceID))
	return nil
}

func (c *Coordinator) notify(
	ctx context.Context, pass *grantPass, self api.WorkflowInstanceID,
) {
	for _, row := range pass.granted {
		if row.WorkflowInstanceID == self {
			continue
		}
		promotionsTotal.Inc()
		slog.Debug("Semaphore promoted queued instance",
			log.Resource(pass.sem.ResourceIdentifier),
			log.WorkflowInstanceID(row.WorkflowInstanceID))
		if c.onPromoted != nil {
			c.onPromoted(ctx, pass.sem, row.WorkflowInstanceID)
		}
	}
}

func (c *Coordinator) queue(
	ctx context.Context, semID api.SemaphoreID,
) ([]*api.WorkflowSemaphoreQueue, error) {
	return c.store.SemaphoreQueues.Search(ctx, store.Query{
		Partition: string(semID),
	})
}

func queueKey(
	semID api.SemaphoreID, instanceID api.WorkflowInstanceID,
) string {
	row := api.WorkflowSemaphoreQueue{
		WorkflowSemaphoreID: semID,
		WorkflowInstanceID:  instanceID,
	}
	return row.UniqueKey()
}

func earliestExpiry(rows []*api.WorkflowSemaphoreQueue) *time.Time {
	var res *time.Time
	for _, row := range rows {
		if !row.Raised || row.ExpiresAt == nil {
			continue
		}
		if res == nil || row.ExpiresAt.Before(*res) {
			exp := *row.ExpiresAt
			res = &exp
		}
	}
	return res
}

func sleepBackoff(ctx context.Context, attempt int) error {
	delay := time.Duration(attempt+1) * time.Millisecond
	if delay > maxBackoff {
		delay = maxBackoff
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
