package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/config"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/events"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/scheduler"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/semaphore"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/store"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/transport"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/util"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/util/call"
)

type (
	// Engine runs registered workflows against persisted state. Every entry
	// re-walks the workflow from its root and replays completed activities
	Engine struct {
		config      *config.Config
		store       *store.Store
		transport   transport.Transport
		coordinator *semaphore.Coordinator
		alerts      AlertHandler
		archive     Archiver
		hub         *events.Hub
		scheduler   *scheduler.Scheduler
		clock       Clock
		ctx         context.Context
		cancel      context.CancelFunc
		definitions map[api.WorkflowFormID]*WorkflowDefinition
		versions    *util.LRUCache[*registration]
		activities  *util.LRUCache[*activityRegistration]
		locks       *instanceLocks
		attempts    map[api.WorkflowInstanceID]int
		defsMu      sync.RWMutex
		attemptsMu  sync.Mutex
		wg          sync.WaitGroup
	}

	// Dependencies are the collaborators an Engine is built from. Store and
	// Transport are required
	Dependencies struct {
		Store            *store.Store
		Transport        transport.Transport
		AlertHandler     AlertHandler
		Archive          Archiver
		Clock            Clock
		TimerConstructor scheduler.TimerConstructor
	}

	// Archiver receives the frozen record of every finished instance
	Archiver interface {
		Put(ctx context.Context, rec *api.WorkflowArchive) error
	}

	// Clock provides the current time for records, deadlines, and reentry
	Clock func() time.Time
)

var (
	ErrMissingDependency     = errors.New("missing engine dependency")
	ErrInvalidConfig         = errors.New("invalid engine config")
	ErrWorkflowNotRegistered = errors.New("workflow not registered")
	ErrWorkflowExists        = errors.New("workflow already registered")
	ErrInvalidDefinition     = errors.New("invalid workflow definition")
	ErrInstanceNotFound      = errors.New("workflow instance not found")
	ErrReentryDenied         = errors.New("reentry authentication rejected")
	ErrShutdownTimeout       = errors.New("shutdown timeout exceeded")
	ErrActivityNotFailed     = errors.New("activity has not failed")
)

// New creates an engine from its configuration and dependencies
func New(cfg *config.Config, deps Dependencies) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("%w: store", ErrMissingDependency)
	}
	if deps.Transport == nil {
		return nil, fmt.Errorf("%w: transport", ErrMissingDependency)
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		config:      cfg,
		store:       deps.Store,
		transport:   deps.Transport,
		alerts:      deps.AlertHandler,
		archive:     deps.Archive,
		hub:         events.NewHub(),
		clock:       deps.Clock,
		ctx:         ctx,
		cancel:      cancel,
		definitions: map[api.WorkflowFormID]*WorkflowDefinition{},
		versions: util.NewLRUCache[*registration](
			cfg.RegistryCacheSize,
		),
		activities: util.NewLRUCache[*activityRegistration](
			cfg.RegistryCacheSize,
		),
		locks:    newInstanceLocks(),
		attempts: map[api.WorkflowInstanceID]int{},
	}
	e.scheduler = scheduler.New(
		scheduler.Clock(deps.Clock), deps.TimerConstructor,
	)
	e.coordinator = semaphore.New(deps.Store,
		semaphore.WithClock(semaphore.Clock(deps.Clock)),
		semaphore.WithPromoted(e.handlePromoted),
	)
	return e, nil
}

// Start begins running scheduled reentries and recovers the instances
// left unfinished by a previous process
func (e *Engine) Start() error {
	slog.Info("Engine starting")
	e.wg.Go(func() {
		e.scheduler.Run(e.ctx)
	})
	return e.RecoverWorkflows(e.ctx)
}

// Stop cancels scheduled reentries, waits for the scheduler to exit and
// closes the event hub. The hub is closed even when the wait times out
func (e *Engine) Stop() error {
	e.cancel()
	err := call.All(
		call.WithArg(e.awaitTasks, e.config.ShutdownTimeout),
		e.hub.Close,
	)
	if err != nil {
		return err
	}
	slog.Info("Engine stopped")
	return nil
}

func (e *Engine) awaitTasks(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}

// Now returns the current time from the engine's clock
func (e *Engine) Now() time.Time {
	return e.clock()
}

// Events returns the hub carrying engine events
func (e *Engine) Events() *events.Hub {
	return e.hub
}

func (e *Engine) publish(typ api.EventType, data any) {
	events.Raise(e.hub, typ, data, e.Now())
}

// Store returns the persistence gateway
func (e *Engine) Store() *store.Store {
	return e.store
}

// Coordinator returns the lock and throttle coordinator
func (e *Engine) Coordinator() *semaphore.Coordinator {
	return e.coordinator
}
