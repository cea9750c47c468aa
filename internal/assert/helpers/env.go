package helpers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/config"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/engine"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/store"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/transport"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
)

type (
	// TestEngineEnv holds all the components needed for engine testing
	TestEngineEnv struct {
		Engine  *engine.Engine
		Store   *store.Store
		Broker  *transport.LocalBroker
		Redis   *miniredis.Miniredis
		Alerts  *AlertRecorder
		Archive *ArchiveRecorder
		Config  *config.Config
		Cleanup func()
	}

	// EnvOption adjusts the test environment before the engine is built
	EnvOption func(*envOptions)

	// AlertRecorder is an alert handler that remembers every alert
	AlertRecorder struct {
		alerts  []*api.ActivityExceptionAlert
		handled bool
		err     error
		mu      sync.Mutex
	}

	// ArchiveRecorder keeps archived instances in memory
	ArchiveRecorder struct {
		records map[api.WorkflowInstanceID]*api.WorkflowArchive
		mu      sync.Mutex
	}

	envOptions struct {
		backend store.Backend
		handler transport.Handler
		clock   engine.Clock
		config  func(*config.Config)
	}
)

// NewTestConfig creates a default configuration with debug logging enabled
// and reentry backoff short enough for tests
func NewTestConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.LogLevel = "debug"
	cfg.WorkflowLogLevel = api.LogVerbose
	cfg.Reentry.InitBackoff = 10
	cfg.Reentry.MaxBackoff = 50
	cfg.Reentry.BackoffType = config.BackoffTypeFixed
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

// WithMemoryStore backs the environment with the in-memory store instead
// of miniredis
func WithMemoryStore() EnvOption {
	return func(o *envOptions) {
		o.backend = store.NewMemoryBackend()
	}
}

// WithBackend backs the environment with b, so several engines can share
// persisted state
func WithBackend(b store.Backend) EnvOption {
	return func(o *envOptions) {
		o.backend = b
	}
}

// WithRequestHandler makes the broker work requests with h
func WithRequestHandler(h transport.Handler) EnvOption {
	return func(o *envOptions) {
		o.handler = h
	}
}

// WithClock replaces the engine clock
func WithClock(clock engine.Clock) EnvOption {
	return func(o *envOptions) {
		o.clock = clock
	}
}

// WithConfig adjusts the test configuration
func WithConfig(fn func(*config.Config)) EnvOption {
	return func(o *envOptions) {
		o.config = fn
	}
}

// NewTestEngine creates a fully configured test engine environment with a
// miniredis-backed store, a local broker, and recording alert and archive
// hooks. The engine is not started
func NewTestEngine(t *testing.T, opts ...EnvOption) *TestEngineEnv {
	t.Helper()

	var o envOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg := NewTestConfig()
	if o.config != nil {
		o.config(cfg)
	}

	var server *miniredis.Miniredis
	backend := o.backend
	if backend == nil {
		var err error
		server, err = miniredis.Run()
		assert.NoError(t, err)
		client := redis.NewClient(&redis.Options{Addr: server.Addr()})
		backend = store.NewRedisBackend(client, "test-engine")
	}

	clock := o.clock
	if clock == nil {
		clock = time.Now
	}
	st := store.New(backend, store.Clock(clock))

	var brokerOpts []transport.BrokerOption
	if o.handler != nil {
		brokerOpts = append(brokerOpts, transport.WithHandler(o.handler))
	}
	broker := transport.NewLocalBroker(brokerOpts...)

	alerts := &AlertRecorder{}
	archive := &ArchiveRecorder{
		records: map[api.WorkflowInstanceID]*api.WorkflowArchive{},
	}

	eng, err := engine.New(cfg, engine.Dependencies{
		Store:        st,
		Transport:    broker,
		AlertHandler: alerts,
		Archive:      archive,
		Clock:        clock,
	})
	assert.NoError(t, err)
	broker.SetOnComplete(eng.RequestCompleted)

	cleanup := func() {
		broker.Stop()
		_ = eng.Stop()
		_ = st.Close()
		if server != nil {
			server.Close()
		}
	}

	return &TestEngineEnv{
		Engine:  eng,
		Store:   st,
		Broker:  broker,
		Redis:   server,
		Alerts:  alerts,
		Archive: archive,
		Config:  cfg,
		Cleanup: cleanup,
	}
}

// WithTestEnv runs fn against a fresh environment and cleans up after
func WithTestEnv(t *testing.T, fn func(*TestEngineEnv), opts ...EnvOption) {
	t.Helper()
	env := NewTestEngine(t, opts...)
	defer env.Cleanup()
	fn(env)
}

// WithStartedEngine runs fn against a fresh environment whose engine and
// broker are running
func WithStartedEngine(
	t *testing.T, fn func(*TestEngineEnv), opts ...EnvOption,
) {
	t.Helper()
	WithTestEnv(t, func(env *TestEngineEnv) {
		assert.NoError(t, env.Engine.Start())
		env.Broker.Start()
		fn(env)
	}, opts...)
}

// Register registers a workflow definition at version 1.0
func (env *TestEngineEnv) Register(
	t *testing.T, formID api.WorkflowFormID, run engine.WorkflowFunc,
) {
	t.Helper()
	assert.NoError(t, env.Engine.Register(&engine.WorkflowDefinition{
		FormID:       formID,
		Title:        string(formID),
		MajorVersion: 1,
		Run:          run,
	}))
}

// Activities returns the persisted activity instances of a workflow
// instance keyed by position title
func (env *TestEngineEnv) Activities(
	t *testing.T, id api.WorkflowInstanceID,
) map[string]*api.ActivityInstance {
	t.Helper()
	all, err := env.Store.ActivityInstances.Search(
		context.Background(), store.Query{Partition: string(id)},
	)
	assert.NoError(t, err)
	res := make(map[string]*api.ActivityInstance, len(all))
	for _, inst := range all {
		res[inst.AbsolutePosition] = inst
	}
	return res
}

// Instance reads the persisted workflow instance
func (env *TestEngineEnv) Instance(
	t *testing.T, id api.WorkflowInstanceID,
) *api.WorkflowInstance {
	t.Helper()
	inst, err := env.Engine.GetInstance(context.Background(), id)
	assert.NoError(t, err)
	return inst
}

// Handled makes the recorder acknowledge every alert
func (r *AlertRecorder) Handled(handled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handled = handled
}

// Fail makes the recorder reject alerts with err until called with nil
func (r *AlertRecorder) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// HandleActivityExceptionAlert records the alert
func (r *AlertRecorder) HandleActivityExceptionAlert(
	_ context.Context, alert *api.ActivityExceptionAlert,
) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	r.alerts = append(r.alerts, alert)
	return r.handled, nil
}

// Alerts returns the recorded alerts
func (r *AlertRecorder) Alerts() []*api.ActivityExceptionAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*api.ActivityExceptionAlert(nil), r.alerts...)
}

// Put records the archive
func (r *ArchiveRecorder) Put(
	_ context.Context, rec *api.WorkflowArchive,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.Instance.ID] = rec
	return nil
}

// Get returns the archive of an instance, if any
func (r *ArchiveRecorder) Get(
	id api.WorkflowInstanceID,
) (*api.WorkflowArchive, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.records[id]
	return res, ok
}
