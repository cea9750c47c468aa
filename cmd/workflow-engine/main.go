package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	app "github.com/nexus-link/Nexus.Link.Sdks-sub002"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/archive"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/client"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/config"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/engine"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/events"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/server"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/store"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/transport"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/log"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/util/call"
)

type workflowEngine struct {
	cfg        *config.Config
	backend    store.Backend
	archive    *archive.BlobArchiver
	broker     *transport.LocalBroker
	engine     *engine.Engine
	projection *events.Projection
	apiServer  *server.Server
	httpServer *http.Server
	cancel     context.CancelFunc
	quit       chan os.Signal
}

var (
	ErrOpenStore   = errors.New("failed to open store")
	ErrOpenArchive = errors.New("failed to open archive")
)

func main() {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	s := &workflowEngine{
		cfg:  cfg,
		quit: make(chan os.Signal, 1),
	}
	s.setupLogging()

	if err := s.run(); err != nil {
		slog.Error("Failed to start application", log.Error(err))
		os.Exit(1)
	}
}

func (s *workflowEngine) run() error {
	if err := s.initializeStores(); err != nil {
		return err
	}

	if err := s.initializeEngine(); err != nil {
		s.closeStores()
		return err
	}
	s.startServer()

	signal.Notify(s.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.quit)
	<-s.quit

	s.shutdown()
	return nil
}

func (s *workflowEngine) setupLogging() {
	level := log.ParseLevel(s.cfg.LogLevel)

	env := os.Getenv("ENV")
	logger := log.NewWithLevel(app.Name, env, app.Version, level)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)

	slog.Info("Workflow engine starting",
		slog.String("log_level", s.cfg.LogLevel))

	slog.Info("Configuration loaded",
		slog.String("store_type", s.cfg.Store.Type),
		slog.String("archive_bucket", s.cfg.Archive.BucketURL),
		slog.String("reentry_backoff", s.cfg.Reentry.BackoffType),
		slog.String("default_fail_urgency", string(s.cfg.DefaultFailUrgency)),
		slog.String("api_host", s.cfg.APIHost),
		slog.Int("api_port", s.cfg.APIPort))
}

func (s *workflowEngine) initializeStores() error {
	var err error

	s.backend, err = store.Open(s.cfg.Store)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenStore, err)
	}

	if s.cfg.Archive.BucketURL == "" {
		return nil
	}
	s.archive, err = archive.NewBlobArchiver(context.Background(),
		s.cfg.Archive.BucketURL, s.cfg.Archive.Prefix,
	)
	if err != nil {
		_ = s.backend.Close()
		return fmt.Errorf("%w: %w", ErrOpenArchive, err)
	}
	return nil
}

func (s *workflowEngine) initializeEngine() error {
	httpClient := client.NewHTTPClient(s.cfg.RequestTimeout,
		client.WithCallbackURL(s.cfg.CallbackURL),
	)
	s.broker = transport.NewLocalBroker(
		transport.WithHandler(httpClient.Perform),
	)

	deps := engine.Dependencies{
		Store:     store.New(s.backend, nil),
		Transport: s.broker,
	}
	if s.archive != nil {
		deps.Archive = s.archive
	}
	if s.cfg.AlertWebhookURL != "" {
		deps.AlertHandler = client.NewAlertPoster(
			httpClient, s.cfg.AlertWebhookURL,
		)
	}

	eng, err := engine.New(s.cfg, deps)
	if err != nil {
		return err
	}
	s.engine = eng
	s.broker.SetOnComplete(eng.RequestCompleted)

	if err := eng.Register(orderDefinition(orderEndpoints{
		Inventory: envOr("ORDER_INVENTORY_URL", "http://localhost:9001/reserve"),
		Payment:   envOr("ORDER_PAYMENT_URL", "http://localhost:9002/charge"),
		Notify:    envOr("ORDER_NOTIFY_URL", "http://localhost:9003/notify"),
	})); err != nil {
		return err
	}

	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	s.projection = events.NewProjection()
	s.projection.Follow(ctx, eng.Events())

	if err := eng.Start(); err != nil {
		s.cancel()
		return err
	}
	s.broker.Start()
	return nil
}

func (s *workflowEngine) startServer() {
	s.apiServer = server.NewServer(s.engine, s.broker, s.projection)
	mux := s.apiServer.SetupRoutes()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort),
		Handler: mux,
	}

	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", s.httpServer.Addr))
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", log.Error(err))
		}
	}()
}

func (s *workflowEngine) shutdown() {
	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(
		context.Background(), s.cfg.ShutdownTimeout,
	)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", log.Error(err))
	}

	s.apiServer.CloseWebSockets()
	s.broker.Stop()

	if err := s.engine.Stop(); err != nil {
		slog.Error("Engine shutdown failed", log.Error(err))
	}
	s.cancel()
	s.closeStores()

	slog.Info("Server exited")
}

func (s *workflowEngine) closeStores() {
	err := call.All(
		call.Optional(s.archive != nil, func() error {
			return s.archive.Close()
		}),
		s.backend.Close,
	)
	if err != nil {
		slog.Error("Store close failed", log.Error(err))
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
