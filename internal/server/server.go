package server

import (
	"log/slog"
	"net/http"
	"sync"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/engine"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/events"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/transport"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/util"
)

// Server implements the HTTP API server for the workflow engine
type Server struct {
	engine     *engine.Engine
	broker     *transport.LocalBroker
	projection *events.Projection
	sockets    util.Set[*Client]
	mu         sync.Mutex
}

// NewServer creates a new HTTP API server. The broker receives async
// responses posted to the request endpoint and may be nil when requests
// are completed elsewhere
func NewServer(
	eng *engine.Engine, broker *transport.LocalBroker, proj *events.Projection,
) *Server {
	return &Server{
		engine:     eng,
		broker:     broker,
		projection: proj,
		sockets:    util.Set[*Client]{},
	}
}

// SetupRoutes configures and returns the HTTP router with all API endpoints
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return slog.Default()
		}),
	))

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set(
			"Access-Control-Allow-Methods",
			"GET, POST, PUT, DELETE, OPTIONS",
		)
		c.Writer.Header().Set(
			"Access-Control-Allow-Headers",
			"Content-Type, Authorization",
		)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	eng := router.Group("/engine")
	{
		eng.GET("", s.handleEngine)
		eng.GET("/", s.handleEngine)

		// Workflow endpoints
		eng.GET("/workflow", s.listWorkflows)
		eng.POST("/workflow/:formID", s.startWorkflow)

		// Instance endpoints
		eng.GET("/instance/:instanceID", s.getInstance)
		eng.POST("/instance/:instanceID/reentry", s.reenterInstance)

		// Activity endpoints
		eng.POST("/activity/:activityID/retry", s.retryActivity)

		// Async request completion
		eng.POST("/request/:requestID", s.completeRequest)

		// WebSocket
		eng.GET("/ws", s.handleWebSocket)
	}

	return router
}

func (s *Server) handleEngine(c *gin.Context) {
	c.JSON(http.StatusOK, s.projection.State())
}

func (s *Server) registerWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Add(c)
}

func (s *Server) unregisterWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Remove(c)
}

// CloseWebSockets closes all active WebSocket connections
func (s *Server) CloseWebSockets() {
	s.mu.Lock()
	conns := make([]*Client, 0, len(s.sockets))
	for c := range s.sockets {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
