package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
)

const (
	serviceName    = "workflow-engine"
	serviceVersion = "1.0.0"
	statusHealthy  = "healthy"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, api.HealthResponse{
		Service: serviceName,
		Version: serviceVersion,
		Status:  statusHealthy,
	})
}
