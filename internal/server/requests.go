package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/transport"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
)

// completeRequest accepts the final response of an async request and
// resumes the instance waiting for it
func (s *Server) completeRequest(c *gin.Context) {
	if s.broker == nil {
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  "async requests are not handled here",
			Status: http.StatusNotFound,
		})
		return
	}

	var resp api.AsyncResponse
	if err := c.ShouldBindJSON(&resp); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  "Invalid JSON: " + err.Error(),
			Status: http.StatusBadRequest,
		})
		return
	}
	resp.RequestID = api.RequestID(c.Param("requestID"))

	err := s.broker.Complete(c.Request.Context(), &resp)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, api.MessageResponse{
			Message: "Request completed",
		})
	case errors.Is(err, transport.ErrUnknownRequest):
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusNotFound,
		})
	case errors.Is(err, transport.ErrAlreadyCompleted):
		c.JSON(http.StatusConflict, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusConflict,
		})
	default:
		s.respondError(c, err)
	}
}
