package server

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/engine"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/store"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/log"
)

func (s *Server) listWorkflows(c *gin.Context) {
	ids := s.engine.Definitions()
	slices.Sort(ids)
	c.JSON(http.StatusOK, gin.H{
		"workflows": ids,
		"count":     len(ids),
	})
}

func (s *Server) startWorkflow(c *gin.Context) {
	formID := api.WorkflowFormID(c.Param("formID"))

	var req api.StartWorkflowRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, api.ErrorResponse{
				Error:  "Invalid JSON: " + err.Error(),
				Status: http.StatusBadRequest,
			})
			return
		}
	}

	inst, err := s.engine.StartWorkflow(c.Request.Context(), formID, req)
	s.respondEntry(c, inst, err)
}

func (s *Server) reenterInstance(c *gin.Context) {
	id := api.WorkflowInstanceID(c.Param("instanceID"))

	var req api.ReentryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  "Invalid JSON: " + err.Error(),
			Status: http.StatusBadRequest,
		})
		return
	}

	inst, err := s.engine.Reentry(c.Request.Context(), id, req.Authentication)
	s.respondEntry(c, inst, err)
}

func (s *Server) getInstance(c *gin.Context) {
	id := api.WorkflowInstanceID(c.Param("instanceID"))
	sum, err := s.engine.GetSummary(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) retryActivity(c *gin.Context) {
	id := api.ActivityInstanceID(c.Param("activityID"))
	inst, err := s.engine.RetryActivity(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

// respondEntry maps the outcome of one workflow entry onto a response.
// Finished instances answer 200 whether they succeeded or failed, and a
// postponement answers 202 with what the caller needs to come back
func (s *Server) respondEntry(
	c *gin.Context, inst *api.WorkflowInstance, err error,
) {
	if p, ok := engine.AsPostponed(err); ok && inst != nil {
		res := api.PostponedResponse{
			InstanceID:     inst.ID,
			State:          inst.State,
			WaitingFor:     p.WaitingForRequestIDs,
			TryAgain:       p.TryAgain,
			Authentication: inst.ReentryAuthentication,
		}
		if p.Reentry != nil {
			res.Authentication = p.Reentry.Authentication
		}
		c.JSON(http.StatusAccepted, res)
		return
	}

	var wf *engine.WorkflowFailedError
	_, cancelled := engine.AsCancelled(err)
	switch {
	case err == nil && inst != nil:
		c.JSON(http.StatusOK, api.WorkflowResponse{
			InstanceID: inst.ID,
			State:      inst.State,
			Result:     inst.ResultAsJson,
		})
	case inst != nil && (cancelled || errors.As(err, &wf)):
		c.JSON(http.StatusOK, api.WorkflowResponse{
			InstanceID: inst.ID,
			State:      api.WorkflowFailed,
			Error:      inst.ExceptionFriendlyMessage,
		})
	default:
		s.respondError(c, err)
	}
}

func (s *Server) respondError(c *gin.Context, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("Request failed",
			slog.String("path", c.FullPath()),
			log.Error(err))
	}
	c.JSON(status, api.ErrorResponse{
		Error:  err.Error(),
		Status: status,
	})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrWorkflowNotRegistered),
		errors.Is(err, engine.ErrInstanceNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrReentryDenied):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrActivityNotFailed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
