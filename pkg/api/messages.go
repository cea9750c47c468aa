package api

import "encoding/json"

type (
	// StartWorkflowRequest contains parameters for starting a workflow
	StartWorkflowRequest struct {
		Input json.RawMessage `json:"input,omitempty"`
		Title string          `json:"title,omitempty"`
	}

	// ReentryRequest resumes a postponed workflow instance
	ReentryRequest struct {
		Authentication string `json:"authentication"`
	}

	// WorkflowResponse reports the outcome of one workflow entry
	WorkflowResponse struct {
		InstanceID WorkflowInstanceID `json:"instance_id"`
		State      WorkflowState      `json:"state"`
		Result     json.RawMessage    `json:"result,omitempty"`
		Error      string             `json:"error,omitempty"`
	}

	// PostponedResponse tells the caller to come back later
	PostponedResponse struct {
		InstanceID     WorkflowInstanceID `json:"instance_id"`
		State          WorkflowState      `json:"state"`
		WaitingFor     []RequestID        `json:"waiting_for,omitempty"`
		TryAgain       bool               `json:"try_again"`
		Authentication string             `json:"authentication"`
	}

	// HealthResponse provides service health information
	HealthResponse struct {
		Service string `json:"service"`
		Version string `json:"version"`
		Status  string `json:"status"`
	}

	// MessageResponse contains a simple message string
	MessageResponse struct {
		Message string `json:"message"`
	}

	// ErrorResponse contains error details for failed requests
	ErrorResponse struct {
		Error  string `json:"error"`
		Status int    `json:"status,omitempty"`
	}
)
