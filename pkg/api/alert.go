package api

// ActivityExceptionAlert describes a recorded activity failure for a host
// that wants to be told about it
type ActivityExceptionAlert struct {
	WorkflowFormID     WorkflowFormID     `json:"workflow_form_id"`
	WorkflowInstanceID WorkflowInstanceID `json:"workflow_instance_id"`
	ActivityInstanceID ActivityInstanceID `json:"activity_instance_id"`
	ActivityFormID     ActivityFormID     `json:"activity_form_id"`
	Position           string             `json:"position"`
	Category           ExceptionCategory  `json:"category"`
	TechnicalMessage   string             `json:"technical_message"`
	FriendlyMessage    string             `json:"friendly_message"`
}
