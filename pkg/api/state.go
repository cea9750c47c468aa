package api

type (
	// WorkflowState represents the current state of a workflow instance
	WorkflowState string

	// ActivityState represents the current state of an activity instance
	ActivityState string

	// ActivityType is the closed set of activity kinds
	ActivityType string

	// ExceptionCategory classifies why an activity failed
	ExceptionCategory string

	// FailUrgency determines how an activity failure affects its workflow
	FailUrgency string

	// LogSeverity is the severity of a persisted workflow log entry
	LogSeverity int
)

const (
	WorkflowExecuting WorkflowState = "executing"
	WorkflowWaiting   WorkflowState = "waiting"
	WorkflowHalting   WorkflowState = "halting"
	WorkflowHalted    WorkflowState = "halted"
	WorkflowSuccess   WorkflowState = "success"
	WorkflowFailed    WorkflowState = "failed"
)

const (
	ActivityExecuting ActivityState = "executing"
	ActivityWaiting   ActivityState = "waiting"
	ActivitySuccess   ActivityState = "success"
	ActivityFailed    ActivityState = "failed"
)

const (
	ActivityTypeAction            ActivityType = "action"
	ActivityTypeCondition         ActivityType = "condition"
	ActivityTypeLoopUntil         ActivityType = "loop_until"
	ActivityTypeWhileDo           ActivityType = "while_do"
	ActivityTypeForEachSequential ActivityType = "foreach_sequential"
	ActivityTypeForEachParallel   ActivityType = "foreach_parallel"
	ActivityTypeLock              ActivityType = "lock"
	ActivityTypeThrottle          ActivityType = "throttle"
)

const (
	CategoryTechnical              ExceptionCategory = "technical"
	CategoryWorkflowCapability     ExceptionCategory = "workflow_capability"
	CategoryWorkflowImplementation ExceptionCategory = "workflow_implementation"
	CategoryBusiness               ExceptionCategory = "business"
	CategoryMaxTimeReached         ExceptionCategory = "max_time_reached"
)

const (
	FailUrgencyCancelWorkflow FailUrgency = "cancel_workflow"
	FailUrgencyStopping       FailUrgency = "stopping"
	FailUrgencyHandleLater    FailUrgency = "handle_later"
	FailUrgencyIgnore         FailUrgency = "ignore"
)

const (
	LogVerbose LogSeverity = iota
	LogDebug
	LogInformation
	LogWarning
	LogError
	LogCritical
)

var logSeverityNames = map[LogSeverity]string{
	LogVerbose:     "verbose",
	LogDebug:       "debug",
	LogInformation: "information",
	LogWarning:     "warning",
	LogError:       "error",
	LogCritical:    "critical",
}

// IsTerminal returns true for states a workflow instance never leaves
func (s WorkflowState) IsTerminal() bool {
	return s == WorkflowSuccess || s == WorkflowFailed
}

// HasCompleted returns true when the activity has a recorded outcome
func (s ActivityState) HasCompleted() bool {
	return s == ActivitySuccess || s == ActivityFailed
}

// IsLooping returns true for kinds that assign iterations to their children
func (t ActivityType) IsLooping() bool {
	switch t {
	case ActivityTypeLoopUntil, ActivityTypeWhileDo,
		ActivityTypeForEachSequential, ActivityTypeForEachParallel:
		return true
	default:
		return false
	}
}

// IsValid returns true for the known activity kinds
func (t ActivityType) IsValid() bool {
	switch t {
	case ActivityTypeAction, ActivityTypeCondition, ActivityTypeLoopUntil,
		ActivityTypeWhileDo, ActivityTypeForEachSequential,
		ActivityTypeForEachParallel, ActivityTypeLock, ActivityTypeThrottle:
		return true
	default:
		return false
	}
}

// IsValid returns true for the known fail urgencies
func (u FailUrgency) IsValid() bool {
	switch u {
	case FailUrgencyCancelWorkflow, FailUrgencyStopping,
		FailUrgencyHandleLater, FailUrgencyIgnore:
		return true
	default:
		return false
	}
}

// String returns the lowercase name of the severity
func (s LogSeverity) String() string {
	if name, ok := logSeverityNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseLogSeverity resolves a severity name, falling back to information
func ParseLogSeverity(name string) LogSeverity {
	for sev, n := range logSeverityNames {
		if n == name {
			return sev
		}
	}
	return LogInformation
}
