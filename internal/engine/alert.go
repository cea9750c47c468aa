package engine

import (
	"context"
	"log/slog"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/log"
)

type (
	// AlertHandler is told about recorded activity failures. It reports
	// whether the host took care of the failure
	AlertHandler interface {
		HandleActivityExceptionAlert(
			ctx context.Context, alert *api.ActivityExceptionAlert,
		) (bool, error)
	}

	// AlertHandlerFunc adapts a function to AlertHandler
	AlertHandlerFunc func(
		ctx context.Context, alert *api.ActivityExceptionAlert,
	) (bool, error)
)

// HandleActivityExceptionAlert calls f
func (f AlertHandlerFunc) HandleActivityExceptionAlert(
	ctx context.Context, alert *api.ActivityExceptionAlert,
) (bool, error) {
	return f(ctx, alert)
}

// alert delivers the failure of the activity to the alert handler once.
// A delivery error leaves the activity unmarked so a later entry retries
func (a *Activity) alert(ctx context.Context) {
	e := a.run.engine
	inst := a.instance
	if e.alerts == nil || inst.State != api.ActivityFailed ||
		inst.AlertDelivered() {
		return
	}

	failure := failedFrom(inst)
	handled, err := e.alerts.HandleActivityExceptionAlert(ctx,
		&api.ActivityExceptionAlert{
			WorkflowFormID:     a.run.reg.form.ID,
			WorkflowInstanceID: inst.WorkflowInstanceID,
			ActivityInstanceID: inst.ID,
			ActivityFormID:     a.formID,
			Position:           inst.AbsolutePosition,
			Category:           failure.Category,
			TechnicalMessage:   failure.TechnicalMessage,
			FriendlyMessage:    failure.FriendlyMessage,
		},
	)
	if err != nil {
		alertsDelivered.WithLabelValues("error").Inc()
		slog.Warn("Exception alert delivery failed",
			log.ActivityInstanceID(inst.ID),
			log.Error(err))
		return
	}
	if err := a.persist(ctx, inst.SetAlertHandled(handled)); err != nil {
		slog.Warn("Failed to record alert delivery",
			log.ActivityInstanceID(inst.ID),
			log.Error(err))
		return
	}
	if handled {
		alertsDelivered.WithLabelValues("handled").Inc()
	} else {
		alertsDelivered.WithLabelValues("unhandled").Inc()
	}
}
