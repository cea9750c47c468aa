package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/store"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/log"
)

// recoverableStates are the workflow states an instance can be left in
// when the process that entered it goes away
var recoverableStates = []api.WorkflowState{
	api.WorkflowExecuting,
	api.WorkflowWaiting,
	api.WorkflowHalting,
	api.WorkflowHalted,
}

var ErrRecoverWorkflows = errors.New("failed to recover workflows")

// RecoverWorkflows schedules a reentry of every unfinished instance found
// in the store. Scheduled reentries and semaphore promotions live in
// memory only, so they are rebuilt from persisted state
func (e *Engine) RecoverWorkflows(ctx context.Context) error {
	var ids []api.WorkflowInstanceID
	for _, state := range recoverableStates {
		found, err := e.store.WorkflowInstances.Search(ctx, store.Query{
			Filters: map[string]string{"state": string(state)},
		})
		if err != nil {
			return fmt.Errorf("%w: %w", ErrRecoverWorkflows, err)
		}
		for _, inst := range found {
			ids = append(ids, inst.ID)
		}
	}

	if len(ids) == 0 {
		slog.Info("No workflows to recover")
		return nil
	}

	slog.Info("Recovering workflows", slog.Int("count", len(ids)))
	for _, id := range ids {
		slog.Debug("Recovering workflow", log.WorkflowInstanceID(id))
		e.Resume(id)
	}
	return nil
}
