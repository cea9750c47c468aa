package engine

import (
	"context"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
)

// Condition runs a boolean activity. Its recorded value is what the
// workflow branches on in every later entry
func Condition(
	ctx context.Context, a *Activity, method Method[bool],
	def DefaultFunc[bool],
) (bool, error) {
	return executeKind(ctx, a, api.ActivityTypeCondition, method, def)
}
