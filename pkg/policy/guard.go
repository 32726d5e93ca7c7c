package policy

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dotsetup/dotsetup/pkg/engine"
)

var _ engine.Resolver = (*Guard)(nil)

// Guard is an engine.Resolver that checks the commands of each task against
// the policy engine before handing them to the orchestrator. A blocked task
// resolves to an error, which fails that step only.
type Guard struct {
	resolver engine.Resolver
	engine   *Engine
	logger   zerolog.Logger
	ctx      context.Context
}

// NewGuard wraps resolver. ctx bounds policy evaluation.
func NewGuard(ctx context.Context, resolver engine.Resolver, eng *Engine, logger zerolog.Logger) *Guard {
	return &Guard{
		resolver: resolver,
		engine:   eng,
		logger:   logger.With().Str("component", "policy-guard").Logger(),
		ctx:      ctx,
	}
}

// Resolve resolves task and evaluates its commands. Warnings are logged.
func (g *Guard) Resolve(task engine.Task) ([]engine.Command, error) {
	commands, err := g.resolver.Resolve(task)
	if err != nil || len(commands) == 0 {
		return commands, err
	}

	result, err := g.engine.EvaluateTask(g.ctx, task, commands, OperationRun)
	if err != nil {
		return nil, err
	}
	for _, w := range result.Warnings {
		g.logger.Warn().
			Str("task", task.ID).
			Str("policy", w.Policy).
			Msg(w.Message)
	}
	if err := result.Err(); err != nil {
		g.logger.Error().Err(err).Str("task", task.ID).Msg("Task blocked by policy")
		return nil, err
	}
	return commands, nil
}
