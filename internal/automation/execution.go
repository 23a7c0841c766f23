package automation

import (
	"context"

	"github.com/credops/credops/internal/errors"
	"github.com/credops/credops/internal/model"
	"github.com/credops/credops/internal/reconcile"
)

// ExecutionManager is the dispatch facade the scheduler calls. It maps the
// execution's automation-type tag to a concrete manager from a fixed table;
// unknown tags fail fast as configuration errors rather than silently
// no-opping.
type ExecutionManager struct {
	factories map[model.AutomationType]func() Manager
}

// NewExecutionManager wires the five managers. Managers hold per-run state,
// so each dispatch constructs a fresh instance.
func NewExecutionManager(deps Deps, engine *reconcile.Engine) *ExecutionManager {
	return &ExecutionManager{
		factories: map[model.AutomationType]func() Manager{
			model.AutomationChangeSecret: func() Manager { return NewChangeSecretManager(deps) },
			model.AutomationPush:         func() Manager { return NewPushSecretManager(deps) },
			model.AutomationVerify:       func() Manager { return NewVerifyManager(deps) },
			model.AutomationRemove:       func() Manager { return NewRemoveManager(deps) },
			model.AutomationGather:       func() Manager { return NewGatherManager(deps, engine) },
		},
	}
}

// Run dispatches one execution to its manager.
func (m *ExecutionManager) Run(ctx context.Context, execution *model.AutomationExecution) error {
	factory, ok := m.factories[execution.Type]
	if !ok {
		return errors.ConfigError{
			Field:   "type",
			Value:   string(execution.Type),
			Message: "unknown automation type",
		}
	}
	return factory().Run(ctx, execution)
}

// Supported lists the automation types the dispatch table knows.
func (m *ExecutionManager) Supported() []model.AutomationType {
	return []model.AutomationType{
		model.AutomationChangeSecret,
		model.AutomationPush,
		model.AutomationVerify,
		model.AutomationRemove,
		model.AutomationGather,
	}
}
