package automation

import (
	"context"
	"fmt"
	"sync"

	"github.com/credops/credops/internal/inventory"
	"github.com/credops/credops/internal/model"
	"github.com/credops/credops/internal/reconcile"
	"github.com/credops/credops/pkg/catalog"
	"github.com/credops/credops/pkg/runner"
)

// GatherManager dispatches a read-only account enumeration per asset, parses
// the raw output with the platform family's filter and feeds the
// observations to the reconciliation engine.
type GatherManager struct {
	base

	engine *reconcile.Engine

	runMu sync.Mutex
	run   *reconcile.Run
}

func NewGatherManager(deps Deps, engine *reconcile.Engine) *GatherManager {
	return &GatherManager{base: base{deps: deps}, engine: engine}
}

func (m *GatherManager) Run(ctx context.Context, execution *model.AutomationExecution) error {
	if err := m.begin(ctx, execution); err != nil {
		return m.failBeforeDispatch(ctx, execution, err)
	}

	hosts, err := m.buildInventory(ctx, model.AutomationGather)
	if err != nil {
		return m.failBeforeDispatch(ctx, execution, err)
	}

	run, err := m.engine.Begin(ctx, m.policy.OrgID, m.policy.AssetIDs, m.policy.AutoSync)
	if err != nil {
		return m.failBeforeDispatch(ctx, execution, err)
	}
	m.runMu.Lock()
	m.run = run
	m.runMu.Unlock()

	dispatch := make([]runner.Host, 0, len(hosts))
	for _, host := range hosts {
		if host.Failed() {
			m.countFailure(host, host[runner.KeyError])
			continue
		}
		if _, ok := filterFor(catalog.PlatformCategory(host[inventory.KeyPlatform])); !ok {
			m.countSkip(host, fmt.Sprintf("no gather filter for platform %q", host[inventory.KeyPlatform]))
			continue
		}
		dispatch = append(dispatch, host)
	}

	runErr := m.deps.Runner.Run(ctx, dispatch, moduleGather, m)

	// Fold the reconciliation counters into the execution summary.
	stats := run.Stats()
	m.mu.Lock()
	m.summary.NewFound = stats.NewFound
	m.summary.Lost = stats.Lost
	m.summary.Risks = stats.Risks
	m.mu.Unlock()

	return m.finish(ctx, runErr)
}

func (m *GatherManager) HostCallback(ctx context.Context, host runner.Host) []runner.Host {
	return []runner.Host{host}
}

func (m *GatherManager) OnHostSuccess(ctx context.Context, host runner.Host, result runner.Result) {
	filter, ok := filterFor(catalog.PlatformCategory(host[inventory.KeyPlatform]))
	if !ok {
		m.countFailure(host, fmt.Sprintf("no gather filter for platform %q", host[inventory.KeyPlatform]))
		return
	}

	observations, err := filter.Parse(result.Raw)
	if err != nil {
		m.countFailure(host, err.Error())
		return
	}

	// The engine batches its own persistence; callbacks arrive concurrently
	// but reconciliation state is shared across assets, so serialize.
	m.runMu.Lock()
	m.run.Asset(ctx, host[inventory.KeyAssetID], observations)
	m.runMu.Unlock()

	m.countSuccess()
}

func (m *GatherManager) OnHostError(ctx context.Context, host runner.Host, errText string, result runner.Result) {
	m.countFailure(host, errText)
}

func (m *GatherManager) OnRunnerFailed(ctx context.Context, err error) {
	m.runnerFailed(err)
}
