package automation

import (
	"context"

	"github.com/credops/credops/internal/inventory"
	"github.com/credops/credops/internal/model"
	"github.com/credops/credops/pkg/runner"
)

// VerifyManager checks that account credentials still work: a no-op
// reachability dispatch per account whose outcome maps directly onto the
// account's connectivity flag. Secrets are never mutated.
type VerifyManager struct {
	base
}

func NewVerifyManager(deps Deps) *VerifyManager {
	return &VerifyManager{base: base{deps: deps}}
}

func (m *VerifyManager) Run(ctx context.Context, execution *model.AutomationExecution) error {
	if err := m.begin(ctx, execution); err != nil {
		return m.failBeforeDispatch(ctx, execution, err)
	}

	hosts, err := m.buildInventory(ctx, model.AutomationVerify)
	if err != nil {
		return m.failBeforeDispatch(ctx, execution, err)
	}

	dispatch := make([]runner.Host, 0, len(hosts))
	for _, host := range hosts {
		if host.Failed() {
			m.countFailure(host, host[runner.KeyError])
			continue
		}
		dispatch = append(dispatch, host)
	}

	if err := m.deps.Runner.Run(ctx, dispatch, moduleVerify, m); err != nil {
		return m.finish(ctx, err)
	}
	return m.finish(ctx, nil)
}

func (m *VerifyManager) HostCallback(ctx context.Context, host runner.Host) []runner.Host {
	return []runner.Host{host}
}

func (m *VerifyManager) OnHostSuccess(ctx context.Context, host runner.Host, result runner.Result) {
	m.mark(ctx, host, model.ConnectivityOK)
	m.countSuccess()
}

func (m *VerifyManager) OnHostError(ctx context.Context, host runner.Host, errText string, result runner.Result) {
	m.mark(ctx, host, model.ConnectivityError)
	m.countFailure(host, errText)
}

func (m *VerifyManager) OnRunnerFailed(ctx context.Context, err error) {
	m.runnerFailed(err)
}

func (m *VerifyManager) mark(ctx context.Context, host runner.Host, conn model.Connectivity) {
	accountID := host[inventory.KeyAccountID]
	if accountID == "" {
		return
	}
	err := m.persistWithRetry(ctx, func() error {
		return m.deps.Accounts.MarkVerified(ctx, accountID, conn)
	})
	if err != nil {
		m.deps.Logger.Error("failed to record connectivity for account %s: %v", accountID, err)
	}
}
