package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/credops/credops/internal/errors"
	"github.com/credops/credops/internal/inventory"
	"github.com/credops/credops/internal/logging"
	"github.com/credops/credops/internal/model"
	"github.com/credops/credops/internal/store"
	"github.com/credops/credops/internal/vault"
	"github.com/credops/credops/pkg/catalog"
	"github.com/credops/credops/pkg/runner"
)

// Persistence retry bounds for idempotent record updates. Remote-side
// actions are never retried here.
const (
	persistAttempts = 3
	persistDelay    = 200 * time.Millisecond
)

// Manager runs one automation type against the execution's asset set.
type Manager interface {
	Run(ctx context.Context, execution *model.AutomationExecution) error
}

// Deps carries the collaborators shared by all managers.
type Deps struct {
	Accounts   *store.AccountStore
	Gathered   *store.GatheredAccountStore
	Risks      *store.RiskStore
	Records    *store.RecordStore
	Executions *store.ExecutionStore
	Vault      *vault.Facade
	Catalog    catalog.Catalog
	Runner     runner.Runner
	Builder    *inventory.Builder
	Logger     *logging.Logger
	Clock      clock.Clock
	Notifier   Notifier
}

func (d *Deps) clock() clock.Clock {
	if d.Clock == nil {
		return clock.WallClock
	}
	return d.Clock
}

func (d *Deps) notifier() Notifier {
	if d.Notifier == nil {
		return NopNotifier{}
	}
	return d.Notifier
}

// base holds the per-run state shared by the concrete managers. Callbacks
// for independent hosts arrive concurrently, so all counters and failure
// collection go through the mutex; per-host state is keyed by host name and
// never shared across hosts.
type base struct {
	deps      Deps
	execution *model.AutomationExecution
	policy    Policy

	mu         sync.Mutex
	summary    model.ExecutionSummary
	failures   []FailureTuple
	redactions []string
}

// shield registers a secret value so callback error text containing it is
// redacted before logging or reporting.
func (b *base) shield(secret string) {
	if secret == "" {
		return
	}
	b.mu.Lock()
	b.redactions = append(b.redactions, secret)
	b.mu.Unlock()
}

// begin decodes the policy snapshot and flips the execution to running. A
// decode failure is a configuration error: the run fails before any host is
// touched.
func (b *base) begin(ctx context.Context, execution *model.AutomationExecution) error {
	policy, err := DecodePolicy(execution)
	if err != nil {
		return err
	}
	b.execution = execution
	b.policy = policy

	if err := b.deps.Executions.MarkRunning(ctx, execution.ID); err != nil {
		return fmt.Errorf("failed to mark execution running: %w", err)
	}
	return nil
}

// buildInventory loads the policy's assets and assembles their host
// descriptors.
func (b *base) buildInventory(ctx context.Context, automation model.AutomationType) ([]runner.Host, error) {
	assets, err := b.deps.Catalog.Assets(ctx, b.policy.AssetIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load assets: %w", err)
	}
	if len(assets) == 0 {
		return nil, errors.ConfigError{Field: "asset_ids", Message: "no known assets in execution snapshot"}
	}
	return b.deps.Builder.Build(ctx, assets, b.policy.InventoryOptions(automation)), nil
}

func (b *base) countSuccess() {
	b.mu.Lock()
	b.summary.Succeeded++
	b.mu.Unlock()
	countHost(string(b.execution.Type), "success")
}

func (b *base) countSkip(host runner.Host, reason string) {
	b.mu.Lock()
	b.summary.Skipped++
	b.mu.Unlock()
	countHost(string(b.execution.Type), "skipped")
	b.deps.Logger.Info("skipping %s: %s", host.Name(), reason)
}

func (b *base) countFailure(host runner.Host, errText string) {
	b.mu.Lock()
	errText = logging.Redact(errText, b.redactions)
	b.summary.Failed++
	b.failures = append(b.failures, FailureTuple{
		Asset:    host[inventory.KeyAssetID],
		Username: host[inventory.KeyUsername],
		Error:    errText,
	})
	b.mu.Unlock()
	countHost(string(b.execution.Type), "failed")
	b.deps.Logger.Error("host %s failed: %s", host.Name(), errText)
}

// runnerFailed records an engine-level failure not attributable to a single
// host.
func (b *base) runnerFailed(err error) {
	b.mu.Lock()
	b.summary.Failed++
	b.failures = append(b.failures, FailureTuple{Error: fmt.Sprintf("runner failed: %v", err)})
	b.mu.Unlock()
	b.deps.Logger.Error("remote execution engine failed: %v", err)
}

// finish settles the execution row and emits the summary event. A run with
// any failed host finishes failed; notification delivery never affects the
// outcome.
func (b *base) finish(ctx context.Context, runErr error) error {
	b.mu.Lock()
	summary := b.summary
	failures := append([]FailureTuple(nil), b.failures...)
	b.mu.Unlock()

	status := model.ExecutionStatusSuccess
	if runErr != nil || summary.Failed > 0 {
		status = model.ExecutionStatusFailed
	}

	if err := b.deps.Executions.Finish(ctx, b.execution.ID, status, summary); err != nil {
		b.deps.Logger.Error("failed to settle execution %s: %v", b.execution.ID, err)
	}
	countExecution(string(b.execution.Type), string(status))

	b.deps.notifier().NotifySummary(ctx, SummaryEvent{
		ExecutionID: b.execution.ID,
		OrgID:       b.policy.OrgID,
		Type:        b.execution.Type,
		Status:      status,
		Summary:     summary,
		Failures:    failures,
	})
	return runErr
}

// failBeforeDispatch settles a run that died on a configuration error before
// any host was touched.
func (b *base) failBeforeDispatch(ctx context.Context, execution *model.AutomationExecution, cfgErr error) error {
	if err := b.deps.Executions.Finish(ctx, execution.ID, model.ExecutionStatusFailed, model.ExecutionSummary{}); err != nil {
		b.deps.Logger.Error("failed to settle execution %s: %v", execution.ID, err)
	}
	countExecution(string(execution.Type), string(model.ExecutionStatusFailed))
	return cfgErr
}

// persistWithRetry retries an idempotent persistence operation a bounded
// number of times on transient failures before escalating.
func (b *base) persistWithRetry(ctx context.Context, op func() error) error {
	return retry.Call(retry.CallArgs{
		Func: op,
		IsFatalError: func(err error) bool {
			return !errors.IsRetryable(err)
		},
		NotifyFunc: func(err error, attempt int) {
			b.deps.Logger.Debug("persistence attempt %d failed: %v", attempt, err)
		},
		Attempts: persistAttempts,
		Delay:    persistDelay,
		Clock:    b.deps.clock(),
		Stop:     ctx.Done(),
	})
}
