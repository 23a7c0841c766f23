package automation

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/credops/credops/internal/inventory"
	"github.com/credops/credops/internal/model"
	"github.com/credops/credops/internal/secretgen"
	"github.com/credops/credops/internal/store"
	"github.com/credops/credops/internal/vault"
	"github.com/credops/credops/pkg/runner"
)

// Module identifiers handed to the remote-execution engine.
const (
	moduleChangeSecret = "change_secret"
	modulePushSecret   = "push_secret"
	moduleVerify       = "verify_account"
	moduleRemove       = "remove_account"
	moduleGather       = "gather_accounts"
)

// Host descriptor keys specific to secret-mutating automations.
const (
	keyTargetUsername = "target_username"
	keyNewSecret      = "new_secret"
	keySecretKind     = "secret_kind"
)

// ChangeSecretManager rotates account secrets. Per (asset, account) pair it
// creates a pending record before dispatch, lets the engine apply the change
// remotely, and on success persists the new secret through the account save
// path, which routes through the vault facade. A failed remote change is
// recorded and never retried automatically: retrying would apply an unknown
// number of partial changes on the remote side.
type ChangeSecretManager struct {
	base

	hostMu sync.Mutex
	hosts  map[string]*changeHostState
}

type changeHostState struct {
	account   *model.Account
	record    *model.ChangeSecretRecord
	newSecret string
}

func NewChangeSecretManager(deps Deps) *ChangeSecretManager {
	return &ChangeSecretManager{base: base{deps: deps}, hosts: map[string]*changeHostState{}}
}

func (m *ChangeSecretManager) Run(ctx context.Context, execution *model.AutomationExecution) error {
	if err := m.begin(ctx, execution); err != nil {
		return m.failBeforeDispatch(ctx, execution, err)
	}

	// Validate the secret strategy up front; an empty custom secret must
	// fail the execution before any record is created.
	if _, err := secretgen.New(m.policy.SecretStrategy, model.SecretTypePassword, m.policy.Secret, m.policy.PasswordRules); err != nil {
		return m.failBeforeDispatch(ctx, execution, err)
	}

	hosts, err := m.buildInventory(ctx, model.AutomationChangeSecret)
	if err != nil {
		return m.failBeforeDispatch(ctx, execution, err)
	}

	inventoryHosts, err := m.expand(ctx, hosts)
	if err != nil {
		return m.failBeforeDispatch(ctx, execution, err)
	}

	if err := m.deps.Runner.Run(ctx, inventoryHosts, moduleChangeSecret, m); err != nil {
		return m.finish(ctx, err)
	}
	return m.finish(ctx, nil)
}

// expand fans each asset host out into one host per target account, resolves
// the candidate secret, and batches pending record creation so a crash
// mid-flight still leaves auditable rows.
func (m *ChangeSecretManager) expand(ctx context.Context, hosts []runner.Host) ([]runner.Host, error) {
	targets, derived := m.fanOut(ctx, hosts)

	// Resume map: pairs already covered by this execution attach to their
	// existing record instead of creating a new one, giving at most one
	// logical attempt per pair across retried executions.
	existing, err := m.deps.Records.ChangeRecordsByExecution(ctx, m.execution.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load resume records: %w", err)
	}

	var pending []store.PendingRecord
	var pendingNames []string
	out := make([]runner.Host, 0, len(derived))
	for _, host := range derived {
		if host.Failed() {
			m.countFailure(host, host[runner.KeyError])
			continue
		}

		state := targets[host.Name()]
		if prior, ok := existing[state.account.ID]; ok {
			if prior.Status != model.RecordStatusPending {
				m.countSkip(host, "already settled in a prior attempt")
				continue
			}
			state.record = prior
			out = append(out, host)
			continue
		}

		oldSecret := m.deps.Vault.Get(ctx, vault.AccountEntry(state.account.OrgID, state.account.ID))
		pending = append(pending, store.PendingRecord{
			OrgID:       m.policy.OrgID,
			ExecutionID: m.execution.ID,
			AssetID:     host[inventory.KeyAssetID],
			AccountID:   state.account.ID,
			OldSecret:   oldSecret,
			NewSecret:   state.newSecret,
		})
		pendingNames = append(pendingNames, host.Name())
		out = append(out, host)
	}

	if len(pending) > 0 {
		created, err := m.deps.Records.CreateChangePending(ctx, pending)
		if err != nil {
			return nil, fmt.Errorf("failed to create pending records: %w", err)
		}
		for _, name := range pendingNames {
			state := targets[name]
			if rec, ok := created[state.account.ID]; ok {
				state.record = rec
			}
		}
	}

	m.hostMu.Lock()
	m.hosts = targets
	m.hostMu.Unlock()
	return out, nil
}

// fanOut derives the per-account hosts and generates each one's candidate
// secret. Accounts excluded by the secret-kind filter are skipped.
func (m *ChangeSecretManager) fanOut(ctx context.Context, hosts []runner.Host) (map[string]*changeHostState, []runner.Host) {
	assetIDs := make([]string, 0, len(hosts))
	for _, host := range hosts {
		if !host.Failed() {
			assetIDs = append(assetIDs, host[inventory.KeyAssetID])
		}
	}
	accountsByAsset, err := m.deps.Accounts.ByAssets(ctx, assetIDs)
	if err != nil {
		m.deps.Logger.Error("failed to load target accounts: %v", err)
		accountsByAsset = map[string][]*model.Account{}
	}

	targets := map[string]*changeHostState{}
	var derived []runner.Host
	for _, host := range hosts {
		if host.Failed() {
			derived = append(derived, host)
			continue
		}

		for _, account := range m.targetAccounts(host, accountsByAsset[host[inventory.KeyAssetID]]) {
			if m.policy.SecretType != "" && account.SecretType != m.policy.SecretType {
				m.countSkip(host, fmt.Sprintf("account %s excluded by secret kind filter", account.Username))
				continue
			}

			newSecret, err := m.generateFor(account)
			child := cloneHost(host)
			child[runner.KeyName] = fmt.Sprintf("%s(%s)", host.Name(), account.Username)
			child[inventory.KeyAccountID] = account.ID
			child[keyTargetUsername] = inventory.Escape(account.Username)
			child[keySecretKind] = string(account.SecretType)
			if err != nil {
				child[runner.KeyError] = err.Error()
			} else {
				m.shield(newSecret)
				child[keyNewSecret] = inventory.Escape(newSecret)
			}

			targets[child.Name()] = &changeHostState{account: account, newSecret: newSecret}
			derived = append(derived, child)
		}
	}
	return targets, derived
}

// targetAccounts resolves which accounts on the asset get a new secret: the
// policy's username list when given, otherwise the acting account.
func (m *ChangeSecretManager) targetAccounts(host runner.Host, accounts []*model.Account) []*model.Account {
	if len(m.policy.Usernames) == 0 {
		actingID := host[inventory.KeyAccountID]
		for _, account := range accounts {
			if account.ID == actingID {
				return []*model.Account{account}
			}
		}
		return nil
	}

	wanted := map[string]bool{}
	for _, username := range m.policy.Usernames {
		wanted[username] = true
	}
	var out []*model.Account
	for _, account := range accounts {
		if wanted[account.Username] {
			out = append(out, account)
		}
	}
	return out
}

func (m *ChangeSecretManager) generateFor(account *model.Account) (string, error) {
	policy, err := secretgen.New(m.policy.SecretStrategy, account.SecretType, m.policy.Secret, m.policy.PasswordRules)
	if err != nil {
		return "", err
	}
	return policy.Secret()
}

// HostCallback is identity here: the fan-out happens before dispatch so
// record creation can be batched.
func (m *ChangeSecretManager) HostCallback(ctx context.Context, host runner.Host) []runner.Host {
	return []runner.Host{host}
}

func (m *ChangeSecretManager) OnHostSuccess(ctx context.Context, host runner.Host, result runner.Result) {
	state := m.state(host)
	if state == nil || state.record == nil {
		m.deps.Logger.Warn("success callback for unknown host %s", host.Name())
		return
	}

	// The remote side already holds the new secret; persistence failures
	// here are local and idempotent, so a bounded retry is safe.
	persistErr := m.persistWithRetry(ctx, func() error {
		return m.persistSecret(ctx, state)
	})
	if persistErr != nil {
		m.settle(ctx, host, state, fmt.Errorf("secret changed remotely but not persisted: %w", persistErr))
		return
	}
	m.settle(ctx, host, state, nil)
}

func (m *ChangeSecretManager) OnHostError(ctx context.Context, host runner.Host, errText string, result runner.Result) {
	state := m.state(host)
	if state == nil || state.record == nil {
		m.countFailure(host, errText)
		return
	}
	m.settle(ctx, host, state, stderrors.New(errText))
}

func (m *ChangeSecretManager) OnRunnerFailed(ctx context.Context, err error) {
	m.runnerFailed(err)
}

// persistSecret routes the new secret through the account save path: system
// of record first, then the vault facade, whose clear-after-commit rule
// empties the row column again for non-local backends.
func (m *ChangeSecretManager) persistSecret(ctx context.Context, state *changeHostState) error {
	if err := m.deps.Accounts.SetSecret(ctx, state.account.ID, state.newSecret); err != nil {
		return err
	}

	entry := vault.AccountEntry(state.account.OrgID, state.account.ID)
	tags := map[string]string{
		"username": state.account.Username,
		"asset":    state.account.AssetID,
	}
	if state.account.SavedToVault {
		return m.deps.Vault.Update(ctx, entry, state.newSecret, tags)
	}
	return m.deps.Vault.Create(ctx, entry, state.newSecret, tags)
}

// settle finishes the record exactly once. A duplicate callback for the same
// host finds the record already settled and changes nothing.
func (m *ChangeSecretManager) settle(ctx context.Context, host runner.Host, state *changeHostState, hostErr error) {
	err := m.persistWithRetry(ctx, func() error {
		finishErr := m.deps.Records.FinishChange(ctx, state.record.ID, hostErr)
		if stderrors.Is(finishErr, store.ErrRecordFinished) {
			return nil
		}
		return finishErr
	})
	if err != nil {
		m.deps.Logger.Error("failed to settle record %s: %v", state.record.ID, err)
	}

	m.hostMu.Lock()
	settled := state.record.Status != model.RecordStatusPending
	if !settled {
		if hostErr != nil {
			state.record.Status = model.RecordStatusFailed
		} else {
			state.record.Status = model.RecordStatusSuccess
		}
	}
	m.hostMu.Unlock()
	if settled {
		// Duplicate callback; the first outcome stands.
		return
	}

	if hostErr != nil {
		m.countFailure(host, hostErr.Error())
		return
	}
	m.countSuccess()
}

func (m *ChangeSecretManager) state(host runner.Host) *changeHostState {
	m.hostMu.Lock()
	defer m.hostMu.Unlock()
	return m.hosts[host.Name()]
}

func cloneHost(host runner.Host) runner.Host {
	out := make(runner.Host, len(host)+4)
	for k, v := range host {
		out[k] = v
	}
	return out
}
