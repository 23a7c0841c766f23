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

// PushSecretManager writes the account's already-known secret onto the
// remote side, for example after provisioning an account whose credential
// exists only in the vault. Unlike change-secret, nothing is regenerated
// unless the policy explicitly overrides the value; records use a distinct
// table so push history and rotation history stay independently queryable.
type PushSecretManager struct {
	base

	hostMu sync.Mutex
	hosts  map[string]*pushHostState
}

type pushHostState struct {
	account *model.Account
	record  *model.PushSecretRecord
	secret  string
}

func NewPushSecretManager(deps Deps) *PushSecretManager {
	return &PushSecretManager{base: base{deps: deps}, hosts: map[string]*pushHostState{}}
}

func (m *PushSecretManager) Run(ctx context.Context, execution *model.AutomationExecution) error {
	if err := m.begin(ctx, execution); err != nil {
		return m.failBeforeDispatch(ctx, execution, err)
	}

	if m.policy.SecretStrategy == secretgen.StrategyCustom {
		if _, err := secretgen.New(m.policy.SecretStrategy, model.SecretTypePassword, m.policy.Secret, m.policy.PasswordRules); err != nil {
			return m.failBeforeDispatch(ctx, execution, err)
		}
	}

	hosts, err := m.buildInventory(ctx, model.AutomationPush)
	if err != nil {
		return m.failBeforeDispatch(ctx, execution, err)
	}

	inventoryHosts, err := m.expand(ctx, hosts)
	if err != nil {
		return m.failBeforeDispatch(ctx, execution, err)
	}

	if err := m.deps.Runner.Run(ctx, inventoryHosts, modulePushSecret, m); err != nil {
		return m.finish(ctx, err)
	}
	return m.finish(ctx, nil)
}

func (m *PushSecretManager) expand(ctx context.Context, hosts []runner.Host) ([]runner.Host, error) {
	targets, derived := m.fanOut(ctx, hosts)

	existing, err := m.deps.Records.PushRecordsByExecution(ctx, m.execution.ID)
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

		pending = append(pending, store.PendingRecord{
			OrgID:       m.policy.OrgID,
			ExecutionID: m.execution.ID,
			AssetID:     host[inventory.KeyAssetID],
			AccountID:   state.account.ID,
			NewSecret:   state.secret,
		})
		pendingNames = append(pendingNames, host.Name())
		out = append(out, host)
	}

	if len(pending) > 0 {
		created, err := m.deps.Records.CreatePushPending(ctx, pending)
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

func (m *PushSecretManager) fanOut(ctx context.Context, hosts []runner.Host) (map[string]*pushHostState, []runner.Host) {
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

	targets := map[string]*pushHostState{}
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

			child := cloneHost(host)
			child[runner.KeyName] = fmt.Sprintf("%s(%s)", host.Name(), account.Username)
			child[inventory.KeyAccountID] = account.ID
			child[keyTargetUsername] = inventory.Escape(account.Username)
			child[keySecretKind] = string(account.SecretType)

			secret := m.sourceSecret(ctx, account)
			if secret == "" {
				child[runner.KeyError] = fmt.Sprintf("no known secret to push for %s", account.Username)
			} else {
				m.shield(secret)
				child[keyNewSecret] = inventory.Escape(secret)
			}

			targets[child.Name()] = &pushHostState{account: account, secret: secret}
			derived = append(derived, child)
		}
	}
	return targets, derived
}

func (m *PushSecretManager) targetAccounts(host runner.Host, accounts []*model.Account) []*model.Account {
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

// sourceSecret resolves the value to push: the explicit policy override when
// set, otherwise the account's known secret from the vault.
func (m *PushSecretManager) sourceSecret(ctx context.Context, account *model.Account) string {
	if m.policy.SecretStrategy == secretgen.StrategyCustom && m.policy.Secret != "" {
		return m.policy.Secret
	}
	return m.deps.Vault.Get(ctx, vault.AccountEntry(account.OrgID, account.ID))
}

func (m *PushSecretManager) HostCallback(ctx context.Context, host runner.Host) []runner.Host {
	return []runner.Host{host}
}

func (m *PushSecretManager) OnHostSuccess(ctx context.Context, host runner.Host, result runner.Result) {
	state := m.state(host)
	if state == nil || state.record == nil {
		m.deps.Logger.Warn("success callback for unknown host %s", host.Name())
		return
	}

	// A pushed override becomes the account's secret of record.
	if m.policy.SecretStrategy == secretgen.StrategyCustom && m.policy.Secret != "" {
		persistErr := m.persistWithRetry(ctx, func() error {
			return m.persistSecret(ctx, state)
		})
		if persistErr != nil {
			m.settle(ctx, host, state, fmt.Errorf("secret pushed remotely but not persisted: %w", persistErr))
			return
		}
	}
	m.settle(ctx, host, state, nil)
}

func (m *PushSecretManager) OnHostError(ctx context.Context, host runner.Host, errText string, result runner.Result) {
	state := m.state(host)
	if state == nil || state.record == nil {
		m.countFailure(host, errText)
		return
	}
	m.settle(ctx, host, state, stderrors.New(errText))
}

func (m *PushSecretManager) OnRunnerFailed(ctx context.Context, err error) {
	m.runnerFailed(err)
}

func (m *PushSecretManager) persistSecret(ctx context.Context, state *pushHostState) error {
	if err := m.deps.Accounts.SetSecret(ctx, state.account.ID, state.secret); err != nil {
		return err
	}

	entry := vault.AccountEntry(state.account.OrgID, state.account.ID)
	tags := map[string]string{
		"username": state.account.Username,
		"asset":    state.account.AssetID,
	}
	if state.account.SavedToVault {
		return m.deps.Vault.Update(ctx, entry, state.secret, tags)
	}
	return m.deps.Vault.Create(ctx, entry, state.secret, tags)
}

func (m *PushSecretManager) settle(ctx context.Context, host runner.Host, state *pushHostState, hostErr error) {
	err := m.persistWithRetry(ctx, func() error {
		finishErr := m.deps.Records.FinishPush(ctx, state.record.ID, hostErr)
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
		return
	}

	if hostErr != nil {
		m.countFailure(host, hostErr.Error())
		return
	}
	m.countSuccess()
}

func (m *PushSecretManager) state(host runner.Host) *pushHostState {
	m.hostMu.Lock()
	defer m.hostMu.Unlock()
	return m.hosts[host.Name()]
}
