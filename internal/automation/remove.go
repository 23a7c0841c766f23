package automation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/credops/credops/internal/inventory"
	"github.com/credops/credops/internal/model"
	"github.com/credops/credops/pkg/runner"
)

// builtinSuperusers are never removed regardless of the intended set;
// deleting them would brick the asset.
var builtinSuperusers = map[string]bool{
	"root":          true,
	"administrator": true,
	"admin":         true,
	"sa":            true,
	"postgres":      true,
	"mysql":         true,
	"oracle":        true,
	"sys":           true,
	"system":        true,
}

// RemoveManager deletes accounts that discovery observed on an asset but
// that fall outside the intended set. Built-in superusers and the acting
// account are always excluded. On remote success both the managed account
// row and the gathered row are deleted, the former softly so the vault
// tombstone stays auditable.
type RemoveManager struct {
	base

	hostMu sync.Mutex
	hosts  map[string]*removeHostState
}

type removeHostState struct {
	username   string
	accountID  string
	gatheredID string
}

func NewRemoveManager(deps Deps) *RemoveManager {
	return &RemoveManager{base: base{deps: deps}, hosts: map[string]*removeHostState{}}
}

func (m *RemoveManager) Run(ctx context.Context, execution *model.AutomationExecution) error {
	if err := m.begin(ctx, execution); err != nil {
		return m.failBeforeDispatch(ctx, execution, err)
	}

	hosts, err := m.buildInventory(ctx, model.AutomationRemove)
	if err != nil {
		return m.failBeforeDispatch(ctx, execution, err)
	}

	dispatch := m.expand(ctx, hosts)
	if err := m.deps.Runner.Run(ctx, dispatch, moduleRemove, m); err != nil {
		return m.finish(ctx, err)
	}
	return m.finish(ctx, nil)
}

// expand fans each asset out into one host per account to remove: gathered
// accounts outside the intended set, minus built-in superusers and the
// acting account.
func (m *RemoveManager) expand(ctx context.Context, hosts []runner.Host) []runner.Host {
	intended := map[string]bool{}
	for _, username := range m.policy.Usernames {
		intended[username] = true
	}

	targets := map[string]*removeHostState{}
	var dispatch []runner.Host
	for _, host := range hosts {
		if host.Failed() {
			m.countFailure(host, host[runner.KeyError])
			continue
		}
		assetID := host[inventory.KeyAssetID]

		gathered, err := m.deps.Gathered.ByAsset(ctx, assetID)
		if err != nil {
			m.countFailure(host, fmt.Sprintf("failed to load gathered accounts: %v", err))
			continue
		}

		accounts, err := m.deps.Accounts.ByAsset(ctx, assetID)
		if err != nil {
			m.countFailure(host, fmt.Sprintf("failed to load accounts: %v", err))
			continue
		}
		accountIDByUsername := map[string]string{}
		for _, account := range accounts {
			accountIDByUsername[account.Username] = account.ID
		}

		acting := host[inventory.KeyUsername]
		for username, row := range gathered {
			if intended[username] || builtinSuperusers[normalize(username)] || username == acting {
				continue
			}

			child := cloneHost(host)
			child[runner.KeyName] = fmt.Sprintf("%s(%s)", host.Name(), username)
			child[keyTargetUsername] = inventory.Escape(username)

			targets[child.Name()] = &removeHostState{
				username:   username,
				accountID:  accountIDByUsername[username],
				gatheredID: row.ID,
			}
			dispatch = append(dispatch, child)
		}
	}

	m.hostMu.Lock()
	m.hosts = targets
	m.hostMu.Unlock()
	return dispatch
}

func (m *RemoveManager) HostCallback(ctx context.Context, host runner.Host) []runner.Host {
	return []runner.Host{host}
}

func (m *RemoveManager) OnHostSuccess(ctx context.Context, host runner.Host, result runner.Result) {
	m.hostMu.Lock()
	state := m.hosts[host.Name()]
	m.hostMu.Unlock()
	if state == nil {
		m.deps.Logger.Warn("success callback for unknown host %s", host.Name())
		return
	}

	err := m.persistWithRetry(ctx, func() error {
		if state.accountID != "" {
			if err := m.deps.Accounts.SoftDelete(ctx, state.accountID); err != nil {
				return err
			}
		}
		return m.deps.Gathered.Delete(ctx, state.gatheredID)
	})
	if err != nil {
		m.countFailure(host, fmt.Sprintf("removed remotely but rows not deleted: %v", err))
		return
	}
	m.countSuccess()
}

func (m *RemoveManager) OnHostError(ctx context.Context, host runner.Host, errText string, result runner.Result) {
	m.countFailure(host, errText)
}

func (m *RemoveManager) OnRunnerFailed(ctx context.Context, err error) {
	m.runnerFailed(err)
}

func normalize(username string) string {
	return strings.ToLower(username)
}
