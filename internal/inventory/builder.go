// Package inventory assembles the host descriptor set handed to the remote
// execution engine: acting account selection, protocol negotiation, gateway
// routing and privilege elevation chaining.
package inventory

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/credops/credops/internal/logging"
	"github.com/credops/credops/internal/model"
	"github.com/credops/credops/pkg/catalog"
	"github.com/credops/credops/pkg/runner"
)

// SelectionPolicy decides which account acts on an asset when the caller
// names no preferred username.
type SelectionPolicy string

const (
	// PolicyPrivilegedOnly only dispatches with a privileged account; assets
	// without one are skipped.
	PolicyPrivilegedOnly SelectionPolicy = "privileged_only"

	// PolicyPrivilegedFirst prefers privileged accounts but falls back to the
	// best-verified ordinary account.
	PolicyPrivilegedFirst SelectionPolicy = "privileged_first"

	// PolicySkip never auto-selects; only a preferred-username match acts.
	PolicySkip SelectionPolicy = "skip"
)

// Host descriptor keys beyond the runner's reserved ones. Values under the
// secret-bearing keys are template-escaped before they enter the descriptor.
const (
	KeyAssetID   = "asset_id"
	KeyAccountID = "account_id"
	KeyAddress   = "address"
	KeyPort      = "port"
	KeyProtocol  = "protocol"
	KeyPlatform  = "platform"
	KeyUsername  = "username"
	KeySecret    = "secret"

	KeySuMethod   = "su_method"
	KeySuUsername = "su_username"
	KeySuSecret   = "su_secret"

	KeyGatewayAddress  = "gateway_address"
	KeyGatewayPort     = "gateway_port"
	KeyGatewayUsername = "gateway_username"
	KeyGatewaySecret   = "gateway_secret"
	KeyGatewayMode     = "gateway_mode"
)

// Gateway routing modes. Non-interactive protocols route through the gateway
// as a local proxy; interactive ones get the gateway credential spelled out
// for the console layer.
const (
	GatewayModeProxy      = "proxy"
	GatewayModeCredential = "credential"
)

// Options parameterize one build.
type Options struct {
	Policy             SelectionPolicy
	PreferredUsernames []string
	Protocol           string
	Automation         model.AutomationType
}

// AccountSource loads the candidate accounts of an asset.
type AccountSource interface {
	ByAsset(ctx context.Context, assetID string) ([]*model.Account, error)
}

// SecretSource resolves the usable secret of an account. An empty return
// means the secret is unavailable; the builder marks the host failed rather
// than dispatching with a blank credential.
type SecretSource interface {
	AccountSecret(ctx context.Context, account *model.Account) string
}

// Builder assembles runner inventories. Selection is deterministic: the same
// asset, accounts and options always produce the same acting account.
type Builder struct {
	catalog  catalog.Catalog
	accounts AccountSource
	secrets  SecretSource
	logger   *logging.Logger
}

func NewBuilder(cat catalog.Catalog, accounts AccountSource, secrets SecretSource, logger *logging.Logger) *Builder {
	return &Builder{catalog: cat, accounts: accounts, secrets: secrets, logger: logger}
}

// Build produces one host descriptor per asset. Hosts failing a mandatory
// step carry the reserved error field; they are excluded from dispatch by
// the runner but stay visible for reporting.
func (b *Builder) Build(ctx context.Context, assets []catalog.Asset, opts Options) []runner.Host {
	hosts := make([]runner.Host, 0, len(assets))
	for _, asset := range assets {
		hosts = append(hosts, b.buildHost(ctx, asset, opts))
	}
	return hosts
}

func (b *Builder) buildHost(ctx context.Context, asset catalog.Asset, opts Options) runner.Host {
	host := runner.Host{
		runner.KeyName: asset.Name,
		KeyAssetID:     asset.ID,
		KeyAddress:     asset.Address,
		KeyPlatform:    string(asset.Platform.Category),
	}

	accounts, err := b.accounts.ByAsset(ctx, asset.ID)
	if err != nil {
		host[runner.KeyError] = fmt.Sprintf("failed to load accounts: %v", err)
		return host
	}

	account, reason := SelectAccount(accounts, opts)
	if account == nil {
		host[runner.KeyError] = reason
		return host
	}
	host[KeyAccountID] = account.ID
	host[KeyUsername] = Escape(account.Username)

	proto, ok := resolveProtocol(asset, opts.Protocol)
	if !ok {
		host[runner.KeyError] = "no usable protocol declared"
		return host
	}
	host[KeyProtocol] = proto.Name
	host[KeyPort] = strconv.Itoa(proto.Port)

	secret := b.secrets.AccountSecret(ctx, account)
	if secret == "" {
		host[runner.KeyError] = fmt.Sprintf("secret unavailable for %s", account.Username)
		return host
	}
	host[KeySecret] = Escape(secret)

	if err := b.resolveGateway(ctx, asset, proto.Name, host); err != nil {
		host[runner.KeyError] = err.Error()
		return host
	}

	b.resolveElevation(ctx, asset, account, opts.Automation, host)
	return host
}

// SelectAccount applies the preferred-username override, then the selection
// policy, then the deterministic tie-break. The returned reason explains a
// nil selection.
func SelectAccount(accounts []*model.Account, opts Options) (*model.Account, string) {
	if len(accounts) == 0 {
		return nil, "no account available"
	}

	// A preferred username always wins over the policy.
	for _, username := range opts.PreferredUsernames {
		var matches []*model.Account
		for _, acct := range accounts {
			if acct.Username == username {
				matches = append(matches, acct)
			}
		}
		if len(matches) > 0 {
			sortCandidates(matches)
			return matches[0], ""
		}
	}

	switch opts.Policy {
	case PolicySkip:
		return nil, "account selection disabled and no preferred username matched"
	case PolicyPrivilegedOnly:
		var privileged []*model.Account
		for _, acct := range accounts {
			if acct.Privileged {
				privileged = append(privileged, acct)
			}
		}
		if len(privileged) == 0 {
			return nil, "no account available"
		}
		sortCandidates(privileged)
		return privileged[0], ""
	default: // privileged_first
		candidates := make([]*model.Account, len(accounts))
		copy(candidates, accounts)
		sortCandidates(candidates)
		return candidates[0], ""
	}
}

// sortCandidates orders by privileged desc, connectivity score desc, last
// update desc; id ascending keeps the order total so selection never flaps.
func sortCandidates(accounts []*model.Account) {
	sort.SliceStable(accounts, func(i, j int) bool {
		a, b := accounts[i], accounts[j]
		if a.Privileged != b.Privileged {
			return a.Privileged
		}
		if sa, sb := a.Connectivity.Score(), b.Connectivity.Score(); sa != sb {
			return sa > sb
		}
		if !a.DateUpdated.Equal(b.DateUpdated) {
			return a.DateUpdated.After(b.DateUpdated)
		}
		return a.ID < b.ID
	})
}

// resolveProtocol prefers the explicit request, then ssh, then winrm, then
// the asset-declared default.
func resolveProtocol(asset catalog.Asset, requested string) (catalog.ProtocolSetting, bool) {
	for _, name := range []string{requested, catalog.ProtocolSSH, catalog.ProtocolWinRM} {
		if name == "" {
			continue
		}
		if setting, ok := asset.Protocol(name); ok {
			return setting, true
		}
	}
	return asset.DefaultProtocol()
}

func (b *Builder) resolveGateway(ctx context.Context, asset catalog.Asset, protocol string, host runner.Host) error {
	if asset.IsGateway || asset.DomainID == "" {
		return nil
	}

	gw, ok, err := b.catalog.Gateway(ctx, asset.DomainID)
	if err != nil {
		return fmt.Errorf("failed to resolve gateway for domain %s: %v", asset.DomainID, err)
	}
	if !ok {
		return nil
	}

	host[KeyGatewayAddress] = gw.Asset.Address
	host[KeyGatewayPort] = strconv.Itoa(gw.Port)
	host[KeyGatewayUsername] = Escape(gw.Username)
	host[KeyGatewaySecret] = Escape(gw.Secret)
	if interactiveProtocol(protocol) {
		host[KeyGatewayMode] = GatewayModeCredential
	} else {
		host[KeyGatewayMode] = GatewayModeProxy
	}
	return nil
}

func interactiveProtocol(name string) bool {
	return name == catalog.ProtocolRDP || name == catalog.ProtocolTelnet
}

// resolveElevation emits elevation credentials when the platform supports
// them. Secret-mutating automations without a declared su-from get the
// same-account root fallback, so a lone privileged account can still rotate
// root-owned credentials.
func (b *Builder) resolveElevation(ctx context.Context, asset catalog.Asset, account *model.Account, automation model.AutomationType, host runner.Host) {
	if !asset.Platform.SuEnabled {
		return
	}

	method := asset.Platform.SuMethod
	if method == "" {
		method = "sudo"
	}

	if account.SuFrom != nil {
		secret := b.secrets.AccountSecret(ctx, account.SuFrom)
		host[KeySuMethod] = method
		host[KeySuUsername] = Escape(account.SuFrom.Username)
		host[KeySuSecret] = Escape(secret)
		return
	}

	if automation == model.AutomationChangeSecret || automation == model.AutomationPush {
		host[KeySuMethod] = method
		host[KeySuUsername] = "root"
		host[KeySuSecret] = host[KeySecret]
	}
}
