package automation

import (
	"context"
	"fmt"
	"strings"

	"github.com/credops/credops/internal/model"
	"github.com/credops/credops/internal/secretgen"
	"github.com/credops/credops/internal/vault"
	"github.com/credops/credops/pkg/catalog"
)

// Provisioner expands an account template across assets: one managed account
// per matching asset, with a secret resolved by the template's strategy and
// committed through the vault facade. Provisioning creates rows only; use a
// push execution afterwards to place the credentials remotely.
type Provisioner struct {
	deps Deps
}

func NewProvisioner(deps Deps) *Provisioner {
	return &Provisioner{deps: deps}
}

// ProvisionResult reports one asset's outcome.
type ProvisionResult struct {
	AssetID   string
	AccountID string
	Err       error
}

// Provision applies the template to the given assets. Assets whose platform
// is outside the template's platform list are skipped silently; per-asset
// failures do not stop the remaining assets.
func (p *Provisioner) Provision(ctx context.Context, tpl *model.AccountTemplate, assetIDs []string, rules secretgen.PasswordRules) ([]ProvisionResult, error) {
	custom := ""
	if tpl.Secret != nil {
		custom = *tpl.Secret
	}
	policy, err := secretgen.New(secretgen.Strategy(tpl.SecretStrategy), tpl.SecretType, custom, rules)
	if err != nil {
		return nil, err
	}

	assets, err := p.deps.Catalog.Assets(ctx, assetIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load assets: %w", err)
	}

	platforms := map[string]bool{}
	for _, name := range strings.Split(tpl.Platforms, ",") {
		if name = strings.TrimSpace(name); name != "" {
			platforms[name] = true
		}
	}

	var results []ProvisionResult
	for _, asset := range assets {
		if len(platforms) > 0 && !platforms[string(asset.Platform.Category)] {
			continue
		}
		results = append(results, p.provisionOne(ctx, tpl, asset, policy))
	}
	return results, nil
}

func (p *Provisioner) provisionOne(ctx context.Context, tpl *model.AccountTemplate, asset catalog.Asset, policy *secretgen.Policy) ProvisionResult {
	result := ProvisionResult{AssetID: asset.ID}

	secret, err := policy.Secret()
	if err != nil {
		result.Err = err
		return result
	}

	account := &model.Account{
		OrgID:      tpl.OrgID,
		Name:       fmt.Sprintf("%s@%s", tpl.Username, asset.Name),
		AssetID:    asset.ID,
		Username:   tpl.Username,
		SecretType: tpl.SecretType,
		Privileged: tpl.Privileged,
		Source:     "template",
	}

	if tpl.SuFromUsername != nil {
		if suFrom := p.findSuFrom(ctx, asset.ID, *tpl.SuFromUsername); suFrom != nil {
			account.SuFromID = &suFrom.ID
		}
	}

	if err := p.deps.Accounts.Create(ctx, account, secret); err != nil {
		result.Err = fmt.Errorf("failed to create account: %w", err)
		return result
	}

	entry := vault.AccountEntry(account.OrgID, account.ID)
	tags := map[string]string{"username": account.Username, "asset": account.AssetID}
	if err := p.deps.Vault.Create(ctx, entry, secret, tags); err != nil {
		result.Err = fmt.Errorf("account created but secret not vaulted: %w", err)
		return result
	}

	result.AccountID = account.ID
	return result
}

func (p *Provisioner) findSuFrom(ctx context.Context, assetID, username string) *model.Account {
	accounts, err := p.deps.Accounts.ByAsset(ctx, assetID)
	if err != nil {
		p.deps.Logger.Warn("failed to resolve su-from %s on asset %s: %v", username, assetID, err)
		return nil
	}
	for _, account := range accounts {
		if account.Username == username {
			return account
		}
	}
	return nil
}
