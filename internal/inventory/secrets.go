package inventory

import (
	"context"

	"github.com/credops/credops/internal/model"
	"github.com/credops/credops/internal/vault"
)

type vaultSecretSource struct {
	facade *vault.Facade
}

// NewVaultSecretSource adapts the vault facade to the builder's secret
// lookup. Reads inherit the facade's soft-fail rule: an unreachable backend
// yields an empty secret and the affected host is marked failed instead of
// aborting the run.
func NewVaultSecretSource(facade *vault.Facade) SecretSource {
	return &vaultSecretSource{facade: facade}
}

func (s *vaultSecretSource) AccountSecret(ctx context.Context, account *model.Account) string {
	return s.facade.Get(ctx, vault.AccountEntry(account.OrgID, account.ID))
}
