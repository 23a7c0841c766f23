package automation

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credops/credops/internal/model"
	"github.com/credops/credops/internal/secretgen"
	"github.com/credops/credops/internal/vault"
)

func passwordTemplate(secret string) *model.AccountTemplate {
	return &model.AccountTemplate{
		ID:             "tpl-1",
		OrgID:          "org-1",
		Name:           "svc-backup",
		Username:       "backup",
		SecretType:     model.SecretTypePassword,
		SecretStrategy: string(secretgen.StrategyCustom),
		Secret:         &secret,
		Privileged:     false,
		Platforms:      "posix",
	}
}

func TestProvision_ExpandsTemplateAcrossMatchingAssets(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.mock.ExpectExec(`INSERT INTO "accounts"`).WillReturnResult(sqlmock.NewResult(0, 1))

	p := NewProvisioner(h.deps)
	results, err := p.Provision(context.Background(), passwordTemplate("Tpl3tS3cret!"),
		[]string{"asset-1"}, secretgen.DefaultPasswordRules())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, "asset-1", results[0].AssetID)
	assert.NotEmpty(t, results[0].AccountID)

	entry := vault.AccountEntry("org-1", results[0].AccountID)
	assert.Equal(t, "Tpl3tS3cret!", h.backend.secret(entry), "template secret committed to the vault")
	assert.Equal(t, []string{results[0].AccountID}, h.column.cleared, "row column cleared after vault commit")
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestProvision_SkipsAssetsOutsideTemplatePlatforms(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tpl := passwordTemplate("Tpl3tS3cret!")
	tpl.Platforms = "windows"

	p := NewProvisioner(h.deps)
	results, err := p.Provision(context.Background(), tpl, []string{"asset-1"},
		secretgen.DefaultPasswordRules())
	require.NoError(t, err)
	assert.Empty(t, results, "posix asset must not match a windows-only template")
	assert.NoError(t, h.mock.ExpectationsWereMet(), "no rows may be written for skipped assets")
}

func TestProvision_ResolvesSuFromAccount(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	suFrom := "root"
	tpl := passwordTemplate("Tpl3tS3cret!")
	tpl.SuFromUsername = &suFrom

	h.mock.ExpectQuery(`SELECT .+ FROM "accounts"`).
		WillReturnRows(rootAccountRow(sqlmock.NewRows(accountColumns())))
	h.mock.ExpectExec(`INSERT INTO "accounts"`).WillReturnResult(sqlmock.NewResult(0, 1))

	p := NewProvisioner(h.deps)
	results, err := p.Provision(context.Background(), tpl, []string{"asset-1"},
		secretgen.DefaultPasswordRules())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestProvision_InvalidStrategyFailsWithoutTouchingAssets(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tpl := passwordTemplate("")

	p := NewProvisioner(h.deps)
	_, err := p.Provision(context.Background(), tpl, []string{"asset-1"},
		secretgen.DefaultPasswordRules())
	require.Error(t, err, "custom strategy with an empty secret is a configuration error")
	assert.NoError(t, h.mock.ExpectationsWereMet())
}
