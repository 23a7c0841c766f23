package automation

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credops/credops/internal/model"
)

func removeExecution() *model.AutomationExecution {
	return &model.AutomationExecution{
		ID:       "exec-r1",
		OrgID:    "org-1",
		Type:     model.AutomationRemove,
		Status:   model.ExecutionStatusPending,
		Snapshot: `{"org_id":"org-1","asset_ids":["asset-1"],"usernames":["root"]}`,
	}
}

func gatheredAssetRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "org_id", "asset_id", "username",
		"status", "present_remote", "present_local"}).
		AddRow("g-root", "org-1", "asset-1", "root", "confirmed", true, true).
		AddRow("g-admin", "org-1", "asset-1", "admin", "pending", true, false).
		AddRow("g-old", "org-1", "asset-1", "olduser", "pending", true, false)
}

func TestRemove_SparesIntendedAndBuiltinSuperusers(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	h.mock.ExpectExec(`UPDATE "automation_executions" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectQuery(`SELECT .+ FROM "gathered_accounts"`).WillReturnRows(gatheredAssetRows())
	h.mock.ExpectQuery(`SELECT .+ FROM "accounts"`).
		WillReturnRows(rootAccountRow(sqlmock.NewRows(accountColumns())))
	// olduser has no managed row, so only the gathered row goes.
	h.mock.ExpectExec(`DELETE FROM "gathered_accounts"`).WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec(`UPDATE "automation_executions" SET`).WillReturnResult(sqlmock.NewResult(0, 1))

	mgr := NewRemoveManager(h.deps)
	require.NoError(t, mgr.Run(context.Background(), removeExecution()))

	require.Len(t, h.runner.dispatched, 1)
	require.Len(t, h.runner.dispatched[0], 1, "root is intended and admin is a built-in superuser")
	assert.Equal(t, "web-1(olduser)", h.runner.dispatched[0][0].Name())

	event := h.notifier.last(t)
	assert.Equal(t, model.ExecutionStatusSuccess, event.Status)
	assert.Equal(t, 1, event.Summary.Succeeded)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestRemove_ManagedAccountIsSoftDeleted(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	gathered := sqlmock.NewRows([]string{"id", "org_id", "asset_id", "username",
		"status", "present_remote", "present_local"}).
		AddRow("g-root", "org-1", "asset-1", "root", "confirmed", true, true).
		AddRow("g-svc", "org-1", "asset-1", "svc", "confirmed", true, true)
	accounts := rootAccountRow(sqlmock.NewRows(accountColumns())).
		AddRow("acc-svc", "org-1", "svc@web-1", "asset-1", "svc",
			"password", true, false, "ok", 1, "manual")

	h.mock.ExpectExec(`UPDATE "automation_executions" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectQuery(`SELECT .+ FROM "gathered_accounts"`).WillReturnRows(gathered)
	h.mock.ExpectQuery(`SELECT .+ FROM "accounts"`).WillReturnRows(accounts)
	h.mock.ExpectExec(`UPDATE "accounts" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec(`DELETE FROM "gathered_accounts"`).WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec(`UPDATE "automation_executions" SET`).WillReturnResult(sqlmock.NewResult(0, 1))

	mgr := NewRemoveManager(h.deps)
	require.NoError(t, mgr.Run(context.Background(), removeExecution()))

	require.Len(t, h.runner.dispatched, 1)
	require.Len(t, h.runner.dispatched[0], 1)
	assert.Equal(t, "web-1(svc)", h.runner.dispatched[0][0].Name())
	assert.Equal(t, 1, h.notifier.last(t).Summary.Succeeded)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}
