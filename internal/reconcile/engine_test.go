package reconcile

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/credops/credops/internal/logging"
	"github.com/credops/credops/internal/model"
	"github.com/credops/credops/internal/store"
)

type fakeAccounts struct {
	byAsset map[string][]*model.Account
	created []*model.Account
}

func (f *fakeAccounts) ByAssets(ctx context.Context, assetIDs []string) (map[string][]*model.Account, error) {
	out := map[string][]*model.Account{}
	for _, id := range assetIDs {
		out[id] = f.byAsset[id]
	}
	return out, nil
}

func (f *fakeAccounts) Create(ctx context.Context, account *model.Account, secret string) error {
	f.created = append(f.created, account)
	return nil
}

func newMockEngine(t *testing.T, accounts *fakeAccounts, now time.Time) (*Engine, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gormDB, err := gorm.Open(
		postgres.New(postgres.Config{Conn: db, PreferSimpleProtocol: true}),
		&gorm.Config{
			Logger:                 logger.Default.LogMode(logger.Silent),
			SkipDefaultTransaction: true,
		},
	)
	require.NoError(t, err)

	engine := NewEngine(
		accounts,
		store.NewGatheredAccountStore(gormDB),
		store.NewRiskStore(gormDB),
		logging.NewWithWriter(io.Discard, false),
		testclock.NewClock(now),
	)
	return engine, mock
}

func gatheredColumns() []string {
	return []string{"id", "org_id", "asset_id", "username", "status", "present_remote", "present_local"}
}

func TestRun_Asset_NewLostAndConfirmed(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	accounts := &fakeAccounts{byAsset: map[string][]*model.Account{
		"asset-1": {{ID: "acc-alice", Username: "alice"}},
	}}
	engine, mock := newMockEngine(t, accounts, now)
	ctx := context.Background()

	// Preload: no existing risk rows.
	mock.ExpectQuery(`SELECT .+ FROM "account_risks"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	run, err := engine.Begin(ctx, "org-1", []string{"asset-1"}, false)
	require.NoError(t, err)

	// Previously gathered: alice (pending) and carol (present).
	mock.ExpectQuery(`SELECT .+ FROM "gathered_accounts"`).
		WillReturnRows(sqlmock.NewRows(gatheredColumns()).
			AddRow("g-alice", "org-1", "asset-1", "alice", "pending", true, true).
			AddRow("g-carol", "org-1", "asset-1", "carol", "pending", true, false))

	// Flush: bob inserted, then alice and carol updated in asset order.
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "gathered_accounts"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "gathered_accounts" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "gathered_accounts" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// Flush: new_found for bob, account_deleted for carol.
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "account_risks"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "account_risks"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	run.Asset(ctx, "asset-1", []Observation{
		{Username: "alice"},
		{Username: "bob"},
	})

	stats := run.Stats()
	assert.Equal(t, 1, stats.NewFound, "bob is new")
	assert.Equal(t, 1, stats.Lost, "carol disappeared")
	assert.Equal(t, 2, stats.Risks, "new_found for bob, account_deleted for carol")
	assert.Equal(t, 1, stats.Confirmed, "alice flips to confirmed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_Asset_RerunWithoutRemoteChangeIsIdempotent(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	accounts := &fakeAccounts{byAsset: map[string][]*model.Account{
		"asset-1": {{ID: "acc-alice", Username: "alice"}},
	}}
	engine, mock := newMockEngine(t, accounts, now)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT .+ FROM "account_risks"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "asset_id", "username", "risk", "details"}).
			AddRow("r-1", "asset-1", "carol", "account_deleted", `[{"detected_at":"2026-07-01T00:00:00Z"}]`))

	run, err := engine.Begin(ctx, "org-1", []string{"asset-1"}, false)
	require.NoError(t, err)

	// State after the first run: bob known, carol already marked lost.
	mock.ExpectQuery(`SELECT .+ FROM "gathered_accounts"`).
		WillReturnRows(sqlmock.NewRows(gatheredColumns()).
			AddRow("g-alice", "org-1", "asset-1", "alice", "confirmed", true, true).
			AddRow("g-bob", "org-1", "asset-1", "bob", "pending", true, false).
			AddRow("g-carol", "org-1", "asset-1", "carol", "pending", false, false))

	// Only the remotely present rows are re-saved; carol stays untouched
	// and no risk is re-raised.
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "gathered_accounts" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "gathered_accounts" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	run.Asset(ctx, "asset-1", []Observation{
		{Username: "alice"},
		{Username: "bob"},
	})

	stats := run.Stats()
	assert.Zero(t, stats.NewFound)
	assert.Zero(t, stats.Lost)
	assert.Zero(t, stats.Risks, "no remote change, no new detections")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_Asset_FieldDiffRaisesChangedRisks(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	accounts := &fakeAccounts{byAsset: map[string][]*model.Account{"asset-1": nil}}
	engine, mock := newMockEngine(t, accounts, now)
	ctx := context.Background()

	var raised []string
	engine.WithRiskCounter(func(kind string) { raised = append(raised, kind) })

	mock.ExpectQuery(`SELECT .+ FROM "account_risks"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	run, err := engine.Begin(ctx, "org-1", []string{"asset-1"}, false)
	require.NoError(t, err)

	cols := append(gatheredColumns(), "detail")
	mock.ExpectQuery(`SELECT .+ FROM "gathered_accounts"`).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("g-deploy", "org-1", "asset-1", "deploy", "pending", true, false,
				`{"sudoers":"deploy ALL=(ALL) /usr/bin/systemctl","groups":"deploy"}`))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "gathered_accounts" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "account_risks"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	run.Asset(ctx, "asset-1", []Observation{{
		Username: "deploy",
		Detail: map[string]string{
			DetailSudoers: "deploy ALL=(ALL) NOPASSWD: ALL",
			DetailGroups:  "deploy",
		},
	}})

	assert.Equal(t, []string{string(model.RiskSudoersChanged)}, raised,
		"sudoers changed, groups did not")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_Asset_ThresholdRisks(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	stale := now.Add(-91 * 24 * time.Hour)
	expired := now.Add(-time.Hour)

	accounts := &fakeAccounts{byAsset: map[string][]*model.Account{"asset-1": nil}}
	engine, mock := newMockEngine(t, accounts, now)
	ctx := context.Background()

	var raised []string
	engine.WithRiskCounter(func(kind string) { raised = append(raised, kind) })

	mock.ExpectQuery(`SELECT .+ FROM "account_risks"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	run, err := engine.Begin(ctx, "org-1", []string{"asset-1"}, false)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT .+ FROM "gathered_accounts"`).
		WillReturnRows(sqlmock.NewRows(gatheredColumns()))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "gathered_accounts"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	for i := 0; i < 4; i++ {
		mock.ExpectExec(`INSERT INTO "account_risks"`).WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	run.Asset(ctx, "asset-1", []Observation{{
		Username:          "dusty",
		LastLogin:         &stale,
		PasswordChangedAt: &stale,
		PasswordExpiresAt: &expired,
	}})

	assert.ElementsMatch(t, []string{
		string(model.RiskNewFound),
		string(model.RiskLongTimeNoLogin),
		string(model.RiskLongTimePassword),
		string(model.RiskPasswordExpired),
	}, raised)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_AutoSyncPromotesDiscoveredAccount(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	accounts := &fakeAccounts{byAsset: map[string][]*model.Account{"asset-1": nil}}
	engine, mock := newMockEngine(t, accounts, now)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT .+ FROM "account_risks"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	run, err := engine.Begin(ctx, "org-1", []string{"asset-1"}, true)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT .+ FROM "gathered_accounts"`).
		WillReturnRows(sqlmock.NewRows(gatheredColumns()))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "gathered_accounts"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "account_risks"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	run.Asset(ctx, "asset-1", []Observation{{Username: "svc"}})

	require.Len(t, accounts.created, 1)
	assert.Equal(t, "svc", accounts.created[0].Username)
	assert.Equal(t, "discovered", accounts.created[0].Source)
	assert.NoError(t, mock.ExpectationsWereMet())
}
