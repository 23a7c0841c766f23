package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credops/credops/internal/reconcile"
	"github.com/credops/credops/pkg/catalog"
)

func TestFilterFor(t *testing.T) {
	t.Parallel()

	for _, category := range []catalog.PlatformCategory{
		catalog.CategoryPosix, catalog.CategoryWindows, catalog.CategoryDatabase,
	} {
		_, ok := filterFor(category)
		assert.True(t, ok, "category %s", category)
	}

	_, ok := filterFor("mainframe")
	assert.False(t, ok)
}

func TestPosixFilter_Parse(t *testing.T) {
	t.Parallel()

	raw := `[
		{"username":"root","last_login":"2026-07-30T08:15:00Z","groups":["root","wheel"],"sudoers":"root ALL=(ALL) ALL"},
		{"username":"deploy","last_login":"2026-07-29 22:10:05","authorized_keys":["ssh-ed25519 AAAA1","ssh-ed25519 AAAA2"]},
		{"username":""}
	]`

	obs, err := posixFilter{}.Parse(raw)
	require.NoError(t, err)
	require.Len(t, obs, 2, "entries without a username are dropped")

	root := obs[0]
	assert.Equal(t, "root", root.Username)
	require.NotNil(t, root.LastLogin)
	assert.Equal(t, time.Date(2026, 7, 30, 8, 15, 0, 0, time.UTC), root.LastLogin.UTC())
	assert.Equal(t, "root,wheel", root.Detail[reconcile.DetailGroups])
	assert.Equal(t, "root ALL=(ALL) ALL", root.Detail[reconcile.DetailSudoers])

	deploy := obs[1]
	require.NotNil(t, deploy.LastLogin)
	assert.Equal(t, "ssh-ed25519 AAAA1\nssh-ed25519 AAAA2", deploy.Detail[reconcile.DetailAuthorizedKeys])
}

func TestPosixFilter_MalformedOutput(t *testing.T) {
	t.Parallel()

	_, err := posixFilter{}.Parse(`not json at all`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed posix gather output")
}

func TestWindowsFilter_Parse(t *testing.T) {
	t.Parallel()

	raw := `[
		{"Name":"Administrator","LastLogon":"2026-08-01 09:00:00","Groups":["Administrators"],"Enabled":true},
		{"Name":"svc_backup","PasswordLastSet":"2026-01-15","Enabled":false}
	]`

	obs, err := windowsFilter{}.Parse(raw)
	require.NoError(t, err)
	require.Len(t, obs, 2)

	admin := obs[0]
	assert.Equal(t, "Administrator", admin.Username)
	assert.Equal(t, "Administrators", admin.Detail[reconcile.DetailGroups])
	assert.NotContains(t, admin.Detail, "enabled")

	svc := obs[1]
	require.NotNil(t, svc.PasswordChangedAt)
	assert.Equal(t, "false", svc.Detail["enabled"])
}

func TestDatabaseFilter_Parse(t *testing.T) {
	t.Parallel()

	raw := "# user listing\npostgres\t%\t2026-06-01 00:00:00\napp_rw\tlocalhost\n\nreadonly\n"

	obs, err := databaseFilter{}.Parse(raw)
	require.NoError(t, err)
	require.Len(t, obs, 3, "comments and blank lines are skipped")

	assert.Equal(t, "postgres", obs[0].Username)
	assert.Equal(t, "%", obs[0].Detail["host"])
	require.NotNil(t, obs[0].PasswordChangedAt)

	assert.Equal(t, "app_rw", obs[1].Username)
	assert.Equal(t, "localhost", obs[1].Detail["host"])
	assert.Nil(t, obs[1].PasswordChangedAt)

	assert.Equal(t, "readonly", obs[2].Username)
}

func TestParseGatherTime(t *testing.T) {
	t.Parallel()

	assert.Nil(t, parseGatherTime(""))
	assert.Nil(t, parseGatherTime("never"))
	require.NotNil(t, parseGatherTime("2026-08-01T10:00:00Z"))
	require.NotNil(t, parseGatherTime("2026-08-01 10:00:00"))
	require.NotNil(t, parseGatherTime("2026-08-01"))
}
