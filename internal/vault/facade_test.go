package vault

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credops/credops/internal/logging"
)

// fakeBackend is an in-memory Backend for facade tests.
type fakeBackend struct {
	name     string
	secrets  map[string]string
	tags     map[string]map[string]string
	getErr   error
	writeErr error
	metaErr  error
}

func newFakeBackend(name string) *fakeBackend {
	return &fakeBackend{
		name:    name,
		secrets: map[string]string{},
		tags:    map[string]map[string]string{},
	}
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Get(ctx context.Context, entry Entry) (string, error) {
	if f.getErr != nil {
		return "", f.getErr
	}
	return f.secrets[entry.Path()], nil
}

func (f *fakeBackend) Create(ctx context.Context, entry Entry, secret string) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.secrets[entry.Path()] = secret
	return nil
}

func (f *fakeBackend) Update(ctx context.Context, entry Entry, secret string) error {
	return f.Create(ctx, entry, secret)
}

func (f *fakeBackend) Delete(ctx context.Context, entry Entry) error {
	delete(f.secrets, entry.Path())
	return nil
}

func (f *fakeBackend) SaveMetadata(ctx context.Context, entry Entry, tags map[string]string) error {
	if f.metaErr != nil {
		return f.metaErr
	}
	f.tags[entry.Path()] = tags
	return nil
}

func (f *fakeBackend) IsActive(ctx context.Context) (bool, string) { return true, "" }

// fakeSecretStore records clear-after-commit calls.
type fakeSecretStore struct {
	fields   map[string]string
	cleared  []string
	clearErr error
}

func newFakeSecretStore() *fakeSecretStore {
	return &fakeSecretStore{fields: map[string]string{}}
}

func (s *fakeSecretStore) SecretField(ctx context.Context, entityID string) (string, error) {
	return s.fields[entityID], nil
}

func (s *fakeSecretStore) ClearSecretField(ctx context.Context, entityID string) error {
	if s.clearErr != nil {
		return s.clearErr
	}
	s.cleared = append(s.cleared, entityID)
	delete(s.fields, entityID)
	return nil
}

func testLogger() *logging.Logger {
	return logging.New(false, true)
}

func TestFacade_Create_ClearsAfterCommit(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(TypeHCVault)
	store := newFakeSecretStore()
	store.fields["acc-1"] = "hunter2"
	facade := NewFacadeWithBackend(backend, store, testLogger())

	entry := AccountEntry("org-1", "acc-1")
	require.NoError(t, facade.Create(context.Background(), entry, "hunter2", nil))

	assert.Equal(t, "hunter2", backend.secrets[entry.Path()])
	assert.Equal(t, []string{"acc-1"}, store.cleared, "system-of-record field cleared after vault commit")
	assert.Equal(t, "hunter2", facade.Get(context.Background(), entry))
}

func TestFacade_Create_LocalNeverClears(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(TypeLocal)
	store := newFakeSecretStore()
	store.fields["acc-1"] = "hunter2"
	facade := NewFacadeWithBackend(backend, store, testLogger())

	require.NoError(t, facade.Create(context.Background(), AccountEntry("org-1", "acc-1"), "hunter2", nil))
	assert.Empty(t, store.cleared, "local backend must never clear the only copy")
}

func TestFacade_Create_WriteFailureRaises(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(TypeAWS)
	backend.writeErr = errors.New("throttled")
	store := newFakeSecretStore()
	facade := NewFacadeWithBackend(backend, store, testLogger())

	err := facade.Create(context.Background(), AccountEntry("org-1", "acc-1"), "x", nil)
	assert.Error(t, err)
	assert.Empty(t, store.cleared)
}

func TestFacade_Create_MetadataFailureIsBestEffort(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(TypeAzure)
	backend.metaErr = errors.New("tags api down")
	store := newFakeSecretStore()
	facade := NewFacadeWithBackend(backend, store, testLogger())

	err := facade.Update(context.Background(), AccountEntry("org-1", "acc-1"), "x",
		map[string]string{"username": "root"})
	assert.NoError(t, err, "metadata sync failure must not fail the primary operation")
}

func TestFacade_Get_SoftFailsToEmpty(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(TypeGCP)
	backend.getErr = errors.New("connection refused")
	facade := NewFacadeWithBackend(backend, newFakeSecretStore(), testLogger())

	assert.Empty(t, facade.Get(context.Background(), AccountEntry("org-1", "acc-1")))
}

func TestLocalBackend_GetReadsRow(t *testing.T) {
	t.Parallel()

	store := newFakeSecretStore()
	store.fields["acc-7"] = "s3cret"
	backend, err := NewLocalBackend(nil, Deps{Logger: testLogger(), Secrets: store})
	require.NoError(t, err)

	got, err := backend.Get(context.Background(), AccountEntry("org-1", "acc-7"))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)

	// CRUD apart from metadata is a no-op for the database-resident store.
	require.NoError(t, backend.Create(context.Background(), AccountEntry("org-1", "acc-7"), "new"))
	require.NoError(t, backend.Delete(context.Background(), AccountEntry("org-1", "acc-7")))
	got, err = backend.Get(context.Background(), AccountEntry("org-1", "acc-7"))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)
}
