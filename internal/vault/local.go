package vault

import (
	"context"

	"github.com/credops/credops/internal/logging"
)

// SecretFieldStore is the slice of the system-of-record store the local
// backend and the facade need: reading and clearing the secret column of an
// entity row.
type SecretFieldStore interface {
	// SecretField returns the stored secret of the entity, empty when the
	// row has none.
	SecretField(ctx context.Context, entityID string) (string, error)

	// ClearSecretField empties the secret column and marks the entity as
	// saved to vault. Called by the facade after a successful remote
	// write; never called in local mode.
	ClearSecretField(ctx context.Context, entityID string) error
}

// Deps carries the injected collaborators backend constructors may need.
type Deps struct {
	Logger  *logging.Logger
	Secrets SecretFieldStore
}

// LocalBackend keeps secrets in the system-of-record database. Create,
// Update and Delete are no-ops apart from metadata: the row column is the
// sole store, and clearing it would destroy the only copy.
type LocalBackend struct {
	store  SecretFieldStore
	logger *logging.Logger
}

// NewLocalBackend creates the database-resident backend.
func NewLocalBackend(cfg map[string]interface{}, deps Deps) (Backend, error) {
	return &LocalBackend{store: deps.Secrets, logger: deps.Logger}, nil
}

func (b *LocalBackend) Name() string {
	return TypeLocal
}

func (b *LocalBackend) Get(ctx context.Context, entry Entry) (string, error) {
	return b.store.SecretField(ctx, entry.ID)
}

func (b *LocalBackend) Create(ctx context.Context, entry Entry, secret string) error {
	// The row already holds the value; nothing to write.
	return nil
}

func (b *LocalBackend) Update(ctx context.Context, entry Entry, secret string) error {
	return nil
}

func (b *LocalBackend) Delete(ctx context.Context, entry Entry) error {
	// Tombstoning is the row's soft delete; the column stays intact for
	// audit and undelete.
	return nil
}

func (b *LocalBackend) SaveMetadata(ctx context.Context, entry Entry, tags map[string]string) error {
	b.logger.Debug("local backend: metadata for %s kept with the row", entry.Path())
	return nil
}

func (b *LocalBackend) IsActive(ctx context.Context) (bool, string) {
	return true, ""
}
