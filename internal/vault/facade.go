package vault

import (
	"context"
	"fmt"

	"github.com/credops/credops/internal/logging"
)

// Facade is the single entry point account-bearing entities use to reach
// secret storage. It owns backend construction, the clear-after-commit rule
// and metadata sync. Construction happens once, centrally, and the facade is
// injected into the automation layer; a configuration change requires a
// restart.
type Facade struct {
	backend Backend
	store   SecretFieldStore
	logger  *logging.Logger
}

// NewFacade builds the configured backend and verifies it is reachable,
// failing fast rather than falling back silently.
func NewFacade(ctx context.Context, typeTag string, cfg map[string]interface{}, deps Deps) (*Facade, error) {
	backend, err := NewRegistry().Create(typeTag, cfg, deps)
	if err != nil {
		return nil, err
	}
	if active, reason := backend.IsActive(ctx); !active {
		return nil, fmt.Errorf("vault backend %s is not active: %s", backend.Name(), reason)
	}
	return &Facade{backend: backend, store: deps.Secrets, logger: deps.Logger}, nil
}

// NewFacadeWithBackend wires a pre-built backend. Used by tests.
func NewFacadeWithBackend(backend Backend, store SecretFieldStore, logger *logging.Logger) *Facade {
	return &Facade{backend: backend, store: store, logger: logger}
}

// BackendName returns the active backend's type tag.
func (f *Facade) BackendName() string {
	return f.backend.Name()
}

// Local reports whether secrets live in the system-of-record database.
func (f *Facade) Local() bool {
	return f.backend.Name() == TypeLocal
}

// Get retrieves the secret for an entry. A backend read failure degrades to
// an empty secret for this one entity instead of propagating, so a vault
// outage costs a single account rather than a whole automation run.
func (f *Facade) Get(ctx context.Context, entry Entry) string {
	secret, err := f.backend.Get(ctx, entry)
	if err != nil {
		f.logger.Warn("vault read failed for %s, treating secret as unavailable: %v", entry.Path(), err)
		return ""
	}
	return secret
}

// Create writes a fresh secret: backend write, then clear-after-commit on
// the system-of-record column, then best-effort metadata sync. A write
// failure is returned to the caller; proceeding silently would desynchronize
// the system of record from the vault.
func (f *Facade) Create(ctx context.Context, entry Entry, secret string, tags map[string]string) error {
	return f.write(ctx, entry, secret, tags, f.backend.Create)
}

// Update replaces the secret under an entry with the same commit rules as
// Create.
func (f *Facade) Update(ctx context.Context, entry Entry, secret string, tags map[string]string) error {
	return f.write(ctx, entry, secret, tags, f.backend.Update)
}

func (f *Facade) write(ctx context.Context, entry Entry, secret string, tags map[string]string,
	op func(context.Context, Entry, string) error) error {

	if err := op(ctx, entry, secret); err != nil {
		return err
	}

	// Local mode: the row column is the sole store and must never be
	// cleared.
	if !f.Local() {
		if err := f.store.ClearSecretField(ctx, entry.ID); err != nil {
			return fmt.Errorf("secret stored in %s but system of record not cleared for %s: %w",
				f.backend.Name(), entry.Path(), err)
		}
	}

	if len(tags) > 0 {
		if err := f.backend.SaveMetadata(ctx, entry, tags); err != nil {
			f.logger.Warn("metadata sync failed for %s: %v", entry.Path(), err)
		}
	}
	return nil
}

// Delete tombstones the entry. The entity row keeps its soft-delete marker;
// purging vault history is an explicit operator action outside this core.
func (f *Facade) Delete(ctx context.Context, entry Entry) error {
	return f.backend.Delete(ctx, entry)
}

// Status reports backend reachability.
func (f *Facade) Status(ctx context.Context) (bool, string) {
	return f.backend.IsActive(ctx)
}
