// Package vault normalizes secret-storage backends behind one contract.
//
// Every account-bearing entity reaches storage through the Facade, which
// derives a canonical Entry path per entity and delegates to the configured
// Backend. The local backend keeps secrets in the system-of-record database;
// the remote backends (HashiCorp KV v2, AWS Secrets Manager, GCP Secret
// Manager, Azure Key Vault) hold the authoritative value and the database
// column is cleared after every successful write.
package vault

import (
	"context"
	"fmt"
	"sort"
)

// Backend is the uniform contract every secret-storage adapter implements.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Name returns the backend type tag.
	Name() string

	// Get retrieves the secret stored under entry. A missing secret is
	// reported as an empty string with a nil error; only transport or
	// backend failures return an error.
	Get(ctx context.Context, entry Entry) (string, error)

	// Create stores a new secret under entry.
	Create(ctx context.Context, entry Entry, secret string) error

	// Update replaces the secret under entry, creating a new version on
	// versioned backends.
	Update(ctx context.Context, entry Entry, secret string) error

	// Delete tombstones the secret under entry. Backends with native
	// soft-delete use it; others retain history where supported. Purging
	// is an explicit separate operation outside this core.
	Delete(ctx context.Context, entry Entry) error

	// SaveMetadata attaches tags to the entry. Failures are best-effort
	// for callers and must never corrupt the stored secret.
	SaveMetadata(ctx context.Context, entry Entry, tags map[string]string) error

	// IsActive reports whether the backend is reachable and usable, with a
	// human-readable reason when it is not.
	IsActive(ctx context.Context) (bool, string)
}

// Constructor builds a backend from its inline configuration map.
type Constructor func(cfg map[string]interface{}, deps Deps) (Backend, error)

// Registry maps the closed set of backend type tags onto constructors. The
// set is fixed at startup; there is no runtime module loading.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry creates a registry with the built-in backends registered.
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]Constructor)}
	r.Register(TypeLocal, NewLocalBackend)
	r.Register(TypeHCVault, NewHCVaultBackend)
	r.Register(TypeAWS, NewAWSBackend)
	r.Register(TypeGCP, NewGCPBackend)
	r.Register(TypeAzure, NewAzureBackend)
	return r
}

// Register adds a constructor for a backend type tag.
func (r *Registry) Register(typeTag string, ctor Constructor) {
	r.constructors[typeTag] = ctor
}

// Create builds the backend for a type tag.
func (r *Registry) Create(typeTag string, cfg map[string]interface{}, deps Deps) (Backend, error) {
	ctor, ok := r.constructors[typeTag]
	if !ok {
		return nil, fmt.Errorf("unknown vault backend type: %s", typeTag)
	}
	return ctor(cfg, deps)
}

// SupportedTypes returns the registered type tags, sorted.
func (r *Registry) SupportedTypes() []string {
	types := make([]string, 0, len(r.constructors))
	for t := range r.constructors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Backend type tags.
const (
	TypeLocal   = "local"
	TypeHCVault = "hcp"
	TypeAWS     = "aws"
	TypeGCP     = "gcp"
	TypeAzure   = "azure"
)
