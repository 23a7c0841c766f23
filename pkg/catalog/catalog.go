// Package catalog defines the read-only asset and platform catalog consumed
// by the credential-automation core.
//
// The catalog is owned by an external collaborator; this core only reads
// asset identity, protocol settings, platform capability flags and
// gateway/domain membership from it. Nothing in this package is persisted
// by the core.
package catalog

import "context"

// Protocol names understood by the inventory builder. An asset may declare
// any number of protocols with per-protocol settings.
const (
	ProtocolSSH       = "ssh"
	ProtocolWinRM     = "winrm"
	ProtocolRDP       = "rdp"
	ProtocolTelnet    = "telnet"
	ProtocolMySQL     = "mysql"
	ProtocolPostgres  = "postgresql"
	ProtocolSQLServer = "sqlserver"
	ProtocolOracle    = "oracle"
)

// PlatformCategory groups platforms by the gather filter that parses their
// enumeration output.
type PlatformCategory string

const (
	CategoryPosix    PlatformCategory = "posix"
	CategoryWindows  PlatformCategory = "windows"
	CategoryDatabase PlatformCategory = "database"
)

// ProtocolSetting is one protocol an asset speaks, with its port and
// free-form options.
type ProtocolSetting struct {
	Name    string
	Port    int
	Default bool
	Options map[string]string
}

// Platform carries the capability flags of an asset's platform.
type Platform struct {
	ID       string
	Name     string
	Category PlatformCategory

	// SuEnabled reports whether the platform supports privilege elevation
	// after the initial connection.
	SuEnabled bool

	// SuMethod names the elevation mechanism, e.g. "sudo" or "su".
	SuMethod string
}

// Asset is one managed target the automation core can act on.
type Asset struct {
	ID        string
	OrgID     string
	Name      string
	Address   string
	Platform  Platform
	Protocols []ProtocolSetting

	// IsGateway marks the asset as a jump host for its domain.
	IsGateway bool

	// DomainID is the network domain the asset belongs to; empty when the
	// asset is directly reachable.
	DomainID string
}

// Protocol returns the named protocol setting and whether it is declared.
func (a Asset) Protocol(name string) (ProtocolSetting, bool) {
	for _, p := range a.Protocols {
		if p.Name == name {
			return p, true
		}
	}
	return ProtocolSetting{}, false
}

// DefaultProtocol returns the asset-declared default protocol, falling back
// to the first declared protocol.
func (a Asset) DefaultProtocol() (ProtocolSetting, bool) {
	for _, p := range a.Protocols {
		if p.Default {
			return p, true
		}
	}
	if len(a.Protocols) > 0 {
		return a.Protocols[0], true
	}
	return ProtocolSetting{}, false
}

// GatewayCredential is the credential of a domain gateway used to route a
// connection to a target behind it.
type GatewayCredential struct {
	Asset    Asset
	Username string
	Secret   string
	Port     int
}

// Catalog is the read-only source of assets, platforms and gateways.
type Catalog interface {
	// Asset returns one asset by id.
	Asset(ctx context.Context, id string) (Asset, error)

	// Assets returns the assets with the given ids, preserving order.
	// Unknown ids are skipped.
	Assets(ctx context.Context, ids []string) ([]Asset, error)

	// Gateway returns the gateway credential for a domain, or false when
	// the domain has no gateway.
	Gateway(ctx context.Context, domainID string) (GatewayCredential, bool, error)
}
