package vault

import "strings"

// EntityKind is the path segment for an entity type.
type EntityKind string

const (
	KindAccount  EntityKind = "accounts"
	KindTemplate EntityKind = "account-templates"
)

// Entry is the derived storage address of one entity's secret: organization
// scope, entity-type segment, entity id. It is a value object computed fresh
// on every vault operation and never cached across request boundaries.
type Entry struct {
	OrgID string
	Kind  EntityKind
	ID    string
}

// AccountEntry derives the entry for an account.
func AccountEntry(orgID, accountID string) Entry {
	return Entry{OrgID: orgID, Kind: KindAccount, ID: accountID}
}

// Path returns the canonical storage path, unique per (org, kind, id).
func (e Entry) Path() string {
	return "orgs/" + e.OrgID + "/" + string(e.Kind) + "/" + e.ID
}

// Flat returns the path with separators folded, for backends that only
// accept flat secret names.
func (e Entry) Flat() string {
	return strings.ReplaceAll(e.Path(), "/", "--")
}

// AAD returns the additional-data binding used when the payload is
// envelope-encrypted at rest.
func (e Entry) AAD() []byte {
	return []byte(e.ID)
}
