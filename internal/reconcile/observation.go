// Package reconcile diffs discovery output against the system of record and
// previously gathered state, maintains GatheredAccount rows and emits
// AccountRisk detections.
package reconcile

import "time"

// Detail field keys inside an observation. Changes to the risk fields emit a
// <field>_changed risk with a textual diff; the rest is recorded for audit
// only.
const (
	DetailGroups         = "groups"
	DetailSudoers        = "sudoers"
	DetailAuthorizedKeys = "authorized_keys"
)

// riskFields are audited with change risks.
var riskFields = []string{DetailAuthorizedKeys, DetailSudoers, DetailGroups}

// Observation is one account as seen on a remote asset, normalized by a
// platform gather filter.
type Observation struct {
	Username          string
	LastLogin         *time.Time
	LastLoginAddress  string
	PasswordChangedAt *time.Time
	PasswordExpiresAt *time.Time

	// Detail carries groups, sudoers, authorized keys and any extra fields
	// the platform filter emitted.
	Detail map[string]string
}
