// Package automation implements the five credential automations and the
// execution dispatch over them. Managers consume an inventory, drive the
// remote-execution engine through its callbacks and interpret per-host
// results; the engine owns sessions, concurrency and timeouts.
package automation

import (
	"encoding/json"

	"github.com/credops/credops/internal/errors"
	"github.com/credops/credops/internal/inventory"
	"github.com/credops/credops/internal/model"
	"github.com/credops/credops/internal/secretgen"
)

// Policy is the resolved parameter snapshot of one execution. The scheduler
// serializes it onto the execution row before the run starts; once running
// it is immutable, so concurrent policy edits cannot affect the run.
type Policy struct {
	OrgID    string   `json:"org_id"`
	AssetIDs []string `json:"asset_ids"`

	// Usernames narrows the target accounts; empty means the acting account.
	Usernames []string `json:"usernames,omitempty"`

	// PreferredUsernames overrides the selection policy when picking the
	// acting account.
	PreferredUsernames []string `json:"preferred_usernames,omitempty"`

	SelectionPolicy inventory.SelectionPolicy `json:"selection_policy,omitempty"`
	Protocol        string                    `json:"protocol,omitempty"`

	SecretStrategy secretgen.Strategy      `json:"secret_strategy,omitempty"`
	Secret         string                  `json:"secret,omitempty"`
	SecretType     model.SecretType        `json:"secret_type,omitempty"`
	PasswordRules  secretgen.PasswordRules `json:"password_rules,omitempty"`

	// AutoSync promotes newly discovered accounts straight into the system
	// of record instead of leaving them pending confirmation.
	AutoSync bool `json:"auto_sync,omitempty"`
}

// DecodePolicy reads the snapshot off an execution row.
func DecodePolicy(execution *model.AutomationExecution) (Policy, error) {
	var p Policy
	if err := json.Unmarshal([]byte(execution.Snapshot), &p); err != nil {
		return Policy{}, errors.ConfigError{
			Field:   "snapshot",
			Message: "execution snapshot is not valid JSON: " + err.Error(),
		}
	}
	if p.OrgID == "" {
		return Policy{}, errors.ConfigError{Field: "org_id", Message: "execution snapshot names no organization"}
	}
	if len(p.AssetIDs) == 0 {
		return Policy{}, errors.ConfigError{Field: "asset_ids", Message: "execution snapshot names no assets"}
	}
	if p.SelectionPolicy == "" {
		p.SelectionPolicy = inventory.PolicyPrivilegedFirst
	}
	if p.SecretStrategy == "" {
		p.SecretStrategy = secretgen.StrategyRandom
	}
	return p, nil
}

// InventoryOptions maps the policy onto the builder's knobs for one
// automation type.
func (p Policy) InventoryOptions(automation model.AutomationType) inventory.Options {
	return inventory.Options{
		Policy:             p.SelectionPolicy,
		PreferredUsernames: p.PreferredUsernames,
		Protocol:           p.Protocol,
		Automation:         automation,
	}
}
