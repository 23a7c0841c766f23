package automation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/credops/credops/internal/reconcile"
	"github.com/credops/credops/pkg/catalog"
)

// gatherFilter normalizes one platform family's raw enumeration output into
// the common observation shape. Filters are stateless; one instance serves
// concurrent hosts.
type gatherFilter interface {
	Parse(raw string) ([]reconcile.Observation, error)
}

// filterFor returns the filter for a platform category.
func filterFor(category catalog.PlatformCategory) (gatherFilter, bool) {
	switch category {
	case catalog.CategoryPosix:
		return posixFilter{}, true
	case catalog.CategoryWindows:
		return windowsFilter{}, true
	case catalog.CategoryDatabase:
		return databaseFilter{}, true
	default:
		return nil, false
	}
}

// posixGatherEntry is the JSON shape the posix enumeration module emits, one
// object per local user.
type posixGatherEntry struct {
	Username          string   `json:"username"`
	LastLogin         string   `json:"last_login,omitempty"`
	LastLoginAddress  string   `json:"last_login_address,omitempty"`
	PasswordChangedAt string   `json:"password_changed_at,omitempty"`
	PasswordExpiresAt string   `json:"password_expires_at,omitempty"`
	Groups            []string `json:"groups,omitempty"`
	Sudoers           string   `json:"sudoers,omitempty"`
	AuthorizedKeys    []string `json:"authorized_keys,omitempty"`
}

type posixFilter struct{}

func (posixFilter) Parse(raw string) ([]reconcile.Observation, error) {
	var entries []posixGatherEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("malformed posix gather output: %w", err)
	}

	out := make([]reconcile.Observation, 0, len(entries))
	for _, entry := range entries {
		if entry.Username == "" {
			continue
		}
		obs := reconcile.Observation{
			Username:          entry.Username,
			LastLoginAddress:  entry.LastLoginAddress,
			LastLogin:         parseGatherTime(entry.LastLogin),
			PasswordChangedAt: parseGatherTime(entry.PasswordChangedAt),
			PasswordExpiresAt: parseGatherTime(entry.PasswordExpiresAt),
			Detail:            map[string]string{},
		}
		if len(entry.Groups) > 0 {
			obs.Detail[reconcile.DetailGroups] = strings.Join(entry.Groups, ",")
		}
		if entry.Sudoers != "" {
			obs.Detail[reconcile.DetailSudoers] = entry.Sudoers
		}
		if len(entry.AuthorizedKeys) > 0 {
			obs.Detail[reconcile.DetailAuthorizedKeys] = strings.Join(entry.AuthorizedKeys, "\n")
		}
		out = append(out, obs)
	}
	return out, nil
}

// windowsGatherEntry mirrors the Get-LocalUser based module output.
type windowsGatherEntry struct {
	Name            string   `json:"Name"`
	LastLogon       string   `json:"LastLogon,omitempty"`
	PasswordLastSet string   `json:"PasswordLastSet,omitempty"`
	PasswordExpires string   `json:"PasswordExpires,omitempty"`
	Groups          []string `json:"Groups,omitempty"`
	Enabled         *bool    `json:"Enabled,omitempty"`
}

type windowsFilter struct{}

func (windowsFilter) Parse(raw string) ([]reconcile.Observation, error) {
	var entries []windowsGatherEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("malformed windows gather output: %w", err)
	}

	out := make([]reconcile.Observation, 0, len(entries))
	for _, entry := range entries {
		if entry.Name == "" {
			continue
		}
		obs := reconcile.Observation{
			Username:          entry.Name,
			LastLogin:         parseGatherTime(entry.LastLogon),
			PasswordChangedAt: parseGatherTime(entry.PasswordLastSet),
			PasswordExpiresAt: parseGatherTime(entry.PasswordExpires),
			Detail:            map[string]string{},
		}
		if len(entry.Groups) > 0 {
			obs.Detail[reconcile.DetailGroups] = strings.Join(entry.Groups, ",")
		}
		if entry.Enabled != nil && !*entry.Enabled {
			obs.Detail["enabled"] = "false"
		}
		out = append(out, obs)
	}
	return out, nil
}

// databaseFilter parses the tab-separated user listing the SQL enumeration
// module emits: username, optional host pattern, optional password-change
// timestamp.
type databaseFilter struct{}

func (databaseFilter) Parse(raw string) ([]reconcile.Observation, error) {
	var out []reconcile.Observation
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		obs := reconcile.Observation{Username: fields[0], Detail: map[string]string{}}
		if len(fields) > 1 && fields[1] != "" {
			obs.Detail["host"] = fields[1]
		}
		if len(fields) > 2 {
			obs.PasswordChangedAt = parseGatherTime(fields[2])
		}
		out = append(out, obs)
	}
	return out, nil
}

// parseGatherTime accepts RFC3339 or the "2006-01-02 15:04:05" form modules
// commonly emit; anything else is treated as absent.
func parseGatherTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return &ts
		}
	}
	return nil
}
