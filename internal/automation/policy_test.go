package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credops/credops/internal/errors"
	"github.com/credops/credops/internal/inventory"
	"github.com/credops/credops/internal/model"
	"github.com/credops/credops/internal/secretgen"
)

func TestDecodePolicy_Defaults(t *testing.T) {
	t.Parallel()

	execution := &model.AutomationExecution{
		Snapshot: `{"org_id":"org-1","asset_ids":["asset-1","asset-2"]}`,
	}

	policy, err := DecodePolicy(execution)
	require.NoError(t, err)
	assert.Equal(t, "org-1", policy.OrgID)
	assert.Equal(t, inventory.PolicyPrivilegedFirst, policy.SelectionPolicy)
	assert.Equal(t, secretgen.StrategyRandom, policy.SecretStrategy)
}

func TestDecodePolicy_Invalid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		snapshot string
		field    string
	}{
		{"not json", `{{`, "snapshot"},
		{"missing org", `{"asset_ids":["asset-1"]}`, "org_id"},
		{"missing assets", `{"org_id":"org-1"}`, "asset_ids"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := DecodePolicy(&model.AutomationExecution{Snapshot: tc.snapshot})
			var cfgErr errors.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tc.field, cfgErr.Field)
		})
	}
}

func TestPolicy_InventoryOptions(t *testing.T) {
	t.Parallel()

	policy := Policy{
		SelectionPolicy:    inventory.PolicyPrivilegedOnly,
		PreferredUsernames: []string{"admin"},
		Protocol:           "winrm",
	}

	opts := policy.InventoryOptions(model.AutomationVerify)
	assert.Equal(t, inventory.PolicyPrivilegedOnly, opts.Policy)
	assert.Equal(t, []string{"admin"}, opts.PreferredUsernames)
	assert.Equal(t, "winrm", opts.Protocol)
	assert.Equal(t, model.AutomationVerify, opts.Automation)
}
