package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntry_Path(t *testing.T) {
	t.Parallel()

	entry := AccountEntry("org-1", "acc-9")
	assert.Equal(t, "orgs/org-1/accounts/acc-9", entry.Path())
	assert.Equal(t, "orgs--org-1--accounts--acc-9", entry.Flat())
	assert.Equal(t, []byte("acc-9"), entry.AAD())
}

func TestRegistry_SupportedTypes(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	assert.Equal(t, []string{TypeAWS, TypeAzure, TypeGCP, TypeHCVault, TypeLocal}, r.SupportedTypes())
}

func TestRegistry_Create_UnknownType(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry().Create("consul", nil, Deps{})
	assert.ErrorContains(t, err, "unknown vault backend type")
}
