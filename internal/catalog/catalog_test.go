package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupIsClosedWorld(t *testing.T) {
	c := New()
	c.Register("account", "read", PermAccountRead)

	t.Run("registered pair resolves", func(t *testing.T) {
		permID, ok := c.Lookup("account", "read")
		require.True(t, ok)
		assert.Equal(t, PermAccountRead, permID)
	})

	t.Run("unregistered action does not resolve", func(t *testing.T) {
		_, ok := c.Lookup("account", "delete")
		assert.False(t, ok)
	})

	t.Run("unregistered resource does not resolve", func(t *testing.T) {
		_, ok := c.Lookup("invoice", "read")
		assert.False(t, ok)
	})
}

func TestRegisterIsImmutableOncePublished(t *testing.T) {
	c := New()
	c.Register("account", "read", PermAccountRead)
	c.Register("account", "read", PermissionID("account:read-v2"))

	permID, ok := c.Lookup("account", "read")
	require.True(t, ok)
	assert.Equal(t, PermAccountRead, permID, "first registration wins")
}

func TestDefaultCatalogCoversAuditRead(t *testing.T) {
	c := Default()

	permID, ok := c.Lookup("audit", "read")
	require.True(t, ok)
	assert.Equal(t, PermAuditRead, permID)
	assert.True(t, c.Defined(PermAuditRead))
	assert.NotEmpty(t, c.All())
}
