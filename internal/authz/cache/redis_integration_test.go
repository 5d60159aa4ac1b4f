//go:build integration

package cache

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"aegis/internal/authz"
	id "aegis/pkg/domain"
	"aegis/pkg/testutil/containers"
)

func TestRedisDecisionCache(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	rc := containers.NewRedisContainer(t)
	c := NewRedis(rc.Client)
	ctx := context.Background()

	key := authz.CacheKey{
		Principal:   id.PrincipalID(uuid.New()),
		Scope:       id.TenantScope{Type: id.TenantOrganization, ID: "o1"},
		Action:      "read",
		Resource:    "account",
		RoleVersion: 3,
	}
	decision := authz.CachedDecision{Outcome: id.OutcomeAllow, Reason: id.ReasonGranted}

	t.Run("miss before set", func(t *testing.T) {
		_, ok := c.Get(ctx, key)
		require.False(t, ok)
	})

	t.Run("round trip", func(t *testing.T) {
		c.Set(ctx, key, decision)
		got, ok := c.Get(ctx, key)
		require.True(t, ok)
		require.Equal(t, decision, got)
	})

	t.Run("first writer wins", func(t *testing.T) {
		c.Set(ctx, key, authz.CachedDecision{Outcome: id.OutcomeDeny, Reason: id.ReasonDenyOverride})
		got, ok := c.Get(ctx, key)
		require.True(t, ok)
		require.Equal(t, decision, got)
	})

	t.Run("version bump changes the key", func(t *testing.T) {
		bumped := key
		bumped.RoleVersion = 4
		_, ok := c.Get(ctx, bumped)
		require.False(t, ok)
	})
}
