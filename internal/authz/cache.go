package authz

import (
	"context"
	"fmt"

	id "aegis/pkg/domain"
)

// CacheKey identifies one resolved decision. The role-version snapshot is
// part of the key: a role edit produces new keys, so stale entries become
// unreachable instead of needing eviction. Version, not wall-clock TTL, is
// the correctness mechanism.
type CacheKey struct {
	Principal   id.PrincipalID
	Scope       id.TenantScope
	Action      id.Action
	Resource    id.ResourceType
	RoleVersion int64
}

// String renders the key for string-keyed backends (Redis).
func (k CacheKey) String() string {
	return fmt.Sprintf("authz:%s:%s:%s:%s:v%d",
		k.Principal.String(), k.Scope.Key(), k.Action, k.Resource, k.RoleVersion)
}

// CachedDecision is the cacheable part of a decision. Timestamps are not
// cached; each check gets its own evaluation time.
type CachedDecision struct {
	Outcome id.Outcome `json:"outcome"`
	Reason  id.Reason  `json:"reason"`
}

// DecisionCache is the read-through cache behind the resolver. It must be
// safe for concurrent read and insert. Lookup misses and backend failures
// both report ok=false: a broken cache degrades to recomputation, never to a
// wrong answer.
type DecisionCache interface {
	Get(ctx context.Context, key CacheKey) (CachedDecision, bool)
	Set(ctx context.Context, key CacheKey, decision CachedDecision)
}
