// Package catalog holds the static permission registry. The catalog is
// closed-world: a (resource type, action) pair that is not registered here
// can never be granted, no matter what roles say. Entries are immutable once
// published; new permissions are additive.
package catalog

import (
	"sort"
	"sync"

	id "aegis/pkg/domain"
)

// PermissionID identifies a cataloged permission, e.g. "account:read".
type PermissionID string

// Permission is one catalog entry.
type Permission struct {
	ID       PermissionID
	Resource id.ResourceType
	Action   id.Action
}

// Catalog maps (resource type, action) pairs to permission identifiers.
// Registration happens at startup; lookups are read-only afterwards, so the
// lock only guards against misuse, not a hot path.
type Catalog struct {
	mu      sync.RWMutex
	byPair  map[pairKey]Permission
	defined map[PermissionID]Permission
}

type pairKey struct {
	resource id.ResourceType
	action   id.Action
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{
		byPair:  make(map[pairKey]Permission),
		defined: make(map[PermissionID]Permission),
	}
}

// Register adds a permission to the catalog. The first registration of a
// pair wins; re-registering an existing pair is ignored so published entries
// stay immutable.
func (c *Catalog) Register(resource id.ResourceType, action id.Action, permID PermissionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := pairKey{resource: resource, action: action}
	if _, exists := c.byPair[key]; exists {
		return
	}
	perm := Permission{ID: permID, Resource: resource, Action: action}
	c.byPair[key] = perm
	c.defined[permID] = perm
}

// Lookup resolves the permission gating (resource, action). The boolean is
// false for uncataloged pairs, which callers must treat as a denial.
func (c *Catalog) Lookup(resource id.ResourceType, action id.Action) (PermissionID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	perm, ok := c.byPair[pairKey{resource: resource, action: action}]
	return perm.ID, ok
}

// Defined reports whether a permission identifier exists in the catalog.
// Role permission sets referencing undefined identifiers are inert.
func (c *Catalog) Defined(permID PermissionID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.defined[permID]
	return ok
}

// All returns every registered permission sorted by identifier.
func (c *Catalog) All() []Permission {
	c.mu.RLock()
	defer c.mu.RUnlock()
	perms := make([]Permission, 0, len(c.defined))
	for _, perm := range c.defined {
		perms = append(perms, perm)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].ID < perms[j].ID })
	return perms
}

// Well-known permissions for the financial resources this subsystem gates.
// The audit read permission closes the query-service loop: reading the audit
// log is itself a guarded operation.
const (
	PermAccountRead      PermissionID = "account:read"
	PermAccountCreate    PermissionID = "account:create"
	PermAccountUpdate    PermissionID = "account:update"
	PermAccountDelete    PermissionID = "account:delete"
	PermTransactionRead  PermissionID = "transaction:read"
	PermTransactionWrite PermissionID = "transaction:write"
	PermBudgetRead       PermissionID = "budget:read"
	PermBudgetWrite      PermissionID = "budget:write"
	PermAuditRead        PermissionID = "audit:read"
)

// Default returns the catalog used by the server, pre-populated with the
// protected resource surface.
func Default() *Catalog {
	c := New()
	c.Register("account", "read", PermAccountRead)
	c.Register("account", "create", PermAccountCreate)
	c.Register("account", "update", PermAccountUpdate)
	c.Register("account", "delete", PermAccountDelete)
	c.Register("transaction", "read", PermTransactionRead)
	c.Register("transaction", "create", PermTransactionWrite)
	c.Register("transaction", "update", PermTransactionWrite)
	c.Register("budget", "read", PermBudgetRead)
	c.Register("budget", "update", PermBudgetWrite)
	c.Register("audit", "read", PermAuditRead)
	return c
}
