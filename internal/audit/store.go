package audit

import (
	"context"
	"time"

	id "aegis/pkg/domain"
)

// Filter selects entries for the query side. Scope is mandatory: there is no
// cross-tenant query surface.
type Filter struct {
	Scope      id.TenantScope
	Actor      id.PrincipalID // zero value: any actor
	Resource   id.ResourceType
	ResourceID string
	Action     id.Action
	Outcome    id.Outcome
	Completion Completion
	From       time.Time
	To         time.Time
	// AfterSeq resumes a paged read strictly after the given sequence
	// number. Results are always ordered by Seq ascending.
	AfterSeq int64
	Limit    int
}

// ChainBreak reports the first broken link found by a chain verification.
type ChainBreak struct {
	Scope id.TenantScope
	Seq   int64
}

//go:generate mockgen -source=store.go -destination=mocks/mocks.go -package=mocks

// Store persists audit entries. Append assigns the tenant's next gapless
// sequence number and the chain hash under per-tenant serialization, and the
// entry is durable before Append returns. Implementations must return
// sentinel.ErrTimeout when the per-tenant serialization point cannot be
// acquired within the context's deadline, and sentinel.ErrAlreadyFinalized
// from Finalize for entries in a terminal state. Finalize matches the entry
// by ID and scope together; an ID that exists under a different tenant is
// sentinel.ErrNotFound, indistinguishable from an unknown ID.
type Store interface {
	Append(ctx context.Context, entry *Entry) (*Entry, error)
	Get(ctx context.Context, entryID id.EntryID) (*Entry, error)
	Finalize(ctx context.Context, scope id.TenantScope, entryID id.EntryID, completion Completion, afterDigest string, at time.Time) error
	Query(ctx context.Context, filter Filter) ([]*Entry, error)

	// MarkStale transitions pending entries recorded before the cutoff into
	// the stale terminal state and returns how many were marked.
	MarkStale(ctx context.Context, cutoff, at time.Time) (int, error)

	// VerifyChain walks a tenant's hash chain and reports the first broken
	// link, or nil if the chain is intact.
	VerifyChain(ctx context.Context, scope id.TenantScope) (*ChainBreak, error)

	// Outbox surface for the fan-out publisher.
	ListUnpublished(ctx context.Context, limit int) ([]*Entry, error)
	MarkPublished(ctx context.Context, entryIDs []id.EntryID) error
}
