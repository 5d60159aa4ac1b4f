// Package memory holds the in-process audit store used by unit tests and
// single-node development. It mirrors the Postgres store's contract exactly,
// including bounded sequence acquisition.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"aegis/internal/audit"
	id "aegis/pkg/domain"
	"aegis/pkg/platform/sentinel"
)

// Store keeps per-tenant logs in memory. Each tenant has its own
// serialization point (a one-slot semaphore) so same-tenant appends are
// gapless while different tenants never contend.
type Store struct {
	mu        sync.RWMutex
	tenants   map[string]*tenantLog
	byID      map[id.EntryID]*audit.Entry
	published map[id.EntryID]bool
}

type tenantLog struct {
	sem       chan struct{}
	entries   []*audit.Entry
	lastChain string
}

// New returns an empty in-memory audit store.
func New() *Store {
	return &Store{
		tenants:   make(map[string]*tenantLog),
		byID:      make(map[id.EntryID]*audit.Entry),
		published: make(map[id.EntryID]bool),
	}
}

func (s *Store) tenant(scope id.TenantScope) *tenantLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.tenants[scope.Key()]
	if !ok {
		log = &tenantLog{sem: make(chan struct{}, 1)}
		s.tenants[scope.Key()] = log
	}
	return log
}

func (s *Store) Append(ctx context.Context, entry *audit.Entry) (*audit.Entry, error) {
	log := s.tenant(entry.Scope)

	// Bounded acquisition of the per-tenant serialization point. A caller
	// whose deadline expires here fails closed upstream rather than skip
	// ordering. Check ctx first: when the semaphore is also free, select
	// would otherwise pick a ready case at random (F4).
	if ctx.Err() != nil {
		return nil, sentinel.ErrTimeout
	}
	select {
	case log.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, sentinel.ErrTimeout
	}
	defer func() { <-log.sem }()

	stored := *entry
	stored.Seq = int64(len(log.entries)) + 1
	stored.ChainHash = audit.ChainHash(log.lastChain, &stored)

	s.mu.Lock()
	log.entries = append(log.entries, &stored)
	log.lastChain = stored.ChainHash
	s.byID[stored.ID] = &stored
	s.mu.Unlock()

	copied := stored
	return &copied, nil
}

func (s *Store) Get(_ context.Context, entryID id.EntryID) (*audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.byID[entryID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *entry
	return &copied, nil
}

func (s *Store) Finalize(_ context.Context, scope id.TenantScope, entryID id.EntryID, completion audit.Completion, afterDigest string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byID[entryID]
	if !ok || entry.Scope != scope {
		return sentinel.ErrNotFound
	}
	if entry.Completion.Terminal() {
		return sentinel.ErrAlreadyFinalized
	}
	entry.Completion = completion
	entry.AfterDigest = afterDigest
	entry.FinalizedAt = &at
	return nil
}

func (s *Store) Query(_ context.Context, filter audit.Filter) ([]*audit.Entry, error) {
	s.mu.RLock()
	log, ok := s.tenants[filter.Scope.Key()]
	if !ok {
		s.mu.RUnlock()
		return nil, nil
	}
	entries := make([]*audit.Entry, len(log.entries))
	copy(entries, log.entries)
	s.mu.RUnlock()

	var out []*audit.Entry
	for _, entry := range entries {
		if !matches(entry, filter) {
			continue
		}
		copied := *entry
		out = append(out, &copied)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func matches(entry *audit.Entry, filter audit.Filter) bool {
	if entry.Seq <= filter.AfterSeq {
		return false
	}
	if !filter.Actor.IsNil() && entry.Actor != filter.Actor {
		return false
	}
	if filter.Resource != "" && entry.Resource != filter.Resource {
		return false
	}
	if filter.ResourceID != "" && entry.ResourceID != filter.ResourceID {
		return false
	}
	if filter.Action != "" && entry.Action != filter.Action {
		return false
	}
	if filter.Outcome != "" && entry.Outcome != filter.Outcome {
		return false
	}
	if filter.Completion != "" && entry.Completion != filter.Completion {
		return false
	}
	if !filter.From.IsZero() && entry.RecordedAt.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && entry.RecordedAt.After(filter.To) {
		return false
	}
	return true
}

func (s *Store) MarkStale(_ context.Context, cutoff, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	marked := 0
	for _, entry := range s.byID {
		if entry.Completion == audit.CompletionPending && entry.RecordedAt.Before(cutoff) {
			entry.Completion = audit.CompletionStale
			finalized := at
			entry.FinalizedAt = &finalized
			marked++
		}
	}
	return marked, nil
}

func (s *Store) VerifyChain(_ context.Context, scope id.TenantScope) (*audit.ChainBreak, error) {
	s.mu.RLock()
	log, ok := s.tenants[scope.Key()]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	prev := ""
	for _, entry := range log.entries {
		if audit.ChainHash(prev, entry) != entry.ChainHash {
			return &audit.ChainBreak{Scope: scope, Seq: entry.Seq}, nil
		}
		prev = entry.ChainHash
	}
	return nil, nil
}

func (s *Store) ListUnpublished(_ context.Context, limit int) ([]*audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*audit.Entry
	for _, entry := range s.byID {
		if entry.Completion.Terminal() && !s.published[entry.ID] {
			copied := *entry
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Scope.Key() != out[j].Scope.Key() {
			return out[i].Scope.Key() < out[j].Scope.Key()
		}
		return out[i].Seq < out[j].Seq
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkPublished(_ context.Context, entryIDs []id.EntryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entryID := range entryIDs {
		s.published[entryID] = true
	}
	return nil
}
