//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"aegis/internal/audit"
	id "aegis/pkg/domain"
	"aegis/pkg/platform/sentinel"
	"aegis/pkg/testutil/containers"
)

type PostgresAuditStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *Store
	ctx   context.Context
	scope id.TenantScope
}

func (s *PostgresAuditStoreSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.store = New(s.pg.DB)
	s.ctx = context.Background()
}

func (s *PostgresAuditStoreSuite) SetupTest() {
	s.scope = id.TenantScope{Type: id.TenantOrganization, ID: uuid.NewString()}
}

func TestPostgresAuditStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresAuditStoreSuite))
}

func (s *PostgresAuditStoreSuite) newEntry(completion audit.Completion) *audit.Entry {
	return &audit.Entry{
		ID:         id.NewEntryID(),
		Scope:      s.scope,
		Actor:      id.PrincipalID(uuid.New()),
		Action:     "update",
		Resource:   "account",
		ResourceID: "acct-1",
		Outcome:    id.OutcomeAllow,
		Reason:     id.ReasonGranted,
		Completion: completion,
		RecordedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func (s *PostgresAuditStoreSuite) TestSequencingUnderContention() {
	const writers = 16

	var g errgroup.Group
	for range writers {
		g.Go(func() error {
			_, err := s.store.Append(s.ctx, s.newEntry(audit.CompletionPending))
			return err
		})
	}
	s.Require().NoError(g.Wait())

	entries, err := s.store.Query(s.ctx, audit.Filter{Scope: s.scope})
	s.Require().NoError(err)
	s.Require().Len(entries, writers)

	for i, entry := range entries {
		s.Equal(int64(i+1), entry.Seq)
	}

	brk, err := s.store.VerifyChain(s.ctx, s.scope)
	s.Require().NoError(err)
	s.Nil(brk)
}

func (s *PostgresAuditStoreSuite) TestFinalizeOnce() {
	stored, err := s.store.Append(s.ctx, s.newEntry(audit.CompletionPending))
	s.Require().NoError(err)

	at := time.Now().UTC().Truncate(time.Microsecond)
	s.Require().NoError(s.store.Finalize(s.ctx, s.scope, stored.ID, audit.CompletionSucceeded, "digest", at))

	err = s.store.Finalize(s.ctx, s.scope, stored.ID, audit.CompletionFailed, "", at)
	s.Require().ErrorIs(err, sentinel.ErrAlreadyFinalized)

	err = s.store.Finalize(s.ctx, s.scope, id.NewEntryID(), audit.CompletionSucceeded, "", at)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	got, err := s.store.Get(s.ctx, stored.ID)
	s.Require().NoError(err)
	s.Equal(audit.CompletionSucceeded, got.Completion)
	s.Equal("digest", got.AfterDigest)
}

func (s *PostgresAuditStoreSuite) TestFinalizeScopedToTenant() {
	stored, err := s.store.Append(s.ctx, s.newEntry(audit.CompletionPending))
	s.Require().NoError(err)

	other := id.TenantScope{Type: id.TenantOrganization, ID: uuid.NewString()}
	err = s.store.Finalize(s.ctx, other, stored.ID, audit.CompletionSucceeded, "forged", time.Now().UTC())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	got, err := s.store.Get(s.ctx, stored.ID)
	s.Require().NoError(err)
	s.Equal(audit.CompletionPending, got.Completion)
	s.Empty(got.AfterDigest)
}

func (s *PostgresAuditStoreSuite) TestRoundTrip() {
	entry := s.newEntry(audit.CompletionDenied)
	entry.Outcome = id.OutcomeDeny
	entry.Reason = id.ReasonDenyOverride
	entry.BeforeDigest = "before"
	entry.RequestID = "req-9"
	entry.ClientIP = "198.51.100.7"
	entry.UserAgent = "firefox/131"
	entry.CausalToken = id.NewEntryID()

	// The causal target must exist for forensic joins, but the store does
	// not enforce it; use a real prior entry anyway.
	original, err := s.store.Append(s.ctx, s.newEntry(audit.CompletionPending))
	s.Require().NoError(err)
	entry.CausalToken = original.ID

	stored, err := s.store.Append(s.ctx, entry)
	s.Require().NoError(err)

	got, err := s.store.Get(s.ctx, stored.ID)
	s.Require().NoError(err)
	s.Equal(entry.Reason, got.Reason)
	s.Equal(entry.BeforeDigest, got.BeforeDigest)
	s.Equal(entry.RequestID, got.RequestID)
	s.Equal(entry.ClientIP, got.ClientIP)
	s.Equal(entry.UserAgent, got.UserAgent)
	s.Equal(original.ID, got.CausalToken)
	s.Equal(stored.ChainHash, got.ChainHash)
}

func (s *PostgresAuditStoreSuite) TestStaleAndOutbox() {
	old := s.newEntry(audit.CompletionPending)
	old.RecordedAt = time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)
	oldStored, err := s.store.Append(s.ctx, old)
	s.Require().NoError(err)

	fresh, err := s.store.Append(s.ctx, s.newEntry(audit.CompletionPending))
	s.Require().NoError(err)

	now := time.Now().UTC().Truncate(time.Microsecond)
	marked, err := s.store.MarkStale(s.ctx, now.Add(-15*time.Minute), now)
	s.Require().NoError(err)
	s.Equal(1, marked)

	got, err := s.store.Get(s.ctx, oldStored.ID)
	s.Require().NoError(err)
	s.Equal(audit.CompletionStale, got.Completion)

	unpublished, err := s.store.ListUnpublished(s.ctx, 100)
	s.Require().NoError(err)

	var ids []id.EntryID
	for _, e := range unpublished {
		s.NotEqual(fresh.ID, e.ID, "pending entries must stay out of the outbox")
		if e.Scope == s.scope {
			ids = append(ids, e.ID)
		}
	}
	s.Require().NotEmpty(ids)

	s.Require().NoError(s.store.MarkPublished(s.ctx, ids))
	unpublished, err = s.store.ListUnpublished(s.ctx, 100)
	s.Require().NoError(err)
	for _, e := range unpublished {
		s.NotEqual(s.scope, e.Scope)
	}
}
