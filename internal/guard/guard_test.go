package guard_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"aegis/internal/audit"
	"aegis/internal/audit/mocks"
	"aegis/internal/audit/store/memory"
	"aegis/internal/guard"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/sentinel"
)

// stubResolver returns a fixed decision or error, standing in for the
// permission resolver.
type stubResolver struct {
	decision id.Decision
	err      error
}

func (r *stubResolver) Resolve(_ context.Context, _ *id.TenantContext, _ id.Action, _ id.ResourceType) (id.Decision, error) {
	return r.decision, r.err
}

type GuardSuite struct {
	suite.Suite
	store    *memory.Store
	resolver *stubResolver
	guard    *guard.Guard
	ctx      context.Context
	tc       *id.TenantContext
}

func (s *GuardSuite) SetupTest() {
	s.store = memory.New()
	s.resolver = &stubResolver{decision: id.Allow(time.Now().UTC())}
	s.guard = guard.New(s.resolver, audit.NewRecorder(s.store))
	s.ctx = context.Background()
	s.tc = &id.TenantContext{
		Principal:   id.PrincipalID(uuid.New()),
		Scope:       id.TenantScope{Type: id.TenantOrganization, ID: "o1"},
		RoleVersion: 1,
	}
}

func TestGuardSuite(t *testing.T) {
	suite.Run(t, new(GuardSuite))
}

func (s *GuardSuite) check() guard.CheckRequest {
	return guard.CheckRequest{Action: "update", Resource: "account", ResourceID: "acct-1"}
}

func (s *GuardSuite) TestCheck() {
	s.Run("allowed check returns a finalizable handle", func() {
		result, err := s.guard.Check(s.ctx, s.tc, s.check())
		s.Require().NoError(err)
		s.True(result.Decision.Allowed())
		s.Require().NotNil(result.Handle)

		entry, err := s.store.Get(s.ctx, result.Handle.Entry)
		s.Require().NoError(err)
		s.Equal(audit.CompletionPending, entry.Completion)
	})

	s.Run("denial is recorded before it is returned", func() {
		s.resolver.decision = id.Deny(id.ReasonPermissionNotGranted, time.Now().UTC())

		result, err := s.guard.Check(s.ctx, s.tc, s.check())
		s.Require().NoError(err)
		s.False(result.Decision.Allowed())

		entries, err := s.store.Query(s.ctx, audit.Filter{Scope: s.tc.Scope, Outcome: id.OutcomeDeny})
		s.Require().NoError(err)
		s.Require().NotEmpty(entries)
		s.Equal(audit.CompletionDenied, entries[len(entries)-1].Completion)
	})

	s.Run("before state is retained only as a digest", func() {
		s.resolver.decision = id.Allow(time.Now().UTC())
		req := s.check()
		req.BeforeState = []byte(`{"balance":100}`)

		result, err := s.guard.Check(s.ctx, s.tc, req)
		s.Require().NoError(err)

		entry, err := s.store.Get(s.ctx, result.Handle.Entry)
		s.Require().NoError(err)
		s.Equal(audit.StateDigest(req.BeforeState), entry.BeforeDigest)
		s.NotContains(entry.BeforeDigest, "balance")
	})

	s.Run("missing tenant context is an input error", func() {
		_, err := s.guard.Check(s.ctx, nil, s.check())
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("missing action is an input error", func() {
		_, err := s.guard.Check(s.ctx, s.tc, guard.CheckRequest{Resource: "account"})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *GuardSuite) TestFailClosed() {
	s.Run("resolver failure becomes a denial, not an error", func() {
		s.resolver.err = errors.New("role store down")

		result, err := s.guard.Check(s.ctx, s.tc, s.check())
		s.Require().NoError(err)
		s.False(result.Decision.Allowed())
		s.Equal(id.ReasonResolverUnavailable, result.Decision.Reason)

		// The fail-closed denial itself is audited.
		entries, qerr := s.store.Query(s.ctx, audit.Filter{Scope: s.tc.Scope})
		s.Require().NoError(qerr)
		s.Require().Len(entries, 1)
		s.Equal(id.ReasonResolverUnavailable, entries[0].Reason)
	})
}

func (s *GuardSuite) TestFinalize() {
	result, err := s.guard.Check(s.ctx, s.tc, s.check())
	s.Require().NoError(err)

	s.Run("success records the after digest", func() {
		after := []byte(`{"balance":90}`)
		s.Require().NoError(s.guard.Finalize(s.ctx, result.Handle, true, after))

		entry, err := s.store.Get(s.ctx, result.Handle.Entry)
		s.Require().NoError(err)
		s.Equal(audit.CompletionSucceeded, entry.Completion)
		s.Equal(audit.StateDigest(after), entry.AfterDigest)
	})

	s.Run("failure is a terminal state too", func() {
		second, err := s.guard.Check(s.ctx, s.tc, s.check())
		s.Require().NoError(err)
		s.Require().NoError(s.guard.Finalize(s.ctx, second.Handle, false, nil))

		entry, err := s.store.Get(s.ctx, second.Handle.Entry)
		s.Require().NoError(err)
		s.Equal(audit.CompletionFailed, entry.Completion)
	})
}

// TestGuardAuditFailures drives the recorder against a failing store to pin
// down the fail-closed reason codes.
func TestGuardAuditFailures(t *testing.T) {
	tc := &id.TenantContext{
		Principal:   id.PrincipalID(uuid.New()),
		Scope:       id.TenantScope{Type: id.TenantOrganization, ID: "o1"},
		RoleVersion: 1,
	}
	req := guard.CheckRequest{Action: "update", Resource: "account"}
	resolver := &stubResolver{decision: id.Allow(time.Now().UTC())}

	t.Run("audit write failure denies with audit_unavailable", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockStore(ctrl)
		store.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil, errors.New("disk full"))

		g := guard.New(resolver, audit.NewRecorder(store))
		result, err := g.Check(context.Background(), tc, req)
		if err != nil {
			t.Fatalf("fail-closed conversion must not error: %v", err)
		}
		if result.Decision.Allowed() {
			t.Fatal("expected denial")
		}
		if result.Decision.Reason != id.ReasonAuditUnavailable {
			t.Fatalf("expected audit_unavailable, got %s", result.Decision.Reason)
		}
		if result.Handle != nil {
			t.Fatal("no durable entry, no handle")
		}
	})

	t.Run("sequencing timeout denies with sequence_unavailable", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockStore(ctrl)
		store.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrTimeout)

		g := guard.New(resolver, audit.NewRecorder(store))
		result, err := g.Check(context.Background(), tc, req)
		if err != nil {
			t.Fatalf("fail-closed conversion must not error: %v", err)
		}
		if result.Decision.Reason != id.ReasonSequenceUnavailable {
			t.Fatalf("expected sequence_unavailable, got %s", result.Decision.Reason)
		}
	})
}

// TestGuardAbortsOnCancellation verifies that a caller cancelled after the
// entry became durable gets a denial and the entry is closed out as aborted
// rather than left pending forever.
func TestGuardAbortsOnCancellation(t *testing.T) {
	tc := &id.TenantContext{
		Principal:   id.PrincipalID(uuid.New()),
		Scope:       id.TenantScope{Type: id.TenantUser, ID: "u1"},
		RoleVersion: 1,
	}
	resolver := &stubResolver{decision: id.Allow(time.Now().UTC())}

	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)

	entryID := id.NewEntryID()
	store.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, entry *audit.Entry) (*audit.Entry, error) {
			stored := *entry
			stored.ID = entryID
			stored.Seq = 1
			return &stored, nil
		})
	store.EXPECT().Finalize(gomock.Any(), tc.Scope, entryID, audit.CompletionAborted, "", gomock.Any()).Return(nil)

	g := guard.New(resolver, audit.NewRecorder(store))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := g.Check(ctx, tc, guard.CheckRequest{Action: "update", Resource: "account"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result.Decision.Allowed() {
		t.Fatal("expected denial after cancellation")
	}
	if result.Decision.Reason != id.ReasonAborted {
		t.Fatalf("expected aborted, got %s", result.Decision.Reason)
	}
}
