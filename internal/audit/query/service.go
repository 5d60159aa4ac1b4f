// Package query is the read side of the audit log. It never crosses tenant
// scopes: every query is itself a guarded operation, checked against the
// audit read permission before any row is returned.
package query

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"aegis/internal/audit"
	"aegis/internal/guard"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// Request selects audit entries within the caller's tenant scope.
type Request struct {
	Actor      id.PrincipalID
	Resource   id.ResourceType
	ResourceID string
	Action     id.Action
	Outcome    id.Outcome
	Completion audit.Completion
	From       time.Time
	To         time.Time

	// ResumeToken continues a previous page. Tokens are scope-bound; a
	// token minted for one tenant is invalid in another.
	ResumeToken string
	PageSize    int
}

// Page is one slice of the ever-growing log, ordered by sequence number
// ascending, with a token to continue from.
type Page struct {
	Entries []*audit.Entry
	// NextToken is empty when the page reached the current end of the log.
	NextToken string
	// StaleFindings lists entries in this page that went permanently
	// pending: a data-quality anomaly, surfaced rather than auto-corrected.
	StaleFindings []id.EntryID
}

// Service reads the audit log through the authorization guard.
type Service struct {
	store audit.Store
	guard *guard.Guard
}

// New constructs the query service.
func New(store audit.Store, g *guard.Guard) *Service {
	return &Service{store: store, guard: g}
}

// Query returns the caller's next page. The tenant scope comes exclusively
// from the resolved context, never from the request, so a query cannot name
// a scope its principal was not resolved for.
func (s *Service) Query(ctx context.Context, tc *id.TenantContext, req Request) (*Page, error) {
	if tc == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "tenant context is required")
	}

	result, err := s.guard.Check(ctx, tc, guard.CheckRequest{
		Action:     "read",
		Resource:   "audit",
		ResourceID: tc.Scope.Key(),
	})
	if err != nil {
		return nil, err
	}
	if !result.Decision.Allowed() {
		return nil, dErrors.New(dErrors.CodeForbidden, "audit read not permitted: "+string(result.Decision.Reason))
	}

	afterSeq, err := parseToken(req.ResumeToken, tc.Scope)
	if err != nil {
		s.finalize(ctx, result, false)
		return nil, err
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	entries, err := s.store.Query(ctx, audit.Filter{
		Scope:      tc.Scope,
		Actor:      req.Actor,
		Resource:   req.Resource,
		ResourceID: req.ResourceID,
		Action:     req.Action,
		Outcome:    req.Outcome,
		Completion: req.Completion,
		From:       req.From,
		To:         req.To,
		AfterSeq:   afterSeq,
		Limit:      pageSize,
	})
	if err != nil {
		s.finalize(ctx, result, false)
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "audit query failed")
	}

	page := &Page{Entries: entries}
	for _, entry := range entries {
		if entry.Completion == audit.CompletionStale {
			page.StaleFindings = append(page.StaleFindings, entry.ID)
		}
	}
	if len(entries) == pageSize {
		page.NextToken = mintToken(tc.Scope, entries[len(entries)-1].Seq)
	}

	s.finalize(ctx, result, true)
	return page, nil
}

// VerifyChain reports the first broken link in the caller's tenant chain.
// Like Query, it is gated on the audit read permission.
func (s *Service) VerifyChain(ctx context.Context, tc *id.TenantContext) (*audit.ChainBreak, error) {
	if tc == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "tenant context is required")
	}

	result, err := s.guard.Check(ctx, tc, guard.CheckRequest{
		Action:     "read",
		Resource:   "audit",
		ResourceID: tc.Scope.Key(),
	})
	if err != nil {
		return nil, err
	}
	if !result.Decision.Allowed() {
		return nil, dErrors.New(dErrors.CodeForbidden, "audit read not permitted: "+string(result.Decision.Reason))
	}

	brk, err := s.store.VerifyChain(ctx, tc.Scope)
	if err != nil {
		s.finalize(ctx, result, false)
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "chain verification failed")
	}
	s.finalize(ctx, result, true)
	return brk, nil
}

func (s *Service) finalize(ctx context.Context, result guard.Result, succeeded bool) {
	if result.Handle == nil {
		return
	}
	// Read operations have no after-state; the entry just needs a terminal
	// completion.
	_ = s.guard.Finalize(ctx, result.Handle, succeeded, nil)
}

type resumeToken struct {
	Scope   string `json:"scope"`
	LastSeq int64  `json:"last_seq"`
}

func mintToken(scope id.TenantScope, lastSeq int64) string {
	raw, _ := json.Marshal(resumeToken{Scope: scope.Key(), LastSeq: lastSeq})
	return base64.URLEncoding.EncodeToString(raw)
}

func parseToken(token string, scope id.TenantScope) (int64, error) {
	if token == "" {
		return 0, nil
	}
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "malformed resume token")
	}
	var parsed resumeToken
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "malformed resume token")
	}
	if parsed.Scope != scope.Key() {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "resume token belongs to a different tenant")
	}
	if parsed.LastSeq < 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "malformed resume token")
	}
	return parsed.LastSeq, nil
}
