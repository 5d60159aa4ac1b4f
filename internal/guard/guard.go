// Package guard is the single call-site collaborators use before touching a
// protected resource. It wraps permission resolution with fail-closed error
// handling and couples every decision to a durable audit record: no
// permitted action occurs without a record of having permitted it.
package guard

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"aegis/internal/audit"
	"aegis/internal/guard/metrics"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/sentinel"
	"aegis/pkg/requestcontext"
)

var tracer = otel.Tracer("aegis/internal/guard")

// PermissionResolver is the decision engine behind the guard.
type PermissionResolver interface {
	Resolve(ctx context.Context, tc *id.TenantContext, action id.Action, resource id.ResourceType) (id.Decision, error)
}

// AuditRecorder is the record-keeping engine behind the guard.
type AuditRecorder interface {
	Record(ctx context.Context, scope id.TenantScope, decision id.Decision, meta audit.ActionMetadata) (*audit.Handle, error)
	Finalize(ctx context.Context, handle *audit.Handle, completion audit.Completion, afterDigest string) error
}

// CheckRequest names the operation a collaborator wants gated.
type CheckRequest struct {
	Action     id.Action
	Resource   id.ResourceType
	ResourceID string
	// BeforeState is the caller's snapshot of the resource prior to the
	// mutation; only its digest is retained.
	BeforeState []byte
}

// Result carries the decision and, when an entry was durably written, the
// handle the caller must finalize after performing (or failing) the
// mutation.
type Result struct {
	Decision id.Decision
	Handle   *audit.Handle
}

// Guard orchestrates resolve → record → return, fail-closed at every seam.
type Guard struct {
	resolver PermissionResolver
	recorder AuditRecorder
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures the Guard.
type Option func(*Guard)

// WithLogger sets a logger for fail-closed conversions.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) { g.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

// New constructs a Guard.
func New(resolver PermissionResolver, recorder AuditRecorder, opts ...Option) *Guard {
	g := &Guard{resolver: resolver, recorder: recorder}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check decides whether the context permits the request and records the
// decision durably before returning. Infrastructure failures never surface
// as errors: they become denials. The only errors returned are malformed
// inputs.
func (g *Guard) Check(ctx context.Context, tc *id.TenantContext, req CheckRequest) (Result, error) {
	if tc == nil {
		return Result{}, dErrors.New(dErrors.CodeInvalidInput, "tenant context is required")
	}
	if req.Action == "" || req.Resource == "" {
		return Result{}, dErrors.New(dErrors.CodeInvalidInput, "action and resource type are required")
	}

	start := time.Now()
	ctx, span := tracer.Start(ctx, "guard.Check", trace.WithAttributes(
		attribute.String("tenant", tc.Scope.Key()),
		attribute.String("action", string(req.Action)),
		attribute.String("resource", string(req.Resource)),
	))
	defer span.End()
	defer func() { g.metrics.ObserveCheckLatency(time.Since(start)) }()

	now := requestcontext.Now(ctx)

	decision, err := g.resolver.Resolve(ctx, tc, req.Action, req.Resource)
	if err != nil {
		decision = id.Deny(id.ReasonResolverUnavailable, now)
		g.metrics.IncFailClosed(string(id.ReasonResolverUnavailable))
		if g.logger != nil {
			g.logger.ErrorContext(ctx, "permission resolver unavailable, failing closed",
				"tenant", tc.Scope.Key(),
				"action", string(req.Action),
				"error", err,
			)
		}
	}

	meta := audit.ActionMetadata{
		Actor:        tc.Principal,
		Action:       req.Action,
		Resource:     req.Resource,
		ResourceID:   req.ResourceID,
		BeforeDigest: audit.StateDigest(req.BeforeState),
	}

	handle, err := g.recorder.Record(ctx, tc.Scope, decision, meta)
	if err != nil {
		// No durable record, no permitted action. The reason distinguishes
		// sequencing timeouts from other persistence failures.
		reason := id.ReasonAuditUnavailable
		if errors.Is(err, sentinel.ErrTimeout) {
			reason = id.ReasonSequenceUnavailable
		}
		g.metrics.IncFailClosed(string(reason))
		g.metrics.IncCheck(string(id.OutcomeDeny), string(reason))
		if g.logger != nil {
			g.logger.ErrorContext(ctx, "audit record failed, converting to denial",
				"tenant", tc.Scope.Key(),
				"action", string(req.Action),
				"error", err,
			)
		}
		span.SetAttributes(attribute.String("outcome", string(id.OutcomeDeny)))
		return Result{Decision: id.Deny(reason, now)}, nil
	}

	// A caller cancelled after the entry became durable must not leave it
	// pending forever.
	if decision.Allowed() && ctx.Err() != nil {
		finalizeCtx := context.WithoutCancel(ctx)
		if ferr := g.recorder.Finalize(finalizeCtx, handle, audit.CompletionAborted, ""); ferr != nil && g.logger != nil {
			g.logger.ErrorContext(finalizeCtx, "abort finalize failed", "entry", handle.Entry.String(), "error", ferr)
		}
		g.metrics.IncCheck(string(id.OutcomeDeny), string(id.ReasonAborted))
		return Result{Decision: id.Deny(id.ReasonAborted, now)}, ctx.Err()
	}

	g.metrics.IncCheck(string(decision.Outcome), string(decision.Reason))
	span.SetAttributes(attribute.String("outcome", string(decision.Outcome)))
	return Result{Decision: decision, Handle: handle}, nil
}

// Finalize reports the guarded mutation's result back to the audit trail.
// succeeded=false records a failed mutation; the entry itself stays intact
// either way. Denied checks carry no pending entry and need no finalize.
func (g *Guard) Finalize(ctx context.Context, handle *audit.Handle, succeeded bool, afterState []byte) error {
	completion := audit.CompletionSucceeded
	if !succeeded {
		completion = audit.CompletionFailed
	}
	return g.recorder.Finalize(ctx, handle, completion, audit.StateDigest(afterState))
}
