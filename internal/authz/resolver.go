// Package authz resolves whether a tenant context permits an action on a
// resource type. Resolution is deterministic given identical inputs and role
// state, and every ambiguity resolves to deny.
package authz

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"aegis/internal/authz/metrics"
	"aegis/internal/catalog"
	"aegis/internal/rbac"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/requestcontext"
)

var tracer = otel.Tracer("aegis/internal/authz")

// Resolver computes Allow/Deny from a tenant context, read-through cached by
// (principal, scope, action, resource, role-version).
type Resolver struct {
	catalog *catalog.Catalog
	roles   rbac.Store
	cache   DecisionCache
	metrics *metrics.Metrics
}

// Option configures the Resolver.
type Option func(*Resolver)

// WithCache sets the decision cache backend.
func WithCache(cache DecisionCache) Option {
	return func(r *Resolver) { r.cache = cache }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// New constructs a Resolver. Without WithCache every resolution recomputes.
func New(cat *catalog.Catalog, roles rbac.Store, opts ...Option) *Resolver {
	r := &Resolver{catalog: cat, roles: roles}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the decision for (context, action, resource). Denials are
// values, not errors; an error means the role store could not be consulted
// and the caller must fail closed.
func (r *Resolver) Resolve(ctx context.Context, tc *id.TenantContext, action id.Action, resource id.ResourceType) (id.Decision, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "authz.Resolve", trace.WithAttributes(
		attribute.String("tenant", tc.Scope.Key()),
		attribute.String("action", string(action)),
		attribute.String("resource", string(resource)),
	))
	defer span.End()

	now := requestcontext.Now(ctx)
	key := CacheKey{
		Principal:   tc.Principal,
		Scope:       tc.Scope,
		Action:      action,
		Resource:    resource,
		RoleVersion: tc.RoleVersion,
	}

	if r.cache != nil {
		if cached, ok := r.cache.Get(ctx, key); ok {
			r.metrics.IncCacheLookup("hit")
			span.SetAttributes(attribute.Bool("cache_hit", true))
			return id.Decision{Outcome: cached.Outcome, Reason: cached.Reason, EvaluatedAt: now}, nil
		}
		r.metrics.IncCacheLookup("miss")
	}

	roles, err := r.roles.GetRoles(ctx, tc.RoleIDs)
	if err != nil {
		return id.Decision{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "role load failed")
	}

	outcome, reason := EvaluateRoles(r.catalog, roles, action, resource)

	if r.cache != nil {
		r.cache.Set(ctx, key, CachedDecision{Outcome: outcome, Reason: reason})
	}

	r.metrics.IncResolution(string(outcome), string(reason))
	r.metrics.ObserveResolveLatency(time.Since(start))
	span.SetAttributes(attribute.String("outcome", string(outcome)))

	return id.Decision{Outcome: outcome, Reason: reason, EvaluatedAt: now}, nil
}
