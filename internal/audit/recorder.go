package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"aegis/internal/audit/metrics"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/sentinel"
	"aegis/pkg/requestcontext"
)

// ActionMetadata describes the guarded operation an entry records.
type ActionMetadata struct {
	Actor        id.PrincipalID
	Action       id.Action
	Resource     id.ResourceType
	ResourceID   string
	BeforeDigest string
}

// Recorder writes decisions to the audit store with synchronous, fail-closed
// semantics: Record returns only after the entry is durable, and a failed
// write must fail the calling operation.
type Recorder struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
}

// Option configures the Recorder.
type Option func(*Recorder)

// WithLogger sets a logger for critical persistence failures.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) { r.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// WithTimeout bounds each durable write. Exceeding it is an infrastructure
// failure, not a wait.
func WithTimeout(timeout time.Duration) Option {
	return func(r *Recorder) { r.timeout = timeout }
}

// NewRecorder constructs a Recorder.
func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{store: store, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends the decision entry for one guarded call and returns its
// handle. Denials are terminal immediately; allowed mutations start pending
// and wait for Finalize. The error distinguishes sequencing timeouts from
// other persistence failures so the guard can attach the right reason code.
func (r *Recorder) Record(ctx context.Context, scope id.TenantScope, decision id.Decision, meta ActionMetadata) (*Handle, error) {
	completion := CompletionPending
	if !decision.Allowed() {
		completion = CompletionDenied
	}

	entry := &Entry{
		ID:           id.NewEntryID(),
		Scope:        scope,
		Actor:        meta.Actor,
		Action:       meta.Action,
		Resource:     meta.Resource,
		ResourceID:   meta.ResourceID,
		Outcome:      decision.Outcome,
		Reason:       decision.Reason,
		BeforeDigest: meta.BeforeDigest,
		Completion:   completion,
		RecordedAt:   decision.EvaluatedAt,
		RequestID:    requestcontext.RequestID(ctx),
		ClientIP:     requestcontext.ClientIP(ctx),
		UserAgent:    requestcontext.UserAgent(ctx),
	}

	writeCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	stored, err := r.store.Append(writeCtx, entry)
	if err != nil {
		r.metrics.IncAppendFailure()
		if r.logger != nil {
			r.logger.ErrorContext(ctx, "audit append failed",
				"tenant", scope.Key(),
				"action", string(meta.Action),
				"error", err,
			)
		}
		return nil, err
	}
	r.metrics.ObserveAppendLatency(time.Since(start))

	return &Handle{Entry: stored.ID, Scope: stored.Scope, Seq: stored.Seq}, nil
}

// Finalize attaches the mutation's outcome to a pending entry. Finalization
// is once-only: repeating a finalize whose completion state already matches
// is a no-op; conflicting repeats are rejected, never silently overwritten.
// The store matches the entry under the handle's scope, so a handle rebuilt
// in one tenant can never close an entry owned by another.
func (r *Recorder) Finalize(ctx context.Context, handle *Handle, completion Completion, afterDigest string) error {
	if handle == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "finalize requires a handle")
	}
	if !completion.Terminal() {
		return dErrors.New(dErrors.CodeInvalidInput, "finalize requires a terminal completion state")
	}

	writeCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := r.store.Finalize(writeCtx, handle.Scope, handle.Entry, completion, afterDigest, requestcontext.Now(ctx))
	switch {
	case err == nil:
		r.metrics.IncFinalization(string(completion))
		return nil
	case errors.Is(err, sentinel.ErrAlreadyFinalized):
		existing, getErr := r.store.Get(writeCtx, handle.Entry)
		if getErr == nil && existing.Completion == completion && existing.AfterDigest == afterDigest {
			return nil
		}
		return dErrors.Wrap(err, dErrors.CodeConflict, "entry already finalized")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "unknown audit entry")
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "audit finalize failed")
	}
}

// Correct appends a correction entry referencing the original via causal
// token. The original is untouched; the correction is terminal on write.
func (r *Recorder) Correct(ctx context.Context, original *Handle, reason id.Reason, meta ActionMetadata) (*Handle, error) {
	if original == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "correction requires the original handle")
	}

	entry := &Entry{
		ID:           id.NewEntryID(),
		Scope:        original.Scope,
		Actor:        meta.Actor,
		Action:       meta.Action,
		Resource:     meta.Resource,
		ResourceID:   meta.ResourceID,
		Outcome:      id.OutcomeDeny,
		Reason:       reason,
		BeforeDigest: meta.BeforeDigest,
		Completion:   CompletionFailed,
		RecordedAt:   requestcontext.Now(ctx),
		CausalToken:  original.Entry,
		RequestID:    requestcontext.RequestID(ctx),
	}

	writeCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	stored, err := r.store.Append(writeCtx, entry)
	if err != nil {
		r.metrics.IncAppendFailure()
		return nil, err
	}
	return &Handle{Entry: stored.ID, Scope: stored.Scope, Seq: stored.Seq}, nil
}

