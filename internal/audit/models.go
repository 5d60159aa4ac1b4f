// Package audit is the record-keeping engine: an append-only, per-tenant
// totally-ordered log of every authorization decision and the outcome of the
// operation it gated. Entries are never updated in place after finalization;
// corrections are new entries pointing at the original via causal token.
package audit

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/blake2b"

	id "aegis/pkg/domain"
)

// Completion is the terminal (or pending) state of the guarded operation an
// entry records.
type Completion string

const (
	// CompletionPending: the decision is recorded, the guarded mutation has
	// not reported back yet.
	CompletionPending Completion = "pending"
	// CompletionSucceeded / CompletionFailed: the caller reported the
	// mutation's outcome.
	CompletionSucceeded Completion = "succeeded"
	CompletionFailed    Completion = "failed"
	// CompletionAborted: the request was cancelled after the entry was
	// durably written.
	CompletionAborted Completion = "aborted"
	// CompletionDenied: the decision itself was a denial; nothing to wait
	// for, the entry is terminal at record time.
	CompletionDenied Completion = "denied"
	// CompletionStale: no finalize arrived within the pending window. A
	// permanently pending entry is a detectable anomaly, not a silent drop.
	CompletionStale Completion = "stale"
)

// Terminal reports whether the completion state can no longer change.
func (c Completion) Terminal() bool { return c != CompletionPending }

// Entry is one immutable audit record. Seq is strictly increasing and
// gapless per tenant scope. ChainHash covers the previous entry's chain
// hash, making per-tenant tampering evident.
type Entry struct {
	ID           id.EntryID
	Scope        id.TenantScope
	Seq          int64
	Actor        id.PrincipalID
	Action       id.Action
	Resource     id.ResourceType
	ResourceID   string
	Outcome      id.Outcome
	Reason       id.Reason
	BeforeDigest string
	AfterDigest  string
	Completion   Completion
	RecordedAt   time.Time
	FinalizedAt  *time.Time
	ChainHash    string
	// CausalToken links a correction entry to the entry it corrects. Nil
	// for ordinary entries.
	CausalToken id.EntryID

	// Request metadata, for forensics.
	RequestID string
	ClientIP  string
	UserAgent string
}

// Handle is what the recorder returns to the guard and the guard returns to
// its caller: enough to finalize the entry later, nothing more.
type Handle struct {
	Entry id.EntryID
	Scope id.TenantScope
	Seq   int64
}

// StateDigest condenses a resource state snapshot into a short stable
// digest for before/after comparison without retaining the state itself.
func StateDigest(state []byte) string {
	if len(state) == 0 {
		return ""
	}
	sum := blake2b.Sum256(state)
	return hex.EncodeToString(sum[:])
}

// ChainHash computes an entry's position in its tenant's hash chain. The
// hash covers the previous link and every field fixed at record time, so
// any in-place edit or reordering breaks every later link.
func ChainHash(prev string, e *Entry) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(prev))
	h.Write([]byte(e.ID.String()))
	h.Write([]byte(e.Scope.Key()))

	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], uint64(e.Seq))
	h.Write(seq[:])

	h.Write([]byte(e.Actor.String()))
	h.Write([]byte(e.Action))
	h.Write([]byte(e.Resource))
	h.Write([]byte(e.ResourceID))
	h.Write([]byte(e.Outcome))
	h.Write([]byte(e.Reason))
	h.Write([]byte(e.BeforeDigest))

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(e.RecordedAt.UnixNano()))
	h.Write(ts[:])

	return hex.EncodeToString(h.Sum(nil))
}
