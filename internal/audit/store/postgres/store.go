// Package postgres persists the audit log in the audit_entries table, keyed
// by (tenant_type, tenant_id, seq). Sequence assignment locks the tenant's
// row in audit_chain_heads, so contention is confined to one tenant and a
// waiter always observes the committed head after the lock is granted.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"aegis/internal/audit"
	id "aegis/pkg/domain"
	"aegis/pkg/platform/sentinel"
)

// Store is the durable audit store.
type Store struct {
	db *sql.DB
}

// New creates a Postgres-backed audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const entryColumns = `
	id, tenant_type, tenant_id, seq, actor_id, action, resource_type, resource_id,
	outcome, reason, before_digest, after_digest, completion, recorded_at,
	finalized_at, chain_hash, causal_token, request_id, client_ip, user_agent
`

func (s *Store) Append(ctx context.Context, entry *audit.Entry) (*audit.Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapTimeout(ctx, fmt.Errorf("begin append tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	// Ensure the tenant has a chain-head row, then lock it. The head row is
	// updated in place, so a transaction that waited on the lock reads the
	// committed seq once granted. Locking the newest audit_entries row would
	// not give that guarantee: the waiter re-checks only the row it locked
	// and misses the entry the winner inserted.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_chain_heads (tenant_type, tenant_id, seq, chain_hash)
		VALUES ($1, $2, 0, '')
		ON CONFLICT (tenant_type, tenant_id) DO NOTHING
	`, string(entry.Scope.Type), entry.Scope.ID)
	if err != nil {
		return nil, wrapTimeout(ctx, fmt.Errorf("ensure chain head: %w", err))
	}

	var (
		lastSeq   int64
		lastChain string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT seq, chain_hash FROM audit_chain_heads
		WHERE tenant_type = $1 AND tenant_id = $2
		FOR UPDATE
	`, string(entry.Scope.Type), entry.Scope.ID).Scan(&lastSeq, &lastChain)
	if err != nil {
		return nil, wrapTimeout(ctx, fmt.Errorf("lock chain head: %w", err))
	}

	stored := *entry
	stored.Seq = lastSeq + 1
	stored.ChainHash = audit.ChainHash(lastChain, &stored)

	_, err = tx.ExecContext(ctx, `
		UPDATE audit_chain_heads
		SET seq = $3, chain_hash = $4
		WHERE tenant_type = $1 AND tenant_id = $2
	`, string(stored.Scope.Type), stored.Scope.ID, stored.Seq, stored.ChainHash)
	if err != nil {
		return nil, wrapTimeout(ctx, fmt.Errorf("advance chain head: %w", err))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_entries (`+entryColumns+`, published)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, FALSE)
	`,
		uuid.UUID(stored.ID),
		string(stored.Scope.Type),
		stored.Scope.ID,
		stored.Seq,
		uuid.UUID(stored.Actor),
		string(stored.Action),
		string(stored.Resource),
		stored.ResourceID,
		string(stored.Outcome),
		string(stored.Reason),
		stored.BeforeDigest,
		stored.AfterDigest,
		string(stored.Completion),
		stored.RecordedAt,
		stored.FinalizedAt,
		stored.ChainHash,
		nullableUUID(uuid.UUID(stored.CausalToken)),
		stored.RequestID,
		stored.ClientIP,
		stored.UserAgent,
	)
	if err != nil {
		return nil, wrapTimeout(ctx, fmt.Errorf("insert audit entry: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapTimeout(ctx, fmt.Errorf("commit audit entry: %w", err))
	}
	return &stored, nil
}

func (s *Store) Get(ctx context.Context, entryID id.EntryID) (*audit.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM audit_entries WHERE id = $1
	`, uuid.UUID(entryID))
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return entry, err
}

func (s *Store) Finalize(ctx context.Context, scope id.TenantScope, entryID id.EntryID, completion audit.Completion, afterDigest string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE audit_entries
		SET completion = $4, after_digest = $5, finalized_at = $6
		WHERE id = $1 AND tenant_type = $2 AND tenant_id = $3 AND completion = $7
	`, uuid.UUID(entryID), string(scope.Type), scope.ID,
		string(completion), afterDigest, at, string(audit.CompletionPending))
	if err != nil {
		return wrapTimeout(ctx, fmt.Errorf("finalize audit entry: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize rows affected: %w", err)
	}
	if affected == 0 {
		// Either no such entry in this tenant or it is already terminal. An
		// entry held by another tenant counts as not found.
		var exists bool
		if err := s.db.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM audit_entries
				WHERE id = $1 AND tenant_type = $2 AND tenant_id = $3
			)
		`, uuid.UUID(entryID), string(scope.Type), scope.ID).Scan(&exists); err != nil {
			return fmt.Errorf("finalize existence check: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrAlreadyFinalized
	}
	return nil
}

func (s *Store) Query(ctx context.Context, filter audit.Filter) ([]*audit.Entry, error) {
	conditions := []string{"tenant_type = $1", "tenant_id = $2", "seq > $3"}
	args := []any{string(filter.Scope.Type), filter.Scope.ID, filter.AfterSeq}

	add := func(cond string, arg any) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if !filter.Actor.IsNil() {
		add("actor_id = $%d", uuid.UUID(filter.Actor))
	}
	if filter.Resource != "" {
		add("resource_type = $%d", string(filter.Resource))
	}
	if filter.ResourceID != "" {
		add("resource_id = $%d", filter.ResourceID)
	}
	if filter.Action != "" {
		add("action = $%d", string(filter.Action))
	}
	if filter.Outcome != "" {
		add("outcome = $%d", string(filter.Outcome))
	}
	if filter.Completion != "" {
		add("completion = $%d", string(filter.Completion))
	}
	if !filter.From.IsZero() {
		add("recorded_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("recorded_at <= $%d", filter.To)
	}

	query := "SELECT " + entryColumns + " FROM audit_entries WHERE " +
		strings.Join(conditions, " AND ") + " ORDER BY seq ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*audit.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

func (s *Store) MarkStale(ctx context.Context, cutoff, at time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE audit_entries
		SET completion = $1, finalized_at = $2
		WHERE completion = $3 AND recorded_at < $4
	`, string(audit.CompletionStale), at, string(audit.CompletionPending), cutoff)
	if err != nil {
		return 0, fmt.Errorf("mark stale entries: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark stale rows affected: %w", err)
	}
	return int(affected), nil
}

func (s *Store) VerifyChain(ctx context.Context, scope id.TenantScope) (*audit.ChainBreak, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM audit_entries
		WHERE tenant_type = $1 AND tenant_id = $2
		ORDER BY seq ASC
	`, string(scope.Type), scope.ID)
	if err != nil {
		return nil, fmt.Errorf("query chain: %w", err)
	}
	defer rows.Close()

	prev := ""
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		if audit.ChainHash(prev, entry) != entry.ChainHash {
			return &audit.ChainBreak{Scope: scope, Seq: entry.Seq}, nil
		}
		prev = entry.ChainHash
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chain: %w", err)
	}
	return nil, nil
}

func (s *Store) ListUnpublished(ctx context.Context, limit int) ([]*audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM audit_entries
		WHERE published = FALSE AND completion <> $1
		ORDER BY tenant_type, tenant_id, seq
		LIMIT $2
	`, string(audit.CompletionPending), limit)
	if err != nil {
		return nil, fmt.Errorf("query unpublished entries: %w", err)
	}
	defer rows.Close()

	var entries []*audit.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unpublished entries: %w", err)
	}
	return entries, nil
}

func (s *Store) MarkPublished(ctx context.Context, entryIDs []id.EntryID) error {
	if len(entryIDs) == 0 {
		return nil
	}
	placeholders := make([]string, len(entryIDs))
	args := make([]any, len(entryIDs))
	for i, entryID := range entryIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = uuid.UUID(entryID)
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE audit_entries SET published = TRUE WHERE id IN ("+strings.Join(placeholders, ", ")+")",
		args...)
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*audit.Entry, error) {
	var (
		entryID     uuid.UUID
		tenantType  string
		tenantID    string
		seq         int64
		actorID     uuid.UUID
		action      string
		resource    string
		resourceID  string
		outcome     string
		reason      string
		before      string
		after       string
		completion  string
		recordedAt  time.Time
		finalizedAt sql.NullTime
		chainHash   string
		causalToken *uuid.UUID
		requestID   string
		clientIP    string
		userAgent   string
	)
	err := row.Scan(&entryID, &tenantType, &tenantID, &seq, &actorID, &action,
		&resource, &resourceID, &outcome, &reason, &before, &after, &completion,
		&recordedAt, &finalizedAt, &chainHash, &causalToken, &requestID,
		&clientIP, &userAgent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan audit entry: %w", err)
	}

	entry := &audit.Entry{
		ID:           id.EntryID(entryID),
		Scope:        id.TenantScope{Type: id.TenantType(tenantType), ID: tenantID},
		Seq:          seq,
		Actor:        id.PrincipalID(actorID),
		Action:       id.Action(action),
		Resource:     id.ResourceType(resource),
		ResourceID:   resourceID,
		Outcome:      id.Outcome(outcome),
		Reason:       id.Reason(reason),
		BeforeDigest: before,
		AfterDigest:  after,
		Completion:   audit.Completion(completion),
		RecordedAt:   recordedAt,
		ChainHash:    chainHash,
		RequestID:    requestID,
		ClientIP:     clientIP,
		UserAgent:    userAgent,
	}
	if finalizedAt.Valid {
		t := finalizedAt.Time
		entry.FinalizedAt = &t
	}
	if causalToken != nil {
		entry.CausalToken = id.EntryID(*causalToken)
	}
	return entry, nil
}

func nullableUUID(u uuid.UUID) *uuid.UUID {
	if u == uuid.Nil {
		return nil
	}
	return &u
}

func wrapTimeout(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", sentinel.ErrTimeout, err)
	}
	return err
}
