package domain

import (
	"github.com/google/uuid"

	dErrors "aegis/pkg/domain-errors"
)

// Typed IDs keep principals, roles, and audit entries from being mixed up at
// compile time. Each is a distinct uuid.UUID wrapper.
type (
	PrincipalID uuid.UUID
	RoleID      uuid.UUID
	EntryID     uuid.UUID
)

func (id PrincipalID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id RoleID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id EntryID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }

func (id PrincipalID) String() string { return uuid.UUID(id).String() }
func (id RoleID) String() string      { return uuid.UUID(id).String() }
func (id EntryID) String() string     { return uuid.UUID(id).String() }

// parseUUID enforces the ID invariant: valid, non-empty, non-nil UUIDs only.
func parseUUID(raw, kind string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id is required")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id is not a valid UUID")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id must not be the nil UUID")
	}
	return parsed, nil
}

// ParsePrincipalID parses and validates a principal ID from its string form.
func ParsePrincipalID(raw string) (PrincipalID, error) {
	parsed, err := parseUUID(raw, "principal")
	if err != nil {
		return PrincipalID{}, err
	}
	return PrincipalID(parsed), nil
}

// ParseRoleID parses and validates a role ID from its string form.
func ParseRoleID(raw string) (RoleID, error) {
	parsed, err := parseUUID(raw, "role")
	if err != nil {
		return RoleID{}, err
	}
	return RoleID(parsed), nil
}

// ParseEntryID parses and validates an audit entry ID from its string form.
func ParseEntryID(raw string) (EntryID, error) {
	parsed, err := parseUUID(raw, "entry")
	if err != nil {
		return EntryID{}, err
	}
	return EntryID(parsed), nil
}

// NewEntryID mints a fresh audit entry identifier.
func NewEntryID() EntryID { return EntryID(uuid.New()) }
