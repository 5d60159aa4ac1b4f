package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers
// return these (optionally wrapped) so services can translate them into
// domain errors.
//
// These represent factual states about resources, not validation failures:
//   - ErrNotFound: entity does not exist in store
//   - ErrConflict: write lost to a concurrent writer
//   - ErrAlreadyFinalized: audit entry completion was already recorded
//   - ErrInvalidState: entity in wrong state for requested operation
//   - ErrTimeout: bounded wait (sequence lock, store call) expired
//   - ErrUnavailable: service or resource temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors.
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrAlreadyFinalized = errors.New("already finalized")
	ErrInvalidState     = errors.New("invalid state")
	ErrTimeout          = errors.New("timeout")
	ErrUnavailable      = errors.New("unavailable")
)
