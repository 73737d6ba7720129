// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across key, store and service layers.
var (
	// ErrNotFound indicates the requested item or key does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAuthFailed indicates ciphertext failed authenticated decryption
	// (tampered, truncated, wrong key or wrong associated data).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrKeysetCorrupt indicates the persisted keyset is unreadable or was
	// written in a different persistence mode.
	ErrKeysetCorrupt = errors.New("keyset corrupt")

	// ErrKeyGeneration indicates a master or data key could not be generated.
	ErrKeyGeneration = errors.New("key generation failed")

	// ErrContainerUnavailable indicates the secure key container cannot be used on this device.
	ErrContainerUnavailable = errors.New("key container unavailable")

	// ErrLocked indicates the session window is closed.
	ErrLocked = errors.New("vault locked")

	// ErrInvalidID indicates an item id that cannot name a vault file.
	ErrInvalidID = errors.New("invalid item id")

	// ErrRateLimited indicates unlock attempts are temporarily blocked.
	ErrRateLimited = errors.New("rate limited")

	// ErrInternal is reported in place of recovered panics.
	ErrInternal = errors.New("internal error")
)
