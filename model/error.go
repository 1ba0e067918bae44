package model

import "errors"

// Sentinel errors shared across the engine. Callers match them with
// errors.Is; storage and transport layers wrap them with context.
var (
	// ErrNotFound marks a missing document, run, or idempotency record.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput marks a malformed or empty request.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidTransition marks a document status change the lifecycle
	// does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrConflict marks a reused idempotency key with a different payload.
	ErrConflict = errors.New("idempotency key conflict")
	// ErrInFlight marks a duplicate request whose original is still running.
	ErrInFlight = errors.New("request still in flight")
	// ErrProviderUnavailable marks an unreachable embedding or generation
	// provider.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrRateLimited marks a provider rejecting calls due to rate limits.
	ErrRateLimited = errors.New("provider rate limited")
	// ErrQueueFull marks a rejected enqueue on a saturated ingestion queue.
	ErrQueueFull = errors.New("ingestion queue full")
	// ErrQueueClosed marks an enqueue after shutdown began.
	ErrQueueClosed = errors.New("ingestion queue closed")
)
