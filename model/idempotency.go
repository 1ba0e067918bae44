package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// IdempotencyStatus is the state of a keyed request record.
type IdempotencyStatus string

const (
	IdempotencyInProgress IdempotencyStatus = "in_progress"
	IdempotencyCompleted  IdempotencyStatus = "completed"
	IdempotencyFailed     IdempotencyStatus = "failed"
)

// IdempotencyRecord deduplicates requests under a caller-supplied key.
// The fingerprint is immutable once set: a second request under the same
// key with a different fingerprint is a payload conflict, never a retry.
type IdempotencyRecord struct {
	Key         string            `json:"key"`
	Fingerprint string            `json:"fingerprint"`
	Status      IdempotencyStatus `json:"status"`
	RunID       uuid.UUID         `json:"run_id,omitempty"`
	Response    json.RawMessage   `json:"response,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
