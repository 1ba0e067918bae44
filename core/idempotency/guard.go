// Package idempotency deduplicates keyed requests so retries replay the
// stored response instead of running twice.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/copilot/database"
	"github.com/siherrmann/copilot/helper"
	"github.com/siherrmann/copilot/model"
)

// Guard arbitrates concurrent requests sharing an idempotency key.
// Exactly one caller proceeds; duplicates replay the stored response,
// wait for the winner, or are rejected as payload conflicts.
type Guard struct {
	store  database.Store
	config model.IdempotencyConfig
	log    *slog.Logger
}

// Outcome is the guard's decision for one request.
type Outcome struct {
	// Proceed is true when the caller owns the key and must execute the
	// request, then call Complete or Fail.
	Proceed bool
	// Response holds the stored response bytes when a completed request
	// is replayed.
	Response json.RawMessage
}

// NewGuard creates a guard on the given store.
func NewGuard(store database.Store, config model.IdempotencyConfig, logger *slog.Logger) (*Guard, error) {
	if store == nil {
		return nil, helper.NewError("idempotency guard validation", fmt.Errorf("store is nil"))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{store: store, config: config, log: logger}, nil
}

// Begin claims the key for the given request fingerprint. The first
// caller proceeds. A duplicate with the same fingerprint replays the
// stored response, or waits briefly for the in-flight winner; a
// duplicate with a different fingerprint is a conflict. A failed or
// stale record is reclaimed by exactly one retry.
func (g *Guard) Begin(ctx context.Context, key, fingerprint string) (*Outcome, error) {
	created, existing, err := g.store.CreateIdempotencyRecord(ctx, &model.IdempotencyRecord{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      model.IdempotencyInProgress,
	})
	if err != nil {
		return nil, err
	}
	if created {
		return &Outcome{Proceed: true}, nil
	}

	deadline := time.Now().Add(g.config.Wait)
	for {
		outcome, done, err := g.resolve(ctx, existing, key, fingerprint)
		if err != nil || done {
			return outcome, err
		}

		if time.Now().After(deadline) {
			return nil, helper.NewError("begin idempotent request", fmt.Errorf("key %v: %w", key, model.ErrInFlight))
		}
		select {
		case <-time.After(g.config.PollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		existing, err = g.store.GetIdempotencyRecord(ctx, key)
		if err != nil {
			return nil, err
		}
	}
}

// resolve inspects the existing record once. done is false when the
// record is still in flight and the caller should poll again.
func (g *Guard) resolve(ctx context.Context, existing *model.IdempotencyRecord, key, fingerprint string) (*Outcome, bool, error) {
	if existing.Fingerprint != fingerprint {
		return nil, true, helper.NewError("begin idempotent request", fmt.Errorf("key %v reused with a different payload: %w", key, model.ErrConflict))
	}

	switch existing.Status {
	case model.IdempotencyCompleted:
		return &Outcome{Response: existing.Response}, true, nil
	case model.IdempotencyFailed:
		won, err := g.store.ReclaimIdempotencyRecord(ctx, key, fingerprint, g.staleBefore())
		if err != nil {
			return nil, true, err
		}
		if won {
			g.log.Debug("Reclaimed failed idempotency record", "key", key)
			return &Outcome{Proceed: true}, true, nil
		}
		return nil, false, nil
	case model.IdempotencyInProgress:
		if existing.UpdatedAt.Before(g.staleBefore()) {
			won, err := g.store.ReclaimIdempotencyRecord(ctx, key, fingerprint, g.staleBefore())
			if err != nil {
				return nil, true, err
			}
			if won {
				g.log.Warn("Reclaimed stale idempotency record", "key", key)
				return &Outcome{Proceed: true}, true, nil
			}
		}
		return nil, false, nil
	default:
		return nil, true, helper.NewError("begin idempotent request", fmt.Errorf("key %v has unknown status %v", key, existing.Status))
	}
}

func (g *Guard) staleBefore() time.Time {
	return time.Now().Add(-g.config.TTL)
}

// Complete stores the response for replay and marks the key completed.
func (g *Guard) Complete(ctx context.Context, key string, runID uuid.UUID, response any) error {
	payload, err := json.Marshal(response)
	if err != nil {
		return helper.NewError("marshal idempotent response", err)
	}
	return g.store.CompleteIdempotencyRecord(ctx, key, runID, payload)
}

// Fail marks the key failed so a later retry can reclaim it.
func (g *Guard) Fail(ctx context.Context, key string) error {
	return g.store.FailIdempotencyRecord(ctx, key)
}

var keyDisallowed = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

const maxKeyLength = 128

// NormalizeKey strips disallowed characters from a caller-supplied key
// and caps its length. An empty result means no idempotency handling.
func NormalizeKey(key string) string {
	key = keyDisallowed.ReplaceAllString(key, "")
	if len(key) > maxKeyLength {
		key = key[:maxKeyLength]
	}
	return key
}

// fingerprintPayload fixes the field set and order hashed into the
// request fingerprint. Formatting of the incoming request never
// changes the fingerprint, only these values do.
type fingerprintPayload struct {
	Question   string `json:"question"`
	Retriever  string `json:"retriever"`
	TopK       int    `json:"top_k"`
	DocumentID string `json:"document_id"`
	AnswerMode string `json:"answer_mode"`
}

// Fingerprint computes the canonical hash of a normalized request.
func Fingerprint(req *model.AskRequest) string {
	payload := fingerprintPayload{
		Question:   req.Question,
		Retriever:  string(req.Strategy),
		TopK:       req.TopK,
		AnswerMode: string(req.Mode),
	}
	if req.DocumentID != nil {
		payload.DocumentID = req.DocumentID.String()
	}
	canonical, _ := json.Marshal(payload)
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
