package idempotency

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siherrmann/copilot/database"
	"github.com/siherrmann/copilot/model"
)

func testGuardConfig() model.IdempotencyConfig {
	return model.IdempotencyConfig{
		Wait:         200 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
		TTL:          time.Minute,
	}
}

func newTestGuard(t *testing.T) (*Guard, database.Store) {
	t.Helper()
	store := database.NewMemoryStore()
	guard, err := NewGuard(store, testGuardConfig(), nil)
	require.NoError(t, err)
	return guard, store
}

func TestBegin(t *testing.T) {
	ctx := context.Background()

	t.Run("First caller proceeds", func(t *testing.T) {
		guard, _ := newTestGuard(t)

		outcome, err := guard.Begin(ctx, "key-1", "fp-1")

		require.NoError(t, err)
		assert.True(t, outcome.Proceed)
		assert.Nil(t, outcome.Response)
	})

	t.Run("Completed request is replayed byte for byte", func(t *testing.T) {
		guard, _ := newTestGuard(t)
		outcome, err := guard.Begin(ctx, "key-1", "fp-1")
		require.NoError(t, err)
		require.True(t, outcome.Proceed)

		runID := uuid.New()
		require.NoError(t, guard.Complete(ctx, "key-1", runID, map[string]any{"answer": "42"}))

		replay, err := guard.Begin(ctx, "key-1", "fp-1")
		require.NoError(t, err)
		assert.False(t, replay.Proceed)
		assert.JSONEq(t, `{"answer":"42"}`, string(replay.Response))
	})

	t.Run("Different payload under the same key is a conflict", func(t *testing.T) {
		guard, _ := newTestGuard(t)
		_, err := guard.Begin(ctx, "key-1", "fp-1")
		require.NoError(t, err)

		_, err = guard.Begin(ctx, "key-1", "fp-2")
		assert.ErrorIs(t, err, model.ErrConflict)
	})

	t.Run("Conflict also after completion", func(t *testing.T) {
		guard, _ := newTestGuard(t)
		_, err := guard.Begin(ctx, "key-1", "fp-1")
		require.NoError(t, err)
		require.NoError(t, guard.Complete(ctx, "key-1", uuid.New(), map[string]any{"a": 1}))

		_, err = guard.Begin(ctx, "key-1", "fp-2")
		assert.ErrorIs(t, err, model.ErrConflict)
	})

	t.Run("Duplicate during flight waits then reports in flight", func(t *testing.T) {
		guard, _ := newTestGuard(t)
		_, err := guard.Begin(ctx, "key-1", "fp-1")
		require.NoError(t, err)

		start := time.Now()
		_, err = guard.Begin(ctx, "key-1", "fp-1")

		assert.ErrorIs(t, err, model.ErrInFlight)
		assert.GreaterOrEqual(t, time.Since(start), testGuardConfig().Wait)
	})

	t.Run("Duplicate sees completion while waiting", func(t *testing.T) {
		guard, _ := newTestGuard(t)
		_, err := guard.Begin(ctx, "key-1", "fp-1")
		require.NoError(t, err)

		go func() {
			time.Sleep(30 * time.Millisecond)
			_ = guard.Complete(ctx, "key-1", uuid.New(), map[string]any{"late": true})
		}()

		outcome, err := guard.Begin(ctx, "key-1", "fp-1")
		require.NoError(t, err)
		assert.False(t, outcome.Proceed)
		assert.JSONEq(t, `{"late":true}`, string(outcome.Response))
	})

	t.Run("Failed request can be retried by one caller", func(t *testing.T) {
		guard, _ := newTestGuard(t)
		_, err := guard.Begin(ctx, "key-1", "fp-1")
		require.NoError(t, err)
		require.NoError(t, guard.Fail(ctx, "key-1"))

		outcome, err := guard.Begin(ctx, "key-1", "fp-1")
		require.NoError(t, err)
		assert.True(t, outcome.Proceed, "retry reclaims the failed record")
	})

	t.Run("Exactly one concurrent caller proceeds", func(t *testing.T) {
		guard, _ := newTestGuard(t)

		var wg sync.WaitGroup
		var mu sync.Mutex
		proceeded := 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				outcome, err := guard.Begin(ctx, "key-1", "fp-1")
				if err == nil && outcome.Proceed {
					mu.Lock()
					proceeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, proceeded)
	})
}

func TestNormalizeKey(t *testing.T) {
	t.Run("Disallowed characters stripped", func(t *testing.T) {
		assert.Equal(t, "order-42_final.v1", NormalizeKey("order-42_final.v1"))
		assert.Equal(t, "abc", NormalizeKey("a b/c"))
		assert.Equal(t, "", NormalizeKey("!@#$%"))
	})

	t.Run("Length capped", func(t *testing.T) {
		long := strings.Repeat("x", 300)
		assert.Len(t, NormalizeKey(long), 128)
	})
}

func TestFingerprint(t *testing.T) {
	base := func() *model.AskRequest {
		return &model.AskRequest{
			Question: "what is the refund policy",
			Strategy: model.StrategyHybrid,
			TopK:     5,
			Mode:     model.ModeSourcesOnly,
		}
	}

	t.Run("Stable for equal requests", func(t *testing.T) {
		assert.Equal(t, Fingerprint(base()), Fingerprint(base()))
	})

	t.Run("Changes with any semantic field", func(t *testing.T) {
		fp := Fingerprint(base())

		question := base()
		question.Question = "something else"
		assert.NotEqual(t, fp, Fingerprint(question))

		strategy := base()
		strategy.Strategy = model.StrategyKeyword
		assert.NotEqual(t, fp, Fingerprint(strategy))

		topK := base()
		topK.TopK = 7
		assert.NotEqual(t, fp, Fingerprint(topK))

		mode := base()
		mode.Mode = model.ModeGenerative
		assert.NotEqual(t, fp, Fingerprint(mode))

		scoped := base()
		id := uuid.New()
		scoped.DocumentID = &id
		assert.NotEqual(t, fp, Fingerprint(scoped))
	})

	t.Run("Ignores the idempotency key itself", func(t *testing.T) {
		withKey := base()
		withKey.IdempotencyKey = "retry-1"
		assert.Equal(t, Fingerprint(base()), Fingerprint(withKey))
	})
}

func TestComplete(t *testing.T) {
	ctx := context.Background()

	t.Run("Stored response round trips", func(t *testing.T) {
		guard, store := newTestGuard(t)
		_, err := guard.Begin(ctx, "key-1", "fp-1")
		require.NoError(t, err)

		response := &model.AskResponse{Answer: "found it", Route: model.RouteDocRAG}
		require.NoError(t, guard.Complete(ctx, "key-1", uuid.New(), response))

		rec, err := store.GetIdempotencyRecord(ctx, "key-1")
		require.NoError(t, err)
		assert.Equal(t, model.IdempotencyCompleted, rec.Status)

		stored := &model.AskResponse{}
		require.NoError(t, json.Unmarshal(rec.Response, stored))
		assert.Equal(t, "found it", stored.Answer)
	})

	t.Run("Complete on unknown key fails", func(t *testing.T) {
		guard, _ := newTestGuard(t)

		err := guard.Complete(ctx, "missing", uuid.New(), map[string]any{})
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}
