package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/copilot/helper"
	"github.com/siherrmann/copilot/model"
)

// CreateIdempotencyRecord inserts a fresh in_progress record. When the
// key already exists the insert is a no-op and the existing record is
// returned so the guard can decide between replay, wait, and conflict.
func (s *PostgresStore) CreateIdempotencyRecord(ctx context.Context, rec *model.IdempotencyRecord) (bool, *model.IdempotencyRecord, error) {
	if rec == nil {
		return false, nil, helper.NewError("idempotency record validation", fmt.Errorf("record is nil: %w", model.ErrInvalidInput))
	}

	query := `
		INSERT INTO idempotency_keys (key, fingerprint, status, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (key) DO NOTHING`
	result, err := s.db.Instance.ExecContext(ctx, query, rec.Key, rec.Fingerprint, model.IdempotencyInProgress)
	if err != nil {
		return false, nil, helper.NewError("create idempotency record", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, nil, helper.NewError("create idempotency record", err)
	}
	if affected > 0 {
		return true, nil, nil
	}

	existing, err := s.GetIdempotencyRecord(ctx, rec.Key)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

func (s *PostgresStore) GetIdempotencyRecord(ctx context.Context, key string) (*model.IdempotencyRecord, error) {
	query := `
		SELECT key, fingerprint, status, run_id, response, created_at, updated_at
		FROM idempotency_keys
		WHERE key = $1`
	row := s.db.Instance.QueryRowContext(ctx, query, key)

	rec := &model.IdempotencyRecord{}
	var runID uuid.NullUUID
	var response []byte
	err := row.Scan(&rec.Key, &rec.Fingerprint, &rec.Status, &runID, &response, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, helper.NewError("get idempotency record", fmt.Errorf("key %v: %w", key, model.ErrNotFound))
	} else if err != nil {
		return nil, helper.NewError("get idempotency record", err)
	}
	if runID.Valid {
		rec.RunID = runID.UUID
	}
	if len(response) > 0 {
		rec.Response = json.RawMessage(response)
	}
	return rec, nil
}

func (s *PostgresStore) CompleteIdempotencyRecord(ctx context.Context, key string, runID uuid.UUID, response json.RawMessage) error {
	query := `
		UPDATE idempotency_keys
		SET status = $2, run_id = $3, response = $4, updated_at = now()
		WHERE key = $1`
	result, err := s.db.Instance.ExecContext(ctx, query, key, model.IdempotencyCompleted, runID, []byte(response))
	if err != nil {
		return helper.NewError("complete idempotency record", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return helper.NewError("complete idempotency record", err)
	}
	if affected == 0 {
		return helper.NewError("complete idempotency record", fmt.Errorf("key %v: %w", key, model.ErrNotFound))
	}
	return nil
}

func (s *PostgresStore) FailIdempotencyRecord(ctx context.Context, key string) error {
	query := `
		UPDATE idempotency_keys
		SET status = $2, updated_at = now()
		WHERE key = $1`
	result, err := s.db.Instance.ExecContext(ctx, query, key, model.IdempotencyFailed)
	if err != nil {
		return helper.NewError("fail idempotency record", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return helper.NewError("fail idempotency record", err)
	}
	if affected == 0 {
		return helper.NewError("fail idempotency record", fmt.Errorf("key %v: %w", key, model.ErrNotFound))
	}
	return nil
}

// ReclaimIdempotencyRecord atomically takes over a failed record, or an
// in_progress record last touched before staleBefore, provided the
// fingerprint matches. Exactly one of several concurrent reclaimers wins.
func (s *PostgresStore) ReclaimIdempotencyRecord(ctx context.Context, key, fingerprint string, staleBefore time.Time) (bool, error) {
	query := `
		UPDATE idempotency_keys
		SET status = $3, run_id = NULL, response = NULL, updated_at = now()
		WHERE key = $1
			AND fingerprint = $2
			AND (status = $4 OR (status = $3 AND updated_at < $5))`
	result, err := s.db.Instance.ExecContext(ctx, query, key, fingerprint, model.IdempotencyInProgress, model.IdempotencyFailed, staleBefore)
	if err != nil {
		return false, helper.NewError("reclaim idempotency record", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, helper.NewError("reclaim idempotency record", err)
	}
	return affected > 0, nil
}
