package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/siherrmann/copilot/helper"
	"github.com/siherrmann/copilot/model"
)

func (s *PostgresStore) InsertDocument(ctx context.Context, document *model.Document) error {
	if document == nil {
		return helper.NewError("document validation", fmt.Errorf("document is nil: %w", model.ErrInvalidInput))
	}

	query := `
		INSERT INTO documents (id, title, content, content_hash, status, error, chunk_count, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.db.Instance.ExecContext(
		ctx,
		query,
		document.ID,
		document.Title,
		document.Content,
		document.ContentHash,
		document.Status,
		document.Error,
		document.ChunkCount,
		document.Metadata,
		document.CreatedAt,
		document.UpdatedAt,
	)
	if err != nil {
		return helper.NewError("insert document", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	query := `
		SELECT id, title, content, content_hash, status, error, chunk_count, metadata, created_at, updated_at
		FROM documents
		WHERE id = $1`
	row := s.db.Instance.QueryRowContext(ctx, query, id)

	document := &model.Document{}
	err := row.Scan(
		&document.ID,
		&document.Title,
		&document.Content,
		&document.ContentHash,
		&document.Status,
		&document.Error,
		&document.ChunkCount,
		&document.Metadata,
		&document.CreatedAt,
		&document.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, helper.NewError("get document", fmt.Errorf("document %v: %w", id, model.ErrNotFound))
	} else if err != nil {
		return nil, helper.NewError("get document", err)
	}
	return document, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, limit int) ([]*model.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, title, content, content_hash, status, error, chunk_count, metadata, created_at, updated_at
		FROM documents
		ORDER BY created_at DESC, id
		LIMIT $1`
	rows, err := s.db.Instance.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, helper.NewError("list documents", err)
	}
	defer rows.Close()

	documents := []*model.Document{}
	for rows.Next() {
		document := &model.Document{}
		err := rows.Scan(
			&document.ID,
			&document.Title,
			&document.Content,
			&document.ContentHash,
			&document.Status,
			&document.Error,
			&document.ChunkCount,
			&document.Metadata,
			&document.CreatedAt,
			&document.UpdatedAt,
		)
		if err != nil {
			return nil, helper.NewError("scan document", err)
		}
		documents = append(documents, document)
	}
	if err := rows.Err(); err != nil {
		return nil, helper.NewError("list documents", err)
	}
	return documents, nil
}

// TransitionDocument performs a compare-and-swap status change. It
// returns false without error when the document exists but is not in
// the expected status anymore, so concurrent workers can race for the
// transition and exactly one wins.
func (s *PostgresStore) TransitionDocument(ctx context.Context, id uuid.UUID, from, to model.DocumentStatus, cause string) (bool, error) {
	if !model.CanTransition(from, to) {
		return false, helper.NewError("transition document", fmt.Errorf("%v -> %v: %w", from, to, model.ErrInvalidTransition))
	}

	query := `
		UPDATE documents
		SET status = $3, error = $4, updated_at = now()
		WHERE id = $1 AND status = $2`
	result, err := s.db.Instance.ExecContext(ctx, query, id, from, to, cause)
	if err != nil {
		return false, helper.NewError("transition document", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, helper.NewError("transition document", err)
	}
	if affected == 0 {
		if _, err := s.GetDocument(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *PostgresStore) UpdateDocumentMeta(ctx context.Context, id uuid.UUID, chunkCount int, contentHash string) error {
	query := `
		UPDATE documents
		SET chunk_count = $2, content_hash = $3, updated_at = now()
		WHERE id = $1`
	result, err := s.db.Instance.ExecContext(ctx, query, id, chunkCount, contentHash)
	if err != nil {
		return helper.NewError("update document meta", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return helper.NewError("update document meta", err)
	}
	if affected == 0 {
		return helper.NewError("update document meta", fmt.Errorf("document %v: %w", id, model.ErrNotFound))
	}
	return nil
}
