package database

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/siherrmann/copilot/helper"
	"github.com/siherrmann/copilot/model"
)

// InsertChunks writes all chunks of a document in one transaction in
// ordinal order. Either all chunks become visible or none do.
func (s *PostgresStore) InsertChunks(ctx context.Context, chunks []*model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.Instance.BeginTx(ctx, nil)
	if err != nil {
		return helper.NewError("begin chunk insert", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO chunks (id, document_id, chunk_index, text, embedding, start_pos, end_pos, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for _, chunk := range chunks {
		var embedding interface{}
		if len(chunk.Embedding) > 0 {
			embedding = pgvector.NewVector(chunk.Embedding)
		}
		_, err := tx.ExecContext(
			ctx,
			query,
			chunk.ID,
			chunk.DocumentID,
			chunk.Index,
			chunk.Text,
			embedding,
			chunk.StartPos,
			chunk.EndPos,
			chunk.CreatedAt,
		)
		if err != nil {
			return helper.NewError("insert chunk", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return helper.NewError("commit chunk insert", err)
	}
	return nil
}

func (s *PostgresStore) ChunksByDocument(ctx context.Context, documentID uuid.UUID) ([]*model.Chunk, error) {
	query := `
		SELECT c.id, c.document_id, c.chunk_index, c.text, c.embedding, c.start_pos, c.end_pos, c.created_at, d.title
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.document_id = $1
		ORDER BY c.chunk_index`
	rows, err := s.db.Instance.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, helper.NewError("chunks by document", err)
	}
	defer rows.Close()

	chunks := []*model.Chunk{}
	for rows.Next() {
		chunk := &model.Chunk{}
		var embedding pgvector.Vector
		err := rows.Scan(
			&chunk.ID,
			&chunk.DocumentID,
			&chunk.Index,
			&chunk.Text,
			&embedding,
			&chunk.StartPos,
			&chunk.EndPos,
			&chunk.CreatedAt,
			&chunk.DocumentTitle,
		)
		if err != nil {
			return nil, helper.NewError("scan chunk", err)
		}
		chunk.Embedding = embedding.Slice()
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, helper.NewError("chunks by document", err)
	}
	return chunks, nil
}

func (s *PostgresStore) DeleteChunks(ctx context.Context, documentID uuid.UUID) error {
	query := `DELETE FROM chunks WHERE document_id = $1`
	_, err := s.db.Instance.ExecContext(ctx, query, documentID)
	if err != nil {
		return helper.NewError("delete chunks", err)
	}
	return nil
}

// VectorSearch returns the topK chunks of embedded documents nearest
// to the query embedding by cosine distance. Similarity is mapped to
// [0, 1] as 1 - distance/2.
func (s *PostgresStore) VectorSearch(ctx context.Context, embedding []float32, topK int, scope *uuid.UUID) ([]*model.Chunk, error) {
	if len(embedding) == 0 {
		return nil, helper.NewError("vector search", fmt.Errorf("empty query embedding: %w", model.ErrInvalidInput))
	}
	if topK <= 0 {
		return []*model.Chunk{}, nil
	}

	query := `
		SELECT c.id, c.document_id, c.chunk_index, c.text, c.start_pos, c.end_pos, c.created_at, d.title,
			1 - (c.embedding <=> $1) / 2 AS similarity
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.status = $2
			AND c.embedding IS NOT NULL
			AND ($3::uuid IS NULL OR c.document_id = $3)
		ORDER BY c.embedding <=> $1, c.chunk_index
		LIMIT $4`
	rows, err := s.db.Instance.QueryContext(ctx, query, pgvector.NewVector(embedding), model.DocumentEmbedded, scope, topK)
	if err != nil {
		return nil, helper.NewError("vector search", err)
	}
	defer rows.Close()

	chunks := []*model.Chunk{}
	for rows.Next() {
		chunk := &model.Chunk{}
		err := rows.Scan(
			&chunk.ID,
			&chunk.DocumentID,
			&chunk.Index,
			&chunk.Text,
			&chunk.StartPos,
			&chunk.EndPos,
			&chunk.CreatedAt,
			&chunk.DocumentTitle,
			&chunk.Similarity,
		)
		if err != nil {
			return nil, helper.NewError("scan vector match", err)
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, helper.NewError("vector search", err)
	}
	return chunks, nil
}

// KeywordCandidates returns chunks of embedded documents whose text or
// title contains at least one query term as a whole word, newest
// documents first. Scoring happens in the retrieval engine.
func (s *PostgresStore) KeywordCandidates(ctx context.Context, terms []string, limit int, scope *uuid.UUID) ([]*model.Chunk, error) {
	if len(terms) == 0 || limit <= 0 {
		return []*model.Chunk{}, nil
	}

	escaped := make([]string, 0, len(terms))
	for _, term := range terms {
		escaped = append(escaped, regexp.QuoteMeta(term))
	}
	pattern := `\m(` + strings.Join(escaped, "|") + `)\M`

	query := `
		SELECT c.id, c.document_id, c.chunk_index, c.text, c.start_pos, c.end_pos, c.created_at, d.title
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.status = $2
			AND ($3::uuid IS NULL OR c.document_id = $3)
			AND (c.text ~* $1 OR d.title ~* $1)
		ORDER BY c.created_at DESC, c.chunk_index
		LIMIT $4`
	rows, err := s.db.Instance.QueryContext(ctx, query, pattern, model.DocumentEmbedded, scope, limit)
	if err != nil {
		return nil, helper.NewError("keyword candidates", err)
	}
	defer rows.Close()

	chunks := []*model.Chunk{}
	for rows.Next() {
		chunk := &model.Chunk{}
		err := rows.Scan(
			&chunk.ID,
			&chunk.DocumentID,
			&chunk.Index,
			&chunk.Text,
			&chunk.StartPos,
			&chunk.EndPos,
			&chunk.CreatedAt,
			&chunk.DocumentTitle,
		)
		if err != nil {
			return nil, helper.NewError("scan keyword candidate", err)
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, helper.NewError("keyword candidates", err)
	}
	return chunks, nil
}
