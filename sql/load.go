// Package sql holds the embedded Postgres schema and its loader.
package sql

import (
	"database/sql"
	_ "embed"
	"fmt"
)

//go:embed init.sql
var initSQL string

// Tables created by Init, in dependency order.
var Tables = []string{
	"documents",
	"chunks",
	"runs",
	"steps",
	"idempotency_keys",
}

// Init creates all tables, extensions, and indexes. The chunks table is
// created with the given embedding dimension; the dimension of an existing
// chunks table is never altered.
func Init(db *sql.DB, embeddingDim int) error {
	if embeddingDim <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", embeddingDim)
	}

	if _, err := db.Exec(initSQL); err != nil {
		return fmt.Errorf("load schema: %w", err)
	}

	chunksDDL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS chunks (
    id UUID PRIMARY KEY,
    document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    chunk_index INTEGER NOT NULL,
    text TEXT NOT NULL,
    embedding vector(%d),
    start_pos INTEGER NOT NULL DEFAULT 0,
    end_pos INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT uq_chunks_doc_index UNIQUE (document_id, chunk_index)
);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks (document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING hnsw (embedding vector_cosine_ops);
`, embeddingDim)

	if _, err := db.Exec(chunksDDL); err != nil {
		return fmt.Errorf("create chunks table: %w", err)
	}

	return nil
}
