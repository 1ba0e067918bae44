package database

import (
	"fmt"
	"log/slog"

	"github.com/siherrmann/copilot/helper"
	loadSql "github.com/siherrmann/copilot/sql"
)

// PostgresStore implements Store on Postgres with pgvector similarity
// search. Entity operations are split across the files of this package.
type PostgresStore struct {
	db  *helper.Database
	log *slog.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore initializes the schema for the given embedding
// dimension and returns a ready store.
func NewPostgresStore(db *helper.Database, embeddingDim int) (*PostgresStore, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	if err := loadSql.Init(db.Instance, embeddingDim); err != nil {
		return nil, helper.NewError("initialize schema", err)
	}

	db.Logger.Info("Initialized PostgresStore")

	return &PostgresStore{db: db, log: db.Logger}, nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	if s.db != nil && s.db.Instance != nil {
		return s.db.Instance.Close()
	}
	return nil
}
