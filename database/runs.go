package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/siherrmann/copilot/helper"
	"github.com/siherrmann/copilot/model"
)

func (s *PostgresStore) InsertRun(ctx context.Context, run *model.Run) error {
	if run == nil {
		return helper.NewError("run validation", fmt.Errorf("run is nil: %w", model.ErrInvalidInput))
	}

	sources, err := json.Marshal(run.Sources)
	if err != nil {
		return helper.NewError("marshal run sources", err)
	}

	query := `
		INSERT INTO runs (id, question, route, answer_mode, retriever_used, status, answer, sources, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = s.db.Instance.ExecContext(
		ctx,
		query,
		run.ID,
		run.Question,
		run.Route,
		run.Mode,
		run.Retriever,
		run.Status,
		run.Answer,
		sources,
		run.Error,
		run.CreatedAt,
	)
	if err != nil {
		return helper.NewError("insert run", err)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id uuid.UUID) (*model.Run, error) {
	query := `
		SELECT id, question, route, answer_mode, retriever_used, status, answer, sources, error, created_at
		FROM runs
		WHERE id = $1`
	run, err := scanRun(s.db.Instance.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, helper.NewError("get run", fmt.Errorf("run %v: %w", id, model.ErrNotFound))
	} else if err != nil {
		return nil, helper.NewError("get run", err)
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]*model.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, question, route, answer_mode, retriever_used, status, answer, sources, error, created_at
		FROM runs
		ORDER BY created_at DESC, id
		LIMIT $1`
	rows, err := s.db.Instance.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, helper.NewError("list runs", err)
	}
	defer rows.Close()

	runs := []*model.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, helper.NewError("scan run", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, helper.NewError("list runs", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*model.Run, error) {
	run := &model.Run{}
	var sources []byte
	err := row.Scan(
		&run.ID,
		&run.Question,
		&run.Route,
		&run.Mode,
		&run.Retriever,
		&run.Status,
		&run.Answer,
		&sources,
		&run.Error,
		&run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(sources) > 0 {
		if err := json.Unmarshal(sources, &run.Sources); err != nil {
			return nil, err
		}
	}
	return run, nil
}

// AppendStep inserts a step and fills in its store-assigned sequence
// number. Steps are never updated or deleted.
func (s *PostgresStore) AppendStep(ctx context.Context, step *model.Step) error {
	if step == nil {
		return helper.NewError("step validation", fmt.Errorf("step is nil: %w", model.ErrInvalidInput))
	}

	query := `
		INSERT INTO steps (id, run_id, name, status, input, output, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq`
	row := s.db.Instance.QueryRowContext(
		ctx,
		query,
		step.ID,
		step.RunID,
		step.Name,
		step.Status,
		step.Input,
		step.Output,
		step.CreatedAt,
	)
	if err := row.Scan(&step.Seq); err != nil {
		return helper.NewError("append step", err)
	}
	return nil
}

func (s *PostgresStore) StepsByRun(ctx context.Context, runID uuid.UUID) ([]*model.Step, error) {
	query := `
		SELECT seq, id, run_id, name, status, input, output, created_at
		FROM steps
		WHERE run_id = $1
		ORDER BY seq`
	rows, err := s.db.Instance.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, helper.NewError("steps by run", err)
	}
	defer rows.Close()

	steps := []*model.Step{}
	for rows.Next() {
		step := &model.Step{}
		err := rows.Scan(
			&step.Seq,
			&step.ID,
			&step.RunID,
			&step.Name,
			&step.Status,
			&step.Input,
			&step.Output,
			&step.CreatedAt,
		)
		if err != nil {
			return nil, helper.NewError("scan step", err)
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, helper.NewError("steps by run", err)
	}
	return steps, nil
}
