package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"consilium.app/panel/core/db"
	"consilium.app/panel/internal/model"
)

type runStore struct {
	db *db.DB
}

func NewRunStore(database *db.DB) RunStore {
	return &runStore{db: database}
}

func (s *runStore) Create(ctx context.Context, rec *model.RunRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	record, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding run record: %w", err)
	}

	_, err = s.db.Pool().Exec(ctx, `
		INSERT INTO runs (id, session, fingerprint, status, agenda, record, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)`,
		rec.ID, rec.Session, rec.Fingerprint, string(rec.Status), rec.Case.Agenda, string(record), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

func (s *runStore) Get(ctx context.Context, id int64) (*model.RunRecord, error) {
	row := s.db.Pool().QueryRow(ctx, `
		SELECT record, status, session, failure_reason, started_at, finished_at
		FROM runs
		WHERE id = $1`, id)

	rec, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (s *runStore) ListRecent(ctx context.Context, limit int32) ([]model.RunRecord, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT record, status, session, failure_reason, started_at, finished_at
		FROM runs
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var recs []model.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading runs: %w", err)
	}
	return recs, nil
}

func (s *runStore) Transition(ctx context.Context, id int64, from, to model.RunStatus, detail string) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE runs
			SET status = $3,
			    started_at = CASE WHEN $3 = 'deliberating' AND started_at IS NULL THEN now() ELSE started_at END,
			    finished_at = CASE WHEN $3 IN ('complete', 'failed') THEN now() ELSE finished_at END,
			    failure_reason = CASE WHEN $3 = 'failed' THEN NULLIF($4, '') ELSE failure_reason END
			WHERE id = $1 AND status = $2`,
			id, string(from), string(to), detail)
		if err != nil {
			return fmt.Errorf("updating run status: %w", err)
		}

		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM runs WHERE id = $1)`, id).Scan(&exists); err != nil {
				return fmt.Errorf("checking run existence: %w", err)
			}
			if !exists {
				return ErrNotFound
			}
			return ErrStaleTransition
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO run_events (run_id, from_status, to_status, detail)
			VALUES ($1, $2, $3, $4)`,
			id, string(from), string(to), detail); err != nil {
			return fmt.Errorf("recording run event: %w", err)
		}
		return nil
	})
}

func (s *runStore) SaveResult(ctx context.Context, rec *model.RunRecord) error {
	record, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding run record: %w", err)
	}

	tag, err := s.db.Pool().Exec(ctx, `
		UPDATE runs
		SET record = $2::jsonb,
		    session = $3,
		    fingerprint = $4,
		    status = $5,
		    failure_reason = NULLIF($6, '')
		WHERE id = $1`,
		rec.ID, string(record), rec.Session, rec.Fingerprint, string(rec.Status), rec.FailureReason)
	if err != nil {
		return fmt.Errorf("updating run record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

// scanRun rebuilds a record from its JSONB document, overlaying the hot
// columns which may be newer than the stored document.
func scanRun(row scannable) (*model.RunRecord, error) {
	var (
		raw             []byte
		status, session string
		failureReason   *string
		startedAt       *time.Time
		finishedAt      *time.Time
	)
	if err := row.Scan(&raw, &status, &session, &failureReason, &startedAt, &finishedAt); err != nil {
		return nil, err
	}

	var rec model.RunRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decoding run record: %w", err)
	}

	rec.Status = model.RunStatus(status)
	rec.Session = session
	if failureReason != nil {
		rec.FailureReason = *failureReason
	}
	rec.StartedAt = startedAt
	rec.FinishedAt = finishedAt
	return &rec, nil
}
