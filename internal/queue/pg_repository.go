package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) Load(ctx context.Context, clinicID uuid.UUID) (*Queue, error) {
	var q Queue
	var entries []byte

	err := r.pool.QueryRow(ctx, `
		SELECT clinic_id, entries, current_position, total_waiting, average_wait_minutes,
		       last_updated, version, created_at
		FROM visit_queues
		WHERE clinic_id = $1
	`, clinicID).Scan(
		&q.ClinicID,
		&entries,
		&q.CurrentPosition,
		&q.TotalWaiting,
		&q.AverageWaitMinutes,
		&q.LastUpdated,
		&q.Version,
		&q.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQueueNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(entries, &q.Entries); err != nil {
		return nil, fmt.Errorf("decode entries for clinic %s: %w", clinicID, err)
	}
	if err := q.validate(); err != nil {
		return nil, err
	}
	return &q, nil
}

// Save writes the whole queue row guarded by its version.
func (r *PgRepository) Save(ctx context.Context, q *Queue) error {
	if err := q.validate(); err != nil {
		return err
	}
	entries, err := json.Marshal(q.Entries)
	if err != nil {
		return fmt.Errorf("encode entries: %w", err)
	}

	var affected int64
	if q.Version == 0 {
		tag, err := r.pool.Exec(ctx, `
			INSERT INTO visit_queues (clinic_id, entries, current_position, total_waiting,
			                          average_wait_minutes, last_updated, version, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, 1, $7)
			ON CONFLICT (clinic_id) DO NOTHING
		`, q.ClinicID, entries, q.CurrentPosition, q.TotalWaiting, q.AverageWaitMinutes, q.LastUpdated, q.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert queue: %w", err)
		}
		affected = tag.RowsAffected()
	} else {
		tag, err := r.pool.Exec(ctx, `
			UPDATE visit_queues
			SET entries = $2,
			    current_position = $3,
			    total_waiting = $4,
			    average_wait_minutes = $5,
			    last_updated = $6,
			    version = version + 1
			WHERE clinic_id = $1
			  AND version = $7
		`, q.ClinicID, entries, q.CurrentPosition, q.TotalWaiting, q.AverageWaitMinutes, q.LastUpdated, q.Version)
		if err != nil {
			return fmt.Errorf("update queue: %w", err)
		}
		affected = tag.RowsAffected()
	}

	if affected == 0 {
		return ErrStaleQueue
	}
	q.Version++
	return nil
}
