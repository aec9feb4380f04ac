// Package checkpoint tracks the last processed outbox event id per named
// relay stream. A checkpoint row is mutated only by its stream's relay.
package checkpoint

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/clinpulse/platform/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Load returns the last processed event id for the stream, or 0 when the
// stream has no checkpoint yet.
func (r *Repository) Load(ctx context.Context, streamName string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		SELECT last_processed_event_id
		FROM stream_checkpoints
		WHERE stream_name = $1
	`, streamName).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *Repository) Save(ctx context.Context, streamName string, lastProcessedEventID int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO stream_checkpoints (stream_name, last_processed_event_id, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (stream_name)
		DO UPDATE SET last_processed_event_id = EXCLUDED.last_processed_event_id,
		              updated_at = now()
	`, streamName, lastProcessedEventID)
	return err
}
