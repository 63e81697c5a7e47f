package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/botforge/streamgate/internal/domain"
)

// pgUniqueViolation is the SQLSTATE for unique constraint violations.
const pgUniqueViolation = "23505"

// EventRepo implements domain.EventRepository. The unique index on
// dedup_key makes Insert the durable idempotency barrier.
type EventRepo struct {
	pool *pgxpool.Pool
}

func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

func (r *EventRepo) Insert(ctx context.Context, ev *domain.RawEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO events (dedup_key, type, source, payload, received_at)
		VALUES ($1, $2, $3, $4, $5)
	`, ev.DedupKey, ev.Type, ev.Source, ev.Payload, ev.ReceivedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.ErrDuplicateEvent
		}
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

func (r *EventRepo) ListRecent(ctx context.Context, limit int) ([]domain.RawEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT dedup_key, type, source, payload, received_at
		FROM events
		ORDER BY received_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []domain.RawEvent
	for rows.Next() {
		var ev domain.RawEvent
		if err := rows.Scan(&ev.DedupKey, &ev.Type, &ev.Source, &ev.Payload, &ev.ReceivedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
