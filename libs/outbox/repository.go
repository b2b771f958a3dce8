package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pawtrail/platform/libs/db"
	otelx "github.com/pawtrail/platform/libs/otel"
)

const lastErrorMaxLen = 500

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Append inserts one outbox row inside the caller's transaction and returns
// the generated event id. The row becomes durable iff that transaction
// commits; no network call happens here.
func (r *Repository) Append(ctx context.Context, tx pgx.Tx, evt Event) (string, error) {
	if err := evt.validate(); err != nil {
		return "", err
	}
	payload, err := evt.marshalPayload()
	if err != nil {
		return "", err
	}

	eventID := uuid.NewString()
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events
			(event_id, aggregate_type, aggregate_id, event_type, topic, payload, status, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, 'PENDING', $7, $8)
	`, eventID, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Topic, payload, traceparent, tracestate)
	if err != nil {
		return "", err
	}
	return eventID, nil
}

// ClaimPending locks up to limit oldest PENDING rows for this transaction.
// SKIP LOCKED makes concurrent relay instances claim disjoint sets, so no
// row is ever published twice; the claim is released when the tx ends.
func (r *Repository) ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_id, aggregate_type, aggregate_id, event_type, topic, payload,
		       status, retry_count, COALESCE(last_error, ''), traceparent, tracestate, created_at
		FROM outbox_events
		WHERE status = 'PENDING'
		ORDER BY created_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rcd Record
		if err := rows.Scan(&rcd.ID, &rcd.EventID, &rcd.AggregateType, &rcd.AggregateID,
			&rcd.EventType, &rcd.Topic, &rcd.Payload, &rcd.Status, &rcd.RetryCount,
			&rcd.LastError, &rcd.Traceparent, &rcd.Tracestate, &rcd.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rcd)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE outbox_events
		SET status = 'PUBLISHED', published_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

// MarkFailed records a failed publish attempt. The row stays PENDING until
// retryCount reaches maxRetries, at which point it goes terminal FAILED.
func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, retryCount int, lastError string, maxRetries int) error {
	if len(lastError) > lastErrorMaxLen {
		lastError = lastError[:lastErrorMaxLen]
	}
	_, err := tx.Exec(ctx, `
		UPDATE outbox_events
		SET retry_count = $2,
		    last_error = $3,
		    status = CASE WHEN $2 >= $4 THEN 'FAILED' ELSE 'PENDING' END
		WHERE id = $1
	`, id, retryCount, lastError, maxRetries)
	return err
}

// GetByID reads a single row outside any claim; used by the log-tap process.
func (r *Repository) GetByID(ctx context.Context, id int64) (Record, error) {
	var rcd Record
	err := r.pool.QueryRow(ctx, `
		SELECT id, event_id, aggregate_type, aggregate_id, event_type, topic, payload,
		       status, retry_count, COALESCE(last_error, ''), traceparent, tracestate, created_at
		FROM outbox_events
		WHERE id = $1
	`, id).Scan(&rcd.ID, &rcd.EventID, &rcd.AggregateType, &rcd.AggregateID,
		&rcd.EventType, &rcd.Topic, &rcd.Payload, &rcd.Status, &rcd.RetryCount,
		&rcd.LastError, &rcd.Traceparent, &rcd.Tracestate, &rcd.CreatedAt)
	if err != nil {
		return Record{}, err
	}
	return rcd, nil
}

// DeleteBefore removes rows older than cutoff regardless of status. Safe to
// run from any instance; durability obligations end once a row is terminal.
func (r *Repository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM outbox_events
		WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
