package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"

	"github.com/pawtrail/platform/libs/kafkax"
	otelx "github.com/pawtrail/platform/libs/otel"
)

type store interface {
	ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error)
	MarkPublished(ctx context.Context, tx pgx.Tx, ids []int64) error
	MarkFailed(ctx context.Context, tx pgx.Tx, id int64, retryCount int, lastError string, maxRetries int) error
}

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Relay is the polling variant: every tick it claims a batch of PENDING rows
// and attempts one synchronous publish per row. Rows are claimed with SKIP
// LOCKED so any number of relay instances can run against the same table.
type Relay struct {
	db     txBeginner
	store  store
	writer messageWriter
	logger *slog.Logger

	pollEvery      time.Duration
	batchSize      int
	publishTimeout time.Duration
	maxRetries     int
}

type RelayConfig struct {
	PollEvery      time.Duration
	BatchSize      int
	PublishTimeout time.Duration
	MaxRetries     int
}

func NewRelay(db txBeginner, store store, writer messageWriter, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Relay{
		db:             db,
		store:          store,
		writer:         writer,
		logger:         logger,
		pollEvery:      cfg.PollEvery,
		batchSize:      cfg.BatchSize,
		publishTimeout: cfg.PublishTimeout,
		maxRetries:     cfg.MaxRetries,
	}
}

func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.publishBatch(ctx); err != nil {
				r.logger.Error("outbox relay batch failed", "err", err)
			}
		}
	}
}

// publishBatch claims pending rows and tries each one independently: a broker
// failure on one row records that row's retry bookkeeping and moves on, so a
// single bad row never blocks the rest of the batch. Rows are claimed
// oldest-first, which together with key-hash partitioning preserves ordering
// per aggregate id.
func (r *Relay) publishBatch(ctx context.Context) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := r.store.ClaimPending(ctx, tx, r.batchSize)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return tx.Commit(ctx)
	}

	var published []int64
	for _, rcd := range records {
		msgCtx := otelx.ContextWithTraceContext(ctx, rcd.Traceparent, rcd.Tracestate)

		pubCtx, cancel := context.WithTimeout(msgCtx, r.publishTimeout)
		err := r.writer.WriteMessages(pubCtx, Message(msgCtx, rcd))
		cancel()

		if err != nil {
			retries := rcd.RetryCount + 1
			r.logger.Warn("outbox publish attempt failed",
				"event_id", rcd.EventID,
				"event_type", rcd.EventType,
				"topic", rcd.Topic,
				"retry_count", retries,
				"err", err,
			)
			if markErr := r.store.MarkFailed(ctx, tx, rcd.ID, retries, err.Error(), r.maxRetries); markErr != nil {
				return markErr
			}
			if retries >= r.maxRetries {
				r.logger.Error("outbox event exhausted publish retries",
					"event_id", rcd.EventID,
					"event_type", rcd.EventType,
					"topic", rcd.Topic,
					"err", err,
				)
			}
			continue
		}
		published = append(published, rcd.ID)
	}

	if err := r.store.MarkPublished(ctx, tx, published); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Message converts a stored row into its broker representation: key is the
// aggregate id (partition ordering), event_id/event_type travel as headers,
// and W3C trace context is re-injected from the producing transaction.
func Message(ctx context.Context, rcd Record) kafka.Message {
	msg := kafka.Message{
		Topic: rcd.Topic,
		Key:   []byte(rcd.AggregateID),
		Value: rcd.Payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(rcd.EventID)},
			{Key: "event_type", Value: []byte(rcd.EventType)},
		},
	}
	msg.Headers = kafkax.InjectTraceHeaders(ctx, msg.Headers)
	return msg
}
