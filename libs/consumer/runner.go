// Package consumer is the shared idempotent Kafka consumer loop: dedup gate,
// effect-then-ledger transaction, bounded retry, and the compensation hook
// for events that exhaust their budget.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pawtrail/platform/libs/kafkax"
	"github.com/pawtrail/platform/libs/saga"
)

// ErrSkip tells the runner the message is malformed or of an unknown type:
// log it, drop it, never retry and never crash the worker.
var ErrSkip = errors.New("consumer: skip message")

var errAlreadyProcessed = errors.New("consumer: event already processed")

// Handler applies the business side effect inside tx. The runner writes the
// dedup ledger row into the same tx afterwards, so effect and ledger commit
// atomically; a crash before commit simply causes a safe redelivery.
type Handler func(ctx context.Context, tx pgx.Tx, msg kafka.Message, meta kafkax.EventMeta) error

type ledger interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, tx pgx.Tx, eventID, eventType string) (bool, error)
}

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type compensator interface {
	Compensate(ctx context.Context, msg kafka.Message, meta kafkax.EventMeta, cause error) saga.Outcome
}

type Runner struct {
	reader  *kafka.Reader
	db      txBeginner
	ledger  ledger
	handler Handler
	comp    compensator
	logger  *slog.Logger

	maxAttempts   int
	retryInterval time.Duration
}

type Config struct {
	Brokers string
	GroupID string
	Topic   string
	// MaxAttempts bounds apply attempts per message (the retry ceiling).
	MaxAttempts int
	// RetryInterval is the fixed backoff between attempts.
	RetryInterval time.Duration
}

// New builds a runner. comp may be nil for consumers whose failures have no
// compensating action; exhaustion is then only logged.
func New(db txBeginner, ledgerRepo ledger, logger *slog.Logger, cfg Config, handler Handler, comp compensator) *Runner {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	var reader *kafka.Reader
	if brokers := kafkax.SplitBrokers(cfg.Brokers); len(brokers) > 0 {
		reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			GroupID:  cfg.GroupID,
			Topic:    cfg.Topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
	}
	return &Runner{
		reader:        reader,
		db:            db,
		ledger:        ledgerRepo,
		handler:       handler,
		comp:          comp,
		logger:        logger,
		maxAttempts:   cfg.MaxAttempts,
		retryInterval: cfg.RetryInterval,
	}
}

func (r *Runner) Run(ctx context.Context) {
	if r.reader == nil {
		r.logger.Warn("consumer disabled (no kafka brokers configured)")
		return
	}
	defer r.reader.Close()

	for {
		msg, err := r.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("kafka read error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		msgCtx := kafkax.ExtractTraceContext(ctx, msg)
		spanCtx, span := otel.Tracer("kafka").Start(msgCtx, "kafka.consume",
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination", msg.Topic),
			),
		)

		meta := kafkax.ExtractEventMeta(msg)
		outcome := r.process(spanCtx, msg, meta)
		span.SetAttributes(attribute.String("messaging.outcome", outcome.String()))
		span.End()

		switch outcome {
		case saga.OutcomeApplied:
			r.logger.Info("event applied", "event_id", meta.EventID, "event_type", meta.EventType)
		case saga.OutcomeDuplicate:
			r.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
		case saga.OutcomeSkipped:
			r.logger.Warn("event skipped", "event_id", meta.EventID, "event_type", meta.EventType, "topic", msg.Topic)
		}
		// Exhausted and compensation outcomes are logged where they are
		// decided, with full message context.
	}
}

// process drives one message through the RECEIVED → {APPLIED | EXHAUSTED}
// state machine and returns the terminal outcome.
func (r *Runner) process(ctx context.Context, msg kafka.Message, meta kafkax.EventMeta) saga.Outcome {
	if meta.EventID == "" {
		return saga.OutcomeSkipped
	}

	seen, err := r.ledger.Seen(ctx, meta.EventID)
	if err != nil {
		r.logger.Error("dedup check failed", "event_id", meta.EventID, "err", err)
		// Fall through: the ledger insert inside applyOnce still guards us.
	} else if seen {
		return saga.OutcomeDuplicate
	}

	var lastErr error
	attempt := func() error {
		err := r.applyOnce(ctx, msg, meta)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrSkip), errors.Is(err, errAlreadyProcessed):
			return backoff.Permanent(err)
		default:
			lastErr = err
			return err
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.retryInterval), uint64(r.maxAttempts-1)),
		ctx,
	)
	err = backoff.Retry(attempt, policy)
	switch {
	case err == nil:
		return saga.OutcomeApplied
	case errors.Is(err, errAlreadyProcessed):
		return saga.OutcomeDuplicate
	case errors.Is(err, ErrSkip):
		return saga.OutcomeSkipped
	}

	if lastErr == nil {
		lastErr = err
	}
	if r.comp == nil {
		r.logger.Error("event exhausted retries, no compensator configured",
			"event_id", meta.EventID,
			"event_type", meta.EventType,
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"err", lastErr,
		)
		return saga.OutcomeExhausted
	}
	return r.comp.Compensate(ctx, msg, meta, lastErr)
}

// applyOnce runs side effect then ledger write in a single transaction.
// Ledger-after-effect ordering is load-bearing: a crash between the two can
// only lose the ledger row, which redelivery repairs.
func (r *Runner) applyOnce(ctx context.Context, msg kafka.Message, meta kafkax.EventMeta) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := r.handler(ctx, tx, msg, meta); err != nil {
		return err
	}

	inserted, err := r.ledger.Record(ctx, tx, meta.EventID, meta.EventType)
	if err != nil {
		return err
	}
	if !inserted {
		return errAlreadyProcessed
	}
	return tx.Commit(ctx)
}
