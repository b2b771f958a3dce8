package saga

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"

	"github.com/pawtrail/platform/libs/events"
	"github.com/pawtrail/platform/libs/kafkax"
	"github.com/pawtrail/platform/libs/outbox"
)

// ReasonMaxLen bounds the failure reason carried on compensation events so
// the message stays small.
const ReasonMaxLen = 500

// Rule describes the inverse of one event type. Event types without a rule
// have no meaningful inverse; exhaustion is then logged as a permanent
// inconsistency and nothing is emitted.
type Rule struct {
	CompensationType string
	Topic            string
	AggregateType    string
}

type appender interface {
	Append(ctx context.Context, tx pgx.Tx, evt outbox.Event) (string, error)
}

type ledger interface {
	Record(ctx context.Context, tx pgx.Tx, eventID, eventType string) (bool, error)
}

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Compensator turns an exhausted inbound event into at most one compensation
// event. The ledger row for the original event and the compensation outbox
// row commit in one transaction, which is what makes the emission exactly
// once even under redelivery.
type Compensator struct {
	db     txBeginner
	outbox appender
	ledger ledger
	rules  map[string]Rule
	logger *slog.Logger
}

func NewCompensator(db txBeginner, outboxRepo appender, ledgerRepo ledger, logger *slog.Logger, rules map[string]Rule) *Compensator {
	return &Compensator{
		db:     db,
		outbox: outboxRepo,
		ledger: ledgerRepo,
		rules:  rules,
		logger: logger,
	}
}

func (c *Compensator) Compensate(ctx context.Context, msg kafka.Message, meta kafkax.EventMeta, cause error) Outcome {
	rule, ok := c.rules[meta.EventType]
	if !ok {
		// No inverse exists (or undoing would be harmful). Permanent
		// inconsistency; reconciliation or an operator resolves it.
		c.logger.Error("event exhausted retries, no compensation applies",
			"event_id", meta.EventID,
			"event_type", meta.EventType,
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"err", cause,
		)
		return OutcomeExhausted
	}

	// Target identifiers ride in the original payload; decode best-effort.
	var ids struct {
		UserID   string `json:"user_id"`
		AnimalID string `json:"animal_id"`
	}
	_ = json.Unmarshal(msg.Value, &ids)

	aggregateID := string(msg.Key)
	if aggregateID == "" {
		aggregateID = meta.EventID
	}

	payload := events.CompensationPayload{
		OriginalEventID:  meta.EventID,
		CompensationType: rule.CompensationType,
		UserID:           ids.UserID,
		AnimalID:         ids.AnimalID,
		Reason:           TruncateReason(cause),
	}

	emitted, err := c.emit(ctx, meta, rule, aggregateID, payload)
	if err != nil {
		// Second-order failure: we could not even record the undo request.
		// Contained by design: log everything an operator needs, keep the
		// worker alive for the rest of the partition.
		c.logger.Error("compensation event could not be produced, manual intervention required",
			"event_id", meta.EventID,
			"event_type", meta.EventType,
			"compensation_type", rule.CompensationType,
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"payload", string(msg.Value),
			"original_err", cause,
			"err", err,
		)
		return OutcomeCompensationFailed
	}
	if !emitted {
		return OutcomeDuplicate
	}

	c.logger.Warn("compensation event emitted",
		"event_id", meta.EventID,
		"event_type", meta.EventType,
		"compensation_type", rule.CompensationType,
		"compensation_topic", rule.Topic,
		"err", cause,
	)
	return OutcomeCompensationEmitted
}

func (c *Compensator) emit(ctx context.Context, meta kafkax.EventMeta, rule Rule, aggregateID string, payload events.CompensationPayload) (bool, error) {
	tx, err := c.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted, err := c.ledger.Record(ctx, tx, meta.EventID, meta.EventType)
	if err != nil {
		return false, err
	}
	if !inserted {
		// Another worker already settled this event id.
		return false, nil
	}

	if _, err := c.outbox.Append(ctx, tx, outbox.Event{
		AggregateType: rule.AggregateType,
		AggregateID:   aggregateID,
		EventType:     rule.CompensationType,
		Topic:         rule.Topic,
		Payload:       payload,
	}); err != nil {
		return false, err
	}

	return true, tx.Commit(ctx)
}

// TruncateReason renders an error as a reason string of at most ReasonMaxLen.
func TruncateReason(err error) string {
	if err == nil {
		return ""
	}
	reason := err.Error()
	if len(reason) > ReasonMaxLen {
		reason = reason[:ReasonMaxLen]
	}
	return reason
}
