package saga

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"

	"github.com/pawtrail/platform/libs/events"
	"github.com/pawtrail/platform/libs/kafkax"
	"github.com/pawtrail/platform/libs/outbox"
)

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.rolledBack = true
	return nil
}

type fakeDB struct {
	tx  *fakeTx
	err error
}

func (d *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.tx = &fakeTx{}
	return d.tx, nil
}

type fakeAppender struct {
	appended []outbox.Event
	err      error
}

func (a *fakeAppender) Append(ctx context.Context, tx pgx.Tx, evt outbox.Event) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.appended = append(a.appended, evt)
	return "comp-evt-1", nil
}

type fakeLedger struct {
	recorded  []string
	duplicate bool
	err       error
}

func (l *fakeLedger) Record(ctx context.Context, tx pgx.Tx, eventID, eventType string) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	if l.duplicate {
		return false, nil
	}
	l.recorded = append(l.recorded, eventID)
	return true, nil
}

func favoriteRules() map[string]Rule {
	return map[string]Rule{
		events.TypeFavoriteAdded: {
			CompensationType: events.TypeRollbackFavoriteAdded,
			Topic:            events.TopicFavoriteCompensation,
			AggregateType:    events.AggregateFavorite,
		},
	}
}

func favoriteAddedMsg(t *testing.T) (kafka.Message, kafkax.EventMeta) {
	t.Helper()
	payload, err := json.Marshal(events.FavoritePayload{UserID: "7", AnimalID: "42"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	msg := kafka.Message{
		Topic:     events.TopicFavoriteEvents,
		Partition: 1,
		Offset:    99,
		Key:       []byte("42"),
		Value:     payload,
	}
	meta := kafkax.EventMeta{EventID: "evt-fav-1", EventType: events.TypeFavoriteAdded}
	return msg, meta
}

func TestCompensate_EmitsRollbackExactlyOnce(t *testing.T) {
	db := &fakeDB{}
	appender := &fakeAppender{}
	ledger := &fakeLedger{}
	c := NewCompensator(db, appender, ledger, slog.New(slog.NewTextHandler(io.Discard, nil)), favoriteRules())

	msg, meta := favoriteAddedMsg(t)
	outcome := c.Compensate(context.Background(), msg, meta, errors.New("increment failed"))

	if outcome != OutcomeCompensationEmitted {
		t.Fatalf("expected compensation emitted, got %s", outcome)
	}
	if len(appender.appended) != 1 {
		t.Fatalf("expected exactly one compensation event, got %d", len(appender.appended))
	}
	evt := appender.appended[0]
	if evt.EventType != events.TypeRollbackFavoriteAdded {
		t.Fatalf("unexpected event type %q", evt.EventType)
	}
	if evt.Topic != events.TopicFavoriteCompensation {
		t.Fatalf("unexpected topic %q", evt.Topic)
	}
	payload, ok := evt.Payload.(events.CompensationPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", evt.Payload)
	}
	if payload.OriginalEventID != "evt-fav-1" {
		t.Fatalf("unexpected original event id %q", payload.OriginalEventID)
	}
	if payload.UserID != "7" || payload.AnimalID != "42" {
		t.Fatalf("target identifiers not carried: %+v", payload)
	}
	if payload.Reason != "increment failed" {
		t.Fatalf("unexpected reason %q", payload.Reason)
	}
	if len(ledger.recorded) != 1 || ledger.recorded[0] != "evt-fav-1" {
		t.Fatalf("expected original event settled in ledger, got %v", ledger.recorded)
	}
	if !db.tx.committed {
		t.Fatal("expected compensation transaction committed")
	}
}

func TestCompensate_NoRuleMeansNoEvent(t *testing.T) {
	db := &fakeDB{}
	appender := &fakeAppender{}
	c := NewCompensator(db, appender, &fakeLedger{}, slog.New(slog.NewTextHandler(io.Discard, nil)), favoriteRules())

	msg, meta := favoriteAddedMsg(t)
	meta.EventType = events.TypeFavoriteRemoved

	outcome := c.Compensate(context.Background(), msg, meta, errors.New("decrement failed"))
	if outcome != OutcomeExhausted {
		t.Fatalf("expected exhausted, got %s", outcome)
	}
	if len(appender.appended) != 0 {
		t.Fatalf("expected no compensation event, got %d", len(appender.appended))
	}
}

func TestCompensate_OutboxWriteFailureIsContained(t *testing.T) {
	db := &fakeDB{}
	appender := &fakeAppender{err: errors.New("relation outbox_events does not exist")}
	c := NewCompensator(db, appender, &fakeLedger{}, slog.New(slog.NewTextHandler(io.Discard, nil)), favoriteRules())

	msg, meta := favoriteAddedMsg(t)
	outcome := c.Compensate(context.Background(), msg, meta, errors.New("increment failed"))

	if outcome != OutcomeCompensationFailed {
		t.Fatalf("expected compensation failed, got %s", outcome)
	}
	if db.tx.committed {
		t.Fatal("expected no commit")
	}
	if !db.tx.rolledBack {
		t.Fatal("expected rollback")
	}
}

func TestCompensate_BeginFailureIsContained(t *testing.T) {
	db := &fakeDB{err: errors.New("pool closed")}
	c := NewCompensator(db, &fakeAppender{}, &fakeLedger{}, slog.New(slog.NewTextHandler(io.Discard, nil)), favoriteRules())

	msg, meta := favoriteAddedMsg(t)
	if outcome := c.Compensate(context.Background(), msg, meta, errors.New("boom")); outcome != OutcomeCompensationFailed {
		t.Fatalf("expected compensation failed, got %s", outcome)
	}
}

func TestCompensate_AlreadySettledIsDuplicate(t *testing.T) {
	db := &fakeDB{}
	appender := &fakeAppender{}
	c := NewCompensator(db, appender, &fakeLedger{duplicate: true}, slog.New(slog.NewTextHandler(io.Discard, nil)), favoriteRules())

	msg, meta := favoriteAddedMsg(t)
	if outcome := c.Compensate(context.Background(), msg, meta, errors.New("boom")); outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %s", outcome)
	}
	if len(appender.appended) != 0 {
		t.Fatal("expected no compensation event for settled id")
	}
}

func TestTruncateReason(t *testing.T) {
	if got := TruncateReason(nil); got != "" {
		t.Fatalf("expected empty reason for nil, got %q", got)
	}
	short := errors.New("increment failed")
	if got := TruncateReason(short); got != "increment failed" {
		t.Fatalf("unexpected reason %q", got)
	}
	long := errors.New(strings.Repeat("x", 2*ReasonMaxLen))
	if got := TruncateReason(long); len(got) != ReasonMaxLen {
		t.Fatalf("expected reason bounded to %d chars, got %d", ReasonMaxLen, len(got))
	}
}
