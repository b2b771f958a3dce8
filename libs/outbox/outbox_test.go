package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/segmentio/kafka-go"
)

type fakeTx struct {
	pgx.Tx
	execs      int
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execs++
	return pgconn.CommandTag{}, nil
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
	tx *fakeTx
}

func (d *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	d.tx = &fakeTx{}
	return d.tx, nil
}

func TestAppend_PayloadMarshalErrorCreatesNoRow(t *testing.T) {
	repo := NewRepository(nil)
	tx := &fakeTx{}

	_, err := repo.Append(context.Background(), tx, Event{
		AggregateType: "animal",
		AggregateID:   "42",
		EventType:     "ANIMAL_CREATED",
		Topic:         "animal-events",
		Payload:       make(chan int), // not serializable
	})
	if err == nil {
		t.Fatal("expected marshal error")
	}
	if tx.execs != 0 {
		t.Fatalf("expected no insert on marshal failure, got %d", tx.execs)
	}
}

func TestAppend_ValidatesRequiredFields(t *testing.T) {
	repo := NewRepository(nil)
	tx := &fakeTx{}

	cases := []Event{
		{AggregateID: "42", EventType: "X", Topic: "t", Payload: []byte("{}")},
		{AggregateType: "animal", EventType: "X", Topic: "t", Payload: []byte("{}")},
		{AggregateType: "animal", AggregateID: "42", Topic: "t", Payload: []byte("{}")},
		{AggregateType: "animal", AggregateID: "42", EventType: "X", Payload: []byte("{}")},
		{AggregateType: "animal", AggregateID: "42", EventType: "X", Topic: "t"},
	}
	for i, evt := range cases {
		if _, err := repo.Append(context.Background(), tx, evt); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
	if tx.execs != 0 {
		t.Fatalf("expected no inserts, got %d", tx.execs)
	}
}

func TestAppend_ReturnsEventID(t *testing.T) {
	repo := NewRepository(nil)
	tx := &fakeTx{}

	id, err := repo.Append(context.Background(), tx, Event{
		AggregateType: "animal",
		AggregateID:   "42",
		EventType:     "ANIMAL_CREATED",
		Topic:         "animal-events",
		Payload:       map[string]string{"name": "Rex"},
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty event id")
	}
	if tx.execs != 1 {
		t.Fatalf("expected one insert, got %d", tx.execs)
	}
}

type failedMark struct {
	id         int64
	retryCount int
	lastError  string
	maxRetries int
}

type fakeStore struct {
	records   []Record
	published []int64
	failed    []failedMark
}

func (s *fakeStore) ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error) {
	if limit < len(s.records) {
		return s.records[:limit], nil
	}
	return s.records, nil
}

func (s *fakeStore) MarkPublished(ctx context.Context, tx pgx.Tx, ids []int64) error {
	s.published = append(s.published, ids...)
	return nil
}

func (s *fakeStore) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, retryCount int, lastError string, maxRetries int) error {
	s.failed = append(s.failed, failedMark{id: id, retryCount: retryCount, lastError: lastError, maxRetries: maxRetries})
	return nil
}

type fakeWriter struct {
	failKeys map[string]error
	written  []kafka.Message
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	for _, msg := range msgs {
		if err, ok := w.failKeys[string(msg.Key)]; ok {
			return err
		}
		w.written = append(w.written, msg)
	}
	return nil
}

func testRecords() []Record {
	now := time.Now().UTC()
	return []Record{
		{ID: 1, EventID: "evt-1", AggregateType: "animal", AggregateID: "a-1", EventType: "ANIMAL_CREATED", Topic: "animal-events", Payload: []byte(`{}`), CreatedAt: now.Add(-3 * time.Second)},
		{ID: 2, EventID: "evt-2", AggregateType: "animal", AggregateID: "a-2", EventType: "ANIMAL_CREATED", Topic: "animal-events", Payload: []byte(`{}`), CreatedAt: now.Add(-2 * time.Second)},
		{ID: 3, EventID: "evt-3", AggregateType: "animal", AggregateID: "a-1", EventType: "ANIMAL_UPDATED", Topic: "animal-events", Payload: []byte(`{}`), CreatedAt: now.Add(-1 * time.Second)},
	}
}

func newTestRelay(store *fakeStore, writer *fakeWriter) (*Relay, *fakeDB) {
	db := &fakeDB{}
	relay := NewRelay(db, store, writer, slog.New(slog.NewTextHandler(io.Discard, nil)), RelayConfig{
		PollEvery:      time.Second,
		BatchSize:      50,
		PublishTimeout: time.Second,
		MaxRetries:     3,
	})
	return relay, db
}

func TestPublishBatch_AllSucceed(t *testing.T) {
	store := &fakeStore{records: testRecords()}
	writer := &fakeWriter{}
	relay, db := newTestRelay(store, writer)

	if err := relay.publishBatch(context.Background()); err != nil {
		t.Fatalf("publishBatch failed: %v", err)
	}
	if len(store.published) != 3 {
		t.Fatalf("expected 3 published, got %v", store.published)
	}
	if len(store.failed) != 0 {
		t.Fatalf("expected no failures, got %v", store.failed)
	}
	if !db.tx.committed {
		t.Fatal("expected commit")
	}
}

func TestPublishBatch_OneFailureDoesNotBlockOthers(t *testing.T) {
	store := &fakeStore{records: testRecords()}
	writer := &fakeWriter{failKeys: map[string]error{"a-2": errors.New("broker unreachable")}}
	relay, _ := newTestRelay(store, writer)

	if err := relay.publishBatch(context.Background()); err != nil {
		t.Fatalf("publishBatch failed: %v", err)
	}
	if len(store.published) != 2 || store.published[0] != 1 || store.published[1] != 3 {
		t.Fatalf("expected rows 1 and 3 published, got %v", store.published)
	}
	if len(store.failed) != 1 {
		t.Fatalf("expected one failure, got %v", store.failed)
	}
	mark := store.failed[0]
	if mark.id != 2 || mark.retryCount != 1 || mark.maxRetries != 3 {
		t.Fatalf("unexpected failure mark: %+v", mark)
	}
	if mark.lastError != "broker unreachable" {
		t.Fatalf("unexpected last error: %q", mark.lastError)
	}
}

func TestPublishBatch_RetryCountReachesCeiling(t *testing.T) {
	records := testRecords()[:1]
	records[0].RetryCount = 2
	store := &fakeStore{records: records}
	writer := &fakeWriter{failKeys: map[string]error{"a-1": errors.New("timeout")}}
	relay, _ := newTestRelay(store, writer)

	if err := relay.publishBatch(context.Background()); err != nil {
		t.Fatalf("publishBatch failed: %v", err)
	}
	if len(store.failed) != 1 {
		t.Fatalf("expected one failure mark, got %v", store.failed)
	}
	if store.failed[0].retryCount != 3 {
		t.Fatalf("expected retry count 3 at ceiling, got %d", store.failed[0].retryCount)
	}
}

func TestMessage_WireContract(t *testing.T) {
	rcd := Record{
		EventID:     "evt-9",
		AggregateID: "animal-7",
		EventType:   "FAVORITE_ADDED",
		Topic:       "favorite-events",
		Payload:     []byte(`{"user_id":"7","animal_id":"42"}`),
	}
	msg := Message(context.Background(), rcd)
	if msg.Topic != "favorite-events" {
		t.Fatalf("unexpected topic %q", msg.Topic)
	}
	if string(msg.Key) != "animal-7" {
		t.Fatalf("unexpected key %q", msg.Key)
	}
	var gotID, gotType string
	for _, h := range msg.Headers {
		switch h.Key {
		case "event_id":
			gotID = string(h.Value)
		case "event_type":
			gotType = string(h.Value)
		}
	}
	if gotID != "evt-9" || gotType != "FAVORITE_ADDED" {
		t.Fatalf("unexpected headers: id=%q type=%q", gotID, gotType)
	}
}

type fakeLock struct {
	acquired bool
	err      error
	releases int
}

func (l *fakeLock) TryAcquire(ctx context.Context) (func(), bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if !l.acquired {
		return nil, false, nil
	}
	return func() { l.releases++ }, true, nil
}

func TestSweep_DeletesPastCutoff(t *testing.T) {
	var gotCutoff time.Time
	lock := &fakeLock{acquired: true}
	s := NewSweeper(lock, slog.New(slog.NewTextHandler(io.Discard, nil)), SweeperConfig{Retention: 7 * 24 * time.Hour},
		RetentionTarget{Name: "outbox_events", DeleteBefore: func(ctx context.Context, cutoff time.Time) (int64, error) {
			gotCutoff = cutoff
			return 4, nil
		}},
	)

	before := time.Now().UTC()
	s.sweep(context.Background())

	want := before.Add(-7 * 24 * time.Hour)
	if gotCutoff.Before(want.Add(-time.Minute)) || gotCutoff.After(want.Add(time.Minute)) {
		t.Fatalf("cutoff %s not near %s", gotCutoff, want)
	}
	if lock.releases != 1 {
		t.Fatal("expected lease released")
	}
}

func TestSweep_SkipsWithoutLease(t *testing.T) {
	called := false
	s := NewSweeper(&fakeLock{acquired: false}, slog.New(slog.NewTextHandler(io.Discard, nil)), SweeperConfig{},
		RetentionTarget{Name: "outbox_events", DeleteBefore: func(ctx context.Context, cutoff time.Time) (int64, error) {
			called = true
			return 0, nil
		}},
	)
	s.sweep(context.Background())
	if called {
		t.Fatal("expected sweep to be skipped when lease is held elsewhere")
	}
}

func TestCutoff(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	got := Cutoff(now, 7*24*time.Hour)
	want := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
