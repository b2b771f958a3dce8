package index

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"

	"github.com/pawtrail/platform/libs/consumer"
	"github.com/pawtrail/platform/libs/events"
	"github.com/pawtrail/platform/libs/kafkax"
)

type fakeDocs struct {
	upserts []Document
	deletes []string
}

func (d *fakeDocs) Upsert(ctx context.Context, tx pgx.Tx, doc Document) error {
	d.upserts = append(d.upserts, doc)
	return nil
}

func (d *fakeDocs) Delete(ctx context.Context, tx pgx.Tx, animalID string) error {
	d.deletes = append(d.deletes, animalID)
	return nil
}

func animalMessage(t *testing.T, payload events.AnimalPayload) kafka.Message {
	t.Helper()
	value, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return kafka.Message{Topic: events.TopicAnimalEvents, Key: []byte(payload.AnimalID), Value: value}
}

func TestHandle_CreatedUpserts(t *testing.T) {
	docs := &fakeDocs{}
	h := NewHandler(docs, slog.New(slog.NewTextHandler(io.Discard, nil)))

	msg := animalMessage(t, events.AnimalPayload{AnimalID: "42", Name: "Rex", Species: "dog", Status: "available"})
	meta := kafkax.EventMeta{EventID: "evt-1", EventType: events.TypeAnimalCreated}

	if err := h.Handle(context.Background(), nil, msg, meta); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(docs.upserts) != 1 {
		t.Fatalf("expected one upsert, got %d", len(docs.upserts))
	}
	if doc := docs.upserts[0]; doc.AnimalID != "42" || doc.Name != "Rex" {
		t.Fatalf("unexpected document: %+v", doc)
	}
}

func TestHandle_DeletedRemovesDocument(t *testing.T) {
	docs := &fakeDocs{}
	h := NewHandler(docs, slog.New(slog.NewTextHandler(io.Discard, nil)))

	msg := animalMessage(t, events.AnimalPayload{AnimalID: "42"})
	meta := kafkax.EventMeta{EventID: "evt-2", EventType: events.TypeAnimalDeleted}

	if err := h.Handle(context.Background(), nil, msg, meta); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(docs.deletes) != 1 || docs.deletes[0] != "42" {
		t.Fatalf("unexpected deletes: %v", docs.deletes)
	}
}

func TestHandle_UnknownTypeSkips(t *testing.T) {
	docs := &fakeDocs{}
	h := NewHandler(docs, slog.New(slog.NewTextHandler(io.Discard, nil)))

	msg := animalMessage(t, events.AnimalPayload{AnimalID: "42"})
	meta := kafkax.EventMeta{EventID: "evt-3", EventType: "ANIMAL_TELEPORTED"}

	if err := h.Handle(context.Background(), nil, msg, meta); !errors.Is(err, consumer.ErrSkip) {
		t.Fatalf("expected ErrSkip, got %v", err)
	}
	if len(docs.upserts)+len(docs.deletes) != 0 {
		t.Fatal("expected no writes")
	}
}

func TestHandle_MalformedPayloadSkips(t *testing.T) {
	h := NewHandler(&fakeDocs{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	msg := kafka.Message{Topic: events.TopicAnimalEvents, Value: []byte(`{broken`)}
	meta := kafkax.EventMeta{EventID: "evt-4", EventType: events.TypeAnimalCreated}

	if err := h.Handle(context.Background(), nil, msg, meta); !errors.Is(err, consumer.ErrSkip) {
		t.Fatalf("expected ErrSkip, got %v", err)
	}
}
