package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"

	"github.com/pawtrail/platform/libs/consumer"
	"github.com/pawtrail/platform/libs/events"
	"github.com/pawtrail/platform/libs/kafkax"
)

type documents interface {
	Upsert(ctx context.Context, tx pgx.Tx, doc Document) error
	Delete(ctx context.Context, tx pgx.Tx, animalID string) error
}

type Handler struct {
	docs   documents
	logger *slog.Logger
}

func NewHandler(docs documents, logger *slog.Logger) *Handler {
	return &Handler{docs: docs, logger: logger}
}

func (h *Handler) Handle(ctx context.Context, tx pgx.Tx, msg kafka.Message, meta kafkax.EventMeta) error {
	switch meta.EventType {
	case events.TypeAnimalCreated, events.TypeAnimalUpdated:
		var payload events.AnimalPayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			h.logger.Warn("malformed animal payload", "err", err)
			return fmt.Errorf("%w: %v", consumer.ErrSkip, err)
		}
		if payload.AnimalID == "" {
			h.logger.Warn("animal payload missing animal_id", "event_id", meta.EventID)
			return consumer.ErrSkip
		}
		return h.docs.Upsert(ctx, tx, Document{
			AnimalID:    payload.AnimalID,
			Name:        payload.Name,
			Species:     payload.Species,
			Breed:       payload.Breed,
			AgeMonths:   payload.AgeMonths,
			Description: payload.Description,
			Status:      payload.Status,
		})
	case events.TypeAnimalDeleted:
		var payload events.AnimalPayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			h.logger.Warn("malformed animal payload", "err", err)
			return fmt.Errorf("%w: %v", consumer.ErrSkip, err)
		}
		if payload.AnimalID == "" {
			return consumer.ErrSkip
		}
		return h.docs.Delete(ctx, tx, payload.AnimalID)
	default:
		h.logger.Warn("unknown animal event type", "event_type", meta.EventType, "event_id", meta.EventID)
		return consumer.ErrSkip
	}
}
