// Package favcount applies favorite events from favorite-service to the
// denormalized favorite_count column on animals.
package favcount

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

type counters interface {
	AdjustFavoriteCount(ctx context.Context, tx pgx.Tx, animalID string, delta int) error
}

type Handler struct {
	animals counters
	logger  *slog.Logger
}

func New(animals counters, logger *slog.Logger) *Handler {
	return &Handler{animals: animals, logger: logger}
}

// Handle runs inside the runner's transaction; returning an error leaves the
// ledger unwritten and counts against the retry budget.
func (h *Handler) Handle(ctx context.Context, tx pgx.Tx, msg kafka.Message, meta kafkax.EventMeta) error {
	switch meta.EventType {
	case events.TypeFavoriteAdded:
		return h.adjust(ctx, tx, msg, +1)
	case events.TypeFavoriteRemoved:
		return h.adjust(ctx, tx, msg, -1)
	default:
		h.logger.Warn("unknown favorite event type", "event_type", meta.EventType, "event_id", meta.EventID)
		return consumer.ErrSkip
	}
}

func (h *Handler) adjust(ctx context.Context, tx pgx.Tx, msg kafka.Message, delta int) error {
	var payload events.FavoritePayload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		h.logger.Warn("malformed favorite payload", "err", err)
		return fmt.Errorf("%w: %v", consumer.ErrSkip, err)
	}
	if payload.AnimalID == "" {
		h.logger.Warn("favorite payload missing animal_id")
		return consumer.ErrSkip
	}
	return h.animals.AdjustFavoriteCount(ctx, tx, payload.AnimalID, delta)
}
