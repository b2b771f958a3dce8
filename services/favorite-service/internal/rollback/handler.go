// Package rollback consumes compensation events addressed to
// favorite-service and undoes the already-committed half of a failed
// cross-service favorite operation.
package rollback

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

type favoriteRemover interface {
	Remove(ctx context.Context, tx pgx.Tx, userID, animalID string) (bool, error)
}

type Handler struct {
	favorites favoriteRemover
	logger    *slog.Logger
}

func New(favorites favoriteRemover, logger *slog.Logger) *Handler {
	return &Handler{favorites: favorites, logger: logger}
}

func (h *Handler) Handle(ctx context.Context, tx pgx.Tx, msg kafka.Message, meta kafkax.EventMeta) error {
	if meta.EventType != events.TypeRollbackFavoriteAdded {
		h.logger.Warn("unknown compensation event type", "event_type", meta.EventType, "event_id", meta.EventID)
		return consumer.ErrSkip
	}

	var payload events.CompensationPayload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		h.logger.Warn("malformed compensation payload", "err", err)
		return fmt.Errorf("%w: %v", consumer.ErrSkip, err)
	}
	if payload.UserID == "" || payload.AnimalID == "" {
		h.logger.Warn("compensation payload missing target identifiers", "original_event_id", payload.OriginalEventID)
		return consumer.ErrSkip
	}

	removed, err := h.favorites.Remove(ctx, tx, payload.UserID, payload.AnimalID)
	if err != nil {
		return err
	}
	h.logger.Info("favorite rolled back",
		"user_id", payload.UserID,
		"animal_id", payload.AnimalID,
		"original_event_id", payload.OriginalEventID,
		"reason", payload.Reason,
		"removed", removed,
	)
	return nil
}
