package favorites

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/pawtrail/platform/libs/db"
	"github.com/pawtrail/platform/libs/events"
	"github.com/pawtrail/platform/libs/outbox"
)

type Handler struct {
	pool   *db.Pool
	repo   *Repository
	outbox *outbox.Repository
	logger *slog.Logger
}

func NewHandler(pool *db.Pool, repo *Repository, outboxRepo *outbox.Repository, logger *slog.Logger) *Handler {
	return &Handler{pool: pool, repo: repo, outbox: outboxRepo, logger: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/favorites", h.favorites)
}

type favoriteRequest struct {
	UserID   string `json:"user_id"`
	AnimalID string `json:"animal_id"`
}

func (h *Handler) favorites(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.mutate(w, r, true)
	case http.MethodDelete:
		h.mutate(w, r, false)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// mutate adds or removes a favorite and, only when a row actually changed,
// appends the matching event to the outbox in the same transaction. The
// message key is the animal id so all favorite traffic for one animal stays
// ordered on one partition.
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, add bool) {
	var req favoriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.AnimalID = strings.TrimSpace(req.AnimalID)
	if req.UserID == "" || req.AnimalID == "" {
		http.Error(w, "user_id and animal_id are required", http.StatusBadRequest)
		return
	}

	var changed bool
	err := h.pool.WithTx(r.Context(), func(tx pgx.Tx) error {
		var err error
		if add {
			changed, err = h.repo.Add(r.Context(), tx, req.UserID, req.AnimalID)
		} else {
			changed, err = h.repo.Remove(r.Context(), tx, req.UserID, req.AnimalID)
		}
		if err != nil || !changed {
			return err
		}

		eventType := events.TypeFavoriteAdded
		if !add {
			eventType = events.TypeFavoriteRemoved
		}
		_, err = h.outbox.Append(r.Context(), tx, outbox.Event{
			AggregateType: events.AggregateFavorite,
			AggregateID:   req.AnimalID,
			EventType:     eventType,
			Topic:         events.TopicFavoriteEvents,
			Payload:       events.FavoritePayload{UserID: req.UserID, AnimalID: req.AnimalID},
		})
		return err
	})
	if err != nil {
		h.logger.Error("favorite mutation failed", "err", err, "user_id", req.UserID, "animal_id", req.AnimalID)
		http.Error(w, "favorite mutation failed", http.StatusInternalServerError)
		return
	}

	if !changed {
		w.WriteHeader(http.StatusOK)
		return
	}
	if add {
		w.WriteHeader(http.StatusCreated)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
