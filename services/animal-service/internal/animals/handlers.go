package animals

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/pawtrail/platform/libs/db"
	"github.com/pawtrail/platform/libs/events"
	"github.com/pawtrail/platform/libs/outbox"
)

// Handler is the thin HTTP surface over the animal system of record. Every
// mutation writes its outbox event inside the same transaction; nothing here
// talks to the broker directly.
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
	mux.HandleFunc("/animals", h.collection)
	mux.HandleFunc("/animals/", h.item)
}

type animalRequest struct {
	Name        string `json:"name"`
	Species     string `json:"species"`
	Breed       string `json:"breed"`
	AgeMonths   int    `json:"age_months"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

func (req *animalRequest) validate() error {
	req.Name = strings.TrimSpace(req.Name)
	req.Species = strings.TrimSpace(req.Species)
	if req.Name == "" || req.Species == "" {
		return errors.New("name and species are required")
	}
	if req.AgeMonths < 0 {
		return errors.New("age_months must not be negative")
	}
	switch req.Status {
	case "":
		req.Status = StatusAvailable
	case StatusAvailable, StatusPending, StatusAdopted:
	default:
		return errors.New("unknown status")
	}
	return nil
}

func (h *Handler) collection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req animalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := req.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	a := Animal{
		Name:        req.Name,
		Species:     req.Species,
		Breed:       req.Breed,
		AgeMonths:   req.AgeMonths,
		Description: req.Description,
		Status:      req.Status,
	}

	var eventID string
	err := h.pool.WithTx(r.Context(), func(tx pgx.Tx) error {
		id, err := h.repo.Create(r.Context(), tx, &a)
		if err != nil {
			return err
		}
		a.ID = id
		eventID, err = h.outbox.Append(r.Context(), tx, outbox.Event{
			AggregateType: events.AggregateAnimal,
			AggregateID:   a.ID,
			EventType:     events.TypeAnimalCreated,
			Topic:         events.TopicAnimalEvents,
			Payload:       animalPayload(a),
		})
		return err
	})
	if err != nil {
		h.logger.Error("create animal failed", "err", err)
		http.Error(w, "create animal failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":       a.ID,
		"event_id": eventID,
	})
}

func (h *Handler) item(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/animals/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodPut:
		h.update(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request, id string) {
	a, err := h.repo.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "animal not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("get animal failed", "err", err)
		http.Error(w, "get animal failed", http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":             a.ID,
		"name":           a.Name,
		"species":        a.Species,
		"breed":          a.Breed,
		"age_months":     a.AgeMonths,
		"description":    a.Description,
		"status":         a.Status,
		"favorite_count": a.FavoriteCount,
	})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request, id string) {
	var req animalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := req.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	a := Animal{
		ID:          id,
		Name:        req.Name,
		Species:     req.Species,
		Breed:       req.Breed,
		AgeMonths:   req.AgeMonths,
		Description: req.Description,
		Status:      req.Status,
	}

	err := h.pool.WithTx(r.Context(), func(tx pgx.Tx) error {
		if err := h.repo.Update(r.Context(), tx, &a); err != nil {
			return err
		}
		_, err := h.outbox.Append(r.Context(), tx, outbox.Event{
			AggregateType: events.AggregateAnimal,
			AggregateID:   a.ID,
			EventType:     events.TypeAnimalUpdated,
			Topic:         events.TopicAnimalEvents,
			Payload:       animalPayload(a),
		})
		return err
	})
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "animal not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("update animal failed", "err", err)
		http.Error(w, "update animal failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request, id string) {
	err := h.pool.WithTx(r.Context(), func(tx pgx.Tx) error {
		if err := h.repo.Delete(r.Context(), tx, id); err != nil {
			return err
		}
		_, err := h.outbox.Append(r.Context(), tx, outbox.Event{
			AggregateType: events.AggregateAnimal,
			AggregateID:   id,
			EventType:     events.TypeAnimalDeleted,
			Topic:         events.TopicAnimalEvents,
			Payload:       events.AnimalPayload{AnimalID: id},
		})
		return err
	})
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "animal not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("delete animal failed", "err", err)
		http.Error(w, "delete animal failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func animalPayload(a Animal) events.AnimalPayload {
	return events.AnimalPayload{
		AnimalID:    a.ID,
		Name:        a.Name,
		Species:     a.Species,
		Breed:       a.Breed,
		AgeMonths:   a.AgeMonths,
		Description: a.Description,
		Status:      a.Status,
	}
}
