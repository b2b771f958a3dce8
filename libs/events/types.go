// Package events is the cross-service wire contract: topic names, event type
// discriminators, and the JSON payload shapes carried on them. Payloads stay
// opaque to the outbox itself; only producers and consumers depend on these.
package events

// Topics. The broker partitions each by the message key (aggregate id).
const (
	TopicAnimalEvents         = "animal-events"
	TopicFavoriteEvents       = "favorite-events"
	TopicFavoriteCompensation = "favorite-compensation"
)

// Event type discriminators, used for consumer routing and compensation
// classification.
const (
	TypeAnimalCreated = "ANIMAL_CREATED"
	TypeAnimalUpdated = "ANIMAL_UPDATED"
	TypeAnimalDeleted = "ANIMAL_DELETED"

	TypeFavoriteAdded   = "FAVORITE_ADDED"
	TypeFavoriteRemoved = "FAVORITE_REMOVED"

	TypeRollbackFavoriteAdded = "ROLLBACK_FAVORITE_ADDED"
)

// Aggregate types recorded on outbox rows.
const (
	AggregateAnimal   = "animal"
	AggregateFavorite = "favorite"
)

type AnimalPayload struct {
	AnimalID    string `json:"animal_id"`
	Name        string `json:"name"`
	Species     string `json:"species"`
	Breed       string `json:"breed,omitempty"`
	AgeMonths   int    `json:"age_months,omitempty"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
}

type FavoritePayload struct {
	UserID   string `json:"user_id"`
	AnimalID string `json:"animal_id"`
}

// CompensationPayload asks the originating service to undo its
// already-committed half of a failed cross-service operation.
type CompensationPayload struct {
	OriginalEventID  string `json:"original_event_id"`
	CompensationType string `json:"compensation_type"`
	UserID           string `json:"user_id,omitempty"`
	AnimalID         string `json:"animal_id,omitempty"`
	Reason           string `json:"reason"`
}
