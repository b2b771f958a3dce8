package favorites

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pawtrail/platform/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Add inserts the favorite pair. Returns false when the pair already exists,
// so the caller emits no duplicate event.
func (r *Repository) Add(ctx context.Context, tx pgx.Tx, userID, animalID string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO favorites (user_id, animal_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, animal_id) DO NOTHING
	`, userID, animalID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Remove deletes the pair. Returns false when there was nothing to delete,
// which also makes rollback compensation idempotent.
func (r *Repository) Remove(ctx context.Context, tx pgx.Tx, userID, animalID string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		DELETE FROM favorites
		WHERE user_id = $1 AND animal_id = $2
	`, userID, animalID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) CountForUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM favorites WHERE user_id = $1
	`, userID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}
