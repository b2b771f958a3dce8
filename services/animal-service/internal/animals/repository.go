package animals

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pawtrail/platform/libs/db"
)

var ErrNotFound = errors.New("animals: not found")

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, tx pgx.Tx, a *Animal) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO animals (name, species, breed, age_months, description, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, a.Name, a.Species, a.Breed, a.AgeMonths, a.Description, a.Status).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) Update(ctx context.Context, tx pgx.Tx, a *Animal) error {
	tag, err := tx.Exec(ctx, `
		UPDATE animals
		SET name = $2,
		    species = $3,
		    breed = $4,
		    age_months = $5,
		    description = $6,
		    status = $7,
		    updated_at = now()
		WHERE id = $1
	`, a.ID, a.Name, a.Species, a.Breed, a.AgeMonths, a.Description, a.Status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, `DELETE FROM animals WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (Animal, error) {
	var a Animal
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, species, COALESCE(breed, ''), age_months, COALESCE(description, ''),
		       status, favorite_count, created_at, updated_at
		FROM animals
		WHERE id = $1
	`, id).Scan(&a.ID, &a.Name, &a.Species, &a.Breed, &a.AgeMonths, &a.Description,
		&a.Status, &a.FavoriteCount, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Animal{}, ErrNotFound
	}
	if err != nil {
		return Animal{}, err
	}
	return a, nil
}

// AdjustFavoriteCount moves the denormalized counter by delta, floored at
// zero. A missing animal is an error so the caller's retry and compensation
// machinery can see the effect was not applied.
func (r *Repository) AdjustFavoriteCount(ctx context.Context, tx pgx.Tx, animalID string, delta int) error {
	tag, err := tx.Exec(ctx, `
		UPDATE animals
		SET favorite_count = GREATEST(favorite_count + $2, 0),
		    updated_at = now()
		WHERE id = $1
	`, animalID, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("adjust favorite count for animal %s: %w", animalID, ErrNotFound)
	}
	return nil
}
