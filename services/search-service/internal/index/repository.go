// Package index maintains the animal_documents projection that the search
// layer reads. It is a derived view: animal-service events are the only
// writer, and rebuilding it is always safe.
package index

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pawtrail/platform/libs/db"
)

type Document struct {
	AnimalID    string
	Name        string
	Species     string
	Breed       string
	AgeMonths   int
	Description string
	Status      string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert is idempotent by construction: replaying the same event converges
// on the same row.
func (r *Repository) Upsert(ctx context.Context, tx pgx.Tx, doc Document) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO animal_documents (animal_id, name, species, breed, age_months, description, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (animal_id) DO UPDATE
		SET name = EXCLUDED.name,
		    species = EXCLUDED.species,
		    breed = EXCLUDED.breed,
		    age_months = EXCLUDED.age_months,
		    description = EXCLUDED.description,
		    status = EXCLUDED.status,
		    updated_at = now()
	`, doc.AnimalID, doc.Name, doc.Species, doc.Breed, doc.AgeMonths, doc.Description, doc.Status)
	return err
}

func (r *Repository) Delete(ctx context.Context, tx pgx.Tx, animalID string) error {
	_, err := tx.Exec(ctx, `
		DELETE FROM animal_documents
		WHERE animal_id = $1
	`, animalID)
	return err
}
