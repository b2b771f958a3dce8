package animals

import "time"

const (
	StatusAvailable = "available"
	StatusPending   = "pending"
	StatusAdopted   = "adopted"
)

type Animal struct {
	ID            string
	Name          string
	Species       string
	Breed         string
	AgeMonths     int
	Description   string
	Status        string
	FavoriteCount int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
