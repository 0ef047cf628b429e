package models

import (
	"bytes"

	"github.com/google/uuid"
)

// Partner is a snapshot of a catalog venue. Rating is the smoothed average
// computed at extraction time, CatalogRating the raw column value.
type Partner struct {
	ID            uuid.UUID `json:"id" db:"id"`
	Category      string    `json:"category" db:"category"`
	Subcategory   string    `json:"subcategory" db:"subcategory"`
	City          string    `json:"city" db:"city"`
	PriceRange    int       `json:"price_range" db:"price_range"`
	CatalogRating float64   `json:"catalog_rating" db:"rating"`
	Rating        float64   `json:"rating"`
	ReviewCount   int       `json:"review_count"`
	Tags          []string  `json:"tags" db:"tags"`
	Premium       bool      `json:"premium" db:"premium"`
}

// LessID orders ids by their byte representation, which matches the order
// of their canonical string form.
func LessID(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}
