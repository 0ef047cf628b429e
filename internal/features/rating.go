package features

import (
	"time"

	"github.com/temcen/partnerrec/pkg/models"
)

const (
	RatingRedemption = 5.0
	RatingFavorite   = 4.0
	RatingHighViews  = 3.0
	RatingMidViews   = 2.0
	RatingLowViews   = 1.0

	day = 24 * time.Hour
)

// ImplicitRating derives the 1..5 implicit rating for an event. viewCount is
// the number of views the user made of the same partner inside the window
// and only matters for view events.
func ImplicitRating(event models.EventType, viewCount int) float64 {
	switch event {
	case models.EventRedemption:
		return RatingRedemption
	case models.EventFavorite:
		return RatingFavorite
	}
	switch {
	case viewCount > 5:
		return RatingHighViews
	case viewCount > 2:
		return RatingMidViews
	default:
		return RatingLowViews
	}
}

// RecencyWeight is a step function of event age, non-increasing in age.
// Events from the future are treated as fresh.
func RecencyWeight(age time.Duration) float64 {
	switch {
	case age <= 7*day:
		return 1.0
	case age <= 30*day:
		return 0.9
	case age <= 90*day:
		return 0.7
	default:
		return 0.5
	}
}

// WeightedRating applies the recency step and the global recency scale.
func WeightedRating(rating, recency, scale float64) float64 {
	return rating * recency * scale
}
