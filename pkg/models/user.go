package models

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventView       EventType = "view"
	EventFavorite   EventType = "favorite"
	EventRedemption EventType = "redemption"
)

func (e EventType) Valid() bool {
	switch e {
	case EventView, EventFavorite, EventRedemption:
		return true
	}
	return false
}

// Interaction is one raw event read from the interactions table.
type Interaction struct {
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	PartnerID uuid.UUID `json:"partner_id" db:"partner_id"`
	EventType EventType `json:"event_type" db:"event_type"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// UserProfile is the read-only user snapshot plus the categories derived
// from the user's own interactions, strongest first.
type UserProfile struct {
	UserID              uuid.UUID `json:"user_id" db:"id"`
	SubscriptionTier    string    `json:"subscription_tier" db:"subscription_tier"`
	AgeGroup            string    `json:"age_group" db:"age_group"`
	City                string    `json:"city" db:"city"`
	PreferredCategories []string  `json:"preferred_categories"`
}

func (p *UserProfile) PreferredCategory() (string, bool) {
	if p == nil || len(p.PreferredCategories) == 0 {
		return "", false
	}
	return p.PreferredCategories[0], true
}
