package models

// DeckToken binds a batch of cards to the decision endpoint. Opaque to clients.
type DeckToken = string

// Card is one swipeable candidate
type Card struct {
	ID         string    `json:"id" validate:"required"`        // Identity within one issuance
	TargetID   int64     `json:"targetId" validate:"required"`  // Stable candidate identity, dedup key
	Name       string    `json:"name"`
	Age        int       `json:"age"`
	SkillLevel string    `json:"skillLevel"`
	DistanceKm *float64  `json:"distanceKm,omitempty"`
	Photo      string    `json:"photo"`
	Bio        string    `json:"bio,omitempty"`
	DeckToken  DeckToken `json:"-"` // Token of the batch that issued the card, set client-side
	Position   int       `json:"-"` // Index of the card within its batch, set client-side
}

// Deck is the GET /me/deck response
type Deck struct {
	DeckToken DeckToken `json:"deckToken" validate:"required"`
	Cards     []Card    `json:"cards" validate:"dive"`
	TTLMs     int64     `json:"ttlMs,omitempty"`
}
