package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tennismatch/logger"
	"tennismatch/models"
)

// DefaultDeckSize is the number of cards per issued deck
const DefaultDeckSize = 25

// DeckService issues decks of candidates the user has not decided on yet
type DeckService struct {
	store    Store
	sessions DeckSessionStore
	auth     *AuthService
	photos   PhotoResolver
	size     int
	log      *zap.Logger

	mu    sync.Mutex
	faker *gofakeit.Faker
}

// NewDeckService builds a DeckService. size <= 0 uses DefaultDeckSize.
func NewDeckService(store Store, sessions DeckSessionStore, auth *AuthService, photos PhotoResolver, size int, log *zap.Logger) *DeckService {
	if size <= 0 {
		size = DefaultDeckSize
	}
	return &DeckService{
		store:    store,
		sessions: sessions,
		auth:     auth,
		photos:   photos,
		size:     size,
		log:      logger.OrNop(log).Named("deck"),
		faker:    gofakeit.New(0),
	}
}

// Issue builds a new deck for userID. Cards get fresh ids per issuance; the
// deck token names the session that maps them back to candidates.
func (s *DeckService) Issue(ctx context.Context, userID int64) (models.Deck, error) {
	players, err := s.store.ListPlayers(ctx)
	if err != nil {
		return models.Deck{}, fmt.Errorf("failed to list players: %w", err)
	}
	decided, err := s.store.DecidedTargets(ctx, userID)
	if err != nil {
		return models.Deck{}, fmt.Errorf("failed to load decisions: %w", err)
	}
	me, err := s.store.GetPlayer(ctx, userID)
	hasMe := err == nil
	if err != nil && !errors.Is(err, ErrPlayerNotFound) {
		return models.Deck{}, fmt.Errorf("failed to load player: %w", err)
	}

	candidates := make([]models.PlayerProfile, 0, len(players))
	for _, p := range players {
		if p.UserID != userID && !decided[p.UserID] {
			candidates = append(candidates, p)
		}
	}
	s.mu.Lock()
	s.faker.ShuffleAnySlice(candidates)
	s.mu.Unlock()
	if len(candidates) > s.size {
		candidates = candidates[:s.size]
	}

	session := DeckSession{ID: uuid.NewString(), UserID: userID, Cards: make(map[string]int64, len(candidates))}
	cards := make([]models.Card, 0, len(candidates))
	for _, p := range candidates {
		card := models.Card{
			ID:         uuid.NewString(),
			TargetID:   p.UserID,
			Name:       p.Name,
			Age:        p.Age,
			SkillLevel: p.SkillLevel,
			Photo:      s.photos.PhotoURL(ctx, p.PhotoKey),
			Bio:        p.Bio,
		}
		if hasMe && located(me) && located(p) {
			d := math.Round(haversineKm(me.Latitude, me.Longitude, p.Latitude, p.Longitude)*10) / 10
			card.DistanceKm = &d
		}
		session.Cards[card.ID] = p.UserID
		cards = append(cards, card)
	}

	if err := s.sessions.Save(ctx, session, s.auth.DeckTTL()); err != nil {
		return models.Deck{}, fmt.Errorf("failed to store deck session: %w", err)
	}
	token, _, err := s.auth.IssueDeckToken(userID, session.ID)
	if err != nil {
		return models.Deck{}, fmt.Errorf("failed to sign deck token: %w", err)
	}

	s.log.Debug("deck issued", zap.Int64("user_id", userID), zap.Int("cards", len(cards)))
	return models.Deck{DeckToken: token, Cards: cards, TTLMs: s.auth.DeckTTL().Milliseconds()}, nil
}

func located(p models.PlayerProfile) bool {
	return p.Latitude != 0 || p.Longitude != 0
}

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
