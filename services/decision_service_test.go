package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tennismatch/models"
)

type swipeFixture struct {
	store     *MemoryStore
	auth      *AuthService
	deck      *DeckService
	decisions *DecisionService
}

func newSwipeFixture(t *testing.T, players ...models.PlayerProfile) *swipeFixture {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore()
	for _, p := range players {
		require.NoError(t, store.PutPlayer(ctx, p))
	}
	sessions := NewMemoryDeckSessionStore()
	auth := newTestAuth()
	photos := StaticPhotoResolver{BaseURL: "https://cdn.test", Placeholder: "/placeholder.png"}
	return &swipeFixture{
		store:     store,
		auth:      auth,
		deck:      NewDeckService(store, sessions, auth, photos, 0, nil),
		decisions: NewDecisionService(store, sessions, NewMemoryIdempotencyStore(), auth, photos, nil),
	}
}

func cardFor(t *testing.T, deck models.Deck, target int64) models.Card {
	t.Helper()
	for _, c := range deck.Cards {
		if c.TargetID == target {
			return c
		}
	}
	require.FailNowf(t, "card missing", "no card for target %d", target)
	return models.Card{}
}

func decide(f *swipeFixture, userID int64, deck models.Deck, card models.Card, v models.DecisionValue, key string) (models.PostDecisionResponse, error) {
	return f.decisions.Decide(context.Background(), userID, models.PostDecisionRequest{
		DeckToken: deck.DeckToken,
		Items:     []models.DecisionItem{{CandidateID: card.ID, Decision: v, IdempotencyKey: key}},
	}, "")
}

var (
	ana = models.PlayerProfile{UserID: 1, Name: "Ana", Age: 30, SkillLevel: "3.5", PhotoKey: "ana.jpg", Latitude: 37.77, Longitude: -122.42}
	bo  = models.PlayerProfile{UserID: 2, Name: "Bo", Age: 28, SkillLevel: "4.0", PhotoKey: "bo.jpg", Latitude: 37.80, Longitude: -122.41}
	cy  = models.PlayerProfile{UserID: 3, Name: "Cy", Age: 41, SkillLevel: "3.0"}
)

func TestDeckExcludesSelfAndDecided(t *testing.T) {
	ctx := context.Background()
	f := newSwipeFixture(t, ana, bo, cy)

	deck, err := f.deck.Issue(ctx, 1)
	require.NoError(t, err)
	require.NotEmpty(t, deck.DeckToken)
	assert.Equal(t, (15 * time.Minute).Milliseconds(), deck.TTLMs)
	require.Len(t, deck.Cards, 2)

	boCard := cardFor(t, deck, 2)
	assert.Equal(t, "Bo", boCard.Name)
	assert.Equal(t, "https://cdn.test/bo.jpg", boCard.Photo)
	require.NotNil(t, boCard.DistanceKm)
	assert.InDelta(t, 3.4, *boCard.DistanceKm, 0.3)

	cyCard := cardFor(t, deck, 3)
	assert.Nil(t, cyCard.DistanceKm, "no distance without a location")
	assert.Equal(t, "/placeholder.png", cyCard.Photo)

	_, err = decide(f, 1, deck, boCard, models.DecisionNope, "")
	require.NoError(t, err)

	next, err := f.deck.Issue(ctx, 1)
	require.NoError(t, err)
	require.Len(t, next.Cards, 1)
	assert.Equal(t, int64(3), next.Cards[0].TargetID)
	assert.NotEqual(t, cyCard.ID, next.Cards[0].ID, "card ids are fresh per issuance")
}

func TestDeckIsCapped(t *testing.T) {
	players := FakePlayers(40, 1)
	f := newSwipeFixture(t, players...)
	f.deck.size = 10

	deck, err := f.deck.Issue(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, deck.Cards, 10)
}

func TestMutualYesCreatesOneMatch(t *testing.T) {
	ctx := context.Background()
	f := newSwipeFixture(t, ana, bo)

	anaDeck, err := f.deck.Issue(ctx, 1)
	require.NoError(t, err)
	boDeck, err := f.deck.Issue(ctx, 2)
	require.NoError(t, err)

	resp, err := decide(f, 1, anaDeck, cardFor(t, anaDeck, 2), models.DecisionYes, "k1")
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.False(t, resp.Results[0].Matched)

	resp, err = decide(f, 2, boDeck, cardFor(t, boDeck, 1), models.DecisionYes, "k1")
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	res := resp.Results[0]
	require.True(t, res.Matched)
	require.NotNil(t, res.Match)
	assert.NotZero(t, res.Match.ConversationID)
	require.NotNil(t, res.Match.Name)
	assert.Equal(t, "Ana", *res.Match.Name)
	assert.Equal(t, 30, *res.Match.Age)

	convs, err := f.store.ListConversations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, res.Match.ConversationID, convs[0].ConversationID)
	assert.ElementsMatch(t, []int64{1, 2}, convs[0].Participants)
}

func TestMatchReusesConversation(t *testing.T) {
	ctx := context.Background()
	f := newSwipeFixture(t, ana, bo)
	_, existing, err := f.store.CreateMatch(ctx, 1, 2, "2026-01-01T00:00:00Z")
	require.NoError(t, err)
	require.NoError(t, f.store.PutDecision(ctx, models.DecisionRecord{ActorID: 2, TargetID: 1, Decision: "YES"}))

	deck, err := f.deck.Issue(ctx, 1)
	require.NoError(t, err)
	resp, err := decide(f, 1, deck, cardFor(t, deck, 2), models.DecisionYes, "")
	require.NoError(t, err)
	require.True(t, resp.Results[0].Matched)
	assert.Equal(t, existing.ConversationID, resp.Results[0].Match.ConversationID)

	convs, err := f.store.ListConversations(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestDecisionReplayReturnsFirstResult(t *testing.T) {
	ctx := context.Background()
	f := newSwipeFixture(t, ana, bo)
	require.NoError(t, f.store.PutDecision(ctx, models.DecisionRecord{ActorID: 2, TargetID: 1, Decision: "YES"}))

	deck, err := f.deck.Issue(ctx, 1)
	require.NoError(t, err)
	card := cardFor(t, deck, 2)

	first, err := decide(f, 1, deck, card, models.DecisionYes, "same-key")
	require.NoError(t, err)
	replay, err := decide(f, 1, deck, card, models.DecisionYes, "same-key")
	require.NoError(t, err)
	assert.Equal(t, first, replay)

	convs, err := f.store.ListConversations(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestDecisionHeaderKeyForSingleItem(t *testing.T) {
	ctx := context.Background()
	f := newSwipeFixture(t, ana, bo)
	deck, err := f.deck.Issue(ctx, 1)
	require.NoError(t, err)
	card := cardFor(t, deck, 2)

	req := models.PostDecisionRequest{
		DeckToken: deck.DeckToken,
		Items:     []models.DecisionItem{{CandidateID: card.ID, Decision: models.DecisionNope}},
	}
	_, err = f.decisions.Decide(ctx, 1, req, "header-key")
	require.NoError(t, err)

	prev, ok, err := f.decisions.idem.Get(ctx, "1:header-key")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), prev.TargetUserID)

	rec, ok, err := f.store.GetDecision(ctx, 1, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "header-key", rec.IdempotencyKey)
}

func TestDecisionRejections(t *testing.T) {
	ctx := context.Background()
	f := newSwipeFixture(t, ana, bo)
	deck, err := f.deck.Issue(ctx, 1)
	require.NoError(t, err)
	card := cardFor(t, deck, 2)

	t.Run("foreign token", func(t *testing.T) {
		_, err := decide(f, 2, deck, card, models.DecisionYes, "")
		assert.ErrorIs(t, err, ErrForeignDeckToken)
	})

	t.Run("unknown card", func(t *testing.T) {
		_, err := decide(f, 1, deck, models.Card{ID: "not-issued"}, models.DecisionYes, "")
		assert.ErrorIs(t, err, ErrUnknownCandidate)
	})

	t.Run("invalid token", func(t *testing.T) {
		_, err := decide(f, 1, models.Deck{DeckToken: "bad"}, card, models.DecisionYes, "")
		assert.ErrorIs(t, err, ErrInvalidDeckToken)
	})

	t.Run("expired token", func(t *testing.T) {
		f.auth.now = func() time.Time { return time.Now().Add(time.Hour) }
		defer func() { f.auth.now = time.Now }()
		_, err := decide(f, 1, deck, card, models.DecisionYes, "")
		assert.ErrorIs(t, err, ErrDeckTokenExpired)
	})

	t.Run("session gone", func(t *testing.T) {
		token, _, err := f.auth.IssueDeckToken(1, "never-saved")
		require.NoError(t, err)
		_, err = decide(f, 1, models.Deck{DeckToken: token}, card, models.DecisionYes, "")
		assert.ErrorIs(t, err, ErrDeckTokenExpired)
	})
}
