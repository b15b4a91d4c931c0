package services

import (
	"context"
	"fmt"

	"github.com/brianvoe/gofakeit/v7"

	"tennismatch/models"
)

var skillLevels = []string{"2.5", "3.0", "3.5", "4.0", "4.5", "5.0"}

type playerBatchWriter interface {
	PutPlayers(ctx context.Context, players []models.PlayerProfile) error
}

// FakePlayers generates n players with ids 1..n. A zero seed is random.
// Locations are spread around one city so distances stay meaningful.
func FakePlayers(n int, seed uint64) []models.PlayerProfile {
	f := gofakeit.New(seed)
	players := make([]models.PlayerProfile, 0, n)
	for i := 1; i <= n; i++ {
		players = append(players, models.PlayerProfile{
			UserID:     int64(i),
			Name:       f.FirstName(),
			Age:        f.Number(18, 65),
			SkillLevel: f.RandomString(skillLevels),
			Bio:        f.Sentence(8),
			PhotoKey:   fmt.Sprintf("players/%d.jpg", i),
			Latitude:   f.Float64Range(37.70, 37.81),
			Longitude:  f.Float64Range(-122.51, -122.36),
		})
	}
	return players
}

// Seed stores n fake players unless the store already has some
func Seed(ctx context.Context, store Store, n int, seed uint64) (int, error) {
	existing, err := store.ListPlayers(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list players: %w", err)
	}
	if len(existing) > 0 || n <= 0 {
		return 0, nil
	}

	players := FakePlayers(n, seed)
	if bw, ok := store.(playerBatchWriter); ok {
		if err := bw.PutPlayers(ctx, players); err != nil {
			return 0, err
		}
		return len(players), nil
	}
	for _, p := range players {
		if err := store.PutPlayer(ctx, p); err != nil {
			return 0, fmt.Errorf("failed to store player %d: %w", p.UserID, err)
		}
	}
	return len(players), nil
}
