package client

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"tennismatch/models"
)

// FetchDeck fetches one batch of candidate cards. Every returned card carries
// the token of this batch.
func (c *Client) FetchDeck(ctx context.Context) (models.Deck, error) {
	const op = "fetch deck"
	data, err := c.do(ctx, op, http.MethodGet, "/me/deck", nil, nil)
	if err != nil {
		return models.Deck{}, err
	}
	res := ParseDeck(c.validate, data)
	deck, ok := res.Get()
	if !ok {
		return models.Deck{}, res.Err(op)
	}
	c.log.Debug("deck fetched", zap.Int("cards", len(deck.Cards)), zap.Int64("ttl_ms", deck.TTLMs))
	return deck, nil
}
