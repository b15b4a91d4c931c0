package client

import (
	"context"
	"errors"
	"net/http"

	"tennismatch/models"
)

// SubmitDecision posts a single swipe. The idempotency key is sent both as the
// Idempotency-Key header and inside the item so a replay is ignorable server-side.
func (c *Client) SubmitDecision(ctx context.Context, d models.Decision) (models.DecisionOutcome, error) {
	const op = "submit decision"
	if d.DeckToken == "" {
		return models.DecisionOutcome{}, errors.New("submit decision: deck token is required")
	}
	if !d.Decision.Valid() {
		return models.DecisionOutcome{}, errors.New("submit decision: invalid decision " + string(d.Decision))
	}

	item := models.DecisionItem{
		CandidateID:    d.CardID,
		Decision:       d.Decision,
		Position:       d.Position,
		IdempotencyKey: d.IdempotencyKey,
	}
	if !d.At.IsZero() {
		at := d.At.UTC()
		item.At = &at
	}
	req := models.PostDecisionRequest{DeckToken: d.DeckToken, Items: []models.DecisionItem{item}}
	if err := c.validate.Struct(req); err != nil {
		return models.DecisionOutcome{}, &MalformedError{Op: op, Reason: err.Error()}
	}

	header := http.Header{}
	if d.IdempotencyKey != "" {
		header.Set("Idempotency-Key", d.IdempotencyKey)
	}
	data, err := c.do(ctx, op, http.MethodPost, "/me/decision", req, header)
	if err != nil {
		return models.DecisionOutcome{}, err
	}
	res := ParseDecisionResponse(data)
	out, ok := res.Get()
	if !ok {
		return models.DecisionOutcome{}, res.Err(op)
	}
	return out, nil
}
