package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"tennismatch/models"
)

// Result is the outcome of parsing a server payload: either a value or the
// reason the payload was rejected.
type Result[T any] struct {
	value  T
	reason string
	ok     bool
}

// Ok wraps a successfully parsed value
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v, ok: true}
}

// Malformed records why a payload could not be parsed
func Malformed[T any](format string, args ...any) Result[T] {
	return Result[T]{reason: fmt.Sprintf(format, args...)}
}

// Get returns the value and whether parsing succeeded
func (r Result[T]) Get() (T, bool) {
	return r.value, r.ok
}

// IsOk reports whether parsing succeeded
func (r Result[T]) IsOk() bool { return r.ok }

// Reason explains a Malformed result; empty for Ok
func (r Result[T]) Reason() string { return r.reason }

// Err turns a Malformed result into a *MalformedError
func (r Result[T]) Err(op string) error {
	if r.ok {
		return nil
	}
	return &MalformedError{Op: op, Reason: r.reason}
}

// MalformedError is returned by Client methods when the server sent a payload
// that does not match the expected contract
type MalformedError struct {
	Op     string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s: malformed payload: %s", e.Op, e.Reason)
}

// ParseDeck parses a GET /me/deck body and stamps every card with the batch token
func ParseDeck(v *validator.Validate, data []byte) Result[models.Deck] {
	var deck models.Deck
	if err := json.Unmarshal(data, &deck); err != nil {
		return Malformed[models.Deck]("deck: %v", err)
	}
	if deck.Cards == nil {
		return Malformed[models.Deck]("deck: cards missing")
	}
	if err := v.Struct(deck); err != nil {
		return Malformed[models.Deck]("deck: %v", err)
	}
	for i := range deck.Cards {
		deck.Cards[i].DeckToken = deck.DeckToken
		deck.Cards[i].Position = i
	}
	return Ok(deck)
}

// ParseDecisionResponse parses a POST /me/decision body. An empty body means
// the server accepted the decision without reporting a result.
func ParseDecisionResponse(data []byte) Result[models.DecisionOutcome] {
	if len(bytes.TrimSpace(data)) == 0 {
		return Ok(models.DecisionOutcome{})
	}
	var resp models.PostDecisionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return Malformed[models.DecisionOutcome]("decision: %v", err)
	}
	if len(resp.Results) == 0 {
		return Ok(models.DecisionOutcome{})
	}
	first := resp.Results[0]
	if first.Matched && first.Match == nil {
		return Malformed[models.DecisionOutcome]("decision: matched without match summary")
	}
	return Ok(models.DecisionOutcome{Matched: first.Matched, Match: first.Match})
}

type rawMessage struct {
	ID        json.RawMessage `json:"id"`
	SenderID  json.RawMessage `json:"senderId"`
	Body      *string         `json:"body"`
	CreatedAt *time.Time      `json:"createdAt"`
	ClientID  *string         `json:"clientId"`
}

// ParseMessage parses one message object as sent by REST and realtime events.
// The id may be a number or a numeric string; the sender may be a number or "me".
func ParseMessage(data []byte) Result[models.InboundMessage] {
	var raw rawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Malformed[models.InboundMessage]("message: %v", err)
	}

	id, ok := parseID(raw.ID)
	if !ok {
		return Malformed[models.InboundMessage]("message: id %s is not numeric", string(raw.ID))
	}
	if raw.Body == nil {
		return Malformed[models.InboundMessage]("message %d: body missing", id)
	}
	if raw.CreatedAt == nil {
		return Malformed[models.InboundMessage]("message %d: createdAt missing", id)
	}

	msg := models.InboundMessage{
		ID:        id,
		Body:      *raw.Body,
		CreatedAt: *raw.CreatedAt,
	}
	if raw.ClientID != nil {
		msg.ClientID = *raw.ClientID
	}

	var me string
	if err := json.Unmarshal(raw.SenderID, &me); err == nil {
		if me != "me" {
			return Malformed[models.InboundMessage]("message %d: sender %q", id, me)
		}
		msg.SenderIsMe = true
		return Ok(msg)
	}
	sender, ok := parseID(raw.SenderID)
	if !ok {
		return Malformed[models.InboundMessage]("message %d: senderId %s", id, string(raw.SenderID))
	}
	msg.SenderID = sender
	return Ok(msg)
}

// History is a parsed page of messages, oldest first
type History struct {
	Items   []models.InboundMessage
	HasMore bool
}

// ParseHistory parses GET /api/conversations/{id}/messages. A single malformed
// item rejects the whole page.
func ParseHistory(data []byte) Result[History] {
	var raw struct {
		Items   []json.RawMessage `json:"items"`
		HasMore bool              `json:"hasMore"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Malformed[History]("history: %v", err)
	}
	page := History{Items: make([]models.InboundMessage, 0, len(raw.Items)), HasMore: raw.HasMore}
	for i, item := range raw.Items {
		res := ParseMessage(item)
		msg, ok := res.Get()
		if !ok {
			return Malformed[History]("history: item %d: %s", i, res.Reason())
		}
		page.Items = append(page.Items, msg)
	}
	return Ok(page)
}

// ParseEvent parses a realtime event envelope
func ParseEvent(data []byte) Result[models.ChatEvent] {
	var evt models.ChatEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return Malformed[models.ChatEvent]("event: %v", err)
	}
	switch evt.Kind {
	case models.EventMessage, models.EventTyping, models.EventRead:
		return Ok(evt)
	case "":
		return Malformed[models.ChatEvent]("event: kind missing")
	default:
		return Malformed[models.ChatEvent]("event: unknown kind %q", evt.Kind)
	}
}

func parseID(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
