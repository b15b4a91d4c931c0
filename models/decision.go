package models

import "time"

// DecisionValue is the verdict of a single swipe
type DecisionValue string

const (
	DecisionYes  DecisionValue = "YES"
	DecisionNope DecisionValue = "NOPE"
)

// Valid reports whether d is one of the known verdicts
func (d DecisionValue) Valid() bool {
	return d == DecisionYes || d == DecisionNope
}

// Decision is what the client records for one swipe
type Decision struct {
	DeckToken      DeckToken
	CardID         string
	Decision       DecisionValue
	IdempotencyKey string
	Position       int
	At             time.Time
}

// DecisionItem is one entry of the POST /me/decision batch
type DecisionItem struct {
	CandidateID    string        `json:"candidate_id" validate:"required"`
	Decision       DecisionValue `json:"decision" validate:"required,oneof=YES NOPE"`
	At             *time.Time    `json:"at,omitempty"`
	Position       int           `json:"position"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
}

// PostDecisionRequest is the POST /me/decision body
type PostDecisionRequest struct {
	DeckToken DeckToken      `json:"deck_token" validate:"required"`
	Items     []DecisionItem `json:"items" validate:"required,min=1,dive"`
}

// MatchSummary describes a mutual match produced by a decision
type MatchSummary struct {
	MatchID        int64   `json:"matchId"`
	ConversationID int64   `json:"conversationId"`
	Name           *string `json:"name,omitempty"`
	Age            *int    `json:"age,omitempty"`
	PhotoURL       *string `json:"photoUrl,omitempty"`
}

// DecisionResult is the server verdict for one DecisionItem
type DecisionResult struct {
	CandidateID  string        `json:"candidateId"`
	TargetUserID int64         `json:"targetUserId"`
	Matched      bool          `json:"matched"`
	Match        *MatchSummary `json:"match,omitempty"`
}

// PostDecisionResponse is the POST /me/decision response
type PostDecisionResponse struct {
	Results []DecisionResult `json:"results"`
}

// DecisionOutcome is what the submitter reports back for a single decision
type DecisionOutcome struct {
	Matched bool
	Match   *MatchSummary
}

// DecisionRecord is the persisted form of a decision
type DecisionRecord struct {
	ActorID        int64  `dynamodbav:"actorId" json:"actorId"`   // Partition Key
	TargetID       int64  `dynamodbav:"targetId" json:"targetId"` // Sort Key
	Decision       string `dynamodbav:"decision" json:"decision"`
	IdempotencyKey string `dynamodbav:"idempotencyKey,omitempty" json:"idempotencyKey,omitempty"`
	Position       int    `dynamodbav:"position" json:"position"`
	At             string `dynamodbav:"at" json:"at"`
}

// DecisionsTable is the DynamoDB table name for swipe decisions
const DecisionsTable = "Decisions"
