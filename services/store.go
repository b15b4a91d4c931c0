package services

import (
	"context"

	"tennismatch/models"
)

// Store persists players, swipe decisions, matches, conversations and messages.
// MemoryStore and DynamoStore implement it.
type Store interface {
	PutPlayer(ctx context.Context, p models.PlayerProfile) error
	GetPlayer(ctx context.Context, userID int64) (models.PlayerProfile, error)
	ListPlayers(ctx context.Context) ([]models.PlayerProfile, error)

	// PutDecision records the latest verdict of actor on target
	PutDecision(ctx context.Context, d models.DecisionRecord) error
	GetDecision(ctx context.Context, actorID, targetID int64) (models.DecisionRecord, bool, error)
	// DecidedTargets returns every target the actor already swiped on
	DecidedTargets(ctx context.Context, actorID int64) (map[int64]bool, error)

	// CreateMatch records a match between a and b and opens its conversation
	CreateMatch(ctx context.Context, a, b int64, at string) (models.Match, models.Conversation, error)
	GetConversation(ctx context.Context, conversationID int64) (models.Conversation, error)
	ListConversations(ctx context.Context, userID int64) ([]models.Conversation, error)

	// AppendMessage assigns the next message id of the conversation and stores it
	AppendMessage(ctx context.Context, m models.Message) (models.Message, error)
	// ListMessages returns up to limit messages older than beforeID (all when nil),
	// oldest first, and whether older ones remain
	ListMessages(ctx context.Context, conversationID int64, beforeID *int64, limit int) ([]models.Message, bool, error)
	// CountUnread counts messages after the reader's last seen id not sent by the reader
	CountUnread(ctx context.Context, conversationID, readerID int64) (int, error)
	SetLastRead(ctx context.Context, conversationID, userID, lastSeenID int64) error
}
