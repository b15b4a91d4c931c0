package services

import "errors"

var (
	// ErrInvalidDeckToken means the deck token is not one this server signed
	ErrInvalidDeckToken = errors.New("invalid deck token")
	// ErrDeckTokenExpired means the deck token outlived its TTL; the client must fetch a new deck
	ErrDeckTokenExpired = errors.New("deck token expired")
	// ErrForeignDeckToken means the deck token was issued to another user
	ErrForeignDeckToken = errors.New("deck token belongs to another user")
	// ErrUnknownCandidate means the card id is not part of the deck the token names
	ErrUnknownCandidate = errors.New("candidate not in deck")
	// ErrPlayerNotFound means no profile exists for the user id
	ErrPlayerNotFound = errors.New("player not found")
	// ErrConversationNotFound means no conversation exists for the id
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrNotParticipant means the user is not one of the conversation's two players
	ErrNotParticipant = errors.New("not a participant of this conversation")
	// ErrInvalidAccessToken means the bearer token is missing, malformed or expired
	ErrInvalidAccessToken = errors.New("invalid access token")
)
