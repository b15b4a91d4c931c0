package models

import (
	"strconv"
	"strings"
	"time"
)

// MessageStatus is the server-side delivery state of a message
type MessageStatus string

const (
	MessageSent MessageStatus = "SENT"
	MessageRead MessageStatus = "READ"
)

// Message is the persisted chat message
type Message struct {
	ConversationID int64  `dynamodbav:"conversationId" json:"conversationId"` // Partition Key
	MessageID      int64  `dynamodbav:"messageId" json:"messageId"`           // Sort Key, increasing per conversation
	SenderID       int64  `dynamodbav:"senderId" json:"senderId"`
	Body           string `dynamodbav:"body" json:"body"`
	ClientID       string `dynamodbav:"clientId,omitempty" json:"clientId,omitempty"`
	Status         string `dynamodbav:"status" json:"status"`
	CreatedAt      string `dynamodbav:"createdAt" json:"createdAt"`
}

// MessagesTable is the DynamoDB table name for chat messages
const MessagesTable = "Messages"

// MessageDTO is the wire form of a message, both over REST and inside realtime events
type MessageDTO struct {
	ID        int64         `json:"id"`
	SenderID  int64         `json:"senderId"`
	Body      string        `json:"body"`
	CreatedAt time.Time     `json:"createdAt"`
	Status    MessageStatus `json:"status,omitempty"`
	ClientID  *string       `json:"clientId,omitempty"`
}

// SendMessageRequest is the body of POST /api/conversations/{id}/messages
// and of the realtime send destination
type SendMessageRequest struct {
	Body     string  `json:"body" validate:"required,max=4000"`
	ClientID *string `json:"clientId,omitempty"`
}

// HistoryResponse is one page of GET /api/conversations/{id}/messages
type HistoryResponse struct {
	ConversationID int64        `json:"conversationId"`
	HasMore        bool         `json:"hasMore"`
	Items          []MessageDTO `json:"items"`
	NextBeforeID   *int64       `json:"nextBeforeId,omitempty"`
}

// Sender says who authored a ChatMessage from the local user's point of view
type Sender string

const (
	FromMe   Sender = "me"
	FromThem Sender = "them"
)

// PendingIDPrefix marks the synthetic id of an optimistic, unconfirmed message
const PendingIDPrefix = "pending-"

// PendingID returns the synthetic id used for an optimistic echo
func PendingID(correlationID string) string {
	return PendingIDPrefix + correlationID
}

// ChatMessage is a message as the client renders it
type ChatMessage struct {
	ID            string
	From          Sender
	Text          string
	SentAt        time.Time
	CorrelationID string
}

// Pending reports whether the message is a local echo with no server id yet
func (m ChatMessage) Pending() bool {
	return strings.HasPrefix(m.ID, PendingIDPrefix)
}

// InboundMessage is a server message after parsing, before it is attributed
// to the local user or the partner
type InboundMessage struct {
	ID         int64
	SenderID   int64
	SenderIsMe bool // Sender was given as the literal "me"
	Body       string
	CreatedAt  time.Time
	ClientID   string
}

// Mine reports whether the local user authored the message
func (m InboundMessage) Mine(meID int64) bool {
	return m.SenderIsMe || (meID != 0 && m.SenderID == meID)
}

// ToChat converts the message into its rendered form
func (m InboundMessage) ToChat(meID int64) ChatMessage {
	from := FromThem
	if m.Mine(meID) {
		from = FromMe
	}
	return ChatMessage{
		ID:            strconv.FormatInt(m.ID, 10),
		From:          from,
		Text:          m.Body,
		SentAt:        m.CreatedAt,
		CorrelationID: m.ClientID,
	}
}
