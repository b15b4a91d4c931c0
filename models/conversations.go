package models

// ConversationStatus is the lifecycle state of a conversation
type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "ACTIVE"
	ConversationExpired  ConversationStatus = "EXPIRED"
	ConversationArchived ConversationStatus = "ARCHIVED"
	ConversationDeleted  ConversationStatus = "DELETED"
)

// Match is a mutual YES between two players
type Match struct {
	MatchID        int64   `dynamodbav:"matchId" json:"matchId"`               // Partition Key
	ConversationID int64   `dynamodbav:"conversationId" json:"conversationId"` // Conversation opened for the match
	Users          []int64 `dynamodbav:"users" json:"users"`                   // Both participants
	CreatedAt      string  `dynamodbav:"createdAt" json:"createdAt"`
}

// MatchesTable is the DynamoDB table name for matches
const MatchesTable = "Matches"

// Conversation is the persisted chat between two matched players
type Conversation struct {
	ConversationID int64              `dynamodbav:"conversationId" json:"conversationId"` // Partition Key
	MatchID        int64              `dynamodbav:"matchId" json:"matchId"`
	Participants   []int64            `dynamodbav:"participants" json:"participants"`
	Status         ConversationStatus `dynamodbav:"status" json:"status"`
	LastMessageAt  string             `dynamodbav:"lastMessageAt" json:"lastMessageAt"`
	LastReadID     map[string]int64   `dynamodbav:"lastReadId,omitempty" json:"lastReadId,omitempty"` // userId -> last seen message id
}

// ConversationsTable is the DynamoDB table name for conversations
const ConversationsTable = "Conversations"

// Partner is the other participant as shown in lists and headers
type Partner struct {
	UserID    int64  `json:"userId"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// ConversationSummary is one row of GET /me/conversations
type ConversationSummary struct {
	ID            int64              `json:"id"`
	Status        ConversationStatus `json:"status"`
	LastMessageAt string             `json:"lastMessageAt"`
	Partner       Partner            `json:"partner"`
	UnreadCount   int                `json:"unreadCount"`
}

// ConversationDetails is the GET /me/conversations/{id} response
type ConversationDetails struct {
	ID            int64              `json:"id"`
	Status        ConversationStatus `json:"status"`
	LastMessageAt string             `json:"lastMessageAt"`
	Partner       Partner            `json:"partner"`
}

// ConversationMeta is the header data the chat screen needs
type ConversationMeta struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}
