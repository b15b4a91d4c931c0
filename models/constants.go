package models

import (
	"encoding/json"
	"fmt"
)

// EventKind tags the payload of a ChatEvent
type EventKind string

const (
	EventMessage EventKind = "MESSAGE"
	EventTyping  EventKind = "TYPING"
	EventRead    EventKind = "READ"
)

// ChatEvent is the envelope pushed on a conversation topic
type ChatEvent struct {
	Kind EventKind       `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// TypingData is the payload of a TYPING event
type TypingData struct {
	UserID   int64 `json:"userId"`
	IsTyping bool  `json:"isTyping"`
	TS       int64 `json:"ts"`
}

// ReadData is the payload of a READ event
type ReadData struct {
	UserID     int64  `json:"userId"`
	LastSeenID *int64 `json:"lastSeenId"`
}

// ReadPayload is published to the read destination
type ReadPayload struct {
	LastSeenID *int64 `json:"lastSeenId"`
}

// TypingPayload is published to the typing destination
type TypingPayload struct {
	Typing bool `json:"typing"`
}

// FrameCommand is the verb of a realtime frame
type FrameCommand string

const (
	CmdSubscribe   FrameCommand = "SUBSCRIBE"
	CmdUnsubscribe FrameCommand = "UNSUBSCRIBE"
	CmdSend        FrameCommand = "SEND"
	CmdMessage     FrameCommand = "MESSAGE"
	CmdError       FrameCommand = "ERROR"
)

// Frame is the unit exchanged on the realtime websocket
type Frame struct {
	Command     FrameCommand    `json:"command"`
	ID          string          `json:"id,omitempty"`          // Subscription id
	Destination string          `json:"destination,omitempty"` // Topic or app destination
	Body        json.RawMessage `json:"body,omitempty"`
}

// ConversationTopic is the subscription destination for one conversation
func ConversationTopic(conversationID int64) string {
	return fmt.Sprintf("/topic/conversations.%d", conversationID)
}

// SendDestination is where clients publish new messages
func SendDestination(conversationID int64) string {
	return fmt.Sprintf("/app/chat.%d.send", conversationID)
}

// ReadDestination is where clients publish read receipts
func ReadDestination(conversationID int64) string {
	return fmt.Sprintf("/app/chat.%d.read", conversationID)
}

// TypingDestination is where clients publish typing notices
func TypingDestination(conversationID int64) string {
	return fmt.Sprintf("/app/chat.%d.typing", conversationID)
}
