package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tennismatch/logger"
	"tennismatch/models"
)

const (
	// DefaultHistoryLimit is the page size when the request names none
	DefaultHistoryLimit = 50
	// MaxHistoryLimit caps one history page
	MaxHistoryLimit = 100
)

// ErrEmptyMessage is returned for a message whose body is blank
var ErrEmptyMessage = errors.New("message body is empty")

// Broadcaster delivers an event to everyone subscribed to a conversation
type Broadcaster interface {
	Broadcast(conversationID int64, evt models.ChatEvent)
}

// ChatService stores messages, read markers and typing notices and pushes
// them to subscribers
type ChatService struct {
	store  Store
	photos PhotoResolver
	log    *zap.Logger
	now    func() time.Time

	mu          sync.RWMutex
	broadcaster Broadcaster
}

// NewChatService builds a ChatService. Events are dropped until SetBroadcaster.
func NewChatService(store Store, photos PhotoResolver, log *zap.Logger) *ChatService {
	return &ChatService{
		store:  store,
		photos: photos,
		log:    logger.OrNop(log).Named("chat"),
		now:    time.Now,
	}
}

// SetBroadcaster wires the realtime hub
func (s *ChatService) SetBroadcaster(b Broadcaster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcaster = b
}

// Authorize returns the conversation if userID takes part in it
func (s *ChatService) Authorize(ctx context.Context, userID, conversationID int64) (models.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, err
	}
	if !isParticipant(conv, userID) {
		return models.Conversation{}, ErrNotParticipant
	}
	return conv, nil
}

// History returns one page of messages, oldest first, strictly older than beforeID
func (s *ChatService) History(ctx context.Context, userID, conversationID int64, beforeID *int64, limit int) (models.HistoryResponse, error) {
	if _, err := s.Authorize(ctx, userID, conversationID); err != nil {
		return models.HistoryResponse{}, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	limit = min(limit, MaxHistoryLimit)

	msgs, hasMore, err := s.store.ListMessages(ctx, conversationID, beforeID, limit)
	if err != nil {
		return models.HistoryResponse{}, fmt.Errorf("failed to fetch messages: %w", err)
	}
	resp := models.HistoryResponse{
		ConversationID: conversationID,
		HasMore:        hasMore,
		Items:          make([]models.MessageDTO, 0, len(msgs)),
	}
	for _, m := range msgs {
		resp.Items = append(resp.Items, toDTO(m))
	}
	if hasMore && len(msgs) > 0 {
		next := msgs[0].MessageID
		resp.NextBeforeID = &next
	}
	return resp, nil
}

// Send stores a message from userID and pushes it to the conversation. A
// repeated client id returns the message already stored for it.
func (s *ChatService) Send(ctx context.Context, userID, conversationID int64, req models.SendMessageRequest) (models.MessageDTO, error) {
	if _, err := s.Authorize(ctx, userID, conversationID); err != nil {
		return models.MessageDTO{}, err
	}
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return models.MessageDTO{}, ErrEmptyMessage
	}

	clientID := ""
	if req.ClientID != nil {
		clientID = *req.ClientID
	}
	if clientID != "" {
		if dup, ok, err := s.findByClientID(ctx, userID, conversationID, clientID); err == nil && ok {
			return toDTO(dup), nil
		}
	}

	stored, err := s.store.AppendMessage(ctx, models.Message{
		ConversationID: conversationID,
		SenderID:       userID,
		Body:           body,
		ClientID:       clientID,
		Status:         string(models.MessageSent),
		CreatedAt:      s.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return models.MessageDTO{}, fmt.Errorf("failed to store message: %w", err)
	}

	dto := toDTO(stored)
	s.publish(conversationID, models.EventMessage, dto)
	s.log.Debug("message stored", zap.Int64("conversation_id", conversationID), zap.Int64("message_id", stored.MessageID))
	return dto, nil
}

func (s *ChatService) findByClientID(ctx context.Context, userID, conversationID int64, clientID string) (models.Message, bool, error) {
	recent, _, err := s.store.ListMessages(ctx, conversationID, nil, DefaultHistoryLimit)
	if err != nil {
		return models.Message{}, false, err
	}
	for _, m := range slices.Backward(recent) {
		if m.SenderID == userID && m.ClientID == clientID {
			return m, true, nil
		}
	}
	return models.Message{}, false, nil
}

// MarkRead records that userID has seen everything up to lastSeenID and tells
// the partner. A nil lastSeenID marks the whole conversation.
func (s *ChatService) MarkRead(ctx context.Context, userID, conversationID int64, lastSeenID *int64) error {
	if _, err := s.Authorize(ctx, userID, conversationID); err != nil {
		return err
	}
	seen := lastSeenID
	if seen == nil {
		latest, _, err := s.store.ListMessages(ctx, conversationID, nil, 1)
		if err != nil {
			return fmt.Errorf("failed to find latest message: %w", err)
		}
		if len(latest) == 0 {
			return nil
		}
		id := latest[0].MessageID
		seen = &id
	}
	if err := s.store.SetLastRead(ctx, conversationID, userID, *seen); err != nil {
		return fmt.Errorf("failed to mark read: %w", err)
	}
	s.publish(conversationID, models.EventRead, models.ReadData{UserID: userID, LastSeenID: seen})
	return nil
}

// Typing relays a typing notice; nothing is stored
func (s *ChatService) Typing(ctx context.Context, userID, conversationID int64, typing bool) error {
	if _, err := s.Authorize(ctx, userID, conversationID); err != nil {
		return err
	}
	s.publish(conversationID, models.EventTyping, models.TypingData{UserID: userID, IsTyping: typing, TS: s.now().UnixMilli()})
	return nil
}

// ListForUser summarizes every conversation of userID, newest activity first
func (s *ChatService) ListForUser(ctx context.Context, userID int64) ([]models.ConversationSummary, error) {
	convs, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	out := make([]models.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		unread, err := s.store.CountUnread(ctx, c.ConversationID, userID)
		if err != nil {
			s.log.Warn("unread count failed", zap.Int64("conversation_id", c.ConversationID), zap.Error(err))
		}
		out = append(out, models.ConversationSummary{
			ID:            c.ConversationID,
			Status:        c.Status,
			LastMessageAt: c.LastMessageAt,
			Partner:       s.partner(ctx, c, userID),
			UnreadCount:   unread,
		})
	}
	return out, nil
}

// Details describes one conversation of userID
func (s *ChatService) Details(ctx context.Context, userID, conversationID int64) (models.ConversationDetails, error) {
	conv, err := s.Authorize(ctx, userID, conversationID)
	if err != nil {
		return models.ConversationDetails{}, err
	}
	return models.ConversationDetails{
		ID:            conv.ConversationID,
		Status:        conv.Status,
		LastMessageAt: conv.LastMessageAt,
		Partner:       s.partner(ctx, conv, userID),
	}, nil
}

func (s *ChatService) partner(ctx context.Context, c models.Conversation, userID int64) models.Partner {
	var other int64
	for _, p := range c.Participants {
		if p != userID {
			other = p
		}
	}
	partner := models.Partner{UserID: other}
	if p, err := s.store.GetPlayer(ctx, other); err == nil {
		partner.Name = p.Name
		partner.AvatarURL = s.photos.PhotoURL(ctx, p.PhotoKey)
	}
	return partner
}

func (s *ChatService) publish(conversationID int64, kind models.EventKind, payload any) {
	s.mu.RLock()
	b := s.broadcaster
	s.mu.RUnlock()
	if b == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("failed to encode event", zap.String("kind", string(kind)), zap.Error(err))
		return
	}
	b.Broadcast(conversationID, models.ChatEvent{Kind: kind, Data: data})
}

func toDTO(m models.Message) models.MessageDTO {
	created, _ := time.Parse(time.RFC3339Nano, m.CreatedAt)
	dto := models.MessageDTO{
		ID:        m.MessageID,
		SenderID:  m.SenderID,
		Body:      m.Body,
		CreatedAt: created,
		Status:    models.MessageStatus(m.Status),
	}
	if m.ClientID != "" {
		cid := m.ClientID
		dto.ClientID = &cid
	}
	return dto
}
