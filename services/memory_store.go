package services

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strconv"
	"sync"

	"tennismatch/models"
)

type decisionKey struct {
	actor, target int64
}

// MemoryStore keeps everything in process memory. It backs the dev backend
// when no DynamoDB is configured and the service tests.
type MemoryStore struct {
	mu            sync.RWMutex
	players       map[int64]models.PlayerProfile
	decisions     map[decisionKey]models.DecisionRecord
	matches       map[int64]models.Match
	conversations map[int64]models.Conversation
	messages      map[int64][]models.Message
	nextMatch     int64
	nextConv      int64
}

// NewMemoryStore returns an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		players:       make(map[int64]models.PlayerProfile),
		decisions:     make(map[decisionKey]models.DecisionRecord),
		matches:       make(map[int64]models.Match),
		conversations: make(map[int64]models.Conversation),
		messages:      make(map[int64][]models.Message),
	}
}

func (s *MemoryStore) PutPlayer(_ context.Context, p models.PlayerProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.players[p.UserID] = p
	return nil
}

func (s *MemoryStore) GetPlayer(_ context.Context, userID int64) (models.PlayerProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[userID]
	if !ok {
		return models.PlayerProfile{}, ErrPlayerNotFound
	}
	return p, nil
}

func (s *MemoryStore) ListPlayers(_ context.Context) ([]models.PlayerProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PlayerProfile, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *MemoryStore) PutDecision(_ context.Context, d models.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions[decisionKey{d.ActorID, d.TargetID}] = d
	return nil
}

func (s *MemoryStore) GetDecision(_ context.Context, actorID, targetID int64) (models.DecisionRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decisions[decisionKey{actorID, targetID}]
	return d, ok, nil
}

func (s *MemoryStore) DecidedTargets(_ context.Context, actorID int64) (map[int64]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]bool)
	for k := range s.decisions {
		if k.actor == actorID {
			out[k.target] = true
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateMatch(_ context.Context, a, b int64, at string) (models.Match, models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMatch++
	s.nextConv++
	match := models.Match{
		MatchID:        s.nextMatch,
		ConversationID: s.nextConv,
		Users:          []int64{a, b},
		CreatedAt:      at,
	}
	conv := models.Conversation{
		ConversationID: s.nextConv,
		MatchID:        s.nextMatch,
		Participants:   []int64{a, b},
		Status:         models.ConversationActive,
		LastMessageAt:  at,
		LastReadID:     map[string]int64{},
	}
	s.matches[match.MatchID] = match
	s.conversations[conv.ConversationID] = conv
	return match, conv, nil
}

func (s *MemoryStore) GetConversation(_ context.Context, conversationID int64) (models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return models.Conversation{}, ErrConversationNotFound
	}
	return cloneConversation(c), nil
}

func (s *MemoryStore) ListConversations(_ context.Context, userID int64) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Conversation
	for _, c := range s.conversations {
		if isParticipant(c, userID) {
			out = append(out, cloneConversation(c))
		}
	}
	sortConversations(out)
	return out, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, m models.Message) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[m.ConversationID]
	if !ok {
		return models.Message{}, ErrConversationNotFound
	}
	msgs := s.messages[m.ConversationID]
	m.MessageID = int64(len(msgs)) + 1
	s.messages[m.ConversationID] = append(msgs, m)
	conv.LastMessageAt = m.CreatedAt
	s.conversations[m.ConversationID] = conv
	return m, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID int64, beforeID *int64, limit int) ([]models.Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	end := len(msgs)
	if beforeID != nil {
		// ids are 1-based and dense
		end = min(max(int(*beforeID)-1, 0), len(msgs))
	}
	start := max(end-limit, 0)
	out := make([]models.Message, end-start)
	copy(out, msgs[start:end])
	return out, start > 0, nil
}

func (s *MemoryStore) CountUnread(_ context.Context, conversationID, readerID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	last := s.conversations[conversationID].LastReadID[strconv.FormatInt(readerID, 10)]
	n := 0
	for _, m := range s.messages[conversationID] {
		if m.MessageID > last && m.SenderID != readerID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) SetLastRead(_ context.Context, conversationID, userID, lastSeenID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	if conv.LastReadID == nil {
		conv.LastReadID = map[string]int64{}
	}
	key := strconv.FormatInt(userID, 10)
	if lastSeenID > conv.LastReadID[key] {
		conv.LastReadID[key] = lastSeenID
	}
	s.conversations[conversationID] = conv
	return nil
}

func cloneConversation(c models.Conversation) models.Conversation {
	c.Participants = slices.Clone(c.Participants)
	c.LastReadID = maps.Clone(c.LastReadID)
	return c
}

func isParticipant(c models.Conversation, userID int64) bool {
	return slices.Contains(c.Participants, userID)
}

func sortConversations(convs []models.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		if convs[i].LastMessageAt != convs[j].LastMessageAt {
			return convs[i].LastMessageAt > convs[j].LastMessageAt
		}
		return convs[i].ConversationID > convs[j].ConversationID
	})
}
