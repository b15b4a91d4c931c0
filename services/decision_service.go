package services

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"go.uber.org/zap"

	"tennismatch/logger"
	"tennismatch/models"
)

// IdempotencyTTL is how long a decision result is replayed for the same key
const IdempotencyTTL = 24 * time.Hour

// DecisionService records swipes and detects mutual matches
type DecisionService struct {
	store    Store
	sessions DeckSessionStore
	idem     IdempotencyStore
	auth     *AuthService
	photos   PhotoResolver
	log      *zap.Logger
	now      func() time.Time
}

// NewDecisionService builds a DecisionService
func NewDecisionService(store Store, sessions DeckSessionStore, idem IdempotencyStore, auth *AuthService, photos PhotoResolver, log *zap.Logger) *DecisionService {
	return &DecisionService{
		store:    store,
		sessions: sessions,
		idem:     idem,
		auth:     auth,
		photos:   photos,
		log:      logger.OrNop(log).Named("decision"),
		now:      time.Now,
	}
}

// Decide applies a batch of decisions made on one deck. headerKey is the
// Idempotency-Key request header; it stands in for a single item without its own key.
func (s *DecisionService) Decide(ctx context.Context, userID int64, req models.PostDecisionRequest, headerKey string) (models.PostDecisionResponse, error) {
	claims, err := s.auth.ParseDeckToken(req.DeckToken)
	if err != nil {
		return models.PostDecisionResponse{}, err
	}
	owner, _ := claims.UserID()
	if owner != userID {
		return models.PostDecisionResponse{}, ErrForeignDeckToken
	}
	session, ok, err := s.sessions.Load(ctx, claims.ID)
	if err != nil {
		return models.PostDecisionResponse{}, fmt.Errorf("failed to load deck session: %w", err)
	}
	if !ok {
		return models.PostDecisionResponse{}, ErrDeckTokenExpired
	}

	resp := models.PostDecisionResponse{Results: make([]models.DecisionResult, 0, len(req.Items))}
	for _, item := range req.Items {
		key := item.IdempotencyKey
		if key == "" && len(req.Items) == 1 {
			key = headerKey
		}
		result, err := s.decideOne(ctx, userID, session, item, key)
		if err != nil {
			return models.PostDecisionResponse{}, err
		}
		resp.Results = append(resp.Results, result)
	}
	return resp, nil
}

func (s *DecisionService) decideOne(ctx context.Context, userID int64, session DeckSession, item models.DecisionItem, key string) (models.DecisionResult, error) {
	scoped := ""
	if key != "" {
		scoped = strconv.FormatInt(userID, 10) + ":" + key
		prev, ok, err := s.idem.Get(ctx, scoped)
		if err != nil {
			s.log.Warn("idempotency lookup failed", zap.String("key", key), zap.Error(err))
		} else if ok {
			s.log.Debug("replayed decision", zap.String("key", key))
			return prev, nil
		}
	}

	target, ok := session.Cards[item.CandidateID]
	if !ok {
		return models.DecisionResult{}, ErrUnknownCandidate
	}

	at := s.now().UTC()
	if item.At != nil {
		at = item.At.UTC()
	}
	record := models.DecisionRecord{
		ActorID:        userID,
		TargetID:       target,
		Decision:       string(item.Decision),
		IdempotencyKey: key,
		Position:       item.Position,
		At:             at.Format(time.RFC3339),
	}
	if err := s.store.PutDecision(ctx, record); err != nil {
		return models.DecisionResult{}, fmt.Errorf("failed to store decision: %w", err)
	}

	result := models.DecisionResult{CandidateID: item.CandidateID, TargetUserID: target}
	if item.Decision == models.DecisionYes {
		match, err := s.matchIfMutual(ctx, userID, target)
		if err != nil {
			return models.DecisionResult{}, err
		}
		if match != nil {
			result.Matched = true
			result.Match = match
		}
	}

	if scoped != "" {
		if err := s.idem.Put(ctx, scoped, result, IdempotencyTTL); err != nil {
			s.log.Warn("failed to remember decision", zap.String("key", key), zap.Error(err))
		}
	}
	return result, nil
}

// matchIfMutual opens a match when target already said YES to userID. An
// existing conversation between the two is reused.
func (s *DecisionService) matchIfMutual(ctx context.Context, userID, target int64) (*models.MatchSummary, error) {
	theirs, ok, err := s.store.GetDecision(ctx, target, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch target decision: %w", err)
	}
	if !ok || theirs.Decision != string(models.DecisionYes) {
		return nil, nil
	}

	convs, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	var matchID, convID int64
	for _, c := range convs {
		if slices.Contains(c.Participants, target) {
			matchID, convID = c.MatchID, c.ConversationID
			break
		}
	}
	if convID == 0 {
		match, conv, err := s.store.CreateMatch(ctx, userID, target, s.now().UTC().Format(time.RFC3339))
		if err != nil {
			return nil, fmt.Errorf("failed to create match: %w", err)
		}
		matchID, convID = match.MatchID, conv.ConversationID
		s.log.Info("it's a match", zap.Int64("user_id", userID), zap.Int64("target_id", target), zap.Int64("conversation_id", convID))
	}

	summary := &models.MatchSummary{MatchID: matchID, ConversationID: convID}
	if p, err := s.store.GetPlayer(ctx, target); err == nil {
		name, age, photo := p.Name, p.Age, s.photos.PhotoURL(ctx, p.PhotoKey)
		summary.Name, summary.Age, summary.PhotoURL = &name, &age, &photo
	}
	return summary, nil
}
