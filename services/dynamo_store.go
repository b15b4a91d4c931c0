package services

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"tennismatch/models"
	"tennismatch/utils"
)

// CountersTable holds the id sequences for matches, conversations and messages
const CountersTable = "Counters"

// DynamoStore implements Store on DynamoDB. Table names are prefixed with
// TablePrefix so several environments can share an account.
//
//	Players        userId (N)
//	Decisions      actorId (N), targetId (N)
//	Matches        matchId (N)
//	Conversations  conversationId (N)
//	Messages       conversationId (N), messageId (N)
//	Counters       name (S)
type DynamoStore struct {
	Dynamo *DynamoService
	prefix string
}

// NewDynamoStore builds a store over an existing DynamoService
func NewDynamoStore(ds *DynamoService, tablePrefix string) *DynamoStore {
	return &DynamoStore{Dynamo: ds, prefix: tablePrefix}
}

func (s *DynamoStore) table(name string) string { return s.prefix + name }

func (s *DynamoStore) PutPlayer(ctx context.Context, p models.PlayerProfile) error {
	return s.Dynamo.PutItem(ctx, s.table(models.PlayersTable), p)
}

// PutPlayers writes many profiles with batch writes
func (s *DynamoStore) PutPlayers(ctx context.Context, players []models.PlayerProfile) error {
	reqs := make([]types.WriteRequest, 0, len(players))
	for _, p := range players {
		item, err := attributevalue.MarshalMap(p)
		if err != nil {
			return fmt.Errorf("failed to marshal player %d: %w", p.UserID, err)
		}
		reqs = append(reqs, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
	}
	return s.Dynamo.BatchWriteItems(ctx, s.table(models.PlayersTable), reqs)
}

func (s *DynamoStore) GetPlayer(ctx context.Context, userID int64) (models.PlayerProfile, error) {
	var p models.PlayerProfile
	err := s.Dynamo.GetItem(ctx, s.table(models.PlayersTable), map[string]types.AttributeValue{"userId": utils.N(userID)}, &p)
	if errors.Is(err, errItemNotFound) {
		return p, ErrPlayerNotFound
	}
	return p, err
}

func (s *DynamoStore) ListPlayers(ctx context.Context) ([]models.PlayerProfile, error) {
	var players []models.PlayerProfile
	if err := s.Dynamo.ScanWithFilter(ctx, s.table(models.PlayersTable), "", nil, nil, &players); err != nil {
		return nil, err
	}
	slices.SortFunc(players, func(a, b models.PlayerProfile) int { return cmp.Compare(a.UserID, b.UserID) })
	return players, nil
}

func (s *DynamoStore) PutDecision(ctx context.Context, d models.DecisionRecord) error {
	return s.Dynamo.PutItem(ctx, s.table(models.DecisionsTable), d)
}

func (s *DynamoStore) GetDecision(ctx context.Context, actorID, targetID int64) (models.DecisionRecord, bool, error) {
	var d models.DecisionRecord
	err := s.Dynamo.GetItem(ctx, s.table(models.DecisionsTable), map[string]types.AttributeValue{
		"actorId":  utils.N(actorID),
		"targetId": utils.N(targetID),
	}, &d)
	if errors.Is(err, errItemNotFound) {
		return d, false, nil
	}
	if err != nil {
		return d, false, err
	}
	return d, true, nil
}

func (s *DynamoStore) DecidedTargets(ctx context.Context, actorID int64) (map[int64]bool, error) {
	items, err := s.Dynamo.QueryAll(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table(models.DecisionsTable)),
		KeyConditionExpression:    aws.String("actorId = :a"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":a": utils.N(actorID)},
		ProjectionExpression:      aws.String("targetId"),
	})
	if err != nil {
		return nil, err
	}
	out := make(map[int64]bool, len(items))
	for _, item := range items {
		if id, ok := utils.ExtractInt64(item, "targetId"); ok {
			out[id] = true
		}
	}
	return out, nil
}

func (s *DynamoStore) CreateMatch(ctx context.Context, a, b int64, at string) (models.Match, models.Conversation, error) {
	matchID, err := s.nextID(ctx, "matches")
	if err != nil {
		return models.Match{}, models.Conversation{}, err
	}
	convID, err := s.nextID(ctx, "conversations")
	if err != nil {
		return models.Match{}, models.Conversation{}, err
	}

	match := models.Match{MatchID: matchID, ConversationID: convID, Users: []int64{a, b}, CreatedAt: at}
	conv := models.Conversation{
		ConversationID: convID,
		MatchID:        matchID,
		Participants:   []int64{a, b},
		Status:         models.ConversationActive,
		LastMessageAt:  at,
		LastReadID:     map[string]int64{},
	}
	if err := s.Dynamo.PutItem(ctx, s.table(models.MatchesTable), match); err != nil {
		return models.Match{}, models.Conversation{}, fmt.Errorf("failed to create match: %w", err)
	}
	if err := s.Dynamo.PutItem(ctx, s.table(models.ConversationsTable), conv); err != nil {
		return models.Match{}, models.Conversation{}, fmt.Errorf("failed to create conversation: %w", err)
	}
	s.Dynamo.log.Info("match created", zap.Int64("match_id", matchID), zap.Int64("conversation_id", convID))
	return match, conv, nil
}

func (s *DynamoStore) GetConversation(ctx context.Context, conversationID int64) (models.Conversation, error) {
	var c models.Conversation
	err := s.Dynamo.GetItem(ctx, s.table(models.ConversationsTable), map[string]types.AttributeValue{"conversationId": utils.N(conversationID)}, &c)
	if errors.Is(err, errItemNotFound) {
		return c, ErrConversationNotFound
	}
	return c, err
}

func (s *DynamoStore) ListConversations(ctx context.Context, userID int64) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := s.Dynamo.ScanWithFilter(ctx, s.table(models.ConversationsTable),
		"contains(participants, :uid)",
		map[string]types.AttributeValue{":uid": utils.N(userID)},
		nil, &convs)
	if err != nil {
		return nil, err
	}
	sortConversations(convs)
	return convs, nil
}

func (s *DynamoStore) AppendMessage(ctx context.Context, m models.Message) (models.Message, error) {
	if _, err := s.GetConversation(ctx, m.ConversationID); err != nil {
		return models.Message{}, err
	}
	id, err := s.nextID(ctx, "messages#"+strconv.FormatInt(m.ConversationID, 10))
	if err != nil {
		return models.Message{}, err
	}
	m.MessageID = id
	if err := s.Dynamo.PutItem(ctx, s.table(models.MessagesTable), m); err != nil {
		return models.Message{}, fmt.Errorf("failed to store message: %w", err)
	}
	_, err = s.Dynamo.UpdateItem(ctx, s.table(models.ConversationsTable),
		"SET lastMessageAt = :at",
		map[string]types.AttributeValue{"conversationId": utils.N(m.ConversationID)},
		map[string]types.AttributeValue{":at": utils.S(m.CreatedAt)},
		nil, "", types.ReturnValueNone)
	if err != nil {
		s.Dynamo.log.Warn("failed to bump lastMessageAt", zap.Int64("conversation_id", m.ConversationID), zap.Error(err))
	}
	return m, nil
}

func (s *DynamoStore) ListMessages(ctx context.Context, conversationID int64, beforeID *int64, limit int) ([]models.Message, bool, error) {
	cond := "conversationId = :c"
	values := map[string]types.AttributeValue{":c": utils.N(conversationID)}
	if beforeID != nil {
		cond += " AND messageId < :before"
		values[":before"] = utils.N(*beforeID)
	}
	items, err := s.Dynamo.QueryItemsWithOptions(ctx, s.table(models.MessagesTable), cond, values, nil, int32(limit+1), true)
	if err != nil {
		return nil, false, err
	}
	var msgs []models.Message
	if err := attributevalue.UnmarshalListOfMaps(items, &msgs); err != nil {
		return nil, false, fmt.Errorf("failed to parse messages: %w", err)
	}
	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	slices.Reverse(msgs)
	return msgs, hasMore, nil
}

func (s *DynamoStore) CountUnread(ctx context.Context, conversationID, readerID int64) (int, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	last := conv.LastReadID[strconv.FormatInt(readerID, 10)]

	count := 0
	p := dynamodb.NewQueryPaginator(s.Dynamo.Client, &dynamodb.QueryInput{
		TableName:              aws.String(s.table(models.MessagesTable)),
		KeyConditionExpression: aws.String("conversationId = :c AND messageId > :last"),
		FilterExpression:       aws.String("senderId <> :r"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c":    utils.N(conversationID),
			":last": utils.N(last),
			":r":    utils.N(readerID),
		},
		Select: types.SelectCount,
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to count unread: %w", err)
		}
		count += int(page.Count)
	}
	return count, nil
}

func (s *DynamoStore) SetLastRead(ctx context.Context, conversationID, userID, lastSeenID int64) error {
	_, err := s.Dynamo.UpdateItem(ctx, s.table(models.ConversationsTable),
		"SET lastReadId.#uid = :v",
		map[string]types.AttributeValue{"conversationId": utils.N(conversationID)},
		map[string]types.AttributeValue{":v": utils.N(lastSeenID)},
		map[string]string{"#uid": strconv.FormatInt(userID, 10)},
		"attribute_exists(conversationId) AND (attribute_not_exists(lastReadId.#uid) OR lastReadId.#uid < :v)",
		types.ReturnValueNone)
	var failed *types.ConditionalCheckFailedException
	if errors.As(err, &failed) {
		// already read further, or no such conversation
		return nil
	}
	return err
}

// nextID increments the named counter and returns its new value
func (s *DynamoStore) nextID(ctx context.Context, name string) (int64, error) {
	attrs, err := s.Dynamo.UpdateItem(ctx, s.table(CountersTable),
		"ADD #v :one",
		map[string]types.AttributeValue{"name": utils.S(name)},
		map[string]types.AttributeValue{":one": utils.N(1)},
		map[string]string{"#v": "value"},
		"", types.ReturnValueUpdatedNew)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate %s id: %w", name, err)
	}
	id, ok := utils.ExtractInt64(attrs, "value")
	if !ok {
		return 0, fmt.Errorf("failed to allocate %s id: counter missing", name)
	}
	return id, nil
}
