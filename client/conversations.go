package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"tennismatch/models"
)

type whoAmI struct {
	UserID int64 `json:"userId" validate:"required"`
}

// FetchMeID returns the id of the authenticated user
func (c *Client) FetchMeID(ctx context.Context) (int64, error) {
	const op = "fetch me"
	data, err := c.do(ctx, op, http.MethodGet, "/api/whoami", nil, nil)
	if err != nil {
		return 0, err
	}
	var me whoAmI
	if err := json.Unmarshal(data, &me); err != nil {
		return 0, &MalformedError{Op: op, Reason: err.Error()}
	}
	if err := c.validate.Struct(me); err != nil {
		return 0, &MalformedError{Op: op, Reason: err.Error()}
	}
	return me.UserID, nil
}

// FetchMyConversations lists the conversations of the authenticated user
func (c *Client) FetchMyConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	const op = "fetch my conversations"
	data, err := c.do(ctx, op, http.MethodGet, "/me/conversations", nil, nil)
	if err != nil {
		return nil, err
	}
	var list []models.ConversationSummary
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, &MalformedError{Op: op, Reason: err.Error()}
	}
	return list, nil
}

// FetchConversationMeta returns the header data of one conversation. A partner
// without a name is shown as "Player <id>".
func (c *Client) FetchConversationMeta(ctx context.Context, conversationID int64) (models.ConversationMeta, error) {
	const op = "fetch conversation meta"
	data, err := c.do(ctx, op, http.MethodGet, fmt.Sprintf("/me/conversations/%d", conversationID), nil, nil)
	if err != nil {
		return models.ConversationMeta{}, err
	}
	var details models.ConversationDetails
	if err := json.Unmarshal(data, &details); err != nil {
		return models.ConversationMeta{}, &MalformedError{Op: op, Reason: err.Error()}
	}
	return MetaFromDetails(details), nil
}

// MetaFromDetails derives the display meta of a conversation
func MetaFromDetails(d models.ConversationDetails) models.ConversationMeta {
	name := d.Partner.Name
	if name == "" {
		name = fmt.Sprintf("Player %d", d.Partner.UserID)
	}
	return models.ConversationMeta{Name: name, Avatar: d.Partner.AvatarURL}
}
