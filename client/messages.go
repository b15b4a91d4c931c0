package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"tennismatch/models"
)

// FetchHistory loads one page of a conversation, oldest first. beforeID limits
// the page to messages strictly older than it; limit <= 0 lets the server decide.
func (c *Client) FetchHistory(ctx context.Context, conversationID int64, beforeID *int64, limit int) (History, error) {
	const op = "fetch history"
	q := url.Values{}
	if beforeID != nil {
		q.Set("before_id", strconv.FormatInt(*beforeID, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := fmt.Sprintf("/api/conversations/%d/messages", conversationID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	data, err := c.do(ctx, op, http.MethodGet, path, nil, nil)
	if err != nil {
		return History{}, err
	}
	res := ParseHistory(data)
	page, ok := res.Get()
	if !ok {
		return History{}, res.Err(op)
	}
	return page, nil
}

// SendMessage is the request/response send path used when the realtime
// channel is down. The created message echoes clientID back.
func (c *Client) SendMessage(ctx context.Context, conversationID int64, body, clientID string) (models.InboundMessage, error) {
	const op = "send message"
	req := models.SendMessageRequest{Body: body}
	if clientID != "" {
		req.ClientID = &clientID
	}
	if err := c.validate.Struct(req); err != nil {
		return models.InboundMessage{}, &MalformedError{Op: op, Reason: err.Error()}
	}

	path := fmt.Sprintf("/api/conversations/%d/messages", conversationID)
	data, err := c.do(ctx, op, http.MethodPost, path, req, nil)
	if err != nil {
		return models.InboundMessage{}, err
	}
	res := ParseMessage(data)
	msg, ok := res.Get()
	if !ok {
		return models.InboundMessage{}, res.Err(op)
	}
	return msg, nil
}
