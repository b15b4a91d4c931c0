// Package socket is the realtime side of the dev backend: a websocket hub
// that fans conversation events out to subscribed connections.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tennismatch/logger"
	"tennismatch/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 << 10
	sendBuffer     = 64

	topicPrefix = "/topic/conversations."
	appPrefix   = "/app/chat."
)

// ChatHandler is the chat service as the hub uses it
type ChatHandler interface {
	Authorize(ctx context.Context, userID, conversationID int64) (models.Conversation, error)
	Send(ctx context.Context, userID, conversationID int64, req models.SendMessageRequest) (models.MessageDTO, error)
	MarkRead(ctx context.Context, userID, conversationID int64, lastSeenID *int64) error
	Typing(ctx context.Context, userID, conversationID int64, typing bool) error
}

// Authenticator resolves a bearer token to a user id
type Authenticator interface {
	ParseAccessToken(token string) (int64, error)
}

// Options tunes the hub
type Options struct {
	// SendRate and SendBurst bound SEND frames per connection
	SendRate  float64
	SendBurst int
	Logger    *zap.Logger
}

// Hub accepts websocket connections and routes frames between them and the chat service
type Hub struct {
	chat     ChatHandler
	auth     Authenticator
	opts     Options
	log      *zap.Logger
	upgrader websocket.Upgrader
	validate *validator.Validate

	mu      sync.RWMutex
	clients map[*client]struct{}
	topics  map[int64]map[*client]struct{}
	closed  bool
}

type client struct {
	hub     *Hub
	conn    *websocket.Conn
	userID  int64
	send    chan []byte
	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once

	// guarded by hub.mu
	subs map[string]int64 // subscription id -> conversation id
}

// NewHub creates a hub. Call SetBroadcaster on the chat service with it.
func NewHub(chat ChatHandler, auth Authenticator, opts Options) *Hub {
	if opts.SendRate <= 0 {
		opts.SendRate = 5
	}
	if opts.SendBurst <= 0 {
		opts.SendBurst = 10
	}
	return &Hub{
		chat: chat,
		auth: auth,
		opts: opts,
		log:  logger.OrNop(opts.Logger).Named("socket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		validate: validator.New(),
		clients:  make(map[*client]struct{}),
		topics:   make(map[int64]map[*client]struct{}),
	}
}

// ServeHTTP authenticates the bearer token, then upgrades to a websocket.
// Browsers cannot set headers on a websocket, so access_token is accepted as a query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		token = r.URL.Query().Get("access_token")
	}
	userID, err := h.auth.ParseAccessToken(token)
	if err != nil {
		http.Error(w, "Unauthenticated", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("upgrade failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		hub:     h,
		conn:    conn,
		userID:  userID,
		send:    make(chan []byte, sendBuffer),
		limiter: rate.NewLimiter(rate.Limit(h.opts.SendRate), h.opts.SendBurst),
		ctx:     ctx,
		cancel:  cancel,
		subs:    make(map[string]int64),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.log.Debug("socket connected", zap.Int64("user_id", userID))
	go c.writePump()
	go c.readPump()
}

// Broadcast sends evt to every subscription on the conversation topic. A
// connection whose buffer is full is dropped; its client reconnects.
func (h *Hub) Broadcast(conversationID int64, evt models.ChatEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		h.log.Error("failed to encode event", zap.Error(err))
		return
	}
	topic := models.ConversationTopic(conversationID)

	var slow []*client
	h.mu.RLock()
	for c := range h.topics[conversationID] {
		for subID, conv := range c.subs {
			if conv != conversationID {
				continue
			}
			frame, err := json.Marshal(models.Frame{Command: models.CmdMessage, ID: subID, Destination: topic, Body: body})
			if err != nil {
				continue
			}
			select {
			case c.send <- frame:
			default:
				slow = append(slow, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("dropping slow connection", zap.Int64("user_id", c.userID))
		c.close()
	}
}

// Connections is the number of open connections
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close drops every connection and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) subscribe(c *client, subID string, conversationID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.subs[subID] = conversationID
	if h.topics[conversationID] == nil {
		h.topics[conversationID] = make(map[*client]struct{})
	}
	h.topics[conversationID][c] = struct{}{}
}

func (h *Hub) unsubscribe(c *client, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conv, ok := c.subs[subID]
	if !ok {
		return
	}
	delete(c.subs, subID)
	for _, other := range c.subs {
		if other == conv {
			return
		}
	}
	h.dropFromTopicLocked(c, conv)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conv := range c.subs {
		h.dropFromTopicLocked(c, conv)
	}
	c.subs = make(map[string]int64)
	delete(h.clients, c)
}

func (h *Hub) dropFromTopicLocked(c *client, conv int64) {
	delete(h.topics[conv], c)
	if len(h.topics[conv]) == 0 {
		delete(h.topics, conv)
	}
}

func (c *client) close() {
	c.once.Do(func() {
		c.cancel()
		c.hub.remove(c)
		_ = c.conn.Close()
	})
}

func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("socket read failed", zap.Int64("user_id", c.userID), zap.Error(err))
			}
			return
		}
		var frame models.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sendError("", "malformed frame")
			continue
		}
		c.handle(frame)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) handle(frame models.Frame) {
	switch frame.Command {
	case models.CmdSubscribe:
		conv, ok := parseTopic(frame.Destination)
		if !ok || frame.ID == "" {
			c.sendError(frame.ID, "bad subscription")
			return
		}
		if _, err := c.hub.chat.Authorize(c.ctx, c.userID, conv); err != nil {
			c.sendError(frame.ID, "subscription refused")
			return
		}
		c.hub.subscribe(c, frame.ID, conv)

	case models.CmdUnsubscribe:
		c.hub.unsubscribe(c, frame.ID)

	case models.CmdSend:
		conv, action, ok := parseAppDestination(frame.Destination)
		if !ok {
			c.sendError("", "unknown destination")
			return
		}
		if !c.limiter.Allow() {
			c.sendError("", "rate limited")
			return
		}
		if err := c.dispatch(conv, action, frame.Body); err != nil {
			c.hub.log.Debug("send rejected", zap.Int64("user_id", c.userID), zap.String("destination", frame.Destination), zap.Error(err))
			c.sendError("", err.Error())
		}

	default:
		c.sendError(frame.ID, "unsupported command")
	}
}

var errBadPayload = errors.New("bad payload")

func (c *client) dispatch(conv int64, action string, body json.RawMessage) error {
	switch action {
	case "send":
		var req models.SendMessageRequest
		if json.Unmarshal(body, &req) != nil || c.hub.validate.Struct(req) != nil {
			return errBadPayload
		}
		_, err := c.hub.chat.Send(c.ctx, c.userID, conv, req)
		return err
	case "read":
		var req models.ReadPayload
		if json.Unmarshal(body, &req) != nil {
			return errBadPayload
		}
		return c.hub.chat.MarkRead(c.ctx, c.userID, conv, req.LastSeenID)
	case "typing":
		var req models.TypingPayload
		if json.Unmarshal(body, &req) != nil {
			return errBadPayload
		}
		return c.hub.chat.Typing(c.ctx, c.userID, conv, req.Typing)
	default:
		return errors.New("unknown action " + action)
	}
}

func (c *client) sendError(subID, message string) {
	body, _ := json.Marshal(map[string]string{"message": message})
	frame, err := json.Marshal(models.Frame{Command: models.CmdError, ID: subID, Body: body})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

// parseTopic reads the conversation id from /topic/conversations.{id}
func parseTopic(dest string) (int64, bool) {
	rest, ok := strings.CutPrefix(dest, topicPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	return id, err == nil && id > 0
}

// parseAppDestination splits /app/chat.{id}.{action}
func parseAppDestination(dest string) (int64, string, bool) {
	rest, ok := strings.CutPrefix(dest, appPrefix)
	if !ok {
		return 0, "", false
	}
	idPart, action, ok := strings.Cut(rest, ".")
	if !ok {
		return 0, "", false
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return 0, "", false
	}
	return id, action, true
}
