package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tennismatch/client"
	"tennismatch/logger"
	"tennismatch/models"
)

// DefaultPageSize is the number of messages per history page
const DefaultPageSize = 50

// MessageAPI is the REST side of a conversation
type MessageAPI interface {
	FetchHistory(ctx context.Context, conversationID int64, beforeID *int64, limit int) (client.History, error)
	SendMessage(ctx context.Context, conversationID int64, body, clientID string) (models.InboundMessage, error)
}

// Realtime is the push side of a conversation. *Transport implements it.
type Realtime interface {
	IsConnected() bool
	SubscribeConversation(conversationID int64, onEvent EventHandler) (cancel func())
	Send(ctx context.Context, conversationID int64, text, correlationID string) error
	MarkRead(conversationID, lastSeenID int64)
}

// MetaSource loads the header data of a conversation
type MetaSource interface {
	FetchConversationMeta(ctx context.Context, conversationID int64) (models.ConversationMeta, error)
}

// MetaCache keeps conversation headers across screens
type MetaCache interface {
	Get(ctx context.Context, conversationID int64) (models.ConversationMeta, bool)
	Set(ctx context.Context, conversationID int64, meta models.ConversationMeta)
}

// ConversationOptions configures a Conversation
type ConversationOptions struct {
	ConversationID int64
	MeID           int64
	PageSize       int
	Meta           MetaSource
	Cache          MetaCache
	Logger         *zap.Logger

	OnChange          func(Window)
	OnTyping          func(models.TypingData)
	OnRead            func(models.ReadData)
	OnUnauthenticated func()

	newID func() string
	now   func() time.Time
}

// Conversation is the view model of one chat. It is the only writer of its
// Window; every change goes through Reduce.
type Conversation struct {
	id   int64
	api  MessageAPI
	rt   Realtime
	opts ConversationOptions
	log  *zap.Logger

	mu          sync.Mutex
	win         Window
	meta        models.ConversationMeta
	loadingOld  bool
	unsubscribe func()
	closed      bool
}

// NewConversation creates the view model. Open subscribes and loads history.
func NewConversation(api MessageAPI, rt Realtime, opts ConversationOptions) *Conversation {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.newID == nil {
		opts.newID = uuid.NewString
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	return &Conversation{
		id:   opts.ConversationID,
		api:  api,
		rt:   rt,
		opts: opts,
		log:  logger.OrNop(opts.Logger).Named("chat").With(zap.Int64("conversation_id", opts.ConversationID)),
		win:  NewWindow(),
	}
}

// Open subscribes to the conversation topic, resolves the partner header and
// loads the newest page. A failed load leaves an empty window marked Failed;
// only an expired session is returned as an error.
func (c *Conversation) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.unsubscribe == nil {
		c.unsubscribe = c.rt.SubscribeConversation(c.id, c.handleEvent)
	}
	c.mu.Unlock()

	c.loadMeta(ctx)

	page, err := c.api.FetchHistory(ctx, c.id, nil, c.opts.PageSize)
	if err != nil {
		c.apply(HistoryLoaded{Failed: true})
		return c.failed("load history", err)
	}
	c.apply(HistoryLoaded{Messages: c.toChat(page.Items), PageSize: c.opts.PageSize})
	return nil
}

func (c *Conversation) loadMeta(ctx context.Context) {
	if c.opts.Cache != nil {
		if meta, ok := c.opts.Cache.Get(ctx, c.id); ok {
			c.setMeta(meta)
			return
		}
	}
	if c.opts.Meta == nil {
		return
	}
	meta, err := c.opts.Meta.FetchConversationMeta(ctx, c.id)
	if err != nil {
		c.log.Warn("conversation meta unavailable", zap.Error(err))
		return
	}
	if c.opts.Cache != nil {
		c.opts.Cache.Set(ctx, c.id, meta)
	}
	c.setMeta(meta)
}

func (c *Conversation) setMeta(meta models.ConversationMeta) {
	c.mu.Lock()
	c.meta = meta
	c.mu.Unlock()
}

// Meta returns the partner header, empty until Open resolved it
func (c *Conversation) Meta() models.ConversationMeta {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meta
}

// View returns the current window
func (c *Conversation) View() Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.win
}

// Send shows text immediately as a pending echo and delivers it. The realtime
// channel is used when connected; otherwise, or when publishing fails, the
// REST endpoint is called and its response confirms the echo in place. A
// failed REST send retracts the echo and returns the error.
func (c *Conversation) Send(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", nil
	}
	cid := c.opts.newID()
	c.apply(SendRequested{CorrelationID: cid, Text: text, SentAt: c.opts.now()})

	if c.rt.IsConnected() {
		err := c.rt.Send(ctx, c.id, text, cid)
		if err == nil {
			return cid, nil
		}
		c.log.Info("realtime send failed, using REST", zap.String("correlation_id", cid), zap.Error(err))
	}

	msg, err := c.api.SendMessage(ctx, c.id, text, cid)
	if err != nil {
		c.apply(SendFailed{CorrelationID: cid})
		c.log.Warn("send failed", zap.String("correlation_id", cid), zap.Error(err))
		if client.IsUnauthenticated(err) {
			c.unauthenticated()
		}
		return cid, err
	}
	c.apply(SendConfirmed{CorrelationID: cid, Message: msg.ToChat(c.opts.MeID)})
	return cid, nil
}

// LoadOlder prepends the page before the oldest held message. It does nothing
// while a page is loading, when the list is empty or when no older page exists.
func (c *Conversation) LoadOlder(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.loadingOld || !c.win.HasMore || len(c.win.Messages) == 0 {
		c.mu.Unlock()
		return nil
	}
	before, ok := c.win.OldestServerID()
	if !ok {
		c.mu.Unlock()
		return nil
	}
	c.loadingOld = true
	c.mu.Unlock()

	page, err := c.api.FetchHistory(ctx, c.id, &before, c.opts.PageSize)

	c.mu.Lock()
	c.loadingOld = false
	c.mu.Unlock()

	if err != nil {
		c.apply(PagePrepended{Failed: true})
		return c.failed("load older", err)
	}
	c.apply(PagePrepended{Messages: c.toChat(page.Items), PageSize: c.opts.PageSize})
	return nil
}

// Close drops the subscription. The window stays readable.
func (c *Conversation) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (c *Conversation) handleEvent(evt models.ChatEvent) {
	switch evt.Kind {
	case models.EventMessage:
		res := client.ParseMessage(evt.Data)
		in, ok := res.Get()
		if !ok {
			c.log.Warn("dropping malformed message", zap.String("reason", res.Reason()))
			return
		}
		c.apply(MessageReceived{Message: in.ToChat(c.opts.MeID)})
		if !in.Mine(c.opts.MeID) && c.rt.IsConnected() {
			c.rt.MarkRead(c.id, in.ID)
		}

	case models.EventTyping:
		var data models.TypingData
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			c.log.Debug("dropping malformed typing event", zap.Error(err))
			return
		}
		if c.opts.OnTyping != nil && data.UserID != c.opts.MeID {
			c.opts.OnTyping(data)
		}

	case models.EventRead:
		var data models.ReadData
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			c.log.Debug("dropping malformed read event", zap.Error(err))
			return
		}
		if c.opts.OnRead != nil {
			c.opts.OnRead(data)
		}
	}
}

func (c *Conversation) apply(e Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.win = Reduce(c.win, e)
	win := c.win
	c.mu.Unlock()

	if c.opts.OnChange != nil {
		c.opts.OnChange(win)
	}
}

func (c *Conversation) toChat(items []models.InboundMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(items))
	for _, m := range items {
		out = append(out, m.ToChat(c.opts.MeID))
	}
	return out
}

func (c *Conversation) failed(op string, err error) error {
	if client.IsUnauthenticated(err) {
		c.log.Warn(op+" rejected, session expired", zap.Error(err))
		c.unauthenticated()
		return client.ErrUnauthenticated
	}
	if !errors.Is(err, context.Canceled) {
		c.log.Warn(op+" failed", zap.Error(err))
	}
	return nil
}

func (c *Conversation) unauthenticated() {
	if c.opts.OnUnauthenticated != nil {
		c.opts.OnUnauthenticated()
	}
}
