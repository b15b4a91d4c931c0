// Package chat keeps a conversation's message list in sync across the
// realtime channel and the REST history and send endpoints.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tennismatch/client"
	"tennismatch/logger"
	"tennismatch/models"
)

const (
	DefaultReconnectDelay = 1500 * time.Millisecond
	writeWait             = 10 * time.Second
)

var (
	// ErrNotConnected is returned by Send while the realtime channel is down
	ErrNotConnected = errors.New("chat: realtime channel not connected")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("chat: transport closed")
)

// State is the connectivity of a Transport
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// EventHandler receives the events of one conversation
type EventHandler func(models.ChatEvent)

// TransportOptions configures a Transport
type TransportOptions struct {
	URL            string
	AccessToken    string
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
	Logger         *zap.Logger

	// OnUnauthenticated is called when the handshake is refused with 401 or
	// 403. The transport stops reconnecting.
	OnUnauthenticated func()
}

type subscription struct {
	id        string
	topic     string
	handler   EventHandler
	applied   bool // SUBSCRIBE was written on the current connection
	cancelled atomic.Bool
}

// Transport is the realtime channel. It reconnects with a constant delay
// until Close and re-applies every live subscription on each connection.
type Transport struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	delay  time.Duration
	log    *zap.Logger
	onAuth func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	state atomic.Int32

	// mu guards conn, subs and every write to conn
	mu     sync.Mutex
	conn   *websocket.Conn
	subs   map[string]*subscription
	nextID uint64
	closed bool
}

// NewTransport creates a disconnected Transport. Start begins connecting.
func NewTransport(opts TransportOptions) *Transport {
	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	if opts.AccessToken != "" {
		header.Set("Authorization", "Bearer "+opts.AccessToken)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		url:    opts.URL,
		header: header,
		dialer: dialer,
		delay:  delay,
		onAuth: opts.OnUnauthenticated,
		log:    logger.OrNop(opts.Logger).Named("chat.transport"),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]*subscription),
	}
}

// Start launches the connect loop. Calling it more than once has no effect.
func (t *Transport) Start() {
	t.once.Do(func() {
		t.wg.Add(1)
		go t.run()
	})
}

// Close stops reconnecting, closes the connection and waits for the loop to exit
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	t.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	t.wg.Wait()
	t.state.Store(int32(Disconnected))
	return nil
}

// State returns the current connectivity
func (t *Transport) State() State {
	return State(t.state.Load())
}

// IsConnected is a best-effort hint for choosing the send path
func (t *Transport) IsConnected() bool {
	return t.State() == Connected
}

func (t *Transport) run() {
	defer t.wg.Done()

	b := backoff.WithContext(backoff.NewConstantBackOff(t.delay), t.ctx)
	_ = backoff.RetryNotify(func() error {
		if t.ctx.Err() != nil {
			return backoff.Permanent(t.ctx.Err())
		}
		return t.connectAndServe()
	}, b, func(err error, wait time.Duration) {
		t.log.Warn("realtime channel down, reconnecting",
			zap.Error(err),
			zap.Duration("retry_in", wait),
		)
	})
}

// connectAndServe dials once and reads until the connection drops. It never
// returns nil while the transport is alive.
func (t *Transport) connectAndServe() error {
	t.state.Store(int32(Connecting))
	conn, resp, err := t.dialer.DialContext(t.ctx, t.url, t.header)
	if err != nil {
		t.state.Store(int32(Disconnected))
		if t.ctx.Err() != nil {
			return backoff.Permanent(t.ctx.Err())
		}
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			t.log.Warn("realtime handshake rejected, not reconnecting", zap.Int("status", resp.StatusCode))
			if t.onAuth != nil {
				t.onAuth()
			}
			return backoff.Permanent(fmt.Errorf("dial %s: %d: %w", t.url, resp.StatusCode, client.ErrUnauthenticated))
		}
		return fmt.Errorf("dial %s: %w", t.url, err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close()
		return backoff.Permanent(ErrClosed)
	}
	t.conn = conn
	t.state.Store(int32(Connected))
	applied := 0
	for _, sub := range t.subs {
		if err := t.writeLocked(models.Frame{Command: models.CmdSubscribe, ID: sub.id, Destination: sub.topic}); err != nil {
			break
		}
		sub.applied = true
		applied++
	}
	t.mu.Unlock()
	t.log.Info("realtime channel connected", zap.Int("subscriptions", applied))

	err = t.readLoop(conn)

	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	for _, sub := range t.subs {
		sub.applied = false
	}
	t.state.Store(int32(Disconnected))
	t.mu.Unlock()
	_ = conn.Close()

	if t.ctx.Err() != nil {
		return backoff.Permanent(t.ctx.Err())
	}
	return err
}

func (t *Transport) readLoop(conn *websocket.Conn) error {
	for {
		var frame models.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		switch frame.Command {
		case models.CmdMessage:
			t.dispatch(frame)
		case models.CmdError:
			t.log.Warn("server rejected frame",
				zap.String("destination", frame.Destination),
				zap.ByteString("body", frame.Body),
			)
		default:
			t.log.Debug("ignoring frame", zap.String("command", string(frame.Command)))
		}
	}
}

func (t *Transport) dispatch(frame models.Frame) {
	res := client.ParseEvent(frame.Body)
	evt, ok := res.Get()
	if !ok {
		t.log.Warn("dropping malformed event",
			zap.String("destination", frame.Destination),
			zap.String("reason", res.Reason()),
		)
		return
	}

	t.mu.Lock()
	var targets []*subscription
	if sub, ok := t.subs[frame.ID]; ok {
		targets = append(targets, sub)
	} else if frame.ID == "" {
		for _, sub := range t.subs {
			if sub.topic == frame.Destination {
				targets = append(targets, sub)
			}
		}
	}
	t.mu.Unlock()

	for _, sub := range targets {
		if !sub.cancelled.Load() {
			sub.handler(evt)
		}
	}
}

// SubscribeConversation registers onEvent for one conversation. While
// disconnected the subscription is buffered and applied once the channel is
// up. The returned cancel is synchronous and idempotent.
func (t *Transport) SubscribeConversation(conversationID int64, onEvent EventHandler) (cancel func()) {
	t.mu.Lock()
	t.nextID++
	sub := &subscription{
		id:      "sub-" + strconv.FormatUint(t.nextID, 10),
		topic:   models.ConversationTopic(conversationID),
		handler: onEvent,
	}
	if t.closed {
		t.mu.Unlock()
		return func() {}
	}
	t.subs[sub.id] = sub
	if t.conn != nil && t.IsConnected() {
		if err := t.writeLocked(models.Frame{Command: models.CmdSubscribe, ID: sub.id, Destination: sub.topic}); err == nil {
			sub.applied = true
		}
	}
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { t.unsubscribe(sub) })
	}
}

func (t *Transport) unsubscribe(sub *subscription) {
	sub.cancelled.Store(true)
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, sub.id)
	if sub.applied && t.conn != nil {
		if err := t.writeLocked(models.Frame{Command: models.CmdUnsubscribe, ID: sub.id, Destination: sub.topic}); err != nil {
			t.log.Debug("unsubscribe not delivered", zap.String("topic", sub.topic), zap.Error(err))
		}
	}
}

// Send publishes a message on the realtime channel
func (t *Transport) Send(ctx context.Context, conversationID int64, text, correlationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req := models.SendMessageRequest{Body: text}
	if correlationID != "" {
		req.ClientID = &correlationID
	}
	return t.publish(models.SendDestination(conversationID), req)
}

// MarkRead tells the partner that messages up to lastSeenID were seen. Failures
// are logged only.
func (t *Transport) MarkRead(conversationID, lastSeenID int64) {
	id := lastSeenID
	if err := t.publish(models.ReadDestination(conversationID), models.ReadPayload{LastSeenID: &id}); err != nil {
		t.log.Debug("read receipt not sent",
			zap.Int64("conversation_id", conversationID),
			zap.Int64("last_seen_id", lastSeenID),
			zap.Error(err),
		)
	}
}

// Typing publishes a typing notice. Failures are logged only.
func (t *Transport) Typing(conversationID int64, typing bool) {
	if err := t.publish(models.TypingDestination(conversationID), models.TypingPayload{Typing: typing}); err != nil {
		t.log.Debug("typing notice not sent", zap.Int64("conversation_id", conversationID), zap.Error(err))
	}
}

func (t *Transport) publish(destination string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", destination, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.conn == nil || !t.IsConnected() {
		return ErrNotConnected
	}
	return t.writeLocked(models.Frame{Command: models.CmdSend, Destination: destination, Body: body})
}

func (t *Transport) writeLocked(frame models.Frame) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := t.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("write %s: %w", frame.Command, err)
	}
	return nil
}
