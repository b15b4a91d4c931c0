// Package app wires the sync core for one signed-in user.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"tennismatch/cache"
	"tennismatch/chat"
	"tennismatch/client"
	"tennismatch/config"
	"tennismatch/deck"
	"tennismatch/logger"
)

var (
	// ErrLoggedOut is returned by Session methods after Logout
	ErrLoggedOut = errors.New("app: session logged out")
	// ErrSessionExpired is returned once the backend has rejected the access token
	ErrSessionExpired = errors.New("app: session expired")
)

// Options customizes a Session
type Options struct {
	Logger *zap.Logger
	// Cache overrides the conversation meta cache built from config
	Cache cache.MetaCache
	// OnUnauthenticated is called once when any component finds the session expired
	OnUnauthenticated func()
	// OnUnread receives the unread total whenever it changes
	OnUnread func(total int)
}

// Session owns the REST client, the realtime transport, the deck, the unread
// poller and the conversation meta cache for one user.
type Session struct {
	cfg  *config.Config
	opts Options
	log  *zap.Logger

	api       *client.Client
	transport *chat.Transport
	metaCache cache.MetaCache
	unread    *chat.UnreadPoller

	mu         sync.Mutex
	meID       int64
	deck       *deck.Manager
	convs      map[int64]*chat.Conversation
	stopUnread context.CancelFunc
	expired    sync.Once
	isExpired  bool
	loggedOut  bool
}

// New builds a Session from configuration. Nothing touches the network until Start.
func New(cfg *config.Config, opts Options) (*Session, error) {
	log := logger.OrNop(opts.Logger)

	metaCache := opts.Cache
	if metaCache == nil {
		if cfg.Redis.Enabled {
			rc, err := cache.NewRedisMetaCache(cache.RedisConfig{
				Addr:     cfg.Redis.Addr(),
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			}, log)
			if err != nil {
				return nil, fmt.Errorf("failed to create meta cache: %w", err)
			}
			metaCache = rc
		} else {
			metaCache = cache.NewMemoryMetaCache()
		}
	}

	s := &Session{
		cfg:       cfg,
		opts:      opts,
		log:       log.Named("session"),
		metaCache: metaCache,
		convs:     make(map[int64]*chat.Conversation),
	}
	s.api = client.New(client.Options{
		BaseURL:     cfg.Client.APIURL,
		AccessToken: cfg.Client.AccessToken,
		Timeout:     cfg.Client.HTTPTimeout,
		Logger:      log,
	})
	s.transport = chat.NewTransport(chat.TransportOptions{
		URL:               cfg.Client.WSURL,
		AccessToken:       cfg.Client.AccessToken,
		ReconnectDelay:    cfg.Chat.ReconnectDelay,
		Logger:            log,
		OnUnauthenticated: s.unauthenticated,
	})
	s.unread = chat.NewUnreadPoller(s.api, chat.UnreadOptions{
		Interval:          cfg.Chat.UnreadPoll,
		Logger:            log,
		OnChange:          opts.OnUnread,
		OnUnauthenticated: s.unauthenticated,
	})
	return s, nil
}

// Start resolves the current user, connects the realtime channel and starts
// the unread poller.
func (s *Session) Start(ctx context.Context) error {
	me, err := s.api.FetchMeID(ctx)
	if err != nil {
		if client.IsUnauthenticated(err) {
			s.unauthenticated()
		}
		return fmt.Errorf("failed to resolve current user: %w", err)
	}

	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.meID = me
	pollCtx, cancel := context.WithCancel(context.Background())
	s.stopUnread = cancel
	s.mu.Unlock()

	s.transport.Start()
	go s.unread.Run(pollCtx)

	s.log.Info("session started", zap.Int64("user_id", me))
	return nil
}

// MeID is the id of the signed-in user, 0 before Start
func (s *Session) MeID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meID
}

// Client exposes the REST client
func (s *Session) Client() *client.Client { return s.api }

// Transport exposes the realtime channel
func (s *Session) Transport() *chat.Transport { return s.transport }

// Cache exposes the conversation meta cache
func (s *Session) Cache() cache.MetaCache { return s.metaCache }

// Unread exposes the unread poller
func (s *Session) Unread() *chat.UnreadPoller { return s.unread }

// Deck returns the session's deck manager, creating it on first use. The
// caller runs Init.
func (s *Session) Deck(onChange func(deck.Snapshot)) (*deck.Manager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usableLocked(); err != nil {
		return nil, err
	}
	if s.deck == nil {
		s.deck = deck.NewManager(s.api, s.api, deck.Options{
			HandSize:          s.cfg.Deck.HandSize,
			RefillThreshold:   s.cfg.Deck.RefillThreshold,
			LeaveDelay:        s.cfg.Deck.LeaveDelay,
			Policy:            deck.FailurePolicy(s.cfg.Deck.DecisionPolicy),
			MaxRetries:        uint64(max(s.cfg.Deck.DecisionRetries, 0)),
			Logger:            s.log,
			OnUnauthenticated: s.unauthenticated,
			OnChange:          onChange,
		})
	}
	return s.deck, nil
}

// OpenConversation opens the chat view of one conversation and leaves it out
// of the unread total while it is open.
func (s *Session) OpenConversation(ctx context.Context, conversationID int64, onChange func(chat.Window)) (*chat.Conversation, error) {
	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if old, ok := s.convs[conversationID]; ok {
		s.mu.Unlock()
		old.Close()
		s.mu.Lock()
	}
	conv := chat.NewConversation(s.api, s.transport, chat.ConversationOptions{
		ConversationID:    conversationID,
		MeID:              s.meID,
		PageSize:          s.cfg.Chat.PageSize,
		Meta:              s.api,
		Cache:             s.metaCache,
		Logger:            s.log,
		OnChange:          onChange,
		OnUnauthenticated: s.unauthenticated,
	})
	s.convs[conversationID] = conv
	s.mu.Unlock()

	s.unread.Exclude(conversationID)
	if err := conv.Open(ctx); err != nil {
		return conv, err
	}
	return conv, nil
}

// CloseConversation closes the chat view and counts it as unread again
func (s *Session) CloseConversation(conversationID int64) {
	s.mu.Lock()
	conv, ok := s.convs[conversationID]
	delete(s.convs, conversationID)
	s.mu.Unlock()
	if ok {
		conv.Close()
	}
	s.unread.Exclude(0)
}

// Logout stops every component, clears the meta cache and forgets the token
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	if s.loggedOut {
		s.mu.Unlock()
		return nil
	}
	s.loggedOut = true
	d := s.deck
	s.deck = nil
	convs := s.convs
	s.convs = make(map[int64]*chat.Conversation)
	stop := s.stopUnread
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	for _, c := range convs {
		c.Close()
	}
	if d != nil {
		d.Close()
	}
	_ = s.transport.Close()
	s.api.SetAccessToken("")

	var errs []error
	if err := s.metaCache.Clear(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.metaCache.Close(); err != nil {
		errs = append(errs, err)
	}
	s.log.Info("session logged out")
	return errors.Join(errs...)
}

func (s *Session) usableLocked() error {
	switch {
	case s.loggedOut:
		return ErrLoggedOut
	case s.isExpired:
		return ErrSessionExpired
	}
	return nil
}

// unauthenticated stops every background component and hands off to the
// auth flow once. The cache and token stay until Logout.
func (s *Session) unauthenticated() {
	s.expired.Do(func() {
		s.log.Warn("session expired, stopping background work")

		s.mu.Lock()
		s.isExpired = true
		d := s.deck
		s.deck = nil
		convs := s.convs
		s.convs = make(map[int64]*chat.Conversation)
		stop := s.stopUnread
		s.stopUnread = nil
		s.mu.Unlock()

		if stop != nil {
			stop()
		}
		// the caller can be a goroutine that these Close calls wait for
		go func() {
			for _, c := range convs {
				c.Close()
			}
			if d != nil {
				d.Close()
			}
			_ = s.transport.Close()
		}()

		if s.opts.OnUnauthenticated != nil {
			s.opts.OnUnauthenticated()
		}
	})
}
