package chat

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tennismatch/client"
	"tennismatch/logger"
	"tennismatch/models"
)

// DefaultUnreadInterval is how often the unread badge is refreshed
const DefaultUnreadInterval = 10 * time.Second

// ConversationLister lists the conversations of the current user
type ConversationLister interface {
	FetchMyConversations(ctx context.Context) ([]models.ConversationSummary, error)
}

// UnreadOptions configures an UnreadPoller
type UnreadOptions struct {
	Interval          time.Duration
	Logger            *zap.Logger
	OnChange          func(total int)
	OnUnauthenticated func()
}

// UnreadPoller keeps the total unread count across conversations, leaving
// out the conversation currently open.
type UnreadPoller struct {
	lister ConversationLister
	opts   UnreadOptions
	log    *zap.Logger

	exclude atomic.Int64
	total   atomic.Int64
}

// NewUnreadPoller creates a poller. Run starts polling.
func NewUnreadPoller(lister ConversationLister, opts UnreadOptions) *UnreadPoller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultUnreadInterval
	}
	return &UnreadPoller{
		lister: lister,
		opts:   opts,
		log:    logger.OrNop(opts.Logger).Named("chat.unread"),
	}
}

// Exclude leaves conversationID out of the total; 0 clears the exclusion
func (p *UnreadPoller) Exclude(conversationID int64) {
	p.exclude.Store(conversationID)
}

// Total is the last computed unread count
func (p *UnreadPoller) Total() int {
	return int(p.total.Load())
}

// Run polls immediately and then every interval until ctx is done or the
// session is rejected
func (p *UnreadPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	if _, err := p.poll(ctx); client.IsUnauthenticated(err) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.poll(ctx); client.IsUnauthenticated(err) {
				p.log.Info("unread polling stopped, session expired")
				return
			}
		}
	}
}

// Poll refreshes the total once. A failed listing resets it to zero.
func (p *UnreadPoller) Poll(ctx context.Context) int {
	total, _ := p.poll(ctx)
	return total
}

func (p *UnreadPoller) poll(ctx context.Context) (int, error) {
	list, err := p.lister.FetchMyConversations(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return p.Total(), nil
		}
		p.log.Debug("unread poll failed", zap.Error(err))
		if client.IsUnauthenticated(err) && p.opts.OnUnauthenticated != nil {
			p.opts.OnUnauthenticated()
		}
		p.set(0)
		return 0, err
	}

	exclude := p.exclude.Load()
	sum := 0
	for _, conv := range list {
		if exclude != 0 && conv.ID == exclude {
			continue
		}
		if conv.UnreadCount > 0 {
			sum += conv.UnreadCount
		}
	}
	p.set(sum)
	return sum, nil
}

func (p *UnreadPoller) set(total int) {
	if old := p.total.Swap(int64(total)); old != int64(total) && p.opts.OnChange != nil {
		p.opts.OnChange(total)
	}
}
