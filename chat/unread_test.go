package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tennismatch/client"
	"tennismatch/models"
)

type fakeLister struct {
	mu    sync.Mutex
	list  []models.ConversationSummary
	err   error
	calls int
}

func (l *fakeLister) FetchMyConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.list, l.err
}

func TestUnreadPoll(t *testing.T) {
	lister := &fakeLister{list: []models.ConversationSummary{
		{ID: 1, UnreadCount: 2},
		{ID: 2, UnreadCount: 5},
		{ID: 3, UnreadCount: -1},
	}}
	var totals []int
	p := NewUnreadPoller(lister, UnreadOptions{OnChange: func(n int) { totals = append(totals, n) }})

	assert.Equal(t, 7, p.Poll(t.Context()))

	p.Exclude(2)
	assert.Equal(t, 2, p.Poll(t.Context()))
	assert.Equal(t, 2, p.Total())

	lister.err = errors.New("offline")
	assert.Equal(t, 0, p.Poll(t.Context()))
	assert.Equal(t, []int{7, 2, 0}, totals)
}

func TestUnreadRun(t *testing.T) {
	lister := &fakeLister{list: []models.ConversationSummary{{ID: 1, UnreadCount: 1}}}
	p := NewUnreadPoller(lister, UnreadOptions{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		lister.mu.Lock()
		defer lister.mu.Unlock()
		return lister.calls >= 3
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1, p.Total())

	cancel()
	<-done
}

func TestUnreadRunStopsWhenSessionExpires(t *testing.T) {
	lister := &fakeLister{err: fmt.Errorf("list conversations failed: 401: %w", client.ErrUnauthenticated)}
	var expired atomic.Int32
	p := NewUnreadPoller(lister, UnreadOptions{
		Interval:          5 * time.Millisecond,
		OnUnauthenticated: func() { expired.Add(1) },
	})

	done := make(chan struct{})
	go func() {
		p.Run(t.Context())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller kept running after a 401")
	}
	assert.Equal(t, int32(1), expired.Load())
	lister.mu.Lock()
	assert.Equal(t, 1, lister.calls)
	lister.mu.Unlock()
}
