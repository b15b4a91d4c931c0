package deck

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tennismatch/client"
	"tennismatch/models"
)

type fetchResult struct {
	deck models.Deck
	err  error
	gate chan struct{} // when set, the call blocks until closed
}

type fakeSource struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
}

func (s *fakeSource) push(r fetchResult) {
	s.mu.Lock()
	s.results = append(s.results, r)
	s.mu.Unlock()
}

func (s *fakeSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeSource) FetchDeck(ctx context.Context) (models.Deck, error) {
	s.mu.Lock()
	s.calls++
	var r fetchResult
	if len(s.results) > 0 {
		r = s.results[0]
		s.results = s.results[1:]
	} else {
		r = fetchResult{deck: models.Deck{DeckToken: "empty"}}
	}
	s.mu.Unlock()

	if r.gate != nil {
		<-r.gate
	}
	if r.err != nil {
		return models.Deck{}, r.err
	}
	return r.deck, nil
}

type fakeSubmitter struct {
	mu        sync.Mutex
	decisions []models.Decision
	outcome   models.DecisionOutcome
	errs      []error
}

func (s *fakeSubmitter) SubmitDecision(ctx context.Context, d models.Decision) (models.DecisionOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, d)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return models.DecisionOutcome{}, err
	}
	return s.outcome, nil
}

func (s *fakeSubmitter) Decisions() []models.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Decision(nil), s.decisions...)
}

type manualTimer struct {
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// manualScheduler queues delayed calls until Fire is invoked
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *manualScheduler) Fire() {
	s.mu.Lock()
	pending := s.timers
	s.timers = nil
	s.mu.Unlock()
	for _, t := range pending {
		if !t.stopped {
			t.f()
		}
	}
}

// batch builds cards for targets [from, to] issued under token
func batch(token string, from, to int64) models.Deck {
	d := models.Deck{DeckToken: token}
	for id := from; id <= to; id++ {
		d.Cards = append(d.Cards, models.Card{
			ID:        fmt.Sprintf("%s-%d", token, id),
			TargetID:  id,
			Name:      fmt.Sprintf("Player %d", id),
			DeckToken: token,
			Position:  int(id - from),
		})
	}
	return d
}

type harness struct {
	src   *fakeSource
	sub   *fakeSubmitter
	sched *manualScheduler
	m     *Manager
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{src: &fakeSource{}, sub: &fakeSubmitter{}, sched: &manualScheduler{}}
	opts.Scheduler = h.sched
	n := 0
	opts.newKey = func() string {
		n++
		return fmt.Sprintf("key-%d", n)
	}
	h.m = NewManager(h.src, h.sub, opts)
	t.Cleanup(h.m.Close)
	return h
}

// assertNoDuplicates checks that no target id is held twice and that nothing
// held is excluded, apart from the card still leaving the hand.
func assertNoDuplicates(t *testing.T, m *Manager) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[int64]bool{}
	for i, c := range append(append([]models.Card(nil), m.q.hand...), m.q.reserve...) {
		assert.False(t, seen[c.TargetID], "target %d held twice", c.TargetID)
		seen[c.TargetID] = true
		if m.q.isExcluded(c.TargetID) {
			assert.True(t, i == 0 && m.leaving != "", "excluded target %d still held", c.TargetID)
		}
	}
}

func TestInit(t *testing.T) {
	t.Run("splits batch into hand and reserve", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.src.push(fetchResult{deck: batch("A", 1, 25)})

		require.NoError(t, h.m.Init(t.Context()))
		snap := h.m.Snapshot()
		assert.Len(t, snap.Hand, 20)
		assert.Equal(t, 5, snap.ReserveSize)
		assert.False(t, snap.Loading)
		assert.Equal(t, Idle, snap.Fetch)
		assert.Equal(t, int64(1), h.m.Top().TargetID)
		assert.Equal(t, int64(2), h.m.Peek().TargetID)
	})

	t.Run("drops duplicate targets within a batch", func(t *testing.T) {
		h := newHarness(t, Options{})
		d := batch("A", 1, 3)
		d.Cards = append(d.Cards, models.Card{ID: "dup", TargetID: 2, DeckToken: "A"})
		h.src.push(fetchResult{deck: d})

		require.NoError(t, h.m.Init(t.Context()))
		assert.Len(t, h.m.Hand(), 3)
		assertNoDuplicates(t, h.m)
	})

	t.Run("second call while fetching is a no-op", func(t *testing.T) {
		h := newHarness(t, Options{})
		gate := make(chan struct{})
		h.src.push(fetchResult{deck: batch("A", 1, 5), gate: gate})

		done := make(chan error, 1)
		go func() { done <- h.m.Init(context.Background()) }()
		require.Eventually(t, func() bool { return h.src.Calls() == 1 }, time.Second, time.Millisecond)

		assert.NoError(t, h.m.Init(t.Context()))
		assert.Equal(t, 1, h.src.Calls())

		close(gate)
		require.NoError(t, <-done)
		assert.Len(t, h.m.Hand(), 5)
	})

	t.Run("a completed init reloads the same candidates", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.src.push(fetchResult{deck: batch("A", 1, 20)})
		h.src.push(fetchResult{deck: batch("B", 1, 20)})

		require.NoError(t, h.m.Init(t.Context()))
		require.Len(t, h.m.Hand(), 20)

		require.NoError(t, h.m.Init(t.Context()))
		hand := h.m.Hand()
		require.Len(t, hand, 20)
		assert.Equal(t, "B", hand[0].DeckToken)
		assert.Equal(t, int64(1), h.m.Top().TargetID)
		assertNoDuplicates(t, h.m)
	})

	t.Run("reload still skips excluded candidates", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.src.push(fetchResult{deck: batch("A", 1, 30)})
		h.src.push(fetchResult{deck: batch("B", 1, 20)})

		require.NoError(t, h.m.Init(t.Context()))
		require.True(t, h.m.Like())
		h.sched.Fire()

		require.NoError(t, h.m.Init(t.Context()))
		assert.Len(t, h.m.Hand(), 19)
		assert.Equal(t, int64(2), h.m.Top().TargetID)
		assertNoDuplicates(t, h.m)
	})

	t.Run("unauthenticated is returned and reported", func(t *testing.T) {
		called := 0
		h := newHarness(t, Options{OnUnauthenticated: func() { called++ }})
		h.src.push(fetchResult{err: fmt.Errorf("fetch deck failed: 401: %w", client.ErrUnauthenticated)})

		err := h.m.Init(t.Context())
		assert.ErrorIs(t, err, client.ErrUnauthenticated)
		assert.Equal(t, 1, called)
	})

	t.Run("other failures are swallowed", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.src.push(fetchResult{err: &client.StatusError{Op: "fetch deck", Status: 502}})

		assert.NoError(t, h.m.Init(t.Context()))
		assert.Nil(t, h.m.Top())
		assert.False(t, h.m.Snapshot().Loading)
	})

	t.Run("after close", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.m.Close()
		assert.ErrorIs(t, h.m.Init(t.Context()), ErrClosed)
	})
}

func TestDecide(t *testing.T) {
	t.Run("first swipe of a full batch", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.src.push(fetchResult{deck: batch("A", 1, 20)})
		require.NoError(t, h.m.Init(t.Context()))
		assert.Equal(t, 0, h.m.Snapshot().ReserveSize)

		require.True(t, h.m.Decide(Right))

		// excluded synchronously, removed only after the leave delay
		assert.True(t, h.m.q.isExcluded(1))
		assert.Equal(t, int64(1), h.m.Top().TargetID)
		assert.Equal(t, Right, h.m.Snapshot().Leaving)

		require.Eventually(t, func() bool { return len(h.sub.Decisions()) == 1 }, time.Second, time.Millisecond)
		d := h.sub.Decisions()[0]
		assert.Equal(t, "A", d.DeckToken)
		assert.Equal(t, "A-1", d.CardID)
		assert.Equal(t, models.DecisionYes, d.Decision)
		assert.Equal(t, "key-1", d.IdempotencyKey)

		h.sched.Fire()
		for _, c := range h.m.Hand() {
			assert.NotEqual(t, int64(1), c.TargetID)
		}
		assert.Len(t, h.m.Hand(), 19)
		assert.Empty(t, h.m.Snapshot().Leaving)
	})

	t.Run("no-op while leaving or empty", func(t *testing.T) {
		h := newHarness(t, Options{})
		assert.False(t, h.m.Decide(Right), "empty deck")

		h.src.push(fetchResult{deck: batch("A", 1, 3)})
		require.NoError(t, h.m.Init(t.Context()))
		require.True(t, h.m.Nope())
		assert.False(t, h.m.Like(), "previous card still leaving")

		h.sched.Fire()
		assert.True(t, h.m.Like())
		h.sched.Fire()

		require.Eventually(t, func() bool { return len(h.sub.Decisions()) == 2 }, time.Second, time.Millisecond)
		decisions := h.sub.Decisions()
		assert.Equal(t, models.DecisionNope, decisions[0].Decision)
		assert.Equal(t, models.DecisionYes, decisions[1].Decision)
		assert.NotEqual(t, decisions[0].IdempotencyKey, decisions[1].IdempotencyKey)
	})

	t.Run("decision carries the token of its own batch", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.src.push(fetchResult{deck: batch("A", 1, 20)})
		h.src.push(fetchResult{deck: batch("B", 21, 30)})
		require.NoError(t, h.m.Init(t.Context()))

		require.True(t, h.m.Like())
		require.Eventually(t, func() bool { return h.m.Snapshot().ReserveSize == 10 }, time.Second, time.Millisecond)
		h.sched.Fire()

		// both batches are now held; the top card still belongs to A
		require.Equal(t, int64(2), h.m.Top().TargetID)
		require.True(t, h.m.Like())
		require.Eventually(t, func() bool { return len(h.sub.Decisions()) == 2 }, time.Second, time.Millisecond)
		assert.Equal(t, "A", h.sub.Decisions()[1].DeckToken)
		assertNoDuplicates(t, h.m)
	})

	t.Run("match is surfaced and dismissed locally", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.sub.outcome = models.DecisionOutcome{Matched: true, Match: &models.MatchSummary{MatchID: 9, ConversationID: 4}}
		h.src.push(fetchResult{deck: batch("A", 1, 20)})
		require.NoError(t, h.m.Init(t.Context()))

		require.True(t, h.m.Like())
		require.Eventually(t, func() bool { return h.m.Match() != nil }, time.Second, time.Millisecond)
		assert.Equal(t, int64(4), h.m.Match().ConversationID)

		h.m.ClearMatch()
		assert.Nil(t, h.m.Match())
		assert.Len(t, h.sub.Decisions(), 1)
	})
}

func TestRefill(t *testing.T) {
	t.Run("never before the first decision", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.src.push(fetchResult{deck: batch("A", 1, 22)})
		require.NoError(t, h.m.Init(t.Context()))

		assert.Equal(t, 2, h.m.Snapshot().ReserveSize)
		assert.Equal(t, 1, h.src.Calls())
	})

	t.Run("dedups against hand reserve and excluded", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.src.push(fetchResult{deck: batch("A", 1, 22)})
		h.src.push(fetchResult{deck: batch("B", 1, 30)})
		require.NoError(t, h.m.Init(t.Context()))

		require.True(t, h.m.Like())
		require.Eventually(t, func() bool { return h.src.Calls() == 2 && h.m.Snapshot().Fetch == Idle }, time.Second, time.Millisecond)

		// 23..30 are new; 1 is excluded and 2..22 already held
		assert.Equal(t, 2+8, h.m.Snapshot().ReserveSize)
		assertNoDuplicates(t, h.m)

		h.sched.Fire()
		assert.Len(t, h.m.Hand(), 20)
		assertNoDuplicates(t, h.m)
	})

	t.Run("never while a fetch is in flight", func(t *testing.T) {
		h := newHarness(t, Options{})
		gate := make(chan struct{})
		h.src.push(fetchResult{deck: batch("A", 1, 20)})
		h.src.push(fetchResult{deck: batch("B", 21, 23), gate: gate})
		require.NoError(t, h.m.Init(t.Context()))

		require.True(t, h.m.Like())
		require.Eventually(t, func() bool { return h.src.Calls() == 2 }, time.Second, time.Millisecond)
		h.sched.Fire()
		require.True(t, h.m.Like())
		h.sched.Fire()
		assert.Equal(t, 2, h.src.Calls())
		assert.Equal(t, Fetching, h.m.Snapshot().Fetch)

		close(gate)
		require.Eventually(t, func() bool { return h.m.Snapshot().Fetch == Idle }, time.Second, time.Millisecond)
		assert.Len(t, h.m.Hand(), 20)
		assert.Equal(t, 1, h.m.Snapshot().ReserveSize)
	})

	t.Run("failed refill leaves the deck as is", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.src.push(fetchResult{deck: batch("A", 1, 3)})
		h.src.push(fetchResult{err: errors.New("connection refused")})
		require.NoError(t, h.m.Init(t.Context()))

		require.True(t, h.m.Like())
		require.Eventually(t, func() bool { return h.src.Calls() == 2 && h.m.Snapshot().Fetch == Idle }, time.Second, time.Millisecond)
		h.sched.Fire()
		assert.Len(t, h.m.Hand(), 2)
	})
}

func TestResetDiscardsStaleFetch(t *testing.T) {
	h := newHarness(t, Options{})
	gate := make(chan struct{})
	h.src.push(fetchResult{deck: batch("A", 1, 20)})
	h.src.push(fetchResult{deck: batch("B", 21, 40), gate: gate})
	h.src.push(fetchResult{deck: batch("C", 41, 45)})
	require.NoError(t, h.m.Init(t.Context()))

	require.True(t, h.m.Like())
	require.Eventually(t, func() bool { return h.src.Calls() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, h.m.Reset(t.Context()))
	close(gate)
	h.m.Close()

	hand := h.m.Hand()
	require.Len(t, hand, 5)
	for _, c := range hand {
		assert.Equal(t, "C", c.DeckToken)
	}
	assert.Equal(t, 0, h.m.Snapshot().ReserveSize)
}

func TestDecisionFailurePolicy(t *testing.T) {
	t.Run("drop reports the decision once", func(t *testing.T) {
		var dropped []models.Decision
		var mu sync.Mutex
		h := newHarness(t, Options{OnDecisionDropped: func(d models.Decision, err error) {
			mu.Lock()
			dropped = append(dropped, d)
			mu.Unlock()
		}})
		h.sub.errs = []error{&client.StatusError{Op: "submit decision", Status: 503}}
		h.src.push(fetchResult{deck: batch("A", 1, 20)})
		require.NoError(t, h.m.Init(t.Context()))

		require.True(t, h.m.Like())
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(dropped) == 1
		}, time.Second, time.Millisecond)
		assert.Len(t, h.sub.Decisions(), 1)

		h.sched.Fire()
		assert.NotEqual(t, int64(1), h.m.Top().TargetID, "swipe is not rolled back")
	})

	t.Run("retry reuses the idempotency key", func(t *testing.T) {
		h := newHarness(t, Options{
			Policy:     RetryFailedDecisions,
			newBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
		})
		h.sub.errs = []error{
			&client.StatusError{Op: "submit decision", Status: 503},
			errors.New("connection reset"),
		}
		h.src.push(fetchResult{deck: batch("A", 1, 20)})
		require.NoError(t, h.m.Init(t.Context()))

		require.True(t, h.m.Like())
		require.Eventually(t, func() bool { return len(h.sub.Decisions()) == 3 }, time.Second, time.Millisecond)
		for _, d := range h.sub.Decisions() {
			assert.Equal(t, "key-1", d.IdempotencyKey)
		}
	})

	t.Run("retry stops on client errors", func(t *testing.T) {
		h := newHarness(t, Options{
			Policy:     RetryFailedDecisions,
			newBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
		})
		h.sub.errs = []error{&client.StatusError{Op: "submit decision", Status: 400}}
		h.src.push(fetchResult{deck: batch("A", 1, 20)})
		require.NoError(t, h.m.Init(t.Context()))

		require.True(t, h.m.Like())
		h.m.Close()
		assert.Len(t, h.sub.Decisions(), 1)
	})
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(errors.New("dial tcp: refused")))
	assert.True(t, retryable(&client.StatusError{Status: 503}))
	assert.True(t, retryable(&client.StatusError{Status: 429}))
	assert.False(t, retryable(&client.StatusError{Status: 400}))
	assert.False(t, retryable(fmt.Errorf("x: %w", client.ErrUnauthenticated)))
	assert.False(t, retryable(fmt.Errorf("x: %w", client.ErrGone)))
	assert.False(t, retryable(&client.MalformedError{Op: "x", Reason: "y"}))
}

func TestOnChange(t *testing.T) {
	var mu sync.Mutex
	var snaps []Snapshot
	h := newHarness(t, Options{OnChange: func(s Snapshot) {
		mu.Lock()
		snaps = append(snaps, s)
		mu.Unlock()
	}, HandSize: 3})
	h.src.push(fetchResult{deck: batch("A", 1, 10)})
	require.NoError(t, h.m.Init(t.Context()))
	require.True(t, h.m.Like())
	h.sched.Fire()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, snaps, 3)
	assert.Len(t, snaps[0].Hand, 3)
	assert.Equal(t, 7, snaps[0].ReserveSize)
	assert.Equal(t, Right, snaps[1].Leaving)
	last := snaps[2]
	assert.Empty(t, last.Leaving)
	require.Len(t, last.Hand, 3)
	assert.Equal(t, int64(2), last.Hand[0].TargetID)
	assert.Equal(t, 6, last.ReserveSize)
}
