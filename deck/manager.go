// Package deck serves the swipe deck: a visible hand backed by a prefetched
// reserve, deduplicated by candidate and refilled from a token-scoped source.
package deck

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tennismatch/client"
	"tennismatch/logger"
	"tennismatch/models"
)

const (
	DefaultHandSize        = 20
	DefaultRefillThreshold = 5
	DefaultLeaveDelay      = 300 * time.Millisecond
)

// ErrClosed is returned by Init after Close
var ErrClosed = errors.New("deck: manager closed")

// Source issues batches of cards under a fresh deck token
type Source interface {
	FetchDeck(ctx context.Context) (models.Deck, error)
}

// Submitter records one decision and reports whether it produced a match
type Submitter interface {
	SubmitDecision(ctx context.Context, d models.Decision) (models.DecisionOutcome, error)
}

// Direction is the swipe gesture
type Direction string

const (
	Left  Direction = "left"
	Right Direction = "right"
)

// Verdict maps the gesture to the submitted decision
func (d Direction) Verdict() models.DecisionValue {
	if d == Right {
		return models.DecisionYes
	}
	return models.DecisionNope
}

// FailurePolicy decides what happens to a decision the server did not accept
type FailurePolicy string

const (
	// DropFailedDecisions forgets the decision. The card stays removed.
	DropFailedDecisions FailurePolicy = "drop"
	// RetryFailedDecisions resubmits with the same idempotency key
	RetryFailedDecisions FailurePolicy = "retry"
)

// Snapshot is a read-only copy of the deck state
type Snapshot struct {
	Hand        []models.Card
	ReserveSize int
	Excluded    int
	Leaving     Direction
	Loading     bool
	Fetch       FetchPhase
	Match       *models.MatchSummary
}

// Options configures a Manager. Zero values fall back to the defaults.
type Options struct {
	HandSize        int
	RefillThreshold int
	LeaveDelay      time.Duration
	Policy          FailurePolicy
	MaxRetries      uint64
	Scheduler       Scheduler
	Logger          *zap.Logger

	// OnUnauthenticated is called whenever a fetch or decision is rejected
	// because the session is gone.
	OnUnauthenticated func()
	// OnDecisionDropped is called for every decision that was never recorded
	OnDecisionDropped func(models.Decision, error)
	// OnChange receives a snapshot after every settled mutation
	OnChange func(Snapshot)

	newKey     func() string
	now        func() time.Time
	newBackOff func() backoff.BackOff
}

// Manager owns the deck queue. It is safe for concurrent use.
type Manager struct {
	source    Source
	submitter Submitter
	opts      Options
	log       *zap.Logger

	lifetime context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup

	mu       sync.Mutex
	q        *queue
	fetch    fetchGuard
	loading  bool
	decided  bool
	leaving  Direction
	leave    Timer
	leaveGen uint64
	match    *models.MatchSummary
	closed   bool
}

// NewManager creates a Manager. Call Init to load the first batch.
func NewManager(source Source, submitter Submitter, opts Options) *Manager {
	if opts.HandSize <= 0 {
		opts.HandSize = DefaultHandSize
	}
	if opts.RefillThreshold <= 0 {
		opts.RefillThreshold = DefaultRefillThreshold
	}
	if opts.LeaveDelay <= 0 {
		opts.LeaveDelay = DefaultLeaveDelay
	}
	if opts.Policy == "" {
		opts.Policy = DropFailedDecisions
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.Scheduler == nil {
		opts.Scheduler = SystemScheduler
	}
	if opts.newKey == nil {
		opts.newKey = uuid.NewString
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	if opts.newBackOff == nil {
		opts.newBackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}

	lifetime, stop := context.WithCancel(context.Background())
	return &Manager{
		source:    source,
		submitter: submitter,
		opts:      opts,
		log:       logger.OrNop(opts.Logger).Named("deck"),
		lifetime:  lifetime,
		stop:      stop,
		q:         newQueue(opts.HandSize),
		loading:   true,
	}
}

// Init fetches the first batch. A call while another fetch is in flight is a
// no-op. Fetch failures are logged and swallowed except for an unauthenticated
// session, which is returned as client.ErrUnauthenticated.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	fetchCtx, gen, ok := m.fetch.begin(m.lifetime)
	if !ok {
		m.mu.Unlock()
		m.log.Debug("init skipped, fetch in flight")
		return nil
	}
	m.loading = true
	m.mu.Unlock()

	release := context.AfterFunc(ctx, func() { m.abortFetch(gen) })
	defer release()

	deck, err := m.source.FetchDeck(fetchCtx)

	m.mu.Lock()
	current := m.fetch.finish(gen)
	if current || m.fetch.phase == Idle {
		m.loading = false
	}
	if !current {
		m.mu.Unlock()
		m.log.Debug("discarding stale init result", zap.Uint64("generation", gen))
		return nil
	}
	if err != nil {
		m.mu.Unlock()
		return m.fetchFailed("init", err)
	}
	dropped := m.q.load(deck.Cards)
	m.q.settle()
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.log.Debug("deck initialized",
		zap.Int("hand", len(snap.Hand)),
		zap.Int("reserve", snap.ReserveSize),
		zap.Int("duplicates", dropped),
	)
	m.notify(snap)
	return nil
}

// Reset aborts any in-flight fetch, empties hand and reserve and loads a fresh
// batch. Excluded candidates stay excluded.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.fetch.abort()
	m.stopLeaveLocked()
	m.q.clear()
	m.decided = false
	m.mu.Unlock()

	return m.Init(ctx)
}

// Close aborts outstanding work and waits for background goroutines
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.fetch.abort()
	m.stopLeaveLocked()
	m.mu.Unlock()

	m.stop()
	m.wg.Wait()
}

// Top is the card on top of the hand, nil when the deck is empty
func (m *Manager) Top() *models.Card {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q.at(0)
}

// Peek is the card under the top card
func (m *Manager) Peek() *models.Card {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q.at(1)
}

// Hand returns a copy of the visible cards
func (m *Manager) Hand() []models.Card {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Card(nil), m.q.hand...)
}

// Snapshot returns a copy of the whole deck state
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Match is the last unacknowledged mutual match
func (m *Manager) Match() *models.MatchSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.match
}

// ClearMatch dismisses the current match. It has no network effect.
func (m *Manager) ClearMatch() {
	m.mu.Lock()
	m.match = nil
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snap)
}

// Like swipes the top card right
func (m *Manager) Like() bool { return m.Decide(Right) }

// Nope swipes the top card left
func (m *Manager) Nope() bool { return m.Decide(Left) }

// Decide swipes the top card. It returns false without effect when there is no
// top card or a previous swipe is still leaving. The candidate is excluded and
// the decision submitted before the card leaves the hand.
func (m *Manager) Decide(dir Direction) bool {
	m.mu.Lock()
	top := m.q.at(0)
	if m.closed || top == nil || m.leaving != "" {
		m.mu.Unlock()
		return false
	}

	m.decided = true
	m.leaving = dir
	m.q.exclude(top.TargetID)

	decision := models.Decision{
		DeckToken:      top.DeckToken,
		CardID:         top.ID,
		Decision:       dir.Verdict(),
		IdempotencyKey: m.opts.newKey(),
		Position:       top.Position,
		At:             m.opts.now(),
	}

	m.leaveGen++
	gen, targetID := m.leaveGen, top.TargetID
	m.leave = m.opts.Scheduler.AfterFunc(m.opts.LeaveDelay, func() { m.finishLeave(gen, targetID) })

	m.maybeRefillLocked()
	m.wg.Add(1)
	snap := m.snapshotLocked()
	m.mu.Unlock()

	go m.submit(decision)
	m.notify(snap)
	return true
}

func (m *Manager) finishLeave(gen uint64, targetID int64) {
	m.mu.Lock()
	if m.closed || gen != m.leaveGen {
		m.mu.Unlock()
		return
	}
	m.leave = nil
	m.leaving = ""
	m.q.remove(targetID)
	m.q.settle()
	m.maybeRefillLocked()
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snap)
}

func (m *Manager) stopLeaveLocked() {
	if m.leave != nil {
		m.leave.Stop()
		m.leave = nil
	}
	m.leaving = ""
	m.leaveGen++
}

// maybeRefillLocked starts a background refill once the first decision was
// made, the reserve is at or below the low-water mark and no fetch is in flight.
func (m *Manager) maybeRefillLocked() {
	if m.closed || !m.decided || len(m.q.reserve) > m.opts.RefillThreshold {
		return
	}
	ctx, gen, ok := m.fetch.begin(m.lifetime)
	if !ok {
		return
	}
	m.wg.Add(1)
	go m.refill(ctx, gen)
}

func (m *Manager) refill(ctx context.Context, gen uint64) {
	defer m.wg.Done()

	deck, err := m.source.FetchDeck(ctx)

	m.mu.Lock()
	if !m.fetch.finish(gen) {
		m.mu.Unlock()
		m.log.Debug("discarding stale refill result", zap.Uint64("generation", gen))
		return
	}
	if err != nil {
		m.mu.Unlock()
		_ = m.fetchFailed("refill", err)
		return
	}
	added, dropped := m.q.extend(deck.Cards)
	m.q.settle()
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.log.Debug("reserve refilled",
		zap.Int("added", added),
		zap.Int("duplicates", dropped),
		zap.Int("reserve", snap.ReserveSize),
	)
	m.notify(snap)
}

func (m *Manager) abortFetch(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetch.phase == Fetching && m.fetch.gen == gen {
		m.fetch.abort()
	}
}

func (m *Manager) fetchFailed(op string, err error) error {
	switch {
	case client.IsUnauthenticated(err):
		m.log.Warn("deck fetch rejected, session expired", zap.String("op", op), zap.Error(err))
		m.unauthenticated()
		return client.ErrUnauthenticated
	case errors.Is(err, context.Canceled):
		return nil
	default:
		m.log.Warn("deck fetch failed", zap.String("op", op), zap.Error(err))
		return nil
	}
}

func (m *Manager) submit(d models.Decision) {
	defer m.wg.Done()

	var out models.DecisionOutcome
	attempt := func() error {
		var err error
		out, err = m.submitter.SubmitDecision(m.lifetime, d)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var err error
	if m.opts.Policy == RetryFailedDecisions {
		b := backoff.WithContext(backoff.WithMaxRetries(m.opts.newBackOff(), m.opts.MaxRetries), m.lifetime)
		err = backoff.Retry(attempt, b)
	} else {
		err = attempt()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		m.log.Warn("decision dropped",
			zap.String("card_id", d.CardID),
			zap.String("decision", string(d.Decision)),
			zap.String("idempotency_key", d.IdempotencyKey),
			zap.Error(err),
		)
		if client.IsUnauthenticated(err) {
			m.unauthenticated()
		}
		if m.opts.OnDecisionDropped != nil {
			m.opts.OnDecisionDropped(d, err)
		}
		return
	}

	if !out.Matched || out.Match == nil {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.match = out.Match
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.log.Info("mutual match",
		zap.Int64("match_id", out.Match.MatchID),
		zap.Int64("conversation_id", out.Match.ConversationID),
	)
	m.notify(snap)
}

// retryable reports whether resubmitting could succeed
func retryable(err error) bool {
	if client.IsUnauthenticated(err) || errors.Is(err, client.ErrGone) || errors.Is(err, context.Canceled) {
		return false
	}
	var malformed *client.MalformedError
	if errors.As(err, &malformed) {
		return false
	}
	var status *client.StatusError
	if errors.As(err, &status) {
		return status.Status >= 500 || status.Status == 429
	}
	return true
}

func (m *Manager) unauthenticated() {
	if m.opts.OnUnauthenticated != nil {
		m.opts.OnUnauthenticated()
	}
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{
		Hand:        append([]models.Card(nil), m.q.hand...),
		ReserveSize: len(m.q.reserve),
		Excluded:    len(m.q.excluded),
		Leaving:     m.leaving,
		Loading:     m.loading,
		Fetch:       m.fetch.phase,
		Match:       m.match,
	}
}

func (m *Manager) notify(s Snapshot) {
	if m.opts.OnChange != nil {
		m.opts.OnChange(s)
	}
}

func (s Snapshot) String() string {
	return fmt.Sprintf("hand=%d reserve=%d excluded=%d leaving=%q fetch=%s",
		len(s.Hand), s.ReserveSize, s.Excluded, s.Leaving, s.Fetch)
}
