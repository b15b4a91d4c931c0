package deck

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tennismatch/models"
)

func cards(from, to int64) []models.Card {
	var out []models.Card
	for id := from; id <= to; id++ {
		out = append(out, models.Card{ID: "c", TargetID: id})
	}
	return out
}

func TestQueueSettle(t *testing.T) {
	t.Run("reaches a fixed point", func(t *testing.T) {
		q := newQueue(20)
		q.hand = cards(1, 18)
		q.reserve = cards(19, 21)

		assert.Equal(t, 2, q.settle())
		assert.Len(t, q.hand, 20)
		assert.Len(t, q.reserve, 1)
		assert.Equal(t, 0, q.settle())
	})

	t.Run("hand plus reserve below capacity", func(t *testing.T) {
		q := newQueue(20)
		q.hand = cards(1, 18)
		q.reserve = cards(19, 20)
		q.remove(1)

		q.settle()
		assert.Len(t, q.hand, 19)
		assert.Empty(t, q.reserve)
	})

	t.Run("after a decision", func(t *testing.T) {
		q := newQueue(20)
		q.hand = cards(1, 18)
		q.reserve = cards(19, 21)
		q.exclude(1)
		assert.Len(t, q.hand, 18)

		q.remove(1)
		q.settle()
		assert.Len(t, q.hand, min(20, 18+3-1))
		assert.Empty(t, q.reserve)
	})
}

func TestQueueDedup(t *testing.T) {
	q := newQueue(2)
	assert.Equal(t, 0, q.load(cards(1, 3)))
	assert.Len(t, q.hand, 2)
	assert.Len(t, q.reserve, 1)

	q.exclude(9)
	added, dropped := q.extend(append(cards(2, 5), cards(9, 9)...))
	assert.Equal(t, 2, added)
	assert.Equal(t, 3, dropped)
	assert.Len(t, q.reserve, 3)
	assert.Len(t, q.known(), 6)

	assert.Equal(t, 1, q.load(cards(1, 9)), "reload filters exclusions only")
	assert.Len(t, q.hand, 2)
	assert.Len(t, q.reserve, 6)

	q.clear()
	assert.Empty(t, q.hand)
	assert.True(t, q.isExcluded(9), "exclusions survive clear")
	assert.Nil(t, q.at(0))
}

func TestFetchGuard(t *testing.T) {
	var g fetchGuard

	ctx, gen, ok := g.begin(t.Context())
	assert.True(t, ok)
	assert.Equal(t, Fetching, g.phase)

	_, _, ok = g.begin(t.Context())
	assert.False(t, ok, "single flight")

	g.abort()
	assert.Equal(t, Idle, g.phase)
	assert.Error(t, ctx.Err(), "abort cancels the fetch")
	assert.False(t, g.finish(gen), "aborted result is stale")

	_, gen2, ok := g.begin(t.Context())
	assert.True(t, ok)
	assert.False(t, g.finish(gen), "superseded generation")
	assert.True(t, g.finish(gen2))
	assert.Equal(t, Idle, g.phase)
	assert.Equal(t, "idle", g.phase.String())
}
