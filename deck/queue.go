package deck

import (
	"maps"

	"tennismatch/models"
)

// queue is the hand/reserve/excluded triple. It is not safe for concurrent use;
// Manager guards it.
type queue struct {
	size     int
	hand     []models.Card
	reserve  []models.Card
	excluded map[int64]struct{}
}

func newQueue(size int) *queue {
	return &queue{size: size, excluded: make(map[int64]struct{})}
}

// known is every target id currently held or ever excluded
func (q *queue) known() map[int64]struct{} {
	ids := make(map[int64]struct{}, len(q.hand)+len(q.reserve)+len(q.excluded))
	for _, c := range q.hand {
		ids[c.TargetID] = struct{}{}
	}
	for _, c := range q.reserve {
		ids[c.TargetID] = struct{}{}
	}
	for id := range q.excluded {
		ids[id] = struct{}{}
	}
	return ids
}

// dedup keeps the first card per target id not already in known. known is
// updated with the accepted ids.
func dedup(incoming []models.Card, known map[int64]struct{}) (unique []models.Card, dropped int) {
	unique = make([]models.Card, 0, len(incoming))
	for _, c := range incoming {
		if _, ok := known[c.TargetID]; ok {
			dropped++
			continue
		}
		known[c.TargetID] = struct{}{}
		unique = append(unique, c)
	}
	return unique, dropped
}

// load replaces hand and reserve with a fresh batch. The cards being replaced
// do not count as known; only exclusions filter the batch.
func (q *queue) load(cards []models.Card) int {
	unique, dropped := dedup(cards, maps.Clone(q.excluded))
	n := min(q.size, len(unique))
	q.hand = append([]models.Card(nil), unique[:n]...)
	q.reserve = append([]models.Card(nil), unique[n:]...)
	return dropped
}

// extend appends a refill batch to the reserve
func (q *queue) extend(cards []models.Card) (added, dropped int) {
	unique, dropped := dedup(cards, q.known())
	q.reserve = append(q.reserve, unique...)
	return len(unique), dropped
}

// settle promotes reserve cards into the hand until the hand is full or the
// reserve is empty. It returns the number of cards moved; a second call
// always returns 0.
func (q *queue) settle() int {
	need := q.size - len(q.hand)
	if need <= 0 || len(q.reserve) == 0 {
		return 0
	}
	need = min(need, len(q.reserve))
	q.hand = append(q.hand, q.reserve[:need]...)
	q.reserve = append([]models.Card(nil), q.reserve[need:]...)
	return need
}

func (q *queue) exclude(targetID int64) {
	q.excluded[targetID] = struct{}{}
}

func (q *queue) isExcluded(targetID int64) bool {
	_, ok := q.excluded[targetID]
	return ok
}

// remove drops every card of targetID from hand and reserve
func (q *queue) remove(targetID int64) {
	q.hand = without(q.hand, targetID)
	q.reserve = without(q.reserve, targetID)
}

func without(cards []models.Card, targetID int64) []models.Card {
	out := cards[:0:0]
	for _, c := range cards {
		if c.TargetID != targetID {
			out = append(out, c)
		}
	}
	return out
}

// clear empties hand and reserve. Exclusions live for the whole session.
func (q *queue) clear() {
	q.hand = nil
	q.reserve = nil
}

func (q *queue) at(i int) *models.Card {
	if i >= len(q.hand) {
		return nil
	}
	c := q.hand[i]
	return &c
}
