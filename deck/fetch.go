package deck

import "context"

// FetchPhase is the state of the single network slot of a Manager
type FetchPhase int

const (
	Idle FetchPhase = iota
	Fetching
)

func (p FetchPhase) String() string {
	if p == Fetching {
		return "fetching"
	}
	return "idle"
}

// fetchGuard is the Idle | Fetching{cancel, gen} state machine. Every fetch
// gets a generation; only the fetch holding the current generation may apply
// its result. Callers hold Manager.mu.
type fetchGuard struct {
	phase  FetchPhase
	gen    uint64
	cancel context.CancelFunc
}

// begin moves Idle to Fetching. It returns false when a fetch is already in flight.
func (g *fetchGuard) begin(parent context.Context) (context.Context, uint64, bool) {
	if g.phase == Fetching {
		return nil, 0, false
	}
	ctx, cancel := context.WithCancel(parent)
	g.gen++
	g.phase = Fetching
	g.cancel = cancel
	return ctx, g.gen, true
}

// finish moves Fetching back to Idle if gen is still current and reports
// whether the result may be applied.
func (g *fetchGuard) finish(gen uint64) bool {
	if g.phase != Fetching || g.gen != gen {
		return false
	}
	g.cancel()
	g.phase = Idle
	g.cancel = nil
	return true
}

// abort cancels the in-flight fetch, if any, and invalidates its generation
func (g *fetchGuard) abort() {
	if g.phase != Fetching {
		return
	}
	g.cancel()
	g.gen++
	g.phase = Idle
	g.cancel = nil
}
