package chat

import (
	"strconv"
	"time"

	"tennismatch/models"
)

// InitialFirstItemIndex is the pagination anchor of a fresh window. It leaves
// room to prepend older pages without going negative.
const InitialFirstItemIndex = 100000

// Window is the rendered state of one conversation
type Window struct {
	Messages       []models.ChatMessage
	FirstItemIndex int
	HasMore        bool
	Failed         bool // initial history load failed
}

// NewWindow returns an empty window with the initial anchor
func NewWindow() Window {
	return Window{FirstItemIndex: InitialFirstItemIndex}
}

// Event is one input to Reduce
type Event interface {
	isEvent()
}

// SendRequested appends the optimistic echo of a local send
type SendRequested struct {
	CorrelationID string
	Text          string
	SentAt        time.Time
}

// SendConfirmed carries the server copy of a locally sent message
type SendConfirmed struct {
	CorrelationID string
	Message       models.ChatMessage
}

// SendFailed retracts a pending echo
type SendFailed struct {
	CorrelationID string
}

// MessageReceived is any inbound message, pushed or returned by REST
type MessageReceived struct {
	Message models.ChatMessage
}

// HistoryLoaded replaces the window with the newest page
type HistoryLoaded struct {
	Messages []models.ChatMessage
	PageSize int
	Failed   bool
}

// PagePrepended adds an older page in front of the window
type PagePrepended struct {
	Messages []models.ChatMessage
	PageSize int
	Failed   bool
}

func (SendRequested) isEvent()   {}
func (SendConfirmed) isEvent()   {}
func (SendFailed) isEvent()      {}
func (MessageReceived) isEvent() {}
func (HistoryLoaded) isEvent()   {}
func (PagePrepended) isEvent()   {}

// Reduce returns the window that results from applying e to w. It never
// mutates w.
func Reduce(w Window, e Event) Window {
	switch e := e.(type) {
	case SendRequested:
		msg := models.ChatMessage{
			ID:            models.PendingID(e.CorrelationID),
			From:          models.FromMe,
			Text:          e.Text,
			SentAt:        e.SentAt,
			CorrelationID: e.CorrelationID,
		}
		if indexOfCorrelation(w.Messages, e.CorrelationID) >= 0 {
			return w
		}
		return w.with(appendCopy(w.Messages, msg))

	case SendConfirmed:
		msg := e.Message
		if msg.CorrelationID == "" {
			msg.CorrelationID = e.CorrelationID
		}
		return reconcile(w, msg)

	case SendFailed:
		i := indexOfCorrelation(w.Messages, e.CorrelationID)
		if i < 0 || !w.Messages[i].Pending() {
			return w
		}
		out := make([]models.ChatMessage, 0, len(w.Messages)-1)
		out = append(out, w.Messages[:i]...)
		out = append(out, w.Messages[i+1:]...)
		return w.with(out)

	case MessageReceived:
		return reconcile(w, e.Message)

	case HistoryLoaded:
		next := NewWindow()
		next.Failed = e.Failed
		if !e.Failed {
			next.Messages = appendCopy(nil, e.Messages...)
			next.HasMore = e.PageSize > 0 && len(e.Messages) >= e.PageSize
		}
		// keep what arrived or was sent while the page was loading
		for _, m := range w.Messages {
			if indexOfID(next.Messages, m.ID) < 0 && indexOfCorrelation(next.Messages, m.CorrelationID) < 0 {
				next.Messages = append(next.Messages, m)
			}
		}
		return next

	case PagePrepended:
		next := w
		if e.Failed || len(e.Messages) == 0 {
			next.HasMore = false
			return next
		}
		out := make([]models.ChatMessage, 0, len(e.Messages)+len(w.Messages))
		for _, m := range e.Messages {
			if indexOfID(w.Messages, m.ID) < 0 {
				out = append(out, m)
			}
		}
		added := len(out)
		out = append(out, w.Messages...)
		next.Messages = out
		next.FirstItemIndex = w.FirstItemIndex - added
		if len(e.Messages) < e.PageSize {
			next.HasMore = false
		}
		return next
	}
	return w
}

// reconcile places an inbound message. A correlation id match wins, then the
// newest pending echo of mine with the same text, then a known server id;
// anything else is appended.
func reconcile(w Window, msg models.ChatMessage) Window {
	if msg.CorrelationID != "" {
		if i := indexOfCorrelation(w.Messages, msg.CorrelationID); i >= 0 {
			return w.with(place(w.Messages, i, msg))
		}
	}
	if msg.From == models.FromMe && msg.CorrelationID == "" {
		for i := len(w.Messages) - 1; i >= 0; i-- {
			m := w.Messages[i]
			if m.From == models.FromMe && m.Pending() && m.Text == msg.Text {
				return w.with(place(w.Messages, i, msg))
			}
		}
	}
	if !msg.Pending() {
		if i := indexOfID(w.Messages, msg.ID); i >= 0 {
			return w.with(replaceAt(w.Messages, i, msg))
		}
	}
	return w.with(appendCopy(w.Messages, msg))
}

func (w Window) with(messages []models.ChatMessage) Window {
	w.Messages = messages
	return w
}

func indexOfCorrelation(msgs []models.ChatMessage, cid string) int {
	if cid == "" {
		return -1
	}
	for i, m := range msgs {
		if m.CorrelationID == cid {
			return i
		}
	}
	return -1
}

func indexOfID(msgs []models.ChatMessage, id string) int {
	for i, m := range msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func replaceAt(msgs []models.ChatMessage, i int, msg models.ChatMessage) []models.ChatMessage {
	out := appendCopy(nil, msgs...)
	out[i] = msg
	return out
}

// place replaces msgs[i] with msg and drops any other copy of msg's server id,
// which exists when the same message already arrived on the other channel.
func place(msgs []models.ChatMessage, i int, msg models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(msgs))
	for j, m := range msgs {
		switch {
		case j == i:
			out = append(out, msg)
		case !msg.Pending() && m.ID == msg.ID:
		default:
			out = append(out, m)
		}
	}
	return out
}

func appendCopy(msgs []models.ChatMessage, more ...models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(msgs)+len(more))
	out = append(out, msgs...)
	return append(out, more...)
}

// OldestServerID is the smallest server-assigned id in the window, used as the
// before_id cursor for older pages.
func (w Window) OldestServerID() (int64, bool) {
	var oldest int64
	found := false
	for _, m := range w.Messages {
		if m.Pending() {
			continue
		}
		id, err := strconv.ParseInt(m.ID, 10, 64)
		if err != nil {
			continue
		}
		if !found || id < oldest {
			oldest, found = id, true
		}
	}
	return oldest, found
}
