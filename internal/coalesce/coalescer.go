package coalesce

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Turn is one coalesced unit of customer input, ready for routing.
type Turn struct {
	ID        string
	SenderKey string
	Text      string
	At        time.Time
}

// Handler processes a completed turn. It runs on the timer goroutine.
type Handler func(turn Turn)

// Coalescer buffers rapid consecutive fragments from the same sender into a
// single turn. Within one quiet window the latest fragment supersedes earlier
// ones; only the final message of a burst is authoritative.
type Coalescer struct {
	mu      sync.Mutex
	window  time.Duration
	handler Handler
	pending map[string]*pendingTurn
}

type pendingTurn struct {
	text  string
	timer *time.Timer
}

func New(window time.Duration, handler Handler) *Coalescer {
	if window <= 0 {
		window = 6 * time.Second
	}
	return &Coalescer{
		window:  window,
		handler: handler,
		pending: make(map[string]*pendingTurn),
	}
}

// Submit records a fragment for a sender. A fragment arriving while a quiet
// window is open for that sender resets the timer and replaces the buffered
// text; it never spawns a second timer.
func (c *Coalescer) Submit(senderKey, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.pending[senderKey]; ok {
		entry.timer.Stop()
		entry.text = text
		entry.timer = c.schedule(senderKey)
		return
	}

	c.pending[senderKey] = &pendingTurn{
		text:  text,
		timer: c.schedule(senderKey),
	}
}

// PendingCount returns the number of senders with an open quiet window.
func (c *Coalescer) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Coalescer) schedule(senderKey string) *time.Timer {
	return time.AfterFunc(c.window, func() {
		c.mu.Lock()
		entry, ok := c.pending[senderKey]
		if ok {
			delete(c.pending, senderKey)
		}
		c.mu.Unlock()

		if !ok || c.handler == nil {
			return
		}
		c.fire(Turn{
			ID:        uuid.NewString(),
			SenderKey: senderKey,
			Text:      entry.text,
			At:        time.Now(),
		})
	})
}

// fire invokes the handler. The pending entry is already cleared, so a handler
// panic can never leave the sender permanently blocked.
func (c *Coalescer) fire(turn Turn) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("turn handler panicked", "sender", turn.SenderKey, "panic", r)
		}
	}()
	c.handler(turn)
}
