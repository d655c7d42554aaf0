package coalesce

import (
	"sync"
	"time"
)

// Dedup prevents duplicate processing of redelivered messages using a TTL cache
// keyed by transport message ID.
type Dedup struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	ttl   time.Duration
	stop  chan struct{}
	once  sync.Once
}

func NewDedup(ttl time.Duration) *Dedup {
	if ttl <= 0 {
		ttl = time.Minute
	}
	d := &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		stop: make(chan struct{}),
	}
	go d.cleanupLoop()
	return d
}

// Seen returns true if this message ID was observed within the TTL.
// A fresh ID is recorded and reported as unseen.
func (d *Dedup) Seen(messageID string) bool {
	if messageID == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[messageID]; ok {
		return true
	}
	d.seen[messageID] = time.Now()
	return false
}

// Close stops the background cleanup goroutine.
func (d *Dedup) Close() {
	d.once.Do(func() { close(d.stop) })
}

func (d *Dedup) cleanupLoop() {
	ticker := time.NewTicker(d.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.mu.Lock()
			cutoff := time.Now().Add(-d.ttl)
			for k, t := range d.seen {
				if t.Before(cutoff) {
					delete(d.seen, k)
				}
			}
			d.mu.Unlock()
		}
	}
}
