// Package contacts keeps a time-bounded mirror of the business's external
// directory so inbound customers are saved once and only once. Sync is
// best-effort: it never blocks message delivery.
package contacts

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultTTL is how long a fetched directory snapshot is trusted.
const DefaultTTL = 15 * time.Minute

// Directory is the external contact directory collaborator. ListContacts
// returns every stored phone number (paginated internally by the adapter).
type Directory interface {
	ListContacts(ctx context.Context, businessID string) ([]string, error)
	CreateContact(ctx context.Context, businessID, name, number string) error
}

// Flags is the secondary "already recorded" marker kept alongside the user
// record. It survives cache expiry and avoids re-creates across restarts.
type Flags interface {
	Recorded(ctx context.Context, phone string) (bool, error)
	MarkRecorded(ctx context.Context, phone string, recorded bool) error
}

type entry struct {
	numbers map[string]struct{} // normalized 10-digit identifiers
	fetched time.Time
}

// Cache is the per-business contact set with TTL-based resync.
type Cache struct {
	directory Directory
	flags     Flags
	ttl       time.Duration
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	locks   map[string]*sync.Mutex // businessID → serializes sync + create
}

func NewCache(directory Directory, flags Flags, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		directory: directory,
		flags:     flags,
		ttl:       ttl,
		now:       time.Now,
		entries:   make(map[string]*entry),
		locks:     make(map[string]*sync.Mutex),
	}
}

// Normalize reduces a phone number to its last 10 digits, the identifier used
// throughout the cache.
func Normalize(number string) string {
	digits := make([]byte, 0, len(number))
	for _, c := range []byte(number) {
		if c >= '0' && c <= '9' {
			digits = append(digits, c)
		}
	}
	if len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}
	return string(digits)
}

// EnsureKnown makes sure the number exists in the business directory, creating
// it at most once. All failures are logged and swallowed.
func (c *Cache) EnsureKnown(ctx context.Context, businessID, name, number string) {
	num10 := Normalize(number)
	if num10 == "" {
		return
	}

	lock := c.businessLock(businessID)
	lock.Lock()
	defer lock.Unlock()

	set, ok := c.freshSet(ctx, businessID)
	if !ok {
		return // resync failed, try again next turn
	}

	if _, inDirectory := set[num10]; inDirectory {
		c.markRecorded(ctx, number, num10)
		return
	}
	if c.alreadyRecorded(ctx, number) {
		// Flagged on a previous sync; the snapshot may simply be behind.
		return
	}

	if err := c.directory.CreateContact(ctx, businessID, name, number); err != nil {
		slog.Warn("contact create failed", "business", businessID, "number", num10, "error", err)
		return
	}

	// Optimistic add: a near-simultaneous call within the TTL window must not
	// double-create.
	set[num10] = struct{}{}
	c.markRecorded(ctx, number, num10)
	slog.Info("contact created", "business", businessID, "number", num10, "name", name)
}

// Warm refreshes the directory snapshot if it is stale. Used by the periodic
// cache-warm job.
func (c *Cache) Warm(ctx context.Context, businessID string) {
	lock := c.businessLock(businessID)
	lock.Lock()
	defer lock.Unlock()
	c.freshSet(ctx, businessID)
}

// Known reports whether a number is in the current snapshot without refreshing.
func (c *Cache) Known(businessID, number string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[businessID]
	if e == nil {
		return false
	}
	_, ok := e.numbers[Normalize(number)]
	return ok
}

// freshSet returns the live contact set, resyncing from the directory when the
// entry is absent or older than the TTL. The caller holds the business lock.
func (c *Cache) freshSet(ctx context.Context, businessID string) (map[string]struct{}, bool) {
	c.mu.Lock()
	e := c.entries[businessID]
	c.mu.Unlock()

	now := c.now()
	if e != nil && now.Sub(e.fetched) < c.ttl {
		return e.numbers, true
	}

	numbers, err := c.directory.ListContacts(ctx, businessID)
	if err != nil {
		slog.Warn("contact directory resync failed", "business", businessID, "error", err)
		return nil, false
	}

	set := make(map[string]struct{}, len(numbers))
	for _, n := range numbers {
		if n10 := Normalize(n); n10 != "" {
			set[n10] = struct{}{}
		}
	}

	c.mu.Lock()
	c.entries[businessID] = &entry{numbers: set, fetched: now}
	c.mu.Unlock()

	slog.Info("contact directory synced", "business", businessID, "contacts", len(set))
	return set, true
}

func (c *Cache) markRecorded(ctx context.Context, number, num10 string) {
	if c.flags == nil {
		return
	}
	if err := c.flags.MarkRecorded(ctx, number, true); err != nil {
		slog.Warn("contact flag update failed", "number", num10, "error", err)
	}
}

func (c *Cache) alreadyRecorded(ctx context.Context, number string) bool {
	if c.flags == nil {
		return false
	}
	recorded, err := c.flags.Recorded(ctx, number)
	if err != nil {
		return false
	}
	return recorded
}

func (c *Cache) businessLock(businessID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.locks[businessID]; ok {
		return m
	}
	m := &sync.Mutex{}
	c.locks[businessID] = m
	return m
}
