package realtime

import (
	"sort"
	"sync"
	"time"

	v1 "chatline/shared/contracts/presence/v1"
)

// Entry is the last known presence of one user.
// LastSeen is nil when the server never sent a timestamp.
type Entry struct {
	UserID   int64
	Status   v1.Status
	LastSeen *time.Time
}

// Online reports whether the entry's status is online.
func (e Entry) Online() bool {
	return e.Status == v1.StatusOnline
}

func entryFromRecord(r v1.StatusRecord) Entry {
	e := Entry{UserID: r.UserID, Status: r.Status}
	if r.LastSeen != nil {
		ts := r.LastSeen.UTC()
		e.LastSeen = &ts
	}
	return e
}

// Cache is the in-memory view of contacts' presence.
//
// Reads are safe from any goroutine. Writes happen only through the Channel
// that owns the cache.
type Cache struct {
	mu      sync.RWMutex
	entries map[int64]Entry

	now    func() time.Time
	locale Locale
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock replaces time.Now for Describe.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLocale selects the language of Describe.
func WithLocale(l Locale) CacheOption {
	return func(c *Cache) {
		c.locale = l
	}
}

// NewCache returns an empty cache.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		entries: make(map[int64]Entry),
		now:     time.Now,
		locale:  LocaleEN,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Get returns the entry for userID.
func (c *Cache) Get(userID int64) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[userID]
	if ok && e.LastSeen != nil {
		ts := *e.LastSeen
		e.LastSeen = &ts
	}
	return e, ok
}

// IsOnline reports whether userID is known to be online.
func (c *Cache) IsOnline(userID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[userID].Online()
}

// Describe renders a human-readable "last seen" string for userID at the current time.
func (c *Cache) Describe(userID int64) string {
	e, ok := c.Get(userID)
	return DescribeEntry(e, ok, c.now(), c.locale)
}

// Len returns the number of known users.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns every entry ordered by user id.
func (c *Cache) Snapshot() []Entry {
	c.mu.RLock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (c *Cache) upsert(r v1.StatusRecord) Entry {
	e := entryFromRecord(r)
	c.mu.Lock()
	c.entries[e.UserID] = e
	c.mu.Unlock()
	return e
}

// upsertMany applies records in order, so a later duplicate wins.
func (c *Cache) upsertMany(recs []v1.StatusRecord) []Entry {
	out := make([]Entry, 0, len(recs))
	c.mu.Lock()
	for _, r := range recs {
		e := entryFromRecord(r)
		c.entries[e.UserID] = e
		out = append(out, e)
	}
	c.mu.Unlock()
	return out
}

func (c *Cache) clear() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}
