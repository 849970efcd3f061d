// Package cache holds upstream Photos responses in memory, partitioned by
// user. Entries expire after a TTL and the store is capped at a fixed number
// of entries, evicting in insertion order.
package cache

import (
	"container/list"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	DefaultTTL           = 5 * time.Minute
	DefaultMaxEntries    = 1000
	DefaultSweepInterval = 10 * time.Minute
)

// Options configures a Cache. Zero values take the defaults.
type Options struct {
	TTL           time.Duration
	MaxEntries    int
	SweepInterval time.Duration
	Now           func() time.Time
	Logger        *slog.Logger
}

type entry struct {
	key       string
	user      string
	value     any
	createdAt time.Time
	expiresAt time.Time
}

// Stats is a point-in-time summary of the cache.
type Stats struct {
	TotalEntries      int   `json:"totalEntries"`
	ExpiredEntries    int   `json:"expiredEntries"`
	AverageAgeSeconds int64 `json:"averageAge"`
	MaxEntries        int   `json:"maxSize"`
	TTLSeconds        int64 `json:"ttlSeconds"`
}

// Cache is a TTL cache with FIFO eviction. It is safe for concurrent use.
type Cache struct {
	ttl           time.Duration
	maxEntries    int
	sweepInterval time.Duration
	now           func() time.Time
	logger        *slog.Logger

	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List
	// generations counts invalidations per escaped user id.
	generations map[string]uint64

	stopCh   chan struct{}
	stopOnce sync.Once
	started  bool
}

// New creates a Cache. Call Start to run the background sweep.
func New(opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Cache{
		ttl:           opts.TTL,
		maxEntries:    opts.MaxEntries,
		sweepInterval: opts.SweepInterval,
		now:           opts.Now,
		logger:        opts.Logger,
		items:         make(map[string]*list.Element),
		order:         list.New(),
		generations:   make(map[string]uint64),
		stopCh:        make(chan struct{}),
	}
}

// TTL returns the default entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the value for key. Expired entries are removed and reported as a miss.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if c.now().After(e.expiresAt) {
		c.removeElement(el)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with the default TTL.
func (c *Cache) Set(key string, value any) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value under key. Overwriting keeps the key's insertion
// position. Adding a new key to a full cache evicts the oldest-inserted entry.
func (c *Cache) SetWithTTL(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value, ttl)
}

// Generation returns the invalidation generation of the user that owns key.
// Pass it to SetIfGeneration to store a value loaded after this call.
func (c *Cache) Generation(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[userComponent(key)]
}

// SetIfGeneration stores value like SetWithTTL unless the key's user was
// invalidated since gen was read. It reports whether the value was stored.
func (c *Cache) SetIfGeneration(key string, value any, ttl time.Duration, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[userComponent(key)] != gen {
		return false
	}
	c.setLocked(key, value, ttl)
	return true
}

func (c *Cache) setLocked(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.now()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.createdAt = now
		e.expiresAt = now.Add(ttl)
		return
	}

	for c.order.Len() >= c.maxEntries {
		c.removeElement(c.order.Front())
	}
	el := c.order.PushBack(&entry{
		key:       key,
		user:      userComponent(key),
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
	})
	c.items[key] = el
}

// Delete removes key and reports whether it was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if ok {
		c.removeElement(el)
	}
	return ok
}

// InvalidateUser removes every entry whose key belongs to userID and returns
// how many were removed. Loads for the user already in flight are not stored
// if they use SetIfGeneration.
func (c *Cache) InvalidateUser(userID string) int {
	want := escape(userID)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[want]++

	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*entry).user == want {
			c.removeElement(el)
			removed++
		}
		el = next
	}
	if removed > 0 {
		c.logger.Info("invalidated cached photos data", "entries", removed)
	}
	return removed
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Sweep removes expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if now.After(el.Value.(*entry).expiresAt) {
			c.removeElement(el)
			removed++
		}
		el = next
	}
	return removed
}

// Stats summarizes the cache contents.
func (c *Cache) Stats() Stats {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		TotalEntries: c.order.Len(),
		MaxEntries:   c.maxEntries,
		TTLSeconds:   int64(c.ttl / time.Second),
	}
	var totalAge time.Duration
	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if now.After(e.expiresAt) {
			s.ExpiredEntries++
		}
		totalAge += now.Sub(e.createdAt)
	}
	if s.TotalEntries > 0 {
		s.AverageAgeSeconds = int64((totalAge / time.Duration(s.TotalEntries)).Round(time.Second) / time.Second)
	}
	return s
}

// Start launches the periodic sweep. It is a no-op if already started.
func (c *Cache) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					c.logger.Debug("cache sweep", "removed", n)
				}
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop ends the periodic sweep. It is safe to call more than once.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// caller holds c.mu
func (c *Cache) removeElement(el *list.Element) {
	e := c.order.Remove(el).(*entry)
	delete(c.items, e.key)
}

// Key builds the cache key for a resource type, user and parameter set.
// Components are escaped so ':' only ever separates them, and params are
// sorted by name so equivalent requests share a key.
func Key(resourceType, userID string, params map[string]string) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, escape(name)+"="+escape(params[name]))
	}
	return escape(resourceType) + ":" + escape(userID) + ":" + strings.Join(pairs, "&")
}

func escape(s string) string {
	return url.QueryEscape(s)
}

func userComponent(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[1]
}
