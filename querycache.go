package qcache

import (
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/hashicorp/go-qcache/events"
	"github.com/ryanuber/go-glob"
)

// CacheEventType classifies a CacheEvent (§4.4 "listener receives
// {type, query}").
type CacheEventType string

const (
	EventAdded   CacheEventType = "added"
	EventRemoved CacheEventType = "removed"
	EventUpdated CacheEventType = "updated"
)

// CacheEvent is delivered to QueryCache subscribers.
type CacheEvent struct {
	Type  CacheEventType
	Query *Query
}

// Filters narrows QueryCache.Find/FindAll, all combined with AND (§4.4).
type Filters struct {
	// Exact requires hash equality rather than array-key-prefix partial
	// match.
	Exact bool

	// Active, if non-nil, requires (when true) or forbids (when false)
	// the query having at least one observer with Enabled != false.
	Active *bool

	// Stale, if non-nil, requires/forbids Query.IsStale().
	Stale *bool

	// Fetching, if non-nil, requires/forbids Query.IsFetching().
	Fetching *bool

	// Predicate, if set, must return true for the query to match.
	Predicate func(q *Query) bool

	// KeyGlob, if non-empty, is matched against the query's canonical
	// hash with github.com/ryanuber/go-glob (SPEC_FULL.md §10.5).
	KeyGlob string

	// Expr, if non-empty, is a go-bexpr boolean expression evaluated
	// against a flattened view of the query (filter_expr.go,
	// SPEC_FULL.md §10.5).
	Expr string
}

// QueryCache is the keyed store of Query entries (§4.4).
type QueryCache struct {
	mux    sync.RWMutex
	byHash map[string]*Query
	prefix *iradix.Tree // secondary index: joined string segments -> hash

	notify    *NotifyManager
	logger    hclog.Logger
	bus       *Bus
	retention *timerSet
	metrics   *Metrics
	events    *EventBus

	listenerMux sync.Mutex
	listeners   map[uint64]func(CacheEvent)
	listenerSeq uint64
}

// NewQueryCache constructs an empty QueryCache. notify and bus may be
// shared with a sibling MutationCache via the same Client.
func NewQueryCache(notify *NotifyManager, bus *Bus, logger hclog.Logger) *QueryCache {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &QueryCache{
		byHash:    make(map[string]*Query),
		prefix:    iradix.New(),
		notify:    notify,
		bus:       bus,
		logger:    logger.Named("querycache"),
		retention: newTimerSet(),
		listeners: make(map[uint64]func(CacheEvent)),
	}
}

// SetMetrics installs m as the cache's metrics sink; a nil Metrics (the
// default) makes every counter call a no-op.
func (c *QueryCache) SetMetrics(m *Metrics) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.metrics = m
}

// SetEventBus installs b as the cache's (and every Query it builds
// henceforth) fine-grained event sink.
func (c *QueryCache) SetEventBus(b *EventBus) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.events = b
}

// Metrics returns the cache's currently installed Metrics sink, if any.
func (c *QueryCache) Metrics() *Metrics {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return c.metrics
}

func (c *QueryCache) isVisibleAndOnline() bool {
	if c.bus == nil {
		return true
	}
	return c.bus.IsVisibleAndOnline()
}

// Build returns the Query for key, creating and inserting one if absent
// (§4.4 "build"). If a Query already exists, its options are updated with
// override and the existing instance is returned (never two Querys for
// the same hash, §8 property 1).
func (c *QueryCache) Build(key Key, override QueryOptions) *Query {
	hash := Hash(key)

	c.mux.Lock()
	if q, ok := c.byHash[hash]; ok {
		c.mux.Unlock()
		c.metrics.IncrCacheHit()
		_ = q.UpdateOptions(override)
		return q
	}
	c.metrics.IncrCacheMiss()

	q := newQuery(c, key, hash, override)
	c.byHash[hash] = q
	if segs, ok := plainStringSegments(q.segs, key); ok {
		c.prefix, _, _ = c.prefix.Insert([]byte(radixKey(segs)), hash)
	}
	c.mux.Unlock()

	c.logger.Debug("query added", "hash", hash)
	c.emit(CacheEvent{Type: EventAdded, Query: q})
	c.events.Emit(events.QueryAdded{Hash: hash})
	c.scheduleRetention(q)
	return q
}

// Get looks up a Query by its canonical hash.
func (c *QueryCache) Get(hash string) (*Query, bool) {
	c.mux.RLock()
	defer c.mux.RUnlock()
	q, ok := c.byHash[hash]
	return q, ok
}

// GetAll returns every Query currently in the cache, in unspecified order.
func (c *QueryCache) GetAll() []*Query {
	c.mux.RLock()
	defer c.mux.RUnlock()
	out := make([]*Query, 0, len(c.byHash))
	for _, q := range c.byHash {
		out = append(out, q)
	}
	return out
}

// Find returns the first Query matching key and filters.
func (c *QueryCache) Find(key Key, filters Filters) (*Query, bool) {
	all := c.FindAll(key, filters)
	if len(all) == 0 {
		return nil, false
	}
	return all[0], true
}

// FindAll returns every Query matching key (nil key matches all) and
// filters (§4.4 Filters / partial-match semantics).
func (c *QueryCache) FindAll(key Key, filters Filters) []*Query {
	candidates := c.candidatesFor(key, filters.Exact)

	out := make([]*Query, 0, len(candidates))
	for _, q := range candidates {
		if key != nil && !filters.Exact && !keyPrefixMatch(key, q.key) {
			continue
		}
		if key != nil && filters.Exact && q.hash != Hash(key) {
			continue
		}
		if !matchesFilters(q, filters) {
			continue
		}
		out = append(out, q)
	}
	return out
}

// candidatesFor returns a reduced candidate set using the radix prefix
// index when key is a plain string/string-sequence (the common case);
// it falls back to a full scan otherwise. Queries whose own key is not a
// plain string sequence are never in the index, so they are always added
// as candidates and correctness never depends on the accelerator
// (SPEC_FULL.md §10.5).
func (c *QueryCache) candidatesFor(key Key, exact bool) []*Query {
	c.mux.RLock()
	defer c.mux.RUnlock()

	segs, ok := plainStringSegmentsOfKey(key)
	if !ok || exact {
		out := make([]*Query, 0, len(c.byHash))
		for _, q := range c.byHash {
			out = append(out, q)
		}
		return out
	}

	var out []*Query
	c.prefix.Root().WalkPrefix([]byte(radixKey(segs)), func(k []byte, v interface{}) bool {
		hash := v.(string)
		if q, ok := c.byHash[hash]; ok {
			out = append(out, q)
		}
		return false
	})
	for _, q := range c.byHash {
		if _, indexed := plainStringSegmentsOfKey(q.key); !indexed {
			out = append(out, q)
		}
	}
	return out
}

func matchesFilters(q *Query, f Filters) bool {
	if f.Active != nil {
		active := false
		for _, o := range q.observers.List() {
			if qo, ok := o.(*QueryObserver); ok && !qo.currentOptions().enabled() {
				continue
			}
			active = true
			break
		}
		if active != *f.Active {
			return false
		}
	}
	if f.Stale != nil && q.IsStale() != *f.Stale {
		return false
	}
	if f.Fetching != nil && q.IsFetching() != *f.Fetching {
		return false
	}
	if f.KeyGlob != "" && !glob.Glob(f.KeyGlob, q.hash) {
		return false
	}
	if f.Expr != "" {
		ok, err := evalFilterExpr(f.Expr, q)
		if err != nil || !ok {
			return false
		}
	}
	if f.Predicate != nil && !f.Predicate(q) {
		return false
	}
	return true
}

// Remove detaches and drops q from the cache (§4.4 "remove").
func (c *QueryCache) Remove(q *Query) {
	c.mux.Lock()
	if _, ok := c.byHash[q.hash]; !ok {
		c.mux.Unlock()
		return
	}
	delete(c.byHash, q.hash)
	if segs, ok := plainStringSegments(q.segs, q.key); ok {
		c.prefix, _, _ = c.prefix.Delete([]byte(radixKey(segs)))
	}
	c.mux.Unlock()

	c.retention.Cancel(q.hash)
	q.Cancel(CancelOptions{Revert: true, Silent: true})
	q.detach()
	c.logger.Debug("query removed", "hash", q.hash)
	c.emit(CacheEvent{Type: EventRemoved, Query: q})
	c.events.Emit(events.QueryRemoved{Hash: q.hash})
}

// Clear removes every Query.
func (c *QueryCache) Clear() {
	for _, q := range c.GetAll() {
		c.Remove(q)
	}
}

// Subscribe registers listener for every cache event; the returned func
// unsubscribes it.
func (c *QueryCache) Subscribe(listener func(CacheEvent)) func() {
	c.listenerMux.Lock()
	id := c.listenerSeq
	c.listenerSeq++
	c.listeners[id] = listener
	c.listenerMux.Unlock()

	return func() {
		c.listenerMux.Lock()
		delete(c.listeners, id)
		c.listenerMux.Unlock()
	}
}

func (c *QueryCache) emit(ev CacheEvent) {
	c.listenerMux.Lock()
	listeners := make([]func(CacheEvent), 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.listenerMux.Unlock()

	for _, l := range listeners {
		l(ev)
	}
}

func (c *QueryCache) notifyUpdated(q *Query) {
	c.emit(CacheEvent{Type: EventUpdated, Query: q})
}

func (c *QueryCache) scheduleRetention(q *Query) {
	opts := q.Options()
	if opts.CacheTime == InfiniteCacheTime {
		return
	}
	cacheTime := opts.CacheTime
	if cacheTime <= 0 {
		cacheTime = DefaultCacheTime
	}
	c.retention.After(q.hash, cacheTime, func() {
		if q.ObserverCount() == 0 {
			c.Remove(q)
		}
	})
}

func (c *QueryCache) cancelRetention(hash string) {
	c.retention.Cancel(hash)
}

// refetchObserverHandle is the subset of *QueryObserver the cache needs
// for focus/online revalidation (§4.4 "onFocus"/"onOnline", §4.5).
type refetchObserverHandle interface {
	maybeRefetchOnFocus()
	maybeRefetchOnReconnect()
}

// OnFocus wakes any paused in-flight retry on every query and asks each
// active query's observers whether they want to refetch on window focus
// (§4.2 "bus-driven resume", §4.4 "onFocus").
func (c *QueryCache) OnFocus() {
	for _, q := range c.GetAll() {
		q.resumePausedRetry()
		for _, o := range q.observers.List() {
			if h, ok := o.(refetchObserverHandle); ok {
				h.maybeRefetchOnFocus()
			}
		}
	}
}

// OnOnline wakes any paused in-flight retry on every query and asks each
// active query's observers whether they want to refetch on reconnect
// (§4.2 "bus-driven resume", §4.4 "onOnline").
func (c *QueryCache) OnOnline() {
	for _, q := range c.GetAll() {
		q.resumePausedRetry()
		for _, o := range q.observers.List() {
			if h, ok := o.(refetchObserverHandle); ok {
				h.maybeRefetchOnReconnect()
			}
		}
	}
}

// plainStringSegments reports whether key is a bare string or a sequence
// whose every element is a string, making it eligible for the radix
// accelerator, and returns those strings as segments. It decides from key
// alone; the precomputed segs are not consulted.
func plainStringSegments(segs []string, key Key) ([]string, bool) {
	return plainStringSegmentsOfKey(key)
}

func plainStringSegmentsOfKey(key Key) ([]string, bool) {
	switch t := key.(type) {
	case nil:
		return nil, false
	case string:
		return []string{t}, true
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, el := range t {
			s, ok := el.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func radixKey(segs []string) string {
	return strings.Join(segs, "\x00") + "\x00"
}
