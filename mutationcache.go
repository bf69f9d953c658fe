package qcache

import (
	"context"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
)

// MutationCacheEvent is delivered to MutationCache subscribers.
type MutationCacheEvent struct {
	Type     CacheEventType
	Mutation *Mutation
}

// MutationCache retains Mutation instances (§4.7). Unlike QueryCache it
// has no keyed slot: Build always creates a fresh Mutation, and several
// concurrent Mutations built from identical MutationOptions coexist
// side by side.
type MutationCache struct {
	mux       sync.RWMutex
	byID      map[string]*Mutation
	notify    *NotifyManager
	logger    hclog.Logger
	bus       *Bus
	retention *timerSet
	events    *EventBus

	listenerMux sync.Mutex
	listeners   map[uint64]func(MutationCacheEvent)
	listenerSeq uint64
}

// SetEventBus installs b as the cache's fine-grained event sink.
func (c *MutationCache) SetEventBus(b *EventBus) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.events = b
}

// NewMutationCache constructs an empty MutationCache.
func NewMutationCache(notify *NotifyManager, bus *Bus, logger hclog.Logger) *MutationCache {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &MutationCache{
		byID:      make(map[string]*Mutation),
		notify:    notify,
		bus:       bus,
		logger:    logger.Named("mutationcache"),
		retention: newTimerSet(),
		listeners: make(map[uint64]func(MutationCacheEvent)),
	}
}

func (c *MutationCache) isVisibleAndOnline() bool {
	if c.bus == nil {
		return true
	}
	return c.bus.IsVisibleAndOnline()
}

// Build creates and registers a new Mutation from opts.
func (c *MutationCache) Build(opts MutationOptions) *Mutation {
	m := newMutation(c, opts)
	c.mux.Lock()
	c.byID[m.id] = m
	c.mux.Unlock()
	c.emit(MutationCacheEvent{Type: EventAdded, Mutation: m})
	return m
}

// Mutate builds a Mutation from opts and immediately executes it with
// variables, retaining it afterward per opts.CacheTime (§4.7 "mutate" =
// "build + execute").
func (c *MutationCache) Mutate(ctx context.Context, opts MutationOptions, variables interface{}) (*Mutation, interface{}, error) {
	m := c.Build(opts)
	value, err := m.Execute(ctx, variables)
	c.scheduleRetention(m)
	return m, value, err
}

// Get looks up a Mutation by id.
func (c *MutationCache) Get(id string) (*Mutation, bool) {
	c.mux.RLock()
	defer c.mux.RUnlock()
	m, ok := c.byID[id]
	return m, ok
}

// GetAll returns every retained Mutation.
func (c *MutationCache) GetAll() []*Mutation {
	c.mux.RLock()
	defer c.mux.RUnlock()
	out := make([]*Mutation, 0, len(c.byID))
	for _, m := range c.byID {
		out = append(out, m)
	}
	return out
}

// Remove drops m from the cache.
func (c *MutationCache) Remove(m *Mutation) {
	c.mux.Lock()
	if _, ok := c.byID[m.id]; !ok {
		c.mux.Unlock()
		return
	}
	delete(c.byID, m.id)
	c.mux.Unlock()

	c.retention.Cancel(m.id)
	c.emit(MutationCacheEvent{Type: EventRemoved, Mutation: m})
}

// Clear removes every Mutation.
func (c *MutationCache) Clear() {
	for _, m := range c.GetAll() {
		c.Remove(m)
	}
}

func (c *MutationCache) scheduleRetention(m *Mutation) {
	opts := m.options
	if opts.CacheTime == InfiniteCacheTime {
		return
	}
	cacheTime := opts.CacheTime
	if cacheTime <= 0 {
		cacheTime = DefaultCacheTime
	}
	c.retention.After(m.id, cacheTime, func() {
		if m.observers.Len() == 0 {
			c.Remove(m)
		}
	})
}

// ResumePausedMutations wakes every retained Mutation whose in-flight
// Retryer was paused by offline/backgrounded state, in FIFO order by
// original SubmittedAt (the Open-Question decision recorded in
// DESIGN.md), aggregating any failures with go-multierror (§4.7, §6).
// Each paused Mutation's existing Execute call is resumed and awaited in
// place rather than re-invoked, since starting a second Execute on a
// still-running one would launch a competing retryer and orphan the
// first's goroutine.
func (c *MutationCache) ResumePausedMutations(ctx context.Context) error {
	paused := make([]*Mutation, 0)
	for _, m := range c.GetAll() {
		if m.IsPaused() {
			paused = append(paused, m)
		}
	}
	sort.Slice(paused, func(i, j int) bool {
		return paused[i].State().SubmittedAt.Before(paused[j].State().SubmittedAt)
	})

	var result *multierror.Error
	for _, m := range paused {
		if _, err := m.awaitPausedResume(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Subscribe registers listener for every MutationCache event.
func (c *MutationCache) Subscribe(listener func(MutationCacheEvent)) func() {
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

func (c *MutationCache) emit(ev MutationCacheEvent) {
	c.listenerMux.Lock()
	listeners := make([]func(MutationCacheEvent), 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.listenerMux.Unlock()

	for _, l := range listeners {
		l(ev)
	}
}
