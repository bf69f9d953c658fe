package qcache

import (
	"context"
	"sync"

	"github.com/hashicorp/go-uuid"
)

// MutationResult is the read-only view a MutationObserver's subscriber
// sees (§4.7, symmetric with Result).
type MutationResult struct {
	Data         interface{}
	HasData      bool
	Error        error
	IsIdle       bool
	IsLoading    bool
	IsSuccess    bool
	IsError      bool
	IsPaused     bool
	FailureCount int
	Variables    interface{}
	Status       QueryStatus

	Mutate func(ctx context.Context, variables interface{}) (interface{}, error)
	Reset  func()
}

// MutationObserver bridges one Mutation to a single subscriber, mirroring
// QueryObserver (§4.7).
type MutationObserver struct {
	observerID string
	cache      *MutationCache
	opts       MutationOptions

	mux      sync.Mutex
	mutation *Mutation

	listenerMux sync.Mutex
	listener    func(MutationResult)
}

// NewMutationObserver builds an observer bound to cache and opts, building
// its Mutation in cache right away and subscribing to it.
func NewMutationObserver(cache *MutationCache, opts MutationOptions) *MutationObserver {
	id, err := uuid.GenerateUUID()
	if err != nil {
		id = "mutation-observer"
	}
	o := &MutationObserver{observerID: id, cache: cache, opts: opts}
	o.mutation = cache.Build(opts)
	o.mutation.subscribe(o)
	return o
}

func (o *MutationObserver) id() string { return o.observerID }

func (o *MutationObserver) onQueryUpdate() {
	o.listenerMux.Lock()
	listener := o.listener
	o.listenerMux.Unlock()
	if listener != nil {
		listener(o.computeResult())
	}
}

// Subscribe registers listener to receive MutationResult updates,
// calling it once immediately.
func (o *MutationObserver) Subscribe(listener func(MutationResult)) func() {
	o.listenerMux.Lock()
	o.listener = listener
	o.listenerMux.Unlock()

	listener(o.computeResult())

	return func() {
		o.listenerMux.Lock()
		o.listener = nil
		o.listenerMux.Unlock()
	}
}

func (o *MutationObserver) computeResult() MutationResult {
	m := o.currentMutation()
	s := m.State()
	return MutationResult{
		Data:         s.Data,
		HasData:      s.HasData,
		Error:        s.Error,
		IsIdle:       s.Status == StatusIdle,
		IsLoading:    s.Status == StatusLoading,
		IsSuccess:    s.Status == StatusSuccess,
		IsError:      s.Status == StatusError,
		IsPaused:     m.IsPaused(),
		FailureCount: s.FailureCount,
		Variables:    s.Variables,
		Status:       s.Status,
		Mutate:       o.Mutate,
		Reset:        o.Reset,
	}
}

// Mutate executes the observer's Mutation with variables (§4.7).
func (o *MutationObserver) Mutate(ctx context.Context, variables interface{}) (interface{}, error) {
	m := o.currentMutation()
	value, err := m.Execute(ctx, variables)
	o.cache.scheduleRetention(m)
	return value, err
}

// Reset discards the current Mutation and builds a fresh idle one,
// dropping any settled data/error (§4.7, symmetric with Query.Reset).
func (o *MutationObserver) Reset() {
	o.mux.Lock()
	old := o.mutation
	fresh := o.cache.Build(o.opts)
	fresh.subscribe(o)
	o.mutation = fresh
	o.mux.Unlock()

	old.unsubscribe(o.observerID)
	o.onQueryUpdate()
}

// Remove unsubscribes the observer from its current Mutation.
func (o *MutationObserver) Remove() {
	m := o.currentMutation()
	m.unsubscribe(o.observerID)
}

func (o *MutationObserver) currentMutation() *Mutation {
	o.mux.Lock()
	defer o.mux.Unlock()
	return o.mutation
}
