package qcache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-qcache/events"
	"github.com/hashicorp/go-uuid"
	"github.com/imdario/mergo"
)

// MutationFunc performs a write given its variables. It must return
// promptly when ctx is canceled.
type MutationFunc func(ctx context.Context, variables interface{}) (interface{}, error)

// MutationState mirrors QueryState's shape for write operations (§4.7).
type MutationState struct {
	Status       QueryStatus
	Data         interface{}
	HasData      bool
	Error        error
	HasError     bool
	Variables    interface{}
	FailureCount int
	IsPaused     bool
	SubmittedAt  time.Time
}

// MutationOptions configures a Mutation (§4.7).
type MutationOptions struct {
	Fn MutationFunc

	Retry      RetryPolicy
	RetryDelay RetryDelayFunc

	// CacheTime bounds how long a settled Mutation is retained by its
	// MutationCache after execute() completes with no further
	// observers; InfiniteCacheTime disables eviction.
	CacheTime time.Duration

	OnMutate  func(variables interface{})
	OnSuccess func(data interface{}, variables interface{})
	OnError   func(err error, variables interface{})
	OnSettled func(data interface{}, err error, variables interface{})

	Logger hclog.Logger
}

func mergeMutationOptions(base, override MutationOptions) (MutationOptions, error) {
	result := base
	if err := mergo.Merge(&result, override, mergo.WithOverride); err != nil {
		return base, err
	}
	return result, nil
}

// Mutation is the per-invocation write state machine (§4.7). Unlike
// Query, Mutations do not share a keyed slot: the same MutationCache may
// hold many concurrent Mutations built from identical options.
type Mutation struct {
	id     string
	cache  *MutationCache
	logger hclog.Logger

	mux     sync.Mutex
	state   MutationState
	options MutationOptions

	observers *observerSet
	retryer   *Retryer
	execDone  chan struct{}
}

func newMutation(cache *MutationCache, opts MutationOptions) *Mutation {
	id, err := uuid.GenerateUUID()
	if err != nil {
		id = "mutation"
	}
	m := &Mutation{
		id:        id,
		cache:     cache,
		options:   opts,
		observers: newObserverSet(),
		state:     MutationState{Status: StatusIdle},
	}
	if opts.Logger != nil {
		m.logger = opts.Logger
	} else if cache != nil {
		m.logger = cache.logger.With("mutation", id)
	} else {
		m.logger = hclog.NewNullLogger()
	}
	return m
}

// ID returns the Mutation's unique identifier.
func (m *Mutation) ID() string { return m.id }

// State returns a snapshot of the Mutation's current state.
func (m *Mutation) State() MutationState {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.state
}

func (m *Mutation) subscribe(o queryObserverHandle) { m.observers.Add(o) }
func (m *Mutation) unsubscribe(id string)           { m.observers.Remove(id) }

func (m *Mutation) notifyObservers() {
	observers := m.observers.List()
	if len(observers) == 0 || m.cache == nil {
		return
	}
	m.cache.notify.Schedule(func() {
		for _, o := range observers {
			o.onQueryUpdate()
		}
	})
}

// Execute runs the mutation's Fn with variables through a Retryer,
// firing onMutate before and onSuccess/onError/onSettled after, and
// blocks until it settles (§4.7).
func (m *Mutation) Execute(ctx context.Context, variables interface{}) (interface{}, error) {
	m.mux.Lock()
	opts := m.options
	m.state.Status = StatusLoading
	m.state.Variables = variables
	m.state.SubmittedAt = time.Now()
	done := make(chan struct{})
	m.execDone = done
	m.mux.Unlock()

	// finish settles the mutation and closes done so a concurrent
	// awaitPausedResume (ResumePausedMutations) waiting on this exact
	// execution unblocks with its result, instead of starting a second,
	// overlapping Execute.
	finish := func(value interface{}, err error) (interface{}, error) {
		m.settle(value, err, variables)
		m.mux.Lock()
		m.retryer = nil
		if m.execDone == done {
			m.execDone = nil
		}
		m.mux.Unlock()
		close(done)
		return value, err
	}

	if opts.OnMutate != nil {
		opts.OnMutate(variables)
	}
	m.notifyObservers()
	if m.cache != nil {
		m.cache.events.Emit(events.MutationStateChanged{ID: m.id, Status: string(StatusLoading)})
	}

	if opts.Fn == nil {
		return finish(nil, errMutationHasNoFn)
	}

	var isOnline func() bool
	if m.cache != nil {
		isOnline = m.cache.isVisibleAndOnline
	}

	retryer := NewRetryer(RetryerConfig{
		Fn: func(ctx context.Context) (interface{}, error) {
			return opts.Fn(ctx, variables)
		},
		Retry:      opts.Retry,
		RetryDelay: opts.RetryDelay,
		IsOnline:   isOnline,
		OnError: func(err error, failureCount int) {
			m.mux.Lock()
			m.state.FailureCount = failureCount
			m.mux.Unlock()
			m.notifyObservers()
		},
	})

	m.mux.Lock()
	m.retryer = retryer
	m.mux.Unlock()

	value, err := retryer.Run(ctx)
	return finish(value, err)
}

func (m *Mutation) settle(value interface{}, err error, variables interface{}) {
	m.mux.Lock()
	if err == nil {
		m.state.Data = value
		m.state.HasData = true
		m.state.Error = nil
		m.state.HasError = false
		m.state.Status = StatusSuccess
	} else {
		m.state.Error = err
		m.state.HasError = true
		m.state.Status = StatusError
	}
	opts := m.options
	m.mux.Unlock()

	if err == nil {
		if opts.OnSuccess != nil {
			opts.OnSuccess(value, variables)
		}
	} else if opts.OnError != nil {
		opts.OnError(err, variables)
	}
	if opts.OnSettled != nil {
		opts.OnSettled(value, err, variables)
	}
	m.notifyObservers()

	if m.cache != nil {
		m.cache.events.Emit(events.MutationStateChanged{ID: m.id, Status: string(m.state.Status)})
	}
}

// IsPaused reports whether the in-flight execution is currently paused
// by the focus/online bus (§4.7, §4.2).
func (m *Mutation) IsPaused() bool {
	m.mux.Lock()
	retryer := m.retryer
	m.mux.Unlock()
	if retryer == nil {
		return false
	}
	return retryer.IsPaused()
}

// awaitPausedResume resumes this Mutation's paused in-flight Retryer and
// blocks until that original Execute call settles, returning its result.
// Callers (ResumePausedMutations) must use this instead of invoking a
// fresh Execute on a still-paused Mutation, which would start a second
// retryer and orphan the first one's goroutine (§4.2 "bus-driven
// resume", §4.7). Returns (nil, nil) if nothing is in flight.
func (m *Mutation) awaitPausedResume() (interface{}, error) {
	m.mux.Lock()
	retryer := m.retryer
	done := m.execDone
	m.mux.Unlock()
	if retryer == nil || done == nil {
		return nil, nil
	}
	retryer.Resume()
	<-done
	state := m.State()
	return state.Data, state.Error
}

var errMutationHasNoFn = mutationError("qcache: mutation has no function")

type mutationError string

func (e mutationError) Error() string { return string(e) }
