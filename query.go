package qcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-qcache/events"
	"github.com/imdario/mergo"
)

// QueryStatus is one of the four states a Query's state machine may be in
// (§3, §4.3).
type QueryStatus string

const (
	StatusIdle    QueryStatus = "idle"
	StatusLoading QueryStatus = "loading"
	StatusSuccess QueryStatus = "success"
	StatusError   QueryStatus = "error"
)

// DefaultStaleTime and DefaultCacheTime are the package defaults from §6.
// The observer-path retry default lives next to its only consumer as
// DefaultObserverRetry (queryobserver.go).
const (
	DefaultStaleTime = time.Duration(0)
	DefaultCacheTime = 5 * time.Minute
)

// InfiniteCacheTime disables retention-based garbage collection for a
// Query (§3 Lifecycle, §4.3 Retention).
const InfiniteCacheTime = time.Duration(-1)

// FetchFunc is a user-supplied asynchronous read. It must return promptly
// when ctx is canceled.
type FetchFunc func(ctx context.Context) (interface{}, error)

// QueryState is the observable state of one Query entry (§3).
type QueryState struct {
	Data          interface{}
	HasData       bool
	DataUpdatedAt time.Time

	Error          error
	HasError       bool
	ErrorUpdatedAt time.Time

	// UpdatedAt is max(DataUpdatedAt, ErrorUpdatedAt); used for hydration
	// freshness comparisons (§3 invariant, §4.9).
	UpdatedAt time.Time

	FetchFailureCount int
	IsFetching        bool
	IsInvalidated     bool
	Status            QueryStatus
}

// QueryOptions is the effective, merged configuration of a Query (§3, §4.4).
type QueryOptions struct {
	Fn FetchFunc

	StaleTime time.Duration
	CacheTime time.Duration

	Retry      RetryPolicy
	RetryDelay RetryDelayFunc

	InitialData          interface{}
	InitialDataUpdatedAt time.Time

	// Logger, if set, is used for this Query's diagnostic logging. A nil
	// Logger falls back to the owning Cache's logger.
	Logger hclog.Logger
}

// mergeQueryOptions combines base (defaults already resolved) with
// override, letting any non-zero field in override win. Mirrors the
// teacher's internal/dependency QueryOptions.Merge, generalized via
// mergo.Merge per SPEC_FULL.md §10.5.
func mergeQueryOptions(base, override QueryOptions) (QueryOptions, error) {
	result := base
	if err := mergo.Merge(&result, override, mergo.WithOverride); err != nil {
		return base, errors.New("qcache: merge options: " + err.Error())
	}
	return result, nil
}

// Query is the per-key cache entry and state machine (§3, §4.3). It is
// exclusively owned by one QueryCache for its lifetime.
type Query struct {
	key  Key
	hash string
	segs []string // keyToSegments(key), cached for Filters prefix matching

	cache  *QueryCache
	logger hclog.Logger

	mux     sync.Mutex
	state   QueryState
	options QueryOptions

	observers *observerSet

	retryer        *Retryer
	inFlight       *queryFetch
	lastCancelOpts CancelOptions
}

type queryFetch struct {
	done  chan struct{}
	value interface{}
	err   error
}

func newQuery(cache *QueryCache, key Key, hash string, opts QueryOptions) *Query {
	q := &Query{
		key:       key,
		hash:      hash,
		segs:      keyToSegments(key),
		cache:     cache,
		options:   opts,
		observers: newObserverSet(),
	}
	if opts.Logger != nil {
		q.logger = opts.Logger
	} else if cache != nil {
		q.logger = cache.logger.With("hash", hash)
	} else {
		q.logger = hclog.NewNullLogger()
	}
	q.state = initialQueryState(opts)
	return q
}

func initialQueryState(opts QueryOptions) QueryState {
	s := QueryState{Status: StatusIdle}
	if opts.InitialData != nil {
		s.Data = opts.InitialData
		s.HasData = true
		s.Status = StatusSuccess
		if !opts.InitialDataUpdatedAt.IsZero() {
			s.DataUpdatedAt = opts.InitialDataUpdatedAt
		} else {
			s.DataUpdatedAt = time.Now()
		}
		s.UpdatedAt = s.DataUpdatedAt
	}
	return s
}

// Key returns the structured key this Query was built for.
func (q *Query) Key() Key { return q.key }

// Hash returns the canonical hash this Query is stored under.
func (q *Query) Hash() string { return q.hash }

// State returns a snapshot of the Query's current observable state.
func (q *Query) State() QueryState {
	q.mux.Lock()
	defer q.mux.Unlock()
	return q.state
}

// Options returns a copy of the Query's current effective options.
func (q *Query) Options() QueryOptions {
	q.mux.Lock()
	defer q.mux.Unlock()
	return q.options
}

// UpdateOptions merges override into the Query's effective options (used
// when a new observer/fetch call supplies options that should apply even
// if a fetch is already in flight, §4.3 "Single-flight").
func (q *Query) UpdateOptions(override QueryOptions) error {
	q.mux.Lock()
	defer q.mux.Unlock()
	merged, err := mergeQueryOptions(q.options, override)
	if err != nil {
		return err
	}
	q.options = merged
	return nil
}

// IsStale reports whether the Query is stale per §4.3: invalidated, or its
// data is older than StaleTime (default 0, meaning always stale).
func (q *Query) IsStale() bool {
	q.mux.Lock()
	defer q.mux.Unlock()
	return q.isStaleLocked()
}

func (q *Query) isStaleLocked() bool {
	if q.state.IsInvalidated {
		return true
	}
	if !q.state.HasData {
		return true
	}
	if q.options.StaleTime <= 0 {
		return true
	}
	return time.Since(q.state.DataUpdatedAt) >= q.options.StaleTime
}

// IsFetching reports whether a fetch is currently in flight.
func (q *Query) IsFetching() bool {
	q.mux.Lock()
	defer q.mux.Unlock()
	return q.state.IsFetching
}

// ObserverCount returns the number of subscribed observers.
func (q *Query) ObserverCount() int {
	return q.observers.Len()
}

// Subscribe registers o as an observer of this Query. If o is the first
// observer, the Query's pending retention timer (if any) is canceled
// (§3 Lifecycle, §4.5 Subscription).
func (q *Query) Subscribe(o queryObserverHandle) {
	wasEmpty := q.observers.Len() == 0
	q.observers.Add(o)
	if wasEmpty {
		q.cache.cancelRetention(q.hash)
	}
	q.cache.events.Emit(events.ObserverSubscribed{Hash: q.hash, ObserverID: o.id()})
}

// Unsubscribe removes o. If the observer set becomes empty, a retention
// timer is started (§3 Lifecycle).
func (q *Query) Unsubscribe(id string) {
	q.observers.Remove(id)
	if q.observers.Len() == 0 {
		q.cache.scheduleRetention(q)
	}
	q.cache.events.Emit(events.ObserverUnsubscribed{Hash: q.hash, ObserverID: id})
}

// notifyObservers runs onQueryUpdate on every subscribed observer, routed
// through the cache's NotifyManager so a burst of state changes within one
// Batch yields one flush (§4.1 guarantee, §8 property 4).
func (q *Query) notifyObservers() {
	if q.cache != nil {
		q.cache.notifyUpdated(q)
	}
	observers := q.observers.List()
	if len(observers) == 0 {
		return
	}
	q.cache.notify.Schedule(func() {
		for _, o := range observers {
			o.onQueryUpdate()
		}
	})
}

// Fetch begins (or joins) a fetch for this Query and blocks until it
// settles (§4.2, §4.3, §5 "Concurrent fetches").
func (q *Query) Fetch(ctx context.Context, override QueryOptions) (interface{}, error) {
	qf, started := q.startOrJoinFetch(override)
	if started {
		go q.runFetch(ctx, qf)
	}
	<-qf.done
	return qf.value, qf.err
}

func (q *Query) startOrJoinFetch(override QueryOptions) (*queryFetch, bool) {
	q.mux.Lock()
	defer q.mux.Unlock()

	if merged, err := mergeQueryOptions(q.options, override); err == nil {
		q.options = merged
	}

	if q.state.IsFetching && q.inFlight != nil {
		return q.inFlight, false
	}

	qf := &queryFetch{done: make(chan struct{})}
	q.inFlight = qf
	q.state.IsFetching = true
	if !q.state.HasData {
		q.state.Status = StatusLoading
	}
	q.cache.events.Emit(events.FetchStart{Hash: q.hash})
	q.notifyObservers()
	return qf, true
}

func (q *Query) runFetch(ctx context.Context, qf *queryFetch) {
	q.mux.Lock()
	opts := q.options
	q.mux.Unlock()

	if opts.Fn == nil {
		err := fmt.Errorf("qcache: query %s has no fetch function", q.hash)
		q.onFetchFinalFailure(err)
		qf.err = err
		close(qf.done)
		return
	}

	retryer := NewRetryer(RetryerConfig{
		Fn:         opts.Fn,
		Retry:      opts.Retry,
		RetryDelay: opts.RetryDelay,
		IsOnline:   q.cache.isVisibleAndOnline,
		Metrics:    q.cache.Metrics(),
		OnError: func(err error, failureCount int) {
			q.onFetchAttemptFailure(err, failureCount)
		},
		OnSuccess: func(value interface{}) {
			q.onFetchSuccess(value)
		},
		OnFail: func(err error) {
			q.onFetchFinalFailure(err)
		},
		OnPause: func() {
			q.logger.Trace("retry paused")
			q.cache.events.Emit(events.RetryPaused{Hash: q.hash})
		},
		OnContinue: func() {
			q.logger.Trace("retry resumed")
			q.cache.events.Emit(events.RetryResumed{Hash: q.hash})
		},
	})

	q.mux.Lock()
	q.retryer = retryer
	q.mux.Unlock()

	value, err := retryer.Run(ctx)

	q.mux.Lock()
	q.retryer = nil
	q.inFlight = nil
	q.mux.Unlock()

	qf.value, qf.err = value, err
	close(qf.done)
}

func (q *Query) onFetchAttemptFailure(err error, failureCount int) {
	q.mux.Lock()
	q.state.FetchFailureCount = failureCount
	q.mux.Unlock()
	q.logger.Debug("fetch attempt failed", "attempt", failureCount, "error", err)
	q.cache.events.Emit(events.FetchError{Hash: q.hash, Error: err, Attempt: failureCount})
	q.notifyObservers()
}

func (q *Query) onFetchSuccess(value interface{}) {
	q.mux.Lock()
	now := time.Now()
	q.state.Data = value
	q.state.HasData = true
	q.state.DataUpdatedAt = now
	q.state.Error = nil
	q.state.HasError = false
	q.state.FetchFailureCount = 0
	q.state.IsInvalidated = false
	q.state.IsFetching = false
	q.state.Status = StatusSuccess
	if now.After(q.state.UpdatedAt) {
		q.state.UpdatedAt = now
	}
	q.mux.Unlock()
	q.cache.events.Emit(events.FetchSuccess{Hash: q.hash, Data: value})
	q.notifyObservers()
}

func (q *Query) onFetchFinalFailure(err error) {
	q.mux.Lock()
	cancelOpts := q.lastCancelOpts
	wasCanceled := errors.Is(err, ErrCanceled)
	now := time.Now()

	if wasCanceled && cancelOpts.Revert {
		q.state.IsFetching = false
	} else {
		q.state.Error = err
		q.state.HasError = true
		q.state.ErrorUpdatedAt = now
		q.state.IsFetching = false
		q.state.Status = StatusError
		if now.After(q.state.UpdatedAt) {
			q.state.UpdatedAt = now
		}
	}
	silent := wasCanceled && cancelOpts.Silent
	q.lastCancelOpts = CancelOptions{}
	q.mux.Unlock()

	if !silent {
		q.logger.Debug("fetch failed", "error", err, "canceled", wasCanceled)
		if !wasCanceled {
			q.cache.events.Emit(events.MaxRetries{Hash: q.hash, Count: q.State().FetchFailureCount})
		}
		q.notifyObservers()
	}
}

// resumePausedRetry wakes this Query's in-flight retryer if it is currently
// paused waiting on the focus/online bus (§4.2 "bus-driven resume"). It is a
// no-op when there is no in-flight fetch or the retryer isn't paused.
func (q *Query) resumePausedRetry() {
	q.mux.Lock()
	retryer := q.retryer
	q.mux.Unlock()
	if retryer != nil {
		retryer.Resume()
	}
}

// Cancel aborts the in-flight fetch, if any, per opts (§4.2, §4.3).
func (q *Query) Cancel(opts CancelOptions) {
	q.mux.Lock()
	retryer := q.retryer
	if retryer == nil {
		q.mux.Unlock()
		return
	}
	q.lastCancelOpts = opts
	q.mux.Unlock()
	q.cache.events.Emit(events.Canceled{Hash: q.hash, Revert: opts.Revert})
	retryer.Cancel(opts)
}

// SetData applies updater to the current data and transitions to success
// (§4.3 "setData"). If updatedAt is the zero Time, now is used.
func (q *Query) SetData(updater func(old interface{}, hadOld bool) interface{}, updatedAt time.Time) {
	q.mux.Lock()
	newData := updater(q.state.Data, q.state.HasData)
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	q.state.Data = newData
	q.state.HasData = true
	q.state.DataUpdatedAt = updatedAt
	q.state.Error = nil
	q.state.HasError = false
	q.state.IsInvalidated = false
	q.state.Status = StatusSuccess
	if updatedAt.After(q.state.UpdatedAt) {
		q.state.UpdatedAt = updatedAt
	}
	q.mux.Unlock()
	q.notifyObservers()
}

// Invalidate marks the Query stale-on-demand (§4.3 "invalidate").
func (q *Query) Invalidate() {
	q.mux.Lock()
	q.state.IsInvalidated = true
	q.mux.Unlock()
	q.cache.events.Emit(events.Invalidated{Hash: q.hash})
	q.notifyObservers()
}

// Reset clears the Query back to its initial state (§4.3 "reset").
func (q *Query) Reset() {
	q.mux.Lock()
	q.state = initialQueryState(q.options)
	q.mux.Unlock()
	q.notifyObservers()
}

// SetState overwrites the Query's state for hydration, but only if the
// incoming state is strictly newer (§3 invariant, §4.3 "setState",
// §8 property 7).
func (q *Query) SetState(s QueryState) bool {
	q.mux.Lock()
	if !s.UpdatedAt.After(q.state.UpdatedAt) {
		q.mux.Unlock()
		return false
	}
	q.state = s
	q.mux.Unlock()
	q.notifyObservers()
	return true
}

// detach marks every observer as orphaned when the Query is removed from
// its cache (§9 "Observer back-references"). Observers that implement
// onQueryRemoved are notified so they can settle gracefully.
func (q *Query) detach() {
	for _, o := range q.observers.List() {
		if d, ok := o.(interface{ onQueryRemoved() }); ok {
			d.onQueryRemoved()
		}
	}
}

// multierrorAppend combines the non-nil errors among err and errs into one
// go-multierror error, or returns nil when there are none. Nothing in the
// package calls it; Client's batch operations use multierror.Append
// directly.
func multierrorAppend(err error, errs ...error) error {
	var result *multierror.Error
	if err != nil {
		result = multierror.Append(result, err)
	}
	for _, e := range errs {
		if e != nil {
			result = multierror.Append(result, e)
		}
	}
	if result == nil {
		return nil
	}
	return result.ErrorOrNil()
}
