package qcache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-uuid"
)

// RefetchPolicy controls the RefetchOnMount/RefetchOnWindowFocus/
// RefetchOnReconnect observer options (§4.5): nil or false disables it,
// true enables it conditioned on staleness, and the string "always"
// enables it unconditionally.
type RefetchPolicy interface{}

func shouldRefetch(policy RefetchPolicy, isStale bool) bool {
	switch p := policy.(type) {
	case nil:
		return false
	case bool:
		return p && isStale
	case string:
		return p == "always"
	default:
		return false
	}
}

// ObserverOptions configures a QueryObserver (§4.5).
type ObserverOptions struct {
	QueryOptions

	// Enabled gates automatic fetching; nil and true both mean enabled.
	Enabled *bool

	RefetchOnMount       RefetchPolicy
	RefetchOnWindowFocus RefetchPolicy
	RefetchOnReconnect   RefetchPolicy

	// RefetchInterval, if > 0, re-fetches on a fixed period regardless of
	// staleness.
	RefetchInterval time.Duration

	// RefetchIntervalInBackground allows RefetchInterval ticks to fire
	// while the bus reports the app backgrounded (IsVisible false); by
	// default those ticks are skipped (§4.5 "refetchIntervalInBackground").
	RefetchIntervalInBackground bool

	// KeepPreviousData carries the prior successful Data forward while a
	// new fetch (e.g. after a key change) is in flight, marking
	// Result.IsPreviousData.
	KeepPreviousData bool

	// Select derives the Result's Data from the Query's raw stored data.
	Select func(data interface{}) interface{}

	// IsDataEqual, if set, suppresses a notification when the derived
	// Data is considered unchanged (§4.1 "notification diffing").
	IsDataEqual func(a, b interface{}) bool
}

func (o ObserverOptions) enabled() bool {
	return o.Enabled == nil || *o.Enabled
}

// DefaultObserverRetry is the §6 default retry policy for an observed
// (watched) query, as opposed to PrefetchQuery's explicit no-retry
// default: a failed background fetch behind a live observer is retried
// up to 3 times before settling into StatusError.
const DefaultObserverRetry = 3

// Result is the read-only view a QueryObserver's subscriber sees (§4.5).
type Result struct {
	Data           interface{}
	HasData        bool
	Error          error
	IsFetching     bool
	IsLoading      bool
	IsSuccess      bool
	IsError        bool
	IsIdle         bool
	IsStale        bool
	IsPreviousData bool
	DataUpdatedAt  time.Time
	ErrorUpdatedAt time.Time
	FailureCount   int
	Status         QueryStatus

	Refetch func(ctx context.Context) (interface{}, error)
	Remove  func()
}

// QueryObserver bridges one Query to a single UI-style subscriber,
// deriving a Result view and deciding when to auto-refetch (§4.5). It
// implements queryObserverHandle and refetchObserverHandle.
type QueryObserver struct {
	observerID string
	cache      *QueryCache
	key        Key

	mux     sync.Mutex
	query   *Query
	options ObserverOptions

	listenerMux sync.Mutex
	listener    func(Result)

	previousData    interface{}
	hasPreviousData bool

	timers *timerSet
}

// NewQueryObserver builds (or joins) the Query for key in cache and
// returns an observer over it, subscribed and with its refetch-on-mount
// policy already evaluated (§4.5).
func NewQueryObserver(cache *QueryCache, key Key, opts ObserverOptions) *QueryObserver {
	if opts.Retry == nil {
		opts.Retry = DefaultObserverRetry
	}
	id, err := uuid.GenerateUUID()
	if err != nil {
		id = Hash(key) // deterministic fallback; still unique per process in practice
	}
	o := &QueryObserver{
		observerID: id,
		cache:      cache,
		key:        key,
		options:    opts,
		timers:     newTimerSet(),
	}
	o.query = cache.Build(key, opts.QueryOptions)
	o.query.Subscribe(o)
	o.rescheduleTimers()

	if o.options.enabled() && shouldRefetch(o.options.RefetchOnMount, o.query.IsStale()) {
		go func() { _, _ = o.Refetch(context.Background()) }()
	}
	return o
}

func (o *QueryObserver) id() string { return o.observerID }

// Subscribe registers listener to receive every Result update, calling it
// once immediately with the current Result. The returned func removes the
// listener (it does not remove the observer from its Query; call Remove
// for that).
func (o *QueryObserver) Subscribe(listener func(Result)) func() {
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

// onQueryUpdate recomputes the Result and, if it differs under the
// configured notify-diffing policy, delivers it to the listener (§4.1,
// §4.5 "notification diffing").
func (o *QueryObserver) onQueryUpdate() {
	o.mux.Lock()
	prevData, hadPrev := o.previousData, o.hasPreviousData
	o.mux.Unlock()

	result := o.computeResult()

	o.mux.Lock()
	opts := o.options
	o.mux.Unlock()

	o.listenerMux.Lock()
	listener := o.listener
	o.listenerMux.Unlock()
	if listener == nil {
		return
	}

	if opts.IsDataEqual != nil && result.HasData {
		prevEqual := hadPrev && opts.IsDataEqual(prevData, result.Data)
		if prevEqual && !result.IsFetching && result.Error == nil {
			return
		}
	}
	listener(result)
}

func (o *QueryObserver) computeResult() Result {
	q := o.currentQuery()
	state := q.State()
	opts := o.currentOptions()

	data := state.Data
	hasData := state.HasData
	if opts.Select != nil && hasData {
		data = opts.Select(data)
	}

	isPrevious := false
	if !hasData && opts.KeepPreviousData && state.IsFetching {
		o.mux.Lock()
		if o.hasPreviousData {
			data = o.previousData
			hasData = true
			isPrevious = true
		}
		o.mux.Unlock()
	}
	if hasData && !isPrevious {
		o.mux.Lock()
		o.previousData = data
		o.hasPreviousData = true
		o.mux.Unlock()
	}

	return Result{
		Data:           data,
		HasData:        hasData,
		Error:          state.Error,
		IsFetching:     state.IsFetching,
		IsLoading:      state.Status == StatusLoading && !hasData,
		IsSuccess:      state.Status == StatusSuccess,
		IsError:        state.Status == StatusError,
		IsIdle:         state.Status == StatusIdle,
		IsStale:        q.IsStale(),
		IsPreviousData: isPrevious,
		DataUpdatedAt:  state.DataUpdatedAt,
		ErrorUpdatedAt: state.ErrorUpdatedAt,
		FailureCount:   state.FetchFailureCount,
		Status:         state.Status,
		Refetch:        o.Refetch,
		Remove:         o.Remove,
	}
}

// Refetch triggers (or joins) a fetch of the underlying Query (§4.5).
func (o *QueryObserver) Refetch(ctx context.Context) (interface{}, error) {
	q := o.currentQuery()
	return q.Fetch(ctx, QueryOptions{})
}

// Remove unsubscribes the observer from its Query and stops its timers
// (§4.5 "unsubscribe").
func (o *QueryObserver) Remove() {
	o.timers.StopAll()
	q := o.currentQuery()
	q.Unsubscribe(o.observerID)
}

// onQueryRemoved is called by Query.detach when the cache evicts the
// underlying Query entirely (§9 "Observer back-references").
func (o *QueryObserver) onQueryRemoved() {
	o.timers.StopAll()
}

// SetOptions updates the observer's options, re-merging Query-level
// options and re-evaluating timers.
func (o *QueryObserver) SetOptions(opts ObserverOptions) {
	o.mux.Lock()
	o.options = opts
	o.mux.Unlock()
	_ = o.query.UpdateOptions(opts.QueryOptions)
	o.rescheduleTimers()
	o.onQueryUpdate()
}

func (o *QueryObserver) currentQuery() *Query {
	o.mux.Lock()
	defer o.mux.Unlock()
	return o.query
}

func (o *QueryObserver) currentOptions() ObserverOptions {
	o.mux.Lock()
	defer o.mux.Unlock()
	return o.options
}

// maybeRefetchOnFocus implements refetchObserverHandle for the Focus/
// Online Bus (§4.4 "onFocus", §4.5).
func (o *QueryObserver) maybeRefetchOnFocus() {
	opts := o.currentOptions()
	if !opts.enabled() {
		return
	}
	if shouldRefetch(opts.RefetchOnWindowFocus, o.currentQuery().IsStale()) {
		go func() { _, _ = o.Refetch(context.Background()) }()
	}
}

// maybeRefetchOnReconnect implements refetchObserverHandle (§4.4
// "onOnline", §4.5).
func (o *QueryObserver) maybeRefetchOnReconnect() {
	opts := o.currentOptions()
	if !opts.enabled() {
		return
	}
	if shouldRefetch(opts.RefetchOnReconnect, o.currentQuery().IsStale()) {
		go func() { _, _ = o.Refetch(context.Background()) }()
	}
}

// rescheduleTimers (re)installs the staleTime re-evaluation timer and the
// refetchInterval ticker (§4.5 "On mount").
func (o *QueryObserver) rescheduleTimers() {
	opts := o.currentOptions()
	q := o.currentQuery()

	if opts.StaleTime > 0 && !q.IsStale() {
		state := q.State()
		delay := time.Until(state.DataUpdatedAt.Add(opts.StaleTime))
		if delay < 0 {
			delay = 0
		}
		o.timers.After("stale:"+o.observerID, delay, func() {
			q.notifyObservers()
		})
	}

	if opts.RefetchInterval > 0 {
		o.timers.Every("interval:"+o.observerID, opts.RefetchInterval, func() {
			if !opts.RefetchIntervalInBackground && o.cache != nil && o.cache.bus != nil && !o.cache.bus.IsVisible() {
				return
			}
			go func() { _, _ = o.Refetch(context.Background()) }()
		})
	} else {
		o.timers.Cancel("interval:" + o.observerID)
	}
}
