package qcache

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrCanceled is returned by Retryer.Run when the operation was canceled
// before it settled.
var ErrCanceled = errors.New("qcache: canceled")

// RetryPolicy controls whether a failed fetch/mutate attempt is retried.
// Accepted values, mirroring §4.2:
//   - nil or false: never retry.
//   - true: retry forever.
//   - a non-negative int: retry up to that many times.
//   - a RetryDecider: consulted on every failure.
type RetryPolicy interface{}

// RetryDecider is a predicate form of RetryPolicy: given the number of
// consecutive failures so far and the most recent error, it reports
// whether another attempt should be made.
type RetryDecider func(failureCount int, err error) bool

// RetryDelayFunc computes the backoff delay before attempt number
// failureCount+1. The package default is exponential with a 30s cap,
// matching §6's Defaults table.
type RetryDelayFunc func(failureCount int) time.Duration

// DefaultRetryDelay implements attempt => min(1000*2^attempt, 30000) ms.
func DefaultRetryDelay(failureCount int) time.Duration {
	ms := 1000 * (1 << uint(failureCount))
	if ms > 30000 || ms <= 0 {
		ms = 30000
	}
	return time.Duration(ms) * time.Millisecond
}

func normalizeRetryDecider(policy RetryPolicy) RetryDecider {
	switch p := policy.(type) {
	case nil:
		return func(int, error) bool { return false }
	case bool:
		if p {
			return func(int, error) bool { return true }
		}
		return func(int, error) bool { return false }
	case int:
		return func(failureCount int, _ error) bool { return failureCount <= p }
	case RetryDecider:
		return p
	default:
		return func(int, error) bool { return false }
	}
}

// CancelOptions controls Retryer.Cancel's behavior, mirroring §4.2.
type CancelOptions struct {
	// Revert, if true, settles a prior successful value instead of an
	// error when canceling. Its zero value is false; nothing sets it to
	// true on the caller's behalf.
	Revert bool
	// Silent suppresses external (onFail) notification of the
	// cancellation; used for cancellations that are purely internal
	// bookkeeping (e.g. a query being replaced before it ever notified
	// anyone).
	Silent bool
}

// RetryerConfig configures a Retryer.
type RetryerConfig struct {
	// Fn performs one attempt. It must return promptly when ctx is
	// canceled (cooperative cancellation, §5 "Cancellation").
	Fn func(ctx context.Context) (interface{}, error)

	OnError   func(err error, failureCount int)
	OnSuccess func(value interface{})
	OnFail    func(err error)
	// OnPause fires when a pending retry enters the paused state (bus
	// reports not-visible or offline).
	OnPause func()
	// OnContinue fires when a paused retry resumes (bus transitions back
	// to visible/online).
	OnContinue func()

	Retry      RetryPolicy
	RetryDelay RetryDelayFunc

	// IsOnline reports whether the focus/online bus currently considers
	// the process visible and connected. A pending retry is paused while
	// this returns false. Nil means "always online" (never pause).
	IsOnline func() bool

	// RateLimit caps how often Fn may be invoked, generalizing the
	// teacher's ad hoc rateLimiter()/minDelayBetweenUpdates dithered sleep
	// in view.go into a reusable token-bucket limiter. Zero disables
	// limiting.
	RateLimit rate.Limit
	RateBurst int

	// Metrics, if set, receives fetch-attempt/retry counters (§10.5). Nil
	// is a no-op.
	Metrics *Metrics
}

// Retryer runs a fallible async operation under a retry/backoff/pause/
// cancel policy (§4.2). It has no cache or observer knowledge; Query
// drives one Retryer per in-flight fetch.
type Retryer struct {
	cfg     RetryerConfig
	decider RetryDecider

	mux         sync.Mutex
	attempt     int
	isPaused    bool
	isResolved  bool
	canceled    bool
	cancelOpts  CancelOptions
	resumeCh    chan struct{}
	limiter     *rate.Limiter
	cancelCtxFn context.CancelFunc
}

// NewRetryer constructs a Retryer from cfg, filling in defaults for
// RetryDelay (exponential backoff) and Retry (no retries, matching
// prefetchQuery's documented default in §4.8).
func NewRetryer(cfg RetryerConfig) *Retryer {
	if cfg.RetryDelay == nil {
		cfg.RetryDelay = DefaultRetryDelay
	}
	r := &Retryer{
		cfg:      cfg,
		decider:  normalizeRetryDecider(cfg.Retry),
		resumeCh: make(chan struct{}, 1),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(cfg.RateLimit, burst)
	}
	return r
}

// Run executes Fn, retrying on failure per policy, and blocks until the
// operation settles (success, exhausted retries, or cancellation). It is
// intended to be called from a single goroutine per Retryer instance
// (Query enforces single-flight, §4.3).
func (r *Retryer) Run(ctx context.Context) (interface{}, error) {
	ctx, cancel := context.WithCancel(ctx)
	r.mux.Lock()
	r.cancelCtxFn = cancel
	r.mux.Unlock()
	defer cancel()

	for {
		if r.isCanceled() {
			return r.settleCanceled()
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return r.settleCanceled()
			}
		}

		r.cfg.Metrics.IncrFetchAttempt()
		value, err := r.cfg.Fn(ctx)
		if err == nil {
			r.mux.Lock()
			r.isResolved = true
			r.mux.Unlock()
			if r.cfg.OnSuccess != nil {
				r.cfg.OnSuccess(value)
			}
			return value, nil
		}

		if r.isCanceled() || ctx.Err() != nil {
			return r.settleCanceled()
		}

		r.mux.Lock()
		r.attempt++
		failureCount := r.attempt
		r.mux.Unlock()

		if r.cfg.OnError != nil {
			r.cfg.OnError(err, failureCount)
		}

		if !r.decider(failureCount, err) {
			if r.cfg.OnFail != nil {
				r.cfg.OnFail(err)
			}
			return nil, err
		}
		r.cfg.Metrics.IncrFetchRetry()

		if waitErr := r.wait(ctx, r.cfg.RetryDelay(failureCount)); waitErr != nil {
			return r.settleCanceled()
		}
	}
}

// wait sleeps for delay, entering the paused state for as long as IsOnline
// reports false. It returns a non-nil error only if the context was
// canceled while waiting.
func (r *Retryer) wait(ctx context.Context, delay time.Duration) error {
	deadline := time.Now().Add(delay)
	for {
		if r.cfg.IsOnline != nil && !r.cfg.IsOnline() {
			r.setPaused(true)
			if r.cfg.OnPause != nil {
				r.cfg.OnPause()
			}
			select {
			case <-r.resumeCh:
				r.setPaused(false)
				if r.cfg.OnContinue != nil {
					r.cfg.OnContinue()
				}
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (r *Retryer) setPaused(p bool) {
	r.mux.Lock()
	r.isPaused = p
	r.mux.Unlock()
}

// IsPaused reports whether a pending retry is currently paused awaiting a
// focus/online resume signal.
func (r *Retryer) IsPaused() bool {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.isPaused
}

// Resume wakes a paused retry. Called by the focus/online bus when the
// process transitions back to visible/online.
func (r *Retryer) Resume() {
	select {
	case r.resumeCh <- struct{}{}:
	default:
	}
}

// Cancel signals cancellation per opts (§4.2). It aborts the pending delay
// and, since Fn receives a context, the in-flight attempt cooperatively.
func (r *Retryer) Cancel(opts CancelOptions) {
	r.mux.Lock()
	if r.isResolved || r.canceled {
		r.mux.Unlock()
		return
	}
	r.canceled = true
	r.cancelOpts = opts
	cancelFn := r.cancelCtxFn
	r.mux.Unlock()

	if cancelFn != nil {
		cancelFn()
	}
	r.Resume() // unblock a paused wait so it can observe the cancellation
}

func (r *Retryer) isCanceled() bool {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.canceled
}

func (r *Retryer) settleCanceled() (interface{}, error) {
	r.mux.Lock()
	opts := r.cancelOpts
	silent := opts.Silent
	r.mux.Unlock()

	if r.cfg.OnFail != nil && !silent {
		r.cfg.OnFail(ErrCanceled)
	}
	return nil, ErrCanceled
}
