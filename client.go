package qcache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ClientOptions configures a Client (§4.8).
type ClientOptions struct {
	DefaultQueryOptions    QueryOptions
	DefaultMutationOptions MutationOptions
	Platform               Platform
	Logger                 hclog.Logger
}

type queryDefaultsEntry struct {
	key  Key
	opts QueryOptions
}

type mutationDefaultsEntry struct {
	key  Key
	opts MutationOptions
}

// Client is the consumer-facing facade aggregating a QueryCache and a
// MutationCache behind one set of operations (§4.8).
type Client struct {
	logger hclog.Logger
	notify *NotifyManager
	bus    *Bus

	Queries   *QueryCache
	Mutations *MutationCache

	mux                    sync.Mutex
	defaultQueryOptions    QueryOptions
	defaultMutationOptions MutationOptions
	queryDefaults          []queryDefaultsEntry
	mutationDefaults       []mutationDefaultsEntry

	unmount func()
}

// NewClient constructs a Client with its own NotifyManager, Bus, QueryCache
// and MutationCache.
func NewClient(opts ClientOptions) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("qcache")

	notify := NewNotifyManager(logger)
	bus := NewBus(opts.Platform)

	c := &Client{
		logger:                 logger,
		notify:                 notify,
		bus:                    bus,
		Queries:                NewQueryCache(notify, bus, logger),
		Mutations:              NewMutationCache(notify, bus, logger),
		defaultQueryOptions:    opts.DefaultQueryOptions,
		defaultMutationOptions: opts.DefaultMutationOptions,
	}
	return c
}

// Mount registers the Client with its Bus so OnFocus/OnOnline events
// revalidate its queries; the returned func unmounts it (§4.8
// "mount/unmount").
func (c *Client) Mount() (unmount func()) {
	return c.bus.Mount(c)
}

// OnFocus implements mountedClient.
func (c *Client) OnFocus() { c.Queries.OnFocus() }

// OnOnline implements mountedClient; it also resumes any paused
// mutations (§4.7 "resumePausedMutations").
func (c *Client) OnOnline() {
	c.Queries.OnOnline()
	go func() {
		if err := c.Mutations.ResumePausedMutations(context.Background()); err != nil {
			c.logger.Warn("resuming paused mutations", "error", err)
		}
	}()
}

func (c *Client) resolveQueryOptions(key Key, override QueryOptions) (QueryOptions, error) {
	c.mux.Lock()
	base := c.defaultQueryOptions
	for _, e := range c.queryDefaults {
		if e.key != nil && keyPrefixMatch(e.key, key) {
			merged, err := mergeQueryOptions(base, e.opts)
			if err == nil {
				base = merged
				break
			}
		}
	}
	c.mux.Unlock()
	return mergeQueryOptions(base, override)
}

func (c *Client) resolveMutationOptions(key Key, override MutationOptions) (MutationOptions, error) {
	c.mux.Lock()
	base := c.defaultMutationOptions
	for _, e := range c.mutationDefaults {
		if key != nil && e.key != nil && keyPrefixMatch(e.key, key) {
			merged, err := mergeMutationOptions(base, e.opts)
			if err == nil {
				base = merged
			}
		}
	}
	c.mux.Unlock()
	return mergeMutationOptions(base, override)
}

// FetchQueryData builds (or joins) the Query for key and blocks until it
// settles, returning the fetched value (§4.8).
func (c *Client) FetchQueryData(ctx context.Context, key Key, override QueryOptions) (interface{}, error) {
	opts, err := c.resolveQueryOptions(key, override)
	if err != nil {
		return nil, errors.Wrap(err, "fetchQueryData")
	}
	q := c.Queries.Build(key, opts)
	return q.Fetch(ctx, QueryOptions{})
}

// PrefetchQuery is the fire-and-forget variant of FetchQueryData: it
// swallows the error and, unless overridden, defaults Retry to false so a
// server-side prefetch never hangs (§4.8).
func (c *Client) PrefetchQuery(ctx context.Context, key Key, override QueryOptions) {
	if override.Retry == nil {
		override.Retry = false
	}
	_, _ = c.FetchQueryData(ctx, key, override)
}

// GetQueryData returns the current cached data for key, if any (§4.8).
func (c *Client) GetQueryData(key Key) (interface{}, bool) {
	q, ok := c.Queries.Get(Hash(key))
	if !ok {
		return nil, false
	}
	s := q.State()
	return s.Data, s.HasData
}

// SetQueryData writes updater's result directly into the cache for key,
// building the Query if absent (§4.8).
func (c *Client) SetQueryData(key Key, updater func(old interface{}, hadOld bool) interface{}) {
	opts, _ := c.resolveQueryOptions(key, QueryOptions{})
	q := c.Queries.Build(key, opts)
	q.SetData(updater, time.Time{})
}

// GetQueryState returns the full QueryState for key, if it exists (§4.8).
func (c *Client) GetQueryState(key Key) (QueryState, bool) {
	q, ok := c.Queries.Get(Hash(key))
	if !ok {
		return QueryState{}, false
	}
	return q.State(), true
}

// RemoveQueries removes every Query matching filters (§4.8).
func (c *Client) RemoveQueries(filters Filters) {
	for _, q := range c.Queries.FindAll(nil, filters) {
		c.Queries.Remove(q)
	}
}

// CancelQueries cancels the in-flight fetch of every Query matching
// filters (§4.2, §4.8). opts is passed to each Query unchanged, so the
// zero CancelOptions (Revert false) does not revert to prior data.
func (c *Client) CancelQueries(filters Filters, opts CancelOptions) {
	for _, q := range c.Queries.FindAll(nil, filters) {
		q.Cancel(opts)
	}
}

// InvalidateQueries marks every Query matching filters stale and, unless
// refetchActive is explicitly disabled, refetches the ones with active
// observers (§4.8).
func (c *Client) InvalidateQueries(ctx context.Context, filters Filters, refetchActive bool) error {
	matches := c.Queries.FindAll(nil, filters)
	var result *multierror.Error
	var toRefetch []*Query
	for _, q := range matches {
		q.Invalidate()
		if refetchActive && q.ObserverCount() > 0 {
			toRefetch = append(toRefetch, q)
		}
	}
	for _, q := range toRefetch {
		if _, err := q.Fetch(ctx, QueryOptions{}); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// RefetchQueries refetches every Query matching filters, aggregating any
// failures (§4.8).
func (c *Client) RefetchQueries(ctx context.Context, filters Filters) error {
	var result *multierror.Error
	for _, q := range c.Queries.FindAll(nil, filters) {
		if _, err := q.Fetch(ctx, QueryOptions{}); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// WatchQuery returns a QueryObserver for key (§4.8).
func (c *Client) WatchQuery(key Key, override ObserverOptions) *QueryObserver {
	merged, err := c.resolveQueryOptions(key, override.QueryOptions)
	if err == nil {
		override.QueryOptions = merged
	}
	return NewQueryObserver(c.Queries, key, override)
}

// WatchQueries returns a QueriesObserver over keys (§4.8).
func (c *Client) WatchQueries(keys []Key, override ObserverOptions) *QueriesObserver {
	return NewQueriesObserver(c.Queries, keys, override)
}

// WatchMutation returns a MutationObserver (§4.8).
func (c *Client) WatchMutation(override MutationOptions) *MutationObserver {
	merged, err := c.resolveMutationOptions(nil, override)
	if err == nil {
		override = merged
	}
	return NewMutationObserver(c.Mutations, override)
}

// Mutate builds and immediately executes a Mutation (§4.8 "mutate" =
// "build + execute").
func (c *Client) Mutate(ctx context.Context, override MutationOptions, variables interface{}) (interface{}, error) {
	merged, err := c.resolveMutationOptions(nil, override)
	if err != nil {
		return nil, errors.Wrap(err, "mutate")
	}
	_, value, err := c.Mutations.Mutate(ctx, merged, variables)
	return value, err
}

// SetDefaultOptions installs client-wide default options, applied before
// any per-key defaults and per-call overrides (§4.8).
func (c *Client) SetDefaultOptions(query QueryOptions, mutation MutationOptions) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.defaultQueryOptions = query
	c.defaultMutationOptions = mutation
}

// SetQueryDefaults registers opts as defaults for any query key matching
// key as a prefix; when several registered keys match, the first one
// registered wins (§4.8).
func (c *Client) SetQueryDefaults(key Key, opts QueryOptions) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.queryDefaults = append(c.queryDefaults, queryDefaultsEntry{key: key, opts: opts})
}

// GetQueryDefaults returns the first-registered matching query defaults
// entry for key, if any (§4.8).
func (c *Client) GetQueryDefaults(key Key) (QueryOptions, bool) {
	c.mux.Lock()
	defer c.mux.Unlock()
	for _, e := range c.queryDefaults {
		if e.key != nil && keyPrefixMatch(e.key, key) {
			return e.opts, true
		}
	}
	return QueryOptions{}, false
}

// SetMutationDefaults registers opts as defaults for any mutation whose
// mutationKey matches key as a prefix (§4.8 "same for mutations").
func (c *Client) SetMutationDefaults(key Key, opts MutationOptions) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.mutationDefaults = append(c.mutationDefaults, mutationDefaultsEntry{key: key, opts: opts})
}

// GetMutationDefaults returns the first-registered matching mutation
// defaults entry for key, if any.
func (c *Client) GetMutationDefaults(key Key) (MutationOptions, bool) {
	c.mux.Lock()
	defer c.mux.Unlock()
	for _, e := range c.mutationDefaults {
		if e.key != nil && keyPrefixMatch(e.key, key) {
			return e.opts, true
		}
	}
	return MutationOptions{}, false
}

// Clear empties both the query and mutation caches (§4.8).
func (c *Client) Clear() {
	c.Queries.Clear()
	c.Mutations.Clear()
}
