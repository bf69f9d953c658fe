package qcache

import "time"

// ShouldDehydrateFunc decides whether a Query is included in a
// DehydratedState; the default only keeps successful queries (§4.9).
type ShouldDehydrateFunc func(q *Query) bool

// DefaultShouldDehydrate keeps only queries whose last fetch succeeded
// (§4.9 "default: state.status === 'success'").
func DefaultShouldDehydrate(q *Query) bool {
	return q.State().Status == StatusSuccess
}

// DehydratedQuery is the wire form of one Query (§4.9, §6). CacheTimeMS
// uses -1 to encode InfiniteCacheTime, matching the source's
// serialization-safe encoding of Infinity, since most wire formats (JSON,
// YAML, TOML) have no literal infinity.
type DehydratedQuery struct {
	QueryKey    Key
	QueryHash   string
	State       QueryState
	CacheTimeMS int64
}

// DehydratedState is a portable snapshot of a QueryCache (§4.9).
type DehydratedState struct {
	Queries []DehydratedQuery
}

// EncodeCacheTime converts a Query's live CacheTime into the wire
// sentinel form used by DehydratedQuery.CacheTimeMS.
func EncodeCacheTime(d time.Duration) int64 {
	if d == InfiniteCacheTime {
		return -1
	}
	return d.Milliseconds()
}

// DecodeCacheTime is EncodeCacheTime's inverse.
func DecodeCacheTime(ms int64) time.Duration {
	if ms == -1 {
		return InfiniteCacheTime
	}
	return time.Duration(ms) * time.Millisecond
}

// Dehydrate snapshots every Query in client.Queries for which should
// returns true (a nil should defaults to DefaultShouldDehydrate), per
// §4.9.
func Dehydrate(client *Client, should ShouldDehydrateFunc) DehydratedState {
	if should == nil {
		should = DefaultShouldDehydrate
	}
	var out DehydratedState
	for _, q := range client.Queries.GetAll() {
		if !should(q) {
			continue
		}
		out.Queries = append(out.Queries, DehydratedQuery{
			QueryKey:    q.Key(),
			QueryHash:   q.Hash(),
			State:       q.State(),
			CacheTimeMS: EncodeCacheTime(q.Options().CacheTime),
		})
	}
	return out
}

// Hydrate merges a DehydratedState into client: for each dehydrated
// query, an existing Query's state is overwritten only if the dehydrated
// state is strictly newer (Query.SetState enforces this); otherwise a new
// Query is restored with the decoded CacheTime and defaultOptions, its
// retention timer starting now rather than at original creation (§4.9).
func Hydrate(client *Client, state DehydratedState, defaultOptions QueryOptions) {
	for _, dq := range state.Queries {
		if existing, ok := client.Queries.Get(dq.QueryHash); ok {
			existing.SetState(dq.State)
			continue
		}

		opts := defaultOptions
		opts.CacheTime = DecodeCacheTime(dq.CacheTimeMS)
		q := client.Queries.Build(dq.QueryKey, opts)
		q.SetState(dq.State)
	}
}
