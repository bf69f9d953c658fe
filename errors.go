package qcache

import "github.com/pkg/errors"

// ErrNotFound is a sentinel for a hash/id with no matching entry, for
// callers to return or compare with errors.Is (§7). The package's own
// lookups (QueryCache.Get, Client.GetQueryData) report absence with a
// false ok value and do not return it.
var ErrNotFound = errors.New("qcache: not found")

// ErrInvalidKey is wrapped into the error KeyPath returns when a path
// cannot be parsed or does not resolve within the key (§7 "validation
// error"). Hashing and canonicalization never return it.
var ErrInvalidKey = errors.New("qcache: invalid key")

// WrapFetchError annotates an error returned by a user fetch/mutate
// function with the query/mutation hash it occurred under, using
// github.com/pkg/errors the same way the teacher's template.go wraps
// parse failures (§10.2).
func WrapFetchError(err error, hash string) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, "fetch %s", hash)
}
