package qcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/mitchellh/pointerstructure"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// Key is a structured query/mutation identifier: either a string, or an
// ordered sequence ([]interface{}) whose elements are strings, numbers,
// booleans, nil, or mappings (map[string]interface{}) of string to
// (recursively) the same. Two keys are equivalent iff Hash(k1) == Hash(k2).
type Key = interface{}

// Hash computes the canonical hash of a structured Key: the key is
// serialized with all mapping entries emitted in sorted-key order at every
// depth, so semantically equal keys with different insertion orders
// collide, then hashed with SHA-256. This supersedes the teacher's
// Template.hexMD5 (crypto/md5 over raw template text in template.go) with a
// stronger primitive for the analogous job of a stable content hash.
func Hash(key Key) string {
	var b strings.Builder
	canonicalize(&b, key)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// canonicalize writes a deterministic textual form of v into b. It is not
// meant to be human-readable or parseable; only stable and collision-safe
// for the value shapes Key permits.
func canonicalize(b *strings.Builder, v interface{}) {
	switch t := v.(type) {
	case nil:
		b.WriteString("n:")
	case string:
		b.WriteString("s:")
		writeLenPrefixed(b, t)
	case bool:
		b.WriteString("b:")
		if t {
			b.WriteString("1")
		} else {
			b.WriteString("0")
		}
	case float64:
		b.WriteString("f:")
		b.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
	case float32:
		canonicalize(b, float64(t))
	case int:
		canonicalize(b, float64(t))
	case int64:
		canonicalize(b, float64(t))
	case uint64:
		canonicalize(b, float64(t))
	case []interface{}:
		b.WriteString("a[")
		for i, el := range t {
			if i > 0 {
				b.WriteString(",")
			}
			canonicalize(b, el)
		}
		b.WriteString("]")
	case map[string]interface{}:
		b.WriteString("m{")
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for i, k := range keys {
			if i > 0 {
				b.WriteString(",")
			}
			writeLenPrefixed(b, k)
			b.WriteString(":")
			canonicalize(b, t[k])
		}
		b.WriteString("}")
	default:
		// Values outside the documented Key shape are still hashed
		// deterministically (via their formatted representation) rather than
		// rejected outright, matching the robustness-over-strictness stance
		// taken at hydration's trust boundary (§7).
		b.WriteString("x:")
		writeLenPrefixed(b, fmt.Sprintf("%#v", t))
	}
}

// writeLenPrefixed writes s prefixed with its byte length so that, e.g.,
// the two-element sequence ["ab", "c"] can never collide with the
// single-element sequence ["abc"].
func writeLenPrefixed(b *strings.Builder, s string) {
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteString(":")
	b.WriteString(s)
}

// KeyEqual reports whether two keys are structurally equal (ignoring map
// insertion order), i.e. Hash(a) == Hash(b).
func KeyEqual(a, b Key) bool {
	return Hash(a) == Hash(b)
}

// KeyPath navigates into a map-valued element of a sequence Key using a
// pointerstructure path (e.g. "/1/userID" reaches the "userID" field of
// the map at index 1), letting Filters.Predicate callbacks address deep
// fields without hand-rolled type assertions (§10.5).
func KeyPath(key Key, path string) (interface{}, error) {
	ptr, err := pointerstructure.Parse(path)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidKey, "parse path %q: %v", path, err)
	}
	val, err := ptr.Get(key)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidKey, "get path %q: %v", path, err)
	}
	return val, nil
}

// keyToSegments flattens a Key into an ordered list of path segments used
// by QueryCache's prefix index and by Filters' array-prefix partial-match
// semantics (§4.4). A bare string key is a single segment; a sequence key
// is one segment per element (map elements are further serialized via
// canonicalize so they participate as a single opaque segment).
func keyToSegments(key Key) []string {
	switch t := key.(type) {
	case string:
		return []string{t}
	case []interface{}:
		segs := make([]string, 0, len(t))
		for _, el := range t {
			if s, ok := el.(string); ok {
				segs = append(segs, s)
				continue
			}
			var sb strings.Builder
			canonicalize(&sb, el)
			segs = append(segs, sb.String())
		}
		return segs
	default:
		var sb strings.Builder
		canonicalize(&sb, key)
		return []string{sb.String()}
	}
}

// keyPrefixMatch reports whether candidate's segments begin with filter's
// segments, element-for-element (§4.4 "array keys act as prefix
// filters"). A string filter key only prefix-matches a candidate whose
// sole segment equals it exactly, matching the source's "string keys are
// compared for exact equality" carve-out.
func keyPrefixMatch(filter, candidate Key) bool {
	if _, ok := filter.(string); ok {
		return KeyEqual(filter, candidate)
	}
	fsegs := keyToSegments(filter)
	csegs := keyToSegments(candidate)
	if len(fsegs) > len(csegs) {
		return false
	}
	for i, s := range fsegs {
		if s != csegs[i] {
			return false
		}
	}
	return true
}
