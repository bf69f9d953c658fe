package qcache

import "sync"

// QueriesObserver fans a shared ObserverOptions out across a dynamic list
// of keys, maintaining one child QueryObserver per key and emitting a
// combined, key-ordered Result list whenever any child updates (§4.5,
// "watchQueries"). Adapted from the teacher's multi-template Watcher
// registration in watcher.go, generalized from "one Template per config
// stanza" to "one Query per key in a caller-supplied list".
type QueriesObserver struct {
	cache *QueryCache
	opts  ObserverOptions

	mux       sync.Mutex
	hashes    []string // current key order, by hash
	observers map[string]*QueryObserver

	listenerMux sync.Mutex
	listener    func([]Result)
}

// NewQueriesObserver builds a QueryObserver for each of keys and returns
// the fan-out observer.
func NewQueriesObserver(cache *QueryCache, keys []Key, opts ObserverOptions) *QueriesObserver {
	qo := &QueriesObserver{
		cache:     cache,
		opts:      opts,
		observers: make(map[string]*QueryObserver),
	}
	qo.SetKeys(keys)
	return qo
}

// SetKeys replaces the observed key list, reusing child observers whose
// hash is still present, subscribing new ones, and removing ones no
// longer named, then re-publishes the combined result (§4.5).
func (qo *QueriesObserver) SetKeys(keys []Key) {
	seen := newOrderedStringSlotSet(len(keys))
	hashes := make([]string, 0, len(keys))

	qo.mux.Lock()
	next := make(map[string]*QueryObserver, len(keys))
	var added []*QueryObserver
	for _, k := range keys {
		hash := Hash(k)
		if !seen.Add(hash) {
			continue // duplicate key in the list; first occurrence wins
		}
		hashes = append(hashes, hash)
		if existing, ok := qo.observers[hash]; ok {
			next[hash] = existing
			continue
		}
		o := NewQueryObserver(qo.cache, k, qo.opts)
		added = append(added, o)
		next[hash] = o
	}

	var removed []*QueryObserver
	for hash, o := range qo.observers {
		if _, stillPresent := next[hash]; !stillPresent {
			removed = append(removed, o)
		}
	}

	qo.hashes = hashes
	qo.observers = next
	qo.mux.Unlock()

	for _, o := range added {
		o.Subscribe(func(Result) { qo.publish() })
	}
	for _, o := range removed {
		o.Remove()
	}
	qo.publish()
}

// Subscribe registers listener to receive the combined Result list,
// calling it once immediately.
func (qo *QueriesObserver) Subscribe(listener func([]Result)) func() {
	qo.listenerMux.Lock()
	qo.listener = listener
	qo.listenerMux.Unlock()

	listener(qo.results())

	return func() {
		qo.listenerMux.Lock()
		qo.listener = nil
		qo.listenerMux.Unlock()
	}
}

// Remove unsubscribes every child observer.
func (qo *QueriesObserver) Remove() {
	qo.mux.Lock()
	observers := make([]*QueryObserver, 0, len(qo.observers))
	for _, o := range qo.observers {
		observers = append(observers, o)
	}
	qo.mux.Unlock()

	for _, o := range observers {
		o.Remove()
	}
}

func (qo *QueriesObserver) results() []Result {
	qo.mux.Lock()
	hashes := make([]string, len(qo.hashes))
	copy(hashes, qo.hashes)
	observers := qo.observers
	qo.mux.Unlock()

	out := make([]Result, 0, len(hashes))
	for _, hash := range hashes {
		if o, ok := observers[hash]; ok {
			out = append(out, o.computeResult())
		}
	}
	return out
}

func (qo *QueriesObserver) publish() {
	qo.listenerMux.Lock()
	listener := qo.listener
	qo.listenerMux.Unlock()
	if listener != nil {
		listener(qo.results())
	}
}
