package qcache

import (
	"sync"

	"github.com/hashicorp/go-hclog"
)

// BatchNotifyFunc wraps a flush; installed via NotifyManager.SetBatchNotifyFunction
// it lets a UI binding run every flush inside its own render transaction.
type BatchNotifyFunc func(fn func())

// NotifyManager is a process-wide scheduler that coalesces callbacks so
// that many state changes made during one logical step yield one batch of
// observer notifications. There is normally one NotifyManager per Client,
// shared by every Query/Observer the client owns.
type NotifyManager struct {
	mux   sync.Mutex
	depth int
	queue []func()

	batchNotifyFn BatchNotifyFunc
	logger        hclog.Logger
	metrics       *Metrics
}

// NewNotifyManager constructs a NotifyManager. A nil logger is replaced
// with a no-op logger.
func NewNotifyManager(logger hclog.Logger) *NotifyManager {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &NotifyManager{logger: logger.Named("notify")}
}

// SetMetrics installs m as the batch-size sample sink; nil is a no-op.
func (m *NotifyManager) SetMetrics(metrics *Metrics) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.metrics = metrics
}

// Schedule enqueues fn. If no batch is currently open, it flushes
// immediately (there is no microtask queue in Go; "immediately" is the
// closest synchronous analogue safe to call from any goroutine holding no
// Query locks). If a batch is open, fn is appended to it and fires when
// the outermost Batch call returns.
func (m *NotifyManager) Schedule(fn func()) {
	m.mux.Lock()
	if m.depth > 0 {
		m.queue = append(m.queue, fn)
		m.mux.Unlock()
		return
	}
	m.mux.Unlock()
	m.flushOne(fn)
}

// Batch opens a batch, runs fn synchronously, then closes the batch and
// flushes every callback scheduled during fn's execution, in enqueue
// order, exactly once each. Nested Batch calls share the outermost batch:
// only the outermost call flushes. The return value of fn is returned.
func (m *NotifyManager) Batch(fn func() (interface{}, error)) (interface{}, error) {
	m.mux.Lock()
	m.depth++
	outermost := m.depth == 1
	m.mux.Unlock()

	result, err := fn()

	m.mux.Lock()
	m.depth--
	var toRun []func()
	if outermost {
		toRun, m.queue = m.queue, nil
	}
	m.mux.Unlock()

	if outermost {
		m.flushAll(toRun)
	}
	return result, err
}

// BatchVoid is a convenience wrapper around Batch for callers that don't
// need a return value.
func (m *NotifyManager) BatchVoid(fn func()) {
	_, _ = m.Batch(func() (interface{}, error) {
		fn()
		return nil, nil
	})
}

// BatchCalls lifts fn so each invocation is deferred into Schedule instead
// of running synchronously; useful for adapting a hot, frequently-called
// mutator into one that coalesces with whatever batch is open when it is
// eventually invoked.
func (m *NotifyManager) BatchCalls(fn func()) func() {
	return func() {
		m.Schedule(fn)
	}
}

// SetBatchNotifyFunction installs an outer wrapper invoked around each
// flush. UI bindings use this to wrap a burst of notifications in a single
// render transaction.
func (m *NotifyManager) SetBatchNotifyFunction(wrapper BatchNotifyFunc) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.batchNotifyFn = wrapper
}

func (m *NotifyManager) flushOne(fn func()) {
	m.flushAll([]func(){fn})
}

func (m *NotifyManager) flushAll(fns []func()) {
	if len(fns) == 0 {
		return
	}
	m.mux.Lock()
	wrapper := m.batchNotifyFn
	metrics := m.metrics
	m.mux.Unlock()
	metrics.AddNotifyBatchSize(len(fns))

	run := func() {
		for _, fn := range fns {
			m.runSafely(fn)
		}
	}
	if wrapper != nil {
		wrapper(run)
		return
	}
	run()
}

// runSafely invokes fn, recovering a panic so that one failing callback
// never prevents the remaining callbacks in a batch from running (§4.1
// guarantee; panics surface via the logger rather than propagating, the
// closest Go analogue of the source's "unhandled-error channel", §7).
func (m *NotifyManager) runSafely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic in notified callback", "panic", r)
		}
	}()
	fn()
}
