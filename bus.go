package qcache

import "sync"

// Platform supplies the environment-level focus/online signals the Bus
// relays to mounted clients. It is the fixed interface to the out-of-scope
// "window-focus and network-online event sources" (SPEC_FULL.md
// Out-of-scope); the default NoopPlatform never fires either, and a host
// program wires its own implementation (browser visibilitychange/online
// events, a mobile app's lifecycle hooks, a server's liveness probe, etc.).
type Platform interface {
	// IsVisible reports current window/app-foreground visibility.
	IsVisible() bool
	// IsOnline reports current network connectivity.
	IsOnline() bool
	// Watch registers onFocus/onOnline callbacks to be invoked whenever
	// the platform observes the corresponding transition back to
	// true, and returns a function that unregisters them.
	Watch(onFocus, onOnline func()) (unwatch func())
}

// NoopPlatform reports always-visible, always-online and never fires a
// transition; suitable for servers and tests with no ambient focus/online
// concept.
type NoopPlatform struct{}

func (NoopPlatform) IsVisible() bool                       { return true }
func (NoopPlatform) IsOnline() bool                        { return true }
func (NoopPlatform) Watch(onFocus, onOnline func()) func() { return func() {} }

// Bus is the process-wide Focus/Online revalidation bus (§4 "Focus/Online
// Bus"). Mounted clients are notified whenever the platform reports the
// process becoming visible again or regaining connectivity; a Bus with no
// mounted clients and a NoopPlatform is a correct, inert default.
type Bus struct {
	mux      sync.RWMutex
	platform Platform
	unwatch  func()
	mounted  []mountedClient
}

type mountedClient interface {
	OnFocus()
	OnOnline()
}

// NewBus constructs a Bus over platform. A nil platform is replaced by
// NoopPlatform.
func NewBus(platform Platform) *Bus {
	if platform == nil {
		platform = NoopPlatform{}
	}
	b := &Bus{platform: platform}
	b.unwatch = platform.Watch(b.fireFocus, b.fireOnline)
	return b
}

// IsVisibleAndOnline reports whether the platform currently considers the
// process both foregrounded and connected; Retryer treats either false as
// grounds to pause a pending retry (§4.2).
func (b *Bus) IsVisibleAndOnline() bool {
	b.mux.RLock()
	p := b.platform
	b.mux.RUnlock()
	return p.IsVisible() && p.IsOnline()
}

// IsVisible reports whether the platform currently considers the process
// foregrounded, independent of connectivity (§4.5
// "refetchIntervalInBackground").
func (b *Bus) IsVisible() bool {
	b.mux.RLock()
	p := b.platform
	b.mux.RUnlock()
	return p.IsVisible()
}

// Mount registers c to receive OnFocus/OnOnline callbacks, returning an
// unmount function (§4.8 "mount/unmount").
func (b *Bus) Mount(c mountedClient) (unmount func()) {
	b.mux.Lock()
	b.mounted = append(b.mounted, c)
	b.mux.Unlock()

	return func() {
		b.mux.Lock()
		defer b.mux.Unlock()
		for i, m := range b.mounted {
			if m == c {
				b.mounted = append(b.mounted[:i], b.mounted[i+1:]...)
				break
			}
		}
	}
}

// Close stops relaying platform events.
func (b *Bus) Close() {
	b.mux.Lock()
	unwatch := b.unwatch
	b.mux.Unlock()
	if unwatch != nil {
		unwatch()
	}
}

func (b *Bus) fireFocus() {
	for _, c := range b.snapshot() {
		c.OnFocus()
	}
}

func (b *Bus) fireOnline() {
	for _, c := range b.snapshot() {
		c.OnOnline()
	}
}

func (b *Bus) snapshot() []mountedClient {
	b.mux.RLock()
	defer b.mux.RUnlock()
	out := make([]mountedClient, len(b.mounted))
	copy(out, b.mounted)
	return out
}
