package qcache

import "testing"

type fakePlatform struct {
	visible bool
	online  bool
	onFocus func()
	onLine  func()
}

func (p *fakePlatform) IsVisible() bool { return p.visible }
func (p *fakePlatform) IsOnline() bool  { return p.online }
func (p *fakePlatform) Watch(onFocus, onOnline func()) func() {
	p.onFocus = onFocus
	p.onLine = onOnline
	return func() {
		p.onFocus = nil
		p.onLine = nil
	}
}

func TestNoopPlatformAlwaysVisibleAndOnline(t *testing.T) {
	t.Parallel()

	var p NoopPlatform
	if !p.IsVisible() || !p.IsOnline() {
		t.Errorf("expected NoopPlatform to report visible and online")
	}
	unwatch := p.Watch(func() {}, func() {})
	unwatch()
}

func TestBusIsVisibleAndOnline(t *testing.T) {
	t.Parallel()

	p := &fakePlatform{visible: true, online: false}
	b := NewBus(p)
	if b.IsVisibleAndOnline() {
		t.Errorf("expected offline platform to make the bus report not visible-and-online")
	}

	p.online = true
	if !b.IsVisibleAndOnline() {
		t.Errorf("expected bus to reflect platform's current online state")
	}
}

type fakeMountedClient struct {
	focused int
	onlined int
}

func (c *fakeMountedClient) OnFocus()  { c.focused++ }
func (c *fakeMountedClient) OnOnline() { c.onlined++ }

func TestBusMountFiresOnFocusAndOnOnline(t *testing.T) {
	t.Parallel()

	p := &fakePlatform{visible: true, online: true}
	b := NewBus(p)

	c := &fakeMountedClient{}
	unmount := b.Mount(c)

	p.onFocus()
	p.onLine()
	if c.focused != 1 || c.onlined != 1 {
		t.Errorf("expected mounted client to receive both signals, got %+v", c)
	}

	unmount()
	p.onFocus()
	if c.focused != 1 {
		t.Errorf("expected unmounted client to not receive further signals")
	}
}

func TestBusCloseUnwatches(t *testing.T) {
	t.Parallel()

	p := &fakePlatform{visible: true, online: true}
	b := NewBus(p)
	c := &fakeMountedClient{}
	b.Mount(c)

	b.Close()
	if p.onFocus != nil {
		t.Errorf("expected Close to unwatch the platform")
	}
}
