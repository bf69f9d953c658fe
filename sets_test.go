package qcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeObserverHandle struct {
	idv string
}

func (f *fakeObserverHandle) id() string     { return f.idv }
func (f *fakeObserverHandle) onQueryUpdate() {}

func TestObserverSetAddPreservesInsertionOrder(t *testing.T) {
	t.Parallel()

	s := newObserverSet()
	a := &fakeObserverHandle{idv: "a"}
	b := &fakeObserverHandle{idv: "b"}
	c := &fakeObserverHandle{idv: "c"}

	s.Add(b)
	s.Add(a)
	s.Add(c)

	ids := make([]string, 0, 3)
	for _, o := range s.List() {
		ids = append(ids, o.id())
	}
	assert.Equal(t, []string{"b", "a", "c"}, ids)
}

func TestObserverSetAddDuplicateReturnsFalse(t *testing.T) {
	t.Parallel()

	s := newObserverSet()
	a := &fakeObserverHandle{idv: "a"}
	assert.True(t, s.Add(a))
	assert.False(t, s.Add(a))
	assert.Equal(t, 1, s.Len())
}

func TestObserverSetRemove(t *testing.T) {
	t.Parallel()

	s := newObserverSet()
	a := &fakeObserverHandle{idv: "a"}
	s.Add(a)

	assert.True(t, s.Remove("a"))
	assert.False(t, s.Remove("a"))
	assert.Equal(t, 0, s.Len())
}

func TestOrderedStringSlotSetDedupes(t *testing.T) {
	t.Parallel()

	s := newOrderedStringSlotSet(4)
	assert.True(t, s.Add("a"))
	assert.True(t, s.Add("b"))
	assert.False(t, s.Add("a"))

	assert.Equal(t, []string{"a", "b"}, s.List())
	assert.True(t, s.Has("b"))
	assert.False(t, s.Has("c"))
}
