package qcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutationObserverSubscribeDeliversIdleInitially(t *testing.T) {
	t.Parallel()

	mc := testMutationCache(t)
	obs := NewMutationObserver(mc, MutationOptions{
		Fn: func(ctx context.Context, variables interface{}) (interface{}, error) {
			return "v", nil
		},
	})
	defer obs.Remove()

	var got MutationResult
	unsub := obs.Subscribe(func(r MutationResult) { got = r })
	defer unsub()

	assert.True(t, got.IsIdle)
}

func TestMutationObserverMutateUpdatesResult(t *testing.T) {
	t.Parallel()

	mc := testMutationCache(t)
	obs := NewMutationObserver(mc, MutationOptions{
		Fn: func(ctx context.Context, variables interface{}) (interface{}, error) {
			return variables, nil
		},
	})
	defer obs.Remove()

	v, err := obs.Mutate(context.Background(), "payload")
	require.NoError(t, err)
	assert.Equal(t, "payload", v)

	r := obs.computeResult()
	assert.True(t, r.IsSuccess)
	assert.Equal(t, "payload", r.Data)
}

func TestMutationObserverResetStartsFreshMutation(t *testing.T) {
	t.Parallel()

	mc := testMutationCache(t)
	obs := NewMutationObserver(mc, MutationOptions{
		Fn: func(ctx context.Context, variables interface{}) (interface{}, error) {
			return "v", nil
		},
	})
	defer obs.Remove()

	_, err := obs.Mutate(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, obs.computeResult().IsSuccess)

	obs.Reset()
	assert.True(t, obs.computeResult().IsIdle)
}

func TestMutationObserverRemoveUnsubscribes(t *testing.T) {
	t.Parallel()

	mc := testMutationCache(t)
	obs := NewMutationObserver(mc, MutationOptions{})
	m := obs.currentMutation()

	assert.Equal(t, 1, m.observers.Len())
	obs.Remove()
	assert.Equal(t, 0, m.observers.Len())
}
