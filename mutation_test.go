package qcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMutationCache(t *testing.T) *MutationCache {
	t.Helper()
	notify := NewNotifyManager(nil)
	return NewMutationCache(notify, NewBus(nil), nil)
}

func TestMutationExecuteSuccess(t *testing.T) {
	t.Parallel()

	mc := testMutationCache(t)
	var onMutateCalled, onSuccessCalled, onSettledCalled bool
	m := mc.Build(MutationOptions{
		Fn: func(ctx context.Context, variables interface{}) (interface{}, error) {
			return variables.(string) + "!", nil
		},
		OnMutate:  func(interface{}) { onMutateCalled = true },
		OnSuccess: func(data interface{}, variables interface{}) { onSuccessCalled = true },
		OnSettled: func(data interface{}, err error, variables interface{}) { onSettledCalled = true },
	})

	v, err := m.Execute(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi!", v)
	assert.True(t, onMutateCalled)
	assert.True(t, onSuccessCalled)
	assert.True(t, onSettledCalled)

	s := m.State()
	assert.Equal(t, StatusSuccess, s.Status)
	assert.True(t, s.HasData)
}

func TestMutationExecuteFailure(t *testing.T) {
	t.Parallel()

	mc := testMutationCache(t)
	var onErrorCalled bool
	m := mc.Build(MutationOptions{
		Fn: func(ctx context.Context, variables interface{}) (interface{}, error) {
			return nil, errBoom
		},
		OnError: func(err error, variables interface{}) { onErrorCalled = true },
	})

	_, err := m.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, errBoom)
	assert.True(t, onErrorCalled)
	assert.Equal(t, StatusError, m.State().Status)
}

func TestMutationExecuteNoFnReturnsError(t *testing.T) {
	t.Parallel()

	mc := testMutationCache(t)
	m := mc.Build(MutationOptions{})

	_, err := m.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, errMutationHasNoFn)
}

func TestMutationExecuteRetriesPerPolicy(t *testing.T) {
	t.Parallel()

	mc := testMutationCache(t)
	attempts := 0
	m := mc.Build(MutationOptions{
		Retry:      2,
		RetryDelay: func(int) time.Duration { return time.Millisecond },
		Fn: func(ctx context.Context, variables interface{}) (interface{}, error) {
			attempts++
			if attempts <= 2 {
				return nil, errBoom
			}
			return "ok", nil
		},
	})

	v, err := m.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, attempts)
}
