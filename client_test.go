package qcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientFetchQueryDataReturnsFetchedValue(t *testing.T) {
	t.Parallel()

	client := testClient(t)
	v, err := client.FetchQueryData(context.Background(), "todos", QueryOptions{
		Fn: func(ctx context.Context) (interface{}, error) { return "v", nil },
	})
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestClientPrefetchQueryDefaultsNoRetry(t *testing.T) {
	t.Parallel()

	client := testClient(t)
	var attempts int
	client.PrefetchQuery(context.Background(), "todos", QueryOptions{
		Fn: func(ctx context.Context) (interface{}, error) {
			attempts++
			return nil, errBoom
		},
	})

	assert.Eventually(t, func() bool { return attempts == 1 }, time.Second, time.Millisecond)
}

func TestClientGetSetQueryData(t *testing.T) {
	t.Parallel()

	client := testClient(t)
	_, ok := client.GetQueryData("todos")
	assert.False(t, ok)

	client.SetQueryData("todos", func(old interface{}, had bool) interface{} { return "v" })
	v, ok := client.GetQueryData("todos")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestClientGetQueryState(t *testing.T) {
	t.Parallel()

	client := testClient(t)
	client.SetQueryData("todos", func(old interface{}, had bool) interface{} { return "v" })

	s, ok := client.GetQueryState("todos")
	require.True(t, ok)
	assert.Equal(t, StatusSuccess, s.Status)
}

func TestClientRemoveQueries(t *testing.T) {
	t.Parallel()

	client := testClient(t)
	client.Queries.Build("todos", QueryOptions{})
	client.RemoveQueries(Filters{})

	assert.Len(t, client.Queries.GetAll(), 0)
}

func TestClientCancelQueriesReverts(t *testing.T) {
	t.Parallel()

	client := testClient(t)
	started := make(chan struct{})
	release := make(chan struct{})
	q := client.Queries.Build("todos", QueryOptions{
		InitialData: "cached",
		Fn: func(ctx context.Context) (interface{}, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	go func() { _, _ = q.Fetch(context.Background(), QueryOptions{}) }()
	<-started
	client.CancelQueries(Filters{}, CancelOptions{Revert: true})

	assert.Eventually(t, func() bool { return !q.IsFetching() }, time.Second, time.Millisecond)
	assert.Equal(t, "cached", q.State().Data)
	close(release)
}

func TestClientInvalidateQueriesRefetchesActive(t *testing.T) {
	t.Parallel()

	client := testClient(t)
	var fetches int
	obs := client.WatchQuery("todos", ObserverOptions{
		QueryOptions: QueryOptions{Fn: func(ctx context.Context) (interface{}, error) {
			fetches++
			return "v", nil
		}},
	})
	defer obs.Remove()

	assert.Eventually(t, func() bool { return fetches >= 1 }, time.Second, time.Millisecond)
	before := fetches

	err := client.InvalidateQueries(context.Background(), Filters{}, true)
	require.NoError(t, err)
	assert.Greater(t, fetches, before)
}

func TestClientWatchQueryAndMutate(t *testing.T) {
	t.Parallel()

	client := testClient(t)
	obs := client.WatchQuery("todos", ObserverOptions{
		QueryOptions: QueryOptions{InitialData: "v"},
	})
	defer obs.Remove()

	assert.Equal(t, "v", obs.computeResult().Data)

	v, err := client.Mutate(context.Background(), MutationOptions{
		Fn: func(ctx context.Context, variables interface{}) (interface{}, error) {
			return variables, nil
		},
	}, "payload")
	require.NoError(t, err)
	assert.Equal(t, "payload", v)
}

func TestClientQueryDefaultsAppliedByPrefix(t *testing.T) {
	t.Parallel()

	client := testClient(t)
	client.SetQueryDefaults([]interface{}{"todos"}, QueryOptions{StaleTime: time.Hour})

	opts, ok := client.GetQueryDefaults([]interface{}{"todos", "list"})
	require.True(t, ok)
	assert.Equal(t, time.Hour, opts.StaleTime)

	_, ok = client.GetQueryDefaults([]interface{}{"users"})
	assert.False(t, ok)
}

func TestClientMountRevalidatesOnFocus(t *testing.T) {
	t.Parallel()

	client := testClient(t)
	unmount := client.Mount()
	defer unmount()

	var fetches int
	obs := client.WatchQuery("todos", ObserverOptions{
		QueryOptions: QueryOptions{
			InitialData: "v",
			Fn: func(ctx context.Context) (interface{}, error) {
				fetches++
				return "v2", nil
			},
		},
		RefetchOnWindowFocus: "always",
	})
	defer obs.Remove()

	client.OnFocus()
	assert.Eventually(t, func() bool { return fetches >= 1 }, time.Second, time.Millisecond)
}

func TestClientClearEmptiesBothCaches(t *testing.T) {
	t.Parallel()

	client := testClient(t)
	client.Queries.Build("todos", QueryOptions{})
	client.Mutations.Build(MutationOptions{})

	client.Clear()
	assert.Len(t, client.Queries.GetAll(), 0)
	assert.Len(t, client.Mutations.GetAll(), 0)
}
