/*
Package qcache is an in-process asynchronous data cache.

It mediates between application code and remote data sources by memoizing
the in-flight and settled results of caller-supplied fetch functions,
keyed by structured identifiers, and by notifying interested observers
when cached state changes. It also provides symmetric storage for
mutations, whose lifecycle (idle, running, success, error) is tracked
independently of any cache entry.

A minimal fetch-and-watch loop:

	client := qcache.NewClient(qcache.ClientOptions{})
	obs := client.WatchQuery("user:42", qcache.ObserverOptions{
		QueryOptions: qcache.QueryOptions{
			Fn: func(ctx context.Context) (interface{}, error) {
				return fetchUser(ctx, 42)
			},
		},
	})
	unsubscribe := obs.Subscribe(func(r qcache.Result) {
		fmt.Println(r.Data, r.IsFetching, r.Error)
	})
	defer unsubscribe()

*/
package qcache
