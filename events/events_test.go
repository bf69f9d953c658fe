package events

import "testing"

var (
	_ Event = (*Trace)(nil)
	_ Event = (*QueryAdded)(nil)
	_ Event = (*QueryRemoved)(nil)
	_ Event = (*FetchStart)(nil)
	_ Event = (*FetchSuccess)(nil)
	_ Event = (*FetchError)(nil)
	_ Event = (*RetryAttempt)(nil)
	_ Event = (*MaxRetries)(nil)
	_ Event = (*RetryPaused)(nil)
	_ Event = (*RetryResumed)(nil)
	_ Event = (*Canceled)(nil)
	_ Event = (*Invalidated)(nil)
	_ Event = (*ObserverSubscribed)(nil)
	_ Event = (*ObserverUnsubscribed)(nil)
	_ Event = (*MutationStateChanged)(nil)
)

func TestHandlerReceivesEveryVariant(t *testing.T) {
	var seen []string
	var handle Handler = func(e Event) {
		switch e.(type) {
		case Trace, QueryAdded, QueryRemoved, FetchStart, FetchSuccess,
			FetchError, RetryAttempt, MaxRetries, RetryPaused, RetryResumed,
			Canceled, Invalidated, ObserverSubscribed, ObserverUnsubscribed,
			MutationStateChanged:
			seen = append(seen, "ok")
		default:
			t.Errorf("unexpected event type: %T", e)
		}
	}

	handle(Trace{Message: "hi"})
	handle(FetchStart{Hash: "h1"})
	handle(MaxRetries{Hash: "h1", Count: 3})
	handle(MutationStateChanged{ID: "m1", Status: "success"})

	if len(seen) != 4 {
		t.Errorf("expected 4 handled events, got %d", len(seen))
	}
}
