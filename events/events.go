// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package events

import "time"

// Handler is the interface of the callback function for receiving events.
type Handler func(Event)

// Event is used to type restrict the Events.
type Event interface {
	isEvent()
}

// Trace is useful to see some details of what's going on.
type Trace struct {
	event
	ID      string
	Message string
}

// QueryAdded indicates a new Query was built and inserted into the cache.
type QueryAdded struct {
	event
	Hash string
}

// QueryRemoved indicates a Query's retention timer expired (or it was
// removed explicitly) and it was dropped from the cache.
type QueryRemoved struct {
	event
	Hash string
}

// FetchStart indicates a fetch began for the given query hash.
type FetchStart struct {
	event
	Hash string
}

// FetchSuccess indicates a fetch completed and new data was stored.
type FetchSuccess struct {
	event
	Hash string
	Data interface{}
}

// FetchError indicates a single fetch attempt failed; the retry policy may
// still retry.
type FetchError struct {
	event
	Hash    string
	Error   error
	Attempt int
}

// RetryAttempt indicates a tracked call is being retried.
type RetryAttempt struct {
	event
	Hash    string
	Error   error
	Attempt int
	Sleep   time.Duration
}

// MaxRetries indicates the maximum number of retries has been reached (and
// failed); the Query transitions to the error state.
type MaxRetries struct {
	event
	Hash  string
	Count int
}

// RetryPaused indicates a pending retry entered the paused state because the
// focus/online bus reports not-visible or offline.
type RetryPaused struct {
	event
	Hash string
}

// RetryResumed indicates a paused retry resumed.
type RetryResumed struct {
	event
	Hash string
}

// Canceled indicates an in-flight fetch was canceled.
type Canceled struct {
	event
	Hash   string
	Revert bool
}

// Invalidated indicates a Query was marked stale-on-demand.
type Invalidated struct {
	event
	Hash string
}

// ObserverSubscribed indicates an observer subscribed to a query, possibly
// canceling a pending retention timer.
type ObserverSubscribed struct {
	event
	Hash       string
	ObserverID string
}

// ObserverUnsubscribed indicates an observer unsubscribed; if it was the
// last one, a retention timer is started.
type ObserverUnsubscribed struct {
	event
	Hash       string
	ObserverID string
}

// MutationStateChanged indicates a Mutation's lifecycle state changed.
type MutationStateChanged struct {
	event
	ID     string
	Status string
}

// event is embedded to satisfy the Event interface.
type event struct{}

func (event) isEvent() {}
