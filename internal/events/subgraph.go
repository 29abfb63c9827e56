package events

import "time"

// SubgraphFetchStart is emitted before a request is sent to a subgraph.
// FetchID pairs it with its SubgraphFetchFinish.
type SubgraphFetchStart struct {
	FetchID  string
	Subgraph string
	URL      string
}

// SubgraphFetchFinish is emitted after a subgraph request completes.
// Status is zero when no HTTP response was received.
type SubgraphFetchFinish struct {
	FetchID  string
	Subgraph string
	URL      string
	Status   int
	Err      error
	Duration time.Duration
}

// CompositionFinish is emitted after every composition attempt.
type CompositionFinish struct {
	Subgraphs []string
	Err       error
	Duration  time.Duration
}
