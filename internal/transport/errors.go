package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownSubgraph indicates no endpoint is configured for a subgraph.
	ErrUnknownSubgraph = errors.New("transport: unknown subgraph")
	// ErrClosed is returned by a Transport after Close.
	ErrClosed = errors.New("transport: closed")
)

// StatusError reports a non-2xx subgraph response.
type StatusError struct {
	Subgraph   string
	StatusCode int
	// Body holds the start of the response body.
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: subgraph %q responded with status %d", e.Subgraph, e.StatusCode)
}
