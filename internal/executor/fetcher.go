package executor

import "context"

// Request is a GraphQL request sent to a subgraph.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Response is a decoded subgraph response body.
type Response struct {
	Data   map[string]any `json:"data"`
	Errors []*RemoteError `json:"errors,omitempty"`
}

// RemoteError is an error reported by a subgraph.
type RemoteError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Fetcher sends one request to the named subgraph.
//
// Fetch returns an error only when no usable response was received: a
// network failure, a non-2xx status or an undecodable body. Errors reported
// inside a well-formed response belong in Response.Errors.
type Fetcher interface {
	Fetch(ctx context.Context, subgraph string, req *Request) (*Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, subgraph string, req *Request) (*Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, subgraph string, req *Request) (*Response, error) {
	return f(ctx, subgraph, req)
}
