package executor

import (
	"context"
	"fmt"
	"sync"
)

// MockHandler answers the requests a MockFetcher receives for one subgraph.
type MockHandler func(ctx context.Context, req *Request) (*Response, error)

// MockCall records one request received by a MockFetcher.
type MockCall struct {
	Subgraph string
	Request  *Request
}

// MockFetcher is a Fetcher backed by per-subgraph handlers. It records every
// call in arrival order.
type MockFetcher struct {
	mu       sync.Mutex
	handlers map[string]MockHandler
	calls    []MockCall
}

func NewMockFetcher(handlers map[string]MockHandler) *MockFetcher {
	if handlers == nil {
		handlers = make(map[string]MockHandler)
	}
	return &MockFetcher{handlers: handlers}
}

func (m *MockFetcher) SetHandler(subgraph string, h MockHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[subgraph] = h
}

func (m *MockFetcher) Fetch(ctx context.Context, subgraph string, req *Request) (*Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Subgraph: subgraph, Request: req})
	h := m.handlers[subgraph]
	m.mu.Unlock()
	if h == nil {
		return nil, fmt.Errorf("no handler for subgraph %q", subgraph)
	}
	return h(ctx, req)
}

// Calls returns the recorded calls.
func (m *MockFetcher) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// CallsTo returns the recorded calls to subgraph.
func (m *MockFetcher) CallsTo(subgraph string) []MockCall {
	var out []MockCall
	for _, c := range m.Calls() {
		if c.Subgraph == subgraph {
			out = append(out, c)
		}
	}
	return out
}

// NewMockDataHandler always responds with data.
func NewMockDataHandler(data map[string]any) MockHandler {
	return func(ctx context.Context, req *Request) (*Response, error) {
		return &Response{Data: data}, nil
	}
}

// NewMockErrorHandler always fails with err.
func NewMockErrorHandler(err error) MockHandler {
	return func(ctx context.Context, req *Request) (*Response, error) {
		return nil, err
	}
}

// NewMockBlockingHandler blocks until ctx ends.
func NewMockBlockingHandler() MockHandler {
	return func(ctx context.Context, req *Request) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}
