// Package transport sends subgraph requests over HTTP. Each subgraph gets its
// own connection pool, reused across requests.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	eventbus "github.com/hanpama/fedgraph/internal/eventbus"
	events "github.com/hanpama/fedgraph/internal/events"
	executor "github.com/hanpama/fedgraph/internal/executor"
	reqid "github.com/hanpama/fedgraph/internal/reqid"
)

const maxErrorBody = 512

// Transport is an executor.Fetcher speaking GraphQL over HTTP.
type Transport struct {
	opts *Options

	mu        sync.RWMutex
	endpoints map[string]string
	clients   map[string]*http.Client // key: subgraph
	closed    atomic.Bool
}

var _ executor.Fetcher = (*Transport)(nil)

// New returns a transport for the given subgraph name to URL map.
func New(endpoints map[string]string, opts ...Option) *Transport {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	t := &Transport{opts: o, clients: make(map[string]*http.Client)}
	t.SetEndpoints(endpoints)
	return t
}

// SetEndpoints replaces the subgraph endpoints. Pools of subgraphs whose URL
// changed or that were removed are closed.
func (t *Transport) SetEndpoints(endpoints map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, c := range t.clients {
		if next, ok := endpoints[name]; !ok || next != t.endpoints[name] {
			c.CloseIdleConnections()
			delete(t.clients, name)
		}
	}
	t.endpoints = maps.Clone(endpoints)
}

func (t *Transport) Fetch(ctx context.Context, subgraph string, req *executor.Request) (*executor.Response, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	url, client, err := t.client(subgraph)
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok && t.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.RequestTimeout)
		defer cancel()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("transport: encode request for subgraph %q: %w", subgraph, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("transport: build request for subgraph %q: %w", subgraph, err)
	}
	for k, vs := range HeadersFromContext(ctx) {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if id, ok := reqid.FromContext(ctx); ok {
		httpReq.Header.Set(reqid.Header, id)
	}

	fetchID := uuid.NewString()
	start := time.Now()
	eventbus.Publish(ctx, events.SubgraphFetchStart{FetchID: fetchID, Subgraph: subgraph, URL: url})
	resp, status, err := t.do(client, httpReq, subgraph)
	eventbus.Publish(ctx, events.SubgraphFetchFinish{
		FetchID:  fetchID,
		Subgraph: subgraph,
		URL:      url,
		Status:   status,
		Err:      err,
		Duration: time.Since(start),
	})
	if err != nil {
		t.opts.Logger.Debug("subgraph request failed",
			zap.String("subgraph", subgraph),
			zap.String("url", url),
			zap.Int("status", status),
			zap.Error(err))
	}
	return resp, err
}

func (t *Transport) do(client *http.Client, req *http.Request, subgraph string) (*executor.Response, int, error) {
	httpResp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("transport: subgraph %q: %w", subgraph, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, t.opts.MaxResponseBytes+1))
	if err != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("transport: read response of subgraph %q: %w", subgraph, err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return nil, httpResp.StatusCode, &StatusError{Subgraph: subgraph, StatusCode: httpResp.StatusCode, Body: string(data)}
	}
	if int64(len(data)) > t.opts.MaxResponseBytes {
		return nil, httpResp.StatusCode, fmt.Errorf("transport: response of subgraph %q exceeds %d bytes", subgraph, t.opts.MaxResponseBytes)
	}
	var out executor.Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("transport: malformed response from subgraph %q: %w", subgraph, err)
	}
	return &out, httpResp.StatusCode, nil
}

func (t *Transport) client(subgraph string) (string, *http.Client, error) {
	t.mu.RLock()
	url, ok := t.endpoints[subgraph]
	c := t.clients[subgraph]
	t.mu.RUnlock()
	if !ok {
		return "", nil, fmt.Errorf("%w %q", ErrUnknownSubgraph, subgraph)
	}
	if c != nil {
		return url, c, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if c = t.clients[subgraph]; c == nil {
		c = &http.Client{Transport: t.newPool()}
		t.clients[subgraph] = c
	}
	return url, c, nil
}

func (t *Transport) newPool() *http.Transport {
	n := t.opts.MaxConnsPerSubgraph
	if n <= 0 {
		n = 16
	}
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.MaxConnsPerHost = n
	base.MaxIdleConnsPerHost = n
	base.MaxIdleConns = n
	return base
}

func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.clients {
		c.CloseIdleConnections()
	}
	t.clients = map[string]*http.Client{}
	return nil
}
