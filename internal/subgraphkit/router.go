package subgraphkit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	executor "github.com/hanpama/fedgraph/internal/executor"
	registry "github.com/hanpama/fedgraph/internal/registry"
)

// Router dispatches subgraph requests to in-process services. Requests and
// responses go through JSON so resolvers see what an HTTP subgraph would.
type Router struct {
	mu       sync.RWMutex
	order    []string
	services map[string]*Service
}

var (
	_ executor.Fetcher = (*Router)(nil)
	_ registry.Source  = (*Router)(nil)
)

func NewRouter(services ...*Service) *Router {
	r := &Router{services: make(map[string]*Service)}
	for _, s := range services {
		r.Add(s)
	}
	return r
}

// Add registers s, replacing any service with the same name.
func (r *Router) Add(s *Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[s.name]; !ok {
		r.order = append(r.order, s.name)
	}
	r.services[s.name] = s
}

// Services implements registry.Source: one entry per service, in the order
// they were added, with no URL.
func (r *Router) Services(ctx context.Context) ([]registry.Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]registry.Service, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, registry.Service{Name: name, SDL: r.services[name].sdl})
	}
	return out, nil
}

// Fetch implements executor.Fetcher.
func (r *Router) Fetch(ctx context.Context, subgraph string, req *executor.Request) (*executor.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	s := r.services[subgraph]
	r.mu.RUnlock()
	if s == nil {
		return nil, fmt.Errorf("subgraphkit: unknown subgraph %q", subgraph)
	}

	var in executor.Request
	if err := roundTrip(req, &in); err != nil {
		return nil, err
	}
	var out executor.Response
	if err := roundTrip(s.Execute(ctx, &in), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func roundTrip(in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("subgraphkit: encode: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("subgraphkit: decode: %w", err)
	}
	return nil
}
