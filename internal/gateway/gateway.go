// Package gateway ties composition, planning and execution together behind a
// single Execute call, and keeps the live supergraph current.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	compose "github.com/hanpama/fedgraph/internal/compose"
	eventbus "github.com/hanpama/fedgraph/internal/eventbus"
	events "github.com/hanpama/fedgraph/internal/events"
	executor "github.com/hanpama/fedgraph/internal/executor"
	introspection "github.com/hanpama/fedgraph/internal/introspection"
	language "github.com/hanpama/fedgraph/internal/language"
	planner "github.com/hanpama/fedgraph/internal/planner"
	registry "github.com/hanpama/fedgraph/internal/registry"
	supergraph "github.com/hanpama/fedgraph/internal/supergraph"
)

// Gateway-level error codes reported in extensions.code.
const (
	CodeParseFailed            = "GRAPHQL_PARSE_FAILED"
	CodeValidationFailed       = "GRAPHQL_VALIDATION_FAILED"
	CodeRequestCancelled       = "REQUEST_CANCELLED"
	CodeCompositionUnavailable = "COMPOSITION_UNAVAILABLE"
	CodeInternal               = "INTERNAL_SERVER_ERROR"
)

// Request is one client operation.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Gateway serves client operations against the current supergraph.
type Gateway struct {
	source    registry.Source
	exec      *executor.Executor
	logger    *zap.Logger
	onCompose []func(*supergraph.Supergraph)
	execOpts  []executor.Option

	// introspection answers __schema and __type locally.
	introspection bool

	reload  sync.Mutex
	current atomic.Pointer[composition]
}

type composition struct {
	supergraph *supergraph.Supergraph
	services   []registry.Service
}

type Option func(*Gateway)

func WithLogger(l *zap.Logger) Option { return func(g *Gateway) { g.logger = l } }

// WithIntrospection enables or disables __schema and __type queries.
func WithIntrospection(enabled bool) Option {
	return func(g *Gateway) { g.introspection = enabled }
}

// WithExecutorOptions configures the plan executor.
func WithExecutorOptions(opts ...executor.Option) Option {
	return func(g *Gateway) { g.execOpts = append(g.execOpts, opts...) }
}

// WithOnCompose registers fn to run after every successful composition,
// before the new supergraph serves requests.
func WithOnCompose(fn func(*supergraph.Supergraph)) Option {
	return func(g *Gateway) { g.onCompose = append(g.onCompose, fn) }
}

// New composes the subgraphs listed by source. A composition failure is
// returned: the gateway never starts without a supergraph.
func New(ctx context.Context, source registry.Source, fetcher executor.Fetcher, opts ...Option) (*Gateway, error) {
	g := &Gateway{source: source, logger: zap.NewNop(), introspection: true}
	for _, opt := range opts {
		opt(g)
	}
	g.exec = executor.New(fetcher, append([]executor.Option{executor.WithLogger(g.logger)}, g.execOpts...)...)
	if err := g.Reload(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

// Supergraph returns the live supergraph.
func (g *Gateway) Supergraph() *supergraph.Supergraph {
	if c := g.current.Load(); c != nil {
		return c.supergraph
	}
	return nil
}

// Reload re-reads the subgraph list and recomposes when it changed. On failure
// the previous supergraph stays live.
func (g *Gateway) Reload(ctx context.Context) error {
	g.reload.Lock()
	defer g.reload.Unlock()

	start := time.Now()
	services, err := g.source.Services(ctx)
	if err != nil {
		err = fmt.Errorf("gateway: list subgraphs: %w", err)
		g.finishComposition(ctx, nil, err, start)
		return err
	}
	prev := g.current.Load()
	if prev != nil && registry.Equal(prev.services, services) {
		return nil
	}
	sg, err := compose.FromServices(services)
	if err != nil {
		g.finishComposition(ctx, services, err, start)
		return err
	}
	for _, fn := range g.onCompose {
		fn(sg)
	}
	g.current.Store(&composition{supergraph: sg, services: services})
	g.finishComposition(ctx, services, nil, start)
	return nil
}

func (g *Gateway) finishComposition(ctx context.Context, services []registry.Service, err error, start time.Time) {
	names := make([]string, len(services))
	for i, s := range services {
		names[i] = s.Name
	}
	if err != nil {
		g.logger.Warn("composition failed", zap.Strings("subgraphs", names), zap.Error(err))
	} else {
		g.logger.Info("composed supergraph", zap.Strings("subgraphs", names))
	}
	eventbus.Publish(ctx, events.CompositionFinish{Subgraphs: names, Err: err, Duration: time.Since(start)})
}

// Watch calls Reload every interval until ctx ends.
func (g *Gateway) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Reload logs its own failures.
			_ = g.Reload(ctx)
		}
	}
}

// Plan parses query and plans it against the live supergraph.
func (g *Gateway) Plan(query, operationName string) (*planner.QueryPlan, error) {
	sg := g.Supergraph()
	doc, err := parse(sg, query)
	if err != nil {
		return nil, err
	}
	return planner.Plan(doc, operationName, sg)
}

func parse(sg *supergraph.Supergraph, query string) (*language.QueryDocument, error) {
	if sg == nil {
		return nil, errNoSupergraph
	}
	return language.ParseQuery(query)
}

func (g *Gateway) introspectionOf(doc *language.QueryDocument, operationName string) *language.OperationDefinition {
	if !g.introspection {
		return nil
	}
	return introspection.Match(doc, operationName)
}

var errNoSupergraph = errors.New("gateway: no supergraph composed")

// Execute runs one client operation. Request-level failures are reported in
// the result with data null.
func (g *Gateway) Execute(ctx context.Context, req Request) *executor.ExecutionResult {
	start := time.Now()
	eventbus.Publish(ctx, events.GraphQLStart{Query: req.Query, OperationName: req.OperationName})

	var (
		res    *executor.ExecutionResult
		err    error
		opType string
		steps  int
	)
	sg := g.Supergraph()
	doc, err := parse(sg, req.Query)
	if err == nil {
		if op := g.introspectionOf(doc, req.OperationName); op != nil {
			opType = string(op.Operation)
			res = introspection.Execute(sg, doc, op, req.Variables)
		} else if plan, perr := planner.Plan(doc, req.OperationName, sg); perr != nil {
			err = perr
		} else {
			opType = string(plan.Operation)
			plan.Walk(func(*planner.FetchStep) { steps++ })
			res, err = g.exec.Execute(ctx, plan, req.Variables)
		}
	}
	if err != nil {
		res = &executor.ExecutionResult{Errors: []executor.GraphQLError{requestError(err)}}
	}

	eventbus.Publish(ctx, events.GraphQLFinish{
		Query:         req.Query,
		OperationName: req.OperationName,
		OperationType: opType,
		Steps:         steps,
		ErrorCount:    len(res.Errors),
		Err:           err,
		Duration:      time.Since(start),
	})
	return res
}

func requestError(err error) executor.GraphQLError {
	var (
		planErr *planner.Error
		varErr  *executor.VariableError
	)
	switch {
	case errors.Is(err, errNoSupergraph):
		return newError(CodeCompositionUnavailable, "No supergraph is available", nil)
	case errors.As(err, &planErr):
		return newError(CodeValidationFailed, planErr.Message, planErr.Locations)
	case errors.As(err, &varErr):
		return newError(CodeValidationFailed, varErr.Message, nil)
	case errors.Is(err, executor.ErrCancelled):
		return newError(CodeRequestCancelled, "Request cancelled", nil)
	}
	if locs := language.ErrorLocations(err); locs != nil {
		return newError(CodeParseFailed, language.ErrorMessage(err), locs)
	}
	return newError(CodeInternal, err.Error(), nil)
}

func newError(code, message string, locations []language.Location) executor.GraphQLError {
	return executor.GraphQLError{
		Message:    message,
		Locations:  locations,
		Extensions: map[string]any{"code": code},
	}
}
