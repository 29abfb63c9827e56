package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	planner "github.com/hanpama/fedgraph/internal/planner"
)

// ErrCancelled is returned when the request context ends before every step
// has finished. No partial data is returned with it.
var ErrCancelled = errors.New("executor: request cancelled")

// Executor runs query plans against subgraphs through a Fetcher.
// It holds no per-request state and is safe for concurrent use.
type Executor struct {
	fetcher      Fetcher
	fetchTimeout time.Duration
	logger       *zap.Logger
}

type Option func(*Executor)

// WithFetchTimeout bounds every subgraph call. A call running past it
// fails like any other fetch failure.
func WithFetchTimeout(d time.Duration) Option {
	return func(e *Executor) { e.fetchTimeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

func New(fetcher Fetcher, opts ...Option) *Executor {
	e := &Executor{fetcher: fetcher, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// execution holds the state of one plan run.
type execution struct {
	*Executor
	plan *planner.QueryPlan
	vars map[string]any

	mu   sync.Mutex
	data map[string]any
	// stepErrors holds errors that could not be attached to the tree.
	stepErrors map[int][]GraphQLError
}

// Execute runs plan and assembles the client response. It fails with a
// *VariableError when variables do not match the operation, and with
// ErrCancelled when ctx ends first. Subgraph failures never fail Execute;
// they surface as located errors in the result.
func (e *Executor) Execute(ctx context.Context, plan *planner.QueryPlan, variables map[string]any) (*ExecutionResult, error) {
	vars, err := coerceVariableValues(plan.Variables, variables)
	if err != nil {
		return nil, err
	}
	x := &execution{
		Executor:   e,
		plan:       plan,
		vars:       vars,
		data:       make(map[string]any),
		stepErrors: make(map[int][]GraphQLError),
	}
	if err := x.run(ctx); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return x.complete(), nil
}

func (x *execution) run(ctx context.Context) error {
	if x.plan.Sequential() {
		for _, s := range x.plan.Steps {
			if err := x.runStep(ctx, s); err != nil {
				return err
			}
		}
		return nil
	}
	return x.runSteps(ctx, x.plan.Steps)
}

// runSteps runs independent steps concurrently.
func (x *execution) runSteps(ctx context.Context, steps []*planner.FetchStep) error {
	if len(steps) == 1 {
		return x.runStep(ctx, steps[0])
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range steps {
		g.Go(func() error { return x.runStep(gctx, s) })
	}
	return g.Wait()
}

// runStep fetches s and then its children. Children run even when s fails:
// they find its error markers instead of entities and propagate them.
func (x *execution) runStep(ctx context.Context, s *planner.FetchStep) error {
	var err error
	if s.Kind == planner.RootFetch {
		err = x.fetchRoot(ctx, s)
	} else {
		err = x.fetchEntities(ctx, s)
	}
	if err != nil {
		return err
	}
	return x.runSteps(ctx, s.Children)
}

func (x *execution) fetchRoot(ctx context.Context, s *planner.FetchStep) error {
	resp, fe, err := x.fetch(ctx, s, rootRequest(x.plan, s, x.vars))
	if err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if fe != nil {
		markSelections(x.data, s.Selections, fe)
		return nil
	}
	mergeInto(x.data, resp.Data)
	for _, re := range resp.Errors {
		fe := remoteFieldError(s.Subgraph, re)
		if len(re.Path) > 0 && markAt(x.data, re.Path, fe) {
			continue
		}
		x.stepError(s, fe.graphQLError(translatePath(nil, re.Path)))
	}
	return nil
}

type entityTarget struct {
	entity
	rep int
}

func (x *execution) fetchEntities(ctx context.Context, s *planner.FetchStep) error {
	x.mu.Lock()
	var reps []any
	var targets []entityTarget
	seen := make(map[string]int)
	for _, e := range collectEntities(x.data, s.Path) {
		rep, fe := representation(s, e)
		if fe != nil {
			markSelections(e.obj, s.Selections, fe)
			continue
		}
		key := representationKey(rep)
		i, ok := seen[key]
		if !ok {
			i = len(reps)
			seen[key] = i
			reps = append(reps, rep)
		}
		targets = append(targets, entityTarget{entity: e, rep: i})
	}
	x.mu.Unlock()
	if len(reps) == 0 {
		return nil
	}

	resp, fe, err := x.fetch(ctx, s, entityRequest(x.plan, s, x.vars, reps))
	if err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if fe != nil {
		for _, t := range targets {
			markSelections(t.obj, s.Selections, fe)
		}
		return nil
	}
	list, ok := resp.Data["_entities"].([]any)
	if !ok || len(list) != len(reps) {
		fe := newFieldError(CodeMergeFailed, s.Subgraph,
			"Subgraph %q returned %d entities for %d representations", s.Subgraph, len(list), len(reps))
		for _, t := range targets {
			markSelections(t.obj, s.Selections, fe)
		}
		return nil
	}

	merged := make([]bool, len(reps))
	for _, t := range targets {
		ent, ok := list[t.rep].(map[string]any)
		if !ok {
			continue
		}
		if merged[t.rep] {
			ent = deepCopy(ent).(map[string]any)
		}
		merged[t.rep] = true
		mergeInto(t.obj, ent)
	}

	for _, re := range resp.Errors {
		fe := remoteFieldError(s.Subgraph, re)
		i, ok := entityIndex(re.Path)
		if !ok {
			x.stepError(s, fe.graphQLError(nil))
			continue
		}
		for _, t := range targets {
			if t.rep != i {
				continue
			}
			rest := re.Path[2:]
			if len(rest) == 0 {
				markSelections(t.obj, s.Selections, fe)
				continue
			}
			if !markAt(t.obj, rest, fe) {
				x.stepError(s, fe.graphQLError(translatePath(t.path, rest)))
			}
		}
	}

	for _, t := range targets {
		switch list[t.rep].(type) {
		case map[string]any:
		case nil:
			markSelections(t.obj, s.Selections, newFieldError(CodeEntityNotFound, s.Subgraph,
				"Subgraph %q could not resolve %s entity %s", s.Subgraph, s.TypeName, representationKey(reps[t.rep].(map[string]any))))
		default:
			markSelections(t.obj, s.Selections, newFieldError(CodeMergeFailed, s.Subgraph,
				"Subgraph %q returned a non-object %s entity", s.Subgraph, s.TypeName))
		}
	}
	return nil
}

// fetch performs one subgraph call. A failed call yields a marker for the
// dependent fields; err is set only when the request itself is cancelled.
func (x *execution) fetch(ctx context.Context, s *planner.FetchStep, req *Request) (*Response, *fieldError, error) {
	fctx := ctx
	if x.fetchTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, x.fetchTimeout)
		defer cancel()
	}
	resp, err := x.fetcher.Fetch(fctx, s.Subgraph, req)
	if cerr := ctx.Err(); cerr != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrCancelled, cerr)
	}
	if err != nil {
		x.logger.Debug("subgraph fetch failed",
			zap.String("subgraph", s.Subgraph),
			zap.Int("step", s.ID),
			zap.Error(err))
		msg := fmt.Sprintf("Request to subgraph %q failed: %v", s.Subgraph, err)
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("Request to subgraph %q timed out", s.Subgraph)
		}
		return nil, &fieldError{message: msg, extensions: map[string]any{"code": CodeFetchFailed, "serviceName": s.Subgraph}}, nil
	}
	if resp == nil || resp.Data == nil {
		if resp == nil || len(resp.Errors) == 0 {
			return nil, newFieldError(CodeMergeFailed, s.Subgraph, "Subgraph %q returned no data", s.Subgraph), nil
		}
		x.mu.Lock()
		for _, re := range resp.Errors[1:] {
			x.stepError(s, remoteFieldError(s.Subgraph, re).graphQLError(nil))
		}
		x.mu.Unlock()
		return nil, remoteFieldError(s.Subgraph, resp.Errors[0]), nil
	}
	return resp, nil, nil
}

// stepError records an error for s. The caller holds x.mu.
func (x *execution) stepError(s *planner.FetchStep, err GraphQLError) {
	x.stepErrors[s.ID] = append(x.stepErrors[s.ID], err)
}

func entityIndex(path []any) (int, bool) {
	if len(path) < 2 || path[0] != "_entities" {
		return 0, false
	}
	return index(path[1])
}

func deepCopy(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}
