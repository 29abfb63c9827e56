// Package subgraphkit is a small in-process GraphQL engine for federation
// subgraphs. A Service answers root operations, _entities and _service from
// plain Go resolvers; Router connects services to the gateway without HTTP.
//
// The engine executes fields serially and does not propagate nulls or
// validate documents. It exists to drive tests and the demo command.
package subgraphkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	executor "github.com/hanpama/fedgraph/internal/executor"
	language "github.com/hanpama/fedgraph/internal/language"
)

// Resolver resolves one field. source is the parent object and is nil for
// root fields.
type Resolver func(ctx context.Context, source map[string]any, args map[string]any) (any, error)

// ReferenceResolver turns an entity representation into the entity. A nil
// object with a nil error means the entity does not exist.
type ReferenceResolver func(ctx context.Context, rep map[string]any) (map[string]any, error)

// Error is a resolver error reported with extensions.
type Error struct {
	Message    string
	Extensions map[string]any
}

func (e *Error) Error() string { return e.Message }

// Service is one subgraph.
type Service struct {
	name string
	sdl  string
	// fields maps type name to field name to the field's named type.
	fields     map[string]map[string]string
	resolvers  map[string]Resolver
	references map[string]ReferenceResolver
}

// NewService parses sdl, which may use the federation directives.
func NewService(name, sdl string) (*Service, error) {
	doc, err := language.ParseSchema(name, sdl)
	if err != nil {
		return nil, fmt.Errorf("subgraphkit: %s: %w", name, err)
	}
	s := &Service{
		name:       name,
		sdl:        sdl,
		fields:     make(map[string]map[string]string),
		resolvers:  make(map[string]Resolver),
		references: make(map[string]ReferenceResolver),
	}
	for _, defs := range []language.DefinitionList{doc.Definitions, doc.Extensions} {
		for _, def := range defs {
			if s.fields[def.Name] == nil {
				s.fields[def.Name] = make(map[string]string)
			}
			for _, f := range def.Fields {
				s.fields[def.Name][f.Name] = f.Type.Name()
			}
		}
	}
	return s, nil
}

func (s *Service) Name() string { return s.name }

func (s *Service) SDL() string { return s.sdl }

// Resolve registers r for typeName.field. Fields without a resolver read the
// same-named key of their parent object.
func (s *Service) Resolve(typeName, field string, r Resolver) *Service {
	s.resolvers[typeName+"."+field] = r
	return s
}

// ResolveReference registers r for entities of typeName. Types without one
// resolve to the representation itself.
func (s *Service) ResolveReference(typeName string, r ReferenceResolver) *Service {
	s.references[typeName] = r
	return s
}

// Execute runs req and returns the response a GraphQL server would send.
func (s *Service) Execute(ctx context.Context, req *executor.Request) *executor.Response {
	doc, err := language.ParseQuery(req.Query)
	if err != nil {
		return &executor.Response{Errors: []*executor.RemoteError{{Message: language.ErrorMessage(err)}}}
	}
	op, err := selectOperation(doc, req.OperationName)
	if err != nil {
		return &executor.Response{Errors: []*executor.RemoteError{{Message: err.Error()}}}
	}
	root := "Query"
	if op.Operation == language.Mutation {
		root = "Mutation"
	}
	x := &execution{Service: s, doc: doc, vars: variables(op, req.Variables)}
	data := x.selectionSet(ctx, root, nil, op.SelectionSet, nil)
	return &executor.Response{Data: data, Errors: x.errors}
}

func selectOperation(doc *language.QueryDocument, name string) (*language.OperationDefinition, error) {
	if name != "" {
		if op := doc.Operations.ForName(name); op != nil {
			return op, nil
		}
		return nil, fmt.Errorf("Unknown operation named %q.", name)
	}
	if len(doc.Operations) != 1 {
		return nil, errors.New("Must provide operation name if query contains multiple operations.")
	}
	return doc.Operations[0], nil
}

func variables(op *language.OperationDefinition, values map[string]any) map[string]any {
	vars := make(map[string]any, len(op.VariableDefinitions))
	for _, def := range op.VariableDefinitions {
		if v, ok := values[def.Variable]; ok {
			vars[def.Variable] = v
		} else if def.DefaultValue != nil {
			if v, err := def.DefaultValue.Value(nil); err == nil {
				vars[def.Variable] = v
			}
		}
	}
	return vars
}

type execution struct {
	*Service
	doc    *language.QueryDocument
	vars   map[string]any
	errors []*executor.RemoteError
}

func (x *execution) selectionSet(ctx context.Context, typeName string, source map[string]any, set language.SelectionSet, path []any) map[string]any {
	out := make(map[string]any, len(set))
	for _, sel := range set {
		switch sel := sel.(type) {
		case *language.Field:
			key := sel.Alias
			if key == "" {
				key = sel.Name
			}
			out[key] = x.field(ctx, typeName, source, sel, appendPath(path, key))
		case *language.InlineFragment:
			if sel.TypeCondition == "" || sel.TypeCondition == typeName {
				for k, v := range x.selectionSet(ctx, typeName, source, sel.SelectionSet, path) {
					out[k] = v
				}
			}
		case *language.FragmentSpread:
			frag := x.doc.Fragments.ForName(sel.Name)
			if frag != nil && frag.TypeCondition == typeName {
				for k, v := range x.selectionSet(ctx, typeName, source, frag.SelectionSet, path) {
					out[k] = v
				}
			}
		}
	}
	return out
}

func (x *execution) field(ctx context.Context, typeName string, source map[string]any, f *language.Field, path []any) any {
	switch {
	case f.Name == "__typename":
		return typeName
	case typeName == "Query" && f.Name == "_service":
		return x.selectionSet(ctx, "_Service", map[string]any{"sdl": x.sdl}, f.SelectionSet, path)
	case typeName == "Query" && f.Name == "_entities":
		return x.entities(ctx, f, path)
	}
	args, err := x.arguments(f)
	if err != nil {
		x.fail(err, path)
		return nil
	}
	value := source[f.Name]
	if r := x.resolvers[typeName+"."+f.Name]; r != nil {
		value, err = r(ctx, source, args)
		if err != nil {
			x.fail(err, path)
			return nil
		}
	}
	return x.complete(ctx, x.fields[typeName][f.Name], f, value, path)
}

func (x *execution) complete(ctx context.Context, typeName string, f *language.Field, value any, path []any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case map[string]any:
		if t, ok := v["__typename"].(string); ok {
			typeName = t
		}
		return x.selectionSet(ctx, typeName, v, f.SelectionSet, path)
	case []map[string]any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = x.complete(ctx, typeName, f, item, appendPath(path, i))
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = x.complete(ctx, typeName, f, item, appendPath(path, i))
		}
		return out
	default:
		return value
	}
}

// entities resolves _entities(representations:) in input order.
func (x *execution) entities(ctx context.Context, f *language.Field, path []any) any {
	args, err := x.arguments(f)
	if err != nil {
		x.fail(err, path)
		return nil
	}
	reps, _ := args["representations"].([]any)
	out := make([]any, len(reps))
	for i, raw := range reps {
		p := appendPath(path, i)
		rep, _ := raw.(map[string]any)
		typeName, _ := rep["__typename"].(string)
		obj, err := x.reference(ctx, typeName, rep)
		if err != nil {
			x.fail(err, p)
			continue
		}
		if obj != nil {
			out[i] = x.selectionSet(ctx, typeName, obj, f.SelectionSet, p)
		}
	}
	return out
}

func (x *execution) reference(ctx context.Context, typeName string, rep map[string]any) (map[string]any, error) {
	if r := x.references[typeName]; r != nil {
		return r(ctx, rep)
	}
	if _, ok := x.fields[typeName]; ok {
		return rep, nil
	}
	return nil, fmt.Errorf("Subgraph %q does not define entity type %q.", x.name, typeName)
}

func (x *execution) arguments(f *language.Field) (map[string]any, error) {
	args := make(map[string]any, len(f.Arguments))
	for _, a := range f.Arguments {
		v, err := a.Value.Value(x.vars)
		if err != nil {
			return nil, err
		}
		args[a.Name] = v
	}
	return args, nil
}

func (x *execution) fail(err error, path []any) {
	re := &executor.RemoteError{Message: err.Error(), Path: path}
	var e *Error
	if errors.As(err, &e) {
		re.Extensions = e.Extensions
	}
	x.errors = append(x.errors, re)
}

func appendPath(path []any, elem any) []any {
	out := make([]any, len(path)+1)
	copy(out, path)
	out[len(path)] = elem
	return out
}

// ServeHTTP serves the service as a GraphQL endpoint accepting POST JSON
// and GET query strings.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req executor.Request
	switch r.Method {
	case http.MethodPost:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}
	case http.MethodGet:
		req.Query = r.URL.Query().Get("query")
		req.OperationName = r.URL.Query().Get("operationName")
		if v := r.URL.Query().Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &req.Variables); err != nil {
				http.Error(w, "invalid variables", http.StatusBadRequest)
				return
			}
		}
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Execute(r.Context(), &req))
}
