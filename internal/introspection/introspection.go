// Package introspection answers __schema and __type queries from the
// supergraph without calling any subgraph.
package introspection

import (
	"fmt"

	executor "github.com/hanpama/fedgraph/internal/executor"
	language "github.com/hanpama/fedgraph/internal/language"
	supergraph "github.com/hanpama/fedgraph/internal/supergraph"
)

// Match returns the selected operation of doc when it is a query selecting
// only __schema, __type and __typename at the root, and nil otherwise.
func Match(doc *language.QueryDocument, operationName string) *language.OperationDefinition {
	var op *language.OperationDefinition
	switch {
	case operationName != "":
		op = doc.Operations.ForName(operationName)
	case len(doc.Operations) == 1:
		op = doc.Operations[0]
	}
	if op == nil || op.Operation != language.Query {
		return nil
	}
	introspects := false
	for _, sel := range op.SelectionSet {
		f, ok := sel.(*language.Field)
		if !ok {
			return nil
		}
		switch f.Name {
		case "__schema", "__type":
			introspects = true
		case "__typename":
		default:
			return nil
		}
	}
	if !introspects {
		return nil
	}
	return op
}

// Execute resolves op, an operation accepted by Match, against sg.
func Execute(sg *supergraph.Supergraph, doc *language.QueryDocument, op *language.OperationDefinition, variables map[string]any) *executor.ExecutionResult {
	x := &execution{sg: sg, doc: doc, vars: variables}
	data := x.selectionSet(sg.QueryType, nil, op.SelectionSet, nil)
	return &executor.ExecutionResult{Data: data, Errors: x.errors}
}

type execution struct {
	sg     *supergraph.Supergraph
	doc    *language.QueryDocument
	vars   map[string]any
	errors []executor.GraphQLError
}

func (x *execution) selectionSet(typeName string, source any, set language.SelectionSet, path executor.Path) *executor.Object {
	out := executor.NewObject()
	x.collect(out, typeName, source, set, path)
	return out
}

func (x *execution) collect(out *executor.Object, typeName string, source any, set language.SelectionSet, path executor.Path) {
	for _, sel := range set {
		switch sel := sel.(type) {
		case *language.Field:
			key := sel.Alias
			if key == "" {
				key = sel.Name
			}
			if _, done := out.Get(key); done {
				continue
			}
			fieldPath := append(append(executor.Path(nil), path...), key)
			out.Set(key, x.field(typeName, source, sel, fieldPath))
		case *language.InlineFragment:
			if sel.TypeCondition == "" || sel.TypeCondition == typeName {
				x.collect(out, typeName, source, sel.SelectionSet, path)
			}
		case *language.FragmentSpread:
			if frag := x.doc.Fragments.ForName(sel.Name); frag != nil && frag.TypeCondition == typeName {
				x.collect(out, typeName, source, frag.SelectionSet, path)
			}
		}
	}
}

func (x *execution) field(typeName string, source any, f *language.Field, path executor.Path) any {
	if f.Name == "__typename" {
		return typeName
	}
	value, ok := x.resolve(source, f)
	if !ok {
		x.errors = append(x.errors, executor.GraphQLError{
			Message:    fmt.Sprintf("Cannot query field %q on type %q", f.Name, typeName),
			Locations:  []language.Location{{Line: f.Position.Line, Column: f.Position.Column}},
			Path:       path,
			Extensions: map[string]any{"code": "GRAPHQL_VALIDATION_FAILED"},
		})
		return nil
	}
	return x.complete(f, value, path)
}

func (x *execution) resolve(source any, f *language.Field) (any, bool) {
	switch src := source.(type) {
	case nil:
		switch f.Name {
		case "__schema":
			return x.sg, true
		case "__type":
			name, _ := x.argument(f, "name").(string)
			return typeSource(x.sg.Type(name)), true
		}
	case *supergraph.Supergraph:
		return resolveSchemaField(src, f.Name)
	case *supergraph.Type:
		return resolveTypeField(x.sg, src, f.Name)
	case *supergraph.TypeRef:
		return resolveTypeRefField(x.sg, src, f.Name)
	case *supergraph.Field:
		return resolveFieldField(x.sg, src, f.Name)
	case *supergraph.Argument:
		return resolveInputValueField(x.sg, src, f.Name)
	case enumValue:
		return resolveEnumValueField(src, f.Name)
	}
	return nil, false
}

func (x *execution) complete(f *language.Field, value any, path executor.Path) any {
	switch v := value.(type) {
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = x.complete(f, item, append(append(executor.Path(nil), path...), i))
		}
		return out
	case *supergraph.Supergraph, *supergraph.Type, *supergraph.TypeRef, *supergraph.Field, *supergraph.Argument, enumValue:
		return x.selectionSet(metaType(v), v, f.SelectionSet, path)
	}
	return value
}

// metaType names the introspection type of a source.
func metaType(source any) string {
	switch source.(type) {
	case *supergraph.Supergraph:
		return "__Schema"
	case *supergraph.Type, *supergraph.TypeRef:
		return "__Type"
	case *supergraph.Field:
		return "__Field"
	case *supergraph.Argument:
		return "__InputValue"
	case enumValue:
		return "__EnumValue"
	}
	return ""
}

func (x *execution) argument(f *language.Field, name string) any {
	arg := f.Arguments.ForName(name)
	if arg == nil {
		return nil
	}
	v, err := arg.Value.Value(x.vars)
	if err != nil {
		return nil
	}
	return v
}
