package executor

import (
	"fmt"
	"sort"
	"strings"

	planner "github.com/hanpama/fedgraph/internal/planner"
	supergraph "github.com/hanpama/fedgraph/internal/supergraph"
)

// completer shapes the merged tree into the client response. It walks the
// client selection, so internal reference fields never reach the client.
type completer struct {
	errors []GraphQLError
	// errored holds the paths that already carry an error.
	errored map[string]bool
	// reported suppresses repeats of one marker within one object.
	reported map[markerSite]bool
}

type markerSite struct {
	marker *fieldError
	parent string
}

func (x *execution) complete() *ExecutionResult {
	c := &completer{
		errored:  make(map[string]bool),
		reported: make(map[markerSite]bool),
	}
	ids := make([]int, 0, len(x.stepErrors))
	for id, errs := range x.stepErrors {
		ids = append(ids, id)
		// A subgraph error below a null it already bubbled accounts for
		// that null.
		for _, err := range errs {
			if len(err.Path) > 0 {
				c.errored[err.Path.String()] = true
			}
		}
	}
	sort.Ints(ids)

	res := &ExecutionResult{Data: c.completeObject(x.plan.RootType, x.plan.Selections, x.data, nil)}
	res.Errors = c.errors
	for _, id := range ids {
		res.Errors = append(res.Errors, x.stepErrors[id]...)
	}
	return res
}

// completeObject returns nil when a non-null field of the object is null.
func (c *completer) completeObject(typeName string, nodes []*planner.Node, src map[string]any, path Path) *Object {
	obj := NewObject()
	for _, n := range nodes {
		fieldPath := appendPath(path, n.ResponseName)
		if n.IsTypename() {
			name, _ := src["__typename"].(string)
			if name == "" {
				name = typeName
			}
			obj.Set(n.ResponseName, name)
			continue
		}
		v := c.completeValue(n, n.Field.Type, src[n.ResponseName], fieldPath)
		if v == nil && n.Field.Type.IsNonNull() {
			return nil
		}
		obj.Set(n.ResponseName, v)
	}
	return obj
}

func (c *completer) completeValue(n *planner.Node, t *supergraph.TypeRef, v any, path Path) any {
	if fe, ok := v.(*fieldError); ok {
		c.markerError(fe, path)
		return nil
	}

	if t.IsNonNull() {
		completed := c.completeValue(n, t.Unwrap(), v, path)
		if completed == nil && !c.hasErrorUnder(path) {
			c.addError(GraphQLError{
				Message:    fmt.Sprintf("Cannot return null for non-nullable field %s.%s", n.ParentType, n.Name),
				Path:       path,
				Extensions: map[string]any{"code": CodeNonNullViolation, "serviceName": n.Field.Owner},
			})
		}
		return completed
	}

	if v == nil {
		return nil
	}

	if t.IsList() {
		items, ok := v.([]any)
		if !ok {
			c.shapeError(n, path, "list")
			return nil
		}
		inner := t.Unwrap()
		out := make([]any, len(items))
		for i, item := range items {
			cv := c.completeValue(n, inner, item, appendPath(path, i))
			if cv == nil && inner.IsNonNull() {
				return nil
			}
			out[i] = cv
		}
		return out
	}

	if len(n.Children) == 0 {
		return v
	}
	m, ok := v.(map[string]any)
	if !ok {
		c.shapeError(n, path, "object")
		return nil
	}
	obj := c.completeObject(t.NamedType(), n.Children, m, path)
	if obj == nil {
		return nil
	}
	return obj
}

func (c *completer) markerError(fe *fieldError, path Path) {
	c.errored[path.String()] = true
	site := markerSite{marker: fe, parent: path[:len(path)-1].String()}
	if c.reported[site] {
		return
	}
	c.reported[site] = true
	c.errors = append(c.errors, fe.graphQLError(path))
}

func (c *completer) shapeError(n *planner.Node, path Path, want string) {
	c.addError(GraphQLError{
		Message:    fmt.Sprintf("Subgraph %q returned a value for %s.%s that is not a %s", n.Field.Owner, n.ParentType, n.Name, want),
		Path:       path,
		Extensions: map[string]any{"code": CodeMergeFailed, "serviceName": n.Field.Owner},
	})
}

// hasErrorUnder reports whether path or one of its descendants carries an
// error, in which case a null there is already accounted for.
func (c *completer) hasErrorUnder(path Path) bool {
	p := path.String()
	for k := range c.errored {
		if k == p || strings.HasPrefix(k, p+".") {
			return true
		}
	}
	return false
}

func (c *completer) addError(err GraphQLError) {
	c.errored[err.Path.String()] = true
	c.errors = append(c.errors, err)
}
