package executor

import (
	"encoding/json"
	"fmt"

	planner "github.com/hanpama/fedgraph/internal/planner"
)

// fieldError is stored in the response tree in place of a value that could
// not be fetched. The completion pass turns it into a located error.
type fieldError struct {
	message    string
	extensions map[string]any
}

func newFieldError(code, subgraph, format string, args ...any) *fieldError {
	return &fieldError{
		message:    fmt.Sprintf(format, args...),
		extensions: map[string]any{"code": code, "serviceName": subgraph},
	}
}

func remoteFieldError(subgraph string, re *RemoteError) *fieldError {
	ext := make(map[string]any, len(re.Extensions)+2)
	for k, v := range re.Extensions {
		ext[k] = v
	}
	if _, ok := ext["code"]; !ok {
		ext["code"] = CodeSubgraphError
	}
	ext["serviceName"] = subgraph
	return &fieldError{message: re.Message, extensions: ext}
}

func (e *fieldError) graphQLError(path Path) GraphQLError {
	return GraphQLError{Message: e.message, Path: path, Extensions: e.extensions}
}

// entity is an object of the response tree an entity step extends.
type entity struct {
	obj  map[string]any
	path Path
}

// collectEntities returns the objects found at path, descending into lists.
// Null values and error markers are skipped.
func collectEntities(root map[string]any, path []string) []entity {
	var out []entity
	var walk func(v any, rest []string, p Path)
	walk = func(v any, rest []string, p Path) {
		switch v := v.(type) {
		case []any:
			for i, item := range v {
				walk(item, rest, appendPath(p, i))
			}
		case map[string]any:
			if len(rest) == 0 {
				out = append(out, entity{obj: v, path: p})
				return
			}
			walk(v[rest[0]], rest[1:], appendPath(p, rest[0]))
		}
	}
	walk(root, path, nil)
	return out
}

// representation builds the reference of e for step. A reference field that
// holds an error marker yields that marker. Key fields must be non-null;
// required fields only need to have been fetched, null is passed on.
func representation(step *planner.FetchStep, e entity) (map[string]any, *fieldError) {
	rep := map[string]any{"__typename": step.TypeName}
	for _, ref := range step.References {
		v, ok := e.obj[ref.ResponseName]
		if fe, isMarker := v.(*fieldError); isMarker {
			return nil, fe
		}
		if !ok || (ref.Key && v == nil) {
			return nil, newFieldError(CodeMergeFailed, step.Subgraph,
				"Cannot build %s reference for subgraph %q: field %s is missing", step.TypeName, step.Subgraph, ref.Name)
		}
		rep[ref.Name] = v
	}
	return rep, nil
}

// representationKey identifies equal references. encoding/json sorts map
// keys, so equal maps encode identically.
func representationKey(rep map[string]any) string {
	b, _ := json.Marshal(rep)
	return string(b)
}

// markSelections stores fe for every selection of step not already present
// on obj.
func markSelections(obj map[string]any, sels []*planner.Selection, fe *fieldError) {
	for _, s := range sels {
		if obj[s.ResponseName] == nil {
			obj[s.ResponseName] = fe
		}
	}
}

// markAt stores fe at path below v when the value there is null.
func markAt(v any, path []any, fe *fieldError) bool {
	if len(path) == 0 {
		return false
	}
	for _, elem := range path[:len(path)-1] {
		switch cur := v.(type) {
		case map[string]any:
			key, ok := elem.(string)
			if !ok {
				return false
			}
			v = cur[key]
		case []any:
			i, ok := index(elem)
			if !ok || i >= len(cur) {
				return false
			}
			v = cur[i]
		default:
			return false
		}
	}
	switch cur := v.(type) {
	case map[string]any:
		key, ok := path[len(path)-1].(string)
		if !ok || cur[key] != nil {
			return false
		}
		cur[key] = fe
		return true
	case []any:
		i, ok := index(path[len(path)-1])
		if !ok || i >= len(cur) || cur[i] != nil {
			return false
		}
		cur[i] = fe
		return true
	}
	return false
}

// index converts a decoded JSON path element to a list index.
func index(elem any) (int, bool) {
	switch v := elem.(type) {
	case int:
		return v, v >= 0
	case float64:
		return int(v), v >= 0 && v == float64(int(v))
	case json.Number:
		i, err := v.Int64()
		return int(i), err == nil && i >= 0
	}
	return 0, false
}

// translatePath maps a subgraph error path onto the client response.
func translatePath(base Path, rest []any) Path {
	out := append(Path(nil), base...)
	for _, elem := range rest {
		if i, ok := index(elem); ok {
			out = append(out, i)
			continue
		}
		if s, ok := elem.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// mergeInto deep merges src into dst. Objects are merged field by field and
// lists of equal length item by item; anything else in src replaces dst,
// except that null never replaces an existing value.
func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		dst[k] = mergeValue(dst[k], v)
	}
}

func mergeValue(dst, src any) any {
	if src == nil {
		return dst
	}
	switch s := src.(type) {
	case map[string]any:
		if d, ok := dst.(map[string]any); ok {
			mergeInto(d, s)
			return d
		}
	case []any:
		if d, ok := dst.([]any); ok && len(d) == len(s) {
			for i := range s {
				d[i] = mergeValue(d[i], s[i])
			}
			return d
		}
	}
	return src
}
