package executor

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	language "github.com/hanpama/fedgraph/internal/language"
)

// Error codes reported in extensions.code.
const (
	CodeFetchFailed      = "SUBGRAPH_FETCH_FAILED"
	CodeMergeFailed      = "SUBGRAPH_MERGE_FAILED"
	CodeSubgraphError    = "SUBGRAPH_ERROR"
	CodeNonNullViolation = "NON_NULL_VIOLATION"
	CodeEntityNotFound   = "ENTITY_NOT_FOUND"
)

type Path []PathElement

type PathElement any

func (p Path) String() string {
	var b strings.Builder
	for i, elem := range p {
		if i > 0 {
			b.WriteByte('.')
		}
		switch v := elem.(type) {
		case string:
			b.WriteString(v)
		case int:
			b.WriteString(strconv.Itoa(v))
		}
	}
	return b.String()
}

func appendPath(path Path, elem PathElement) Path {
	newPath := make(Path, len(path)+1)
	copy(newPath, path)
	newPath[len(path)] = elem
	return newPath
}

// GraphQLError represents an error that occurred during execution
type GraphQLError struct {
	Message    string              `json:"message"`
	Locations  []language.Location `json:"locations,omitempty"`
	Path       Path                `json:"path,omitempty"`
	Extensions map[string]any      `json:"extensions,omitempty"`
}

func (e GraphQLError) Error() string {
	return e.Message
}

// Code returns extensions.code, if any.
func (e GraphQLError) Code() string {
	code, _ := e.Extensions["code"].(string)
	return code
}

// ExecutionResult represents the result of executing a GraphQL query
type ExecutionResult struct {
	Data   *Object        `json:"data"`
	Errors []GraphQLError `json:"errors,omitempty"`
}

// Object is a response object that keeps fields in selection order.
type Object struct {
	keys   []string
	values map[string]any
}

func NewObject() *Object {
	return &Object{values: make(map[string]any)}
}

func (o *Object) Set(key string, value any) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
}

func (o *Object) Get(key string) (any, bool) {
	v, ok := o.values[key]
	return v, ok
}

func (o *Object) Keys() []string { return o.keys }

func (o *Object) Len() int { return len(o.keys) }

// Map converts o and every nested Object into plain maps.
func (o *Object) Map() map[string]any {
	if o == nil {
		return nil
	}
	out := make(map[string]any, len(o.keys))
	for _, k := range o.keys {
		out[k] = plain(o.values[k])
	}
	return out
}

func plain(v any) any {
	switch v := v.(type) {
	case *Object:
		if v == nil {
			return nil
		}
		return v.Map()
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = plain(item)
		}
		return out
	default:
		return v
	}
}

func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(o.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
