// Package supergraph holds the composed view of every subgraph: the merged
// type descriptors, each type's key and the subgraph owning every field.
//
// A Supergraph is built once by the composer and never mutated afterwards, so
// it is safe for unsynchronized concurrent reads.
package supergraph

import (
	"slices"
	"sort"

	language "github.com/hanpama/fedgraph/internal/language"
)

// Supergraph is the merged schema plus the field ownership map.
type Supergraph struct {
	QueryType    string
	MutationType string
	Types        map[string]*Type
	Subgraphs    []*Subgraph
}

// Subgraph identifies one backend service taking part in composition.
type Subgraph struct {
	Name string
	URL  string
}

// Type is a merged type descriptor.
type Type struct {
	Name string
	Kind Kind
	// Fields keeps the base declaration's fields first, then extension fields
	// in composition input order.
	Fields []*Field
	// Key lists the entity key fields. Empty for value types.
	Key []string
	// Owner is the subgraph holding the base declaration.
	Owner string
	// Subgraphs lists every subgraph declaring the type, in input order.
	Subgraphs []string

	EnumValues    []string
	InputFields   []*Argument
	PossibleTypes []string
	Interfaces    []string
}

// Field describes one field of a merged type.
type Field struct {
	Name      string
	Type      *TypeRef
	Arguments []*Argument
	// Owner resolves the field when it is requested through an entity fetch.
	Owner string
	// Subgraphs lists the subgraphs that resolve the field locally. The owner
	// comes first. Key fields are resolvable by every subgraph declaring the type.
	Subgraphs []string
	// Requires lists fields of the enclosing entity that must accompany its
	// reference when this field is fetched.
	Requires []string
	// Provides lists fields of the result entity the owner resolves locally.
	Provides []string
}

// Argument is a field argument or an input object field.
type Argument struct {
	Name         string
	Type         *TypeRef
	DefaultValue string
}

// Kind is the kind of a named type.
type Kind string

const (
	KindScalar      Kind = "SCALAR"
	KindObject      Kind = "OBJECT"
	KindInterface   Kind = "INTERFACE"
	KindUnion       Kind = "UNION"
	KindEnum        Kind = "ENUM"
	KindInputObject Kind = "INPUT_OBJECT"
)

// KindOf maps a parsed definition kind.
func KindOf(k language.DefinitionKind) Kind {
	switch k {
	case language.Scalar:
		return KindScalar
	case language.Object:
		return KindObject
	case language.Interface:
		return KindInterface
	case language.Union:
		return KindUnion
	case language.Enum:
		return KindEnum
	case language.InputObject:
		return KindInputObject
	}
	return Kind(k)
}

// IsLeaf reports whether values of this kind have no sub-selection.
func (k Kind) IsLeaf() bool { return k == KindScalar || k == KindEnum }

// IsComposite reports whether values of this kind require a sub-selection.
func (k Kind) IsComposite() bool {
	return k == KindObject || k == KindInterface || k == KindUnion
}

// FieldCoordinate addresses a field of a type.
type FieldCoordinate struct {
	Type  string
	Field string
}

func (c FieldCoordinate) String() string { return c.Type + "." + c.Field }

// New returns an empty supergraph over the given subgraphs.
func New(subgraphs ...*Subgraph) *Supergraph {
	s := &Supergraph{
		QueryType: "Query",
		Types:     make(map[string]*Type),
		Subgraphs: subgraphs,
	}
	for _, t := range builtinScalars {
		s.Types[t] = &Type{Name: t, Kind: KindScalar}
	}
	return s
}

// Type returns the named type or nil.
func (s *Supergraph) Type(name string) *Type { return s.Types[name] }

// Field returns the field of the named type or nil.
func (s *Supergraph) Field(typeName, fieldName string) *Field {
	if t := s.Types[typeName]; t != nil {
		return t.Field(fieldName)
	}
	return nil
}

// Owner returns the subgraph owning typeName.fieldName, or "" when unknown.
func (s *Supergraph) Owner(typeName, fieldName string) string {
	if f := s.Field(typeName, fieldName); f != nil {
		return f.Owner
	}
	return ""
}

// Owners returns a copy of the (type, field) to owner map.
func (s *Supergraph) Owners() map[FieldCoordinate]string {
	out := make(map[FieldCoordinate]string)
	for _, t := range s.Types {
		for _, f := range t.Fields {
			out[FieldCoordinate{Type: t.Name, Field: f.Name}] = f.Owner
		}
	}
	return out
}

// RootType returns the object type backing op, or nil when the supergraph
// has none.
func (s *Supergraph) RootType(op language.Operation) *Type {
	switch op {
	case language.Query:
		return s.Types[s.QueryType]
	case language.Mutation:
		if s.MutationType == "" {
			return nil
		}
		return s.Types[s.MutationType]
	}
	return nil
}

// IsRootType reports whether name is an operation root type.
func (s *Supergraph) IsRootType(name string) bool {
	return name != "" && (name == s.QueryType || name == s.MutationType)
}

// Subgraph returns the named subgraph or nil.
func (s *Supergraph) Subgraph(name string) *Subgraph {
	for _, sg := range s.Subgraphs {
		if sg.Name == name {
			return sg
		}
	}
	return nil
}

// Endpoints maps subgraph names to their URLs.
func (s *Supergraph) Endpoints() map[string]string {
	out := make(map[string]string, len(s.Subgraphs))
	for _, sg := range s.Subgraphs {
		out[sg.Name] = sg.URL
	}
	return out
}

// TypeNames returns the non-builtin type names in lexical order.
func (s *Supergraph) TypeNames() []string {
	names := make([]string, 0, len(s.Types))
	for name := range s.Types {
		if IsBuiltinScalar(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Field returns the named field or nil.
func (t *Type) Field(name string) *Field {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// IsEntity reports whether the type declares a key.
func (t *Type) IsEntity() bool { return len(t.Key) > 0 }

// IsKeyField reports whether name is part of the type's key.
func (t *Type) IsKeyField(name string) bool { return slices.Contains(t.Key, name) }

// DeclaredBy reports whether subgraph declares the type.
func (t *Type) DeclaredBy(subgraph string) bool { return slices.Contains(t.Subgraphs, subgraph) }

// Argument returns the named argument or nil.
func (f *Field) Argument(name string) *Argument {
	for _, a := range f.Arguments {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// ResolvableBy reports whether subgraph resolves the field without an entity fetch.
func (f *Field) ResolvableBy(subgraph string) bool { return slices.Contains(f.Subgraphs, subgraph) }

var builtinScalars = []string{"ID", "String", "Int", "Float", "Boolean"}

// IsBuiltinScalar reports whether name is one of the GraphQL built-in scalars.
func IsBuiltinScalar(name string) bool { return slices.Contains(builtinScalars, name) }
