package introspection

import (
	"sort"

	supergraph "github.com/hanpama/fedgraph/internal/supergraph"
)

// enumValue is the __EnumValue source.
type enumValue string

// typeOf returns the __Type source for ref: the named type itself, or the
// wrapping reference for lists and non-null types.
func typeOf(sg *supergraph.Supergraph, ref *supergraph.TypeRef) any {
	if ref == nil {
		return nil
	}
	if ref.Kind == supergraph.TypeRefKindNamed {
		return typeSource(sg.Type(ref.Named))
	}
	return ref
}

// typeSource keeps a missing type an untyped nil.
func typeSource(t *supergraph.Type) any {
	if t == nil {
		return nil
	}
	return t
}

func resolveSchemaTypes(sg *supergraph.Supergraph) []any {
	names := make([]string, 0, len(sg.Types))
	for name := range sg.Types {
		names = append(names, name)
	}
	return resolveTypeNames(sg, names)
}

func resolveTypeFields(t *supergraph.Type) []any {
	fields := make([]*supergraph.Field, len(t.Fields))
	copy(fields, t.Fields)
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	out := make([]any, len(fields))
	for i, f := range fields {
		out[i] = f
	}
	return out
}

func resolveTypeNames(sg *supergraph.Supergraph, names []string) []any {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	out := []any{}
	for _, name := range sorted {
		if def := sg.Type(name); def != nil {
			out = append(out, def)
		}
	}
	return out
}

func resolveTypeEnumValues(t *supergraph.Type) []any {
	out := make([]any, len(t.EnumValues))
	for i, v := range t.EnumValues {
		out[i] = enumValue(v)
	}
	return out
}

func resolveArguments(args []*supergraph.Argument) []any {
	sorted := make([]*supergraph.Argument, len(args))
	copy(sorted, args)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	out := make([]any, len(sorted))
	for i, a := range sorted {
		out[i] = a
	}
	return out
}

func resolveSchemaField(sg *supergraph.Supergraph, field string) (any, bool) {
	switch field {
	case "types":
		return resolveSchemaTypes(sg), true
	case "queryType":
		return typeSource(sg.Type(sg.QueryType)), true
	case "mutationType":
		if sg.MutationType == "" {
			return nil, true
		}
		return typeSource(sg.Type(sg.MutationType)), true
	case "subscriptionType", "description":
		return nil, true
	case "directives":
		return []any{}, true
	}
	return nil, false
}

func resolveTypeField(sg *supergraph.Supergraph, t *supergraph.Type, field string) (any, bool) {
	switch field {
	case "kind":
		return string(t.Kind), true
	case "name":
		return t.Name, true
	case "description", "specifiedByURL", "ofType":
		return nil, true
	case "fields":
		return nilIfEmpty(t.Kind == supergraph.KindObject || t.Kind == supergraph.KindInterface, resolveTypeFields(t)), true
	case "interfaces":
		if t.Kind != supergraph.KindObject && t.Kind != supergraph.KindInterface {
			return nil, true
		}
		return resolveTypeNames(sg, t.Interfaces), true
	case "possibleTypes":
		if t.Kind != supergraph.KindInterface && t.Kind != supergraph.KindUnion {
			return nil, true
		}
		return resolveTypeNames(sg, t.PossibleTypes), true
	case "enumValues":
		return nilIfEmpty(t.Kind == supergraph.KindEnum, resolveTypeEnumValues(t)), true
	case "inputFields":
		if t.Kind != supergraph.KindInputObject {
			return nil, true
		}
		return resolveArguments(t.InputFields), true
	case "isOneOf":
		return false, true
	}
	return nil, false
}

// nilIfEmpty returns a null list for kinds that do not carry it.
func nilIfEmpty(applies bool, list []any) any {
	if !applies {
		return nil
	}
	if list == nil {
		return []any{}
	}
	return list
}

func resolveTypeRefField(sg *supergraph.Supergraph, tr *supergraph.TypeRef, field string) (any, bool) {
	switch field {
	case "kind":
		return string(tr.Kind), true
	case "name":
		return nil, true
	case "ofType":
		return typeOf(sg, tr.OfType), true
	case "description", "specifiedByURL", "fields", "interfaces", "possibleTypes", "enumValues", "inputFields":
		return nil, true
	case "isOneOf":
		return false, true
	}
	return nil, false
}

func resolveFieldField(sg *supergraph.Supergraph, f *supergraph.Field, field string) (any, bool) {
	switch field {
	case "name":
		return f.Name, true
	case "description", "deprecationReason":
		return nil, true
	case "args":
		return resolveArguments(f.Arguments), true
	case "type":
		return typeOf(sg, f.Type), true
	case "isDeprecated":
		return false, true
	}
	return nil, false
}

func resolveInputValueField(sg *supergraph.Supergraph, a *supergraph.Argument, field string) (any, bool) {
	switch field {
	case "name":
		return a.Name, true
	case "description", "deprecationReason":
		return nil, true
	case "type":
		return typeOf(sg, a.Type), true
	case "defaultValue":
		if a.DefaultValue == "" {
			return nil, true
		}
		return a.DefaultValue, true
	case "isDeprecated":
		return false, true
	}
	return nil, false
}

func resolveEnumValueField(ev enumValue, field string) (any, bool) {
	switch field {
	case "name":
		return string(ev), true
	case "description", "deprecationReason":
		return nil, true
	case "isDeprecated":
		return false, true
	}
	return nil, false
}
