package compose

import (
	"fmt"
	"strings"

	language "github.com/hanpama/fedgraph/internal/language"
	supergraph "github.com/hanpama/fedgraph/internal/supergraph"
)

// Subgraph is one parsed composition input.
type Subgraph struct {
	Name         string
	URL          string
	Declarations []*Declaration
}

// Declaration is a single type definition or extension found in a subgraph SDL.
type Declaration struct {
	Name      string
	Kind      supergraph.Kind
	Extension bool
	Key       []string
	// KeyError is set when the @key field set could not be parsed.
	KeyError string

	Fields        []*FieldDeclaration
	EnumValues    []string
	PossibleTypes []string
	Interfaces    []string
	InputFields   []*supergraph.Argument

	Position *language.Position
}

// FieldDeclaration is a field as declared by one subgraph.
type FieldDeclaration struct {
	Name      string
	Type      *supergraph.TypeRef
	Arguments []*supergraph.Argument
	External  bool
	Requires  []string
	Provides  []string
	// FieldSetError is set when @requires or @provides could not be parsed.
	FieldSetError string

	Position *language.Position
}

// Field returns the named field declaration or nil.
func (d *Declaration) Field(name string) *FieldDeclaration {
	for _, f := range d.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// federation plumbing every subgraph exposes; never part of the supergraph
var (
	federationTypes  = map[string]bool{"_Any": true, "_Entity": true, "_Service": true, "_FieldSet": true}
	federationFields = map[string]bool{"_service": true, "_entities": true}
)

// Parse reads the SDL of one subgraph into its declarations.
func Parse(name, url, sdl string) (*Subgraph, error) {
	doc, err := language.ParseSchema(name, sdl)
	if err != nil {
		v := &Violation{Kind: ParseError, Message: language.ErrorMessage(err), Subgraph: name}
		if locs := language.ErrorLocations(err); len(locs) > 0 {
			v.Line, v.Column = locs[0].Line, locs[0].Column
		}
		return nil, &Error{Violations: []*Violation{v}}
	}
	sg := &Subgraph{Name: name, URL: url}
	for _, def := range doc.Definitions {
		if d := declare(def, false); d != nil {
			sg.Declarations = append(sg.Declarations, d)
		}
	}
	for _, def := range doc.Extensions {
		if d := declare(def, true); d != nil {
			sg.Declarations = append(sg.Declarations, d)
		}
	}
	return sg, nil
}

func declare(def *language.Definition, extension bool) *Declaration {
	if federationTypes[def.Name] {
		return nil
	}
	d := &Declaration{
		Name:          def.Name,
		Kind:          supergraph.KindOf(def.Kind),
		Extension:     extension || def.Directives.ForName("extends") != nil,
		PossibleTypes: append([]string(nil), def.Types...),
		Interfaces:    append([]string(nil), def.Interfaces...),
		Position:      def.Position,
	}
	if key := def.Directives.ForName("key"); key != nil {
		fields, err := directiveFieldSet(key)
		if err != nil {
			d.KeyError = err.Error()
		}
		d.Key = fields
	}
	for _, v := range def.EnumValues {
		d.EnumValues = append(d.EnumValues, v.Name)
	}
	for _, f := range def.Fields {
		if d.Kind == supergraph.KindInputObject {
			d.InputFields = append(d.InputFields, argument(f.Name, f.Type, f.DefaultValue))
			continue
		}
		if federationFields[f.Name] {
			continue
		}
		fd := &FieldDeclaration{
			Name:     f.Name,
			Type:     supergraph.FromAST(f.Type),
			External: f.Directives.ForName("external") != nil,
			Position: f.Position,
		}
		for _, a := range f.Arguments {
			fd.Arguments = append(fd.Arguments, argument(a.Name, a.Type, a.DefaultValue))
		}
		if dir := f.Directives.ForName("requires"); dir != nil {
			set, err := directiveFieldSet(dir)
			if err != nil {
				fd.FieldSetError = "@requires: " + err.Error()
			}
			fd.Requires = set
		}
		if dir := f.Directives.ForName("provides"); dir != nil {
			set, err := directiveFieldSet(dir)
			if err != nil {
				fd.FieldSetError = "@provides: " + err.Error()
			}
			fd.Provides = set
		}
		d.Fields = append(d.Fields, fd)
	}
	return d
}

func argument(name string, t *language.Type, def *language.Value) *supergraph.Argument {
	a := &supergraph.Argument{Name: name, Type: supergraph.FromAST(t)}
	if def != nil {
		a.DefaultValue = def.String()
	}
	return a
}

// directiveFieldSet reads the fields argument of @key, @requires or @provides.
func directiveFieldSet(dir *language.Directive) ([]string, error) {
	arg := dir.Arguments.ForName("fields")
	if arg == nil || arg.Value == nil {
		return nil, fmt.Errorf("missing fields argument")
	}
	return parseFieldSet(arg.Value.Raw)
}

// parseFieldSet splits a flat field set such as "id sku". Nested selections
// are rejected.
func parseFieldSet(raw string) ([]string, error) {
	if strings.ContainsAny(raw, "{}") {
		return nil, fmt.Errorf("nested field set %q is not supported", raw)
	}
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\n' || r == '\t' || r == '\r'
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty field set")
	}
	return fields, nil
}
