package supergraph

import (
	"strconv"
	"strings"
)

// Render produces SDL from the Supergraph.
// Deterministic ordering: subgraphs in input order, then types sorted by name
// with fields in declaration order. Ownership is rendered as @join__ directives.
func Render(s *Supergraph) string {
	if s == nil {
		return ""
	}
	var b strings.Builder

	b.WriteString("schema {\n  query: ")
	b.WriteString(s.QueryType)
	b.WriteString("\n")
	if s.MutationType != "" {
		b.WriteString("  mutation: ")
		b.WriteString(s.MutationType)
		b.WriteString("\n")
	}
	b.WriteString("}\n\n")

	if len(s.Subgraphs) > 0 {
		b.WriteString("enum join__Graph {\n")
		for _, sg := range s.Subgraphs {
			b.WriteString("  ")
			b.WriteString(graphEnum(sg.Name))
			b.WriteString(" @join__graph(name: ")
			b.WriteString(strconv.Quote(sg.Name))
			b.WriteString(", url: ")
			b.WriteString(strconv.Quote(sg.URL))
			b.WriteString(")\n")
		}
		b.WriteString("}\n\n")
	}

	for _, name := range s.TypeNames() {
		t := s.Types[name]
		switch t.Kind {
		case KindScalar:
			b.WriteString("scalar " + t.Name + "\n\n")
		case KindEnum:
			renderEnum(&b, t)
		case KindInputObject:
			renderInput(&b, t)
		case KindUnion:
			b.WriteString("union " + t.Name + " = " + strings.Join(t.PossibleTypes, " | ") + "\n\n")
		case KindObject, KindInterface:
			renderObject(&b, s, t)
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func renderEnum(b *strings.Builder, t *Type) {
	b.WriteString("enum " + t.Name + " {\n")
	for _, v := range t.EnumValues {
		b.WriteString("  " + v + "\n")
	}
	b.WriteString("}\n\n")
}

func renderInput(b *strings.Builder, t *Type) {
	b.WriteString("input " + t.Name + " {\n")
	for _, f := range t.InputFields {
		b.WriteString("  ")
		renderArgument(b, f)
		b.WriteString("\n")
	}
	b.WriteString("}\n\n")
}

func renderObject(b *strings.Builder, s *Supergraph, t *Type) {
	if t.Kind == KindInterface {
		b.WriteString("interface ")
	} else {
		b.WriteString("type ")
	}
	b.WriteString(t.Name)
	if len(t.Interfaces) > 0 {
		b.WriteString(" implements " + strings.Join(t.Interfaces, " & "))
	}
	if !s.IsRootType(t.Name) {
		for _, sg := range t.Subgraphs {
			b.WriteString("\n  @join__type(graph: " + graphEnum(sg))
			if t.IsEntity() {
				b.WriteString(", key: " + strconv.Quote(strings.Join(t.Key, " ")))
			}
			b.WriteString(")")
		}
		if len(t.Subgraphs) > 0 {
			b.WriteString("\n")
		} else {
			b.WriteString(" ")
		}
	} else {
		b.WriteString(" ")
	}
	b.WriteString("{\n")
	for _, f := range t.Fields {
		b.WriteString("  " + f.Name)
		if len(f.Arguments) > 0 {
			b.WriteString("(")
			for i, a := range f.Arguments {
				if i > 0 {
					b.WriteString(", ")
				}
				renderArgument(b, a)
			}
			b.WriteString(")")
		}
		b.WriteString(": " + f.Type.String())
		if f.Owner != "" && (f.Owner != t.Owner || s.IsRootType(t.Name)) {
			b.WriteString(" @join__field(graph: " + graphEnum(f.Owner))
			if len(f.Requires) > 0 {
				b.WriteString(", requires: " + strconv.Quote(strings.Join(f.Requires, " ")))
			}
			if len(f.Provides) > 0 {
				b.WriteString(", provides: " + strconv.Quote(strings.Join(f.Provides, " ")))
			}
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	b.WriteString("}\n\n")
}

func renderArgument(b *strings.Builder, a *Argument) {
	b.WriteString(a.Name + ": " + a.Type.String())
	if a.DefaultValue != "" {
		b.WriteString(" = " + a.DefaultValue)
	}
}

func graphEnum(name string) string {
	return strings.ToUpper(strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, name))
}
