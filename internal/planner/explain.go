package planner

import (
	"fmt"
	"strings"

	language "github.com/hanpama/fedgraph/internal/language"
)

// Explain renders the plan one step per line group, in execution order.
//
//	#1 users root query
//	  { users { id } }
//	#2 orders entity User at users <- #1
//	  refs: id
//	  { orders { id } }
func Explain(plan *QueryPlan) string {
	steps, err := plan.Order()
	if err != nil {
		return "invalid plan: " + err.Error()
	}
	var b strings.Builder
	for _, s := range steps {
		fmt.Fprintf(&b, "#%d %s %s", s.ID, s.Subgraph, s.Kind)
		if s.Kind == RootFetch {
			fmt.Fprintf(&b, " %s", s.Operation)
		} else {
			fmt.Fprintf(&b, " %s at %s", s.TypeName, strings.Join(s.Path, "."))
		}
		if deps := plan.Dependencies(s); len(deps) > 0 {
			b.WriteString(" <-")
			for _, d := range deps {
				fmt.Fprintf(&b, " #%d", d)
			}
		}
		b.WriteByte('\n')
		if len(s.References) > 0 {
			b.WriteString("  refs:")
			for _, r := range s.References {
				b.WriteByte(' ')
				writeAlias(&b, r.ResponseName, r.Name)
			}
			b.WriteByte('\n')
		}
		b.WriteString("  ")
		writeSelections(&b, s.Selections)
		b.WriteByte('\n')
	}
	return b.String()
}

func writeSelections(b *strings.Builder, sels []*Selection) {
	b.WriteString("{")
	for _, s := range sels {
		b.WriteByte(' ')
		writeAlias(b, s.ResponseName, s.Name)
		writeArguments(b, s.Arguments)
		if len(s.Selections) > 0 {
			b.WriteByte(' ')
			writeSelections(b, s.Selections)
		}
	}
	b.WriteString(" }")
}

func writeAlias(b *strings.Builder, responseName, name string) {
	if responseName != name {
		b.WriteString(responseName)
		b.WriteString(": ")
	}
	b.WriteString(name)
}

func writeArguments(b *strings.Builder, args language.ArgumentList) {
	if len(args) == 0 {
		return
	}
	b.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(a.Name)
		b.WriteString(": ")
		b.WriteString(a.Value.String())
	}
	b.WriteByte(')')
}
