package compose

import (
	"fmt"
	"strings"

	language "github.com/hanpama/fedgraph/internal/language"
)

// Kind classifies a composition violation.
type Kind string

const (
	DuplicateFieldOwnership Kind = "DuplicateFieldOwnership"
	KeyMismatch             Kind = "KeyMismatch"
	UnknownBaseType         Kind = "UnknownBaseType"
	UnknownType             Kind = "UnknownType"
	KindMismatch            Kind = "KindMismatch"
	FieldTypeMismatch       Kind = "FieldTypeMismatch"
	InvalidKey              Kind = "InvalidKey"
	InvalidRequires         Kind = "InvalidRequires"
	InvalidProvides         Kind = "InvalidProvides"
	MissingKey              Kind = "MissingKey"
	ParseError              Kind = "ParseError"
)

type Violation struct {
	Kind     Kind   `json:"kind"`
	Message  string `json:"message"`
	Subgraph string `json:"subgraph,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
}

// Error is returned when composition finds one or more violations.
// All violations are reported, never just the first one.
type Error struct {
	Violations []*Violation
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("composition failed:\n")
	for _, v := range e.Violations {
		b.WriteString("- [" + string(v.Kind) + "] " + v.Message)
		if v.Subgraph != "" {
			fmt.Fprintf(&b, " %s:%d:%d", v.Subgraph, v.Line, v.Column)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Has reports whether any violation is of kind k.
func (e *Error) Has(k Kind) bool {
	for _, v := range e.Violations {
		if v.Kind == k {
			return true
		}
	}
	return false
}

// Kinds lists the violation kinds in report order.
func (e *Error) Kinds() []Kind {
	out := make([]Kind, len(e.Violations))
	for i, v := range e.Violations {
		out[i] = v.Kind
	}
	return out
}

func violationAt(kind Kind, subgraph string, pos *language.Position, format string, args ...any) *Violation {
	v := &Violation{Kind: kind, Message: fmt.Sprintf(format, args...), Subgraph: subgraph}
	if pos != nil {
		v.Line = pos.Line
		v.Column = pos.Column
	}
	return v
}

// NOTE: Keep messages stable, tests match on them.

func violationDuplicateOwnership(typeName, field, owner, other string, pos *language.Position) *Violation {
	return violationAt(DuplicateFieldOwnership, other, pos,
		"Field %s.%s is already owned by subgraph %q", typeName, field, owner)
}

func violationKeyMismatch(typeName string, want, got []string, subgraph string, pos *language.Position) *Violation {
	return violationAt(KeyMismatch, subgraph, pos,
		"Type %s declares key %q but its base declaration uses %q", typeName, strings.Join(got, " "), strings.Join(want, " "))
}

func violationUnknownBaseType(typeName, subgraph string, pos *language.Position) *Violation {
	return violationAt(UnknownBaseType, subgraph, pos,
		"Type %s is extended but never declared as a base type", typeName)
}

func violationUnknownType(typeName, where, subgraph string, pos *language.Position) *Violation {
	return violationAt(UnknownType, subgraph, pos, "Unknown type %s referenced by %s", typeName, where)
}

func violationKindMismatch(typeName string, want, got string, subgraph string, pos *language.Position) *Violation {
	return violationAt(KindMismatch, subgraph, pos,
		"Type %s is declared as %s but was previously declared as %s", typeName, got, want)
}

func violationFieldTypeMismatch(typeName, field, want, got, subgraph string, pos *language.Position) *Violation {
	return violationAt(FieldTypeMismatch, subgraph, pos,
		"Field %s.%s has type %s but was previously declared as %s", typeName, field, got, want)
}

func violationInvalidKey(typeName, reason, subgraph string, pos *language.Position) *Violation {
	return violationAt(InvalidKey, subgraph, pos, "Invalid key on type %s: %s", typeName, reason)
}

func violationInvalidRequires(typeName, field, reason, subgraph string, pos *language.Position) *Violation {
	return violationAt(InvalidRequires, subgraph, pos, "Invalid @requires on %s.%s: %s", typeName, field, reason)
}

func violationInvalidProvides(typeName, field, reason, subgraph string, pos *language.Position) *Violation {
	return violationAt(InvalidProvides, subgraph, pos, "Invalid @provides on %s.%s: %s", typeName, field, reason)
}

func violationMissingKey(typeName, subgraph string, pos *language.Position) *Violation {
	return violationAt(MissingKey, subgraph, pos,
		"Type %s is extended across subgraphs but declares no @key", typeName)
}
