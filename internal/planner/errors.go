package planner

import (
	"fmt"

	language "github.com/hanpama/fedgraph/internal/language"
)

// Kind classifies a planning failure.
type Kind string

const (
	UnknownField         Kind = "UnknownField"
	MissingKeyInScope    Kind = "MissingKeyInScope"
	UnknownOperation     Kind = "UnknownOperation"
	UnknownArgument      Kind = "UnknownArgument"
	MissingArgument      Kind = "MissingArgument"
	UnknownVariable      Kind = "UnknownVariable"
	InvalidSelection     Kind = "InvalidSelection"
	FieldConflict        Kind = "FieldConflict"
	UnsupportedSelection Kind = "UnsupportedSelection"
)

// Error rejects a client operation before any subgraph is called.
type Error struct {
	Kind      Kind
	Message   string
	Path      []string
	Locations []language.Location
}

func (e *Error) Error() string { return e.Message }

func newError(kind Kind, pos *language.Position, path []string, format string, args ...any) *Error {
	e := &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Path: path}
	if pos != nil {
		e.Locations = []language.Location{{Line: pos.Line, Column: pos.Column}}
	}
	return e
}
