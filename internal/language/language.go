// Package language wraps gqlparser for the documents the gateway handles:
// subgraph SDL, client operations and the operations sent to subgraphs.
package language

import (
	"bytes"
	"errors"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
)

// Location is a line/column pair inside a parsed document.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func ParseSchema(name, source string) (*SchemaDocument, error) {
	doc, err := parser.ParseSchema(&ast.Source{Name: name, Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ErrorLocations returns the document locations carried by a parse error.
func ErrorLocations(err error) []Location {
	var gerr *gqlerror.Error
	if !errors.As(err, &gerr) {
		return nil
	}
	out := make([]Location, 0, len(gerr.Locations))
	for _, l := range gerr.Locations {
		out = append(out, Location{Line: l.Line, Column: l.Column})
	}
	return out
}

// ErrorMessage strips location decorations gqlparser adds to Error().
func ErrorMessage(err error) string {
	var gerr *gqlerror.Error
	if errors.As(err, &gerr) {
		return gerr.Message
	}
	return err.Error()
}

// PrintQuery renders doc as GraphQL source text.
func PrintQuery(doc *QueryDocument) string {
	var buf bytes.Buffer
	formatter.NewFormatter(&buf, formatter.WithIndent("  ")).FormatQueryDocument(doc)
	return buf.String()
}

// PrintOperation renders a single operation as a standalone document.
func PrintOperation(op *OperationDefinition) string {
	return PrintQuery(&QueryDocument{Operations: OperationList{op}})
}

// VariableNames lists the variables referenced by v in first-use order.
func VariableNames(v *Value) []string {
	var out []string
	var walk func(*Value)
	walk = func(v *Value) {
		if v == nil {
			return
		}
		if v.Kind == Variable {
			out = append(out, v.Raw)
			return
		}
		for _, c := range v.Children {
			walk(c.Value)
		}
	}
	walk(v)
	return out
}
