package executor

import (
	"slices"

	language "github.com/hanpama/fedgraph/internal/language"
	planner "github.com/hanpama/fedgraph/internal/planner"
)

const representationsArg = "representations"

// rootRequest renders the operation a root step sends to its subgraph.
// Client arguments are passed through verbatim along with the variables
// they reference.
func rootRequest(plan *planner.QueryPlan, step *planner.FetchStep, vars map[string]any) *Request {
	used := usedVariables(step.Selections)
	op := &language.OperationDefinition{
		Operation:           step.Operation,
		Name:                plan.OperationName,
		VariableDefinitions: variableDefinitions(plan.Variables, used),
		SelectionSet:        selectionSet(step.Selections),
	}
	return &Request{
		Query:         language.PrintOperation(op),
		OperationName: plan.OperationName,
		Variables:     variableValues(used, vars),
	}
}

// entityRequest renders the _entities query of an entity step.
func entityRequest(plan *planner.QueryPlan, step *planner.FetchStep, vars map[string]any, representations []any) *Request {
	used := usedVariables(step.Selections)
	repVar := representationsArg
	for slices.Contains(used, repVar) {
		repVar = "_" + repVar
	}
	defs := language.VariableDefinitionList{{
		Variable: repVar,
		Type:     language.NonNullListType(language.NonNullNamedType("_Any", nil), nil),
	}}
	defs = append(defs, variableDefinitions(plan.Variables, used)...)

	entities := &language.Field{
		Name: "_entities",
		Arguments: language.ArgumentList{{
			Name:  representationsArg,
			Value: &language.Value{Kind: language.Variable, Raw: repVar},
		}},
		SelectionSet: language.SelectionSet{&language.InlineFragment{
			TypeCondition: step.TypeName,
			SelectionSet:  selectionSet(step.Selections),
		}},
	}
	op := &language.OperationDefinition{
		Operation:           language.Query,
		VariableDefinitions: defs,
		SelectionSet:        language.SelectionSet{entities},
	}
	values := variableValues(used, vars)
	if values == nil {
		values = make(map[string]any)
	}
	values[repVar] = representations
	return &Request{Query: language.PrintOperation(op), Variables: values}
}

func selectionSet(sels []*planner.Selection) language.SelectionSet {
	out := make(language.SelectionSet, 0, len(sels))
	for _, s := range sels {
		f := &language.Field{Name: s.Name, Arguments: s.Arguments}
		if s.ResponseName != s.Name {
			f.Alias = s.ResponseName
		}
		if len(s.Selections) > 0 {
			f.SelectionSet = selectionSet(s.Selections)
		}
		out = append(out, f)
	}
	return out
}

func usedVariables(sels []*planner.Selection) []string {
	var out []string
	var walk func([]*planner.Selection)
	walk = func(sels []*planner.Selection) {
		for _, s := range sels {
			for _, a := range s.Arguments {
				for _, name := range language.VariableNames(a.Value) {
					if !slices.Contains(out, name) {
						out = append(out, name)
					}
				}
			}
			walk(s.Selections)
		}
	}
	walk(sels)
	return out
}

func variableDefinitions(defs language.VariableDefinitionList, used []string) language.VariableDefinitionList {
	var out language.VariableDefinitionList
	for _, d := range defs {
		if slices.Contains(used, d.Variable) {
			out = append(out, d)
		}
	}
	return out
}

func variableValues(used []string, vars map[string]any) map[string]any {
	if len(used) == 0 {
		return nil
	}
	out := make(map[string]any, len(used))
	for _, name := range used {
		if v, ok := vars[name]; ok {
			out[name] = v
		}
	}
	return out
}
