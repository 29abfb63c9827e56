// Package planner turns a client operation into a QueryPlan: the subgraph
// fetches needed to answer it and the entity references passed between them.
//
// Root fields are grouped by owning subgraph. Every field owned by a subgraph
// other than the one resolving the enclosing entity opens an entity fetch
// against its owner, seeded with the entity's key fields plus the field's
// @requires fields. Fields needed only to build references are added to the
// parent fetch as internal selections.
package planner

import (
	"fmt"
	"slices"
	"strings"

	language "github.com/hanpama/fedgraph/internal/language"
	supergraph "github.com/hanpama/fedgraph/internal/supergraph"
)

// internalPrefix aliases reference fields whose plain name is taken by a
// different client selection.
const internalPrefix = "_fed_"

// Plan builds the plan for the selected operation of doc. An empty
// operationName selects the only operation in the document.
func Plan(doc *language.QueryDocument, operationName string, sg *supergraph.Supergraph) (*QueryPlan, error) {
	op, err := selectOperation(doc, operationName)
	if err != nil {
		return nil, err
	}
	if len(doc.Fragments) > 0 {
		return nil, newError(UnsupportedSelection, doc.Fragments[0].Position, nil, "Fragments are not supported")
	}
	if len(op.Directives) > 0 {
		return nil, newError(UnsupportedSelection, op.Directives[0].Position, nil, "Directive @%s is not supported", op.Directives[0].Name)
	}
	root := sg.RootType(op.Operation)
	if root == nil {
		return nil, newError(UnknownOperation, op.Position, nil, "Schema does not support %s operations", op.Operation)
	}

	p := &planner{
		sg:       sg,
		vars:     make(map[string]bool),
		children: make(map[string]*FetchStep),
	}
	for _, v := range op.VariableDefinitions {
		p.vars[v.Variable] = true
	}
	nodes, err := p.buildNodes(root, op.SelectionSet, nil)
	if err != nil {
		return nil, err
	}

	plan := &QueryPlan{
		Operation:     op.Operation,
		OperationName: op.Name,
		RootType:      root.Name,
		Variables:     op.VariableDefinitions,
		Selections:    nodes,
	}
	if err := p.planRoot(plan, root, nodes); err != nil {
		return nil, err
	}
	return plan, nil
}

func selectOperation(doc *language.QueryDocument, name string) (*language.OperationDefinition, error) {
	if name == "" {
		if len(doc.Operations) == 1 {
			return checkOperation(doc.Operations[0])
		}
		if len(doc.Operations) == 0 {
			return nil, newError(UnknownOperation, nil, nil, "Document contains no operations")
		}
		return nil, newError(UnknownOperation, nil, nil, "Operation name is required when the document contains several operations")
	}
	op := doc.Operations.ForName(name)
	if op == nil {
		return nil, newError(UnknownOperation, nil, nil, "Unknown operation named %q", name)
	}
	return checkOperation(op)
}

func checkOperation(op *language.OperationDefinition) (*language.OperationDefinition, error) {
	if op.Operation == language.Subscription {
		return nil, newError(UnsupportedSelection, op.Position, nil, "Subscriptions are not supported")
	}
	return op, nil
}

type planner struct {
	sg       *supergraph.Supergraph
	vars     map[string]bool
	nextID   int
	children map[string]*FetchStep
}

// ------------------ Client selection tree ------------------

type fieldGroup struct {
	responseName string
	fields       []*language.Field
}

// buildNodes validates set against t and merges fields sharing a response name.
func (p *planner) buildNodes(t *supergraph.Type, set language.SelectionSet, path []string) ([]*Node, error) {
	var groups []*fieldGroup
	index := make(map[string]*fieldGroup)
	for _, sel := range set {
		switch s := sel.(type) {
		case *language.Field:
			rn := s.Alias
			if rn == "" {
				rn = s.Name
			}
			g := index[rn]
			if g == nil {
				g = &fieldGroup{responseName: rn}
				index[rn] = g
				groups = append(groups, g)
			}
			g.fields = append(g.fields, s)
		case *language.InlineFragment:
			return nil, newError(UnsupportedSelection, s.Position, path, "Inline fragments are not supported")
		case *language.FragmentSpread:
			return nil, newError(UnsupportedSelection, s.Position, path, "Fragment spreads are not supported")
		}
	}

	nodes := make([]*Node, 0, len(groups))
	for _, g := range groups {
		n, err := p.buildNode(t, g, appendPath(path, g.responseName))
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func (p *planner) buildNode(t *supergraph.Type, g *fieldGroup, path []string) (*Node, error) {
	first := g.fields[0]
	var merged language.SelectionSet
	for _, f := range g.fields {
		if len(f.Directives) > 0 {
			return nil, newError(UnsupportedSelection, f.Directives[0].Position, path, "Directive @%s is not supported", f.Directives[0].Name)
		}
		if f.Name != first.Name || !sameArguments(f.Arguments, first.Arguments) {
			return nil, newError(FieldConflict, f.Position, path,
				"Fields %q conflict because they select different fields or arguments", g.responseName)
		}
		merged = append(merged, f.SelectionSet...)
	}

	n := &Node{
		ResponseName: g.responseName,
		Name:         first.Name,
		Arguments:    first.Arguments,
		ParentType:   t.Name,
		Position:     first.Position,
	}
	if n.IsTypename() {
		if len(merged) > 0 {
			return nil, newError(InvalidSelection, first.Position, path, "Field \"__typename\" must not have a selection")
		}
		return n, nil
	}
	if strings.HasPrefix(first.Name, "__") {
		return nil, newError(UnsupportedSelection, first.Position, path, "Introspection field %q is not supported", first.Name)
	}

	fd := t.Field(first.Name)
	if fd == nil {
		return nil, newError(UnknownField, first.Position, path, "Cannot query field %q on type %q", first.Name, t.Name)
	}
	n.Field = fd
	if err := p.checkArguments(t, fd, first, path); err != nil {
		return nil, err
	}

	target := p.sg.Type(fd.Type.NamedType())
	if target == nil {
		return nil, newError(UnknownField, first.Position, path, "Field %q has unknown type %q", first.Name, fd.Type.NamedType())
	}
	if !target.Kind.IsComposite() {
		if len(merged) > 0 {
			return nil, newError(InvalidSelection, first.Position, path,
				"Field %q must not have a selection since type %q has no subfields", first.Name, fd.Type.String())
		}
		return n, nil
	}
	if len(merged) == 0 {
		return nil, newError(InvalidSelection, first.Position, path,
			"Field %q of type %q must have a selection of subfields", first.Name, fd.Type.String())
	}
	children, err := p.buildNodes(target, merged, path)
	if err != nil {
		return nil, err
	}
	n.Children = children
	return n, nil
}

func (p *planner) checkArguments(t *supergraph.Type, fd *supergraph.Field, f *language.Field, path []string) error {
	for _, a := range f.Arguments {
		if fd.Argument(a.Name) == nil {
			return newError(UnknownArgument, a.Position, path, "Unknown argument %q on field %s.%s", a.Name, t.Name, fd.Name)
		}
		for _, v := range language.VariableNames(a.Value) {
			if !p.vars[v] {
				return newError(UnknownVariable, a.Position, path, "Variable \"$%s\" is not defined", v)
			}
		}
	}
	for _, ad := range fd.Arguments {
		if ad.Type.IsNonNull() && ad.DefaultValue == "" && f.Arguments.ForName(ad.Name) == nil {
			return newError(MissingArgument, f.Position, path,
				"Field %s.%s argument %q of type %q is required", t.Name, fd.Name, ad.Name, ad.Type.String())
		}
	}
	return nil
}

func sameArguments(a, b language.ArgumentList) bool {
	if len(a) != len(b) {
		return false
	}
	for _, x := range a {
		y := b.ForName(x.Name)
		if y == nil || x.Value.String() != y.Value.String() {
			return false
		}
	}
	return true
}

// ------------------ Fetch steps ------------------

func (p *planner) newStep(subgraph string, kind StepKind, op language.Operation) *FetchStep {
	p.nextID++
	return &FetchStep{ID: p.nextID, Subgraph: subgraph, Kind: kind, Operation: op}
}

func (p *planner) planRoot(plan *QueryPlan, root *supergraph.Type, nodes []*Node) error {
	if plan.Sequential() {
		for _, n := range nodes {
			if n.IsTypename() {
				continue
			}
			step := p.newStep(n.Field.Owner, RootFetch, plan.Operation)
			sels, err := p.planLevel(step, root, []*Node{n}, nodes, nil, nil)
			if err != nil {
				return err
			}
			step.Selections = sels
			plan.Steps = append(plan.Steps, step)
		}
		return nil
	}

	var owners []string
	byOwner := make(map[string][]*Node)
	for _, n := range nodes {
		if n.IsTypename() {
			continue
		}
		o := n.Field.Owner
		if _, ok := byOwner[o]; !ok {
			owners = append(owners, o)
		}
		byOwner[o] = append(byOwner[o], n)
	}
	for _, o := range owners {
		step := p.newStep(o, RootFetch, plan.Operation)
		sels, err := p.planLevel(step, root, byOwner[o], nodes, nil, nil)
		if err != nil {
			return err
		}
		step.Selections = sels
		plan.Steps = append(plan.Steps, step)
	}
	return nil
}

type ownerGroup struct {
	owner string
	nodes []*Node
}

// planLevel returns what step fetches for nodes on a t object found at path.
// level holds every client node of that object, whichever step fetches it.
// provided lists t fields the step's subgraph resolves through @provides.
func (p *planner) planLevel(step *FetchStep, t *supergraph.Type, nodes, level []*Node, path, provided []string) ([]*Selection, error) {
	var sels []*Selection
	var deferred []*ownerGroup
	for _, n := range nodes {
		if n.IsTypename() {
			if path != nil {
				sels = append(sels, &Selection{ResponseName: n.ResponseName, Name: n.Name})
			}
			continue
		}
		if resolvable(step.Subgraph, n.Field, provided) {
			sel := &Selection{ResponseName: n.ResponseName, Name: n.Name, Arguments: n.Arguments}
			if len(n.Children) > 0 {
				child := p.sg.Type(n.Field.Type.NamedType())
				sub, err := p.planLevel(step, child, n.Children, n.Children, appendPath(path, n.ResponseName), n.Field.Provides)
				if err != nil {
					return nil, err
				}
				sel.Selections = sub
			}
			sels = append(sels, sel)
			continue
		}
		if !t.IsEntity() {
			return nil, newError(MissingKeyInScope, n.Position, appendPath(path, n.ResponseName),
				"Field %s.%s is resolved by subgraph %q but type %s has no key to reach it from subgraph %q",
				t.Name, n.Name, n.Field.Owner, t.Name, step.Subgraph)
		}
		idx := slices.IndexFunc(deferred, func(g *ownerGroup) bool { return g.owner == n.Field.Owner })
		if idx < 0 {
			deferred = append(deferred, &ownerGroup{owner: n.Field.Owner})
			idx = len(deferred) - 1
		}
		deferred[idx].nodes = append(deferred[idx].nodes, n)
	}
	for _, g := range deferred {
		if err := p.planEntityGroup(step, t, g, level, path, provided, &sels); err != nil {
			return nil, err
		}
	}
	return sels, nil
}

// planEntityGroup hands the nodes of g to an entity fetch against g.owner.
// Reference fields step cannot resolve are fetched first by intermediate
// entity fetches against their owners.
func (p *planner) planEntityGroup(step *FetchStep, t *supergraph.Type, g *ownerGroup, level []*Node, path, provided []string, sels *[]*Selection) error {
	for _, k := range t.Key {
		kf := t.Field(k)
		if kf == nil || !resolvable(step.Subgraph, kf, provided) {
			return newError(MissingKeyInScope, g.nodes[0].Position, path,
				"Key field %s.%s needed by subgraph %q is not resolvable by subgraph %q", t.Name, k, g.owner, step.Subgraph)
		}
		ensure(sels, internalName(level, k), k)
	}

	var requires, pending []string
	for _, n := range g.nodes {
		for _, r := range n.Field.Requires {
			if slices.Contains(requires, r) || t.IsKeyField(r) {
				continue
			}
			requires = append(requires, r)
			rf := t.Field(r)
			if rf == nil {
				return newError(MissingKeyInScope, n.Position, path, "Field %s.%s requires unknown field %q", t.Name, n.Name, r)
			}
			if resolvable(step.Subgraph, rf, provided) {
				ensure(sels, internalName(level, r), r)
				continue
			}
			pending = append(pending, r)
		}
	}

	// One intermediate fetch per owner of pending fields, chained in order
	// of first use.
	var owners []string
	byOwner := make(map[string][]string)
	for _, r := range pending {
		owner := t.Field(r).Owner
		if _, ok := byOwner[owner]; !ok {
			owners = append(owners, owner)
		}
		byOwner[owner] = append(byOwner[owner], r)
	}
	parent := step
	for _, owner := range owners {
		inter := p.childStep(parent, t, owner, path, level)
		for _, r := range byOwner[owner] {
			ensure(&inter.Selections, internalName(level, r), r)
		}
		parent = inter
	}

	target := p.childStep(parent, t, g.owner, path, level)
	for _, r := range requires {
		if !slices.ContainsFunc(target.References, func(rf ReferenceField) bool { return rf.Name == r }) {
			target.References = append(target.References, ReferenceField{Name: r, ResponseName: internalName(level, r)})
		}
	}
	sub, err := p.planLevel(target, t, g.nodes, level, path, nil)
	if err != nil {
		return err
	}
	for _, s := range sub {
		ensureSelection(&target.Selections, s)
	}
	return nil
}

// childStep returns the entity fetch of t against subgraph below parent at
// path, creating it on first use.
func (p *planner) childStep(parent *FetchStep, t *supergraph.Type, subgraph string, path []string, level []*Node) *FetchStep {
	key := fmt.Sprintf("%d/%s/%s", parent.ID, strings.Join(path, "."), subgraph)
	if s := p.children[key]; s != nil {
		return s
	}
	s := p.newStep(subgraph, EntityFetch, language.Query)
	s.TypeName = t.Name
	s.Path = slices.Clone(path)
	for _, k := range t.Key {
		s.References = append(s.References, ReferenceField{Name: k, ResponseName: internalName(level, k), Key: true})
	}
	parent.Children = append(parent.Children, s)
	p.children[key] = s
	return s
}

func resolvable(subgraph string, f *supergraph.Field, provided []string) bool {
	return f.ResolvableBy(subgraph) || slices.Contains(provided, f.Name)
}

// internalName picks the response name under which field name is fetched for
// reference building. The plain name is used unless a client selection at
// the same level already claims it for something else.
func internalName(level []*Node, name string) string {
	for _, n := range level {
		if n.ResponseName == name && (n.Name != name || len(n.Arguments) > 0) {
			return internalPrefix + name
		}
	}
	return name
}

func ensure(sels *[]*Selection, responseName, name string) {
	for _, s := range *sels {
		if s.ResponseName == responseName {
			return
		}
	}
	*sels = append(*sels, &Selection{ResponseName: responseName, Name: name, Internal: true})
}

func ensureSelection(sels *[]*Selection, sel *Selection) {
	for _, s := range *sels {
		if s.ResponseName == sel.ResponseName {
			return
		}
	}
	*sels = append(*sels, sel)
}

func appendPath(path []string, name string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, name)
}
