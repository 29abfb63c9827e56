package planner

import (
	"slices"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	language "github.com/hanpama/fedgraph/internal/language"
	supergraph "github.com/hanpama/fedgraph/internal/supergraph"
)

// QueryPlan is the per-request forest of subgraph fetches.
type QueryPlan struct {
	Operation     language.Operation
	OperationName string
	RootType      string
	// Variables are the client's variable definitions.
	Variables language.VariableDefinitionList
	// Selections is the validated client selection tree; the executor walks
	// it to shape the response.
	Selections []*Node
	// Steps are the root fetches. Query roots are independent; mutation roots
	// run in order.
	Steps []*FetchStep
}

// Sequential reports whether root steps must run one after another.
func (p *QueryPlan) Sequential() bool { return p.Operation == language.Mutation }

// Node is one field of the client selection tree.
type Node struct {
	ResponseName string
	Name         string
	Arguments    language.ArgumentList
	// Field is nil for __typename.
	Field      *supergraph.Field
	ParentType string
	Children   []*Node
	Position   *language.Position
}

// IsTypename reports whether the node selects __typename.
func (n *Node) IsTypename() bool { return n.Name == "__typename" }

// StepKind distinguishes root operation fetches from entity fetches.
type StepKind string

const (
	RootFetch   StepKind = "root"
	EntityFetch StepKind = "entity"
)

// FetchStep is a single subgraph call.
type FetchStep struct {
	ID        int
	Subgraph  string
	Kind      StepKind
	Operation language.Operation
	// TypeName, Path and References are set for entity fetches. Path is the
	// response path of the entities, lists are traversed implicitly.
	TypeName   string
	Path       []string
	References []ReferenceField
	Selections []*Selection
	// Children consume entities this step returns.
	Children []*FetchStep
}

// ReferenceField is one field copied from an entity into its reference.
// ResponseName is where the value lives in the merged response. Key is set
// for key fields, the others are @requires dependencies.
type ReferenceField struct {
	Name         string
	ResponseName string
	Key          bool
}

// ReferenceFieldNames returns the field names making up the step's entity
// references, excluding __typename.
func (s *FetchStep) ReferenceFieldNames() []string {
	out := make([]string, len(s.References))
	for i, r := range s.References {
		out[i] = r.Name
	}
	return out
}

// Selection is one field a step requests from its subgraph.
type Selection struct {
	ResponseName string
	Name         string
	Arguments    language.ArgumentList
	// Internal marks fields only needed to build references.
	Internal   bool
	Selections []*Selection
}

// Walk visits every step depth first, parents before children.
func (p *QueryPlan) Walk(fn func(*FetchStep)) {
	var walk func([]*FetchStep)
	walk = func(steps []*FetchStep) {
		for _, s := range steps {
			fn(s)
			walk(s.Children)
		}
	}
	walk(p.Steps)
}

// Order returns every step in a dependency-respecting order. Ties are broken
// by step id, so the result is stable.
func (p *QueryPlan) Order() ([]*FetchStep, error) {
	g := simple.NewDirectedGraph()
	byID := make(map[int64]*FetchStep)
	p.Walk(func(s *FetchStep) {
		byID[int64(s.ID)] = s
		g.AddNode(simple.Node(s.ID))
	})
	p.Walk(func(s *FetchStep) {
		for _, c := range s.Children {
			g.SetEdge(g.NewEdge(simple.Node(s.ID), simple.Node(c.ID)))
		}
	})
	if p.Sequential() {
		for i := 1; i < len(p.Steps); i++ {
			next := simple.Node(p.Steps[i].ID)
			walkStep(p.Steps[i-1], func(s *FetchStep) {
				g.SetEdge(g.NewEdge(simple.Node(s.ID), next))
			})
		}
	}
	nodes, err := topo.SortStabilized(g, func(ns []graph.Node) {
		sort.Slice(ns, func(i, j int) bool { return ns[i].ID() < ns[j].ID() })
	})
	if err != nil {
		return nil, err
	}
	out := make([]*FetchStep, len(nodes))
	for i, n := range nodes {
		out[i] = byID[n.ID()]
	}
	return out, nil
}

// Dependencies returns the ids of the steps that must finish before s starts.
func (p *QueryPlan) Dependencies(s *FetchStep) []int {
	var deps []int
	p.Walk(func(parent *FetchStep) {
		for _, c := range parent.Children {
			if c == s {
				deps = append(deps, parent.ID)
			}
		}
	})
	if p.Sequential() {
		if i := slices.Index(p.Steps, s); i > 0 {
			walkStep(p.Steps[i-1], func(prev *FetchStep) { deps = append(deps, prev.ID) })
		}
	}
	sort.Ints(deps)
	return deps
}

func walkStep(s *FetchStep, fn func(*FetchStep)) {
	fn(s)
	for _, c := range s.Children {
		walkStep(c, fn)
	}
}
