// Package compose merges the type declarations of several subgraphs into one
// supergraph with a per-field owner and a per-type key.
package compose

import (
	"slices"

	language "github.com/hanpama/fedgraph/internal/language"
	registry "github.com/hanpama/fedgraph/internal/registry"
	supergraph "github.com/hanpama/fedgraph/internal/supergraph"
)

const (
	queryType    = "Query"
	mutationType = "Mutation"
)

// FromServices parses every service SDL and composes the result.
// Parse failures of all services are reported together.
func FromServices(services []registry.Service) (*supergraph.Supergraph, error) {
	var violations []*Violation
	subgraphs := make([]*Subgraph, 0, len(services))
	for _, svc := range services {
		sg, err := Parse(svc.Name, svc.URL, svc.SDL)
		if err != nil {
			violations = append(violations, err.(*Error).Violations...)
			continue
		}
		subgraphs = append(subgraphs, sg)
	}
	if len(violations) > 0 {
		return nil, &Error{Violations: violations}
	}
	return Compose(subgraphs)
}

// Compose merges subgraphs into a supergraph. Ties are never resolved by
// input order: every conflict is reported as a violation.
func Compose(subgraphs []*Subgraph) (*supergraph.Supergraph, error) {
	c := newComposer(subgraphs)
	for _, name := range c.order {
		c.mergeType(name, c.decls[name])
	}
	c.validate()
	if len(c.violations) > 0 {
		return nil, &Error{Violations: c.violations}
	}
	return c.sg, nil
}

type declRef struct {
	subgraph string
	decl     *Declaration
}

type position struct {
	subgraph string
	pos      *language.Position
}

type composer struct {
	sg         *supergraph.Supergraph
	decls      map[string][]declRef
	order      []string
	failed     map[string]bool
	fieldPos   map[supergraph.FieldCoordinate]position
	typePos    map[string]position
	violations []*Violation
}

func newComposer(subgraphs []*Subgraph) *composer {
	infos := make([]*supergraph.Subgraph, len(subgraphs))
	for i, s := range subgraphs {
		infos[i] = &supergraph.Subgraph{Name: s.Name, URL: s.URL}
	}
	c := &composer{
		sg:       supergraph.New(infos...),
		decls:    make(map[string][]declRef),
		failed:   make(map[string]bool),
		fieldPos: make(map[supergraph.FieldCoordinate]position),
		typePos:  make(map[string]position),
	}
	for _, s := range subgraphs {
		for _, d := range s.Declarations {
			if _, seen := c.decls[d.Name]; !seen {
				c.order = append(c.order, d.Name)
			}
			c.decls[d.Name] = append(c.decls[d.Name], declRef{subgraph: s.Name, decl: d})
			if d.Name == mutationType {
				c.sg.MutationType = mutationType
			}
		}
	}
	return c
}

func (c *composer) report(v *Violation) { c.violations = append(c.violations, v) }

func isRoot(name string) bool { return name == queryType || name == mutationType }

func (c *composer) mergeType(name string, refs []declRef) {
	kind := refs[0].decl.Kind
	var same []declRef
	for _, r := range refs {
		if r.decl.Kind != kind {
			c.report(violationKindMismatch(name, string(kind), string(r.decl.Kind), r.subgraph, r.decl.Position))
			continue
		}
		same = append(same, r)
	}
	switch kind {
	case supergraph.KindObject, supergraph.KindInterface:
		c.mergeObject(name, kind, same)
	default:
		c.mergeLeafOrInput(name, kind, same)
	}
}

func (c *composer) mergeLeafOrInput(name string, kind supergraph.Kind, refs []declRef) {
	t := &supergraph.Type{Name: name, Kind: kind}
	for _, r := range refs {
		t.Subgraphs = appendUnique(t.Subgraphs, r.subgraph)
		for _, v := range r.decl.EnumValues {
			t.EnumValues = appendUnique(t.EnumValues, v)
		}
		for _, p := range r.decl.PossibleTypes {
			t.PossibleTypes = appendUnique(t.PossibleTypes, p)
		}
		for _, in := range r.decl.InputFields {
			prev := inputField(t, in.Name)
			if prev == nil {
				t.InputFields = append(t.InputFields, in)
				c.fieldPos[supergraph.FieldCoordinate{Type: name, Field: in.Name}] = position{r.subgraph, r.decl.Position}
				continue
			}
			if !prev.Type.Equal(in.Type) {
				c.report(violationFieldTypeMismatch(name, in.Name, prev.Type.String(), in.Type.String(), r.subgraph, r.decl.Position))
			}
		}
	}
	c.typePos[name] = position{refs[0].subgraph, refs[0].decl.Position}
	c.sg.Types[name] = t
}

func (c *composer) mergeObject(name string, kind supergraph.Kind, refs []declRef) {
	root := isRoot(name)
	var bases, exts []declRef
	for _, r := range refs {
		if r.decl.Extension {
			exts = append(exts, r)
		} else {
			bases = append(bases, r)
		}
	}
	if len(bases) == 0 && !root {
		for _, r := range exts {
			c.report(violationUnknownBaseType(name, r.subgraph, r.decl.Position))
		}
		c.failed[name] = true
		return
	}

	t := &supergraph.Type{Name: name, Kind: kind}
	if len(bases) > 0 {
		first := bases[0]
		for _, b := range bases[1:] {
			if b.subgraph < first.subgraph {
				first = b
			}
		}
		c.typePos[name] = position{first.subgraph, first.decl.Position}
		if !root {
			t.Owner = first.subgraph
			t.Key = first.decl.Key
		}
	} else {
		c.typePos[name] = position{exts[0].subgraph, exts[0].decl.Position}
	}

	ordered := append(append([]declRef(nil), bases...), exts...)
	for _, r := range ordered {
		t.Subgraphs = appendUnique(t.Subgraphs, r.subgraph)
		for _, i := range r.decl.Interfaces {
			t.Interfaces = appendUnique(t.Interfaces, i)
		}
		if root {
			continue
		}
		if r.decl.KeyError != "" {
			c.report(violationInvalidKey(name, r.decl.KeyError, r.subgraph, r.decl.Position))
			continue
		}
		if !slices.Equal(r.decl.Key, t.Key) {
			c.report(violationKeyMismatch(name, t.Key, r.decl.Key, r.subgraph, r.decl.Position))
		}
	}
	if !root && !t.IsEntity() && len(exts) > 0 {
		c.report(violationMissingKey(name, exts[0].subgraph, exts[0].decl.Position))
	}

	for _, r := range ordered {
		for _, fd := range r.decl.Fields {
			c.mergeField(t, r, fd)
		}
	}
	c.sg.Types[name] = t
}

func (c *composer) mergeField(t *supergraph.Type, r declRef, fd *FieldDeclaration) {
	coord := supergraph.FieldCoordinate{Type: t.Name, Field: fd.Name}
	isKey := t.IsKeyField(fd.Name)
	// value types (no key, not a root) are shared by every declarer
	shared := isKey || (!t.IsEntity() && !isRoot(t.Name))

	if fd.FieldSetError != "" {
		if len(fd.Requires) == 0 {
			c.report(violationInvalidProvides(t.Name, fd.Name, fd.FieldSetError, r.subgraph, fd.Position))
		} else {
			c.report(violationInvalidRequires(t.Name, fd.Name, fd.FieldSetError, r.subgraph, fd.Position))
		}
	}
	c.checkRequiresDeclared(t, r, fd)

	f := t.Field(fd.Name)
	if f == nil {
		if fd.External && !isKey {
			return
		}
		owner := r.subgraph
		if isKey {
			owner = t.Owner
		}
		f = &supergraph.Field{
			Name:      fd.Name,
			Type:      fd.Type,
			Arguments: fd.Arguments,
			Owner:     owner,
			Subgraphs: []string{r.subgraph},
			Requires:  fd.Requires,
			Provides:  fd.Provides,
		}
		t.Fields = append(t.Fields, f)
		c.fieldPos[coord] = position{r.subgraph, fd.Position}
		return
	}

	if !f.Type.Equal(fd.Type) {
		c.report(violationFieldTypeMismatch(t.Name, fd.Name, f.Type.String(), fd.Type.String(), r.subgraph, fd.Position))
		return
	}
	switch {
	case shared:
		f.Subgraphs = appendUnique(f.Subgraphs, r.subgraph)
		if !isKey && r.subgraph < f.Owner {
			f.Owner = r.subgraph
		}
	case fd.External:
	default:
		c.report(violationDuplicateOwnership(t.Name, fd.Name, f.Owner, r.subgraph, fd.Position))
	}
}

// checkRequiresDeclared enforces that every @requires field is visible in the
// declaring subgraph, either as a key field or as an @external field.
func (c *composer) checkRequiresDeclared(t *supergraph.Type, r declRef, fd *FieldDeclaration) {
	if len(fd.Requires) == 0 {
		return
	}
	if !t.IsEntity() {
		c.report(violationInvalidRequires(t.Name, fd.Name, "type declares no @key", r.subgraph, fd.Position))
		return
	}
	for _, req := range fd.Requires {
		dep := r.decl.Field(req)
		switch {
		case req == fd.Name:
			c.report(violationInvalidRequires(t.Name, fd.Name, "field cannot require itself", r.subgraph, fd.Position))
		case dep == nil:
			c.report(violationInvalidRequires(t.Name, fd.Name, "field "+req+" is not declared in subgraph "+r.subgraph, r.subgraph, fd.Position))
		case !dep.External && !t.IsKeyField(req):
			c.report(violationInvalidRequires(t.Name, fd.Name, "field "+req+" must be a key field or marked @external", r.subgraph, fd.Position))
		}
	}
}

// validate runs the checks that need the fully merged type set.
func (c *composer) validate() {
	for _, name := range c.sg.TypeNames() {
		t := c.sg.Types[name]
		tp := c.typePos[name]
		for _, i := range t.Interfaces {
			c.checkTypeExists(i, "type "+name, tp)
		}
		for _, p := range t.PossibleTypes {
			c.checkTypeExists(p, "union "+name, tp)
		}
		for _, in := range t.InputFields {
			c.checkTypeExists(in.Type.NamedType(), name+"."+in.Name, c.fieldPos[supergraph.FieldCoordinate{Type: name, Field: in.Name}])
		}
		for _, k := range t.Key {
			kf := t.Field(k)
			if kf == nil {
				c.report(violationInvalidKey(name, "field "+k+" is not declared", tp.subgraph, tp.pos))
				continue
			}
			if !c.isLeaf(kf.Type) {
				c.report(violationInvalidKey(name, "field "+k+" is not a scalar or enum", tp.subgraph, tp.pos))
			}
		}
		for _, f := range t.Fields {
			fp := c.fieldPos[supergraph.FieldCoordinate{Type: name, Field: f.Name}]
			c.checkTypeExists(f.Type.NamedType(), name+"."+f.Name, fp)
			for _, a := range f.Arguments {
				c.checkTypeExists(a.Type.NamedType(), name+"."+f.Name+"("+a.Name+")", fp)
			}
			for _, req := range f.Requires {
				dep := t.Field(req)
				if dep == nil {
					c.report(violationInvalidRequires(name, f.Name, "field "+req+" is not resolved by any subgraph", fp.subgraph, fp.pos))
					continue
				}
				if !c.isLeaf(dep.Type) {
					c.report(violationInvalidRequires(name, f.Name, "field "+req+" is not a scalar or enum", fp.subgraph, fp.pos))
				}
			}
			c.checkProvides(t, f, fp)
		}
	}
}

func (c *composer) checkProvides(t *supergraph.Type, f *supergraph.Field, fp position) {
	if len(f.Provides) == 0 {
		return
	}
	target := c.sg.Types[f.Type.NamedType()]
	if target == nil {
		return
	}
	if !target.IsEntity() {
		c.report(violationInvalidProvides(t.Name, f.Name, "type "+target.Name+" declares no @key", fp.subgraph, fp.pos))
		return
	}
	for _, p := range f.Provides {
		pf := target.Field(p)
		if pf == nil {
			c.report(violationInvalidProvides(t.Name, f.Name, "field "+p+" does not exist on "+target.Name, fp.subgraph, fp.pos))
			continue
		}
		if !c.isLeaf(pf.Type) {
			c.report(violationInvalidProvides(t.Name, f.Name, "field "+p+" is not a scalar or enum", fp.subgraph, fp.pos))
		}
	}
}

func (c *composer) checkTypeExists(name, where string, p position) {
	if name == "" || c.failed[name] {
		return
	}
	if c.sg.Types[name] == nil {
		c.report(violationUnknownType(name, where, p.subgraph, p.pos))
	}
}

func (c *composer) isLeaf(ref *supergraph.TypeRef) bool {
	if ref.IsList() {
		return false
	}
	t := c.sg.Types[ref.NamedType()]
	return t != nil && t.Kind.IsLeaf()
}

func inputField(t *supergraph.Type, name string) *supergraph.Argument {
	for _, in := range t.InputFields {
		if in.Name == name {
			return in
		}
	}
	return nil
}

func appendUnique(list []string, v string) []string {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}
