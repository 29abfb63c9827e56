package supergraph

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	language "github.com/hanpama/fedgraph/internal/language"
)

func newTestSupergraph() *Supergraph {
	s := New(&Subgraph{Name: "users", URL: "http://u"}, &Subgraph{Name: "orders", URL: "http://o"})
	s.Types["Query"] = &Type{Name: "Query", Kind: KindObject, Subgraphs: []string{"users"}, Fields: []*Field{
		{Name: "users", Type: ListType(NamedType("User")), Owner: "users", Subgraphs: []string{"users"}},
	}}
	s.Types["User"] = &Type{Name: "User", Kind: KindObject, Key: []string{"id"}, Owner: "users", Subgraphs: []string{"users", "orders"}, Fields: []*Field{
		{Name: "id", Type: NonNullType(NamedType("ID")), Owner: "users", Subgraphs: []string{"users", "orders"}},
		{Name: "orders", Type: ListType(NamedType("Order")), Owner: "orders", Subgraphs: []string{"orders"}, Requires: []string{"id"}},
	}}
	s.Types["Order"] = &Type{Name: "Order", Kind: KindObject, Key: []string{"id"}, Owner: "orders", Subgraphs: []string{"orders"}, Fields: []*Field{
		{Name: "id", Type: NonNullType(NamedType("ID")), Owner: "orders", Subgraphs: []string{"orders"}},
	}}
	return s
}

func TestRender(t *testing.T) {
	got := Render(newTestSupergraph())
	want := `schema {
  query: Query
}

enum join__Graph {
  USERS @join__graph(name: "users", url: "http://u")
  ORDERS @join__graph(name: "orders", url: "http://o")
}

type Order
  @join__type(graph: ORDERS, key: "id")
{
  id: ID!
}

type Query {
  users: [User] @join__field(graph: USERS)
}

type User
  @join__type(graph: USERS, key: "id")
  @join__type(graph: ORDERS, key: "id")
{
  id: ID!
  orders: [Order] @join__field(graph: ORDERS, requires: "id")
}
`
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Render mismatch (-want +got):\n%s", diff)
	}
}

func TestOwners(t *testing.T) {
	s := newTestSupergraph()
	want := map[FieldCoordinate]string{
		{Type: "Query", Field: "users"}: "users",
		{Type: "User", Field: "id"}:     "users",
		{Type: "User", Field: "orders"}: "orders",
		{Type: "Order", Field: "id"}:    "orders",
	}
	if diff := cmp.Diff(want, s.Owners()); diff != "" {
		t.Fatalf("Owners mismatch (-want +got):\n%s", diff)
	}
	if got := s.Owner("User", "orders"); got != "orders" {
		t.Fatalf("Owner(User.orders) = %q", got)
	}
	if got := s.Owner("User", "missing"); got != "" {
		t.Fatalf("Owner(User.missing) = %q", got)
	}
	if s.RootType(language.Mutation) != nil {
		t.Fatalf("unexpected mutation root")
	}
	if !s.Types["User"].Field("id").ResolvableBy("orders") {
		t.Fatalf("key field should be resolvable by extending subgraph")
	}
}

func TestTypeRef(t *testing.T) {
	doc, err := language.ParseSchema("t", `type T { a: [Order!]! b: Int }`)
	if err != nil {
		t.Fatal(err)
	}
	fields := doc.Definitions[0].Fields
	a := FromAST(fields[0].Type)
	if got := a.String(); got != "[Order!]!" {
		t.Fatalf("String() = %q", got)
	}
	if !a.IsNonNull() || !a.IsList() || a.NamedType() != "Order" {
		t.Fatalf("unexpected wrapping: %+v", a)
	}
	if !a.Equal(NonNullType(ListType(NonNullType(NamedType("Order"))))) {
		t.Fatalf("Equal mismatch")
	}
	b := FromAST(fields[1].Type)
	if b.IsNonNull() || b.IsList() || b.Equal(a) {
		t.Fatalf("unexpected wrapping: %+v", b)
	}
}
