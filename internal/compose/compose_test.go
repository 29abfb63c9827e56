package compose

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	registry "github.com/hanpama/fedgraph/internal/registry"
	supergraph "github.com/hanpama/fedgraph/internal/supergraph"
)

const usersSDL = `
type User @key(fields: "id") {
  id: ID!
  name: String!
  email: String!
}

type Query {
  users: [User]
  user(id: ID!): User
  _service: _Service!
}

type Mutation {
  createUser(name: String!, email: String!): User
  updateUser(id: ID!, name: String, email: String): User
  deleteUser(id: ID!): Boolean
}
`

const ordersSDL = `
type Order @key(fields: "id") {
  id: ID!
  userId: ID!
  productId: ID!
  quantity: Int!
  user: User @provides(fields: "id")
  product: Product @provides(fields: "id")
}

extend type User @key(fields: "id") {
  id: ID! @external
  orders: [Order] @requires(fields: "id")
}

extend type Product @key(fields: "id") {
  id: ID! @external
  orders: [Order] @requires(fields: "id")
}

type Query {
  orders: [Order]
  order(id: ID!): Order
  _service: _Service!
}

type Mutation {
  createOrder(userId: ID!, productId: ID!, quantity: Int!): Order
  deleteOrder(id: ID!): Boolean
  updateOrder(id: ID!, userId: ID, productId: ID, quantity: Int): Order
}
`

const productsSDL = `
scalar _Any
type _Service { sdl: String }

type Product @key(fields: "id") {
  id: ID!
  name: String!
  price: Float!
}

type Query {
  products: [Product]
  product(id: ID!): Product
  _service: _Service!
  _entities(representations: [_Any!]!): [_Entity]!
}

type Mutation {
  createProduct(name: String!, price: Float!): Product
  updateProduct(id: ID!, name: String, price: Float): Product
  deleteProduct(id: ID!): Boolean
}
`

func sampleServices() []registry.Service {
	return []registry.Service{
		{Name: "users", URL: "http://localhost:4001/graphql", SDL: usersSDL},
		{Name: "orders", URL: "http://localhost:4002/graphql", SDL: ordersSDL},
		{Name: "products", URL: "http://localhost:4003/graphql", SDL: productsSDL},
	}
}

func mustCompose(t *testing.T, services []registry.Service) *supergraph.Supergraph {
	t.Helper()
	sg, err := FromServices(services)
	require.NoError(t, err)
	return sg
}

func TestComposeSampleServices(t *testing.T) {
	sg := mustCompose(t, sampleServices())

	wantOwners := map[supergraph.FieldCoordinate]string{
		{Type: "Query", Field: "users"}:            "users",
		{Type: "Query", Field: "user"}:             "users",
		{Type: "Query", Field: "orders"}:           "orders",
		{Type: "Query", Field: "order"}:            "orders",
		{Type: "Query", Field: "products"}:         "products",
		{Type: "Query", Field: "product"}:          "products",
		{Type: "Mutation", Field: "createUser"}:    "users",
		{Type: "Mutation", Field: "updateUser"}:    "users",
		{Type: "Mutation", Field: "deleteUser"}:    "users",
		{Type: "Mutation", Field: "createOrder"}:   "orders",
		{Type: "Mutation", Field: "deleteOrder"}:   "orders",
		{Type: "Mutation", Field: "updateOrder"}:   "orders",
		{Type: "Mutation", Field: "createProduct"}: "products",
		{Type: "Mutation", Field: "updateProduct"}: "products",
		{Type: "Mutation", Field: "deleteProduct"}: "products",
		{Type: "User", Field: "id"}:                "users",
		{Type: "User", Field: "name"}:              "users",
		{Type: "User", Field: "email"}:             "users",
		{Type: "User", Field: "orders"}:            "orders",
		{Type: "Product", Field: "id"}:             "products",
		{Type: "Product", Field: "name"}:           "products",
		{Type: "Product", Field: "price"}:          "products",
		{Type: "Product", Field: "orders"}:         "orders",
		{Type: "Order", Field: "id"}:               "orders",
		{Type: "Order", Field: "userId"}:           "orders",
		{Type: "Order", Field: "productId"}:        "orders",
		{Type: "Order", Field: "quantity"}:         "orders",
		{Type: "Order", Field: "user"}:             "orders",
		{Type: "Order", Field: "product"}:          "orders",
	}
	if diff := cmp.Diff(wantOwners, sg.Owners()); diff != "" {
		t.Fatalf("owners mismatch (-want +got):\n%s", diff)
	}

	user := sg.Type("User")
	require.Equal(t, []string{"id"}, user.Key)
	require.Equal(t, "users", user.Owner)
	require.Equal(t, []string{"users", "orders"}, user.Subgraphs)
	require.Equal(t, []string{"users", "orders"}, user.Field("id").Subgraphs)
	require.Equal(t, []string{"id"}, user.Field("orders").Requires)
	require.Equal(t, []string{"id"}, sg.Field("Order", "product").Provides)
	require.Equal(t, "Mutation", sg.MutationType)
	require.Nil(t, sg.Field("Query", "_service"))
	require.Nil(t, sg.Field("Query", "_entities"))
	require.Nil(t, sg.Type("_Any"))
	require.Equal(t, "http://localhost:4003/graphql", sg.Endpoints()["products"])
}

func TestComposeIsOrderIndependent(t *testing.T) {
	services := sampleServices()
	want := mustCompose(t, services).Owners()
	perms := [][]int{{0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, p := range perms {
		reordered := []registry.Service{services[p[0]], services[p[1]], services[p[2]]}
		got := mustCompose(t, reordered).Owners()
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("owners differ for order %v (-want +got):\n%s", p, diff)
		}
	}
}

func TestComposeSharedValueTypeOwnerIsOrderIndependent(t *testing.T) {
	a := registry.Service{Name: "b-svc", SDL: `type Query { a: Point } type Point { x: Int }`}
	b := registry.Service{Name: "a-svc", SDL: `type Query { b: Point } type Point { x: Int }`}
	first := mustCompose(t, []registry.Service{a, b})
	second := mustCompose(t, []registry.Service{b, a})
	if diff := cmp.Diff(first.Owners(), second.Owners()); diff != "" {
		t.Fatalf("owners differ (-first +second):\n%s", diff)
	}
	require.Equal(t, "a-svc", first.Owner("Point", "x"))
	require.ElementsMatch(t, []string{"a-svc", "b-svc"}, first.Field("Point", "x").Subgraphs)
}

const keyedUsers = `
type Query { user: User }
type User @key(fields: "id") { id: ID! name: String }
`

func TestComposeViolations(t *testing.T) {
	for _, tc := range []struct {
		name     string
		services []registry.Service
		want     []Kind
	}{
		{
			name: "duplicate root field",
			services: []registry.Service{
				{Name: "a", SDL: `type Query { a: Int }`},
				{Name: "b", SDL: `type Query { a: Int }`},
			},
			want: []Kind{DuplicateFieldOwnership},
		},
		{
			name: "duplicate entity field",
			services: []registry.Service{
				{Name: "a", SDL: keyedUsers},
				{Name: "b", SDL: `extend type User @key(fields: "id") { id: ID! @external name: String }`},
			},
			want: []Kind{DuplicateFieldOwnership},
		},
		{
			name: "key mismatch",
			services: []registry.Service{
				{Name: "a", SDL: keyedUsers},
				{Name: "b", SDL: `extend type User @key(fields: "name") { name: String @external extra: Int }`},
			},
			want: []Kind{KeyMismatch},
		},
		{
			name: "extension without key",
			services: []registry.Service{
				{Name: "a", SDL: keyedUsers},
				{Name: "b", SDL: `extend type User { extra: Int }`},
			},
			want: []Kind{KeyMismatch},
		},
		{
			name: "unknown base type",
			services: []registry.Service{
				{Name: "a", SDL: `type Query { a: Int }`},
				{Name: "b", SDL: `extend type Ghost @key(fields: "id") { id: ID! @external extra: Int }`},
			},
			want: []Kind{UnknownBaseType},
		},
		{
			name: "requires undeclared field",
			services: []registry.Service{
				{Name: "a", SDL: keyedUsers},
				{Name: "b", SDL: `extend type User @key(fields: "id") { id: ID! @external extra: Int @requires(fields: "name") }`},
			},
			want: []Kind{InvalidRequires},
		},
		{
			name: "requires owned field",
			services: []registry.Service{
				{Name: "a", SDL: keyedUsers},
				{Name: "b", SDL: `extend type User @key(fields: "id") { id: ID! @external tag: String extra: Int @requires(fields: "tag") }`},
			},
			want: []Kind{InvalidRequires},
		},
		{
			name: "requires unresolved external",
			services: []registry.Service{
				{Name: "a", SDL: keyedUsers},
				{Name: "b", SDL: `extend type User @key(fields: "id") { id: ID! @external ghost: String @external extra: Int @requires(fields: "ghost") }`},
			},
			want: []Kind{InvalidRequires},
		},
		{
			name: "unknown field type",
			services: []registry.Service{
				{Name: "a", SDL: `type Query { a: Missing }`},
			},
			want: []Kind{UnknownType},
		},
		{
			name: "kind mismatch",
			services: []registry.Service{
				{Name: "a", SDL: `type Query { a: Thing } type Thing { x: Int }`},
				{Name: "b", SDL: `enum Thing { A }`},
			},
			want: []Kind{KindMismatch},
		},
		{
			name: "key field not declared",
			services: []registry.Service{
				{Name: "a", SDL: `type Query { u: User } type User @key(fields: "nope") { id: ID! }`},
			},
			want: []Kind{InvalidKey},
		},
		{
			name: "nested key",
			services: []registry.Service{
				{Name: "a", SDL: `type Query { u: User } type User @key(fields: "org { id }") { id: ID! }`},
			},
			want: []Kind{InvalidKey},
		},
		{
			name: "extended value type",
			services: []registry.Service{
				{Name: "a", SDL: `type Query { p: Point } type Point { x: Int }`},
				{Name: "b", SDL: `extend type Point { y: Int }`},
			},
			want: []Kind{MissingKey},
		},
		{
			name: "provides on value type",
			services: []registry.Service{
				{Name: "a", SDL: `type Query { p: Point @provides(fields: "x") } type Point { x: Int }`},
			},
			want: []Kind{InvalidProvides},
		},
		{
			name: "all violations collected",
			services: []registry.Service{
				{Name: "a", SDL: `type Query { a: Int b: Missing }`},
				{Name: "b", SDL: `type Query { a: Int }`},
			},
			want: []Kind{DuplicateFieldOwnership, UnknownType},
		},
		{
			name: "parse errors of every subgraph",
			services: []registry.Service{
				{Name: "a", SDL: `type Query {`},
				{Name: "b", SDL: `type Query { a: Int }`},
				{Name: "c", SDL: `type {`},
			},
			want: []Kind{ParseError, ParseError},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromServices(tc.services)
			require.Error(t, err)
			cerr, ok := err.(*Error)
			require.True(t, ok, "expected *compose.Error, got %T", err)
			if diff := cmp.Diff(tc.want, cerr.Kinds()); diff != "" {
				t.Fatalf("violation kinds mismatch (-want +got):\n%s\n%s", diff, cerr.Error())
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	_, err := FromServices([]registry.Service{
		{Name: "a", SDL: "type Query {\n  a: Int\n}"},
		{Name: "b", SDL: "type Query {\n  a: Int\n}"},
	})
	require.Error(t, err)
	want := "composition failed:\n- [DuplicateFieldOwnership] Field Query.a is already owned by subgraph \"a\" b:2:3\n"
	require.Equal(t, want, err.Error())
	require.True(t, err.(*Error).Has(DuplicateFieldOwnership))
	require.False(t, err.(*Error).Has(KeyMismatch))
}

func TestParseDeclarations(t *testing.T) {
	sg, err := Parse("orders", "http://orders", ordersSDL)
	require.NoError(t, err)
	var names []string
	for _, d := range sg.Declarations {
		names = append(names, d.Name)
	}
	require.Equal(t, []string{"Order", "Query", "Mutation", "User", "Product"}, names)

	user := sg.Declarations[3]
	require.True(t, user.Extension)
	require.Equal(t, []string{"id"}, user.Key)
	require.True(t, user.Field("id").External)
	require.Equal(t, []string{"id"}, user.Field("orders").Requires)

	for _, d := range sg.Declarations {
		if d.Name == "Query" {
			for _, f := range d.Fields {
				require.False(t, strings.HasPrefix(f.Name, "_"), "federation field %s kept", f.Name)
			}
		}
	}
}

func TestParseFieldSet(t *testing.T) {
	got, err := parseFieldSet(" id, sku\tupc ")
	require.NoError(t, err)
	require.Equal(t, []string{"id", "sku", "upc"}, got)

	_, err = parseFieldSet("org { id }")
	require.Error(t, err)
	_, err = parseFieldSet("  ")
	require.Error(t, err)
}
