package subgraphkit

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
)

// Sample subgraphs: users and products own their entities; orders owns
// Order and extends both with an orders field.

const UsersSDL = `type User @key(fields: "id") {
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

const OrdersSDL = `type Order @key(fields: "id") {
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

const ProductsSDL = `type Product @key(fields: "id") {
  id: ID!
  name: String!
  price: Float!
}

type Query {
  products: [Product]
  product(id: ID!): Product
  _service: _Service!
}

type Mutation {
  createProduct(name: String!, price: Float!): Product
  updateProduct(id: ID!, name: String, price: Float): Product
  deleteProduct(id: ID!): Boolean
}
`

// table is a mutex-guarded list of records keyed by "id".
type table struct {
	kind    string
	mu      sync.Mutex
	records []map[string]any
}

func newTable(kind string, records ...map[string]any) *table {
	return &table{kind: kind, records: records}
}

func (t *table) all() []map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]map[string]any, len(t.records))
	for i, r := range t.records {
		out[i] = clone(r)
	}
	return out
}

func (t *table) find(id string) map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := t.index(id); i >= 0 {
		return clone(t.records[i])
	}
	return nil
}

func (t *table) filter(field, value string) []map[string]any {
	var out []map[string]any
	for _, r := range t.all() {
		if r[field] == value {
			out = append(out, r)
		}
	}
	return out
}

// insert stores r under the next numeric id.
func (t *table) insert(r map[string]any) map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := 1
	for _, rec := range t.records {
		if n, err := strconv.Atoi(rec["id"].(string)); err == nil && n >= next {
			next = n + 1
		}
	}
	r["id"] = strconv.Itoa(next)
	t.records = append(t.records, r)
	return clone(r)
}

// update sets the non-nil values of patch on record id.
func (t *table) update(id string, patch map[string]any) (map[string]any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.index(id)
	if i < 0 {
		return nil, fmt.Errorf("%s with ID %s not found.", t.kind, id)
	}
	for k, v := range patch {
		if v != nil {
			t.records[i][k] = v
		}
	}
	return clone(t.records[i]), nil
}

func (t *table) delete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.records)
	t.records = slices.DeleteFunc(t.records, func(r map[string]any) bool { return r["id"] == id })
	return len(t.records) < n
}

func (t *table) index(id string) int {
	return slices.IndexFunc(t.records, func(r map[string]any) bool { return r["id"] == id })
}

func clone(r map[string]any) map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func stringArg(args map[string]any, name string) string {
	switch v := args[name].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func intArg(args map[string]any, name string) any {
	switch v := args[name].(type) {
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return v
	}
}

func floatArg(args map[string]any, name string) any {
	switch v := args[name].(type) {
	case int64:
		return float64(v)
	default:
		return v
	}
}

func byID(t *table) Resolver {
	return func(ctx context.Context, _ map[string]any, args map[string]any) (any, error) {
		if r := t.find(stringArg(args, "id")); r != nil {
			return r, nil
		}
		return nil, nil
	}
}

func list(t *table) Resolver {
	return func(ctx context.Context, _ map[string]any, _ map[string]any) (any, error) {
		return t.all(), nil
	}
}

func remove(t *table) Resolver {
	return func(ctx context.Context, _ map[string]any, args map[string]any) (any, error) {
		return t.delete(stringArg(args, "id")), nil
	}
}

func reference(t *table) ReferenceResolver {
	return func(ctx context.Context, rep map[string]any) (map[string]any, error) {
		id, _ := rep["id"].(string)
		return t.find(id), nil
	}
}

// Sample holds the three sample services and their data.
type Sample struct {
	Users    *Service
	Orders   *Service
	Products *Service
}

// Services returns the sample services in composition order.
func (s *Sample) Services() []*Service { return []*Service{s.Users, s.Orders, s.Products} }

// NewSample builds the sample services seeded with one user, one product
// and one order linking them.
func NewSample() *Sample {
	users := newTable("User", map[string]any{"id": "1", "name": "Ada", "email": "ada@example.com"})
	products := newTable("Product", map[string]any{"id": "5", "name": "Widget", "price": 9.5})
	orders := newTable("Order", map[string]any{"id": "10", "userId": "1", "productId": "5", "quantity": 2})

	return &Sample{
		Users:    usersService(users),
		Orders:   ordersService(orders),
		Products: productsService(products),
	}
}

func usersService(users *table) *Service {
	s := mustService("users", UsersSDL)
	s.Resolve("Query", "users", list(users))
	s.Resolve("Query", "user", byID(users))
	s.Resolve("Mutation", "createUser", func(ctx context.Context, _ map[string]any, args map[string]any) (any, error) {
		return users.insert(map[string]any{"name": stringArg(args, "name"), "email": stringArg(args, "email")}), nil
	})
	s.Resolve("Mutation", "updateUser", func(ctx context.Context, _ map[string]any, args map[string]any) (any, error) {
		return users.update(stringArg(args, "id"), map[string]any{
			"name":  args["name"],
			"email": args["email"],
		})
	})
	s.Resolve("Mutation", "deleteUser", remove(users))
	s.ResolveReference("User", reference(users))
	return s
}

func ordersService(orders *table) *Service {
	s := mustService("orders", OrdersSDL)
	s.Resolve("Query", "orders", list(orders))
	s.Resolve("Query", "order", byID(orders))
	s.Resolve("Mutation", "createOrder", func(ctx context.Context, _ map[string]any, args map[string]any) (any, error) {
		return orders.insert(map[string]any{
			"userId":    stringArg(args, "userId"),
			"productId": stringArg(args, "productId"),
			"quantity":  intArg(args, "quantity"),
		}), nil
	})
	s.Resolve("Mutation", "updateOrder", func(ctx context.Context, _ map[string]any, args map[string]any) (any, error) {
		return orders.update(stringArg(args, "id"), map[string]any{
			"userId":    args["userId"],
			"productId": args["productId"],
			"quantity":  intArg(args, "quantity"),
		})
	})
	s.Resolve("Mutation", "deleteOrder", remove(orders))
	s.Resolve("Order", "user", func(ctx context.Context, order map[string]any, _ map[string]any) (any, error) {
		return map[string]any{"id": order["userId"]}, nil
	})
	s.Resolve("Order", "product", func(ctx context.Context, order map[string]any, _ map[string]any) (any, error) {
		return map[string]any{"id": order["productId"]}, nil
	})
	s.Resolve("User", "orders", func(ctx context.Context, user map[string]any, _ map[string]any) (any, error) {
		return orders.filter("userId", stringArg(user, "id")), nil
	})
	s.Resolve("Product", "orders", func(ctx context.Context, product map[string]any, _ map[string]any) (any, error) {
		return orders.filter("productId", stringArg(product, "id")), nil
	})
	s.ResolveReference("Order", reference(orders))
	return s
}

func productsService(products *table) *Service {
	s := mustService("products", ProductsSDL)
	s.Resolve("Query", "products", list(products))
	s.Resolve("Query", "product", byID(products))
	s.Resolve("Mutation", "createProduct", func(ctx context.Context, _ map[string]any, args map[string]any) (any, error) {
		return products.insert(map[string]any{"name": stringArg(args, "name"), "price": floatArg(args, "price")}), nil
	})
	s.Resolve("Mutation", "updateProduct", func(ctx context.Context, _ map[string]any, args map[string]any) (any, error) {
		return products.update(stringArg(args, "id"), map[string]any{
			"name":  args["name"],
			"price": floatArg(args, "price"),
		})
	})
	s.Resolve("Mutation", "deleteProduct", remove(products))
	s.ResolveReference("Product", reference(products))
	return s
}

func mustService(name, sdl string) *Service {
	s, err := NewService(name, sdl)
	if err != nil {
		panic(err)
	}
	return s
}
