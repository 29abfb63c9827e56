package executor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	compose "github.com/hanpama/fedgraph/internal/compose"
	language "github.com/hanpama/fedgraph/internal/language"
	planner "github.com/hanpama/fedgraph/internal/planner"
	registry "github.com/hanpama/fedgraph/internal/registry"
)

const usersSDL = `
type User @key(fields: "id") {
  id: ID!
  name: String!
}

type Query {
  users: [User]
  user(id: ID!): User
}

type Mutation {
  createUser(name: String!): User
}
`

const ordersSDL = `
type Order @key(fields: "id") {
  id: ID!
  product: Product @provides(fields: "id")
}

extend type User @key(fields: "id") {
  id: ID! @external
  orders: [Order] @requires(fields: "id")
}

extend type Product @key(fields: "id") {
  id: ID! @external
}

type Query {
  orders: [Order]
}

type Mutation {
  createOrder(productId: ID!): Order
  deleteOrder(id: ID!): Boolean
}
`

const productsSDL = `
type Product @key(fields: "id") {
  id: ID!
  name: String!
}

type Query {
  products: [Product]
}
`

func mustPlan(t *testing.T, query string) *planner.QueryPlan {
	t.Helper()
	return planWith(t, []registry.Service{
		{Name: "users", SDL: usersSDL},
		{Name: "orders", SDL: ordersSDL},
		{Name: "products", SDL: productsSDL},
	}, query)
}

func planWith(t *testing.T, services []registry.Service, query string) *planner.QueryPlan {
	t.Helper()
	sg, err := compose.FromServices(services)
	require.NoError(t, err)
	doc, err := language.ParseQuery(query)
	require.NoError(t, err)
	plan, err := planner.Plan(doc, "", sg)
	require.NoError(t, err)
	return plan
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func representations(t *testing.T, req *Request) []any {
	t.Helper()
	reps, ok := req.Variables["representations"].([]any)
	require.True(t, ok, "request has no representations: %v", req.Variables)
	return reps
}

const scenarioQuery = `{ users { id orders { id product { name } } } }`

func scenarioFetcher() *MockFetcher {
	return NewMockFetcher(map[string]MockHandler{
		"users": NewMockDataHandler(map[string]any{
			"users": []any{map[string]any{"id": "1"}},
		}),
		"orders": NewMockDataHandler(map[string]any{
			"_entities": []any{map[string]any{
				"orders": []any{map[string]any{"id": "10", "product": map[string]any{"id": "5"}}},
			}},
		}),
		"products": NewMockDataHandler(map[string]any{
			"_entities": []any{map[string]any{"name": "Widget"}},
		}),
	})
}

// Pattern: Result comparison
func TestExecuteNestedEntities(t *testing.T) {
	f := scenarioFetcher()
	res, err := New(f).Execute(context.Background(), mustPlan(t, scenarioQuery), nil)
	require.NoError(t, err)

	want := `{"data":{"users":[{"id":"1","orders":[{"id":"10","product":{"name":"Widget"}}]}]}}`
	if diff := cmp.Diff(want, mustJSON(t, res)); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}

	orders := f.CallsTo("orders")
	require.Len(t, orders, 1)
	wantReps := []any{map[string]any{"__typename": "User", "id": "1"}}
	if diff := cmp.Diff(wantReps, representations(t, orders[0].Request)); diff != "" {
		t.Fatalf("orders representations mismatch (-want +got):\n%s", diff)
	}
	products := f.CallsTo("products")
	require.Len(t, products, 1)
	wantReps = []any{map[string]any{"__typename": "Product", "id": "5"}}
	if diff := cmp.Diff(wantReps, representations(t, products[0].Request)); diff != "" {
		t.Fatalf("products representations mismatch (-want +got):\n%s", diff)
	}
}

// Pattern: Request inspection
func TestEntityRequestShape(t *testing.T) {
	f := scenarioFetcher()
	_, err := New(f).Execute(context.Background(), mustPlan(t, scenarioQuery), nil)
	require.NoError(t, err)

	req := f.CallsTo("orders")[0].Request
	doc, err := language.ParseQuery(req.Query)
	require.NoError(t, err, req.Query)
	require.Len(t, doc.Operations, 1)
	op := doc.Operations[0]
	require.Equal(t, language.Query, op.Operation)
	require.Len(t, op.VariableDefinitions, 1)
	require.Equal(t, "representations", op.VariableDefinitions[0].Variable)
	require.Equal(t, "[_Any!]!", op.VariableDefinitions[0].Type.String())

	entities := op.SelectionSet[0].(*language.Field)
	require.Equal(t, "_entities", entities.Name)
	frag := entities.SelectionSet[0].(*language.InlineFragment)
	require.Equal(t, "User", frag.TypeCondition)
	orders := frag.SelectionSet[0].(*language.Field)
	require.Equal(t, "orders", orders.Name)
}

func TestExecuteDeduplicatesReferences(t *testing.T) {
	f := scenarioFetcher()
	f.SetHandler("users", NewMockDataHandler(map[string]any{
		"users": []any{map[string]any{"id": "1"}, map[string]any{"id": "1"}},
	}))
	res, err := New(f).Execute(context.Background(), mustPlan(t, scenarioQuery), nil)
	require.NoError(t, err)

	require.Len(t, representations(t, f.CallsTo("orders")[0].Request), 1)
	want := `{"data":{"users":[` +
		`{"id":"1","orders":[{"id":"10","product":{"name":"Widget"}}]},` +
		`{"id":"1","orders":[{"id":"10","product":{"name":"Widget"}}]}]}}`
	if diff := cmp.Diff(want, mustJSON(t, res)); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteKeepsSelectionOrderAndHidesInternalFields(t *testing.T) {
	f := NewMockFetcher(map[string]MockHandler{
		"users": NewMockDataHandler(map[string]any{
			"users": []any{map[string]any{"id": "1", "name": "Ada"}},
		}),
		"orders": NewMockDataHandler(map[string]any{
			"_entities": []any{map[string]any{"orders": []any{}}},
		}),
	})
	res, err := New(f).Execute(context.Background(), mustPlan(t, `{ users { orders { id } name } }`), nil)
	require.NoError(t, err)

	want := `{"data":{"users":[{"orders":[],"name":"Ada"}]}}`
	if diff := cmp.Diff(want, mustJSON(t, res)); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteEntityFetchTimeout(t *testing.T) {
	f := scenarioFetcher()
	f.SetHandler("products", NewMockBlockingHandler())
	res, err := New(f, WithFetchTimeout(20*time.Millisecond)).Execute(context.Background(), mustPlan(t, scenarioQuery), nil)
	require.NoError(t, err)

	wantData := `{"users":[{"id":"1","orders":[{"id":"10","product":null}]}]}`
	if diff := cmp.Diff(wantData, mustJSON(t, res.Data)); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
	wantErrors := []GraphQLError{{
		Message:    `Request to subgraph "products" timed out`,
		Path:       Path{"users", 0, "orders", 0, "product", "name"},
		Extensions: map[string]any{"code": CodeFetchFailed, "serviceName": "products"},
	}}
	if diff := cmp.Diff(wantErrors, res.Errors); diff != "" {
		t.Fatalf("errors mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteSiblingFailureIsIsolated(t *testing.T) {
	f := NewMockFetcher(map[string]MockHandler{
		"users":    NewMockDataHandler(map[string]any{"users": []any{map[string]any{"name": "Ada"}}}),
		"products": NewMockErrorHandler(errors.New("connection refused")),
	})
	res, err := New(f).Execute(context.Background(), mustPlan(t, `{ users { name } products { name } }`), nil)
	require.NoError(t, err)

	wantData := `{"users":[{"name":"Ada"}],"products":null}`
	if diff := cmp.Diff(wantData, mustJSON(t, res.Data)); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, res.Errors, 1)
	require.Equal(t, Path{"products"}, res.Errors[0].Path)
	require.Equal(t, CodeFetchFailed, res.Errors[0].Code())
	require.Equal(t, `Request to subgraph "products" failed: connection refused`, res.Errors[0].Message)
}

func TestExecuteEntityErrors(t *testing.T) {
	tests := []struct {
		name       string
		products   MockHandler
		wantCode   string
		wantPath   Path
		wantErrors int
	}{
		{
			name:     "null entity",
			products: NewMockDataHandler(map[string]any{"_entities": []any{nil}}),
			wantCode: CodeEntityNotFound,
			wantPath: Path{"users", 0, "orders", 0, "product", "name"},
		},
		{
			name:     "short entity list",
			products: NewMockDataHandler(map[string]any{"_entities": []any{}}),
			wantCode: CodeMergeFailed,
			wantPath: Path{"users", 0, "orders", 0, "product", "name"},
		},
		{
			name: "subgraph error on entity field",
			products: func(ctx context.Context, req *Request) (*Response, error) {
				return &Response{
					Data: map[string]any{"_entities": []any{map[string]any{"name": nil}}},
					Errors: []*RemoteError{{
						Message: "name unavailable",
						Path:    []any{"_entities", float64(0), "name"},
					}},
				}, nil
			},
			wantCode: CodeSubgraphError,
			wantPath: Path{"users", 0, "orders", 0, "product", "name"},
		},
		{
			name: "subgraph error with own code",
			products: func(ctx context.Context, req *Request) (*Response, error) {
				return &Response{
					Data: map[string]any{"_entities": []any{nil}},
					Errors: []*RemoteError{{
						Message:    "forbidden",
						Path:       []any{"_entities", float64(0)},
						Extensions: map[string]any{"code": "FORBIDDEN"},
					}},
				}, nil
			},
			wantCode: "FORBIDDEN",
			wantPath: Path{"users", 0, "orders", 0, "product", "name"},
		},
		{
			name: "data missing",
			products: func(ctx context.Context, req *Request) (*Response, error) {
				return &Response{Errors: []*RemoteError{{Message: "internal"}}}, nil
			},
			wantCode: CodeSubgraphError,
			wantPath: Path{"users", 0, "orders", 0, "product", "name"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := scenarioFetcher()
			f.SetHandler("products", tc.products)
			res, err := New(f).Execute(context.Background(), mustPlan(t, scenarioQuery), nil)
			require.NoError(t, err)

			wantData := `{"users":[{"id":"1","orders":[{"id":"10","product":null}]}]}`
			if diff := cmp.Diff(wantData, mustJSON(t, res.Data)); diff != "" {
				t.Fatalf("data mismatch (-want +got):\n%s", diff)
			}
			require.Len(t, res.Errors, 1, "%+v", res.Errors)
			require.Equal(t, tc.wantCode, res.Errors[0].Code())
			require.Equal(t, tc.wantPath, res.Errors[0].Path)
			require.Equal(t, "products", res.Errors[0].Extensions["serviceName"])
		})
	}
}

func TestExecuteNullBubbling(t *testing.T) {
	t.Run("list item", func(t *testing.T) {
		f := NewMockFetcher(map[string]MockHandler{
			"users": NewMockDataHandler(map[string]any{
				"users": []any{map[string]any{"name": nil}, map[string]any{"name": "Ada"}},
			}),
		})
		res, err := New(f).Execute(context.Background(), mustPlan(t, `{ users { name } }`), nil)
		require.NoError(t, err)

		wantData := `{"users":[null,{"name":"Ada"}]}`
		if diff := cmp.Diff(wantData, mustJSON(t, res.Data)); diff != "" {
			t.Fatalf("data mismatch (-want +got):\n%s", diff)
		}
		wantErrors := []GraphQLError{{
			Message:    "Cannot return null for non-nullable field User.name",
			Path:       Path{"users", 0, "name"},
			Extensions: map[string]any{"code": CodeNonNullViolation, "serviceName": "users"},
		}}
		if diff := cmp.Diff(wantErrors, res.Errors); diff != "" {
			t.Fatalf("errors mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("subgraph error is not doubled", func(t *testing.T) {
		f := NewMockFetcher(map[string]MockHandler{
			"users": func(ctx context.Context, req *Request) (*Response, error) {
				return &Response{
					Data:   map[string]any{"user": map[string]any{"name": nil}},
					Errors: []*RemoteError{{Message: "no name", Path: []any{"user", "name"}}},
				}, nil
			},
		})
		res, err := New(f).Execute(context.Background(), mustPlan(t, `{ user(id: "1") { name } }`), nil)
		require.NoError(t, err)

		require.Equal(t, `{"user":null}`, mustJSON(t, res.Data))
		require.Len(t, res.Errors, 1)
		require.Equal(t, "no name", res.Errors[0].Message)
		require.Equal(t, Path{"user", "name"}, res.Errors[0].Path)
	})

	t.Run("subgraph error below a null it bubbled", func(t *testing.T) {
		services := []registry.Service{{Name: "users", SDL: `
type User @key(fields: "id") {
  id: ID!
  name: String!
}

type Query {
  me: User!
}
`}}
		f := NewMockFetcher(map[string]MockHandler{
			"users": func(ctx context.Context, req *Request) (*Response, error) {
				return &Response{
					Data:   map[string]any{"me": nil},
					Errors: []*RemoteError{{Message: "boom", Path: []any{"me", "name"}}},
				}, nil
			},
		})
		res, err := New(f).Execute(context.Background(), planWith(t, services, `{ me { name } }`), nil)
		require.NoError(t, err)

		require.Nil(t, res.Data)
		wantErrors := []GraphQLError{{
			Message:    "boom",
			Path:       Path{"me", "name"},
			Extensions: map[string]any{"code": CodeSubgraphError, "serviceName": "users"},
		}}
		if diff := cmp.Diff(wantErrors, res.Errors); diff != "" {
			t.Fatalf("errors mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestExecuteNullRequiredFieldIsSent(t *testing.T) {
	services := []registry.Service{
		{Name: "users", SDL: `
type User @key(fields: "id") {
  id: ID!
  nickname: String
}

type Query {
  users: [User]
}
`},
		{Name: "greet", SDL: `
extend type User @key(fields: "id") {
  id: ID! @external
  nickname: String @external
  greeting: String @requires(fields: "nickname")
}

type Query {
  greetings: [String]
}
`},
	}
	f := NewMockFetcher(map[string]MockHandler{
		"users": NewMockDataHandler(map[string]any{
			"users": []any{map[string]any{"id": "1", "nickname": nil}},
		}),
		"greet": NewMockDataHandler(map[string]any{
			"_entities": []any{map[string]any{"greeting": "Hello, stranger"}},
		}),
	})
	res, err := New(f).Execute(context.Background(), planWith(t, services, `{ users { id greeting } }`), nil)
	require.NoError(t, err)

	want := `{"data":{"users":[{"id":"1","greeting":"Hello, stranger"}]}}`
	if diff := cmp.Diff(want, mustJSON(t, res)); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}
	calls := f.CallsTo("greet")
	require.Len(t, calls, 1)
	wantReps := []any{map[string]any{"__typename": "User", "id": "1", "nickname": nil}}
	if diff := cmp.Diff(wantReps, representations(t, calls[0].Request)); diff != "" {
		t.Fatalf("greet representations mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteMutationsRunInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string, delay time.Duration, data map[string]any) MockHandler {
		return func(ctx context.Context, req *Request) (*Response, error) {
			time.Sleep(delay)
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return &Response{Data: data}, nil
		}
	}
	f := NewMockFetcher(map[string]MockHandler{
		"orders": func(ctx context.Context, req *Request) (*Response, error) {
			doc, err := language.ParseQuery(req.Query)
			if err != nil {
				return nil, err
			}
			switch doc.Operations[0].SelectionSet[0].(*language.Field).Name {
			case "createOrder":
				return record("createOrder", 30*time.Millisecond, map[string]any{"a": map[string]any{"id": "11"}})(ctx, req)
			default:
				return record("deleteOrder", 0, map[string]any{"b": true})(ctx, req)
			}
		},
		"users": record("createUser", 10*time.Millisecond, map[string]any{"c": map[string]any{"name": "Ada"}}),
	})
	plan := mustPlan(t, `mutation {
  a: createOrder(productId: "5") { id }
  b: deleteOrder(id: "11")
  c: createUser(name: "Ada") { name }
}`)
	res, err := New(f).Execute(context.Background(), plan, nil)
	require.NoError(t, err)

	require.Equal(t, []string{"createOrder", "deleteOrder", "createUser"}, order)
	want := `{"data":{"a":{"id":"11"},"b":true,"c":{"name":"Ada"}}}`
	if diff := cmp.Diff(want, mustJSON(t, res)); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteVariables(t *testing.T) {
	f := NewMockFetcher(map[string]MockHandler{
		"users": NewMockDataHandler(map[string]any{"user": map[string]any{"name": "Ada"}}),
	})
	plan := mustPlan(t, `query Q($id: ID!, $unused: Int = 3) { user(id: $id) { name } }`)

	res, err := New(f).Execute(context.Background(), plan, map[string]any{"id": float64(1)})
	require.NoError(t, err)
	require.Equal(t, `{"user":{"name":"Ada"}}`, mustJSON(t, res.Data))

	req := f.Calls()[0].Request
	require.Equal(t, "Q", req.OperationName)
	if diff := cmp.Diff(map[string]any{"id": "1"}, req.Variables); diff != "" {
		t.Fatalf("variables mismatch (-want +got):\n%s", diff)
	}
	doc, err := language.ParseQuery(req.Query)
	require.NoError(t, err)
	require.Len(t, doc.Operations[0].VariableDefinitions, 1, "unused variables are not forwarded")

	_, err = New(f).Execute(context.Background(), plan, nil)
	var verr *VariableError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "variable $id of required type ID! was not provided", verr.Message)
}

func TestExecuteTypename(t *testing.T) {
	f := NewMockFetcher(map[string]MockHandler{
		"users": NewMockDataHandler(map[string]any{"users": []any{map[string]any{"__typename": "User"}}}),
	})
	res, err := New(f).Execute(context.Background(), mustPlan(t, `{ __typename users { __typename } }`), nil)
	require.NoError(t, err)
	require.Equal(t, `{"__typename":"Query","users":[{"__typename":"User"}]}`, mustJSON(t, res.Data))
}

func TestExecuteCancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := scenarioFetcher()
	f.SetHandler("orders", NewMockBlockingHandler())
	f.SetHandler("products", NewMockBlockingHandler())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	plan := mustPlan(t, `{ users { id orders { id } } products { name } }`)
	res, err := New(f).Execute(ctx, plan, nil)
	require.Nil(t, res)
	require.ErrorIs(t, err, ErrCancelled)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestObjectMarshalKeepsOrder(t *testing.T) {
	o := NewObject()
	o.Set("b", 1)
	o.Set("a", []any{NewObject()})
	o.Set("b", 2)
	require.Equal(t, `{"b":2,"a":[{}]}`, mustJSON(t, o))
	require.Equal(t, []string{"b", "a"}, o.Keys())
	require.Equal(t, map[string]any{"b": 2, "a": []any{map[string]any{}}}, o.Map())
}
