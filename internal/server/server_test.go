package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	executor "github.com/hanpama/fedgraph/internal/executor"
	gateway "github.com/hanpama/fedgraph/internal/gateway"
	reqid "github.com/hanpama/fedgraph/internal/reqid"
	transport "github.com/hanpama/fedgraph/internal/transport"
)

// recordingService answers every operation with hello: world and records
// what it received.
type recordingService struct {
	ctx  context.Context
	reqs []gateway.Request
}

func (s *recordingService) Execute(ctx context.Context, req gateway.Request) *executor.ExecutionResult {
	s.ctx = ctx
	s.reqs = append(s.reqs, req)
	data := executor.NewObject()
	data.Set("hello", "world")
	return &executor.ExecutionResult{Data: data}
}

func post(t *testing.T, h http.Handler, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/graphql", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestPost(t *testing.T) {
	svc := &recordingService{}
	h := New(svc)

	w := post(t, h, `{"query":"query Q($n: Int) { hello }","operationName":"Q","variables":{"n":1}}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Pattern: Result comparison
	if diff := cmp.Diff(`{"data":{"hello":"world"}}`+"\n", w.Body.String()); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
	want := []gateway.Request{{
		Query:         "query Q($n: Int) { hello }",
		OperationName: "Q",
		Variables:     map[string]any{"n": float64(1)},
	}}
	if diff := cmp.Diff(want, svc.reqs); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
}

func TestGet(t *testing.T) {
	svc := &recordingService{}
	h := New(svc)

	q := url.Values{"query": {"{ hello }"}, "variables": {`{"a":"b"}`}}
	req := httptest.NewRequest("GET", "/graphql?"+q.Encode(), nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []gateway.Request{{Query: "{ hello }", Variables: map[string]any{"a": "b"}}}, svc.reqs)
}

func TestBatch(t *testing.T) {
	svc := &recordingService{}
	h := New(svc)

	w := post(t, h, `[{"query":"{ a: hello }"},{"query":"{ b: hello }"}]`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 2)
	require.Len(t, svc.reqs, 2)
	require.Equal(t, "{ b: hello }", svc.reqs[1].Query)
}

func TestBadRequests(t *testing.T) {
	h := New(&recordingService{}, WithMaxBodyBytes(32))

	tests := []struct {
		name    string
		method  string
		ct      string
		body    string
		status  int
		message string
	}{
		{"invalid json", "POST", "application/json", `{`, http.StatusBadRequest, "invalid JSON"},
		{"missing query", "POST", "application/json", `{"query":""}`, http.StatusBadRequest, "missing 'query'"},
		{"empty batch", "POST", "application/json", `[]`, http.StatusBadRequest, "empty batch"},
		{"content type", "POST", "text/plain", `{ hello }`, http.StatusBadRequest, "unsupported Content-Type"},
		{"too large", "POST", "application/json", `{"query":"{ hello hello hello hello }"}`, http.StatusRequestEntityTooLarge, "body too large"},
		{"method", "PUT", "application/json", `{}`, http.StatusMethodNotAllowed, "method not allowed"},
		{"get without query", "GET", "", ``, http.StatusBadRequest, "missing 'query'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/graphql", bytes.NewBufferString(tt.body))
			if tt.ct != "" {
				req.Header.Set("Content-Type", tt.ct)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			require.Equal(t, tt.status, w.Code)

			var res struct {
				Data   any
				Errors []struct{ Message string }
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
			require.Nil(t, res.Data)
			require.Len(t, res.Errors, 1)
			require.Equal(t, tt.message, res.Errors[0].Message)
		})
	}
}

func TestForwardedHeaders(t *testing.T) {
	svc := &recordingService{}
	h := New(svc, WithForwardHeaders("x-test"))

	w := post(t, h, `{"query":"{ hello }"}`, http.Header{"X-Test": {"abc"}, "X-Other": {"nope"}})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, http.Header{"X-Test": {"abc"}}, transport.HeadersFromContext(svc.ctx))
}

func TestForwardedHeadersDefaultEmpty(t *testing.T) {
	svc := &recordingService{}
	h := New(svc)

	w := post(t, h, `{"query":"{ hello }"}`, http.Header{"X-Test": {"abc"}})
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, transport.HeadersFromContext(svc.ctx))
}

func TestCORSAndPreflight(t *testing.T) {
	h := New(&recordingService{}, WithCORS("*"))

	// simple request
	w := post(t, h, `{"query":"{ hello }"}`, http.Header{"Origin": {"http://example.com"}})
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	// preflight
	pre := httptest.NewRequest("OPTIONS", "/", nil)
	pre.Header.Set("Origin", "http://example.com")
	pre.Header.Set("Access-Control-Request-Headers", "X-Test")
	pw := httptest.NewRecorder()
	h.ServeHTTP(pw, pre)
	require.Equal(t, http.StatusNoContent, pw.Code)
	require.Equal(t, "*", pw.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "X-Test", pw.Header().Get("Access-Control-Allow-Headers"))
}

func TestCORSSpecificOrigin(t *testing.T) {
	h := New(&recordingService{}, WithCORS("http://a.example"))

	w := post(t, h, `{"query":"{ hello }"}`, http.Header{"Origin": {"http://a.example"}})
	require.Equal(t, "http://a.example", w.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "Origin", w.Header().Get("Vary"))

	w = post(t, h, `{"query":"{ hello }"}`, http.Header{"Origin": {"http://b.example"}})
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestID(t *testing.T) {
	svc := &recordingService{}
	h := New(svc)

	w := post(t, h, `{"query":"{ hello }"}`, nil)
	id, ok := reqid.FromContext(svc.ctx)
	require.True(t, ok)
	require.NotEmpty(t, id)
	require.Equal(t, id, w.Header().Get(reqid.Header))

	// Pattern: Client-supplied IDs are kept
	w = post(t, h, `{"query":"{ hello }"}`, http.Header{reqid.Header: {"abc-123"}})
	id, _ = reqid.FromContext(svc.ctx)
	require.Equal(t, "abc-123", id)
	require.Equal(t, "abc-123", w.Header().Get(reqid.Header))
}

func TestDefaultTimeout(t *testing.T) {
	svc := &recordingService{}
	h := New(svc)

	post(t, h, `{"query":"{ hello }"}`, nil)
	_, ok := svc.ctx.Deadline()
	require.True(t, ok)
}

func TestHealth(t *testing.T) {
	ready := false
	h := Health(func() bool { return ready })

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	ready = true
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
}
