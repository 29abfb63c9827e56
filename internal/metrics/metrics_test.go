package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eventbus "github.com/hanpama/fedgraph/internal/eventbus"
	events "github.com/hanpama/fedgraph/internal/events"
)

func TestMetricsFollowEvents(t *testing.T) {
	eventbus.Use(eventbus.New())
	defer eventbus.Use(nil)

	m := New(false)
	detach := m.Attach()
	defer detach()

	ctx := context.Background()
	eventbus.Publish(ctx, events.HTTPFinish{Status: 200, Duration: time.Millisecond})
	eventbus.Publish(ctx, events.GraphQLFinish{OperationType: "query", Steps: 3})
	eventbus.Publish(ctx, events.GraphQLFinish{OperationType: "query", ErrorCount: 1})
	eventbus.Publish(ctx, events.GraphQLFinish{Err: errors.New("parse")})
	eventbus.Publish(ctx, events.SubgraphFetchFinish{Subgraph: "users"})
	eventbus.Publish(ctx, events.SubgraphFetchFinish{Subgraph: "users", Err: errors.New("down")})
	eventbus.Publish(ctx, events.CompositionFinish{Subgraphs: []string{"a", "b"}})
	eventbus.Publish(ctx, events.CompositionFinish{Err: errors.New("bad")})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("query", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("query", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("unknown", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubgraphFetches.WithLabelValues("users", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubgraphFetches.WithLabelValues("users", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Compositions.WithLabelValues("error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ComposedSubgraphs))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New(true)
	m.SubgraphFetches.WithLabelValues("users", "success").Inc()

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, w.Code)
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `fedgraph_subgraph_fetches_total{outcome="success",subgraph="users"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
