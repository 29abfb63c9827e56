package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const serviceDefinitionQuery = `query __ApolloGetServiceDefinition__ { _service { sdl } }`

// Introspector fills in missing SDL by querying each subgraph's
// _service { sdl } field. Services that already carry SDL are left untouched.
type Introspector struct {
	source  Source
	client  *http.Client
	timeout time.Duration
	logger  *zap.Logger
}

type IntrospectorOption func(*Introspector)

func WithHTTPClient(c *http.Client) IntrospectorOption {
	return func(i *Introspector) { i.client = c }
}

func WithIntrospectionTimeout(d time.Duration) IntrospectorOption {
	return func(i *Introspector) { i.timeout = d }
}

func WithLogger(l *zap.Logger) IntrospectorOption {
	return func(i *Introspector) { i.logger = l }
}

// Introspect wraps source so that every returned service carries SDL.
func Introspect(source Source, opts ...IntrospectorOption) *Introspector {
	i := &Introspector{
		source:  source,
		client:  http.DefaultClient,
		timeout: 5 * time.Second,
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Services implements Source. Subgraphs are queried concurrently; the result
// keeps the order of the wrapped source.
func (i *Introspector) Services(ctx context.Context) ([]Service, error) {
	services, err := i.source.Services(ctx)
	if err != nil {
		return nil, err
	}
	g, gctx := errgroup.WithContext(ctx)
	for idx := range services {
		if services[idx].SDL != "" {
			continue
		}
		g.Go(func() error {
			sdl, err := i.fetchSDL(gctx, services[idx])
			if err != nil {
				return err
			}
			services[idx].SDL = sdl
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return services, nil
}

func (i *Introspector) fetchSDL(ctx context.Context, svc Service) (string, error) {
	if svc.URL == "" {
		return "", fmt.Errorf("registry: subgraph %s has neither SDL nor URL", svc.Name)
	}
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}
	body, _ := json.Marshal(map[string]string{"query": serviceDefinitionQuery})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, svc.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("registry: introspect %s: %w", svc.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("registry: introspect %s: %w", svc.Name, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("registry: introspect %s: %w", svc.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("registry: introspect %s: unexpected status %d", svc.Name, resp.StatusCode)
	}
	if !gjson.ValidBytes(raw) {
		return "", fmt.Errorf("registry: introspect %s: malformed response", svc.Name)
	}
	if msg := gjson.GetBytes(raw, "errors.0.message"); msg.Exists() {
		return "", fmt.Errorf("registry: introspect %s: %s", svc.Name, msg.String())
	}
	sdl := gjson.GetBytes(raw, "data._service.sdl")
	if sdl.Type != gjson.String {
		return "", fmt.Errorf("registry: introspect %s: response has no data._service.sdl", svc.Name)
	}
	i.logger.Debug("introspected subgraph", zap.String("subgraph", svc.Name), zap.Int("sdlBytes", len(sdl.Str)))
	return sdl.Str, nil
}
