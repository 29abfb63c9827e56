package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hanpama/fedgraph/internal/compose"
	"github.com/hanpama/fedgraph/internal/eventbus"
	"github.com/hanpama/fedgraph/internal/executor"
	"github.com/hanpama/fedgraph/internal/gateway"
	"github.com/hanpama/fedgraph/internal/language"
	"github.com/hanpama/fedgraph/internal/metrics"
	"github.com/hanpama/fedgraph/internal/otel"
	"github.com/hanpama/fedgraph/internal/planner"
	"github.com/hanpama/fedgraph/internal/registry"
	"github.com/hanpama/fedgraph/internal/server"
	"github.com/hanpama/fedgraph/internal/subgraphkit"
	"github.com/hanpama/fedgraph/internal/supergraph"
	"github.com/hanpama/fedgraph/internal/transport"
)

const rootUsage = `fedgraph — federated GraphQL gateway & tools

USAGE:
  fedgraph <command> [flags]

COMMANDS:
  serve            Run the HTTP GraphQL gateway in front of subgraph services
  compose          Compose subgraph SDL and print the supergraph
  plan             Print the query plan of an operation
  demo             Run the sample users/orders/products subgraphs and a gateway
  help             Show help for any command
`

const sourceUsage = `  -subgraph <name=url>                Subgraph endpoint; SDL is read from its _service
                                      field. Repeatable; order is kept
  -config <file>                      YAML file listing subgraphs (overrides -subgraph)
  -compose.introspect-timeout <d>     Timeout of each _service request (default: 5s)
  -log.level <level>                  debug, info, warn or error (default: info)
  -log.dev                            Human-readable development logs
`

const serveUsage = `serve FLAGS:
` + sourceUsage + `  -compose.poll-interval <duration>   Recompose at this interval, e.g. 30s (default: off)
  -graphql.introspection <bool>       Answer __schema and __type queries (default: true)
  -server.addr <addr>                 HTTP listen address (default: :4000)
  -server.pretty                      Pretty-print JSON responses
  -server.timeout <duration>          Per-request timeout, e.g. 10s (default: 10s)
  -server.max-body-bytes N            Request body limit in bytes (default: 1048576)
  -server.cors-origin <origin>        Allowed CORS origin. Repeatable
  -server.forward-header <name>       Forward client HTTP header to subgraphs. Repeatable
  -transport.max-conns-per-subgraph N Max TCP conns per subgraph (default: 16)
  -transport.timeout <duration>       Subgraph request timeout (default: 10s)
  -otel.endpoint <addr>               OTLP collector endpoint
  -otel.service <name>                OpenTelemetry service name (default: fedgraph)
`

const composeUsage = `compose FLAGS:
` + sourceUsage + `  -out <file>                         Write supergraph SDL to file (default: stdout)
  (Exits non-zero and lists violations when composition fails)
`

const planUsage = `plan FLAGS:
` + sourceUsage + `  -query <text>                       Operation source
  -query.file <file>                  Read the operation from file
  -operation <name>                   Operation name for multi-operation documents
`

const demoUsage = `demo FLAGS:
  -server.addr <addr>                 Gateway listen address (default: :4000)
  -demo.host <host>                   Host the sample subgraphs bind to (default: 127.0.0.1)
  -demo.port <port>                   First sample subgraph port (default: 4001)
  -log.level <level>                  debug, info, warn or error (default: info)
  -log.dev                            Human-readable development logs
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("fedgraph", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "serve":
		return cmdServe(cmdArgs)
	case "compose":
		return cmdCompose(cmdArgs)
	case "plan":
		return cmdPlan(cmdArgs)
	case "demo":
		return cmdDemo(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "serve":
		fmt.Print(serveUsage)
	case "compose":
		fmt.Print(composeUsage)
	case "plan":
		fmt.Print(planUsage)
	case "demo":
		fmt.Print(demoUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

// subgraphFlag collects repeatable name=url pairs in order.
type subgraphFlag []registry.Service

func (s *subgraphFlag) String() string { return "" }

func (s *subgraphFlag) Set(v string) error {
	parts := strings.SplitN(v, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid subgraph %q", v)
	}
	name := strings.TrimSpace(parts[0])
	url := strings.TrimSpace(parts[1])
	if name == "" || url == "" {
		return fmt.Errorf("invalid subgraph %q", v)
	}
	*s = append(*s, registry.Service{Name: name, URL: url})
	return nil
}

type stringListFlag []string

func (s *stringListFlag) String() string { return "" }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// common holds the flags shared by serve, compose and plan.
type common struct {
	subgraphs         subgraphFlag
	config            string
	introspectTimeout time.Duration
	logLevel          string
	logDev            bool
}

func (c *common) register(fs *flag.FlagSet) {
	c.introspectTimeout = 5 * time.Second
	c.logLevel = "info"
	fs.Var(&c.subgraphs, "subgraph", "Subgraph name=url")
	fs.StringVar(&c.config, "config", "", "YAML subgraph configuration")
	fs.DurationVar(&c.introspectTimeout, "compose.introspect-timeout", c.introspectTimeout, "Timeout of each _service request")
	fs.StringVar(&c.logLevel, "log.level", c.logLevel, "Log level")
	fs.BoolVar(&c.logDev, "log.dev", false, "Development logs")
}

func (c *common) source(logger *zap.Logger) (registry.Source, error) {
	var src registry.Source
	switch {
	case c.config != "":
		src = registry.File{Path: c.config}
	case len(c.subgraphs) > 0:
		src = registry.Static(c.subgraphs)
	default:
		return nil, fmt.Errorf("at least one -subgraph or a -config file is required")
	}
	return registry.Introspect(src,
		registry.WithIntrospectionTimeout(c.introspectTimeout),
		registry.WithLogger(logger)), nil
}

func newLogger(level string, dev bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid -log.level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func cmdServe(args []string) error {
	var c common
	addr := ":4000"
	pretty := false
	timeout := 10 * time.Second
	maxBody := int64(1 << 20)
	pollInterval := time.Duration(0)
	maxConns := 16
	subgraphTimeout := 10 * time.Second
	otelEndpoint := ""
	otelService := "fedgraph"
	enableIntrospection := true
	var corsOrigins, forwardHeaders stringListFlag

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	c.register(fs)
	fs.DurationVar(&pollInterval, "compose.poll-interval", pollInterval, "Recompose interval")
	fs.BoolVar(&enableIntrospection, "graphql.introspection", enableIntrospection, "Enable GraphQL introspection")
	fs.StringVar(&addr, "server.addr", addr, "HTTP listen address")
	fs.BoolVar(&pretty, "server.pretty", pretty, "Pretty-print JSON responses")
	fs.DurationVar(&timeout, "server.timeout", timeout, "Per-request timeout")
	fs.Int64Var(&maxBody, "server.max-body-bytes", maxBody, "Request body limit")
	fs.Var(&corsOrigins, "server.cors-origin", "Allowed CORS origin")
	fs.Var(&forwardHeaders, "server.forward-header", "Forward HTTP header to subgraphs")
	fs.IntVar(&maxConns, "transport.max-conns-per-subgraph", maxConns, "Max conns per subgraph")
	fs.DurationVar(&subgraphTimeout, "transport.timeout", subgraphTimeout, "Subgraph request timeout")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}

	logger, err := newLogger(c.logLevel, c.logDev)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	src, err := c.source(logger)
	if err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}
	if c.config != "" && pollInterval == 0 {
		cfg, err := registry.LoadConfig(c.config)
		if err != nil {
			return err
		}
		pollInterval = cfg.PollInterval
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(ctx, otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()
	m := metrics.New(true)
	detach := m.Attach()
	defer detach()

	tp := transport.New(nil,
		transport.WithMaxConnsPerSubgraph(maxConns),
		transport.WithRequestTimeout(subgraphTimeout),
		transport.WithLogger(logger))
	defer tp.Close()

	g, err := gateway.New(ctx, src, tp,
		gateway.WithLogger(logger),
		gateway.WithIntrospection(enableIntrospection),
		gateway.WithOnCompose(func(sg *supergraph.Supergraph) { tp.SetEndpoints(sg.Endpoints()) }))
	if err != nil {
		return err
	}
	if pollInterval > 0 {
		go g.Watch(ctx, pollInterval)
	}

	sopts := []server.Option{
		server.WithTimeout(timeout),
		server.WithMaxBodyBytes(maxBody),
		server.WithLogger(logger),
	}
	if pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if len(corsOrigins) > 0 {
		sopts = append(sopts, server.WithCORS(corsOrigins...))
	}
	if len(forwardHeaders) > 0 {
		sopts = append(sopts, server.WithForwardHeaders(forwardHeaders...))
	}

	mux := http.NewServeMux()
	mux.Handle("/graphql", server.New(g, sopts...))
	mux.Handle("/healthz", server.Health(func() bool { return g.Supergraph() != nil }))
	mux.Handle("/metrics", m.Handler())

	logger.Info("GraphQL gateway listening", zap.String("addr", addr))
	return listen(ctx, &http.Server{Addr: addr, Handler: mux})
}

// listen serves srv until ctx ends, then shuts it down gracefully.
func listen(ctx context.Context, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func cmdCompose(args []string) error {
	var c common
	outFile := ""
	fs := flag.NewFlagSet("compose", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	c.register(fs)
	fs.StringVar(&outFile, "out", outFile, "Write supergraph SDL to file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, composeUsage)
		return err
	}

	sg, err := c.compose(composeUsage)
	if err != nil {
		return err
	}
	sdl := supergraph.Render(sg)
	if outFile == "" {
		fmt.Print(sdl)
		return nil
	}
	return os.WriteFile(outFile, []byte(sdl), 0644)
}

func (c *common) compose(usage string) (*supergraph.Supergraph, error) {
	logger, err := newLogger(c.logLevel, c.logDev)
	if err != nil {
		return nil, err
	}
	src, err := c.source(logger)
	if err != nil {
		fmt.Fprint(os.Stderr, usage)
		return nil, err
	}
	services, err := src.Services(context.Background())
	if err != nil {
		return nil, err
	}
	sg, err := compose.FromServices(services)
	var cerr *compose.Error
	if errors.As(err, &cerr) {
		fmt.Fprint(os.Stderr, cerr.Error())
		return nil, fmt.Errorf("composition failed with %d violation(s)", len(cerr.Violations))
	}
	return sg, err
}

func cmdPlan(args []string) error {
	var c common
	query := ""
	queryFile := ""
	operation := ""
	fs := flag.NewFlagSet("plan", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	c.register(fs)
	fs.StringVar(&query, "query", query, "Operation source")
	fs.StringVar(&queryFile, "query.file", queryFile, "Operation file")
	fs.StringVar(&operation, "operation", operation, "Operation name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, planUsage)
		return err
	}
	if queryFile != "" {
		raw, err := os.ReadFile(queryFile)
		if err != nil {
			return err
		}
		query = string(raw)
	}
	if query == "" {
		fmt.Fprint(os.Stderr, planUsage)
		return fmt.Errorf("-query or -query.file is required")
	}

	sg, err := c.compose(planUsage)
	if err != nil {
		return err
	}
	doc, err := language.ParseQuery(query)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	plan, err := planner.Plan(doc, operation, sg)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	fmt.Print(planner.Explain(plan))
	return nil
}

func cmdDemo(args []string) error {
	addr := ":4000"
	host := "127.0.0.1"
	port := 4001
	logLevel := "info"
	logDev := false
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&addr, "server.addr", addr, "Gateway listen address")
	fs.StringVar(&host, "demo.host", host, "Sample subgraph host")
	fs.IntVar(&port, "demo.port", port, "First sample subgraph port")
	fs.StringVar(&logLevel, "log.level", logLevel, "Log level")
	fs.BoolVar(&logDev, "log.dev", logDev, "Development logs")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, demoUsage)
		return err
	}
	logger, err := newLogger(logLevel, logDev)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var services registry.Static
	for i, svc := range subgraphkit.NewSample().Services() {
		saddr := net.JoinHostPort(host, fmt.Sprint(port+i))
		srv := &http.Server{Addr: saddr, Handler: svc}
		go func() {
			if err := listen(ctx, srv); err != nil {
				logger.Error("sample subgraph stopped", zap.String("subgraph", svc.Name()), zap.Error(err))
			}
		}()
		url := "http://" + saddr + "/graphql"
		services = append(services, registry.Service{Name: svc.Name(), URL: url, SDL: svc.SDL()})
		logger.Info("sample subgraph listening", zap.String("subgraph", svc.Name()), zap.String("url", url))
	}

	tp := transport.New(nil, transport.WithLogger(logger))
	defer tp.Close()
	g, err := gateway.New(ctx, services, tp,
		gateway.WithLogger(logger),
		gateway.WithOnCompose(func(sg *supergraph.Supergraph) { tp.SetEndpoints(sg.Endpoints()) }),
		gateway.WithExecutorOptions(executor.WithFetchTimeout(5*time.Second)))
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/graphql", server.New(g, server.WithPretty(), server.WithLogger(logger)))
	logger.Info("GraphQL gateway listening", zap.String("addr", addr))
	return listen(ctx, &http.Server{Addr: addr, Handler: mux})
}
