package transport

import (
	"time"

	"go.uber.org/zap"
)

// Options configures the HTTP transport.
//
// Defaults:
// - MaxConnsPerSubgraph: 16
// - RequestTimeout:      10s (used only if the context has no deadline)
// - MaxResponseBytes:    32 MiB
// - Logger:              no-op
type Options struct {
	MaxConnsPerSubgraph int
	RequestTimeout      time.Duration
	MaxResponseBytes    int64
	Logger              *zap.Logger
}

// Option mutates Options
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		MaxConnsPerSubgraph: 16,
		RequestTimeout:      10 * time.Second,
		MaxResponseBytes:    32 << 20,
		Logger:              zap.NewNop(),
	}
}

func WithMaxConnsPerSubgraph(n int) Option      { return func(o *Options) { o.MaxConnsPerSubgraph = n } }
func WithRequestTimeout(d time.Duration) Option { return func(o *Options) { o.RequestTimeout = d } }
func WithMaxResponseBytes(n int64) Option       { return func(o *Options) { o.MaxResponseBytes = n } }
func WithLogger(l *zap.Logger) Option           { return func(o *Options) { o.Logger = l } }
