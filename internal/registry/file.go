package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the YAML gateway configuration.
//
//	subgraphs:
//	  - name: users
//	    url: http://localhost:4001/graphql
//	    schemaFile: users.graphql
//	pollInterval: 30s
type Config struct {
	Subgraphs    []SubgraphConfig `yaml:"subgraphs"`
	PollInterval time.Duration    `yaml:"pollInterval,omitempty"`
}

// SubgraphConfig describes one subgraph. With neither SDL nor SchemaFile the
// SDL is introspected from URL.
type SubgraphConfig struct {
	Name       string `yaml:"name"`
	URL        string `yaml:"url"`
	SDL        string `yaml:"sdl,omitempty"`
	SchemaFile string `yaml:"schemaFile,omitempty"`
}

// LoadConfig reads and decodes a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("registry: decode %s: %w", path, err)
	}
	return &cfg, nil
}

// File reads the subgraph list from a YAML configuration on every call, so a
// polling gateway picks up edits without a restart.
type File struct {
	Path string
}

// Services implements Source.
func (f File) Services(ctx context.Context) ([]Service, error) {
	cfg, err := LoadConfig(f.Path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(f.Path)
	out := make([]Service, 0, len(cfg.Subgraphs))
	for _, sc := range cfg.Subgraphs {
		svc := Service{Name: sc.Name, URL: sc.URL, SDL: sc.SDL}
		if sc.SchemaFile != "" {
			p := sc.SchemaFile
			if !filepath.IsAbs(p) {
				p = filepath.Join(dir, p)
			}
			sdl, err := os.ReadFile(p)
			if err != nil {
				return nil, fmt.Errorf("registry: read schema of %s: %w", sc.Name, err)
			}
			svc.SDL = string(sdl)
		}
		out = append(out, svc)
	}
	if err := validate(out); err != nil {
		return nil, err
	}
	return out, nil
}
