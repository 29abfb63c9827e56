// Package registry supplies the ordered subgraph list the gateway composes:
// static values, a YAML file, or SDL introspected from running subgraphs.
package registry

import (
	"context"
	"fmt"
	"slices"
)

// Service is one composition input: a subgraph name, its GraphQL endpoint and
// its SDL. The order of services is significant only for error reporting.
type Service struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
	SDL  string `yaml:"sdl,omitempty"`
}

// Source returns the current subgraph list.
type Source interface {
	Services(ctx context.Context) ([]Service, error)
}

// Static is a fixed subgraph list.
type Static []Service

// Services implements Source.
func (s Static) Services(ctx context.Context) ([]Service, error) {
	if err := validate(s); err != nil {
		return nil, err
	}
	return slices.Clone(s), nil
}

// Equal reports whether two lists describe the same composition input.
func Equal(a, b []Service) bool { return slices.Equal(a, b) }

func validate(services []Service) error {
	if len(services) == 0 {
		return fmt.Errorf("registry: no subgraphs configured")
	}
	seen := make(map[string]bool, len(services))
	for _, s := range services {
		if s.Name == "" {
			return fmt.Errorf("registry: subgraph without name")
		}
		if seen[s.Name] {
			return fmt.Errorf("registry: duplicate subgraph %q", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}
