package domain

import "sort"

// ComposeFile is the subset of a docker compose document the control plane reads.
// Order records service names as they appear in the document.
type ComposeFile struct {
	Services map[string]ComposeService `json:"services"`
	Order    []string                  `json:"order,omitempty"`
}

// ComposeService is a single compose service definition.
type ComposeService struct {
	Image         string           `json:"image,omitempty"`
	ContainerName string           `json:"containerName,omitempty"`
	Environment   []EnvDeclaration `json:"environment,omitempty"`
	Ports         []string         `json:"ports,omitempty"`
	Volumes       []string         `json:"volumes,omitempty"`
	DependsOn     []string         `json:"dependsOn,omitempty"`
}

// EnvDeclaration is one `environment:` entry. HasValue distinguishes `FOO=` from a bare `FOO`.
type EnvDeclaration struct {
	Name     string `json:"name"`
	Value    string `json:"value,omitempty"`
	HasValue bool   `json:"hasValue,omitempty"`
}

// ServiceNames returns service names in document order. Services missing from Order follow,
// sorted by name.
func (c *ComposeFile) ServiceNames() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.Services))
	seen := make(map[string]struct{}, len(c.Services))
	for _, name := range c.Order {
		if _, ok := c.Services[name]; !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	var rest []string
	for name := range c.Services {
		if _, ok := seen[name]; !ok {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// EnvNames returns declared variable names across all services in document order.
func (c *ComposeFile) EnvNames() []string {
	if c == nil {
		return nil
	}
	var out []string
	for _, name := range c.ServiceNames() {
		for _, env := range c.Services[name].Environment {
			out = append(out, env.Name)
		}
	}
	return out
}
