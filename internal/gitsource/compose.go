package gitsource

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/docker/go-connections/nat"
	"gopkg.in/yaml.v3"

	"github.com/mosaiq-software/server-manager-sub000/internal/domain"
)

// ComposeFileNames lists the compose file names probed at the repository root, in order.
var ComposeFileNames = []string{"docker-compose.yml", "docker-compose.yaml", "compose.yml", "compose.yaml"}

const collectLogsLabel = "servermanager.collect-logs"

type rawCompose struct {
	Services map[string]rawService `yaml:"services"`
}

type rawService struct {
	Image         string            `yaml:"image"`
	ContainerName string            `yaml:"container_name"`
	Environment   rawEnvironment    `yaml:"environment"`
	Ports         rawPorts          `yaml:"ports"`
	Volumes       rawStrings        `yaml:"volumes"`
	DependsOn     rawStrings        `yaml:"depends_on"`
	Labels        map[string]string `yaml:"labels"`
}

// rawEnvironment accepts both `- KEY=value` lists and `KEY: value` maps.
type rawEnvironment []domain.EnvDeclaration

func (e *rawEnvironment) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		out := make([]domain.EnvDeclaration, 0, len(node.Content))
		for _, item := range node.Content {
			var entry string
			if err := item.Decode(&entry); err != nil {
				return err
			}
			name, value, hasValue := strings.Cut(entry, "=")
			out = append(out, domain.EnvDeclaration{Name: strings.TrimSpace(name), Value: value, HasValue: hasValue})
		}
		*e = out
	case yaml.MappingNode:
		out := make([]domain.EnvDeclaration, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, val := node.Content[i], node.Content[i+1]
			decl := domain.EnvDeclaration{Name: strings.TrimSpace(key.Value)}
			if !(val.Kind == yaml.ScalarNode && val.Tag == "!!null") {
				decl.Value = val.Value
				decl.HasValue = true
			}
			out = append(out, decl)
		}
		*e = out
	default:
		return fmt.Errorf("environment: unsupported yaml kind %d", node.Kind)
	}
	return nil
}

// rawPorts accepts short "host:container/proto" strings and long-syntax mappings.
type rawPorts []string

func (p *rawPorts) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("ports: expected a list")
	}
	out := make([]string, 0, len(node.Content))
	for _, item := range node.Content {
		if item.Kind == yaml.ScalarNode {
			out = append(out, item.Value)
			continue
		}
		var long struct {
			Target    string `yaml:"target"`
			Published string `yaml:"published"`
			HostIP    string `yaml:"host_ip"`
			Protocol  string `yaml:"protocol"`
		}
		if err := item.Decode(&long); err != nil {
			return err
		}
		spec := long.Target
		if long.Published != "" {
			spec = long.Published + ":" + spec
			if long.HostIP != "" {
				spec = long.HostIP + ":" + spec
			}
		}
		if long.Protocol != "" {
			spec += "/" + long.Protocol
		}
		out = append(out, spec)
	}
	*p = out
	return nil
}

// rawStrings accepts a list of strings or a mapping whose keys are taken in order.
type rawStrings []string

func (s *rawStrings) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		out := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind == yaml.ScalarNode {
				out = append(out, item.Value)
				continue
			}
			var long struct {
				Source string `yaml:"source"`
				Target string `yaml:"target"`
			}
			if err := item.Decode(&long); err != nil {
				return err
			}
			out = append(out, strings.TrimPrefix(long.Source+":"+long.Target, ":"))
		}
		*s = out
	case yaml.MappingNode:
		out := make([]string, 0, len(node.Content)/2)
		for i := 0; i < len(node.Content); i += 2 {
			out = append(out, node.Content[i].Value)
		}
		*s = out
	default:
		return fmt.Errorf("unsupported yaml kind %d", node.Kind)
	}
	return nil
}

// ParseCompose decodes a compose document and the labels used to derive services.
func ParseCompose(data []byte) (*domain.ComposeFile, map[string]map[string]string, error) {
	var raw rawCompose
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("%w: parse compose file: %v", domain.ErrInvalidConfig, err)
	}
	var doc struct {
		Services yaml.Node `yaml:"services"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("%w: parse compose file: %v", domain.ErrInvalidConfig, err)
	}
	compose := &domain.ComposeFile{Services: make(map[string]domain.ComposeService, len(raw.Services))}
	if doc.Services.Kind == yaml.MappingNode {
		for i := 0; i < len(doc.Services.Content); i += 2 {
			compose.Order = append(compose.Order, doc.Services.Content[i].Value)
		}
	}
	labels := make(map[string]map[string]string, len(raw.Services))
	for name, svc := range raw.Services {
		compose.Services[name] = domain.ComposeService{
			Image:         svc.Image,
			ContainerName: svc.ContainerName,
			Environment:   []domain.EnvDeclaration(svc.Environment),
			Ports:         []string(svc.Ports),
			Volumes:       []string(svc.Volumes),
			DependsOn:     []string(svc.DependsOn),
		}
		labels[name] = svc.Labels
	}
	return compose, labels, nil
}

// Services derives the declared service list, sorted by name. Containers default to the
// name compose gives them under `-p projectID`.
func Services(projectID string, compose *domain.ComposeFile, labels map[string]map[string]string) ([]domain.Service, error) {
	if compose == nil {
		return nil, nil
	}
	names := make([]string, 0, len(compose.Services))
	for name := range compose.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]domain.Service, 0, len(names))
	for _, name := range names {
		svc := compose.Services[name]
		container := svc.ContainerName
		if container == "" {
			container = projectID + "-" + name + "-1"
		}
		ports, err := normalisePorts(svc.Ports)
		if err != nil {
			return nil, fmt.Errorf("%w: service %s: %v", domain.ErrInvalidConfig, name, err)
		}
		collect := true
		if raw, ok := labels[name][collectLogsLabel]; ok {
			if v, err := strconv.ParseBool(raw); err == nil {
				collect = v
			}
		}
		out = append(out, domain.Service{
			ServiceName:   name,
			ContainerName: container,
			Image:         svc.Image,
			Ports:         ports,
			CollectLogs:   collect,
		})
	}
	return out, nil
}

func normalisePorts(specs []string) ([]domain.ServicePort, error) {
	var out []domain.ServicePort
	for _, spec := range specs {
		if containsVariable(spec) {
			out = append(out, domain.ServicePort{Container: spec, Protocol: "tcp"})
			continue
		}
		mappings, err := nat.ParsePortSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("port %q: %w", spec, err)
		}
		for _, m := range mappings {
			out = append(out, domain.ServicePort{
				Container: m.Port.Port(),
				Host:      m.Binding.HostPort,
				HostIP:    m.Binding.HostIP,
				Protocol:  m.Port.Proto(),
			})
		}
	}
	return out, nil
}

// containsVariable reports compose interpolation such as "${API_PORT}:3000", which only the
// worker can expand.
func containsVariable(spec string) bool {
	return strings.Contains(spec, "$")
}
