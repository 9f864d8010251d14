// Package drift compares project snapshots taken around a repository sync.
package drift

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/mosaiq-software/server-manager-sub000/internal/domain"
)

// Snapshot is the part of a project that a sync may change.
type Snapshot struct {
	Routing          domain.RoutingModel `json:"routing"`
	SecretNames      []string            `json:"secretNames"`
	Services         []domain.Service    `json:"services"`
	RepoOwner        string              `json:"repoOwner"`
	RepoName         string              `json:"repoName"`
	RepoBranch       string              `json:"repoBranch"`
	HasDockerCompose bool                `json:"hasDockerCompose"`
	HasDotenv        bool                `json:"hasDotenv"`
}

// Take builds a snapshot from a project and its secrets. Secret values are ignored.
func Take(p domain.Project, secrets []domain.Secret) Snapshot {
	names := make([]string, 0, len(secrets))
	for _, s := range secrets {
		names = append(names, s.SecretName)
	}
	sort.Strings(names)
	return Snapshot{
		Routing:          p.Routing.Clone(),
		SecretNames:      names,
		Services:         append([]domain.Service(nil), p.Services...),
		RepoOwner:        p.RepoOwner,
		RepoName:         p.RepoName,
		RepoBranch:       p.RepoBranch,
		HasDockerCompose: p.HasDockerCompose,
		HasDotenv:        p.HasDotenv,
	}
}

// Equal reports whether two snapshots describe the same synced configuration.
func Equal(before, after Snapshot) bool {
	a, err := encode(before)
	if err != nil {
		return false
	}
	b, err := encode(after)
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// encode serialises s with nil and empty collections treated alike.
func encode(s Snapshot) ([]byte, error) {
	routing := s.Routing.Clone()
	if routing.Servers == nil {
		routing.Servers = []domain.Server{}
	}
	for i := range routing.Servers {
		if routing.Servers[i].Locations == nil {
			routing.Servers[i].Locations = []domain.Location{}
		}
	}
	s.Routing = routing
	if s.SecretNames == nil {
		s.SecretNames = []string{}
	}
	services := make([]domain.Service, len(s.Services))
	for i, svc := range s.Services {
		if svc.Ports == nil {
			svc.Ports = []domain.ServicePort{}
		}
		services[i] = svc
	}
	s.Services = services
	return json.Marshal(s)
}
