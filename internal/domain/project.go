package domain

import (
	"fmt"
	"strings"
	"time"
)

// Project describes a deployable repository together with its routing and runtime configuration.
type Project struct {
	ID               string
	Name             string
	RepoOwner        string
	RepoName         string
	RepoBranch       string
	State            DeploymentState
	DeploymentKey    []byte
	AllowCICD        bool
	DirtyConfig      bool
	Routing          RoutingModel
	Compose          *ComposeFile
	Services         []Service
	WorkerNodeID     string
	HasDockerCompose bool
	HasDotenv        bool
	TimeoutSeconds   *int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasRepo reports whether the repository identity is populated.
func (p Project) HasRepo() bool {
	return strings.TrimSpace(p.RepoOwner) != "" && strings.TrimSpace(p.RepoName) != ""
}

// Deployable checks the static preconditions for a deployment.
func (p Project) Deployable() error {
	if !p.HasRepo() {
		return fmt.Errorf("%w: project %s has no repository owner/name", ErrInvalidConfig, p.ID)
	}
	if !p.HasDockerCompose {
		return fmt.Errorf("%w: project %s has no docker compose file", ErrInvalidConfig, p.ID)
	}
	if strings.TrimSpace(p.WorkerNodeID) == "" {
		return fmt.Errorf("%w: project %s has no worker node", ErrUnassigned, p.ID)
	}
	return nil
}

// Timeout returns the per-project RPC timeout, falling back to def.
func (p Project) Timeout(def time.Duration) time.Duration {
	if p.TimeoutSeconds != nil && *p.TimeoutSeconds > 0 {
		return time.Duration(*p.TimeoutSeconds) * time.Second
	}
	return def
}

// Service is a container declared by the project's compose file.
type Service struct {
	ServiceName   string        `json:"serviceName"`
	ContainerName string        `json:"containerName"`
	Image         string        `json:"image,omitempty"`
	Ports         []ServicePort `json:"ports,omitempty"`
	CollectLogs   bool          `json:"collectLogs"`
}

// ServicePort is a normalised compose port mapping.
type ServicePort struct {
	Container string `json:"container"`
	Host      string `json:"host,omitempty"`
	HostIP    string `json:"hostIp,omitempty"`
	Protocol  string `json:"protocol"`
}
