package httpx

import (
	"time"

	"github.com/mosaiq-software/server-manager-sub000/internal/domain"
	"github.com/mosaiq-software/server-manager-sub000/internal/service/deploy"
)

type projectView struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	RepoOwner        string                 `json:"repoOwner,omitempty"`
	RepoName         string                 `json:"repoName,omitempty"`
	RepoBranch       string                 `json:"repoBranch,omitempty"`
	State            domain.DeploymentState `json:"state"`
	AllowCICD        bool                   `json:"allowCicd"`
	HasDeploymentKey bool                   `json:"hasDeploymentKey"`
	DirtyConfig      bool                   `json:"dirtyConfig"`
	WorkerNodeID     string                 `json:"workerNodeId,omitempty"`
	HasDockerCompose bool                   `json:"hasDockerCompose"`
	HasDotenv        bool                   `json:"hasDotenv"`
	TimeoutSeconds   *int                   `json:"timeoutSeconds,omitempty"`
	Routing          domain.RoutingModel    `json:"routing"`
	Services         []domain.Service       `json:"services"`
	UpdatedAt        time.Time              `json:"updatedAt"`
}

func newProjectView(p *domain.Project) projectView {
	services := p.Services
	if services == nil {
		services = []domain.Service{}
	}
	return projectView{
		ID:               p.ID,
		Name:             p.Name,
		RepoOwner:        p.RepoOwner,
		RepoName:         p.RepoName,
		RepoBranch:       p.RepoBranch,
		State:            p.State,
		AllowCICD:        p.AllowCICD,
		HasDeploymentKey: len(p.DeploymentKey) > 0,
		DirtyConfig:      p.DirtyConfig,
		WorkerNodeID:     p.WorkerNodeID,
		HasDockerCompose: p.HasDockerCompose,
		HasDotenv:        p.HasDotenv,
		TimeoutSeconds:   p.TimeoutSeconds,
		Routing:          p.Routing,
		Services:         services,
		UpdatedAt:        p.UpdatedAt,
	}
}

type serviceInstanceView struct {
	ID            string                `json:"id"`
	ServiceName   string                `json:"serviceName"`
	ContainerName string                `json:"containerName"`
	ExpectedState domain.ContainerState `json:"expectedState"`
	ActualState   domain.ContainerState `json:"actualState"`
	CollectedLogs string                `json:"collectedLogs,omitempty"`
	LastUpdated   time.Time             `json:"lastUpdated"`
}

type instanceView struct {
	ID            string                 `json:"id"`
	ProjectID     string                 `json:"projectId"`
	WorkerNodeID  string                 `json:"workerNodeId,omitempty"`
	State         domain.DeploymentState `json:"state"`
	DeploymentLog string                 `json:"deploymentLog"`
	Created       time.Time              `json:"created"`
	LastUpdated   time.Time              `json:"lastUpdated"`
	Services      []serviceInstanceView  `json:"services"`
}

func newInstanceView(detail *deploy.InstanceDetail) instanceView {
	view := instanceView{
		ID:            detail.Instance.ID,
		ProjectID:     detail.Instance.ProjectID,
		WorkerNodeID:  detail.Instance.WorkerNodeID,
		State:         detail.Instance.State,
		DeploymentLog: detail.Instance.DeploymentLog,
		Created:       detail.Instance.Created,
		LastUpdated:   detail.Instance.LastUpdated,
		Services:      make([]serviceInstanceView, 0, len(detail.Services)),
	}
	for _, svc := range detail.Services {
		view.Services = append(view.Services, serviceInstanceView{
			ID:            svc.ID,
			ServiceName:   svc.ServiceName,
			ContainerName: svc.ContainerName,
			ExpectedState: svc.ExpectedState,
			ActualState:   svc.ActualState,
			CollectedLogs: svc.CollectedLogs,
			LastUpdated:   svc.LastUpdated,
		})
	}
	return view
}
