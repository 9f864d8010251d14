package repository

import (
	"context"
	"time"

	"github.com/mosaiq-software/server-manager-sub000/internal/domain"
)

// ProjectRepository persists project configuration.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	ListProjects(ctx context.Context) ([]domain.Project, error)
	UpdateProject(ctx context.Context, project *domain.Project) error
	UpdateProjectState(ctx context.Context, projectID string, state domain.DeploymentState) error
	DeleteProject(ctx context.Context, projectID string) error
}

// SecretRepository stores project secrets keyed by (projectId, secretName).
type SecretRepository interface {
	ListSecrets(ctx context.Context, projectID string) ([]domain.Secret, error)
	// ReplaceSecrets swaps the project's whole secret set in one transaction.
	ReplaceSecrets(ctx context.Context, projectID string, secrets []domain.Secret) error
	UpsertSecret(ctx context.Context, secret domain.Secret) error
}

// WorkerRepository stores worker nodes.
type WorkerRepository interface {
	CreateWorker(ctx context.Context, worker *domain.WorkerNode) error
	GetWorkerByID(ctx context.Context, workerID string) (*domain.WorkerNode, error)
	ListWorkers(ctx context.Context) ([]domain.WorkerNode, error)
	UpdateWorkerStatus(ctx context.Context, workerID string, status domain.WorkerStatus, heartbeat *time.Time) error
}

// InstanceRepository stores deployment attempts and their service snapshots.
type InstanceRepository interface {
	CreateInstance(ctx context.Context, instance *domain.ProjectInstance) error
	GetInstanceByID(ctx context.Context, instanceID string) (*domain.ProjectInstance, error)
	ListInstancesByProject(ctx context.Context, projectID string, limit int) ([]domain.ProjectInstance, error)
	UpdateInstanceState(ctx context.Context, instanceID string, state domain.DeploymentState) error
	// UpdateInstanceStateIf moves an instance to "to" only while it is in "from", reporting whether it did.
	UpdateInstanceStateIf(ctx context.Context, instanceID string, from, to domain.DeploymentState) (bool, error)
	// AppendInstanceLog concatenates text onto the deployment log and bumps last_updated.
	AppendInstanceLog(ctx context.Context, instanceID, text string) error
	CreateServiceInstances(ctx context.Context, services []domain.ServiceInstance) error
	ListServiceInstances(ctx context.Context, instanceID string) ([]domain.ServiceInstance, error)
	UpdateServiceInstance(ctx context.Context, update domain.ServiceInstanceUpdate) error
}
