// Package memory provides an in-process store used by tests and single-node development runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mosaiq-software/server-manager-sub000/internal/domain"
	"github.com/mosaiq-software/server-manager-sub000/internal/repository"
)

// Store implements every repository interface behind one mutex.
type Store struct {
	mu        sync.RWMutex
	now       func() time.Time
	projects  map[string]domain.Project
	secrets   map[string][]domain.Secret
	workers   map[string]domain.WorkerNode
	instances map[string]domain.ProjectInstance
	services  map[string]domain.ServiceInstance
}

var (
	_ repository.ProjectRepository  = (*Store)(nil)
	_ repository.SecretRepository   = (*Store)(nil)
	_ repository.WorkerRepository   = (*Store)(nil)
	_ repository.InstanceRepository = (*Store)(nil)
)

// New constructs an empty Store.
func New() *Store {
	return &Store{
		now:       func() time.Time { return time.Now().UTC() },
		projects:  make(map[string]domain.Project),
		secrets:   make(map[string][]domain.Secret),
		workers:   make(map[string]domain.WorkerNode),
		instances: make(map[string]domain.ProjectInstance),
		services:  make(map[string]domain.ServiceInstance),
	}
}

// CreateProject inserts a project.
func (s *Store) CreateProject(_ context.Context, project *domain.Project) error {
	if project == nil || strings.TrimSpace(project.ID) == "" {
		return repository.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.projects[project.ID]; exists {
		return repository.ErrInvalidArgument
	}
	if project.State == "" {
		project.State = domain.StateReady
	}
	now := s.now()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	project.UpdatedAt = now
	s.projects[project.ID] = copyProject(*project)
	return nil
}

// GetProjectByID fetches a project.
func (s *Store) GetProjectByID(_ context.Context, projectID string) (*domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := copyProject(p)
	return &cp, nil
}

// ListProjects returns all projects ordered by creation time.
func (s *Store) ListProjects(_ context.Context) ([]domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, copyProject(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateProject overwrites a stored project.
func (s *Store) UpdateProject(_ context.Context, project *domain.Project) error {
	if project == nil {
		return repository.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[project.ID]; !ok {
		return repository.ErrNotFound
	}
	project.UpdatedAt = s.now()
	s.projects[project.ID] = copyProject(*project)
	return nil
}

// UpdateProjectState sets only the lifecycle state.
func (s *Store) UpdateProjectState(_ context.Context, projectID string, state domain.DeploymentState) error {
	if !state.Valid() {
		return repository.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return repository.ErrNotFound
	}
	p.State = state
	p.UpdatedAt = s.now()
	s.projects[projectID] = p
	return nil
}

// DeleteProject removes a project and its secrets.
func (s *Store) DeleteProject(_ context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[projectID]; !ok {
		return repository.ErrNotFound
	}
	delete(s.projects, projectID)
	delete(s.secrets, projectID)
	return nil
}

// ListSecrets returns a project's secrets ordered by name.
func (s *Store) ListSecrets(_ context.Context, projectID string) ([]domain.Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]domain.Secret(nil), s.secrets[projectID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].SecretName < out[j].SecretName })
	return out, nil
}

// ReplaceSecrets swaps the whole secret set for a project.
func (s *Store) ReplaceSecrets(_ context.Context, projectID string, secrets []domain.Secret) error {
	seen := make(map[string]struct{}, len(secrets))
	next := make([]domain.Secret, 0, len(secrets))
	for _, sec := range secrets {
		if _, dup := seen[sec.SecretName]; dup || strings.TrimSpace(sec.SecretName) == "" {
			return repository.ErrInvalidArgument
		}
		seen[sec.SecretName] = struct{}{}
		sec.ProjectID = projectID
		next = append(next, sec)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[projectID]; !ok {
		return repository.ErrNotFound
	}
	s.secrets[projectID] = next
	return nil
}

// UpsertSecret inserts or overwrites one secret.
func (s *Store) UpsertSecret(_ context.Context, secret domain.Secret) error {
	if strings.TrimSpace(secret.SecretName) == "" {
		return repository.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[secret.ProjectID]; !ok {
		return repository.ErrNotFound
	}
	list := s.secrets[secret.ProjectID]
	for i := range list {
		if list[i].SecretName == secret.SecretName {
			list[i] = secret
			return nil
		}
	}
	s.secrets[secret.ProjectID] = append(list, secret)
	return nil
}

// CreateWorker inserts a worker node.
func (s *Store) CreateWorker(_ context.Context, worker *domain.WorkerNode) error {
	if worker == nil || strings.TrimSpace(worker.WorkerID) == "" {
		return repository.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workers[worker.WorkerID]; exists {
		return repository.ErrInvalidArgument
	}
	if worker.Status == "" {
		worker.Status = domain.WorkerUnknown
	}
	s.workers[worker.WorkerID] = *worker
	return nil
}

// GetWorkerByID fetches a worker node.
func (s *Store) GetWorkerByID(_ context.Context, workerID string) (*domain.WorkerNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[workerID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &w, nil
}

// ListWorkers returns all workers ordered by id.
func (s *Store) ListWorkers(_ context.Context) ([]domain.WorkerNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.WorkerNode, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out, nil
}

// UpdateWorkerStatus records a health observation.
func (s *Store) UpdateWorkerStatus(_ context.Context, workerID string, status domain.WorkerStatus, heartbeat *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[workerID]
	if !ok {
		return repository.ErrNotFound
	}
	w.Status = status
	if heartbeat != nil {
		hb := *heartbeat
		w.LastHeartbeat = &hb
	}
	s.workers[workerID] = w
	return nil
}

// CreateInstance inserts a project instance.
func (s *Store) CreateInstance(_ context.Context, instance *domain.ProjectInstance) error {
	if instance == nil || strings.TrimSpace(instance.ID) == "" {
		return repository.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[instance.ProjectID]; !ok {
		return repository.ErrNotFound
	}
	if _, exists := s.instances[instance.ID]; exists {
		return repository.ErrInvalidArgument
	}
	now := s.now()
	if instance.Created.IsZero() {
		instance.Created = now
	}
	instance.LastUpdated = now
	s.instances[instance.ID] = *instance
	return nil
}

// GetInstanceByID fetches a project instance.
func (s *Store) GetInstanceByID(_ context.Context, instanceID string) (*domain.ProjectInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[instanceID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &inst, nil
}

// ListInstancesByProject returns recent instances, newest first.
func (s *Store) ListInstancesByProject(_ context.Context, projectID string, limit int) ([]domain.ProjectInstance, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ProjectInstance
	for _, inst := range s.instances {
		if inst.ProjectID == projectID {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateInstanceState transitions an instance.
func (s *Store) UpdateInstanceState(_ context.Context, instanceID string, state domain.DeploymentState) error {
	if !state.Valid() {
		return repository.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[instanceID]
	if !ok {
		return repository.ErrNotFound
	}
	inst.State = state
	inst.LastUpdated = s.now()
	s.instances[instanceID] = inst
	return nil
}

// UpdateInstanceStateIf transitions an instance only from the given state.
func (s *Store) UpdateInstanceStateIf(_ context.Context, instanceID string, from, to domain.DeploymentState) (bool, error) {
	if !to.Valid() {
		return false, repository.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[instanceID]
	if !ok {
		return false, repository.ErrNotFound
	}
	if inst.State != from {
		return false, nil
	}
	inst.State = to
	inst.LastUpdated = s.now()
	s.instances[instanceID] = inst
	return true, nil
}

// AppendInstanceLog concatenates text onto an instance's log.
func (s *Store) AppendInstanceLog(_ context.Context, instanceID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[instanceID]
	if !ok {
		return repository.ErrNotFound
	}
	inst.DeploymentLog += text
	inst.LastUpdated = s.now()
	s.instances[instanceID] = inst
	return nil
}

// CreateServiceInstances inserts service snapshots.
func (s *Store) CreateServiceInstances(_ context.Context, services []domain.ServiceInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, svc := range services {
		if _, ok := s.instances[svc.ProjectInstanceID]; !ok {
			return repository.ErrNotFound
		}
		if _, exists := s.services[svc.ID]; exists || svc.ID == "" {
			return repository.ErrInvalidArgument
		}
	}
	now := s.now()
	for _, svc := range services {
		svc.LastUpdated = now
		s.services[svc.ID] = svc
	}
	return nil
}

// ListServiceInstances returns service snapshots for an instance ordered by service name.
func (s *Store) ListServiceInstances(_ context.Context, instanceID string) ([]domain.ServiceInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ServiceInstance
	for _, svc := range s.services {
		if svc.ProjectInstanceID == instanceID {
			out = append(out, svc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceName < out[j].ServiceName })
	return out, nil
}

// UpdateServiceInstance applies a worker-reported container state.
func (s *Store) UpdateServiceInstance(_ context.Context, update domain.ServiceInstanceUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[update.InstanceID]
	if !ok {
		return repository.ErrNotFound
	}
	svc.ActualState = update.ActualState
	if update.Logs != "" {
		svc.CollectedLogs = update.Logs
	}
	svc.LastUpdated = s.now()
	s.services[update.InstanceID] = svc
	return nil
}

func copyProject(p domain.Project) domain.Project {
	cp := p
	cp.Routing = p.Routing.Clone()
	cp.DeploymentKey = append([]byte(nil), p.DeploymentKey...)
	if p.Services != nil {
		cp.Services = make([]domain.Service, len(p.Services))
		for i, svc := range p.Services {
			svc.Ports = append([]domain.ServicePort(nil), svc.Ports...)
			cp.Services[i] = svc
		}
	}
	if p.Compose != nil {
		compose := domain.ComposeFile{
			Services: make(map[string]domain.ComposeService, len(p.Compose.Services)),
			Order:    append([]string(nil), p.Compose.Order...),
		}
		for name, svc := range p.Compose.Services {
			svc.Environment = append([]domain.EnvDeclaration(nil), svc.Environment...)
			svc.Ports = append([]string(nil), svc.Ports...)
			svc.Volumes = append([]string(nil), svc.Volumes...)
			svc.DependsOn = append([]string(nil), svc.DependsOn...)
			compose.Services[name] = svc
		}
		cp.Compose = &compose
	}
	if p.TimeoutSeconds != nil {
		v := *p.TimeoutSeconds
		cp.TimeoutSeconds = &v
	}
	return cp
}
