package deploy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/mosaiq-software/server-manager-sub000/internal/domain"
	"github.com/mosaiq-software/server-manager-sub000/internal/lock"
	"github.com/mosaiq-software/server-manager-sub000/internal/repository"
	"github.com/mosaiq-software/server-manager-sub000/internal/service/allocate"
	"github.com/mosaiq-software/server-manager-sub000/internal/service/drift"
	"github.com/mosaiq-software/server-manager-sub000/internal/service/ingress"
	"github.com/mosaiq-software/server-manager-sub000/internal/service/logs"
	"github.com/mosaiq-software/server-manager-sub000/internal/service/secrets"
	"github.com/mosaiq-software/server-manager-sub000/internal/service/variables"
	"github.com/mosaiq-software/server-manager-sub000/internal/worker"
)

// WorkerClient is the worker RPC surface used by the orchestrator.
type WorkerClient interface {
	allocate.WorkerClient
	DeployProject(ctx context.Context, w domain.WorkerNode, req worker.DeployRequest) error
	HandleRoutingConfig(ctx context.Context, w domain.WorkerNode, req worker.RoutingRequest) error
}

// Syncer re-reads a project's repository and persists the result.
type Syncer interface {
	Sync(ctx context.Context, projectID string) (*domain.Project, error)
}

// Config holds orchestrator settings.
type Config struct {
	ControlPlaneWorkerID string
	// RPCTimeout bounds each worker call unless the project overrides it.
	RPCTimeout time.Duration
	// CommandTimeout is passed to the worker for the compose command.
	CommandTimeout time.Duration
}

// Dependencies groups the collaborators of the orchestrator.
type Dependencies struct {
	Projects  repository.ProjectRepository
	Secrets   repository.SecretRepository
	Workers   repository.WorkerRepository
	Instances repository.InstanceRepository
	Syncer    Syncer
	Client    WorkerClient
	Logs      logs.Service
	Claims    lock.Claimer
	Compiler  ingress.Compiler
}

// Service orchestrates deployments onto worker nodes.
type Service struct {
	projects  repository.ProjectRepository
	secrets   repository.SecretRepository
	workers   repository.WorkerRepository
	instances repository.InstanceRepository
	syncer    Syncer
	client    WorkerClient
	allocator allocate.Allocator
	resolver  variables.Resolver
	compiler  ingress.Compiler
	logSvc    logs.Service
	claims    lock.Claimer
	metrics   *deployMetrics
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time
}

// New returns a deployment service.
func New(deps Dependencies, cfg Config, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = 5 * time.Minute
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 10 * time.Minute
	}
	claims := deps.Claims
	if claims == nil {
		claims = lock.NewMemoryClaimer()
	}
	return Service{
		projects:  deps.Projects,
		secrets:   deps.Secrets,
		workers:   deps.Workers,
		instances: deps.Instances,
		syncer:    deps.Syncer,
		client:    deps.Client,
		allocator: allocate.New(deps.Client),
		resolver:  variables.New(logger),
		compiler:  deps.Compiler,
		logSvc:    deps.Logs,
		claims:    claims,
		metrics:   newDeployMetrics(),
		logger:    logger.With("component", "deploy"),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RunCommand is the compose invocation a worker runs for a project.
func RunCommand(projectID string) string {
	return "docker compose -p " + projectID + " up -d --build --remove-orphans"
}

// Deploy runs one deployment attempt and returns its instance id. Once the instance exists,
// pipeline failures are recorded on its log and state rather than returned.
func (s Service) Deploy(ctx context.Context, projectID string) (string, error) {
	started := s.now()

	release, claimErr := s.claims.Claim(ctx, projectID)
	if claimErr == nil {
		defer release()
	}

	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", fmt.Errorf("%w: project %s", domain.ErrNotFound, projectID)
		}
		return "", err
	}
	snapshot := project.State

	instance := &domain.ProjectInstance{
		ID:           uuid.NewString(),
		ProjectID:    project.ID,
		WorkerNodeID: project.WorkerNodeID,
		State:        domain.StateDeploying,
		Created:      started,
		LastUpdated:  started,
	}
	if err := s.instances.CreateInstance(ctx, instance); err != nil {
		return "", err
	}
	s.line(ctx, instance.ID, "deployment "+instance.ID+" created for project "+project.ID)

	if claimErr != nil || !snapshot.Terminal() {
		var err error
		switch {
		case errors.Is(claimErr, lock.ErrClaimed):
			err = fmt.Errorf("%w: project %s already has a deployment in progress", domain.ErrStateConflict, project.ID)
		case claimErr != nil:
			err = fmt.Errorf("claim project %s: %w", project.ID, claimErr)
		default:
			err = fmt.Errorf("%w: project %s is %s", domain.ErrStateConflict, project.ID, snapshot)
		}
		s.fail(ctx, instance.ID, project.ID, err, false)
		s.metrics.observe(err, s.now().Sub(started))
		return instance.ID, nil
	}

	if err := s.projects.UpdateProjectState(ctx, project.ID, domain.StateDeploying); err != nil {
		s.fail(ctx, instance.ID, project.ID, err, true)
		s.metrics.observe(err, s.now().Sub(started))
		return instance.ID, nil
	}

	err = s.run(ctx, instance.ID, project)
	s.metrics.observe(err, s.now().Sub(started))
	if err != nil {
		s.fail(ctx, instance.ID, project.ID, err, true)
		return instance.ID, nil
	}
	s.logger.Info("deployment dispatched", "project_id", project.ID, "instance_id", instance.ID, "duration", s.now().Sub(started))
	return instance.ID, nil
}

func (s Service) run(ctx context.Context, instanceID string, project *domain.Project) error {
	if !project.HasRepo() {
		return fmt.Errorf("%w: project %s has no repository owner/name", domain.ErrInvalidConfig, project.ID)
	}

	project, err := s.syncChecked(ctx, instanceID, project)
	if err != nil {
		return err
	}
	if err := project.Deployable(); err != nil {
		return err
	}

	target, err := s.worker(ctx, project.WorkerNodeID)
	if err != nil {
		return err
	}
	if s.cfg.ControlPlaneWorkerID == "" {
		return fmt.Errorf("%w: no control-plane worker configured", domain.ErrUnassigned)
	}
	controlPlane, err := s.worker(ctx, s.cfg.ControlPlaneWorkerID)
	if err != nil {
		return err
	}
	rpcTimeout := project.Timeout(s.cfg.RPCTimeout)

	s.line(ctx, instanceID, "allocating ports on worker "+target.WorkerID)
	ports, err := withTimeout(ctx, rpcTimeout, func(ctx context.Context) ([]domain.PortAllocation, error) {
		return s.allocator.AllocatePorts(ctx, *project, *target)
	})
	if err != nil {
		return err
	}
	s.line(ctx, instanceID, "allocating directories on worker "+target.WorkerID)
	dirs, err := withTimeout(ctx, rpcTimeout, func(ctx context.Context) (map[string]string, error) {
		return s.allocator.AllocateDirectories(ctx, *project, *target)
	})
	if err != nil {
		return err
	}
	alloc := domain.Allocation{Ports: ports, Directories: dirs}

	stored, err := s.secrets.ListSecrets(ctx, project.ID)
	if err != nil {
		return err
	}
	dotenv := secrets.DotEnv(s.resolver.ResolveAll(stored, *project, alloc))

	routed, err := Materialise(*project, *target, alloc)
	if err != nil {
		return err
	}
	conf, domains, err := s.compiler.Compile(routed)
	if err != nil {
		return err
	}

	manifest, err := s.createServiceInstances(ctx, instanceID, project.Services)
	if err != nil {
		return err
	}

	s.line(ctx, instanceID, "dispatching deploy to worker "+target.WorkerID)
	deployReq := worker.DeployRequest{
		ProjectID:  project.ID,
		RunCommand: RunCommand(project.ID),
		RepoName:   project.RepoName,
		RepoOwner:  project.RepoOwner,
		RepoBranch: project.RepoBranch,
		Timeout:    int(project.Timeout(s.cfg.CommandTimeout).Seconds()),
		LogID:      instanceID,
		Dotenv:     dotenv,
		Services:   manifest,
	}
	if _, err := withTimeout(ctx, rpcTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.client.DeployProject(ctx, *target, deployReq)
	}); err != nil {
		return err
	}

	s.line(ctx, instanceID, "dispatching routing config to control-plane worker "+controlPlane.WorkerID)
	routingReq := worker.RoutingRequest{
		ProjectID:        project.ID,
		NginxConf:        conf,
		DomainsToCertify: domains,
		LogID:            instanceID,
	}
	if _, err := withTimeout(ctx, rpcTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.client.HandleRoutingConfig(ctx, *controlPlane, routingReq)
	}); err != nil {
		return err
	}

	applied, err := s.instances.UpdateInstanceStateIf(ctx, instanceID, domain.StateDeploying, domain.StateDeployed)
	if err != nil {
		return err
	}
	if !applied {
		s.line(ctx, instanceID, "deployment dispatched; worker already reported its outcome")
		return nil
	}
	if err := s.projects.UpdateProjectState(ctx, project.ID, domain.StateDeployed); err != nil {
		return err
	}
	s.line(ctx, instanceID, "deployment dispatched")
	return nil
}

// syncChecked re-syncs the repository and aborts if anything deploy-relevant changed.
func (s Service) syncChecked(ctx context.Context, instanceID string, project *domain.Project) (*domain.Project, error) {
	before, err := s.secrets.ListSecrets(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	snapshot := drift.Take(*project, before)

	s.line(ctx, instanceID, fmt.Sprintf("syncing repository %s/%s@%s", project.RepoOwner, project.RepoName, project.RepoBranch))
	if _, err := s.syncer.Sync(ctx, project.ID); err != nil {
		return nil, fmt.Errorf("sync repository: %w", err)
	}
	reloaded, err := s.projects.GetProjectByID(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	after, err := s.secrets.ListSecrets(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	if !drift.Equal(snapshot, drift.Take(*reloaded, after)) {
		return nil, fmt.Errorf("%w: repository for project %s changed since its configuration was last reviewed", domain.ErrDriftDetected, project.ID)
	}
	return reloaded, nil
}

func (s Service) worker(ctx context.Context, workerID string) (*domain.WorkerNode, error) {
	w, err := s.workers.GetWorkerByID(ctx, workerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: worker %s", domain.ErrNotFound, workerID)
		}
		return nil, err
	}
	return w, nil
}

func (s Service) createServiceInstances(ctx context.Context, instanceID string, services []domain.Service) ([]worker.ServiceManifest, error) {
	rows := make([]domain.ServiceInstance, 0, len(services))
	manifest := make([]worker.ServiceManifest, 0, len(services))
	for _, svc := range services {
		id := uuid.NewString()
		rows = append(rows, domain.ServiceInstance{
			ID:                id,
			ProjectInstanceID: instanceID,
			ServiceName:       svc.ServiceName,
			ContainerName:     svc.ContainerName,
			ExpectedState:     domain.ContainerRunning,
			ActualState:       domain.ContainerUnknown,
		})
		manifest = append(manifest, worker.ServiceManifest{
			ServiceName:   svc.ServiceName,
			ContainerName: svc.ContainerName,
			InstanceID:    id,
			ExpectedState: domain.ContainerRunning,
			ActualState:   domain.ContainerUnknown,
			CollectLogs:   svc.CollectLogs,
		})
	}
	if len(rows) == 0 {
		return manifest, nil
	}
	if err := s.instances.CreateServiceInstances(ctx, rows); err != nil {
		return nil, err
	}
	return manifest, nil
}

// Materialise returns a copy of the project's routing model with proxy targets pointed at the
// allocated worker ports and static locations at their allocated directories.
func Materialise(project domain.Project, target domain.WorkerNode, alloc domain.Allocation) (domain.RoutingModel, error) {
	routed := project.Routing.Clone()
	for i := range routed.Servers {
		srv := &routed.Servers[i]
		for j := range srv.Locations {
			loc := &srv.Locations[j]
			switch loc.Type {
			case domain.LocationProxy:
				port, ok := alloc.PortFor(srv.ServerID, loc.LocationID)
				if !ok {
					return domain.RoutingModel{}, fmt.Errorf("%w: no port allocated for location %s/%s", domain.ErrRemote, srv.ServerID, loc.LocationID)
				}
				loc.Proxy.ProxyPass = "http://" + target.Host() + ":" + strconv.Itoa(port)
			case domain.LocationStatic:
				key := domain.DirectoryPath(project.ID, srv.ServerID, loc.LocationID).Encode()
				dir, ok := alloc.Directories[key]
				if !ok {
					return domain.RoutingModel{}, fmt.Errorf("%w: no directory allocated for location %s", domain.ErrRemote, loc.LocationID)
				}
				loc.Static.ServeDir = dir
			}
		}
	}
	return routed, nil
}

func (s Service) fail(ctx context.Context, instanceID, projectID string, cause error, markProject bool) {
	ctx = context.WithoutCancel(ctx)
	s.logger.Error("deployment failed", "project_id", projectID, "instance_id", instanceID, "reason", failureReason(cause), "error", cause)
	s.line(ctx, instanceID, "deployment failed: "+cause.Error())
	if err := s.instances.UpdateInstanceState(ctx, instanceID, domain.StateFailed); err != nil {
		s.logger.Error("mark instance failed", "instance_id", instanceID, "error", err)
	}
	if !markProject {
		return
	}
	if err := s.projects.UpdateProjectState(ctx, projectID, domain.StateFailed); err != nil {
		s.logger.Error("mark project failed", "project_id", projectID, "error", err)
	}
}

func (s Service) line(ctx context.Context, instanceID, message string) {
	if err := s.logSvc.Line(ctx, instanceID, message); err != nil {
		s.logger.Warn("append deployment log failed", "instance_id", instanceID, "error", err)
	}
}

func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(ctx)
}
