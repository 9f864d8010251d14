package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mosaiq-software/server-manager-sub000/internal/domain"
	"github.com/mosaiq-software/server-manager-sub000/internal/repository"
)

var (
	errMissingLogID = fmt.Errorf("%w: logId required", domain.ErrInvalidConfig)
	// ErrForeignWorker is returned when a worker reports on an instance it was not given.
	ErrForeignWorker = errors.New("worker not assigned to instance")
	// ErrInvalidCallbackState is returned for states a worker may not report.
	ErrInvalidCallbackState = errors.New("invalid callback state")
)

// CallbackPayload is a worker's progress report for one deployment instance.
type CallbackPayload struct {
	LogID    string                         `json:"logId"`
	State    domain.DeploymentState         `json:"state,omitempty"`
	Message  string                         `json:"message,omitempty"`
	Services []domain.ServiceInstanceUpdate `json:"services,omitempty"`
}

// InstanceDetail is an instance together with its service snapshots.
type InstanceDetail struct {
	Instance domain.ProjectInstance
	Services []domain.ServiceInstance
}

// ProcessCallback ingests a worker status report.
func (s Service) ProcessCallback(ctx context.Context, workerID string, payload CallbackPayload) error {
	instance, err := s.authorizedInstance(ctx, workerID, payload.LogID)
	if err != nil {
		return err
	}
	switch payload.State {
	case "", domain.StateDeployed, domain.StateHealthy, domain.StateFailed:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCallbackState, payload.State)
	}

	if msg := strings.TrimSpace(payload.Message); msg != "" {
		if err := s.logSvc.Line(ctx, instance.ID, "["+workerID+"] "+msg); err != nil {
			return err
		}
	}
	for _, update := range payload.Services {
		update.ActualState = domain.ParseContainerState(string(update.ActualState))
		if err := s.instances.UpdateServiceInstance(ctx, update); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				s.logger.Warn("callback for unknown service instance", "instance_id", instance.ID, "service_instance_id", update.InstanceID)
				continue
			}
			return err
		}
	}
	if payload.State == "" {
		return nil
	}
	if err := s.instances.UpdateInstanceState(ctx, instance.ID, payload.State); err != nil {
		return err
	}
	latest, err := s.instances.ListInstancesByProject(ctx, instance.ProjectID, 1)
	if err != nil {
		return err
	}
	if len(latest) == 1 && latest[0].ID == instance.ID {
		if err := s.projects.UpdateProjectState(ctx, instance.ProjectID, payload.State); err != nil {
			return err
		}
	}
	s.logger.Info("deployment progress", "instance_id", instance.ID, "project_id", instance.ProjectID, "worker_id", workerID, "state", payload.State)
	return nil
}

// AppendWorkerLog appends raw worker output to an instance's deployment log.
func (s Service) AppendWorkerLog(ctx context.Context, workerID, logID, text string) error {
	instance, err := s.authorizedInstance(ctx, workerID, logID)
	if err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	return s.logSvc.Append(ctx, instance.ID, text)
}

// Describe returns an instance with its log and service snapshots.
func (s Service) Describe(ctx context.Context, instanceID string) (*InstanceDetail, error) {
	instance, err := s.instances.GetInstanceByID(ctx, instanceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: instance %s", domain.ErrNotFound, instanceID)
		}
		return nil, err
	}
	services, err := s.instances.ListServiceInstances(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return &InstanceDetail{Instance: *instance, Services: services}, nil
}

// authorizedInstance loads the instance a worker reports on. Only the instance's own worker and
// the control-plane worker may report.
func (s Service) authorizedInstance(ctx context.Context, workerID, logID string) (*domain.ProjectInstance, error) {
	if strings.TrimSpace(logID) == "" {
		return nil, errMissingLogID
	}
	instance, err := s.instances.GetInstanceByID(ctx, logID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: instance %s", domain.ErrNotFound, logID)
		}
		return nil, err
	}
	if workerID != instance.WorkerNodeID && workerID != s.cfg.ControlPlaneWorkerID {
		return nil, ErrForeignWorker
	}
	return instance, nil
}
