package domain

import "time"

// ProjectInstance captures a single deployment attempt for a project.
type ProjectInstance struct {
	ID            string
	ProjectID     string
	WorkerNodeID  string
	State         DeploymentState
	DeploymentLog string
	Created       time.Time
	LastUpdated   time.Time
}

// ServiceInstance tracks one container belonging to a project instance.
type ServiceInstance struct {
	ID                string
	ProjectInstanceID string
	ServiceName       string
	ContainerName     string
	ExpectedState     ContainerState
	ActualState       ContainerState
	CollectedLogs     string
	LastUpdated       time.Time
}

// ServiceInstanceUpdate carries worker-reported container status.
type ServiceInstanceUpdate struct {
	InstanceID  string         `json:"instanceId"`
	ActualState ContainerState `json:"actualState"`
	Logs        string         `json:"logs,omitempty"`
}
