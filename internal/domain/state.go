package domain

// DeploymentState enumerates project and instance lifecycle states.
type DeploymentState string

const (
	StateReady      DeploymentState = "READY"
	StateDeploying  DeploymentState = "DEPLOYING"
	StateFailed     DeploymentState = "FAILED"
	StateDeployed   DeploymentState = "DEPLOYED"
	StateHealthy    DeploymentState = "HEALTHY"
	StateDestroying DeploymentState = "DESTROYING"
)

// Valid reports whether s is a known deployment state.
func (s DeploymentState) Valid() bool {
	switch s {
	case StateReady, StateDeploying, StateFailed, StateDeployed, StateHealthy, StateDestroying:
		return true
	}
	return false
}

// Terminal reports whether a new deploy may start from s.
func (s DeploymentState) Terminal() bool {
	switch s {
	case StateReady, StateFailed, StateDeployed, StateHealthy:
		return true
	}
	return false
}

// ContainerState is the observed or expected state of a single service container.
type ContainerState string

const (
	ContainerUnknown ContainerState = "UNKNOWN"
	ContainerRunning ContainerState = "RUNNING"
	ContainerStopped ContainerState = "STOPPED"
	ContainerExited  ContainerState = "EXITED"
	ContainerFailed  ContainerState = "FAILED"
)

// ParseContainerState normalises worker-reported container states.
func ParseContainerState(raw string) ContainerState {
	switch ContainerState(raw) {
	case ContainerRunning, ContainerStopped, ContainerExited, ContainerFailed:
		return ContainerState(raw)
	}
	return ContainerUnknown
}

// WorkerStatus is the health of a worker node as seen by the control plane.
type WorkerStatus string

const (
	WorkerUnknown WorkerStatus = "UNKNOWN"
	WorkerOnline  WorkerStatus = "ONLINE"
	WorkerOffline WorkerStatus = "OFFLINE"
)
