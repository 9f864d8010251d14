package domain

import (
	"fmt"
	"strings"
	"time"
)

// WorkerNode is a remote host that runs project containers.
type WorkerNode struct {
	WorkerID             string
	Address              string
	Port                 int
	AuthToken            string
	Status               WorkerStatus
	IsControlPlaneWorker bool
	LastHeartbeat        *time.Time
}

// BaseURL renders the worker's RPC endpoint root.
func (w WorkerNode) BaseURL() string {
	addr := strings.TrimRight(strings.TrimSpace(w.Address), "/")
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	if w.Port > 0 {
		return fmt.Sprintf("%s:%d", addr, w.Port)
	}
	return addr
}

// Host returns the bare address used when proxying to this worker.
func (w WorkerNode) Host() string {
	addr := strings.TrimSpace(w.Address)
	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimPrefix(addr, "https://")
	return strings.TrimRight(addr, "/")
}
