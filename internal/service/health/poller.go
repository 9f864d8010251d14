// Package health polls worker nodes and records whether they are reachable.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mosaiq-software/server-manager-sub000/internal/domain"
	"github.com/mosaiq-software/server-manager-sub000/internal/repository"
	"github.com/mosaiq-software/server-manager-sub000/internal/worker"
)

const (
	defaultInterval = time.Minute
	probeTimeout    = 15 * time.Second
)

// ContainerLister is the worker RPC used as a liveness probe.
type ContainerLister interface {
	ListContainers(ctx context.Context, w domain.WorkerNode) ([]worker.Container, error)
}

// Poller marks workers ONLINE or OFFLINE on a fixed interval.
type Poller struct {
	workers repository.WorkerRepository
	client  ContainerLister
	logger  *slog.Logger

	interval time.Duration
	now      func() time.Time
}

// New constructs a Poller.
func New(workers repository.WorkerRepository, client ContainerLister, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		workers:  workers,
		client:   client,
		logger:   logger.With("component", "health"),
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("worker health poller started", "interval", p.interval)
	p.runIteration(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker health poller stopped")
			return
		case <-ticker.C:
			p.runIteration(ctx)
		}
	}
}

func (p *Poller) runIteration(ctx context.Context) {
	nodes, err := p.workers.ListWorkers(ctx)
	if err != nil {
		p.logger.Warn("failed to list workers", "error", err)
		return
	}
	var wg sync.WaitGroup
	for _, node := range nodes {
		wg.Add(1)
		go func(node domain.WorkerNode) {
			defer wg.Done()
			p.probe(ctx, node)
		}(node)
	}
	wg.Wait()
}

func (p *Poller) probe(ctx context.Context, node domain.WorkerNode) {
	timeout := probeTimeout
	if p.interval < timeout {
		timeout = p.interval
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	containers, err := p.client.ListContainers(probeCtx, node)
	if err != nil {
		if node.Status != domain.WorkerOffline {
			p.logger.Warn("worker unreachable", "worker_id", node.WorkerID, "error", err)
		}
		if err := p.workers.UpdateWorkerStatus(ctx, node.WorkerID, domain.WorkerOffline, nil); err != nil {
			p.logger.Error("failed to record worker status", "worker_id", node.WorkerID, "error", err)
		}
		return
	}
	now := p.now()
	if node.Status != domain.WorkerOnline {
		p.logger.Info("worker online", "worker_id", node.WorkerID, "containers", len(containers))
	}
	if err := p.workers.UpdateWorkerStatus(ctx, node.WorkerID, domain.WorkerOnline, &now); err != nil {
		p.logger.Error("failed to record worker status", "worker_id", node.WorkerID, "error", err)
	}
}
