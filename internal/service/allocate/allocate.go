// Package allocate reserves worker ports and directories for a project's routing model.
package allocate

import (
	"context"
	"fmt"
	"path"

	"github.com/mosaiq-software/server-manager-sub000/internal/domain"
)

// WorkerClient is the subset of worker RPCs the allocator uses.
type WorkerClient interface {
	FindNextFreePorts(ctx context.Context, w domain.WorkerNode, count int) ([]int, error)
	RequestDirectories(ctx context.Context, w domain.WorkerNode, relative map[string]string) (map[string]string, error)
}

// Allocator requests resources from the project's target worker.
type Allocator struct {
	workers WorkerClient
}

// New constructs an Allocator.
func New(workers WorkerClient) Allocator {
	return Allocator{workers: workers}
}

// ProxyRef names a proxy location together with its server.
type ProxyRef struct {
	ServerID   string
	LocationID string
}

// ProxyLocations returns every proxy location in declared server and location order.
func ProxyLocations(model domain.RoutingModel) []ProxyRef {
	var out []ProxyRef
	for _, srv := range model.Servers {
		for _, loc := range srv.Locations {
			if loc.Type == domain.LocationProxy {
				out = append(out, ProxyRef{ServerID: srv.ServerID, LocationID: loc.LocationID})
			}
		}
	}
	return out
}

// AllocatePorts requests one port per proxy location in a single call and zips the
// result positionally onto (server, location) ids. No call is made when there are no proxy locations.
func (a Allocator) AllocatePorts(ctx context.Context, project domain.Project, w domain.WorkerNode) ([]domain.PortAllocation, error) {
	locations := ProxyLocations(project.Routing)
	if len(locations) == 0 {
		return []domain.PortAllocation{}, nil
	}
	ports, err := a.workers.FindNextFreePorts(ctx, w, len(locations))
	if err != nil {
		return nil, err
	}
	if len(ports) < len(locations) {
		return nil, fmt.Errorf("%w: worker %s returned %d free ports, need %d", domain.ErrResourceExhausted, w.WorkerID, len(ports), len(locations))
	}
	out := make([]domain.PortAllocation, len(locations))
	for i, loc := range locations {
		out[i] = domain.PortAllocation{ServerID: loc.ServerID, LocationID: loc.LocationID, Port: ports[i]}
	}
	return out, nil
}

// DirectoryKeys returns the allocation key to relative directory map for a project:
// one entry per static location plus the project volume.
func DirectoryKeys(project domain.Project) map[string]string {
	keys := make(map[string]string)
	for _, srv := range project.Routing.Servers {
		for _, loc := range srv.Locations {
			if loc.Type != domain.LocationStatic {
				continue
			}
			key := domain.DirectoryPath(project.ID, srv.ServerID, loc.LocationID).Encode()
			keys[key] = path.Join(project.ID, "static", srv.ServerID, loc.LocationID)
		}
	}
	keys[domain.VolumePath(project.ID).Encode()] = path.Join(project.ID, "volume")
	return keys
}

// AllocateDirectories sends the full relative map in one call and returns the worker's
// absolute paths. A requested key missing from the reply is a protocol violation.
func (a Allocator) AllocateDirectories(ctx context.Context, project domain.Project, w domain.WorkerNode) (map[string]string, error) {
	relative := DirectoryKeys(project)
	full, err := a.workers.RequestDirectories(ctx, w, relative)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(relative))
	for key := range relative {
		dir, ok := full[key]
		if !ok || dir == "" {
			return nil, fmt.Errorf("%w: worker %s returned no directory for %s", domain.ErrRemote, w.WorkerID, key)
		}
		out[key] = dir
	}
	return out, nil
}
