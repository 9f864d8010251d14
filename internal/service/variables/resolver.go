// Package variables expands dynamic-variable secrets against a deployment's allocation.
package variables

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mosaiq-software/server-manager-sub000/internal/domain"
)

// Resolver turns variable secrets into literal values. It never fails a deploy:
// unresolvable references are logged and left as they were.
type Resolver struct {
	logger *slog.Logger
}

// New constructs a Resolver.
func New(logger *slog.Logger) Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return Resolver{logger: logger.With("component", "variables")}
}

// Resolve returns secret with its value materialised, or unchanged when it is not a
// variable or cannot be resolved.
func (r Resolver) Resolve(secret domain.Secret, project domain.Project, alloc domain.Allocation) domain.Secret {
	if !secret.Variable {
		return secret
	}
	value, err := r.value(secret.SecretValue, project, alloc)
	if err != nil {
		r.logger.Warn("dynamic variable left unresolved",
			"project_id", project.ID,
			"secret", secret.SecretName,
			"error", err,
		)
		return secret
	}
	out := secret
	out.SecretValue = value
	out.Variable = false
	return out
}

// ResolveAll resolves every secret in order.
func (r Resolver) ResolveAll(secrets []domain.Secret, project domain.Project, alloc domain.Allocation) []domain.Secret {
	out := make([]domain.Secret, len(secrets))
	for i, s := range secrets {
		out[i] = r.Resolve(s, project, alloc)
	}
	return out
}

func (r Resolver) value(raw string, project domain.Project, alloc domain.Allocation) (string, error) {
	path, err := domain.DecodeVariablePath(raw)
	if err != nil {
		return "", err
	}
	if path.ProjectID != project.ID {
		return "", fmt.Errorf("%w: reference to project %s from project %s", domain.ErrResolution, path.ProjectID, project.ID)
	}

	switch path.Field {
	case domain.FieldWorkerNodeID:
		if project.WorkerNodeID == "" {
			return "", fmt.Errorf("%w: project has no worker", domain.ErrResolution)
		}
		return project.WorkerNodeID, nil
	case domain.FieldVolume:
		return lookupDir(alloc.Directories, raw, path)
	}

	srv, ok := project.Routing.Server(path.ServerID)
	if !ok {
		return "", fmt.Errorf("%w: server %s not found", domain.ErrResolution, path.ServerID)
	}
	if path.Field == domain.FieldDomain {
		return srv.Domain, nil
	}
	if path.Field == domain.FieldURL && path.LocationID == "" {
		return publicURL(srv.Domain, "/"), nil
	}
	loc, ok := srv.Location(path.LocationID)
	if !ok {
		return "", fmt.Errorf("%w: location %s not found in server %s", domain.ErrResolution, path.LocationID, path.ServerID)
	}

	switch path.Field {
	case domain.FieldURL:
		return publicURL(srv.Domain, loc.Path), nil
	case domain.FieldPath:
		return loc.Path, nil
	case domain.FieldDirectory:
		if loc.Type != domain.LocationStatic {
			return "", mismatch(path, loc)
		}
		return lookupDir(alloc.Directories, raw, path)
	case domain.FieldPort:
		if loc.Type != domain.LocationProxy {
			return "", mismatch(path, loc)
		}
		port, ok := alloc.PortFor(srv.ServerID, loc.LocationID)
		if !ok {
			return "", fmt.Errorf("%w: no port allocated for location %s/%s", domain.ErrResolution, srv.ServerID, loc.LocationID)
		}
		return strconv.Itoa(port), nil
	case domain.FieldTarget:
		if loc.Type != domain.LocationRedirect || loc.Redirect == nil {
			return "", mismatch(path, loc)
		}
		return loc.Redirect.Target, nil
	}
	return "", fmt.Errorf("%w: unhandled field %s", domain.ErrResolution, path.Field)
}

func lookupDir(dirs map[string]string, raw string, path domain.DynamicVariablePath) (string, error) {
	if dir, ok := dirs[raw]; ok {
		return dir, nil
	}
	if dir, ok := dirs[path.Encode()]; ok {
		return dir, nil
	}
	return "", fmt.Errorf("%w: no directory allocated for %s", domain.ErrResolution, raw)
}

func mismatch(path domain.DynamicVariablePath, loc domain.Location) error {
	return fmt.Errorf("%w: field %s does not apply to %s location %s", domain.ErrResolution, path.Field, loc.Type, loc.LocationID)
}

// publicURL renders https://domain+path with the root path collapsed.
func publicURL(domainName, path string) string {
	path = strings.TrimSpace(path)
	if path == "" || path == "/" {
		return "https://" + domainName
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "https://" + domainName + path
}

