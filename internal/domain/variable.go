package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// VariableField names the attribute a dynamic variable resolves to.
type VariableField string

const (
	FieldWorkerNodeID VariableField = "WorkerNodeId"
	FieldDomain       VariableField = "Domain"
	FieldURL          VariableField = "URL"
	FieldPath         VariableField = "Path"
	FieldDirectory    VariableField = "Directory"
	FieldPort         VariableField = "Port"
	FieldTarget       VariableField = "Target"
	FieldVolume       VariableField = "Volume"
)

const variablePathPrefix = "dv1"

// DynamicVariablePath identifies a value derived from a project's routing model and allocation.
type DynamicVariablePath struct {
	ProjectID  string
	ServerID   string
	LocationID string
	Field      VariableField
}

// Encode renders the path as dv1:<project>:<server>:<location>:<field>.
func (p DynamicVariablePath) Encode() string {
	parts := []string{
		variablePathPrefix,
		url.PathEscape(p.ProjectID),
		url.PathEscape(p.ServerID),
		url.PathEscape(p.LocationID),
		url.PathEscape(string(p.Field)),
	}
	return strings.Join(parts, ":")
}

func (p DynamicVariablePath) String() string { return p.Encode() }

// DecodeVariablePath parses an encoded path and checks it is structurally consistent.
func DecodeVariablePath(raw string) (DynamicVariablePath, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 5 || parts[0] != variablePathPrefix {
		return DynamicVariablePath{}, fmt.Errorf("%w: malformed variable path %q", ErrResolution, raw)
	}
	decoded := make([]string, 4)
	for i, part := range parts[1:] {
		v, err := url.PathUnescape(part)
		if err != nil {
			return DynamicVariablePath{}, fmt.Errorf("%w: variable path %q: %v", ErrResolution, raw, err)
		}
		decoded[i] = v
	}
	p := DynamicVariablePath{
		ProjectID:  decoded[0],
		ServerID:   decoded[1],
		LocationID: decoded[2],
		Field:      VariableField(decoded[3]),
	}
	if err := p.validate(); err != nil {
		return DynamicVariablePath{}, fmt.Errorf("%w: variable path %q: %v", ErrResolution, raw, err)
	}
	return p, nil
}

func (p DynamicVariablePath) validate() error {
	if p.ProjectID == "" {
		return fmt.Errorf("project id required")
	}
	hasServer := p.ServerID != ""
	hasLocation := p.LocationID != ""
	switch p.Field {
	case FieldWorkerNodeID, FieldVolume:
		if hasServer || hasLocation {
			return fmt.Errorf("field %s is project scoped", p.Field)
		}
	case FieldDomain:
		if !hasServer || hasLocation {
			return fmt.Errorf("field %s requires a server only", p.Field)
		}
	case FieldURL:
		if !hasServer {
			return fmt.Errorf("field %s requires a server", p.Field)
		}
	case FieldPath, FieldDirectory, FieldPort, FieldTarget:
		if !hasServer || !hasLocation {
			return fmt.Errorf("field %s requires a server and location", p.Field)
		}
	default:
		return fmt.Errorf("unknown field %q", p.Field)
	}
	return nil
}

// DirectoryPath is the allocation key for a static location's serve directory.
func DirectoryPath(projectID, serverID, locationID string) DynamicVariablePath {
	return DynamicVariablePath{ProjectID: projectID, ServerID: serverID, LocationID: locationID, Field: FieldDirectory}
}

// VolumePath is the allocation key for the project-wide volume directory.
func VolumePath(projectID string) DynamicVariablePath {
	return DynamicVariablePath{ProjectID: projectID, Field: FieldVolume}
}
