// Package worker implements the control plane's RPC client for worker nodes.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mosaiq-software/server-manager-sub000/internal/domain"
)

const maxErrorBodySize = 4096

// Client sends authenticated JSON POSTs to worker nodes.
type Client struct {
	httpClient *http.Client
	metrics    *rpcMetrics
	now        func() time.Time
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client. Callers bound each call with a context deadline.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		metrics:    newRPCMetrics(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ServiceManifest is one entry of the deploy command's service list.
type ServiceManifest struct {
	ServiceName   string                `json:"serviceName"`
	ContainerName string                `json:"containerName"`
	InstanceID    string                `json:"instanceId"`
	ExpectedState domain.ContainerState `json:"expectedState"`
	ActualState   domain.ContainerState `json:"actualState"`
	CollectLogs   bool                  `json:"collectLogs"`
}

// DeployRequest is the deploy project command.
type DeployRequest struct {
	ProjectID  string            `json:"projectId"`
	RunCommand string            `json:"runCommand"`
	RepoName   string            `json:"repoName"`
	RepoOwner  string            `json:"repoOwner"`
	RepoBranch string            `json:"repoBranch"`
	Timeout    int               `json:"timeout"`
	LogID      string            `json:"logId"`
	Dotenv     string            `json:"dotenv"`
	Services   []ServiceManifest `json:"services"`
}

// RoutingRequest is the reverse proxy and certificate command.
type RoutingRequest struct {
	ProjectID        string   `json:"projectId"`
	NginxConf        string   `json:"nginxConf"`
	DomainsToCertify []string `json:"domainsToCertify"`
	LogID            string   `json:"logId"`
}

// Container is one entry reported by list containers.
type Container struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Image  string `json:"image,omitempty"`
	State  string `json:"state"`
	Status string `json:"status,omitempty"`
}

// DeployProject dispatches the compose-up command.
func (c *Client) DeployProject(ctx context.Context, w domain.WorkerNode, req DeployRequest) error {
	return c.call(ctx, w, "deploy-project", req, nil)
}

// HandleRoutingConfig dispatches compiled proxy config and the domains needing certificates.
func (c *Client) HandleRoutingConfig(ctx context.Context, w domain.WorkerNode, req RoutingRequest) error {
	return c.call(ctx, w, "handle-nginx-config", req, nil)
}

// FindNextFreePorts asks the worker for count unused ports.
func (c *Client) FindNextFreePorts(ctx context.Context, w domain.WorkerNode, count int) ([]int, error) {
	var resp struct {
		Ports []int `json:"ports"`
	}
	if err := c.call(ctx, w, "find-next-free-ports", map[string]int{"count": count}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Ports) < count {
		return nil, fmt.Errorf("%w: worker %s returned %d free ports, need %d", domain.ErrResourceExhausted, w.WorkerID, len(resp.Ports), count)
	}
	return resp.Ports, nil
}

// RequestDirectories asks the worker to create relative directories and return their absolute paths.
func (c *Client) RequestDirectories(ctx context.Context, w domain.WorkerNode, relative map[string]string) (map[string]string, error) {
	body := struct {
		RelativeDirectoryMap map[string]string `json:"relativeDirectoryMap"`
	}{RelativeDirectoryMap: relative}
	var resp struct {
		FullDirectoryMap map[string]string `json:"fullDirectoryMap"`
	}
	if err := c.call(ctx, w, "request-directories", body, &resp); err != nil {
		return nil, err
	}
	return resp.FullDirectoryMap, nil
}

// ListContainers returns the worker's containers.
func (c *Client) ListContainers(ctx context.Context, w domain.WorkerNode) ([]Container, error) {
	var resp struct {
		Containers []Container `json:"containers"`
	}
	if err := c.call(ctx, w, "list-containers", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Containers, nil
}

func (c *Client) call(ctx context.Context, w domain.WorkerNode, name string, body any, v any) (err error) {
	started := c.now()
	defer func() {
		c.metrics.observe(name, err, c.now().Sub(started))
	}()

	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", name, err)
		}
		reader = bytes.NewReader(payload)
	}
	endpoint := w.BaseURL() + "/" + name
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, reader)
	if err != nil {
		return fmt.Errorf("%w: build %s request: %v", domain.ErrRemote, name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := strings.TrimSpace(w.AuthToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s to worker %s timed out", domain.ErrRemote, name, w.WorkerID)
		}
		return fmt.Errorf("%w: %s to worker %s: %v", domain.ErrRemote, name, w.WorkerID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorForStatus(name, w.WorkerID, resp)
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decode %s response from worker %s: %v", domain.ErrRemote, name, w.WorkerID, err)
	}
	return nil
}

func errorForStatus(name, workerID string, resp *http.Response) error {
	buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	summary := strings.TrimSpace(string(buf))
	if summary == "" {
		summary = resp.Status
	}
	return fmt.Errorf("%w: %s to worker %s failed (%d): %s", domain.ErrRemote, name, workerID, resp.StatusCode, summary)
}
