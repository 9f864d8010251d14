package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mosaiq-software/server-manager-sub000/internal/domain"
	"github.com/mosaiq-software/server-manager-sub000/internal/lock"
	"github.com/mosaiq-software/server-manager-sub000/internal/repository/memory"
	"github.com/mosaiq-software/server-manager-sub000/internal/service/logs"
	"github.com/mosaiq-software/server-manager-sub000/internal/worker"
)

type fakeWorkerClient struct {
	mu        sync.Mutex
	freePorts int
	portErr   error
	portCalls []int
	dirCalls  []map[string]string
	deploys   []worker.DeployRequest
	routings  []worker.RoutingRequest
	targets   []string
	onDeploy  func(worker.DeployRequest)
}

func (f *fakeWorkerClient) FindNextFreePorts(ctx context.Context, w domain.WorkerNode, count int) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.portCalls = append(f.portCalls, count)
	if f.portErr != nil {
		return nil, f.portErr
	}
	n := count
	if f.freePorts >= 0 && f.freePorts < n {
		n = f.freePorts
	}
	ports := make([]int, n)
	for i := range ports {
		ports[i] = 40000 + i
	}
	return ports, nil
}

func (f *fakeWorkerClient) RequestDirectories(ctx context.Context, w domain.WorkerNode, relative map[string]string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirCalls = append(f.dirCalls, relative)
	out := make(map[string]string, len(relative))
	for key, rel := range relative {
		out[key] = "/srv/" + rel
	}
	return out, nil
}

func (f *fakeWorkerClient) DeployProject(ctx context.Context, w domain.WorkerNode, req worker.DeployRequest) error {
	f.mu.Lock()
	f.deploys = append(f.deploys, req)
	f.targets = append(f.targets, "deploy:"+w.WorkerID)
	hook := f.onDeploy
	f.mu.Unlock()
	if hook != nil {
		hook(req)
	}
	return nil
}

func (f *fakeWorkerClient) HandleRoutingConfig(ctx context.Context, w domain.WorkerNode, req worker.RoutingRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routings = append(f.routings, req)
	f.targets = append(f.targets, "routing:"+w.WorkerID)
	return nil
}

func (f *fakeWorkerClient) rpcCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.portCalls) + len(f.dirCalls) + len(f.deploys) + len(f.routings)
}

// stubSyncer applies mutate to the stored project, standing in for a repository re-read.
type stubSyncer struct {
	store  *memory.Store
	mutate func(*domain.Project)
	calls  int
	block  chan struct{}
}

func (s *stubSyncer) Sync(ctx context.Context, projectID string) (*domain.Project, error) {
	s.calls++
	if s.block != nil {
		<-s.block
	}
	project, err := s.store.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if s.mutate != nil {
		s.mutate(project)
		if err := s.store.UpdateProject(ctx, project); err != nil {
			return nil, err
		}
	}
	return project, nil
}

type harness struct {
	svc    Service
	store  *memory.Store
	client *fakeWorkerClient
	syncer *stubSyncer
}

func sampleProject() *domain.Project {
	return &domain.Project{
		ID:               "p1",
		Name:             "site",
		RepoOwner:        "acme",
		RepoName:         "site",
		RepoBranch:       "main",
		WorkerNodeID:     "w1",
		HasDockerCompose: true,
		Services: []domain.Service{
			{ServiceName: "api", ContainerName: "p1-api-1", CollectLogs: true},
			{ServiceName: "web", ContainerName: "p1-web-1"},
		},
		Routing: domain.RoutingModel{Servers: []domain.Server{{
			ServerID: "s1",
			Domain:   "app.example.com",
			Locations: []domain.Location{
				{LocationID: "web", Path: "/", Type: domain.LocationStatic, Static: &domain.StaticLocation{ServeDir: "dist"}},
				{LocationID: "api", Path: "/api", Type: domain.LocationProxy, Proxy: &domain.ProxyLocation{ProxyPass: "3000", WebsocketSupport: true}},
			},
		}}},
	}
}

func newHarness(t *testing.T, project *domain.Project) *harness {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	if err := store.CreateProject(ctx, project); err != nil {
		t.Fatalf("create project: %v", err)
	}
	workers := []*domain.WorkerNode{
		{WorkerID: "w1", Address: "10.0.0.2", Port: 7000, AuthToken: "w1-token"},
		{WorkerID: "cp", Address: "10.0.0.1", Port: 7000, AuthToken: "cp-token", IsControlPlaneWorker: true},
	}
	for _, w := range workers {
		if err := store.CreateWorker(ctx, w); err != nil {
			t.Fatalf("create worker: %v", err)
		}
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := &fakeWorkerClient{freePorts: -1}
	syncer := &stubSyncer{store: store}
	svc := New(Dependencies{
		Projects:  store,
		Secrets:   store,
		Workers:   store,
		Instances: store,
		Syncer:    syncer,
		Client:    client,
		Logs:      logs.New(store, nil, log),
		Claims:    lock.NewMemoryClaimer(),
	}, Config{ControlPlaneWorkerID: "cp", RPCTimeout: time.Second, CommandTimeout: time.Minute}, log)
	return &harness{svc: svc, store: store, client: client, syncer: syncer}
}

func (h *harness) instance(t *testing.T, id string) *domain.ProjectInstance {
	t.Helper()
	inst, err := h.store.GetInstanceByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetInstanceByID: %v", err)
	}
	return inst
}

func (h *harness) projectState(t *testing.T) domain.DeploymentState {
	t.Helper()
	project, err := h.store.GetProjectByID(context.Background(), "p1")
	if err != nil {
		t.Fatalf("GetProjectByID: %v", err)
	}
	return project.State
}

func TestDeployHappyPath(t *testing.T) {
	h := newHarness(t, sampleProject())
	ctx := context.Background()
	portRef := domain.DynamicVariablePath{ProjectID: "p1", ServerID: "s1", LocationID: "api", Field: domain.FieldPort}.Encode()
	if err := h.store.UpsertSecret(ctx, domain.Secret{ProjectID: "p1", SecretName: "API_PORT", SecretValue: portRef, Variable: true}); err != nil {
		t.Fatalf("seed secret: %v", err)
	}
	if err := h.store.UpsertSecret(ctx, domain.Secret{ProjectID: "p1", SecretName: "MODE", SecretValue: "production"}); err != nil {
		t.Fatalf("seed secret: %v", err)
	}

	id, err := h.svc.Deploy(ctx, "p1")
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	inst := h.instance(t, id)
	if inst.State != domain.StateDeployed {
		t.Fatalf("expected DEPLOYED, got %s; log:\n%s", inst.State, inst.DeploymentLog)
	}
	if got := h.projectState(t); got != domain.StateDeployed {
		t.Fatalf("expected project DEPLOYED, got %s", got)
	}

	if len(h.client.portCalls) != 1 || h.client.portCalls[0] != 1 {
		t.Fatalf("expected one port request for 1 port, got %v", h.client.portCalls)
	}
	if len(h.client.dirCalls) != 1 || len(h.client.dirCalls[0]) != 2 {
		t.Fatalf("expected one directory request with static + volume keys, got %v", h.client.dirCalls)
	}
	if len(h.client.deploys) != 1 || len(h.client.routings) != 1 {
		t.Fatalf("expected one deploy and one routing rpc, got %d/%d", len(h.client.deploys), len(h.client.routings))
	}
	if strings.Join(h.client.targets, ",") != "deploy:w1,routing:cp" {
		t.Fatalf("unexpected rpc targets %v", h.client.targets)
	}

	deploy := h.client.deploys[0]
	if deploy.RunCommand != "docker compose -p p1 up -d --build --remove-orphans" || deploy.LogID != id || deploy.Timeout != 60 {
		t.Fatalf("unexpected deploy request %+v", deploy)
	}
	if !strings.Contains(deploy.Dotenv, "API_PORT=40000\n") || !strings.Contains(deploy.Dotenv, "MODE=production\n") {
		t.Fatalf("dotenv not resolved:\n%s", deploy.Dotenv)
	}
	if len(deploy.Services) != 2 || deploy.Services[0].ActualState != domain.ContainerUnknown || deploy.Services[0].InstanceID == "" {
		t.Fatalf("unexpected service manifest %+v", deploy.Services)
	}

	conf := h.client.routings[0].NginxConf
	static, proxy, ok := strings.Cut(conf, "location /api {")
	if !ok {
		t.Fatalf("missing /api location:\n%s", conf)
	}
	if !strings.Contains(static, "root /srv/p1/static/s1/web;") || strings.Contains(static, "Upgrade") {
		t.Fatalf("unexpected static location:\n%s", static)
	}
	if !strings.Contains(proxy, "proxy_pass http://10.0.0.2:40000;") || !strings.Contains(proxy, `Connection "upgrade"`) {
		t.Fatalf("unexpected proxy location:\n%s", proxy)
	}
	if domains := h.client.routings[0].DomainsToCertify; len(domains) != 1 || domains[0] != "app.example.com" {
		t.Fatalf("unexpected domains %v", domains)
	}

	stored, err := h.store.GetProjectByID(ctx, "p1")
	if err != nil {
		t.Fatalf("GetProjectByID: %v", err)
	}
	if stored.Routing.Servers[0].Locations[1].Proxy.ProxyPass != "3000" {
		t.Fatalf("stored routing model mutated: %+v", stored.Routing.Servers[0].Locations[1].Proxy)
	}
	services, err := h.store.ListServiceInstances(ctx, id)
	if err != nil || len(services) != 2 {
		t.Fatalf("expected 2 service instances, got %d err=%v", len(services), err)
	}
}

func TestDeployRejectsProjectAlreadyDeploying(t *testing.T) {
	project := sampleProject()
	project.State = domain.StateDeploying
	h := newHarness(t, project)

	id, err := h.svc.Deploy(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	inst := h.instance(t, id)
	if inst.State != domain.StateFailed {
		t.Fatalf("expected FAILED, got %s", inst.State)
	}
	if !strings.Contains(inst.DeploymentLog, domain.ErrStateConflict.Error()) {
		t.Fatalf("log missing state conflict:\n%s", inst.DeploymentLog)
	}
	if h.client.rpcCount() != 0 || h.syncer.calls != 0 {
		t.Fatalf("expected no rpc or sync, got rpc=%d sync=%d", h.client.rpcCount(), h.syncer.calls)
	}
	if got := h.projectState(t); got != domain.StateDeploying {
		t.Fatalf("running deployment's project state overwritten: %s", got)
	}
}

func TestDeployConcurrentCallsConflict(t *testing.T) {
	h := newHarness(t, sampleProject())
	h.syncer.block = make(chan struct{})
	ctx := context.Background()

	first := make(chan string, 1)
	go func() {
		id, _ := h.svc.Deploy(ctx, "p1")
		first <- id
	}()
	deadline := time.Now().Add(2 * time.Second)
	for h.projectState(t) != domain.StateDeploying {
		if time.Now().After(deadline) {
			t.Fatalf("first deploy never started")
		}
		time.Sleep(time.Millisecond)
	}

	second, err := h.svc.Deploy(ctx, "p1")
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if inst := h.instance(t, second); inst.State != domain.StateFailed || !strings.Contains(inst.DeploymentLog, domain.ErrStateConflict.Error()) {
		t.Fatalf("expected second deploy to conflict, got %s:\n%s", inst.State, inst.DeploymentLog)
	}

	close(h.syncer.block)
	if inst := h.instance(t, <-first); inst.State != domain.StateDeployed {
		t.Fatalf("expected first deploy DEPLOYED, got %s:\n%s", inst.State, inst.DeploymentLog)
	}
}

type brokenClaimer struct{ err error }

func (b brokenClaimer) Claim(context.Context, string) (func(), error) { return nil, b.err }

func TestDeployClaimBackendErrorFailsInstance(t *testing.T) {
	h := newHarness(t, sampleProject())
	h.svc.claims = brokenClaimer{err: errors.New("dial tcp 10.0.0.5:6379: connection refused")}

	id, err := h.svc.Deploy(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if id == "" {
		t.Fatal("expected an instance id")
	}
	inst := h.instance(t, id)
	if inst.State != domain.StateFailed || !strings.Contains(inst.DeploymentLog, "connection refused") {
		t.Fatalf("expected failed instance with claim error, got %s:\n%s", inst.State, inst.DeploymentLog)
	}
	if got := h.projectState(t); got != domain.StateReady {
		t.Fatalf("expected project state untouched, got %s", got)
	}
	if h.client.rpcCount() != 0 || h.syncer.calls != 0 {
		t.Fatalf("pipeline ran despite claim error")
	}
}

func TestDeployAbortsOnDrift(t *testing.T) {
	h := newHarness(t, sampleProject())
	h.syncer.mutate = func(p *domain.Project) {
		srv := &p.Routing.Servers[0]
		srv.Locations = append(srv.Locations, domain.Location{
			LocationID: "docs",
			Path:       "/docs",
			Type:       domain.LocationRedirect,
			Redirect:   &domain.RedirectLocation{Target: "https://docs.example.com"},
		})
	}

	id, err := h.svc.Deploy(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	inst := h.instance(t, id)
	if inst.State != domain.StateFailed || !strings.Contains(inst.DeploymentLog, domain.ErrDriftDetected.Error()) {
		t.Fatalf("expected drift failure, got %s:\n%s", inst.State, inst.DeploymentLog)
	}
	if h.client.rpcCount() != 0 {
		t.Fatalf("expected no rpc after drift, got %d", h.client.rpcCount())
	}
	if got := h.projectState(t); got != domain.StateFailed {
		t.Fatalf("expected project FAILED, got %s", got)
	}
}

func TestDeploySecretValueEditIsNotDrift(t *testing.T) {
	h := newHarness(t, sampleProject())
	ctx := context.Background()
	if err := h.store.UpsertSecret(ctx, domain.Secret{ProjectID: "p1", SecretName: "TOKEN", SecretValue: "old"}); err != nil {
		t.Fatalf("seed secret: %v", err)
	}
	h.syncer.mutate = func(p *domain.Project) {
		_ = h.store.UpsertSecret(ctx, domain.Secret{ProjectID: "p1", SecretName: "TOKEN", SecretValue: "new"})
	}
	id, err := h.svc.Deploy(ctx, "p1")
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if inst := h.instance(t, id); inst.State != domain.StateDeployed {
		t.Fatalf("expected DEPLOYED, got %s:\n%s", inst.State, inst.DeploymentLog)
	}
}

func TestDeployPortExhaustion(t *testing.T) {
	project := sampleProject()
	locations := &project.Routing.Servers[0].Locations
	for _, id := range []string{"api2", "api3"} {
		*locations = append(*locations, domain.Location{
			LocationID: id,
			Path:       "/" + id,
			Type:       domain.LocationProxy,
			Proxy:      &domain.ProxyLocation{ProxyPass: "3000"},
		})
	}
	h := newHarness(t, project)
	h.client.freePorts = 2

	id, err := h.svc.Deploy(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	inst := h.instance(t, id)
	if inst.State != domain.StateFailed || !strings.Contains(inst.DeploymentLog, domain.ErrResourceExhausted.Error()) {
		t.Fatalf("expected resource exhaustion, got %s:\n%s", inst.State, inst.DeploymentLog)
	}
	if len(h.client.portCalls) != 1 || h.client.portCalls[0] != 3 {
		t.Fatalf("expected one request for 3 ports, got %v", h.client.portCalls)
	}
	if len(h.client.dirCalls) != 0 || len(h.client.deploys) != 0 || len(h.client.routings) != 0 {
		t.Fatalf("pipeline continued after exhaustion")
	}
}

func TestDeployFailuresRecordedOnInstance(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.Project)
		cfg    func(*harness)
		want   error
	}{
		{name: "missing repo", mutate: func(p *domain.Project) { p.RepoOwner = "" }, want: domain.ErrInvalidConfig},
		{name: "no compose", mutate: func(p *domain.Project) { p.HasDockerCompose = false }, want: domain.ErrInvalidConfig},
		{name: "no worker", mutate: func(p *domain.Project) { p.WorkerNodeID = "" }, want: domain.ErrUnassigned},
		{name: "unknown worker", mutate: func(p *domain.Project) { p.WorkerNodeID = "ghost" }, want: domain.ErrNotFound},
		{name: "no control plane", cfg: func(h *harness) { h.svc.cfg.ControlPlaneWorkerID = "" }, want: domain.ErrUnassigned},
		{name: "port rpc", cfg: func(h *harness) {
			h.client.portErr = fmt.Errorf("%w: connection refused", domain.ErrRemote)
		}, want: domain.ErrRemote},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			project := sampleProject()
			if tc.mutate != nil {
				tc.mutate(project)
			}
			h := newHarness(t, project)
			if tc.cfg != nil {
				tc.cfg(h)
			}
			id, err := h.svc.Deploy(context.Background(), "p1")
			if err != nil {
				t.Fatalf("Deploy: %v", err)
			}
			inst := h.instance(t, id)
			if inst.State != domain.StateFailed || !strings.Contains(inst.DeploymentLog, tc.want.Error()) {
				t.Fatalf("expected %v failure, got %s:\n%s", tc.want, inst.State, inst.DeploymentLog)
			}
			if strings.Count(inst.DeploymentLog, "deployment failed:") != 1 {
				t.Fatalf("expected exactly one failure line:\n%s", inst.DeploymentLog)
			}
			if len(h.client.deploys) != 0 {
				t.Fatalf("deploy rpc issued despite failure")
			}
		})
	}
}

func TestDeployUnknownProject(t *testing.T) {
	h := newHarness(t, sampleProject())
	if _, err := h.svc.Deploy(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProcessCallbackUpdatesInstanceAndProject(t *testing.T) {
	h := newHarness(t, sampleProject())
	ctx := context.Background()
	id, err := h.svc.Deploy(ctx, "p1")
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	serviceID := h.client.deploys[0].Services[0].InstanceID

	err = h.svc.ProcessCallback(ctx, "w1", CallbackPayload{
		LogID:    id,
		State:    domain.StateHealthy,
		Message:  "containers up",
		Services: []domain.ServiceInstanceUpdate{{InstanceID: serviceID, ActualState: "RUNNING", Logs: "listening"}},
	})
	if err != nil {
		t.Fatalf("ProcessCallback: %v", err)
	}
	detail, err := h.svc.Describe(ctx, id)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if detail.Instance.State != domain.StateHealthy || !strings.Contains(detail.Instance.DeploymentLog, "[w1] containers up") {
		t.Fatalf("unexpected instance %+v", detail.Instance)
	}
	if got := h.projectState(t); got != domain.StateHealthy {
		t.Fatalf("expected project HEALTHY, got %s", got)
	}
	var running bool
	for _, svc := range detail.Services {
		if svc.ID == serviceID {
			running = svc.ActualState == domain.ContainerRunning && svc.CollectedLogs == "listening"
		}
	}
	if !running {
		t.Fatalf("service instance not updated: %+v", detail.Services)
	}
}

func TestDeployKeepsFailureReportedBeforeRoutingAck(t *testing.T) {
	h := newHarness(t, sampleProject())
	ctx := context.Background()
	h.client.onDeploy = func(req worker.DeployRequest) {
		err := h.svc.ProcessCallback(ctx, "w1", CallbackPayload{LogID: req.LogID, State: domain.StateFailed, Message: "compose up failed"})
		if err != nil {
			t.Errorf("ProcessCallback: %v", err)
		}
	}

	id, err := h.svc.Deploy(ctx, "p1")
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	inst := h.instance(t, id)
	if inst.State != domain.StateFailed {
		t.Fatalf("expected worker-reported FAILED to stand, got %s; log:\n%s", inst.State, inst.DeploymentLog)
	}
	if got := h.projectState(t); got != domain.StateFailed {
		t.Fatalf("expected project FAILED, got %s", got)
	}
	if !strings.Contains(inst.DeploymentLog, "[w1] compose up failed") || !strings.Contains(inst.DeploymentLog, "worker already reported its outcome") {
		t.Fatalf("unexpected log:\n%s", inst.DeploymentLog)
	}
}

func TestProcessCallbackRejectsInvalidInput(t *testing.T) {
	h := newHarness(t, sampleProject())
	ctx := context.Background()
	id, err := h.svc.Deploy(ctx, "p1")
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if err := h.svc.ProcessCallback(ctx, "intruder", CallbackPayload{LogID: id}); !errors.Is(err, ErrForeignWorker) {
		t.Fatalf("expected ErrForeignWorker, got %v", err)
	}
	if err := h.svc.ProcessCallback(ctx, "w1", CallbackPayload{LogID: id, State: domain.StateReady}); !errors.Is(err, ErrInvalidCallbackState) {
		t.Fatalf("expected ErrInvalidCallbackState, got %v", err)
	}
	if err := h.svc.ProcessCallback(ctx, "w1", CallbackPayload{LogID: "missing"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := h.svc.AppendWorkerLog(ctx, "cp", id, "nginx reloaded\n"); err != nil {
		t.Fatalf("AppendWorkerLog from control plane: %v", err)
	}
	if inst := h.instance(t, id); !strings.HasSuffix(inst.DeploymentLog, "nginx reloaded\n") {
		t.Fatalf("worker log not appended:\n%s", inst.DeploymentLog)
	}
}

func TestMaterialiseLeavesSourceUntouched(t *testing.T) {
	project := sampleProject()
	alloc := domain.Allocation{
		Ports: []domain.PortAllocation{{ServerID: "s1", LocationID: "api", Port: 41000}},
		Directories: map[string]string{
			domain.DirectoryPath("p1", "s1", "web").Encode(): "/data/p1/web",
		},
	}
	routed, err := Materialise(*project, domain.WorkerNode{Address: "http://10.0.0.9/"}, alloc)
	if err != nil {
		t.Fatalf("Materialise: %v", err)
	}
	if got := routed.Servers[0].Locations[1].Proxy.ProxyPass; got != "http://10.0.0.9:41000" {
		t.Fatalf("unexpected proxy pass %s", got)
	}
	if got := routed.Servers[0].Locations[0].Static.ServeDir; got != "/data/p1/web" {
		t.Fatalf("unexpected serve dir %s", got)
	}
	if project.Routing.Servers[0].Locations[1].Proxy.ProxyPass != "3000" {
		t.Fatalf("source routing model mutated")
	}
}

func TestMaterialiseSameLocationIDOnTwoServers(t *testing.T) {
	project := sampleProject()
	second := project.Routing.Clone().Servers[0]
	second.ServerID = "s2"
	second.Domain = "admin.example.com"
	project.Routing.Servers = append(project.Routing.Servers, second)
	alloc := domain.Allocation{
		Ports: []domain.PortAllocation{
			{ServerID: "s1", LocationID: "api", Port: 40000},
			{ServerID: "s2", LocationID: "api", Port: 40001},
		},
		Directories: map[string]string{
			domain.DirectoryPath("p1", "s1", "web").Encode(): "/data/p1/s1/web",
			domain.DirectoryPath("p1", "s2", "web").Encode(): "/data/p1/s2/web",
		},
	}
	routed, err := Materialise(*project, domain.WorkerNode{Address: "10.0.0.1"}, alloc)
	if err != nil {
		t.Fatalf("Materialise: %v", err)
	}
	for i, want := range []string{"http://10.0.0.1:40000", "http://10.0.0.1:40001"} {
		if got := routed.Servers[i].Locations[1].Proxy.ProxyPass; got != want {
			t.Fatalf("server %s: expected %s, got %s", routed.Servers[i].ServerID, want, got)
		}
	}
}
