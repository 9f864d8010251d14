package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mosaiq-software/server-manager-sub000/internal/domain"
	"github.com/mosaiq-software/server-manager-sub000/internal/repository"
	"github.com/mosaiq-software/server-manager-sub000/internal/service/deploy"
	"github.com/mosaiq-software/server-manager-sub000/internal/service/logs"
	"github.com/mosaiq-software/server-manager-sub000/internal/service/project"
	"github.com/mosaiq-software/server-manager-sub000/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux        *http.ServeMux
	logger     *slog.Logger
	project    project.Service
	deploy     deploy.Service
	logs       logs.Service
	workers    repository.WorkerRepository
	upgrader   websocket.Upgrader
	limiter    RateLimiter
	adminToken string
	dbHealth   func(context.Context) error
	heartbeat  time.Duration

	requestTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	rateLimitHits  *prometheus.CounterVec
}

const (
	rateWindowDefault       = time.Minute
	rateWindowRealtime      = 30 * time.Second
	rateLimitOperatorWrite  = 60
	rateLimitOperatorRead   = 240
	rateLimitDeploy         = 12
	rateLimitWebsocket      = 30
	rateLimitWorkerCallback = 600
	rateLimitWorkerLog      = 3000
	healthCheckTimeout      = 2 * time.Second
	sseHeartbeatInterval    = 15 * time.Second
	maxRequestBody          = 1 << 20
	maxWorkerLogBody        = 4 << 20
)

// Dependencies groups the services the router dispatches to.
type Dependencies struct {
	Projects project.Service
	Deploy   deploy.Service
	Logs     logs.Service
	Workers  repository.WorkerRepository
	Limiter  RateLimiter
	DBHealth func(context.Context) error
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, deps Dependencies, adminToken string) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger.With("component", "http"),
		project: deps.Projects,
		deploy:  deps.Deploy,
		logs:    deps.Logs,
		workers: deps.Workers,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:    deps.Limiter,
		adminToken: strings.TrimSpace(adminToken),
		dbHealth:   deps.DBHealth,
		heartbeat:  sseHeartbeatInterval,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/projects/", r.audit("/projects", r.handleProjectSubroutes))
	r.mux.HandleFunc("/instances/", r.audit("/instances", r.handleInstanceSubroutes))
	r.mux.HandleFunc("/worker/callback", r.audit("/worker/callback", r.requireWorker(
		r.withRateLimit("/worker/callback", rateLimitWorkerCallback, rateWindowDefault, rateLimitKeyActor, r.handleWorkerCallback))))
	r.mux.HandleFunc("/worker/log", r.audit("/worker/log", r.requireWorker(
		r.withRateLimit("/worker/log", rateLimitWorkerLog, rateWindowDefault, rateLimitKeyActor, r.handleWorkerLog))))
	r.mux.HandleFunc("/ws/logs", r.audit("/ws/logs", r.requireOperator(
		r.withRateLimit("/ws/logs", rateLimitWebsocket, rateWindowRealtime, rateLimitKeyActor, r.handleLogsWS))))
}

func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/projects/")
	parts := strings.Split(trimmed, "/")
	projectID := parts[0]
	if projectID == "" || len(parts) > 2 {
		r.notFound(w)
		return
	}
	if len(parts) == 1 {
		r.operatorRead("/projects", r.handleProject(projectID))(w, req)
		return
	}
	switch parts[1] {
	case "deploy":
		r.requireDeployer(projectID, r.withRateLimit("/projects/deploy", rateLimitDeploy, rateWindowDefault, rateLimitKeyActor,
			func(w http.ResponseWriter, req *http.Request) { r.handleDeploy(w, req, projectID) }))(w, req)
	case "sync":
		r.operatorWrite("/projects/sync", func(w http.ResponseWriter, req *http.Request) { r.handleSync(w, req, projectID) })(w, req)
	case "deployment-key":
		r.operatorWrite("/projects/deployment-key", func(w http.ResponseWriter, req *http.Request) { r.handleDeploymentKey(w, req, projectID) })(w, req)
	case "routing":
		r.operatorWrite("/projects/routing", func(w http.ResponseWriter, req *http.Request) { r.handleRouting(w, req, projectID) })(w, req)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleInstanceSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/instances/")
	parts := strings.Split(trimmed, "/")
	instanceID := parts[0]
	if instanceID == "" || len(parts) > 2 {
		r.notFound(w)
		return
	}
	if len(parts) == 1 {
		r.operatorRead("/instances", func(w http.ResponseWriter, req *http.Request) { r.handleInstance(w, req, instanceID) })(w, req)
		return
	}
	if parts[1] != "stream" {
		r.notFound(w)
		return
	}
	r.requireOperator(r.withRateLimit("/instances/stream", rateLimitWebsocket, rateWindowRealtime, rateLimitKeyActor,
		func(w http.ResponseWriter, req *http.Request) { r.handleInstanceStream(w, req, instanceID) }))(w, req)
}

func (r *Router) operatorRead(route string, next http.HandlerFunc) http.HandlerFunc {
	return r.requireOperator(r.withRateLimit(route, rateLimitOperatorRead, rateWindowDefault, rateLimitKeyActor, next))
}

func (r *Router) operatorWrite(route string, next http.HandlerFunc) http.HandlerFunc {
	return r.requireOperator(r.withRateLimit(route, rateLimitOperatorWrite, rateWindowDefault, rateLimitKeyActor, next))
}

func (r *Router) handleProject(projectID string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		proj, err := r.project.Get(req.Context(), projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newProjectView(proj))
	}
}

func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	// The pipeline outlives a dropped client; its outcome lands on the instance log.
	instanceID, err := r.deploy.Deploy(context.WithoutCancel(req.Context()), projectID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	detail, err := r.deploy.Describe(req.Context(), instanceID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"instanceId": instanceID,
		"state":      detail.Instance.State,
	})
}

func (r *Router) handleSync(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	proj, err := r.project.Sync(req.Context(), projectID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newProjectView(proj))
}

func (r *Router) handleDeploymentKey(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	key, err := r.project.RotateDeploymentKey(req.Context(), projectID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"deploymentKey": key})
}

func (r *Router) handleRouting(w http.ResponseWriter, req *http.Request, projectID string) {
	switch req.Method {
	case http.MethodGet:
		proj, err := r.project.Get(req.Context(), projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, proj.Routing)
	case http.MethodPut:
		var model domain.RoutingModel
		if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxRequestBody)).Decode(&model); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		proj, err := r.project.UpdateRouting(req.Context(), projectID, model)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newProjectView(proj))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleInstance(w http.ResponseWriter, req *http.Request, instanceID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	detail, err := r.deploy.Describe(req.Context(), instanceID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newInstanceView(detail))
}

func (r *Router) handleInstanceStream(w http.ResponseWriter, req *http.Request, instanceID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	hub := r.logs.Hub()
	if hub == nil {
		writeError(w, http.StatusServiceUnavailable, "log streaming disabled")
		return
	}
	instance, err := r.logs.Get(req.Context(), instanceID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	client := ws.NewSSEClient(w, flusher, "log", r.logger)
	if instance.DeploymentLog != "" {
		snapshot, err := logs.MarshalEntry(instanceID, instance.DeploymentLog, instance.LastUpdated)
		if err == nil {
			_ = client.Send(snapshot)
		}
	}
	hub.Register(instanceID, client)
	defer func() {
		hub.Unregister(instanceID, client)
		client.Close()
	}()

	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-client.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleWorkerCallback(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, _ := authInfoFromContext(req.Context())
	var payload deploy.CallbackPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxRequestBody)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := r.deploy.ProcessCallback(req.Context(), info.WorkerID, payload); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "received"})
}

func (r *Router) handleWorkerLog(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, _ := authInfoFromContext(req.Context())
	logID := strings.TrimSpace(req.URL.Query().Get("logId"))
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxWorkerLogBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	if err := r.deploy.AppendWorkerLog(req.Context(), info.WorkerID, logID, string(body)); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "appended"})
}

func (r *Router) handleLogsWS(w http.ResponseWriter, req *http.Request) {
	instanceID := req.URL.Query().Get("instance_id")
	if instanceID == "" {
		writeError(w, http.StatusBadRequest, "instance_id query parameter required")
		return
	}
	hub := r.logs.Hub()
	if hub == nil {
		writeError(w, http.StatusServiceUnavailable, "log streaming disabled")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	hub.Register(instanceID, client)
	go func() {
		defer func() {
			hub.Unregister(instanceID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		who := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			who = string(info.Actor)
			if info.WorkerID != "" {
				fields = append(fields, "worker_id", info.WorkerID)
			}
		}
		fields = append(fields, "actor", who)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
