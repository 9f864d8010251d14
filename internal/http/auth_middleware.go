package httpx

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

type authContextKey string

type actor string

const (
	actorOperator actor = "operator"
	actorCI       actor = "ci"
	actorWorker   actor = "worker"
)

type authInfo struct {
	Actor    actor
	WorkerID string
}

const contextKeyAuth authContextKey = "servermanager-auth-info"

type contextSetter interface {
	SetContext(context.Context)
}

// requireOperator admits requests carrying the admin bearer token. Websocket clients may pass
// the token as ?token= since browsers cannot set headers on upgrade.
func (r *Router) requireOperator(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		token, err := bearerToken(req.Header.Get("Authorization"))
		if err != nil && req.URL.Query().Get("token") != "" {
			token, err = strings.TrimSpace(req.URL.Query().Get("token")), nil
		}
		if err != nil {
			r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if !r.isAdminToken(token) {
			r.logger.Warn("admin token mismatch", "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication failed")
			return
		}
		next(w, withAuth(w, req, authInfo{Actor: actorOperator}))
	}
}

// requireDeployer admits an operator, or CI presenting the project's deployment key.
func (r *Router) requireDeployer(projectID string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if key := strings.TrimSpace(req.Header.Get("X-Deployment-Key")); key != "" {
			if err := r.project.AuthorizeDeploymentKey(req.Context(), projectID, key); err != nil {
				r.logger.Warn("deployment key rejected", "project_id", projectID, "error", err)
				writeServiceError(w, err)
				return
			}
			next(w, withAuth(w, req, authInfo{Actor: actorCI}))
			return
		}
		r.requireOperator(next)(w, req)
	}
}

// requireWorker admits a worker presenting its own auth token with X-Worker-Id.
func (r *Router) requireWorker(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		workerID := strings.TrimSpace(req.Header.Get("X-Worker-Id"))
		token, err := bearerToken(req.Header.Get("Authorization"))
		if workerID == "" || err != nil {
			writeError(w, http.StatusUnauthorized, "worker authentication required")
			return
		}
		node, err := r.workers.GetWorkerByID(req.Context(), workerID)
		if err != nil {
			r.logger.Warn("unknown worker", "worker_id", workerID, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "worker authentication failed")
			return
		}
		if !constantTimeEqual(token, node.AuthToken) {
			r.logger.Warn("worker token mismatch", "worker_id", workerID, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "worker authentication failed")
			return
		}
		next(w, withAuth(w, req, authInfo{Actor: actorWorker, WorkerID: workerID}))
	}
}

func (r *Router) isAdminToken(token string) bool {
	if r.adminToken == "" {
		return false
	}
	return constantTimeEqual(token, r.adminToken)
}

func withAuth(w http.ResponseWriter, req *http.Request, info authInfo) *http.Request {
	ctx := context.WithValue(req.Context(), contextKeyAuth, info)
	if setter, ok := w.(contextSetter); ok {
		setter.SetContext(ctx)
	}
	return req.WithContext(ctx)
}

// authInfoFromContext extracts auth metadata from context.
func authInfoFromContext(ctx context.Context) (authInfo, bool) {
	value := ctx.Value(contextKeyAuth)
	if value == nil {
		return authInfo{}, false
	}
	info, ok := value.(authInfo)
	return info, ok
}

func constantTimeEqual(a, b string) bool {
	return b != "" && len(a) == len(b) && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
