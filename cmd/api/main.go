package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"

	"github.com/mosaiq-software/server-manager-sub000/internal/app/migrate"
	"github.com/mosaiq-software/server-manager-sub000/internal/gitsource"
	httpx "github.com/mosaiq-software/server-manager-sub000/internal/http"
	"github.com/mosaiq-software/server-manager-sub000/internal/lock"
	"github.com/mosaiq-software/server-manager-sub000/internal/repository/postgres"
	"github.com/mosaiq-software/server-manager-sub000/internal/service/deploy"
	"github.com/mosaiq-software/server-manager-sub000/internal/service/health"
	"github.com/mosaiq-software/server-manager-sub000/internal/service/ingress"
	"github.com/mosaiq-software/server-manager-sub000/internal/service/logs"
	"github.com/mosaiq-software/server-manager-sub000/internal/service/project"
	"github.com/mosaiq-software/server-manager-sub000/internal/worker"
	"github.com/mosaiq-software/server-manager-sub000/internal/ws"
	"github.com/mosaiq-software/server-manager-sub000/pkg/config"
	"github.com/mosaiq-software/server-manager-sub000/pkg/crypto"
	"github.com/mosaiq-software/server-manager-sub000/pkg/logger"
)

func main() {
	cfg := config.LoadControlPlaneConfig()
	log := logger.New("control-plane", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if strings.TrimSpace(cfg.AdminToken) == "" {
		log.Warn("ADMIN_TOKEN not set; operator routes will reject every request")
	}
	if strings.TrimSpace(cfg.ControlPlaneWorkerID) == "" {
		log.Warn("CONTROL_PLANE_WORKER_ID not set; deployments will fail as unassigned")
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	sealer, err := crypto.NewSealer(cfg.SecretEncryptionKey)
	if err != nil {
		log.Error("invalid secret encryption key", "error", err)
		os.Exit(1)
	}
	repo := postgres.New(pool, sealer)

	var claims lock.Claimer = lock.NewMemoryClaimer()
	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Warn("redis unavailable; using in-process claims and rate limits", "addr", addr, "error", err)
			_ = client.Close()
		} else {
			defer client.Close()
			claims = lock.NewRedisClaimer(client, cfg.ProjectClaimTTL, log)
			limiter.Close()
			limiter = httpx.NewRedisRateLimiter(client, log)
			log.Info("redis connected", "addr", addr)
		}
	}

	logHub := ws.NewHub(cfg.LogBuffer)
	defer logHub.Close()

	workerClient := worker.New()
	reader := gitsource.NewReader(gitsource.Options{
		BaseURL:      cfg.GitBaseURL,
		Token:        cfg.GitToken,
		Timeout:      cfg.GitCloneTimeout,
		MaxScanBytes: int64(cfg.SourceScanMaxBytes),
	}, log)

	projectSvc := project.New(repo, repo, reader, log)
	logSvc := logs.New(repo, logHub, log)
	deploySvc := deploy.New(deploy.Dependencies{
		Projects:  repo,
		Secrets:   repo,
		Workers:   repo,
		Instances: repo,
		Syncer:    projectSvc,
		Client:    workerClient,
		Logs:      logSvc,
		Claims:    claims,
		Compiler:  ingress.Compiler{},
	}, deploy.Config{
		ControlPlaneWorkerID: cfg.ControlPlaneWorkerID,
		RPCTimeout:           cfg.WorkerRPCTimeout,
		CommandTimeout:       cfg.DeployCommandTimeout,
	}, log)

	poller := health.New(repo, workerClient, cfg.HealthPollInterval, log)
	go poller.Run(ctx)

	router := httpx.NewRouter(log, httpx.Dependencies{
		Projects: projectSvc,
		Deploy:   deploySvc,
		Logs:     logSvc,
		Workers:  repo,
		Limiter:  limiter,
		DBHealth: pool.Ping,
	}, cfg.AdminToken)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("control plane starting", "addr", cfg.Addr, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("control plane stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
