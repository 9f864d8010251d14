package config

import "time"

// ControlPlaneConfig holds runtime configuration for the control-plane API.
type ControlPlaneConfig struct {
	Environment          string
	Addr                 string
	DatabaseURL          string
	MigrationsDir        string
	LogLevel             string
	SecretEncryptionKey  string
	AdminToken           string
	ControlPlaneWorkerID string
	WorkerRPCTimeout     time.Duration
	DeployCommandTimeout time.Duration
	GitBaseURL           string
	GitToken             string
	GitCloneTimeout      time.Duration
	SourceScanMaxBytes   int
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	ProjectClaimTTL      time.Duration
	HealthPollInterval   time.Duration
	LogBuffer            int
	RateLimitPerMinute   int
}

// LoadControlPlaneConfig constructs a ControlPlaneConfig from environment variables.
func LoadControlPlaneConfig() ControlPlaneConfig {
	return ControlPlaneConfig{
		Environment:          GetString("APP_ENV", "development"),
		Addr:                 GetString("API_ADDR", ":4000"),
		DatabaseURL:          GetString("DATABASE_URL", "postgres://manager:manager@db:5432/manager?sslmode=disable"),
		MigrationsDir:        GetString("DB_MIGRATIONS_DIR", ""),
		LogLevel:             GetString("LOG_LEVEL", "info"),
		SecretEncryptionKey:  GetString("SECRET_ENCRYPTION_KEY", "supersecuresecret"),
		AdminToken:           GetString("ADMIN_TOKEN", ""),
		ControlPlaneWorkerID: GetString("CONTROL_PLANE_WORKER_ID", ""),
		WorkerRPCTimeout:     GetSeconds("WORKER_RPC_TIMEOUT_SECONDS", 300),
		DeployCommandTimeout: GetSeconds("DEPLOY_COMMAND_TIMEOUT_SECONDS", 600),
		GitBaseURL:           GetString("GIT_BASE_URL", "https://github.com"),
		GitToken:             GetString("GITHUB_TOKEN", ""),
		GitCloneTimeout:      GetSeconds("GIT_CLONE_TIMEOUT_SECONDS", 120),
		SourceScanMaxBytes:   GetInt("SOURCE_SCAN_MAX_BYTES", 512*1024),
		RedisAddr:            GetString("REDIS_ADDR", ""),
		RedisPassword:        GetString("REDIS_PASSWORD", ""),
		RedisDB:              GetInt("REDIS_DB", 0),
		ProjectClaimTTL:      GetSeconds("PROJECT_CLAIM_TTL_SECONDS", 1800),
		HealthPollInterval:   GetSeconds("HEALTH_POLL_SECONDS", 60),
		LogBuffer:            GetInt("WS_LOG_BUFFER", 100),
		RateLimitPerMinute:   GetInt("RATE_LIMIT_PER_MINUTE", 60),
	}
}
