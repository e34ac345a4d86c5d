package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENV" default:"production"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Storage
	StoreDriver        string `envconfig:"STORE_DRIVER" default:"postgres"`
	DBConnectionString string `envconfig:"DB_CONNECTION_STRING"`
	MigrateOnStart     bool   `envconfig:"MIGRATE_ON_START" default:"false"`
	RedisURL           string `envconfig:"REDIS_URL"`
	CachePrefix        string `envconfig:"CACHE_PREFIX" default:"gatekeeper"`

	// Auth
	JWTSecret     string `envconfig:"JWT_SECRET"`
	JWTPublicKey  string `envconfig:"JWT_PUBLIC_KEY"`
	AdminAPIToken string `envconfig:"ADMIN_API_TOKEN"`

	// Gates
	GateTimeoutMs int `envconfig:"GATE_TIMEOUT_MS" default:"2000"`

	// Stripe
	StripeSecretKey       string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret   string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripePortalReturnURL string `envconfig:"STRIPE_PORTAL_RETURN_URL" default:"http://localhost:3000/billing"`

	// Google Cloud
	GCPProjectID               string `envconfig:"GCP_PROJECT_ID"`
	SecretManagerProject       string `envconfig:"SECRET_MANAGER_PROJECT"`
	EntitlementsTopic          string `envconfig:"ENTITLEMENTS_TOPIC" default:"entitlements-changed"`
	LifecycleTopic             string `envconfig:"LIFECYCLE_TOPIC" default:"lifecycle-events"`
	PushEndpointBaseURL        string `envconfig:"PUSH_ENDPOINT_BASE_URL" default:"http://host.docker.internal:8080"`
	PubSubEmulatorHost         string `envconfig:"PUBSUB_EMULATOR_HOST"`
	PubSubPushAudience         string `envconfig:"PUBSUB_PUSH_AUDIENCE"`
	PubSubPushServiceAccount   string `envconfig:"PUBSUB_PUSH_SERVICE_ACCOUNT"`
	PubSubPushVerificationSkip bool   `envconfig:"PUBSUB_PUSH_VERIFICATION_SKIP" default:"false"`

	// Raw event archive (S3-compatible)
	ArchiveS3URL       string `envconfig:"ARCHIVE_S3_URL"`
	ArchiveS3Bucket    string `envconfig:"ARCHIVE_S3_BUCKET"`
	ArchiveS3Region    string `envconfig:"ARCHIVE_S3_REGION" default:"us-east-1"`
	ArchiveS3AccessKey string `envconfig:"ARCHIVE_S3_ACCESS_KEY"`
	ArchiveS3SecretKey string `envconfig:"ARCHIVE_S3_SECRET_KEY"`

	// Lifecycle worker settings
	LifecycleAsync               bool   `envconfig:"LIFECYCLE_ASYNC" default:"false"`
	LifecycleQueueName           string `envconfig:"LIFECYCLE_QUEUE_NAME" default:"lifecycle_events"`
	LifecyclePollTimeoutSec      int    `envconfig:"LIFECYCLE_POLL_TIMEOUT_SEC" default:"30"`
	LifecyclePollMaxMsg          int    `envconfig:"LIFECYCLE_POLL_MAX_MSG" default:"10"`
	LifecycleVisibilityTimeout   int    `envconfig:"LIFECYCLE_VISIBILITY_TIMEOUT_SEC" default:"60"`
	LifecycleMaxRetries          int    `envconfig:"LIFECYCLE_MAX_RETRIES" default:"5"`
	LifecycleBackoffInitialSec   int    `envconfig:"LIFECYCLE_BACKOFF_INITIAL_SEC" default:"1"`
	LifecycleBackoffMaxSec       int    `envconfig:"LIFECYCLE_BACKOFF_MAX_SEC" default:"60"`

	// Pass expiry sweep
	ExpirySweepIntervalSec int `envconfig:"EXPIRY_SWEEP_INTERVAL_SEC" default:"300"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GateTimeout bounds every gate evaluation.
func (c *Config) GateTimeout() time.Duration {
	if c.GateTimeoutMs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.GateTimeoutMs) * time.Millisecond
}

// IsDevelopment reports whether ENV=development.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// GetGCPProjectID returns the project used for Pub/Sub. The emulator accepts any id.
func (c *Config) GetGCPProjectID() string {
	if c.GCPProjectID != "" {
		return c.GCPProjectID
	}
	if c.PubSubEmulatorHost != "" {
		return "local-project"
	}
	return ""
}
