package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	ServerPort  string
	ServiceName string

	// Logging
	LogLevel  string
	LogFormat string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// RabbitMQ
	RabbitMQHost     string
	RabbitMQPort     string
	RabbitMQUser     string
	RabbitMQPassword string
	WorkerPrefetch   int
	// WorkerRequeueDelay holds a failed task before it goes back on the queue.
	WorkerRequeueDelay time.Duration

	// JWT
	JWTSecret string

	// AWS S3
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string
	S3UseSSL           string
	S3BucketName       string
	MediaTempDir       string

	// Rate limits (daily ceilings per platform account)
	RateLimits map[string]int
	Timezone   string

	// Publishing
	MaxRetries        int
	RetryBackoff      time.Duration
	QueueBatchSize    int
	PostDelayMin      time.Duration
	PostDelayMax      time.Duration
	AdapterTimeout    time.Duration
	NSFWPlatform      string
	PublishDryRun     bool
	StalePostingAfter time.Duration

	// Locking
	LockLease time.Duration
	LockWait  time.Duration

	// Scheduler
	SchedulerEnabled   bool
	QueueScanInterval  time.Duration
	RetryInterval      time.Duration
	StaleSweepInterval time.Duration
}

func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	config := &Config{
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		ServiceName: getEnv("SERVICE_NAME", "publisher"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "influencer"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		RabbitMQHost:       getEnv("RABBITMQ_HOST", "localhost"),
		RabbitMQPort:       getEnv("RABBITMQ_PORT", "5672"),
		RabbitMQUser:       getEnv("RABBITMQ_USER", "guest"),
		RabbitMQPassword:   getEnv("RABBITMQ_PASSWORD", "guest"),
		WorkerPrefetch:     getEnvInt("WORKER_PREFETCH", 1),
		WorkerRequeueDelay: getEnvDuration("WORKER_REQUEUE_DELAY", 5*time.Second),

		JWTSecret: getEnv("JWT_SECRET", "your-secret-key-change-in-production"),

		AWSRegion:          getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpoint:        getEnv("AWS_ENDPOINT", ""),
		S3UseSSL:           getEnv("S3_USE_SSL", "true"),
		S3BucketName:       getEnv("S3_BUCKET_NAME", "influencer-media"),
		MediaTempDir:       getEnv("MEDIA_TEMP_DIR", os.TempDir()),

		RateLimits: map[string]int{
			"max_posts_per_day":       getEnvInt("MAX_POSTS_PER_DAY", 0),
			"max_video_posts_per_day": getEnvInt("MAX_VIDEO_POSTS_PER_DAY", 0),
			"max_stories_per_day":     getEnvInt("MAX_STORIES_PER_DAY", 0),
			"max_reels_per_day":       getEnvInt("MAX_REELS_PER_DAY", 0),
		},
		Timezone: getEnv("TIMEZONE", "UTC"),

		MaxRetries:        getEnvInt("MAX_RETRIES", 3),
		RetryBackoff:      getEnvDuration("RETRY_BACKOFF", 15*time.Minute),
		QueueBatchSize:    getEnvInt("QUEUE_BATCH_SIZE", 5),
		PostDelayMin:      time.Duration(getEnvInt("POST_DELAY_MIN_SECONDS", 30)) * time.Second,
		PostDelayMax:      time.Duration(getEnvInt("POST_DELAY_MAX_SECONDS", 120)) * time.Second,
		AdapterTimeout:    getEnvDuration("ADAPTER_TIMEOUT", 5*time.Minute),
		NSFWPlatform:      getEnv("NSFW_PLATFORM", "fanvue"),
		PublishDryRun:     getEnvBool("PUBLISH_DRY_RUN", false),
		StalePostingAfter: getEnvDuration("STALE_POSTING_AFTER", 0),

		LockLease: getEnvDuration("LOCK_LEASE", 2*time.Minute),
		LockWait:  getEnvDuration("LOCK_WAIT", 15*time.Minute),

		SchedulerEnabled:   getEnvBool("SCHEDULER_ENABLED", true),
		QueueScanInterval:  getEnvDuration("QUEUE_SCAN_INTERVAL", 5*time.Minute),
		RetryInterval:      getEnvDuration("RETRY_INTERVAL", 30*time.Minute),
		StaleSweepInterval: getEnvDuration("STALE_SWEEP_INTERVAL", 10*time.Minute),
	}

	if config.PostDelayMax < config.PostDelayMin {
		config.PostDelayMax = config.PostDelayMin
	}

	// JWT_SECRET validation is optional - only required for services that use JWT
	// If not set, it will use default value and services without JWT will work fine

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return b
}

// getEnvDuration accepts Go duration strings ("90s", "15m"). A bare integer is read as seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultValue
}
