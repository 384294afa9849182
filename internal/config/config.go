package config

import (
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/janakkhadka100/fb-post-ai/pkg/config"
	"github.com/janakkhadka100/fb-post-ai/pkg/llm"
	"github.com/janakkhadka100/fb-post-ai/pkg/redis"
)

// Config is the service configuration, read once at startup.
type Config struct {
	Port   string
	APIKey string

	LLM llm.Config

	ModerationAPIURL string
	ModerationAPIKey string
	ModerationModel  string

	FacebookAppID       string
	FacebookAppSecret   string
	FacebookAccessToken string
	FacebookAPIVersion  string
	FacebookGraphURL    string

	Redis     redis.Config
	QueueName string
	// JobLease is how long a claimed job may go unsettled before another
	// worker may take it over.
	JobLease time.Duration

	MaxRetries        int
	RetryDelay        time.Duration
	RateLimitDelay    time.Duration
	WorkerConcurrency int
	WorkerPoll        time.Duration
	CallTimeout       time.Duration

	DryRun bool

	StorageConnection string
	MediaMaxBytes     int64
	MediaRetention    time.Duration

	AuditDir        string
	AuditKafkaTopic string
	KafkaBrokers    []string
}

func Load() Config {
	llmCfg := llm.LoadConfig()
	return Config{
		Port:   config.GetEnv("PORT", "3000"),
		APIKey: config.GetEnv("API_KEY", ""),

		LLM: llmCfg,

		ModerationAPIURL: config.GetEnv("MODERATION_API_URL", llmCfg.APIURL),
		ModerationAPIKey: config.GetEnv("MODERATION_API_KEY", llmCfg.APIKey),
		ModerationModel:  config.GetEnv("MODERATION_MODEL", ""),

		FacebookAppID:       config.GetEnv("FACEBOOK_APP_ID", ""),
		FacebookAppSecret:   config.GetEnv("FACEBOOK_APP_SECRET", ""),
		FacebookAccessToken: config.GetEnv("FACEBOOK_ACCESS_TOKEN", ""),
		FacebookAPIVersion:  config.GetEnv("FACEBOOK_API_VERSION", "21.0"),
		FacebookGraphURL:    config.GetEnv("FACEBOOK_GRAPH_URL", ""),

		Redis:     loadRedis(),
		QueueName: config.GetEnv("QUEUE_NAME", "posting"),
		JobLease:  config.GetEnvDuration("JOB_LEASE", time.Second, 5*time.Minute),

		MaxRetries:        config.GetEnvInt("MAX_RETRIES", 3),
		RetryDelay:        config.GetEnvDuration("RETRY_DELAY_MS", time.Millisecond, time.Second),
		RateLimitDelay:    config.GetEnvDuration("RATE_LIMIT_DELAY", time.Second, 60*time.Second),
		WorkerConcurrency: config.GetEnvInt("WORKER_CONCURRENCY", 5),
		WorkerPoll:        config.GetEnvDuration("WORKER_POLL_INTERVAL", time.Millisecond, 500*time.Millisecond),
		CallTimeout:       config.GetEnvDuration("EXTERNAL_CALL_TIMEOUT", time.Second, 30*time.Second),

		DryRun: config.GetEnvBool("DRY_RUN", false),

		StorageConnection: config.GetEnv("STORAGE_CONNECTION", "file://./storage"),
		MediaMaxBytes:     int64(config.GetEnvInt("MEDIA_MAX_BYTES", 10<<20)),
		MediaRetention:    time.Duration(config.GetEnvInt("MEDIA_RETENTION_DAYS", 30)) * 24 * time.Hour,

		AuditDir:        config.GetEnv("AUDIT_DIR", "./logs/audit"),
		AuditKafkaTopic: config.GetEnv("AUDIT_KAFKA_TOPIC", ""),
		KafkaBrokers:    config.GetEnvList("KAFKA_BROKERS"),
	}
}

// loadRedis prefers REDIS_URL and falls back to REDIS_HOST/REDIS_PORT.
// Neither set means the in-memory queue.
func loadRedis() redis.Config {
	if url := config.GetEnv("REDIS_URL", ""); url != "" {
		return redis.Config{URL: url}
	}
	host := config.GetEnv("REDIS_HOST", "")
	if host == "" {
		return redis.Config{}
	}
	return redis.Config{
		Addrs:    []string{net.JoinHostPort(host, config.GetEnv("REDIS_PORT", "6379"))},
		Password: config.GetEnv("REDIS_PASSWORD", ""),
	}
}

// KafkaMirrorEnabled reports whether audit entries are also produced to Kafka.
func (c Config) KafkaMirrorEnabled() bool {
	return len(c.KafkaBrokers) > 0 && c.AuditKafkaTopic != ""
}

// Missing lists required settings that are unset. Dry-run needs only the
// generation key.
func (c Config) Missing() []string {
	var missing []string
	if c.LLM.APIKey == "" && c.LLM.Provider != "ollama" {
		missing = append(missing, "LLM_API_KEY")
	}
	if !c.DryRun {
		for key, val := range map[string]string{
			"FACEBOOK_APP_ID":       c.FacebookAppID,
			"FACEBOOK_APP_SECRET":   c.FacebookAppSecret,
			"FACEBOOK_ACCESS_TOKEN": c.FacebookAccessToken,
		} {
			if val == "" {
				missing = append(missing, key)
			}
		}
	}
	sort.Strings(missing)
	return missing
}

func (c Config) Validate() error {
	if missing := c.Missing(); len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %v", missing)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES must be at least 1, got %d", c.MaxRetries)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.WorkerConcurrency)
	}
	// An attempt makes up to three bounded external calls.
	if c.JobLease <= 3*c.CallTimeout {
		return fmt.Errorf("JOB_LEASE (%s) must exceed three times EXTERNAL_CALL_TIMEOUT (%s)", c.JobLease, c.CallTimeout)
	}
	return nil
}

// RequiredSettings maps each required key to a non-empty marker when it
// is satisfied. Values are never the secrets themselves.
func (c Config) RequiredSettings() map[string]string {
	missing := map[string]bool{}
	for _, k := range c.Missing() {
		missing[k] = true
	}
	out := map[string]string{}
	for _, k := range []string{"LLM_API_KEY", "FACEBOOK_APP_ID", "FACEBOOK_APP_SECRET", "FACEBOOK_ACCESS_TOKEN"} {
		if missing[k] {
			out[k] = ""
		} else {
			out[k] = "set"
		}
	}
	return out
}
