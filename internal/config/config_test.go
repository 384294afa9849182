package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "API_KEY", "LLM_PROVIDER", "LLM_API_KEY", "OPENAI_API_KEY", "LLM_API_URL",
		"MODERATION_API_URL", "MODERATION_API_KEY", "FACEBOOK_APP_ID", "FACEBOOK_APP_SECRET",
		"FACEBOOK_ACCESS_TOKEN", "REDIS_URL", "REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD",
		"MAX_RETRIES", "RETRY_DELAY_MS", "RATE_LIMIT_DELAY", "DRY_RUN", "KAFKA_BROKERS",
		"AUDIT_KAFKA_TOPIC", "WORKER_CONCURRENCY", "JOB_LEASE", "EXTERNAL_CALL_TIMEOUT",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg := Load()

	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, "posting", cfg.QueueName)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryDelay)
	assert.Equal(t, time.Minute, cfg.RateLimitDelay)
	assert.Equal(t, 5, cfg.WorkerConcurrency)
	assert.Equal(t, "21.0", cfg.FacebookAPIVersion)
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.KafkaMirrorEnabled())
	assert.Equal(t, 30*24*time.Hour, cfg.MediaRetention)
	assert.Equal(t, 5*time.Minute, cfg.JobLease)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("RETRY_DELAY_MS", "250")
	t.Setenv("RATE_LIMIT_DELAY", "90")
	t.Setenv("REDIS_HOST", "cache.internal")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("AUDIT_KAFKA_TOPIC", "audit")

	cfg := Load()
	assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
	assert.Equal(t, 90*time.Second, cfg.RateLimitDelay)
	assert.Equal(t, "sk-test", cfg.ModerationAPIKey, "moderation key defaults to the llm key")
	assert.Equal(t, []string{"cache.internal:6379"}, cfg.Redis.Addrs)
	assert.True(t, cfg.KafkaMirrorEnabled())
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	cfg := Load()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, []string{"FACEBOOK_ACCESS_TOKEN", "FACEBOOK_APP_ID", "FACEBOOK_APP_SECRET", "LLM_API_KEY"}, cfg.Missing())

	cfg.DryRun = true
	assert.Equal(t, []string{"LLM_API_KEY"}, cfg.Missing())

	cfg.LLM.APIKey = "sk-test"
	require.NoError(t, cfg.Validate())

	cfg.JobLease = 90 * time.Second
	require.Error(t, cfg.Validate(), "lease shorter than one attempt")
	cfg.JobLease = 5 * time.Minute

	cfg.MaxRetries = 0
	require.Error(t, cfg.Validate())
}

func TestRequiredSettingsHideValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_API_KEY", "sk-secret")
	cfg := Load()
	settings := cfg.RequiredSettings()
	assert.Equal(t, "set", settings["LLM_API_KEY"])
	assert.Equal(t, "", settings["FACEBOOK_APP_ID"])
	for _, v := range settings {
		assert.NotContains(t, v, "sk-secret")
	}
}
