package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
)

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Timestamp int64                  `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthChecker manages and executes health checks
type HealthChecker struct {
	service string
	version string
	checks  map[string]HealthCheck
}

type HealthCheck func() CheckResult

func NewHealthChecker(service, version string) *HealthChecker {
	return &HealthChecker{
		service: service,
		version: version,
		checks:  make(map[string]HealthCheck),
	}
}

func (hc *HealthChecker) AddCheck(name string, check HealthCheck) {
	hc.checks[name] = check
}

// CheckHealth runs all health checks. Any unhealthy check makes the whole
// service unhealthy; degraded checks only degrade it.
func (hc *HealthChecker) CheckHealth() HealthStatus {
	status := HealthStatus{
		Service:   hc.service,
		Version:   hc.version,
		Timestamp: time.Now().Unix(),
		Checks:    make(map[string]CheckResult),
	}

	anyUnhealthy := false
	anyDegraded := false
	for name, check := range hc.checks {
		result := check()
		status.Checks[name] = result
		switch result.Status {
		case StatusHealthy:
		case StatusDegraded:
			anyDegraded = true
		default:
			anyUnhealthy = true
		}
	}

	switch {
	case anyUnhealthy:
		status.Status = StatusUnhealthy
	case anyDegraded:
		status.Status = StatusDegraded
	default:
		status.Status = StatusHealthy
	}
	return status
}

// Handler serves CheckHealth, answering 503 when unhealthy.
func (hc *HealthChecker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		health := hc.CheckHealth()
		statusCode := http.StatusOK
		if health.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, health)
	}
}

// Pinger is satisfied by *kgo.Client and anything else with a context ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingHealthCheck reports unhealthy when the dependency cannot be pinged.
// A failing optional dependency should be registered with degraded=true.
func PingHealthCheck(name string, p Pinger, degraded bool) HealthCheck {
	failStatus := StatusUnhealthy
	if degraded {
		failStatus = StatusDegraded
	}
	return func() CheckResult {
		start := time.Now()
		if p == nil {
			return CheckResult{Status: failStatus, Message: name + " client is nil"}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := p.Ping(ctx)
		duration := time.Since(start)
		if err != nil {
			return CheckResult{
				Status:  failStatus,
				Message: fmt.Sprintf("%s ping failed: %v", name, err),
				Latency: duration.String(),
			}
		}
		return CheckResult{
			Status:  StatusHealthy,
			Message: name + " connection healthy",
			Latency: duration.String(),
		}
	}
}

type redisPinger struct {
	client goredis.UniversalClient
}

func (r redisPinger) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// RedisHealthCheck creates a health check for the queue's Redis connection.
func RedisHealthCheck(client goredis.UniversalClient) HealthCheck {
	if client == nil {
		return PingHealthCheck("Redis", nil, false)
	}
	return PingHealthCheck("Redis", redisPinger{client: client}, false)
}

// WritableDirHealthCheck verifies the service can still create files in dir.
func WritableDirHealthCheck(dir string) HealthCheck {
	return func() CheckResult {
		start := time.Now()
		f, err := os.CreateTemp(dir, ".health-*")
		if err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("%s not writable: %v", dir, err),
				Latency: time.Since(start).String(),
			}
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
		return CheckResult{
			Status:  StatusHealthy,
			Message: filepath.Clean(dir) + " writable",
			Latency: time.Since(start).String(),
		}
	}
}

// ConfigurationHealthCheck creates a health check for required configuration
func ConfigurationHealthCheck(configs map[string]string) HealthCheck {
	return func() CheckResult {
		start := time.Now()
		var missing []string
		for key, value := range configs {
			if value == "" {
				missing = append(missing, key)
			}
		}
		sort.Strings(missing)

		if len(missing) > 0 {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("Missing required configuration: %v", missing),
				Latency: time.Since(start).String(),
			}
		}
		return CheckResult{
			Status:  StatusHealthy,
			Message: "All required configuration present",
			Latency: time.Since(start).String(),
		}
	}
}
