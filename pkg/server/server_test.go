package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/janakkhadka100/fb-post-ai/pkg/logging"
	"github.com/janakkhadka100/fb-post-ai/pkg/monitoring"
)

func TestSetupServiceRouter(t *testing.T) {
	logger := logging.NewDiscardLogger()
	hc := monitoring.NewHealthChecker("svc", "v1")
	reg := prometheus.NewRegistry()
	mc := monitoring.NewMetricsCollectorWithRegistry("svc", "v1", "abc", reg, reg)
	r := SetupServiceRouter(logger, "svc", hc, mc)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for _, path := range []string{"/ping", "/health", "/metrics"} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, path, nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
	}
}

func TestStartStopsOnContextCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := strconv.Itoa(l.Addr().(*net.TCPAddr).Port)
	_ = l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Start(ctx, Config{Port: port, ServiceName: "svc", ShutdownTimeout: time.Second}, http.NotFoundHandler(), logging.NewDiscardLogger())
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
