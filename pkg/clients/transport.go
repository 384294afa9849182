package clients

import (
	"net"
	"net/http"
	"time"
)

// DefaultTransport caps per-host connections so a stalled upstream cannot
// pile up unbounded goroutines waiting on sockets.
func DefaultTransport() *http.Transport {
	return &http.Transport{
		MaxConnsPerHost:     32,
		MaxIdleConnsPerHost: 8,
		MaxIdleConns:        64,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// NewHTTPClient returns a client on DefaultTransport with an overall timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Transport: DefaultTransport(), Timeout: timeout}
}
