package infra

import (
	"net"
	"net/http"
	"time"
)

// TransportOptions sizes the shared connection pool. Zero values fall back to
// 10 idle and 20 total connections per host.
type TransportOptions struct {
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
}

// NewHTTPClient builds the single client shared by every job. It carries no
// overall timeout; callers bound each request through its context so that
// long downloads and short API calls can use different limits.
func NewHTTPClient(opts TransportOptions) *http.Client {
	idle := opts.MaxIdleConnsPerHost
	if idle <= 0 {
		idle = 10
	}
	maxConns := opts.MaxConnsPerHost
	if maxConns <= 0 {
		maxConns = 20
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          idle * 2,
		MaxIdleConnsPerHost:   idle,
		MaxConnsPerHost:       maxConns,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
	}
	return &http.Client{Transport: transport}
}

// TransportOptions returns the pool sizing configured in c.
func (c *Config) TransportOptions() TransportOptions {
	return TransportOptions{
		MaxIdleConnsPerHost: c.MaxIdleConnsPerHost,
		MaxConnsPerHost:     c.MaxConnsPerHost,
	}
}
