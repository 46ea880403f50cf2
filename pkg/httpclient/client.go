// Package httpclient provides a unified HTTP client factory with consistent
// timeout, retry, and logging behavior for the remote services statscouncil
// talks to (the inference gateway and the code-execution sandbox).
//
// The client factory composes transport layers to provide:
//   - Optional retries with exponential backoff and jitter (idempotent methods)
//   - Request logging with sanitized URLs (sensitive params redacted)
//   - User-Agent header injection
//   - TLS 1.2+ with secure defaults
//   - Connection pooling
//
// Example usage:
//
//	cfg := httpclient.DefaultConfig()
//	cfg.UserAgent = "statscouncil-openrouter/1.0"
//	client, err := httpclient.New(cfg)
//	if err != nil {
//	    return err
//	}
package httpclient

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// New creates a new HTTP client with the given configuration.
// Returns an error if the configuration is invalid.
func New(cfg Config) (*http.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseTransport := &http.Transport{
		// TLS configuration: 1.2 minimum, 1.3 preferred
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			MaxVersion: tls.VersionTLS13,
		},

		// Connection pooling settings
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,

		// Timeouts
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	// Innermost custom layer: logs requests and sets User-Agent.
	loggingTrans := newLoggingTransport(baseTransport, cfg.UserAgent)

	// Outermost custom layer: retries with exponential backoff, only when
	// enabled. Model completion calls run with RetryAttempts=0 so that a
	// failed stage is surfaced to the user instead of silently re-sent.
	var finalTransport http.RoundTripper = loggingTrans
	if cfg.RetryAttempts > 0 {
		finalTransport = newRetryTransport(loggingTrans, cfg)
	}

	return &http.Client{
		Transport: finalTransport,
		Timeout:   cfg.Timeout,
	}, nil
}
