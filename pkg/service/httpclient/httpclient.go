// Copyright 2026 Warden Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpclient wraps HTTP access for the health probes. Probes run on
// every loop pass against services on the same machine, so connections are
// pooled aggressively and timeouts derive from the caller's deadline rather
// than fixed client-wide values.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/warden-systems/warden-core/pkg/ctxutil"
	"github.com/warden-systems/warden-core/pkg/logger"
	"github.com/warden-systems/warden-core/pkg/sentry"
)

var (
	// defaultTransport is a shared transport with connection pooling
	defaultTransport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   50 * time.Millisecond,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   50 * time.Millisecond,
		ExpectContinueTimeout: 100 * time.Millisecond,
		// More than the default 2: every supervised service gets probed
		// against the same handful of local hosts.
		MaxIdleConnsPerHost: 10,
		// Probe payloads are small, compression would only add latency.
		DisableCompression: true,
	}

	// sharedClient is a reusable client for quick local requests
	sharedClient = &http.Client{
		Transport: defaultTransport,
		Timeout:   1 * time.Second,
	}
)

// HTTPClient interface for making HTTP requests
type HTTPClient interface {
	// Do executes an HTTP request and returns the response
	Do(req *http.Request) (*http.Response, error)

	// GetWithBody performs a GET request and returns the response together
	// with the fully read body
	GetWithBody(ctx context.Context, url string) (*http.Response, []byte, error)
}

// DefaultHTTPClient is the default implementation of HTTPClient
type DefaultHTTPClient struct {
	logger *zap.SugaredLogger
}

// NewDefaultHTTPClient creates a new DefaultHTTPClient
func NewDefaultHTTPClient() *DefaultHTTPClient {
	return &DefaultHTTPClient{
		logger: logger.For("HTTPClient"),
	}
}

// Do executes the request. Local requests without a deadline go through the
// shared pooled client; everything else gets a client whose timeouts are
// carved out of the context deadline.
func (c *DefaultHTTPClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	_, hasDeadline := ctx.Deadline()
	if !hasDeadline && isLocalRequest(req.URL.Host) {
		return sharedClient.Do(req)
	}

	client, err := c.createClientFromContext(ctx)
	if err != nil {
		return nil, err
	}

	return client.Do(req)
}

// isLocalRequest checks if the host is a localhost or loopback address
func isLocalRequest(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "[::1]" || host == ""
}

// createClientFromContext creates an HTTP client with timeouts derived from
// the context deadline, so a probe can never outlive the loop pass that
// issued it.
func (c *DefaultHTTPClient) createClientFromContext(ctx context.Context) (*http.Client, error) {
	remaining, _, err := ctxutil.HasSufficientTime(ctx, time.Millisecond)
	if err != nil {
		if errors.Is(err, ctxutil.ErrNoDeadline) {
			return nil, fmt.Errorf("no deadline set in context")
		}
		// Whatever time remains still gets a client.
		c.logger.Warnf("Creating HTTP client with limited time: %v", err)
	}

	timeout := remaining

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout / 2,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       timeout / 4,
		TLSHandshakeTimeout:   timeout / 4,
		ExpectContinueTimeout: timeout / 4,
		ResponseHeaderTimeout: timeout / 2,
		MaxIdleConnsPerHost:   10,
		DisableCompression:    true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}

// GetWithBody performs a GET request and returns the response with body
func (c *DefaultHTTPClient) GetWithBody(ctx context.Context, url string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request for %s: %w", url, err)
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to execute request for %s: %w", url, err)
	}
	if resp == nil {
		return nil, nil, fmt.Errorf("received nil response for %s", url)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			sentry.ReportIssuef(sentry.IssueTypeError, c.logger, "failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, fmt.Errorf("failed to read response body for %s: %w", url, err)
	}

	return resp, body, nil
}
