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

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	json "github.com/goccy/go-json"

	"github.com/warden-systems/warden-core/pkg/backup"
	"github.com/warden-systems/warden-core/pkg/models"
)

// errAgentDown marks transport-level failures: nothing answered at the API
// address. Commands with a disk fallback switch to it on this error.
var errAgentDown = errors.New("agent not reachable")

// apiCallError is an HTTP-level rejection from the agent. The agent
// answered, so there is no point retrying the transport.
type apiCallError struct {
	Status    int
	Message   string
	Retryable bool
}

func (e *apiCallError) Error() string {
	return fmt.Sprintf("agent answered %d: %s", e.Status, e.Message)
}

// transportError is retried by the client; everything else is permanent.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// apiClient is a thin JSON client over the agent's HTTP API. Transport
// failures are retried briefly with exponential backoff to ride out an
// agent that is just coming up; HTTP rejections are surfaced as is.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No client-level timeout: restores run for minutes, the per-call
		// context bounds each request instead.
		http: &http.Client{},
	}
}

func (c *apiClient) status(ctx context.Context) (models.SystemStatus, error) {
	var status models.SystemStatus
	err := c.do(ctx, http.MethodGet, "/v1/status", nil, &status)

	return status, err
}

func (c *apiClient) listBackups(ctx context.Context) ([]backup.Metadata, error) {
	var backups []backup.Metadata
	err := c.do(ctx, http.MethodGet, "/v1/backups", nil, &backups)

	return backups, err
}

func (c *apiClient) createBackup(ctx context.Context, reason string) (models.CreateBackupResponse, error) {
	var resp models.CreateBackupResponse
	req := models.CreateBackupRequest{Reason: reason}
	err := c.do(ctx, http.MethodPost, "/v1/backups", &req, &resp)

	return resp, err
}

func (c *apiClient) restore(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/backups/"+id+"/restore", nil, nil)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	op := func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return &transportError{err: err}
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("reading response: %w", err))
		}

		if resp.StatusCode >= http.StatusBadRequest {
			callErr := &apiCallError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}

			var apiErr models.APIError
			if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
				callErr.Message = apiErr.Error
				callErr.Retryable = apiErr.Retryable
			}

			return backoff.Permanent(callErr)
		}

		if out != nil {
			if err := json.Unmarshal(data, out); err != nil {
				return backoff.Permanent(fmt.Errorf("decoding response: %w", err))
			}
		}

		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = time.Second
	policy.MaxElapsedTime = 3 * time.Second

	err := backoff.Retry(op, backoff.WithContext(policy, ctx))
	if err == nil {
		return nil
	}

	var tErr *transportError
	if errors.As(err, &tErr) {
		return fmt.Errorf("%w at %s: %s", errAgentDown, c.baseURL, tErr.err)
	}

	return err
}
