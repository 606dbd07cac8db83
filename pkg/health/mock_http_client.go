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

package health

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// MockHTTPClient is a canned-response implementation of the HTTP client
// interface for probe tests.
type MockHTTPClient struct {
	// ResponseMap maps request paths to their mock responses.
	ResponseMap map[string]MockResponse
}

// MockResponse is one canned HTTP response.
type MockResponse struct {
	StatusCode int
	Body       []byte
	// Delay postpones the response, simulating a slow endpoint for timeout
	// tests. The request context is honored while waiting.
	Delay time.Duration
	// Err is returned instead of a response when set, simulating a
	// transport-level failure.
	Err error
}

// NewMockHTTPClient returns a mock client with no configured responses.
// Requests for unconfigured paths answer 404.
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{
		ResponseMap: make(map[string]MockResponse),
	}
}

// SetResponse sets the canned response for a request path.
func (m *MockHTTPClient) SetResponse(path string, response MockResponse) {
	m.ResponseMap[path] = response
}

// SetGaugeResponse publishes a text exposition of the given gauges at the
// path. The payload is built through the canonical expfmt encoder so it
// matches what a real exporter produces.
func (m *MockHTTPClient) SetGaugeResponse(path string, gauges map[string]float64) {
	names := make([]string, 0, len(gauges))
	for name := range gauges {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	for _, name := range names {
		_, _ = expfmt.MetricFamilyToText(&buf, createGaugeFamily(name, gauges[name]))
	}

	m.ResponseMap[path] = MockResponse{
		StatusCode: http.StatusOK,
		Body:       buf.Bytes(),
	}
}

func createGaugeFamily(name string, value float64) *dto.MetricFamily {
	typ := dto.MetricType_GAUGE
	help := "mock gauge"

	return &dto.MetricFamily{
		Name: &name,
		Help: &help,
		Type: &typ,
		Metric: []*dto.Metric{{
			Gauge: &dto.Gauge{Value: &value},
		}},
	}
}

// Do implements the HTTP client interface against the response map.
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	resp, ok := m.ResponseMap[req.URL.Path]
	if !ok {
		return &http.Response{
			StatusCode: http.StatusNotFound,
			Body:       io.NopCloser(bytes.NewReader([]byte("not found"))),
		}, nil
	}

	if resp.Delay > 0 {
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(resp.Delay):
		}
	}

	if resp.Err != nil {
		return nil, resp.Err
	}

	return &http.Response{
		StatusCode: resp.StatusCode,
		Body:       io.NopCloser(bytes.NewReader(resp.Body)),
	}, nil
}

// GetWithBody performs a mock GET and returns the response with its body.
func (m *MockHTTPClient) GetWithBody(ctx context.Context, url string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request for %s: %w", url, err)
	}

	resp, err := m.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to execute request for %s: %w", url, err)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, fmt.Errorf("failed to read response body for %s: %w", url, err)
	}
	_ = resp.Body.Close()

	resp.Body = io.NopCloser(bytes.NewReader(body))

	return resp, body, nil
}
