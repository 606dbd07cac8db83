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
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/prometheus/model/labels"
	"github.com/prometheus/prometheus/model/textparse"

	"github.com/warden-systems/warden-core/pkg/config"
	"github.com/warden-systems/warden-core/pkg/constants"
	"github.com/warden-systems/warden-core/pkg/service/filesystem"
	"github.com/warden-systems/warden-core/pkg/service/httpclient"
	"github.com/warden-systems/warden-core/pkg/service/process"
)

// probeTimeout returns the configured per-probe timeout or the default when
// the spec leaves it unset.
func probeTimeout(spec config.ProbeConfig) time.Duration {
	if spec.Timeout.AsDuration() > 0 {
		return spec.Timeout.AsDuration()
	}

	return constants.DefaultProbeTimeout
}

// newResult stamps a verdict with the probe's start time and latency.
func newResult(verdict Verdict, detail string, start time.Time) Result {
	return Result{
		Verdict: verdict,
		Detail:  detail,
		Latency: time.Since(start),
		At:      start,
	}
}

// processProber checks that the supervised process itself is up. It is the
// fallback for services that expose no network surface to probe.
type processProber struct {
	name        string
	procService process.Service
	fsService   filesystem.Service
}

// NewProcessProber returns a prober that reports the liveness of the named
// service as seen by the process service.
func NewProcessProber(name string, procService process.Service, fsService filesystem.Service) Prober {
	return &processProber{
		name:        name,
		procService: procService,
		fsService:   fsService,
	}
}

func (p *processProber) Probe(ctx context.Context, spec config.ProbeConfig) Result {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, probeTimeout(spec))
	defer cancel()

	info, err := p.procService.Status(ctx, p.name, p.fsService)
	if err != nil {
		if errors.Is(err, process.ErrServiceNotExist) {
			return newResult(Unhealthy, "process is not registered", start)
		}

		return newResult(ProbeError, fmt.Sprintf("status check failed: %s", err), start)
	}

	if info.Status != process.ServiceUp {
		return newResult(Unhealthy, fmt.Sprintf("process is %s", info.Status), start)
	}

	return newResult(Healthy, fmt.Sprintf("pid %d up for %ds", info.Pid, info.Uptime), start)
}

// httpProber expects a 2xx answer from the configured endpoint.
type httpProber struct {
	client httpclient.HTTPClient
}

// NewHTTPProber returns a prober that GETs the spec's endpoint.
func NewHTTPProber(client httpclient.HTTPClient) Prober {
	return &httpProber{client: client}
}

func (p *httpProber) Probe(ctx context.Context, spec config.ProbeConfig) Result {
	start := time.Now()

	if spec.Endpoint == "" {
		return newResult(ProbeError, "no endpoint configured", start)
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout(spec))
	defer cancel()

	resp, _, err := p.client.GetWithBody(ctx, spec.Endpoint)
	if err != nil {
		return newResult(ProbeError, fmt.Sprintf("GET %s: %s", spec.Endpoint, err), start)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newResult(Unhealthy, fmt.Sprintf("GET %s returned %d", spec.Endpoint, resp.StatusCode), start)
	}

	return newResult(Healthy, fmt.Sprintf("GET %s returned %d", spec.Endpoint, resp.StatusCode), start)
}

// tcpProber expects a successful connect to the configured address.
type tcpProber struct {
	dialer net.Dialer
}

// NewTCPProber returns a prober that dials the spec's address.
func NewTCPProber() Prober {
	return &tcpProber{}
}

func (p *tcpProber) Probe(ctx context.Context, spec config.ProbeConfig) Result {
	start := time.Now()

	if spec.Address == "" {
		return newResult(ProbeError, "no address configured", start)
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout(spec))
	defer cancel()

	conn, err := p.dialer.DialContext(ctx, "tcp", spec.Address)
	if err != nil {
		return newResult(Unhealthy, fmt.Sprintf("dial %s: %s", spec.Address, err), start)
	}
	_ = conn.Close()

	return newResult(Healthy, fmt.Sprintf("connected to %s", spec.Address), start)
}

// metricsProber scrapes a Prometheus text exposition endpoint. The scrape
// passes when the payload parses and contains at least one series; when the
// spec names a metric, that series must also be present with a nonzero
// value, which lets a service publish its own readiness as a gauge.
type metricsProber struct {
	client httpclient.HTTPClient
}

// NewMetricsProber returns a prober that scrapes the spec's endpoint.
func NewMetricsProber(client httpclient.HTTPClient) Prober {
	return &metricsProber{client: client}
}

func (p *metricsProber) Probe(ctx context.Context, spec config.ProbeConfig) Result {
	start := time.Now()

	if spec.Endpoint == "" {
		return newResult(ProbeError, "no endpoint configured", start)
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout(spec))
	defer cancel()

	resp, body, err := p.client.GetWithBody(ctx, spec.Endpoint)
	if err != nil {
		return newResult(ProbeError, fmt.Sprintf("scrape %s: %s", spec.Endpoint, err), start)
	}

	if resp.StatusCode != http.StatusOK {
		return newResult(Unhealthy, fmt.Sprintf("scrape %s returned %d", spec.Endpoint, resp.StatusCode), start)
	}

	series, value, found, err := scanSeries(body, spec.Metric)
	if err != nil {
		return newResult(Unhealthy, fmt.Sprintf("exposition from %s is not parseable: %s", spec.Endpoint, err), start)
	}

	if series == 0 {
		return newResult(Unhealthy, fmt.Sprintf("exposition from %s contains no series", spec.Endpoint), start)
	}

	if spec.Metric != "" {
		if !found {
			return newResult(Unhealthy, fmt.Sprintf("metric %s missing from %s", spec.Metric, spec.Endpoint), start)
		}
		if value == 0 {
			return newResult(Unhealthy, fmt.Sprintf("metric %s is zero", spec.Metric), start)
		}

		return newResult(Healthy, fmt.Sprintf("metric %s = %g", spec.Metric, value), start)
	}

	return newResult(Healthy, fmt.Sprintf("scraped %d series", series), start)
}

// scanSeries walks a Prometheus text exposition, counting the series it
// contains and capturing the last sample of the named metric when name is
// nonempty. The name match is on the bare metric id, labels are ignored.
func scanSeries(b []byte, name string) (int, float64, bool, error) {
	var (
		count int
		value float64
		found bool
	)

	p := textparse.NewPromParser(b, labels.NewSymbolTable(), false)

	for {
		typ, err := p.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, value, found, fmt.Errorf("iterating metric stream: %w", err)
		}
		if typ != textparse.EntrySeries {
			continue
		}

		count++

		seriesBytes, _, val := p.Series()
		if name != "" && seriesName(seriesBytes) == name {
			value = val
			found = true
		}
	}

	return count, value, found, nil
}

// seriesName strips the label set from a series id.
func seriesName(b []byte) string {
	if i := bytes.IndexByte(b, '{'); i > 0 {
		return string(b[:i])
	}

	return string(b)
}
