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

package config

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/warden-systems/warden-core/pkg/env"
	"github.com/warden-systems/warden-core/pkg/sentry"
)

// LoadConfigWithEnvOverrides loads the config file and applies environment
// variable overrides. It runs once during startup so that containerized
// deployments can configure the agent through docker -e flags.
//
// Order of precedence (highest to lowest):
// 1. Environment variables (WARDEN_METRICS_PORT, WARDEN_API_PORT,
//    WARDEN_DATA_DIR, WARDEN_LOCATION_0..6)
// 2. Existing config file values
// 3. Default values
//
// Important: This function has side effects! The resulting configuration is
// written back to the config file, so environment overrides become permanent
// and are the baseline on subsequent runs unless overridden again.
func LoadConfigWithEnvOverrides(ctx context.Context, configManager *FileConfigManagerWithBackoff, log *zap.SugaredLogger) (FullConfig, error) {
	metricsPort, err := env.GetAsInt("WARDEN_METRICS_PORT", false, 0)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get WARDEN_METRICS_PORT: %v", err)
	}

	apiPort, err := env.GetAsInt("WARDEN_API_PORT", false, 0)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get WARDEN_API_PORT: %v", err)
	}

	dataDir, err := env.GetAsString("WARDEN_DATA_DIR", false, "")
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get WARDEN_DATA_DIR: %v", err)
	}

	// Location values are numbered 0-6 and passed as WARDEN_LOCATION_0,
	// WARDEN_LOCATION_1, etc. Only set levels end up in the map so an
	// unset environment does not wipe the location from the config file.
	var locations map[int]string

	for i := 0; i <= 6; i++ {
		location, err := env.GetAsString(fmt.Sprintf("WARDEN_LOCATION_%d", i), false, "")
		if err != nil {
			sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get WARDEN_LOCATION_%d: %v", i, err)
			continue
		}

		if location == "" {
			continue
		}

		if locations == nil {
			locations = make(map[int]string)
		}

		locations[i] = location
	}

	// Build the config override structure from environment variables
	configOverride := FullConfig{
		Agent: AgentConfig{
			MetricsPort: metricsPort,
			APIPort:     apiPort,
			DataDir:     dataDir,
			Location:    locations,
		},
	}

	// Apply the environment overrides to the config
	configData, err := configManager.GetConfigWithOverwritesOrCreateNew(ctx, configOverride)
	if err != nil {
		return FullConfig{}, fmt.Errorf("failed to load config with environment overrides: %w", err)
	}

	return configData, nil
}
