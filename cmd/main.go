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
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/warden-systems/warden-core/pkg/backup"
	"github.com/warden-systems/warden-core/pkg/config"
	"github.com/warden-systems/warden-core/pkg/constants"
	"github.com/warden-systems/warden-core/pkg/version"
)

var (
	apiAddr string
	dataDir string

	rootCmd = &cobra.Command{
		Use:   "warden-core",
		Short: "Service supervision agent with state continuity",
		Long: `warden-core supervises a fleet of long-running service processes:
it starts them in dependency order, probes their health, restarts them
with exponential backoff, and keeps periodic verified backups of their
persistent state.

'warden-core run' starts the agent itself. The other subcommands talk to
a running agent over its HTTP API.`,
		Version:       version.GetAppVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api",
		fmt.Sprintf("http://127.0.0.1:%d", constants.DefaultAPIPort),
		"Base URL of the running agent's API")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", constants.DefaultDataDir,
		"Data directory, used when a command falls back to reading disk directly")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an error onto the binary's exit codes: 2 for
// configuration and validation problems (bad config, unknown backup id,
// rejected reason), 1 for everything else.
func exitCodeFor(err error) int {
	if config.IsConfigError(err) ||
		errors.Is(err, backup.ErrBackupNotFound) ||
		errors.Is(err, backup.ErrInvalidReason) {
		return 2
	}

	var apiErr *apiCallError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusNotFound, http.StatusUnprocessableEntity, http.StatusBadRequest:
			return 2
		}
	}

	return 1
}
