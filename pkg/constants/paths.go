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

package constants

import "os"

const (
	// DefaultDataDir is the persistent data mount. Everything warden-core
	// writes (config, state, backups, pid files) lives below it.
	DefaultDataDir = "/data"

	// DefaultConfigPath is the location of the agent configuration file.
	DefaultConfigPath = DefaultDataDir + "/config.yaml"

	// StateDirName is the directory below the data dir that holds the
	// state-file tree owned by the supervised services.
	StateDirName = "state"

	// StoreFileName is the structured store file below the data dir.
	// Its schema belongs to the services; warden-core only copies it.
	StoreFileName = "store.db"

	// BackupsDirName is the directory below the data dir that holds backups.
	BackupsDirName = "backups"

	// RunDirName is the directory below the data dir for pid files.
	RunDirName = "run"

	// LogsDirName is the directory below the data dir holding per-service
	// log directories.
	LogsDirName = "logs"

	// DirPermissions is the mode for directories created by the agent.
	DirPermissions os.FileMode = 0o755

	// FilePermissions is the mode for files written by the agent.
	FilePermissions os.FileMode = 0o644
)
