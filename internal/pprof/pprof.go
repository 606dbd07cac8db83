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

package pprof

import (
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/warden-systems/warden-core/pkg/env"
	"github.com/warden-systems/warden-core/pkg/logger"
)

// StartPprofServer starts the pprof HTTP server on localhost when
// ENABLE_PPROF is set. It never blocks and never takes the agent down.
func StartPprofServer() {
	log := logger.For(logger.ComponentCore)

	enabled, err := env.GetAsBool("ENABLE_PPROF", false, false)
	if err != nil || !enabled {
		return
	}

	addr, err := env.GetAsString("PPROF_ADDR", false, "localhost:6060")
	if err != nil {
		addr = "localhost:6060"
	}

	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 3 * time.Second,
		Handler:           http.DefaultServeMux,
	}

	go func() {
		log.Infof("pprof server listening on %s", addr)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warnf("pprof server stopped: %s", err)
		}
	}()
}
