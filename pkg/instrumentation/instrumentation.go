// Copyright 2022 Intel Corporation. All Rights Reserved.
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

package instrumentation

import (
	"fmt"
	"sync"

	logger "github.com/intel/fragsched/pkg/log"
)

// ServiceName is our service name in external tracing and metrics services.
var ServiceName = "fragsched"

// Our logger instance.
var log = logger.NewLogger("instrumentation")

// service is the state of our instrumentation: HTTP endpoint and exporters.
type service struct {
	sync.Mutex
	http    *httpServer
	tracing *tracing
	metrics *metrics
	started bool
}

var svc = &service{
	http:    newHTTPServer(),
	tracing: &tracing{},
	metrics: &metrics{},
}

// Setup sets up instrumentation for the named service and starts it.
func Setup(name string) error {
	if name != "" {
		ServiceName = name
	}
	return Start()
}

// Start starts our instrumentation services.
func Start() error {
	svc.Lock()
	defer svc.Unlock()

	if svc.started {
		return nil
	}

	log.Info("starting instrumentation services...")

	if err := svc.http.start(opt.HTTPEndpoint); err != nil {
		return instrumentationError("failed to start HTTP server: %v", err)
	}
	if err := svc.tracing.start(opt.JaegerAgent, opt.JaegerCollector, opt.Sampling); err != nil {
		svc.http.stop()
		return instrumentationError("failed to start tracing: %v", err)
	}
	if err := svc.metrics.start(svc.http.mux, opt.ReportPeriod, opt.PrometheusExport); err != nil {
		svc.tracing.stop()
		svc.http.stop()
		return instrumentationError("failed to start metrics: %v", err)
	}

	svc.started = true

	return nil
}

// Stop stops our instrumentation services.
func Stop() {
	svc.Lock()
	defer svc.Unlock()

	if !svc.started {
		return
	}

	svc.metrics.stop()
	svc.tracing.stop()
	svc.http.stop()
	svc.started = false
}

// Finish shuts instrumentation down, flushing any pending data.
func Finish() {
	Stop()
}

// TracingEnabled returns true if the tracing sampler is not disabled.
func TracingEnabled() bool {
	return float64(opt.Sampling) > 0.0
}

// HTTPEndpoint returns the address our HTTP server is listening on.
func HTTPEndpoint() string {
	return svc.http.endpoint()
}

// instrumentationError produces a formatted package-specific error.
func instrumentationError(format string, args ...interface{}) error {
	return fmt.Errorf("instrumentation: "+format, args...)
}
