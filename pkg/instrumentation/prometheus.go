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
	"strings"
	"sync"
	"time"

	"contrib.go.opencensus.io/exporter/prometheus"
	pclient "github.com/prometheus/client_golang/prometheus"
	model "github.com/prometheus/client_model/go"
	"go.opencensus.io/stats/view"
)

// PrometheusMetricsPath is the URL path for exposing metrics to Prometheus.
const PrometheusMetricsPath = "/metrics"

// dynamically registered prometheus gatherers
var dynamicGatherers = &gatherers{}

// metrics encapsulates the state of our Prometheus exporter.
type metrics struct {
	exporter *prometheus.Exporter
}

// start creates and registers the Prometheus exporter.
func (m *metrics) start(mux *serveMux, period time.Duration, export bool) error {
	if !export || mux == nil {
		log.Info("Prometheus metrics export is disabled")
		return nil
	}

	log.Info("creating Prometheus exporter...")

	exp, err := prometheus.NewExporter(prometheus.Options{
		Namespace: prometheusNamespace(ServiceName),
		Gatherer:  pclient.Gatherers{dynamicGatherers},
		OnError:   func(err error) { log.Error("%v", err) },
	})
	if err != nil {
		return instrumentationError("failed to create Prometheus exporter: %v", err)
	}

	m.exporter = exp
	mux.handle(PrometheusMetricsPath, exp)
	view.RegisterExporter(exp)
	view.SetReportingPeriod(period)

	return nil
}

// stop 'stops' the Prometheus exporter by unregistering it.
func (m *metrics) stop() {
	if m.exporter == nil {
		return
	}
	view.UnregisterExporter(m.exporter)
	m.exporter = nil
}

// prometheusNamespace mutates a service name into a valid Prometheus namespace.
func prometheusNamespace(service string) string {
	return strings.ReplaceAll(strings.ToLower(service), "-", "_")
}

// gatherers is a trivial lockable wrapper around prometheus Gatherers.
type gatherers struct {
	sync.RWMutex
	gatherers pclient.Gatherers
}

// Register registers a new gatherer.
func (g *gatherers) Register(gatherer pclient.Gatherer) {
	g.Lock()
	defer g.Unlock()
	g.gatherers = append(g.gatherers, gatherer)
}

// Gather implements the pclient.Gatherer interface.
func (g *gatherers) Gather() ([]*model.MetricFamily, error) {
	g.RLock()
	defer g.RUnlock()
	return g.gatherers.Gather()
}

// RegisterGatherer registers a new prometheus Gatherer.
func RegisterGatherer(g pclient.Gatherer) {
	dynamicGatherers.Register(g)
}
