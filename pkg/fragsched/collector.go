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

package fragsched

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/intel/fragsched/pkg/metrics"
)

var (
	epochsDesc = prometheus.NewDesc(
		"fragsched_epochs_total",
		"Number of processed epochs.",
		nil, nil)
	migrationsDesc = prometheus.NewDesc(
		"fragsched_migrations_total",
		"Number of fragment migrations by result.",
		[]string{"result"}, nil)
	promotionsDesc = prometheus.NewDesc(
		"fragsched_promotions_total",
		"Number of fragments promoted to the fast node.",
		nil, nil)
	evictionsDesc = prometheus.NewDesc(
		"fragsched_evictions_total",
		"Number of fragments evicted to the fallback node.",
		nil, nil)
	bytesMovedDesc = prometheus.NewDesc(
		"fragsched_migrated_bytes_total",
		"Total committed migration payload in bytes.",
		nil, nil)
	unplacedDesc = prometheus.NewDesc(
		"fragsched_unplaced_fragments",
		"Number of fragments the last planning pass left without a node.",
		nil, nil)
	residentDesc = prometheus.NewDesc(
		"fragsched_resident_fragments",
		"Number of fragments resident on a node.",
		[]string{"node"}, nil)
	budgetUsedDesc = prometheus.NewDesc(
		"fragsched_node_budget_used",
		"Budget currently consumed on a node.",
		[]string{"node"}, nil)
)

// collector exposes scheduler statistics and, when a residency map has
// been attached with WatchResidency, per-node residency as Prometheus
// metrics.
type collector struct {
	sync.Mutex
	residency *ResidencyMap
}

var sharedCollector = &collector{}

// WatchResidency attaches the given residency map to the metrics collector.
func WatchResidency(m *ResidencyMap) {
	sharedCollector.Lock()
	defer sharedCollector.Unlock()
	sharedCollector.residency = m
}

// Describe implements prometheus.Collector.
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- epochsDesc
	ch <- migrationsDesc
	ch <- promotionsDesc
	ch <- evictionsDesc
	ch <- bytesMovedDesc
	ch <- unplacedDesc
	ch <- residentDesc
	ch <- budgetUsedDesc
}

// Collect implements prometheus.Collector.
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	s := GetStatistics()

	ch <- prometheus.MustNewConstMetric(epochsDesc, prometheus.CounterValue, float64(s.Epochs))
	ch <- prometheus.MustNewConstMetric(migrationsDesc, prometheus.CounterValue,
		float64(s.MigrationsCommitted), "committed")
	ch <- prometheus.MustNewConstMetric(migrationsDesc, prometheus.CounterValue,
		float64(s.MigrationsFailed), "failed")
	ch <- prometheus.MustNewConstMetric(promotionsDesc, prometheus.CounterValue, float64(s.Promotions))
	ch <- prometheus.MustNewConstMetric(evictionsDesc, prometheus.CounterValue, float64(s.Evictions))
	ch <- prometheus.MustNewConstMetric(bytesMovedDesc, prometheus.CounterValue, float64(s.BytesMoved))
	ch <- prometheus.MustNewConstMetric(unplacedDesc, prometheus.GaugeValue, float64(s.Unplaced))

	c.Lock()
	residency := c.residency
	c.Unlock()
	if residency == nil {
		return
	}
	for _, node := range residency.Nodes() {
		ch <- prometheus.MustNewConstMetric(residentDesc, prometheus.GaugeValue,
			float64(len(residency.ResidentOn(node))), node)
		ch <- prometheus.MustNewConstMetric(budgetUsedDesc, prometheus.GaugeValue,
			residency.UsedBudget(node), node)
	}
}

func init() {
	err := metrics.RegisterCollector("fragsched", func() (prometheus.Collector, error) {
		return sharedCollector, nil
	})
	if err != nil {
		log.Error("failed to register fragsched metrics collector: %v", err)
	}
}
