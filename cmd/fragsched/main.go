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

package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	"go.opencensus.io/trace"

	"github.com/intel/fragsched/pkg/fragsched"
	"github.com/intel/fragsched/pkg/instrumentation"
	logger "github.com/intel/fragsched/pkg/log"
	"github.com/intel/fragsched/pkg/metrics"
	"github.com/intel/fragsched/pkg/pidfile"
	"github.com/intel/fragsched/pkg/pmengine"
	_ "github.com/intel/fragsched/pkg/version"
)

func main() {
	log := logger.Default()

	flag.Parse()

	if len(flag.Args()) != 0 {
		log.Error("unknown command-line arguments: %s", strings.Join(flag.Args(), ","))
		flag.Usage()
		os.Exit(1)
	}
	if opt.Descriptor == "" {
		log.Error("missing -descriptor")
		flag.Usage()
		os.Exit(1)
	}

	if pid, err := pidfile.OwnerPid(); err != nil {
		log.Fatal("failed to check PID file %s: %v", pidfile.GetPath(), err)
	} else if pid > 0 {
		log.Fatal("another instance is already running with PID %d", pid)
	}
	if err := pidfile.Write(); err != nil {
		log.Fatal("%v", err)
	}
	defer pidfile.Remove()

	if err := instrumentation.Setup("fragsched"); err != nil {
		log.Fatal("failed to set up instrumentation: %v", err)
	}
	defer instrumentation.Finish()

	descriptor, err := fragsched.LoadDescriptor(opt.Descriptor)
	if err != nil {
		log.Fatal("%v", err)
	}
	if len(descriptor.Nodes) == 0 {
		log.Fatal("descriptor %q has no nodes", opt.Descriptor)
	}

	fallbackNode := opt.FallbackNode
	if fallbackNode == "" {
		fallbackNode = descriptor.Nodes[0].ID
	}
	fastNode := opt.FastNode
	if fastNode == "" {
		fastNode = fallbackNode
		if len(descriptor.Nodes) > 1 {
			fastNode = descriptor.Nodes[1].ID
		}
	}

	planner := fragsched.NewPlanner(nil)
	if opt.PlannerConfig != "" {
		if err := planner.SetConfigJson(opt.PlannerConfig); err != nil {
			log.Fatal("%v", err)
		}
	}

	ctx, span := trace.StartSpan(context.Background(), "fragsched/plan")
	plan := planner.Plan(descriptor.Fragments, descriptor.Nodes)
	span.End()

	fragsched.RecordUnplaced(len(plan.Unplaced))
	log.Info("planned placement of %d fragments on %d nodes, %d unplaced",
		len(plan.Assignments), len(descriptor.Nodes), len(plan.Unplaced))

	residency := fragsched.NewResidencyMap(descriptor.Nodes)
	fragsched.WatchResidency(residency)

	engine, err := pmengine.NewEngine(nil, func(id string) (int64, bool) {
		f, ok := descriptor.Fragment(id)
		if !ok {
			return 0, false
		}
		return f.Size, true
	})
	if err != nil {
		log.Fatal("failed to create transfer engine: %v", err)
	}
	defer engine.Stop()

	transport := fragsched.NewTimeoutTransport(engine, opt.MigrationTimeout)

	controller, err := fragsched.NewController(nil, planner, residency, transport,
		fastNode, fallbackNode)
	if err != nil {
		log.Fatal("failed to create residency controller: %v", err)
	}
	if opt.ControllerConfig != "" {
		if err := controller.SetConfigJson(opt.ControllerConfig); err != nil {
			log.Fatal("%v", err)
		}
	}

	for _, f := range descriptor.Fragments {
		node, ok := plan.Placed(f.ID)
		if !ok {
			node = fallbackNode
		}
		if err := controller.AddFragment(f, node); err != nil {
			log.Warn("failed to seed %s on node %s: %v", f.String(), node, err)
		}
	}

	if gatherer, err := metrics.NewMetricGatherer(); err == nil {
		instrumentation.RegisterGatherer(gatherer)
	} else {
		log.Warn("failed to set up metrics gathering: %v", err)
	}

	pattern := newAccessPattern(descriptor.Fragments, opt.AccessesPerEpoch, opt.Seed)

	ticker := time.NewTicker(opt.EpochInterval)
	defer ticker.Stop()

	for epoch := 0; opt.Epochs == 0 || epoch < opt.Epochs; epoch++ {
		<-ticker.C

		accessed := pattern.sample(func(id string) float64 {
			hotness, _ := controller.Hotness(id)
			return hotness
		})

		stepCtx, span := trace.StartSpan(ctx, "fragsched/epoch")
		report, err := controller.Step(stepCtx, accessed)
		span.End()

		if err != nil {
			if fragsched.IsInvariantError(err) {
				log.Fatal("%v", err)
			}
			log.Warn("epoch %d completed with failures: %v", report.Epoch, err)
		}
	}

	s := fragsched.GetStatistics()
	log.Info("done: %d epochs, %d promotions, %d evictions, %d/%d migrations committed, %d bytes moved",
		s.Epochs, s.Promotions, s.Evictions, s.MigrationsCommitted, s.MigrationsRequested,
		s.BytesMoved)
}
