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
	"flag"
	"time"

	"github.com/intel/fragsched/pkg/pidfile"
)

// options captures our command line configurable parameters.
type options struct {
	Descriptor       string
	FastNode         string
	FallbackNode     string
	EpochInterval    time.Duration
	Epochs           int
	AccessesPerEpoch int
	Seed             int64
	MigrationTimeout time.Duration
	PlannerConfig    string
	ControllerConfig string
}

// Our command line options with their defaults.
var opt = options{
	EpochInterval:    time.Second,
	Epochs:           0,
	AccessesPerEpoch: 8,
	Seed:             1,
	MigrationTimeout: 30 * time.Second,
}

func init() {
	flag.StringVar(&opt.Descriptor, "descriptor", "",
		"path of the fragment/node descriptor file (JSON or YAML)")
	flag.StringVar(&opt.FastNode, "fast-node", "",
		"node hot fragments are promoted to, defaults to the second descriptor node")
	flag.StringVar(&opt.FallbackNode, "fallback-node", "",
		"node evicted fragments fall back to, defaults to the first descriptor node")
	flag.DurationVar(&opt.EpochInterval, "epoch-interval", opt.EpochInterval,
		"wall clock duration of one epoch")
	flag.IntVar(&opt.Epochs, "epochs", opt.Epochs,
		"number of epochs to run, 0 to run until terminated")
	flag.IntVar(&opt.AccessesPerEpoch, "accesses-per-epoch", opt.AccessesPerEpoch,
		"number of synthetic fragment accesses generated per epoch")
	flag.Int64Var(&opt.Seed, "seed", opt.Seed,
		"random seed of the synthetic access pattern")
	flag.DurationVar(&opt.MigrationTimeout, "migration-timeout", opt.MigrationTimeout,
		"bounded wait after which a non-responding migration counts as failed")
	flag.StringVar(&opt.PlannerConfig, "planner-config", "",
		"JSON planner configuration overrides")
	flag.StringVar(&opt.ControllerConfig, "controller-config", "",
		"JSON controller configuration overrides")
	flag.Var(pidFileFlag{}, "pid-file",
		"PID file path, used to keep a single running instance")
}

// pidFileFlag plugs the pidfile package path into our flag set.
type pidFileFlag struct{}

func (pidFileFlag) String() string { return pidfile.GetPath() }
func (pidFileFlag) Set(value string) error {
	pidfile.SetPath(value)
	return nil
}
