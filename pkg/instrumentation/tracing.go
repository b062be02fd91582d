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
	"strconv"
	"strings"

	"contrib.go.opencensus.io/exporter/jaeger"
	"go.opencensus.io/trace"
)

// Sampling defines how often trace samples are taken.
type Sampling float64

const (
	// Disabled is the trace configuration for disabling tracing.
	Disabled Sampling = 0.0
	// Production is a trace configuration for production use.
	Production Sampling = 0.1
	// Testing is a trace configuration for testing.
	Testing Sampling = 1.0
)

// Parse parses the given string to a Sampling value.
func (s *Sampling) Parse(value string) error {
	switch strings.ToLower(value) {
	case "disabled":
		*s = Disabled
	case "production":
		*s = Production
	case "testing":
		*s = Testing
	default:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return instrumentationError("invalid sampling value %q: %v", value, err)
		}
		if f < 0.0 || f > 1.0 {
			return instrumentationError("sampling value %q out of range 0.0 - 1.0", value)
		}
		*s = Sampling(f)
	}
	return nil
}

// String returns the Sampling value as a string.
func (s Sampling) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Production:
		return "production"
	case Testing:
		return "testing"
	}
	return strconv.FormatFloat(float64(s), 'f', -1, 64)
}

// Sampler returns a trace sampler corresponding to the Sampling value.
func (s Sampling) Sampler() trace.Sampler {
	switch {
	case s <= 0.0:
		return trace.NeverSample()
	case s >= 1.0:
		return trace.AlwaysSample()
	}
	return trace.ProbabilitySampler(float64(s))
}

// tracing encapsulates the state of our Jaeger exporter.
type tracing struct {
	exporter *jaeger.Exporter
}

// start starts our Jaeger exporter.
func (t *tracing) start(agent, collector string, sampling Sampling) error {
	if agent == "" && collector == "" {
		log.Info("Jaeger trace exporter is disabled")
		return nil
	}

	log.Info("creating Jaeger trace exporter...")

	exp, err := jaeger.NewExporter(jaeger.Options{
		CollectorEndpoint: collector,
		AgentEndpoint:     agent,
		Process:           jaeger.Process{ServiceName: ServiceName},
		OnError:           func(err error) { log.Error("jaeger error: %v", err) },
	})
	if err != nil {
		return instrumentationError("failed to create Jaeger trace exporter: %v", err)
	}

	t.exporter = exp
	trace.RegisterExporter(t.exporter)
	trace.ApplyConfig(trace.Config{DefaultSampler: sampling.Sampler()})

	return nil
}

// stop stops our Jaeger exporter.
func (t *tracing) stop() {
	if t.exporter == nil {
		return
	}

	log.Info("stopping Jaeger trace exporter...")

	trace.UnregisterExporter(t.exporter)
	t.exporter = nil
}
