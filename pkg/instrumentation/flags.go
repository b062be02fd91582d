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
	"flag"
	"time"
)

// options encapsulates our configurable instrumentation parameters.
type options struct {
	// Sampling is the sampling frequency for traces.
	Sampling Sampling
	// ReportPeriod is the OpenCensus view reporting period.
	ReportPeriod time.Duration
	// JaegerCollector is the URL of the Jaeger HTTP Thrift collector.
	JaegerCollector string
	// JaegerAgent is the address of a Jaeger agent to send spans to.
	JaegerAgent string
	// HTTPEndpoint is the address to serve Prometheus /metrics on.
	HTTPEndpoint string
	// PrometheusExport defines whether we export /metrics for Prometheus.
	PrometheusExport bool
}

// Our instrumentation options with their defaults.
var opt = options{
	Sampling:     Disabled,
	ReportPeriod: 15 * time.Second,
}

// samplingValue adapts Sampling to the flag.Value interface.
type samplingValue struct{ s *Sampling }

func (v samplingValue) String() string {
	if v.s == nil {
		return ""
	}
	return v.s.String()
}

func (v samplingValue) Set(value string) error {
	return v.s.Parse(value)
}

func init() {
	flag.Var(samplingValue{&opt.Sampling}, "trace",
		"tracing sampling frequency: disabled, production, testing, or a ratio in 0.0 - 1.0")
	flag.DurationVar(&opt.ReportPeriod, "trace-report-period", opt.ReportPeriod,
		"OpenCensus view reporting period")
	flag.StringVar(&opt.JaegerCollector, "trace-jaeger-collector", "",
		"Jaeger HTTP Thrift collector URL to export trace spans to")
	flag.StringVar(&opt.JaegerAgent, "trace-jaeger-agent", "",
		"Jaeger agent address to export trace spans to")
	flag.StringVar(&opt.HTTPEndpoint, "instrumentation-http-endpoint", "",
		"address to serve instrumentation HTTP requests on, empty to disable")
	flag.BoolVar(&opt.PrometheusExport, "metrics-export", false,
		"export metrics for Prometheus on the instrumentation HTTP endpoint")
}
