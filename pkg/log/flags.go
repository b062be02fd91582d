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

package log

import (
	"flag"
	"strings"
)

// debugFlags tracks the sources debugging is requested for on the command
// line. The special source '*' or 'all' turns debugging on for every source.
type debugFlags struct {
	all     bool
	sources map[string]struct{}
}

var defaultDebugFlags = &debugFlags{sources: make(map[string]struct{})}

// String returns the flag value as a comma-separated source list.
func (f *debugFlags) String() string {
	if f.all {
		return "all"
	}
	sources := make([]string, 0, len(f.sources))
	for source := range f.sources {
		sources = append(sources, source)
	}
	return strings.Join(sources, ",")
}

// Set parses a comma-separated source list, turning debugging on for each.
func (f *debugFlags) Set(value string) error {
	for _, source := range strings.Split(value, ",") {
		source = strings.TrimSpace(source)
		switch source {
		case "":
		case "*", "all":
			f.all = true
		default:
			f.sources[source] = struct{}{}
		}
	}

	// update any loggers registered before flag parsing
	log.Lock()
	defer log.Unlock()
	for source, l := range log.loggers {
		if f.all {
			l.debug = true
		} else if _, ok := f.sources[source]; ok {
			l.debug = true
		}
	}

	return nil
}

// enabled checks whether debugging was requested for the given source.
func (f *debugFlags) enabled(source string) bool {
	if f.all {
		return true
	}
	_, ok := f.sources[source]
	return ok
}

func init() {
	flag.Var(defaultDebugFlags, "logger-debug",
		"comma-separated list of sources to enable debug logging for, or 'all'")
}
